package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog/hlog"

	"attendance/pkg/types"
)

type contextKey int

const principalContextKey contextKey = iota

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *types.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the authenticated caller, or nil.
func PrincipalFromContext(ctx context.Context) *types.Principal {
	p, _ := ctx.Value(principalContextKey).(*types.Principal)
	return p
}

// RequireRole fails with ErrWrongRole unless p holds one of roles.
func RequireRole(p *types.Principal, roles ...string) error {
	if p == nil {
		return ErrMissingToken
	}
	if !slices.Contains(roles, p.Role) {
		return ErrWrongRole
	}
	return nil
}

// Middleware verifies the bearer token and stores the principal in the
// request context. Browsers cannot set headers on websocket upgrades, so an
// access_token query parameter is accepted as well. Failures go to onError.
func (t *Tokens) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := t.Verify(extractBearerToken(r))
			if err != nil {
				hlog.FromRequest(r).Warn().Err(err).Msg("Request not authenticated")
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}
