// Package checkin implements the participant side of the protocol on the
// server: resolving a join code to its open session and recording an
// attendance mark from a verified capture.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"attendance/internal/telemetry"
	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

// Resolver maps a join code to the one open session carrying it.
type Resolver struct {
	store      interfaces.Store
	limiter    *Limiter
	codeLength int
	now        func() time.Time
	metrics    *telemetry.Metrics
}

// NewResolver creates a resolver. A nil limiter disables throttling.
func NewResolver(store interfaces.Store, limiter *Limiter, codeLength int, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	if limiter == nil {
		limiter = NewLimiter(0, now)
	}
	return &Resolver{
		store:      store,
		limiter:    limiter,
		codeLength: codeLength,
		now:        now,
		metrics:    telemetry.GetMetrics(),
	}
}

// Resolve returns the open session whose code matches. Wrong codes, closed
// sessions and sessions past their window all fail with types.ErrNotFound.
// A participant outside the session's class gets types.ErrForbidden.
func (r *Resolver) Resolve(ctx context.Context, code, participantID string) (*types.Session, error) {
	if !r.limiter.Allow(participantID) {
		r.metrics.CodeResolved(ctx, types.KindRateLimited)
		log.Warn().Str("participant_id", participantID).Msg("Join code attempts throttled")
		return nil, ErrResolveLimitExceeded
	}

	code = types.NormalizeCode(code)
	if r.codeLength > 0 && !types.IsValidCode(code, r.codeLength) {
		r.metrics.CodeResolved(ctx, types.KindNotFound)
		return nil, ErrCodeNotFound
	}

	session, err := r.store.FindActiveByCode(ctx, code)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		r.metrics.CodeResolved(ctx, types.KindNotFound)
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve code: %w", err)
	}
	if !session.IsOpen(r.now()) {
		r.metrics.CodeResolved(ctx, types.KindNotFound)
		return nil, ErrCodeNotFound
	}

	if _, err := enrolledParticipant(ctx, r.store, session, participantID); err != nil {
		r.metrics.CodeResolved(ctx, types.Kind(err))
		return nil, err
	}

	r.metrics.CodeResolved(ctx, "resolved")
	log.Debug().
		Str("session_id", session.ID).
		Str("participant_id", participantID).
		Msg("Join code resolved")
	return session, nil
}

// enrolledParticipant loads participantID and checks it belongs to the session's class.
func enrolledParticipant(ctx context.Context, roster interfaces.Roster, session *types.Session, participantID string) (*types.Participant, error) {
	participant, err := roster.GetParticipant(ctx, participantID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if participant.ClassID != session.ClassID {
		return nil, ErrNotEnrolled
	}
	return participant, nil
}
