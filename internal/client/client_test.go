package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, types.ErrorResponse{Error: http.StatusText(status), Code: status, Kind: kind, Message: message})
}

func TestClient_LoginStoresToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		var req types.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a@school.test", req.Email)
		writeJSON(w, http.StatusOK, types.LoginResponse{Token: "tok-1", User: &types.Account{ID: "teacher-a"}})
	})
	mux.HandleFunc("GET /api/presenter/scopes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, types.ScopesResponse{Scopes: []types.Scope{{ClassID: "10-a", SubjectID: "math"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Login(context.Background(), "a@school.test", "secret")
	require.NoError(t, err)
	assert.Equal(t, "teacher-a", resp.User.ID)

	scopes, err := c.Scopes(context.Background())
	require.NoError(t, err)
	assert.Len(t, scopes, 1)
}

func TestClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   string
		want   error
	}{
		{"conflict", http.StatusConflict, types.KindConflict, types.ErrConflict},
		{"forbidden", http.StatusForbidden, types.KindForbidden, types.ErrForbidden},
		{"not found", http.StatusNotFound, types.KindNotFound, types.ErrNotFound},
		{"session closed", http.StatusGone, types.KindSessionClosed, types.ErrSessionClosed},
		{"not registered", http.StatusPreconditionFailed, types.KindNotRegistered, types.ErrNotRegistered},
		{"verification failed", http.StatusUnprocessableEntity, types.KindVerificationFailed, types.ErrVerificationFailed},
		{"rate limited", http.StatusTooManyRequests, types.KindRateLimited, types.ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, tt.status, tt.kind, tt.name)
			}))
			defer srv.Close()

			_, err := New(srv.URL).Submit(context.Background(), "s-1", []byte("face"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Contains(t, apiErr.Error(), tt.name)
		})
	}
}

func TestClient_InternalErrorIsNotTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetSession(context.Background(), "s-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, types.KindInternal, apiErr.Kind)
	assert.Equal(t, types.KindInternal, types.Kind(err))
}

func TestClient_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(addr, WithMaxRetries(0)).Marks(context.Background(), "s-1")
	assert.ErrorIs(t, err, types.ErrTransientNetwork)
	assert.True(t, types.IsRetryable(err))
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, types.SubmitResponse{MarkID: "m-1", Timestamp: time.Now()})
	}))
	defer srv.Close()

	resp, err := New(srv.URL, WithMaxRetries(3)).Submit(context.Background(), "s-1", []byte("face"))
	require.NoError(t, err)
	assert.Equal(t, "m-1", resp.MarkID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_StartIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithMaxRetries(3)).StartSession(context.Background(), "10-a", "math")
	assert.ErrorIs(t, err, types.ErrTransientNetwork)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_DomainErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeError(w, http.StatusNotFound, types.KindNotFound, "no open session has this code")
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithMaxRetries(3)).ResolveCode(context.Background(), "123456")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_SubmitEncodesCapture(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req types.SubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		capture, err := types.DecodeCapture(req.Capture)
		require.NoError(t, err)
		assert.Equal(t, "face:profile-a", string(capture))
		assert.Equal(t, "s-1", req.SessionID)
		writeJSON(w, http.StatusOK, types.SubmitResponse{MarkID: "m-1"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Submit(context.Background(), "s-1", []byte("face:profile-a"))
	require.NoError(t, err)
}

func TestClient_Profile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/participant/profile", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, types.ProfileResponse{ParticipantID: "student-c"})
	}))
	defer srv.Close()

	resp, err := New(srv.URL, WithToken("tok")).Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "student-c", resp.ParticipantID)
	assert.False(t, resp.Registered)
}

func TestClient_PresenceURL(t *testing.T) {
	c := New("https://attendance.example/", WithToken("tok"))
	raw, err := c.PresenceURL("s-1")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "/api/session/s-1/presence/ws", u.Path)
	assert.Equal(t, "tok", u.Query().Get("access_token"))
}

func TestClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL).GetSession(ctx, "s-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, types.ErrTransientNetwork)
}
