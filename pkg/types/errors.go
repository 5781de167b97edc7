package types

import (
	"context"
	"errors"
)

// Error taxonomy shared by the server, the HTTP contract and the clients.
// Components wrap these with fmt.Errorf("%w: ...") and callers match with errors.Is.
var (
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrSessionClosed      = errors.New("session closed")
	ErrNotRegistered      = errors.New("no registered biometric profile")
	ErrVerificationFailed = errors.New("verification failed")
	ErrTransientNetwork   = errors.New("transient network error")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
)

// Stable machine readable kinds carried in error responses.
const (
	KindConflict           = "conflict"
	KindForbidden          = "forbidden"
	KindNotFound           = "not_found"
	KindSessionClosed      = "session_closed"
	KindNotRegistered      = "not_registered"
	KindVerificationFailed = "verification_failed"
	KindTransientNetwork   = "transient_network"
	KindInvalidInput       = "invalid_input"
	KindUnauthorized       = "unauthorized"
	KindRateLimited        = "rate_limited"
	KindInternal           = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrConflict, KindConflict},
	{ErrForbidden, KindForbidden},
	{ErrNotFound, KindNotFound},
	{ErrSessionClosed, KindSessionClosed},
	{ErrNotRegistered, KindNotRegistered},
	{ErrVerificationFailed, KindVerificationFailed},
	{ErrTransientNetwork, KindTransientNetwork},
	{ErrInvalidInput, KindInvalidInput},
	{ErrUnauthorized, KindUnauthorized},
	{ErrRateLimited, KindRateLimited},
}

// Kind returns the taxonomy kind for err, or KindInternal when err does not
// wrap any taxonomy error.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// ErrorForKind is the inverse of Kind. Unknown kinds return nil.
func ErrorForKind(kind string) error {
	for _, k := range kinds {
		if k.kind == kind {
			return k.err
		}
	}
	return nil
}

// IsRetryable reports whether a polling loop should keep going after err.
func IsRetryable(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransientNetwork) || Kind(err) == KindInternal
}
