package interfaces

import "context"

// Verifier is the external biometric matcher. Its algorithm is opaque.
type Verifier interface {
	// Enroll derives a stored profile from a registration capture.
	Enroll(ctx context.Context, capture []byte) ([]byte, error)

	// Verify reports whether capture matches profile. An error means the
	// verifier could not decide.
	Verify(ctx context.Context, profile, capture []byte) (bool, error)
}

// Notifier receives protocol events that change a session's presence view.
type Notifier interface {
	MarkRecorded(sessionID string)
	SessionClosed(sessionID string)
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) MarkRecorded(string)  {}
func (NopNotifier) SessionClosed(string) {}
