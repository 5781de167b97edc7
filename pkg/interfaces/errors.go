package interfaces

import (
	"fmt"

	"attendance/pkg/types"
)

// Store errors. Each wraps the taxonomy error callers should surface so
// errors.Is works against both.
var (
	ErrSessionNotFound     = fmt.Errorf("session %w", types.ErrNotFound)
	ErrRecordNotFound      = fmt.Errorf("record %w", types.ErrNotFound)
	ErrActiveSessionExists = fmt.Errorf("%w: an active session already exists for this class and subject", types.ErrConflict)
	ErrDuplicateRecord     = fmt.Errorf("%w: record already exists", types.ErrConflict)
	ErrSessionNotOpen      = fmt.Errorf("%w: session is not accepting check-ins", types.ErrSessionClosed)
)

// ErrCodeInUse is returned when a freshly minted join code collides with the
// code of another active session. It is retried by the session manager and
// never reaches an HTTP client.
var ErrCodeInUse = fmt.Errorf("join code already in use by an active session")
