package client

import (
	"fmt"

	"attendance/pkg/types"
)

// APIError is a non-2xx response. It unwraps to the taxonomy error named by
// its kind, so errors.Is(err, types.ErrSessionClosed) works on the client.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("attendance api: %d %s", e.Status, e.Kind)
	}
	return fmt.Sprintf("attendance api: %s", e.Message)
}

func (e *APIError) Unwrap() error {
	return types.ErrorForKind(e.Kind)
}
