package auth

import (
	"fmt"

	"attendance/pkg/types"
)

var (
	ErrMissingToken       = fmt.Errorf("%w: missing bearer token", types.ErrUnauthorized)
	ErrInvalidToken       = fmt.Errorf("%w: invalid token", types.ErrUnauthorized)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", types.ErrUnauthorized)
	ErrWrongRole          = fmt.Errorf("%w: role not permitted", types.ErrForbidden)
	ErrWeakSecret         = fmt.Errorf("token secret must be at least 32 bytes")
)
