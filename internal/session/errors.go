package session

import "errors"

var (
	ErrCodeSpaceExhausted = errors.New("could not mint a join code unused by any active session")
	ErrInvalidCodeLength  = errors.New("join code length must be between 4 and 12")
)
