package biometric

import "errors"

var (
	ErrEmptyCapture     = errors.New("empty capture")
	ErrMalformedProfile = errors.New("malformed profile")
	ErrVerifierStatus   = errors.New("verifier returned an error status")
	ErrUnknownMode      = errors.New("unknown verifier mode")
)
