// Package biometric provides clients for the external face verifier.
//
// The HTTP verifier talks to a matching service. The digest verifier is a
// deterministic stand-in for development and tests: a capture matches only a
// profile enrolled from byte-identical input.
package biometric

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/zeebo/blake3"
)

const digestSize = 32

// DigestVerifier matches captures by keyed BLAKE3 digest.
type DigestVerifier struct {
	key [32]byte
}

// NewDigestVerifier derives the hashing key from secret.
func NewDigestVerifier(secret string) *DigestVerifier {
	return &DigestVerifier{key: blake3.Sum256([]byte("attendance digest verifier\x00" + secret))}
}

func (v *DigestVerifier) digest(capture []byte) ([]byte, error) {
	hasher, err := blake3.NewKeyed(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("digest verifier key: %w", err)
	}
	_, _ = hasher.Write(capture)
	return hasher.Sum(nil), nil
}

// Enroll returns the keyed digest of capture as the stored profile.
func (v *DigestVerifier) Enroll(ctx context.Context, capture []byte) ([]byte, error) {
	if len(capture) == 0 {
		return nil, ErrEmptyCapture
	}
	return v.digest(capture)
}

// Verify reports whether capture hashes to profile.
func (v *DigestVerifier) Verify(ctx context.Context, profile, capture []byte) (bool, error) {
	if len(capture) == 0 {
		return false, ErrEmptyCapture
	}
	if len(profile) != digestSize {
		return false, fmt.Errorf("%w: %d bytes", ErrMalformedProfile, len(profile))
	}
	sum, err := v.digest(capture)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(sum, profile) == 1, nil
}
