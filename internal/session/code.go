package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeSource mints a candidate join code of the given length. Uniqueness is
// not its concern; the store rejects collisions with active sessions.
type CodeSource func(length int) (string, error)

// NumericCode draws a uniformly random decimal code from crypto/rand.
func NumericCode(length int) (string, error) {
	if length < 4 || length > 12 {
		return "", ErrInvalidCodeLength
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to read random code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
