package types

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// MaxCaptureBytes bounds a decoded capture payload.
const MaxCaptureBytes = 4 << 20

var (
	idRegex   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	codeRegex = regexp.MustCompile(`^[0-9]+$`)
)

// IsValidID checks the format shared by class, subject and account ids.
// 1-64 characters, alphanumeric plus underscore and hyphen.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// NormalizeCode trims whitespace a human may have typed around a join code.
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}

// IsValidCode checks that code has exactly length decimal digits.
func IsValidCode(code string, length int) bool {
	return len(code) == length && codeRegex.MatchString(code)
}

// DecodeCapture decodes an encoded image payload. Both bare base64 and data
// URLs ("data:image/jpeg;base64,...") are accepted.
func DecodeCapture(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty capture", ErrInvalidInput)
	}
	if strings.HasPrefix(encoded, "data:") {
		_, payload, ok := strings.Cut(encoded, ",")
		if !ok {
			return nil, fmt.Errorf("%w: malformed data url", ErrInvalidInput)
		}
		encoded = payload
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: capture is not base64: %v", ErrInvalidInput, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty capture", ErrInvalidInput)
	}
	if len(data) > MaxCaptureBytes {
		return nil, fmt.Errorf("%w: capture exceeds %d bytes", ErrInvalidInput, MaxCaptureBytes)
	}
	return data, nil
}

// EncodeCapture is the inverse of DecodeCapture for raw image bytes.
func EncodeCapture(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}
