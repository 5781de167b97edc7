package biometric

import (
	"fmt"
	"time"

	"attendance/pkg/interfaces"
)

// Verifier modes.
const (
	ModeDigest = "digest"
	ModeHTTP   = "http"
)

// Config selects and configures a verifier.
type Config struct {
	Mode       string
	URL        string
	Timeout    time.Duration
	MaxRetries int
	Secret     string
}

// New builds the verifier named by cfg.Mode.
func New(cfg Config) (interfaces.Verifier, error) {
	switch cfg.Mode {
	case ModeDigest, "":
		return NewDigestVerifier(cfg.Secret), nil
	case ModeHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http verifier requires a url")
		}
		return NewHTTPVerifier(HTTPConfig{URL: cfg.URL, Timeout: cfg.Timeout, MaxRetries: cfg.MaxRetries}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}
