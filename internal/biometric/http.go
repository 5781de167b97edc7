package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
)

// HTTPConfig configures the remote verifier client.
type HTTPConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPVerifier calls a remote matching service:
//
//	POST {URL}/enroll {"capture": b64}             -> {"profile": b64}
//	POST {URL}/verify {"profile": b64, "capture": b64} -> {"match": bool}
//
// Transport failures, 429 and 5xx responses are retried with exponential
// backoff. Other statuses fail immediately.
type HTTPVerifier struct {
	baseURL    string
	client     *http.Client
	maxRetries int
}

type enrollRequest struct {
	Capture []byte `json:"capture"`
}

type enrollResponse struct {
	Profile []byte `json:"profile"`
}

type verifyRequest struct {
	Profile []byte `json:"profile"`
	Capture []byte `json:"capture"`
}

type verifyResponse struct {
	Match bool `json:"match"`
}

// NewHTTPVerifier creates a verifier client.
func NewHTTPVerifier(cfg HTTPConfig) *HTTPVerifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &HTTPVerifier{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		client:     &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
	}
}

// Enroll sends a registration capture and returns the service's profile.
func (v *HTTPVerifier) Enroll(ctx context.Context, capture []byte) ([]byte, error) {
	if len(capture) == 0 {
		return nil, ErrEmptyCapture
	}
	var resp enrollResponse
	if err := v.call(ctx, "/enroll", enrollRequest{Capture: capture}, &resp); err != nil {
		return nil, err
	}
	return resp.Profile, nil
}

// Verify asks the service whether capture matches profile.
func (v *HTTPVerifier) Verify(ctx context.Context, profile, capture []byte) (bool, error) {
	if len(capture) == 0 {
		return false, ErrEmptyCapture
	}
	var resp verifyResponse
	if err := v.call(ctx, "/verify", verifyRequest{Profile: profile, Capture: capture}, &resp); err != nil {
		return false, err
	}
	return resp.Match, nil
}

func (v *HTTPVerifier) call(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode verifier request: %w", err)
	}

	operation := func() (struct{}, error) {
		return struct{}{}, v.post(ctx, path, body, out)
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(v.maxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("path", path).Dur("retry_in", next).Msg("Verifier call failed, retrying")
		}),
	)
	return err
}

func (v *HTTPVerifier) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("%w: %d %s", ErrVerifierStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode verifier response: %w", err))
	}
	return nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
