// Package client calls the attendance HTTP API. Responses are decoded into
// the shared wire types and failures come back as taxonomy errors: an
// APIError for anything the server answered and types.ErrTransientNetwork
// for requests that never got a response.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"attendance/pkg/types"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	http       *http.Client
	maxRetries int

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxRetries sets how often idempotent calls are retried after a
// transient failure. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = max(n, 0) }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 30 * time.Second},
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login authenticates and keeps the returned token for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*types.LoginResponse, error) {
	var resp types.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/login", types.LoginRequest{Email: email, Password: password}, &resp, false); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &resp, nil
}

// Scopes lists the class/subject pairs the presenter may open sessions for.
func (c *Client) Scopes(ctx context.Context) ([]types.Scope, error) {
	var resp types.ScopesResponse
	if err := c.do(ctx, http.MethodGet, "/api/presenter/scopes", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Scopes, nil
}

// StartSession is not retried: a lost response followed by a retry would
// report a conflict against the caller's own session.
func (c *Client) StartSession(ctx context.Context, classID, subjectID string) (*types.SessionResponse, error) {
	var resp types.SessionResponse
	req := types.StartSessionRequest{ClassID: classID, SubjectID: subjectID}
	if err := c.do(ctx, http.MethodPost, "/api/session/start", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) EndSession(ctx context.Context, sessionID string) (*types.SessionResponse, error) {
	var resp types.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/session/end/"+url.PathEscape(sessionID), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*types.SessionResponse, error) {
	var resp types.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/api/session/"+url.PathEscape(sessionID), nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Marks fetches the full presence list of a session. It is not retried
// here; pollers retry on their own schedule.
func (c *Client) Marks(ctx context.Context, sessionID string) ([]types.PresenceEntry, error) {
	var entries []types.PresenceEntry
	if err := c.do(ctx, http.MethodGet, "/api/session/"+url.PathEscape(sessionID)+"/marks", nil, &entries, false); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) ResolveCode(ctx context.Context, code string) (*types.ResolveCodeResponse, error) {
	var resp types.ResolveCodeResponse
	if err := c.do(ctx, http.MethodPost, "/api/attendance/resolve-code", types.ResolveCodeRequest{Code: code}, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit sends a capture for sessionID. Retrying is safe because the server
// returns the first mark for repeated submissions.
func (c *Client) Submit(ctx context.Context, sessionID string, capture []byte) (*types.SubmitResponse, error) {
	var resp types.SubmitResponse
	req := types.SubmitRequest{SessionID: sessionID, Capture: types.EncodeCapture(capture)}
	if err := c.do(ctx, http.MethodPost, "/api/attendance/submit", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Profile reports whether the caller has a registered biometric profile.
func (c *Client) Profile(ctx context.Context) (*types.ProfileResponse, error) {
	var resp types.ProfileResponse
	if err := c.do(ctx, http.MethodGet, "/api/participant/profile", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RegisterProfile enrolls the caller's biometric profile.
func (c *Client) RegisterProfile(ctx context.Context, capture []byte) (*types.ProfileResponse, error) {
	var resp types.ProfileResponse
	req := types.ProfileRequest{Capture: types.EncodeCapture(capture)}
	if err := c.do(ctx, http.MethodPost, "/api/participant/profile", req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Report fetches a report. Participants pass an empty query; presenters pass
// class and subject.
func (c *Client) Report(ctx context.Context, query url.Values, out any) error {
	path := "/api/attendance/report"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, path, nil, out, true)
}

// PresenceURL returns the websocket URL of a session's presence stream. The
// token travels as a query parameter.
func (c *Client) PresenceURL(sessionID string) (string, error) {
	u, err := url.Parse(c.baseURL + "/api/session/" + url.PathEscape(sessionID) + "/presence/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("access_token", c.bearer())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, retry bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	tries := uint(1)
	if retry {
		tries += uint(c.maxRetries)
	}

	operation := func() (struct{}, error) {
		err := c.roundTrip(ctx, method, path, body, out)
		if err != nil && !errors.Is(err, types.ErrTransientNetwork) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Str("path", path).Dur("retry_in", next).Msg("Request failed, retrying")
		}),
	)
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", types.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// decodeError builds an APIError. Gateway failures without a JSON body never
// reached the attendance server and count as transient.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body types.ErrorResponse
	if err := json.Unmarshal(data, &body); err != nil || body.Kind == "" {
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %s", types.ErrTransientNetwork, resp.Status)
		}
		return &APIError{Status: resp.StatusCode, Kind: types.KindInternal, Message: strings.TrimSpace(string(data))}
	}
	return &APIError{Status: resp.StatusCode, Kind: body.Kind, Message: body.Message}
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}
