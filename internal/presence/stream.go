package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"attendance/pkg/types"
)

var errStreamDropped = errors.New("presence stream dropped")

// Stream follows a session's presence websocket and applies every snapshot
// to a View. A dropped connection is redialled with backoff; the first
// snapshot after reconnecting repairs anything missed.
type Stream struct {
	url    string
	view   *View
	dialer *websocket.Dialer
}

// NewStream follows url, which must carry its own credentials (see
// client.PresenceURL).
func NewStream(url string, view *View) *Stream {
	return &Stream{
		url:    url,
		view:   view,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run returns nil once the server reports the session closed or ctx is
// cancelled. A refused handshake is returned as the taxonomy error the
// server named.
func (s *Stream) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.follow(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Dur("retry_in", next).Msg("Presence stream reconnecting")
		}),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Stream) follow(ctx context.Context) error {
	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if resp != nil {
			return backoff.Permanent(handshakeError(resp))
		}
		return fmt.Errorf("%w: %v", types.ErrTransientNetwork, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var snap types.PresenceSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || s.view.Closed() {
				s.view.MarkClosed()
				return nil
			}
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return backoff.Permanent(fmt.Errorf("%w: %v", types.ErrSessionClosed, err))
			}
			return fmt.Errorf("%w: %v", errStreamDropped, err)
		}

		s.view.Replace(snap)
		if snap.Status == types.StatusClosed {
			return nil
		}
	}
}

func handshakeError(resp *http.Response) error {
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body types.ErrorResponse
	if json.Unmarshal(data, &body) == nil {
		if kindErr := types.ErrorForKind(body.Kind); kindErr != nil {
			return fmt.Errorf("%w: %s", kindErr, body.Message)
		}
	}
	return fmt.Errorf("presence stream refused: %s", resp.Status)
}
