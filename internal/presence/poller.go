package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"attendance/internal/clock"
	"attendance/pkg/types"
)

// Fetcher returns the full mark list of a session.
type Fetcher interface {
	Marks(ctx context.Context, sessionID string) ([]types.PresenceEntry, error)
}

// DefaultPollInterval matches the classroom screen's refresh rate.
const DefaultPollInterval = 2 * time.Second

type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

func WithPollTicker(newTicker clock.NewTickerFunc) PollerOption {
	return func(p *Poller) { p.newTicker = newTicker }
}

func WithNow(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

// Poller refreshes a View from a Fetcher at a fixed interval.
type Poller struct {
	fetcher   Fetcher
	sessionID string
	view      *View
	interval  time.Duration
	newTicker clock.NewTickerFunc
	now       func() time.Time
}

func NewPoller(fetcher Fetcher, view *View, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:   fetcher,
		sessionID: view.Snapshot().SessionID,
		view:      view,
		interval:  DefaultPollInterval,
		newTicker: clock.Real,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls once immediately and then on every tick until ctx is cancelled,
// which returns nil. Transient failures are logged and the loop continues;
// any other failure ends the loop and is returned.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.newTicker(p.interval)
	defer ticker.Stop()

	logger := log.With().Str("session_id", p.sessionID).Logger()
	logger.Debug().Dur("interval", p.interval).Msg("Presence polling started")
	defer logger.Debug().Msg("Presence polling stopped")

	for {
		if err := p.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !types.IsRetryable(err) {
				logger.Warn().Err(err).Msg("Presence polling aborted")
				return err
			}
			logger.Debug().Err(err).Msg("Presence poll failed, will retry")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}

// Poll fetches the mark list once and replaces the view with it.
func (p *Poller) Poll(ctx context.Context) error {
	entries, err := p.fetcher.Marks(ctx, p.sessionID)
	if err != nil {
		return err
	}

	status := types.StatusActive
	if p.view.Closed() {
		status = types.StatusClosed
	}
	p.view.Replace(types.PresenceSnapshot{
		SessionID: p.sessionID,
		Status:    status,
		Entries:   entries,
		TakenAt:   p.now().UTC(),
	})
	return nil
}
