// Package presenter runs the presenter's side of a session: each started
// session owns a countdown and a presence follower, and both are torn down
// together when the session ends by hand or by expiry.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"attendance/internal/clock"
	"attendance/internal/countdown"
	"attendance/internal/presence"
	"attendance/pkg/types"
)

var (
	ErrUnknownSession = errors.New("session is not running on this controller")
)

// API is the subset of the attendance client a presenter needs.
type API interface {
	StartSession(ctx context.Context, classID, subjectID string) (*types.SessionResponse, error)
	EndSession(ctx context.Context, sessionID string) (*types.SessionResponse, error)
	Marks(ctx context.Context, sessionID string) ([]types.PresenceEntry, error)
}

// Options configure a Controller. Zero values take defaults.
type Options struct {
	PollInterval time.Duration
	// StreamURL, when set, makes sessions follow the presence stream
	// instead of polling.
	StreamURL func(sessionID string) (string, error)

	// Tickers for the countdown and the poller, overridable for tests.
	CountdownTicker clock.NewTickerFunc
	PollTicker      clock.NewTickerFunc

	// OnTick observes the countdown of every session.
	OnTick func(sessionID string, remaining time.Duration)

	// KeepFinished bounds how many finished sessions stay queryable
	// through Wait and View. The oldest are dropped first.
	KeepFinished int
}

const DefaultKeepFinished = 16

// Controller owns the per-session task pairs, keyed by session id. The most
// recent finished tasks stay registered so Wait can report their outcome.
type Controller struct {
	api  API
	opts Options

	mu      sync.Mutex
	tasks   map[string]*task
	retired []string
}

func NewController(api API, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = presence.DefaultPollInterval
	}
	if opts.CountdownTicker == nil {
		opts.CountdownTicker = clock.Real
	}
	if opts.PollTicker == nil {
		opts.PollTicker = clock.Real
	}
	if opts.KeepFinished <= 0 {
		opts.KeepFinished = DefaultKeepFinished
	}
	return &Controller{api: api, opts: opts, tasks: make(map[string]*task)}
}

// Outcome is how a session finished on this controller.
type Outcome struct {
	Session  *types.SessionResponse
	Reason   string
	Presence types.PresenceSnapshot
	// EndErr is the error from the end call, if it failed.
	EndErr error
}

type task struct {
	session *types.SessionResponse
	view    *presence.View
	timer   *countdown.Timer
	cancel  context.CancelFunc
	sync    sync.WaitGroup

	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

// Start opens a session on the server and starts its countdown and presence
// follower. The tasks outlive ctx; they stop when the session ends.
func (c *Controller) Start(ctx context.Context, classID, subjectID string) (*types.SessionResponse, error) {
	session, err := c.api.StartSession(ctx, classID, subjectID)
	if err != nil {
		return nil, err
	}

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{
		session: session,
		view:    presence.NewView(session.ID),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	window := session.ExpiresAt.Sub(session.StartTime)
	timerOpts := []countdown.Option{countdown.WithTicker(c.opts.CountdownTicker)}
	if c.opts.OnTick != nil {
		timerOpts = append(timerOpts, countdown.OnTick(func(remaining time.Duration) {
			c.opts.OnTick(session.ID, remaining)
		}))
	}
	t.timer = countdown.New(window, func(fireCtx context.Context) {
		c.finish(fireCtx, t, types.CloseReasonExpired)
	}, timerOpts...)

	c.mu.Lock()
	c.tasks[session.ID] = t
	c.mu.Unlock()

	if err := t.timer.Start(taskCtx); err != nil {
		c.finish(taskCtx, t, types.CloseReasonManual)
		return nil, fmt.Errorf("failed to start countdown: %w", err)
	}

	t.sync.Add(1)
	go func() {
		defer t.sync.Done()
		if err := c.follow(taskCtx, t); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("Presence follower stopped")
		}
	}()

	log.Info().
		Str("session_id", session.ID).
		Str("code", session.Code).
		Dur("window", window).
		Msg("Session running")
	return session, nil
}

func (c *Controller) follow(ctx context.Context, t *task) error {
	if c.opts.StreamURL != nil {
		url, err := c.opts.StreamURL(t.session.ID)
		if err != nil {
			return err
		}
		return presence.NewStream(url, t.view).Run(ctx)
	}
	return presence.NewPoller(c.api, t.view,
		presence.WithInterval(c.opts.PollInterval),
		presence.WithPollTicker(c.opts.PollTicker),
	).Run(ctx)
}

// End stops the session's countdown and follower, then ends it on the
// server. Ending a session that already finished returns its outcome error.
func (c *Controller) End(ctx context.Context, sessionID string) error {
	t, ok := c.task(sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	t.timer.Stop()
	c.finish(ctx, t, types.CloseReasonManual)
	<-t.done
	return t.outcome.EndErr
}

// finish runs once per task: it cancels both loops, ends the session on the
// server and records the outcome. It is called from the countdown goroutine
// on expiry, so it never waits on the timer.
func (c *Controller) finish(ctx context.Context, t *task, reason string) {
	t.once.Do(func() {
		t.cancel()
		t.sync.Wait()

		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		final := t.session
		ended, err := c.api.EndSession(endCtx, t.session.ID)
		if err != nil {
			log.Error().Err(err).Str("session_id", t.session.ID).Msg("Failed to end session")
		} else {
			final = ended
		}

		// One last fetch so the outcome reflects marks recorded up to close.
		// Stream snapshots carry the server's clock, so the stamp must not
		// fall behind the one already shown.
		if entries, ferr := c.api.Marks(endCtx, t.session.ID); ferr == nil {
			takenAt := time.Now().UTC()
			if shown := t.view.Snapshot().TakenAt; shown.After(takenAt) {
				takenAt = shown
			}
			t.view.Replace(types.PresenceSnapshot{
				SessionID: t.session.ID,
				Status:    types.StatusClosed,
				Entries:   entries,
				TakenAt:   takenAt,
			})
		} else {
			log.Warn().Err(ferr).Str("session_id", t.session.ID).Msg("Final presence fetch failed")
		}
		t.view.MarkClosed()

		t.outcome = Outcome{Session: final, Reason: reason, Presence: t.view.Snapshot(), EndErr: err}
		close(t.done)
		c.retire(t.session.ID)

		log.Info().Str("session_id", t.session.ID).Str("reason", reason).Int("present", len(t.outcome.Presence.Entries)).Msg("Session finished")
	})
}

// retire records a finished session and forgets the oldest ones beyond
// KeepFinished.
func (c *Controller) retire(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.retired = append(c.retired, sessionID)
	for len(c.retired) > c.opts.KeepFinished {
		delete(c.tasks, c.retired[0])
		c.retired = c.retired[1:]
	}
}

// Done is closed once the session has finished and its outcome is ready.
func (c *Controller) Done(sessionID string) (<-chan struct{}, bool) {
	t, ok := c.task(sessionID)
	if !ok {
		return nil, false
	}
	return t.done, true
}

// Wait blocks until the session finishes and returns its outcome.
func (c *Controller) Wait(ctx context.Context, sessionID string) (*Outcome, error) {
	t, ok := c.task(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	select {
	case <-t.done:
		out := t.outcome
		return &out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Active lists the sessions currently running.
func (c *Controller) Active() []*types.SessionResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*types.SessionResponse, 0, len(c.tasks))
	for _, t := range c.tasks {
		if !t.finished() {
			out = append(out, t.session)
		}
	}
	return out
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// View returns the presence view of a session started on this controller.
func (c *Controller) View(sessionID string) (*presence.View, bool) {
	t, ok := c.task(sessionID)
	if !ok {
		return nil, false
	}
	return t.view, true
}

// Remaining returns the countdown of a running session.
func (c *Controller) Remaining(sessionID string) (time.Duration, bool) {
	t, ok := c.task(sessionID)
	if !ok {
		return 0, false
	}
	return t.timer.Remaining(), true
}

// Close ends every running session.
func (c *Controller) Close(ctx context.Context) {
	for _, s := range c.Active() {
		_ = c.End(ctx, s.ID)
	}
}

func (c *Controller) task(sessionID string) (*task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[sessionID]
	return t, ok
}
