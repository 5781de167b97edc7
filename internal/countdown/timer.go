// Package countdown mirrors a session's check-in window on the presenter's
// side. A Timer counts down once per tick and calls its fire function
// exactly once when it reaches zero, unless it is stopped first.
package countdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"attendance/internal/clock"
)

var (
	ErrAlreadyRunning = errors.New("countdown already running")
	ErrAlreadyFired   = errors.New("countdown already fired")
	ErrInvalidWindow  = errors.New("countdown window must be positive")
)

type State int

const (
	Idle State = iota
	Running
	Fired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Fired:
		return "fired"
	}
	return "unknown"
}

type Option func(*Timer)

// WithTicker replaces the ticker constructor.
func WithTicker(newTicker clock.NewTickerFunc) Option {
	return func(t *Timer) { t.newTicker = newTicker }
}

// WithStep sets the tick interval and the amount subtracted per tick. The
// default is one second.
func WithStep(step time.Duration) Option {
	return func(t *Timer) { t.step = step }
}

// OnTick registers a callback invoked with the remaining time after every tick.
func OnTick(fn func(remaining time.Duration)) Option {
	return func(t *Timer) { t.onTick = fn }
}

// Timer moves idle -> running -> fired. Stop moves running -> idle without
// firing. A fired timer cannot be restarted.
type Timer struct {
	window    time.Duration
	step      time.Duration
	fire      func(context.Context)
	onTick    func(time.Duration)
	newTicker clock.NewTickerFunc

	mu        sync.Mutex
	state     State
	remaining time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates an idle timer for window. fire runs on the timer goroutine.
func New(window time.Duration, fire func(context.Context), opts ...Option) *Timer {
	t := &Timer{
		window:    window,
		step:      time.Second,
		fire:      fire,
		newTicker: clock.Real,
		remaining: window,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins counting down from the full window. ctx bounds the countdown
// and is passed to the fire function.
func (t *Timer) Start(ctx context.Context) error {
	return t.start(ctx, t.window)
}

// StartAt is Start with the countdown shortened to the time left until
// deadline, for presenters that resume an already open session.
func (t *Timer) StartAt(ctx context.Context, deadline, now time.Time) error {
	left := min(deadline.Sub(now), t.window)
	if left < t.step {
		left = t.step
	}
	return t.start(ctx, left)
}

func (t *Timer) start(ctx context.Context, from time.Duration) error {
	if from <= 0 || t.step <= 0 {
		return ErrInvalidWindow
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Running:
		return ErrAlreadyRunning
	case Fired:
		return ErrAlreadyFired
	}

	ctx, cancel := context.WithCancel(ctx)
	t.state = Running
	t.remaining = from
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.run(ctx, t.newTicker(t.step), t.done)
	return nil
}

func (t *Timer) run(ctx context.Context, ticker clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			if t.state == Running {
				t.state = Idle
			}
			t.mu.Unlock()
			return
		case <-ticker.C():
			remaining, fired := t.tick()
			if t.onTick != nil {
				t.onTick(remaining)
			}
			if fired {
				log.Debug().Msg("Countdown reached zero")
				if t.fire != nil {
					t.fire(ctx)
				}
				return
			}
		}
	}
}

// tick decrements under the lock so a concurrent Stop either wins before
// the final tick or observes Fired.
func (t *Timer) tick() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Running {
		return t.remaining, false
	}
	t.remaining -= t.step
	if t.remaining > 0 {
		return t.remaining, false
	}
	t.remaining = 0
	t.state = Fired
	return 0, true
}

// Stop cancels a running countdown and waits for its goroutine to exit. It
// reports whether the timer was running. Stopping an idle or fired timer
// does nothing, so Stop is safe to call from the fire function.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	if t.state != Running {
		t.mu.Unlock()
		return false
	}
	t.state = Idle
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
	return true
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Remaining returns the time left. A stopped timer keeps the value it had
// when stopped; a fired one reports zero.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Done is closed when the current countdown goroutine exits, after the fire
// function returns. It is nil before the first Start.
func (t *Timer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}
