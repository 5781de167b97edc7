// Package clock abstracts the tickers driving presenter-side loops so tests
// can deliver ticks by hand.
package clock

import (
	"sync/atomic"
	"time"
)

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// NewTickerFunc constructs a Ticker for an interval.
type NewTickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Real wraps time.NewTicker.
func Real(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

// Manual is a Ticker driven by Tick. Its channel is unbuffered, so Tick
// returns only once the consumer has received the tick.
type Manual struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func NewManual() *Manual {
	return &Manual{ch: make(chan time.Time)}
}

func (m *Manual) C() <-chan time.Time { return m.ch }
func (m *Manual) Stop()               { m.stopped.Store(true) }

// Tick blocks until the consumer receives now.
func (m *Manual) Tick(now time.Time) {
	m.ch <- now
}

// Stopped reports whether Stop has been called.
func (m *Manual) Stopped() bool {
	return m.stopped.Load()
}
