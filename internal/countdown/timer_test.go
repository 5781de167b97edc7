package countdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/clock"
)

type harness struct {
	timer  *Timer
	ticker *clock.Manual
	ticked chan time.Duration
	fires  atomic.Int32
}

func newHarness(window time.Duration, fire func(*harness)) *harness {
	h := &harness{ticker: clock.NewManual(), ticked: make(chan time.Duration, 128)}
	h.timer = New(window,
		func(context.Context) {
			h.fires.Add(1)
			if fire != nil {
				fire(h)
			}
		},
		WithTicker(func(time.Duration) clock.Ticker { return h.ticker }),
		OnTick(func(remaining time.Duration) { h.ticked <- remaining }),
	)
	return h
}

// advance delivers n ticks and waits until each has been applied.
func (h *harness) advance(t *testing.T, n int) time.Duration {
	t.Helper()
	var remaining time.Duration
	for i := 0; i < n; i++ {
		h.ticker.Tick(time.Now())
		remaining = <-h.ticked
	}
	return remaining
}

func waitDone(t *testing.T, timer *Timer) {
	t.Helper()
	select {
	case <-timer.Done():
	case <-time.After(time.Second):
		t.Fatal("countdown goroutine did not exit")
	}
}

func TestTimer_FiresExactlyOnce(t *testing.T) {
	h := newHarness(60*time.Second, nil)
	assert.Equal(t, Idle, h.timer.State())

	require.NoError(t, h.timer.Start(context.Background()))
	assert.Equal(t, Running, h.timer.State())

	assert.Equal(t, 1*time.Second, h.advance(t, 59))
	assert.Equal(t, Running, h.timer.State())
	assert.Zero(t, h.fires.Load())

	assert.Zero(t, h.advance(t, 1))
	waitDone(t, h.timer)

	assert.Equal(t, Fired, h.timer.State())
	assert.Equal(t, int32(1), h.fires.Load())
	assert.Zero(t, h.timer.Remaining())
	assert.True(t, h.ticker.Stopped())

	assert.False(t, h.timer.Stop())
	assert.ErrorIs(t, h.timer.Start(context.Background()), ErrAlreadyFired)
	assert.Equal(t, int32(1), h.fires.Load())
}

func TestTimer_StopCancelsWithoutFiring(t *testing.T) {
	h := newHarness(60*time.Second, nil)
	require.NoError(t, h.timer.Start(context.Background()))

	assert.Equal(t, 50*time.Second, h.advance(t, 10))
	assert.True(t, h.timer.Stop())

	assert.Equal(t, Idle, h.timer.State())
	assert.Equal(t, 50*time.Second, h.timer.Remaining())
	assert.Zero(t, h.fires.Load())
	assert.True(t, h.ticker.Stopped())
	assert.False(t, h.timer.Stop())

	t.Run("restart from idle uses the full window", func(t *testing.T) {
		h.ticker = clock.NewManual()
		require.NoError(t, h.timer.Start(context.Background()))
		assert.Equal(t, 60*time.Second, h.timer.Remaining())
		assert.True(t, h.timer.Stop())
	})
}

func TestTimer_StartWhileRunning(t *testing.T) {
	h := newHarness(time.Minute, nil)
	require.NoError(t, h.timer.Start(context.Background()))
	defer h.timer.Stop()

	assert.ErrorIs(t, h.timer.Start(context.Background()), ErrAlreadyRunning)
}

func TestTimer_ContextCancelReturnsToIdle(t *testing.T) {
	h := newHarness(time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.timer.Start(ctx))

	cancel()
	waitDone(t, h.timer)
	assert.Equal(t, Idle, h.timer.State())
	assert.Zero(t, h.fires.Load())
}

func TestTimer_StopFromFireFunction(t *testing.T) {
	var stopped atomic.Bool
	h := newHarness(2*time.Second, func(h *harness) {
		stopped.Store(h.timer.Stop())
	})
	require.NoError(t, h.timer.Start(context.Background()))

	h.advance(t, 2)
	waitDone(t, h.timer)
	assert.False(t, stopped.Load())
	assert.Equal(t, Fired, h.timer.State())
}

func TestTimer_StartAt(t *testing.T) {
	h := newHarness(60*time.Second, nil)
	now := time.Now()

	require.NoError(t, h.timer.StartAt(context.Background(), now.Add(5*time.Second), now))
	assert.Equal(t, 5*time.Second, h.timer.Remaining())

	h.advance(t, 5)
	waitDone(t, h.timer)
	assert.Equal(t, int32(1), h.fires.Load())
}

func TestTimer_RealTicker(t *testing.T) {
	var fires atomic.Int32
	timer := New(5*time.Millisecond, func(context.Context) { fires.Add(1) }, WithStep(time.Millisecond))
	require.NoError(t, timer.Start(context.Background()))

	assert.Eventually(t, func() bool { return timer.State() == Fired }, time.Second, time.Millisecond)
	waitDone(t, timer)
	assert.Equal(t, int32(1), fires.Load())
}

func TestTimer_InvalidWindow(t *testing.T) {
	timer := New(0, nil)
	assert.ErrorIs(t, timer.Start(context.Background()), ErrInvalidWindow)
	assert.Equal(t, Idle, timer.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "fired", Fired.String())
}
