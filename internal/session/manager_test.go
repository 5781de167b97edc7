package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/database/memstore"
	"attendance/internal/database/storetest"
	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	closed []string
}

func (n *recordingNotifier) MarkRecorded(string) {}

func (n *recordingNotifier) SessionClosed(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, id)
}

func (n *recordingNotifier) Closed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.closed...)
}

type fixture struct {
	store    *memstore.Store
	clock    *fakeClock
	notifier *recordingNotifier
	manager  *Manager
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := memstore.New()
	storetest.Seed(t, store)

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	opts.Now = clock.Now

	return &fixture{
		store:    store,
		clock:    clock,
		notifier: notifier,
		manager:  NewManager(store, notifier, opts),
	}
}

func TestManager_Start(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	session, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
	require.NoError(t, err)

	assert.Equal(t, types.StatusActive, session.Status)
	assert.True(t, types.IsValidCode(session.Code, 6), "code %q", session.Code)
	assert.Equal(t, "10-A — Math", session.Label())
	assert.Equal(t, f.clock.Now().Add(60*time.Second), session.ExpiresAt)

	stored, err := f.store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Code, stored.Code)

	active, err := f.manager.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestManager_StartConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	first, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
	require.NoError(t, err)

	_, err = f.manager.Start(ctx, storetest.PresenterB, storetest.ClassID, storetest.MathID)
	require.ErrorIs(t, err, types.ErrConflict)
	assert.Contains(t, err.Error(), "already open for 10-A — Math")
	assert.Contains(t, err.Error(), first.Code)

	t.Run("other subject of the same class is independent", func(t *testing.T) {
		_, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.BiologyID)
		assert.NoError(t, err)
	})
}

func TestManager_StartValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	tests := []struct {
		name      string
		presenter string
		class     string
		subject   string
		want      error
	}{
		{"empty ids", "", storetest.ClassID, storetest.MathID, types.ErrInvalidInput},
		{"unknown class", storetest.PresenterA, "nope", storetest.MathID, types.ErrNotFound},
		{"unknown subject", storetest.PresenterA, storetest.ClassID, "nope", types.ErrNotFound},
		{"subject of another class", storetest.PresenterA, storetest.OtherClassID, storetest.MathID, types.ErrInvalidInput},
		{"presenter not assigned", storetest.PresenterB, storetest.ClassID, storetest.BiologyID, types.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Start(ctx, tt.presenter, tt.class, tt.subject)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestManager_StartRetriesCodeCollision(t *testing.T) {
	ctx := context.Background()

	codes := []string{"111111", "111111", "222222"}
	var mu sync.Mutex
	source := func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}

	f := newFixture(t, Options{Codes: source})

	first, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
	require.NoError(t, err)
	assert.Equal(t, "111111", first.Code)

	second, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.BiologyID)
	require.NoError(t, err)
	assert.Equal(t, "222222", second.Code)
}

func TestManager_StartCodeSpaceExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{
		CodeAttempts: 3,
		Codes:        func(int) (string, error) { return "123456", nil },
	})

	_, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
	require.NoError(t, err)

	_, err = f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.BiologyID)
	assert.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestManager_StartReplacesExpiredSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	stale, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
	require.NoError(t, err)

	f.clock.Advance(61 * time.Second)

	fresh, err := f.manager.Start(ctx, storetest.PresenterB, storetest.ClassID, storetest.MathID)
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, fresh.ID)

	got, err := f.manager.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, got.Status)
	assert.Equal(t, types.CloseReasonExpired, got.CloseReason)
	assert.Equal(t, []string{stale.ID}, f.notifier.Closed())
}

func TestManager_End(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	session, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
	require.NoError(t, err)

	t.Run("other presenter is forbidden", func(t *testing.T) {
		err := f.manager.End(ctx, session.ID, storetest.PresenterB)
		assert.ErrorIs(t, err, types.ErrForbidden)

		got, err := f.manager.Get(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusActive, got.Status)
	})

	t.Run("owner ends", func(t *testing.T) {
		require.NoError(t, f.manager.End(ctx, session.ID, storetest.PresenterA))

		got, err := f.manager.Get(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusClosed, got.Status)
		assert.Equal(t, types.CloseReasonManual, got.CloseReason)
		require.NotNil(t, got.EndTime)
	})

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, f.manager.End(ctx, session.ID, storetest.PresenterA))
		assert.Equal(t, []string{session.ID}, f.notifier.Closed())
	})

	t.Run("unknown session", func(t *testing.T) {
		err := f.manager.End(ctx, "missing", storetest.PresenterA)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("scope reusable after end", func(t *testing.T) {
		_, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
		assert.NoError(t, err)
	})
}

func TestManager_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	math, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Second)
	bio, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.BiologyID)
	require.NoError(t, err)

	n, err := f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(30 * time.Second)
	n, err = f.manager.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.manager.Get(ctx, math.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, got.Status)
	assert.Equal(t, types.CloseReasonExpired, got.CloseReason)

	got, err = f.manager.Get(ctx, bio.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, got.Status)

	_, err = f.store.FindActiveByCode(ctx, math.Code)
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestManager_LoadActiveSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	session, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
	require.NoError(t, err)

	restarted := NewManager(f.store, nil, Options{Now: f.clock.Now})
	require.NoError(t, restarted.LoadActiveSessions(ctx))

	active, err := restarted.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, session.ID, active[0].ID)
	assert.Equal(t, 1, restarted.GetStats()["active_sessions"])
}

func TestManager_ConcurrentStartsOneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case assert.ErrorIs(t, err, types.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, n-1, conflicts)
}

func TestManager_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, Options{SweepInterval: 5 * time.Millisecond})

	session, err := f.manager.Start(ctx, storetest.PresenterA, storetest.ClassID, storetest.MathID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	done := make(chan struct{})
	go func() {
		f.manager.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, err := f.store.GetSession(context.Background(), session.ID)
		return err == nil && got.Status == types.StatusClosed
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestNumericCode(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := NumericCode(6)
		require.NoError(t, err)
		assert.True(t, types.IsValidCode(code, 6), "code %q", code)
	}

	_, err := NumericCode(2)
	assert.ErrorIs(t, err, ErrInvalidCodeLength)
}
