package presence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/clock"
	"attendance/pkg/types"
)

func entry(id string) types.PresenceEntry {
	return types.PresenceEntry{ParticipantID: id, Name: "Student " + id, MarkedAt: time.Now().UTC()}
}

func TestView_Replace(t *testing.T) {
	v := NewView("s-1")
	t0 := time.Now()

	assert.True(t, v.Replace(types.PresenceSnapshot{SessionID: "s-1", Status: types.StatusActive, Entries: []types.PresenceEntry{entry("a")}, TakenAt: t0}))
	assert.Equal(t, 1, v.Len())

	t.Run("wholesale replacement", func(t *testing.T) {
		assert.True(t, v.Replace(types.PresenceSnapshot{SessionID: "s-1", Status: types.StatusActive, Entries: []types.PresenceEntry{entry("b"), entry("c")}, TakenAt: t0.Add(time.Second)}))
		snap := v.Snapshot()
		require.Len(t, snap.Entries, 2)
		assert.Equal(t, "b", snap.Entries[0].ParticipantID)
	})

	t.Run("older snapshot ignored", func(t *testing.T) {
		assert.False(t, v.Replace(types.PresenceSnapshot{SessionID: "s-1", Entries: nil, TakenAt: t0}))
		assert.Equal(t, 2, v.Len())
	})

	t.Run("other session ignored", func(t *testing.T) {
		assert.False(t, v.Replace(types.PresenceSnapshot{SessionID: "s-2", TakenAt: t0.Add(time.Hour)}))
		assert.Equal(t, 2, v.Len())
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		snap := v.Snapshot()
		snap.Entries[0].Name = "changed"
		assert.NotEqual(t, "changed", v.Snapshot().Entries[0].Name)
	})

	t.Run("closed is final", func(t *testing.T) {
		assert.True(t, v.Replace(types.PresenceSnapshot{SessionID: "s-1", Status: types.StatusClosed, Entries: []types.PresenceEntry{entry("b")}, TakenAt: t0.Add(2 * time.Second)}))
		assert.True(t, v.Closed())
		assert.False(t, v.Replace(types.PresenceSnapshot{SessionID: "s-1", Status: types.StatusActive, TakenAt: t0.Add(3 * time.Second)}))
		assert.True(t, v.Closed())
	})

	select {
	case <-v.Changed():
	default:
		t.Fatal("expected a change notification")
	}
}

func TestView_MarkClosedSignals(t *testing.T) {
	v := NewView("s-1")
	require.True(t, v.Replace(types.PresenceSnapshot{SessionID: "s-1", Status: types.StatusActive, Entries: []types.PresenceEntry{entry("a")}, TakenAt: time.Now()}))
	<-v.Changed()

	v.MarkClosed()
	select {
	case <-v.Changed():
	default:
		t.Fatal("closing the view did not signal a change")
	}
	assert.True(t, v.Closed())
	assert.Equal(t, 1, v.Len())

	v.MarkClosed()
	select {
	case <-v.Changed():
		t.Fatal("closing twice signalled again")
	default:
	}
}

// fakeFetcher serves scripted results, then the current server-side mark set.
type fakeFetcher struct {
	mu      sync.Mutex
	entries []types.PresenceEntry
	errs    []error
	calls   chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(chan struct{}, 64)}
}

func (f *fakeFetcher) set(entries ...types.PresenceEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
}

func (f *fakeFetcher) fail(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeFetcher) Marks(ctx context.Context, sessionID string) ([]types.PresenceEntry, error) {
	defer func() { f.calls <- struct{}{} }()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return append([]types.PresenceEntry(nil), f.entries...), nil
}

func (f *fakeFetcher) waitCall(t *testing.T) {
	t.Helper()
	select {
	case <-f.calls:
	case <-time.After(time.Second):
		t.Fatal("poller did not fetch")
	}
}

type pollerHarness struct {
	fetcher *fakeFetcher
	ticker  *clock.Manual
	view    *View
	cancel  context.CancelFunc
	result  chan error
}

func startPoller(t *testing.T) *pollerHarness {
	t.Helper()
	h := &pollerHarness{
		fetcher: newFakeFetcher(),
		ticker:  clock.NewManual(),
		view:    NewView("s-1"),
		result:  make(chan error, 1),
	}
	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	poller := NewPoller(h.fetcher, h.view,
		WithPollTicker(func(time.Duration) clock.Ticker { return h.ticker }),
		WithNow(func() time.Time { return time.Unix(0, now.Add(int64(time.Second))) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.result <- poller.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

// tick delivers one tick and waits for the resulting fetch.
func (h *pollerHarness) tick(t *testing.T) {
	t.Helper()
	h.ticker.Tick(time.Now())
	h.fetcher.waitCall(t)
}

func (h *pollerHarness) ids() []string {
	var ids []string
	for _, e := range h.view.Snapshot().Entries {
		ids = append(ids, e.ParticipantID)
	}
	return ids
}

func TestPoller_ConvergesOnServerState(t *testing.T) {
	h := startPoller(t)
	h.fetcher.waitCall(t)
	assert.Zero(t, h.view.Len())

	h.fetcher.set(entry("a"))
	h.tick(t)
	assert.Eventually(t, func() bool { return h.view.Len() == 1 }, time.Second, time.Millisecond)

	h.fetcher.set(entry("a"), entry("b"))
	h.tick(t)
	assert.Eventually(t, func() bool { return h.view.Len() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, h.ids())

	h.cancel()
	assert.NoError(t, <-h.result)
	assert.True(t, h.ticker.Stopped())
}

func TestPoller_RetriesTransientFailures(t *testing.T) {
	h := startPoller(t)
	h.fetcher.waitCall(t)

	h.fetcher.fail(types.ErrTransientNetwork, errors.New("unexpected EOF"))
	h.fetcher.set(entry("a"))
	h.tick(t)
	h.tick(t)
	assert.Zero(t, h.view.Len())

	h.tick(t)
	assert.Eventually(t, func() bool { return h.view.Len() == 1 }, time.Second, time.Millisecond)
}

func TestPoller_StopsOnTerminalError(t *testing.T) {
	h := startPoller(t)
	h.fetcher.waitCall(t)

	h.fetcher.fail(types.ErrForbidden)
	h.tick(t)

	select {
	case err := <-h.result:
		assert.ErrorIs(t, err, types.ErrForbidden)
	case <-time.After(time.Second):
		t.Fatal("poller kept running")
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

var upgrader = websocket.Upgrader{}

func TestStream_AppliesSnapshotsUntilClosed(t *testing.T) {
	t0 := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_ = conn.WriteJSON(types.PresenceSnapshot{SessionID: "s-1", Status: types.StatusActive, TakenAt: t0})
		_ = conn.WriteJSON(types.PresenceSnapshot{SessionID: "s-1", Status: types.StatusActive, Entries: []types.PresenceEntry{entry("a")}, TakenAt: t0.Add(time.Second)})
		_ = conn.WriteJSON(types.PresenceSnapshot{SessionID: "s-1", Status: types.StatusClosed, Entries: []types.PresenceEntry{entry("a")}, TakenAt: t0.Add(2 * time.Second)})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
	}))
	defer srv.Close()

	view := NewView("s-1")
	require.NoError(t, NewStream(wsURL(srv), view).Run(context.Background()))
	assert.True(t, view.Closed())
	assert.Equal(t, 1, view.Len())
}

func TestStream_ReconnectsAfterDrop(t *testing.T) {
	var connections atomic.Int32
	t0 := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		if connections.Add(1) == 1 {
			_ = conn.WriteJSON(types.PresenceSnapshot{SessionID: "s-1", Status: types.StatusActive, Entries: []types.PresenceEntry{entry("a")}, TakenAt: t0})
			_ = conn.UnderlyingConn().Close()
			return
		}
		_ = conn.WriteJSON(types.PresenceSnapshot{SessionID: "s-1", Status: types.StatusClosed, Entries: []types.PresenceEntry{entry("a"), entry("b")}, TakenAt: t0.Add(time.Second)})
	}))
	defer srv.Close()

	view := NewView("s-1")
	require.NoError(t, NewStream(wsURL(srv), view).Run(context.Background()))
	assert.Equal(t, int32(2), connections.Load())
	assert.Equal(t, 2, view.Len())
	assert.True(t, view.Closed())
}

func TestStream_RefusedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Forbidden","code":403,"kind":"forbidden","message":"session belongs to another presenter"}`))
	}))
	defer srv.Close()

	err := NewStream(wsURL(srv), NewView("s-1")).Run(context.Background())
	assert.ErrorIs(t, err, types.ErrForbidden)
}

func TestStream_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewStream(wsURL(srv), NewView("s-1")).Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}
}
