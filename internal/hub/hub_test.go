package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/database/memstore"
	"attendance/internal/database/storetest"
	"attendance/internal/websocket"
	"attendance/pkg/types"
)

type fixture struct {
	store    *memstore.Store
	registry *websocket.Registry
	hub      *Hub
	session  *types.Session
	url      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memstore.New()
	storetest.Seed(t, store)
	session := storetest.NewSession(storetest.MathID, "246810", time.Now().UTC())
	require.NoError(t, store.CreateSession(ctx, session))

	registry := websocket.NewRegistry()
	h := NewHub(store, registry)
	require.NoError(t, h.Start(ctx))
	t.Cleanup(func() { _ = h.Stop() })

	handler := websocket.NewHandler(h, time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Serve(w, r, storetest.PresenterA, r.URL.Query().Get("session"))
	}))
	t.Cleanup(srv.Close)

	return &fixture{
		store:    store,
		registry: registry,
		hub:      h,
		session:  session,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *fixture) dial(t *testing.T, sessionID string) *gorilla.Conn {
	t.Helper()
	conn, _, err := gorilla.DefaultDialer.Dial(f.url+"?session="+sessionID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *fixture) mark(t *testing.T, participantID string) {
	t.Helper()
	now := time.Now().UTC()
	_, _, err := f.store.InsertMark(context.Background(), &types.AttendanceMark{
		ID:            uuid.New().String(),
		SessionID:     f.session.ID,
		ParticipantID: participantID,
		MarkedAt:      now,
		Outcome:       types.OutcomePresent,
	}, now)
	require.NoError(t, err)
}

func readSnapshot(t *testing.T, conn *gorilla.Conn) types.PresenceSnapshot {
	t.Helper()
	var snap types.PresenceSnapshot
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	return snap
}

func waitRegistered(t *testing.T, registry *websocket.Registry, sessionID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(registry.GetSessionConnections(sessionID)) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(memstore.New(), websocket.NewRegistry())

	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)
	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubAlreadyRunning)
	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Subscribe(nil), ErrHubNotRunning)
}

func TestHub_SnapshotOnConnectAndAfterMarks(t *testing.T) {
	f := newFixture(t)
	f.mark(t, storetest.StudentA)

	conn := f.dial(t, f.session.ID)
	snap := readSnapshot(t, conn)
	assert.Equal(t, f.session.ID, snap.SessionID)
	assert.Equal(t, types.StatusActive, snap.Status)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, storetest.StudentA, snap.Entries[0].ParticipantID)

	waitRegistered(t, f.registry, f.session.ID, 1)

	f.mark(t, storetest.StudentB)
	f.hub.MarkRecorded(f.session.ID)

	snap = readSnapshot(t, conn)
	require.Len(t, snap.Entries, 2, "every update is a full snapshot")
	assert.Equal(t, storetest.StudentA, snap.Entries[0].ParticipantID)
	assert.Equal(t, storetest.StudentB, snap.Entries[1].ParticipantID)
}

func TestHub_SessionClosedSendsFinalSnapshot(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.session.ID)
	readSnapshot(t, conn)
	waitRegistered(t, f.registry, f.session.ID, 1)

	_, err := f.store.CloseSession(context.Background(), f.session.ID, time.Now(), types.CloseReasonManual)
	require.NoError(t, err)
	f.hub.SessionClosed(f.session.ID)

	snap := readSnapshot(t, conn)
	assert.Equal(t, types.StatusClosed, snap.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, gorilla.IsCloseError(err, gorilla.CloseNormalClosure), "got %v", err)
	waitRegistered(t, f.registry, f.session.ID, 0)
}

func TestHub_SubscribeToClosedSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.CloseSession(context.Background(), f.session.ID, time.Now(), types.CloseReasonExpired)
	require.NoError(t, err)

	conn := f.dial(t, f.session.ID)
	snap := readSnapshot(t, conn)
	assert.Equal(t, types.StatusClosed, snap.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, gorilla.IsCloseError(err, gorilla.CloseNormalClosure), "got %v", err)
	assert.Empty(t, f.registry.GetSessionConnections(f.session.ID))
}

func TestHub_UnknownSessionIsClosed(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "missing")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_StopClosesStreams(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.session.ID)
	readSnapshot(t, conn)
	waitRegistered(t, f.registry, f.session.ID, 1)

	require.NoError(t, f.hub.Stop())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, f.registry.GetStats()["total_connections"])
}

func TestHub_Snapshot(t *testing.T) {
	f := newFixture(t)
	f.mark(t, storetest.StudentB)

	snap, err := f.hub.Snapshot(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, snap.Status)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "Student B", snap.Entries[0].Name)

	f.hub.now = func() time.Time { return f.session.ExpiresAt }
	snap, err = f.hub.Snapshot(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, snap.Status, "window elapsed reads as closed")

	_, err = f.hub.Snapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
