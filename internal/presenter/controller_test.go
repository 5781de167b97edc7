package presenter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/internal/clock"
	"attendance/pkg/types"
)

type fakeAPI struct {
	mu       sync.Mutex
	sessions map[string]*types.SessionResponse
	marks    map[string][]types.PresenceEntry
	ends     map[string]int
	polls    chan string
	startErr error
	marksErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		sessions: make(map[string]*types.SessionResponse),
		marks:    make(map[string][]types.PresenceEntry),
		ends:     make(map[string]int),
		polls:    make(chan string, 256),
	}
}

func (f *fakeAPI) StartSession(_ context.Context, classID, subjectID string) (*types.SessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	now := time.Now().UTC()
	s := &types.Session{
		ID:        fmt.Sprintf("%s-%s-%d", classID, subjectID, len(f.sessions)),
		ClassID:   classID,
		SubjectID: subjectID,
		Code:      "123456",
		Status:    types.StatusActive,
		StartTime: now,
		ExpiresAt: now.Add(60 * time.Second),
	}
	resp := types.NewSessionResponse(s)
	f.sessions[s.ID] = resp
	return resp, nil
}

func (f *fakeAPI) EndSession(_ context.Context, sessionID string) (*types.SessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends[sessionID]++
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, types.ErrNotFound
	}
	closed := *s
	closed.Status = types.StatusClosed
	return &closed, nil
}

func (f *fakeAPI) Marks(_ context.Context, sessionID string) ([]types.PresenceEntry, error) {
	defer func() { f.polls <- sessionID }()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marksErr != nil {
		return nil, f.marksErr
	}
	return append([]types.PresenceEntry(nil), f.marks[sessionID]...), nil
}

func (f *fakeAPI) failMarks(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marksErr = err
}

func (f *fakeAPI) mark(sessionID, participantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks[sessionID] = append(f.marks[sessionID], types.PresenceEntry{ParticipantID: participantID, MarkedAt: time.Now().UTC()})
}

func (f *fakeAPI) endCalls(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ends[sessionID]
}

func (f *fakeAPI) waitPoll(t *testing.T) {
	t.Helper()
	select {
	case <-f.polls:
	case <-time.After(time.Second):
		t.Fatal("no presence poll")
	}
}

// tickers hands out one manual ticker per constructor call.
type tickers struct {
	mu  sync.Mutex
	all []*clock.Manual
}

func (tk *tickers) New(time.Duration) clock.Ticker {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	m := clock.NewManual()
	tk.all = append(tk.all, m)
	return m
}

func (tk *tickers) get(t *testing.T, i int) *clock.Manual {
	t.Helper()
	var m *clock.Manual
	require.Eventually(t, func() bool {
		tk.mu.Lock()
		defer tk.mu.Unlock()
		if len(tk.all) > i {
			m = tk.all[i]
			return true
		}
		return false
	}, time.Second, time.Millisecond)
	return m
}

type fixture struct {
	api        *fakeAPI
	countdowns *tickers
	polls      *tickers
	controller *Controller
}

func newFixture(opts ...func(*Options)) *fixture {
	f := &fixture{api: newFakeAPI(), countdowns: &tickers{}, polls: &tickers{}}
	o := Options{
		CountdownTicker: f.countdowns.New,
		PollTicker:      f.polls.New,
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.controller = NewController(f.api, o)
	return f
}

func TestController_ExpiryEndsOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	session, err := f.controller.Start(ctx, "10-a", "math")
	require.NoError(t, err)
	f.api.waitPoll(t)
	require.Len(t, f.controller.Active(), 1)

	f.api.mark(session.ID, "student-a")
	countdown := f.countdowns.get(t, 0)
	for i := 0; i < 60; i++ {
		countdown.Tick(time.Now())
	}

	outcome, err := f.controller.Wait(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CloseReasonExpired, outcome.Reason)
	assert.Equal(t, types.StatusClosed, outcome.Session.Status)
	assert.Equal(t, types.StatusClosed, outcome.Presence.Status)
	require.Len(t, outcome.Presence.Entries, 1)
	assert.Equal(t, "student-a", outcome.Presence.Entries[0].ParticipantID)
	assert.NoError(t, outcome.EndErr)

	assert.Equal(t, 1, f.api.endCalls(session.ID))
	assert.Empty(t, f.controller.Active())
	assert.True(t, f.polls.get(t, 0).Stopped())

	require.NoError(t, f.controller.End(ctx, session.ID))
	assert.Equal(t, 1, f.api.endCalls(session.ID))
}

func TestController_ManualEndCancelsBothTasks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	session, err := f.controller.Start(ctx, "10-a", "math")
	require.NoError(t, err)
	f.api.waitPoll(t)

	countdown := f.countdowns.get(t, 0)
	for i := 0; i < 10; i++ {
		countdown.Tick(time.Now())
	}
	remaining, ok := f.controller.Remaining(session.ID)
	require.True(t, ok)
	assert.LessOrEqual(t, remaining, 51*time.Second)

	require.NoError(t, f.controller.End(ctx, session.ID))

	outcome, err := f.controller.Wait(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CloseReasonManual, outcome.Reason)
	assert.Equal(t, 1, f.api.endCalls(session.ID))
	assert.True(t, countdown.Stopped())
	assert.True(t, f.polls.get(t, 0).Stopped())
	assert.Empty(t, f.controller.Active())
}

func TestController_PollingRefreshesView(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	session, err := f.controller.Start(ctx, "10-a", "math")
	require.NoError(t, err)
	defer f.controller.Close(ctx)
	f.api.waitPoll(t)

	view, ok := f.controller.View(session.ID)
	require.True(t, ok)
	assert.Zero(t, view.Len())

	f.api.mark(session.ID, "student-a")
	f.polls.get(t, 0).Tick(time.Now())
	f.api.waitPoll(t)
	assert.Eventually(t, func() bool { return view.Len() == 1 }, time.Second, time.Millisecond)
}

func TestController_SessionsAreIndependent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	math, err := f.controller.Start(ctx, "10-a", "math")
	require.NoError(t, err)
	bio, err := f.controller.Start(ctx, "10-a", "bio")
	require.NoError(t, err)

	require.NoError(t, f.controller.End(ctx, math.ID))

	active := f.controller.Active()
	require.Len(t, active, 1)
	assert.Equal(t, bio.ID, active[0].ID)

	f.controller.Close(ctx)
	assert.Empty(t, f.controller.Active())
	assert.Equal(t, 1, f.api.endCalls(bio.ID))
}

func TestController_StartFailure(t *testing.T) {
	f := newFixture()
	f.api.startErr = fmt.Errorf("%w: a session is already open for 10-A — Math", types.ErrConflict)

	_, err := f.controller.Start(context.Background(), "10-a", "math")
	assert.ErrorIs(t, err, types.ErrConflict)
	assert.Empty(t, f.controller.Active())
}

func TestController_UnknownSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.ErrorIs(t, f.controller.End(ctx, "missing"), ErrUnknownSession)
	_, err := f.controller.Wait(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestController_WaitHonoursContext(t *testing.T) {
	f := newFixture()
	session, err := f.controller.Start(context.Background(), "10-a", "math")
	require.NoError(t, err)
	defer f.controller.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.controller.Wait(ctx, session.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestController_FailedFinalFetchStillSignals(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	session, err := f.controller.Start(ctx, "10-a", "math")
	require.NoError(t, err)
	f.api.waitPoll(t)

	view, ok := f.controller.View(session.ID)
	require.True(t, ok)
	select {
	case <-view.Changed():
	case <-time.After(time.Second):
		t.Fatal("first poll did not reach the view")
	}

	f.api.failMarks(fmt.Errorf("%w: connection reset", types.ErrTransientNetwork))
	done, ok := f.controller.Done(session.ID)
	require.True(t, ok)
	require.NoError(t, f.controller.End(ctx, session.ID))

	select {
	case <-view.Changed():
	case <-time.After(time.Second):
		t.Fatal("view stayed silent after the session finished")
	}
	assert.True(t, view.Closed())

	select {
	case <-done:
	default:
		t.Fatal("done not closed after End")
	}
	outcome, err := f.controller.Wait(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusClosed, outcome.Presence.Status)
}

func TestController_FinalSnapshotNotOlderThanView(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	session, err := f.controller.Start(ctx, "10-a", "math")
	require.NoError(t, err)
	f.api.waitPoll(t)

	// A snapshot stamped by a server clock running ahead of ours.
	view, ok := f.controller.View(session.ID)
	require.True(t, ok)
	ahead := time.Now().UTC().Add(time.Hour)
	require.True(t, view.Replace(types.PresenceSnapshot{
		SessionID: session.ID,
		Status:    types.StatusActive,
		TakenAt:   ahead,
	}))

	f.api.mark(session.ID, "student-a")
	require.NoError(t, f.controller.End(ctx, session.ID))

	outcome, err := f.controller.Wait(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, outcome.Presence.Entries, 1)
	assert.Equal(t, "student-a", outcome.Presence.Entries[0].ParticipantID)
	assert.False(t, outcome.Presence.TakenAt.Before(ahead))
}

func TestController_ForgetsOldestFinished(t *testing.T) {
	f := newFixture(func(o *Options) { o.KeepFinished = 2 })
	ctx := context.Background()

	var ids []string
	for _, subject := range []string{"math", "bio", "chem"} {
		s, err := f.controller.Start(ctx, "10-a", subject)
		require.NoError(t, err)
		require.NoError(t, f.controller.End(ctx, s.ID))
		ids = append(ids, s.ID)
	}

	_, err := f.controller.Wait(ctx, ids[0])
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, ok := f.controller.View(ids[0])
	assert.False(t, ok)

	for _, id := range ids[1:] {
		outcome, err := f.controller.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.CloseReasonManual, outcome.Reason)
	}

	f.controller.mu.Lock()
	assert.Len(t, f.controller.tasks, 2)
	f.controller.mu.Unlock()
}
