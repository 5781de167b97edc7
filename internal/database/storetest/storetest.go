// Package storetest holds the behaviour every interfaces.Store implementation must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

// Factory returns a fresh, empty store. The store is closed by the suite.
type Factory func(t *testing.T) interfaces.Store

// Fixture ids seeded by Seed.
const (
	ClassID      = "10-a"
	MathID       = "math"
	BiologyID    = "bio"
	PresenterA   = "teacher-a"
	PresenterB   = "teacher-b"
	StudentA     = "student-a"
	StudentB     = "student-b"
	Unregistered = "student-c"
	OtherClassID = "11-b"
	OutsiderID   = "student-d"
)

// Seed loads a small roster: class 10-A with Math and Biology, two presenters
// assigned to Math, two registered students, one unregistered student and one
// student of another class.
func Seed(t *testing.T, store interfaces.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateClass(ctx, &types.Class{ID: ClassID, Name: "10-A"}))
	require.NoError(t, store.CreateClass(ctx, &types.Class{ID: OtherClassID, Name: "11-B"}))
	require.NoError(t, store.CreateSubject(ctx, &types.Subject{ID: MathID, ClassID: ClassID, Name: "Math", Code: "MTH"}))
	require.NoError(t, store.CreateSubject(ctx, &types.Subject{ID: BiologyID, ClassID: ClassID, Name: "Biology", Code: "BIO"}))

	for _, a := range []*types.Account{
		{ID: PresenterA, Email: "a@school.test", Name: "Teacher A", Role: types.RolePresenter},
		{ID: PresenterB, Email: "b@school.test", Name: "Teacher B", Role: types.RolePresenter},
		{ID: StudentA, Email: "sa@school.test", Name: "Student A", Role: types.RoleParticipant},
		{ID: StudentB, Email: "sb@school.test", Name: "Student B", Role: types.RoleParticipant},
		{ID: Unregistered, Email: "sc@school.test", Name: "Student C", Role: types.RoleParticipant},
		{ID: OutsiderID, Email: "sd@school.test", Name: "Student D", Role: types.RoleParticipant},
	} {
		require.NoError(t, store.CreateAccount(ctx, a))
	}

	require.NoError(t, store.EnrollParticipant(ctx, &types.Participant{ID: StudentA, ClassID: ClassID, Profile: []byte("profile-a")}))
	require.NoError(t, store.EnrollParticipant(ctx, &types.Participant{ID: StudentB, ClassID: ClassID, Profile: []byte("profile-b")}))
	require.NoError(t, store.EnrollParticipant(ctx, &types.Participant{ID: Unregistered, ClassID: ClassID}))
	require.NoError(t, store.EnrollParticipant(ctx, &types.Participant{ID: OutsiderID, ClassID: OtherClassID, Profile: []byte("profile-d")}))

	require.NoError(t, store.AssignSubject(ctx, &types.Assignment{PresenterID: PresenterA, ClassID: ClassID, SubjectID: MathID}))
	require.NoError(t, store.AssignSubject(ctx, &types.Assignment{PresenterID: PresenterA, ClassID: ClassID, SubjectID: BiologyID}))
	require.NoError(t, store.AssignSubject(ctx, &types.Assignment{PresenterID: PresenterB, ClassID: ClassID, SubjectID: MathID}))
}

// NewSession builds an active session starting at now.
func NewSession(subjectID, code string, now time.Time) *types.Session {
	return &types.Session{
		ID:          uuid.New().String(),
		PresenterID: PresenterA,
		ClassID:     ClassID,
		SubjectID:   subjectID,
		Code:        code,
		StartTime:   now,
		ExpiresAt:   now.Add(time.Minute),
		Status:      types.StatusActive,
	}
}

func newMark(sessionID, participantID string, now time.Time) *types.AttendanceMark {
	return &types.AttendanceMark{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		ParticipantID: participantID,
		MarkedAt:      now,
		Outcome:       types.OutcomePresent,
	}
}

// Run executes the shared store suite against stores built by factory.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	setup := func(t *testing.T) interfaces.Store {
		store := factory(t)
		t.Cleanup(func() { _ = store.Close() })
		Seed(t, store)
		return store
	}

	t.Run("create and get session", func(t *testing.T) {
		store := setup(t)
		s := NewSession(MathID, "123456", now)
		require.NoError(t, store.CreateSession(ctx, s))

		got, err := store.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)
		assert.Equal(t, "10-A", got.ClassName)
		assert.Equal(t, "Math", got.SubjectName)
		assert.Equal(t, types.StatusActive, got.Status)
		assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
		assert.Nil(t, got.EndTime)
	})

	t.Run("get missing session", func(t *testing.T) {
		store := setup(t)
		_, err := store.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("one active session per scope", func(t *testing.T) {
		store := setup(t)
		require.NoError(t, store.CreateSession(ctx, NewSession(MathID, "111111", now)))

		err := store.CreateSession(ctx, NewSession(MathID, "222222", now))
		assert.ErrorIs(t, err, interfaces.ErrActiveSessionExists)
		assert.ErrorIs(t, err, types.ErrConflict)

		assert.NoError(t, store.CreateSession(ctx, NewSession(BiologyID, "333333", now)))
	})

	t.Run("active code collision across scopes", func(t *testing.T) {
		store := setup(t)
		require.NoError(t, store.CreateSession(ctx, NewSession(MathID, "111111", now)))
		err := store.CreateSession(ctx, NewSession(BiologyID, "111111", now))
		assert.ErrorIs(t, err, interfaces.ErrCodeInUse)
	})

	t.Run("closed session frees code and scope", func(t *testing.T) {
		store := setup(t)
		first := NewSession(MathID, "111111", now)
		require.NoError(t, store.CreateSession(ctx, first))
		closed, err := store.CloseSession(ctx, first.ID, now.Add(time.Second), types.CloseReasonManual)
		require.NoError(t, err)
		require.True(t, closed)

		second := NewSession(MathID, "111111", now.Add(2*time.Second))
		require.NoError(t, store.CreateSession(ctx, second))

		got, err := store.FindActiveByCode(ctx, "111111")
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
	})

	t.Run("find by code never returns closed session", func(t *testing.T) {
		store := setup(t)
		s := NewSession(MathID, "424242", now)
		require.NoError(t, store.CreateSession(ctx, s))
		_, err := store.CloseSession(ctx, s.ID, now, types.CloseReasonExpired)
		require.NoError(t, err)

		_, err = store.FindActiveByCode(ctx, "424242")
		assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
		_, err = store.FindActiveByScope(ctx, ClassID, MathID)
		assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
	})

	t.Run("close is compare and swap", func(t *testing.T) {
		store := setup(t)
		s := NewSession(MathID, "555555", now)
		require.NoError(t, store.CreateSession(ctx, s))

		closed, err := store.CloseSession(ctx, s.ID, now.Add(time.Second), types.CloseReasonManual)
		require.NoError(t, err)
		assert.True(t, closed)

		closed, err = store.CloseSession(ctx, s.ID, now.Add(2*time.Second), types.CloseReasonExpired)
		require.NoError(t, err)
		assert.False(t, closed)

		got, err := store.GetSession(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, types.StatusClosed, got.Status)
		assert.Equal(t, types.CloseReasonManual, got.CloseReason)
		require.NotNil(t, got.EndTime)
		assert.True(t, got.EndTime.Equal(now.Add(time.Second)))

		_, err = store.CloseSession(ctx, "missing", now, types.CloseReasonManual)
		assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
	})

	t.Run("list active sessions", func(t *testing.T) {
		store := setup(t)
		a := NewSession(MathID, "100001", now)
		b := NewSession(BiologyID, "100002", now.Add(time.Second))
		require.NoError(t, store.CreateSession(ctx, a))
		require.NoError(t, store.CreateSession(ctx, b))
		_, err := store.CloseSession(ctx, a.ID, now, types.CloseReasonManual)
		require.NoError(t, err)

		active, err := store.ListActiveSessions(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, b.ID, active[0].ID)
	})

	t.Run("insert mark is idempotent", func(t *testing.T) {
		store := setup(t)
		s := NewSession(MathID, "777777", now)
		require.NoError(t, store.CreateSession(ctx, s))

		first, created, err := store.InsertMark(ctx, newMark(s.ID, StudentA, now), now)
		require.NoError(t, err)
		assert.True(t, created)

		second, created, err := store.InsertMark(ctx, newMark(s.ID, StudentA, now.Add(time.Second)), now.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, first.MarkedAt.Equal(second.MarkedAt))

		got, err := store.GetMark(ctx, s.ID, StudentA)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		_, err = store.GetMark(ctx, s.ID, StudentB)
		assert.ErrorIs(t, err, interfaces.ErrRecordNotFound)
	})

	t.Run("concurrent inserts record one mark", func(t *testing.T) {
		store := setup(t)
		s := NewSession(MathID, "888888", now)
		require.NoError(t, store.CreateSession(ctx, s))

		const attempts = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ids     = map[string]bool{}
			created int
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				mark, ok, err := store.InsertMark(ctx, newMark(s.ID, StudentA, now), now)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				ids[mark.ID] = true
				if ok {
					created++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Len(t, ids, 1)

		entries, err := store.ListPresence(ctx, s.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("insert mark rejected on closed or expired session", func(t *testing.T) {
		store := setup(t)
		s := NewSession(MathID, "999999", now)
		require.NoError(t, store.CreateSession(ctx, s))

		_, _, err := store.InsertMark(ctx, newMark(s.ID, StudentA, now), s.ExpiresAt)
		assert.ErrorIs(t, err, interfaces.ErrSessionNotOpen)
		assert.ErrorIs(t, err, types.ErrSessionClosed)

		_, err = store.CloseSession(ctx, s.ID, now, types.CloseReasonManual)
		require.NoError(t, err)
		_, _, err = store.InsertMark(ctx, newMark(s.ID, StudentA, now), now)
		assert.ErrorIs(t, err, interfaces.ErrSessionNotOpen)

		_, _, err = store.InsertMark(ctx, newMark("missing", StudentA, now), now)
		assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
	})

	t.Run("presence lists marks with participant details", func(t *testing.T) {
		store := setup(t)
		s := NewSession(MathID, "246810", now)
		require.NoError(t, store.CreateSession(ctx, s))

		_, _, err := store.InsertMark(ctx, newMark(s.ID, StudentB, now.Add(time.Second)), now.Add(time.Second))
		require.NoError(t, err)
		_, _, err = store.InsertMark(ctx, newMark(s.ID, StudentA, now.Add(2*time.Second)), now.Add(2*time.Second))
		require.NoError(t, err)

		entries, err := store.ListPresence(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, StudentB, entries[0].ParticipantID)
		assert.Equal(t, "Student B", entries[0].Name)
		assert.Equal(t, "sb@school.test", entries[0].Email)
		assert.Equal(t, StudentA, entries[1].ParticipantID)

		empty, err := store.ListPresence(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, empty)

		marks, err := store.ListMarksByParticipant(ctx, StudentA)
		require.NoError(t, err)
		require.Len(t, marks, 1)
		assert.Equal(t, s.ID, marks[0].SessionID)
	})

	t.Run("sessions by scope oldest first", func(t *testing.T) {
		store := setup(t)
		first := NewSession(MathID, "135790", now)
		require.NoError(t, store.CreateSession(ctx, first))
		_, err := store.CloseSession(ctx, first.ID, now, types.CloseReasonManual)
		require.NoError(t, err)
		second := NewSession(MathID, "135791", now.Add(time.Minute))
		require.NoError(t, store.CreateSession(ctx, second))

		sessions, err := store.ListSessionsByScope(ctx, ClassID, MathID)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, first.ID, sessions[0].ID)
		assert.Equal(t, second.ID, sessions[1].ID)
	})

	t.Run("roster lookups", func(t *testing.T) {
		store := setup(t)

		class, err := store.GetClass(ctx, ClassID)
		require.NoError(t, err)
		assert.Equal(t, "10-A", class.Name)

		subject, err := store.GetSubject(ctx, MathID)
		require.NoError(t, err)
		assert.Equal(t, ClassID, subject.ClassID)

		subjects, err := store.ListSubjects(ctx, ClassID)
		require.NoError(t, err)
		assert.Len(t, subjects, 2)

		account, err := store.GetAccountByEmail(ctx, "a@school.test")
		require.NoError(t, err)
		assert.Equal(t, PresenterA, account.ID)

		_, err = store.GetAccount(ctx, "nobody")
		assert.ErrorIs(t, err, types.ErrNotFound)

		p, err := store.GetParticipant(ctx, StudentA)
		require.NoError(t, err)
		assert.Equal(t, "Student A", p.Name)
		assert.True(t, p.Registered())

		p, err = store.GetParticipant(ctx, Unregistered)
		require.NoError(t, err)
		assert.False(t, p.Registered())

		participants, err := store.ListParticipants(ctx, ClassID)
		require.NoError(t, err)
		assert.Len(t, participants, 3)

		scopes, err := store.ListScopes(ctx, PresenterA)
		require.NoError(t, err)
		assert.Len(t, scopes, 2)

		scopes, err = store.ListScopes(ctx, PresenterB)
		require.NoError(t, err)
		require.Len(t, scopes, 1)
		assert.Equal(t, "Math", scopes[0].SubjectName)
	})

	t.Run("set profile", func(t *testing.T) {
		store := setup(t)
		require.NoError(t, store.SetProfile(ctx, Unregistered, []byte("new-profile")))
		p, err := store.GetParticipant(ctx, Unregistered)
		require.NoError(t, err)
		assert.Equal(t, []byte("new-profile"), p.Profile)

		err = store.SetProfile(ctx, "missing", []byte("x"))
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("duplicate account email", func(t *testing.T) {
		store := setup(t)
		err := store.CreateAccount(ctx, &types.Account{ID: "dup", Email: "a@school.test", Name: "Dup", Role: types.RolePresenter})
		assert.ErrorIs(t, err, types.ErrConflict)
	})

	t.Run("health check", func(t *testing.T) {
		store := setup(t)
		assert.NoError(t, store.HealthCheck(ctx))
	})
}
