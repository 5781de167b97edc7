package interfaces

import (
	"context"
	"time"

	"attendance/pkg/types"
)

// SessionStore is the durable record of sessions and their attendance marks.
// Implementations enforce the active-scope, active-code and one-mark-per-participant
// constraints themselves; callers never lock.
type SessionStore interface {
	// CreateSession persists an active session. Returns ErrActiveSessionExists
	// when the scope already has an active session and ErrCodeInUse when the
	// code belongs to another active session.
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession returns a session by id or ErrSessionNotFound.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// FindActiveByCode returns the active session carrying code or ErrSessionNotFound.
	// Closed sessions never match.
	FindActiveByCode(ctx context.Context, code string) (*types.Session, error)

	// FindActiveByScope returns the active session for a class/subject pair or ErrSessionNotFound.
	FindActiveByScope(ctx context.Context, classID, subjectID string) (*types.Session, error)

	// ListActiveSessions returns every session whose status is active,
	// including ones past their window that have not been swept yet.
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// ListSessionsByScope returns all sessions for a class/subject pair, oldest first.
	ListSessionsByScope(ctx context.Context, classID, subjectID string) ([]*types.Session, error)

	// CloseSession moves an active session to closed. It reports false without
	// error when the session was already closed.
	CloseSession(ctx context.Context, sessionID string, endTime time.Time, reason string) (bool, error)

	// InsertMark records mark only if the session is active and now is inside
	// its window. When a mark already exists for the participant it is returned
	// with created=false. Returns ErrSessionNotOpen if the session is closed or expired.
	InsertMark(ctx context.Context, mark *types.AttendanceMark, now time.Time) (existing *types.AttendanceMark, created bool, err error)

	// GetMark returns the participant's mark for a session or ErrRecordNotFound.
	GetMark(ctx context.Context, sessionID, participantID string) (*types.AttendanceMark, error)

	// ListPresence returns every mark of a session joined with participant details, in mark order.
	ListPresence(ctx context.Context, sessionID string) ([]types.PresenceEntry, error)

	// ListMarksByParticipant returns every mark a participant holds.
	ListMarksByParticipant(ctx context.Context, participantID string) ([]*types.AttendanceMark, error)
}

// Roster holds the record-management data the protocol reads: classes,
// subjects, accounts, enrollment and presenter assignments.
type Roster interface {
	CreateClass(ctx context.Context, class *types.Class) error
	GetClass(ctx context.Context, classID string) (*types.Class, error)

	CreateSubject(ctx context.Context, subject *types.Subject) error
	GetSubject(ctx context.Context, subjectID string) (*types.Subject, error)
	ListSubjects(ctx context.Context, classID string) ([]*types.Subject, error)

	CreateAccount(ctx context.Context, account *types.Account) error
	GetAccount(ctx context.Context, accountID string) (*types.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*types.Account, error)

	// EnrollParticipant creates the participant record for an existing account.
	EnrollParticipant(ctx context.Context, participant *types.Participant) error
	GetParticipant(ctx context.Context, participantID string) (*types.Participant, error)
	ListParticipants(ctx context.Context, classID string) ([]*types.Participant, error)
	SetProfile(ctx context.Context, participantID string, profile []byte) error

	AssignSubject(ctx context.Context, assignment *types.Assignment) error
	ListScopes(ctx context.Context, presenterID string) ([]types.Scope, error)
}

// Store is the full persistence surface used by the server.
type Store interface {
	SessionStore
	Roster

	// HealthCheck verifies the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the store. Pending writes complete first.
	Close() error
}
