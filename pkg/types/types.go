package types

import (
	"time"
)

// Session status values. A session transitions from active to closed exactly once.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Close reasons recorded when a session leaves the active state.
const (
	CloseReasonManual  = "manual"
	CloseReasonExpired = "expired"
)

// Account roles carried in bearer tokens.
const (
	RolePresenter   = "presenter"
	RoleParticipant = "participant"
	RoleAdmin       = "admin"
)

// OutcomePresent is the only outcome an attendance mark can carry. Absence is
// derived by reporting as "enrolled but no mark for this session".
const OutcomePresent = "present"

// Session is a single time-boxed attendance window for one class/subject pair.
// Immutable after creation except for EndTime, Status and CloseReason.
type Session struct {
	ID          string     `json:"id"`
	PresenterID string     `json:"presenterId"`
	ClassID     string     `json:"classId"`
	SubjectID   string     `json:"subjectId"`
	ClassName   string     `json:"className"`
	SubjectName string     `json:"subjectName"`
	Code        string     `json:"code"`
	StartTime   time.Time  `json:"startTime"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Status      string     `json:"status"`
	CloseReason string     `json:"closeReason,omitempty"`
}

// Label returns the human readable "class — subject" label shown to presenters.
func (s *Session) Label() string {
	return s.ClassName + " — " + s.SubjectName
}

// IsOpen reports whether the session accepts activity at the given instant.
// A session past its window is treated as closed even before the sweeper
// has persisted the transition.
func (s *Session) IsOpen(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.ExpiresAt)
}

// Remaining returns the time left in the window, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	if !s.IsOpen(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// AttendanceMark records that a participant was present in a session.
// At most one exists per (SessionID, ParticipantID).
type AttendanceMark struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	ParticipantID string    `json:"participantId"`
	MarkedAt      time.Time `json:"markedAt"`
	Outcome       string    `json:"outcome"`
}

// PresenceEntry is one row of the presenter's "who is present" view.
type PresenceEntry struct {
	ParticipantID string    `json:"participantId"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	MarkedAt      time.Time `json:"timestamp"`
}

// PresenceSnapshot is a complete view of a session's marks. Every update
// delivered to a presenter is a full snapshot, never a delta.
type PresenceSnapshot struct {
	SessionID string          `json:"sessionId"`
	Status    string          `json:"status"`
	Entries   []PresenceEntry `json:"entries"`
	TakenAt   time.Time       `json:"takenAt"`
}

// Class is a group of enrolled participants.
type Class struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Subject belongs to exactly one class.
type Subject struct {
	ID      string `json:"id" yaml:"id"`
	ClassID string `json:"classId" yaml:"class_id"`
	Name    string `json:"name" yaml:"name"`
	Code    string `json:"code" yaml:"code"`
}

// Account is a login identity. Participant accounts share their ID with the
// Participant record.
type Account struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	PasswordHash string `json:"-"`
}

// Participant is a student enrolled in one class. Profile holds the opaque
// biometric profile returned by the verifier at registration.
type Participant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	ClassID string `json:"classId"`
	Profile []byte `json:"-"`
}

// Registered reports whether the participant has a biometric profile on file.
func (p *Participant) Registered() bool {
	return len(p.Profile) > 0
}

// Assignment grants a presenter the right to open sessions for a subject.
type Assignment struct {
	PresenterID string `json:"presenterId"`
	ClassID     string `json:"classId"`
	SubjectID   string `json:"subjectId"`
}

// Scope is an assignment enriched with display names.
type Scope struct {
	ClassID     string `json:"classId"`
	ClassName   string `json:"className"`
	SubjectID   string `json:"subjectId"`
	SubjectName string `json:"subjectName"`
	SubjectCode string `json:"subjectCode"`
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Email string `json:"email"`
}
