// Package memstore is an in-memory interfaces.Store used by tests and by
// `serve --store=memory`.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

var _ interfaces.Store = (*Store)(nil)

type markKey struct {
	sessionID     string
	participantID string
}

// Store keeps every record in maps guarded by one mutex. Holding the lock
// across check and insert gives the same guarantees as the SQL constraints.
type Store struct {
	mu sync.RWMutex

	classes      map[string]types.Class
	subjects     map[string]types.Subject
	accounts     map[string]types.Account
	participants map[string]types.Participant
	assignments  map[string]types.Assignment

	sessions     map[string]types.Session
	activeCode   map[string]string
	activeScope  map[string]string
	marks        map[markKey]types.AttendanceMark
	markSequence []markKey

	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		classes:      make(map[string]types.Class),
		subjects:     make(map[string]types.Subject),
		accounts:     make(map[string]types.Account),
		participants: make(map[string]types.Participant),
		assignments:  make(map[string]types.Assignment),
		sessions:     make(map[string]types.Session),
		activeCode:   make(map[string]string),
		activeScope:  make(map[string]string),
		marks:        make(map[markKey]types.AttendanceMark),
	}
}

func scopeKey(classID, subjectID string) string {
	return classID + "\x00" + subjectID
}

func copySession(s types.Session) *types.Session {
	if s.EndTime != nil {
		t := *s.EndTime
		s.EndTime = &t
	}
	return &s
}

// withNames fills display names. Callers hold at least the read lock.
func (s *Store) withNames(session types.Session) *types.Session {
	session.ClassName = s.classes[session.ClassID].Name
	session.SubjectName = s.subjects[session.SubjectID].Name
	return copySession(session)
}

func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("%w: session %s", interfaces.ErrDuplicateRecord, session.ID)
	}
	if _, ok := s.classes[session.ClassID]; !ok {
		return fmt.Errorf("%w: unknown class %s", types.ErrInvalidInput, session.ClassID)
	}
	if _, ok := s.subjects[session.SubjectID]; !ok {
		return fmt.Errorf("%w: unknown subject %s", types.ErrInvalidInput, session.SubjectID)
	}

	if session.Status == types.StatusActive {
		if _, ok := s.activeScope[scopeKey(session.ClassID, session.SubjectID)]; ok {
			return interfaces.ErrActiveSessionExists
		}
		if _, ok := s.activeCode[session.Code]; ok {
			return interfaces.ErrCodeInUse
		}
		s.activeScope[scopeKey(session.ClassID, session.SubjectID)] = session.ID
		s.activeCode[session.Code] = session.ID
	}

	stored := *session
	stored.StartTime = stored.StartTime.UTC()
	stored.ExpiresAt = stored.ExpiresAt.UTC()
	s.sessions[session.ID] = stored
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s.withNames(session), nil
}

func (s *Store) FindActiveByCode(ctx context.Context, code string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeCode[code]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s.withNames(s.sessions[id]), nil
}

func (s *Store) FindActiveByScope(ctx context.Context, classID, subjectID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeScope[scopeKey(classID, subjectID)]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return s.withNames(s.sessions[id]), nil
}

func (s *Store) collectSessions(match func(types.Session) bool) []*types.Session {
	var out []*types.Session
	for _, session := range s.sessions {
		if match(session) {
			out = append(out, s.withNames(session))
		}
	}
	return out
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.collectSessions(func(session types.Session) bool {
		return session.Status == types.StatusActive
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (s *Store) ListSessionsByScope(ctx context.Context, classID, subjectID string) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.collectSessions(func(session types.Session) bool {
		return session.ClassID == classID && session.SubjectID == subjectID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID string, endTime time.Time, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return false, interfaces.ErrSessionNotFound
	}
	if session.Status != types.StatusActive {
		return false, nil
	}

	end := endTime.UTC()
	session.Status = types.StatusClosed
	session.EndTime = &end
	session.CloseReason = reason
	s.sessions[sessionID] = session
	delete(s.activeCode, session.Code)
	delete(s.activeScope, scopeKey(session.ClassID, session.SubjectID))
	return true, nil
}

func (s *Store) InsertMark(ctx context.Context, mark *types.AttendanceMark, now time.Time) (*types.AttendanceMark, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[mark.SessionID]
	if !ok {
		return nil, false, interfaces.ErrSessionNotFound
	}
	if !session.IsOpen(now) {
		return nil, false, interfaces.ErrSessionNotOpen
	}
	if _, ok := s.participants[mark.ParticipantID]; !ok {
		return nil, false, fmt.Errorf("%w: unknown participant %s", types.ErrInvalidInput, mark.ParticipantID)
	}

	key := markKey{mark.SessionID, mark.ParticipantID}
	if existing, ok := s.marks[key]; ok {
		return &existing, false, nil
	}

	stored := *mark
	stored.MarkedAt = stored.MarkedAt.UTC()
	s.marks[key] = stored
	s.markSequence = append(s.markSequence, key)
	out := stored
	return &out, true, nil
}

func (s *Store) GetMark(ctx context.Context, sessionID, participantID string) (*types.AttendanceMark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mark, ok := s.marks[markKey{sessionID, participantID}]
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}
	return &mark, nil
}

// ListPresence returns marks in insertion order, which is also marked_at order
// because marks are stamped under the lock.
func (s *Store) ListPresence(ctx context.Context, sessionID string) ([]types.PresenceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []types.PresenceEntry{}
	for _, key := range s.markSequence {
		if key.sessionID != sessionID {
			continue
		}
		mark := s.marks[key]
		account := s.accounts[mark.ParticipantID]
		entries = append(entries, types.PresenceEntry{
			ParticipantID: mark.ParticipantID,
			Name:          account.Name,
			Email:         account.Email,
			MarkedAt:      mark.MarkedAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].MarkedAt.Before(entries[j].MarkedAt) })
	return entries, nil
}

func (s *Store) ListMarksByParticipant(ctx context.Context, participantID string) ([]*types.AttendanceMark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.AttendanceMark
	for _, key := range s.markSequence {
		if key.participantID != participantID {
			continue
		}
		mark := s.marks[key]
		out = append(out, &mark)
	}
	return out, nil
}

func (s *Store) CreateClass(ctx context.Context, class *types.Class) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.classes[class.ID]; ok {
		return fmt.Errorf("%w: class %s", interfaces.ErrDuplicateRecord, class.ID)
	}
	s.classes[class.ID] = *class
	return nil
}

func (s *Store) GetClass(ctx context.Context, classID string) (*types.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	class, ok := s.classes[classID]
	if !ok {
		return nil, fmt.Errorf("class: %w", interfaces.ErrRecordNotFound)
	}
	return &class, nil
}

func (s *Store) CreateSubject(ctx context.Context, subject *types.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subjects[subject.ID]; ok {
		return fmt.Errorf("%w: subject %s", interfaces.ErrDuplicateRecord, subject.ID)
	}
	if _, ok := s.classes[subject.ClassID]; !ok {
		return fmt.Errorf("%w: unknown class %s", types.ErrInvalidInput, subject.ClassID)
	}
	s.subjects[subject.ID] = *subject
	return nil
}

func (s *Store) GetSubject(ctx context.Context, subjectID string) (*types.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subject, ok := s.subjects[subjectID]
	if !ok {
		return nil, fmt.Errorf("subject: %w", interfaces.ErrRecordNotFound)
	}
	return &subject, nil
}

func (s *Store) ListSubjects(ctx context.Context, classID string) ([]*types.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Subject
	for _, subject := range s.subjects {
		if subject.ClassID == classID {
			subject := subject
			out = append(out, &subject)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return fmt.Errorf("%w: account %s", interfaces.ErrDuplicateRecord, account.ID)
	}
	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Email, account.Email) {
			return fmt.Errorf("%w: email %s", interfaces.ErrDuplicateRecord, account.Email)
		}
	}
	s.accounts[account.ID] = *account
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("account: %w", interfaces.ErrRecordNotFound)
	}
	return &account, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if strings.EqualFold(account.Email, email) {
			return &account, nil
		}
	}
	return nil, fmt.Errorf("account: %w", interfaces.ErrRecordNotFound)
}

func (s *Store) EnrollParticipant(ctx context.Context, p *types.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[p.ID]; ok {
		return fmt.Errorf("%w: participant %s", interfaces.ErrDuplicateRecord, p.ID)
	}
	if _, ok := s.accounts[p.ID]; !ok {
		return fmt.Errorf("%w: no account %s", types.ErrInvalidInput, p.ID)
	}
	if _, ok := s.classes[p.ClassID]; !ok {
		return fmt.Errorf("%w: unknown class %s", types.ErrInvalidInput, p.ClassID)
	}
	stored := *p
	stored.Profile = append([]byte(nil), p.Profile...)
	s.participants[p.ID] = stored
	return nil
}

// participant joins the enrollment record with its account. Callers hold the lock.
func (s *Store) participant(p types.Participant) *types.Participant {
	account := s.accounts[p.ID]
	p.Name = account.Name
	p.Email = account.Email
	p.Profile = append([]byte(nil), p.Profile...)
	if len(p.Profile) == 0 {
		p.Profile = nil
	}
	return &p
}

func (s *Store) GetParticipant(ctx context.Context, participantID string) (*types.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[participantID]
	if !ok {
		return nil, fmt.Errorf("participant: %w", interfaces.ErrRecordNotFound)
	}
	return s.participant(p), nil
}

func (s *Store) ListParticipants(ctx context.Context, classID string) ([]*types.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Participant
	for _, p := range s.participants {
		if p.ClassID == classID {
			out = append(out, s.participant(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SetProfile(ctx context.Context, participantID string, profile []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[participantID]
	if !ok {
		return fmt.Errorf("participant: %w", interfaces.ErrRecordNotFound)
	}
	p.Profile = append([]byte(nil), profile...)
	s.participants[participantID] = p
	return nil
}

func (s *Store) AssignSubject(ctx context.Context, a *types.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := a.PresenterID + "\x00" + a.SubjectID
	if _, ok := s.assignments[key]; ok {
		return fmt.Errorf("%w: assignment", interfaces.ErrDuplicateRecord)
	}
	if _, ok := s.accounts[a.PresenterID]; !ok {
		return fmt.Errorf("%w: no account %s", types.ErrInvalidInput, a.PresenterID)
	}
	if _, ok := s.subjects[a.SubjectID]; !ok {
		return fmt.Errorf("%w: unknown subject %s", types.ErrInvalidInput, a.SubjectID)
	}
	s.assignments[key] = *a
	return nil
}

func (s *Store) ListScopes(ctx context.Context, presenterID string) ([]types.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scopes := []types.Scope{}
	for _, a := range s.assignments {
		if a.PresenterID != presenterID {
			continue
		}
		subject := s.subjects[a.SubjectID]
		scopes = append(scopes, types.Scope{
			ClassID:     a.ClassID,
			ClassName:   s.classes[a.ClassID].Name,
			SubjectID:   a.SubjectID,
			SubjectName: subject.Name,
			SubjectCode: subject.Code,
		})
	}
	sort.Slice(scopes, func(i, j int) bool {
		if scopes[i].ClassName != scopes[j].ClassName {
			return scopes[i].ClassName < scopes[j].ClassName
		}
		return scopes[i].SubjectName < scopes[j].SubjectName
	})
	return scopes, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
