package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"attendance/internal/telemetry"
	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

// Options configures session lifecycle behaviour.
type Options struct {
	Window        time.Duration
	CodeLength    int
	CodeAttempts  int
	SweepInterval time.Duration

	// Now and Codes are overridable for tests.
	Now   func() time.Time
	Codes CodeSource
}

// DefaultOptions mirror the classroom behaviour: a 60 second window and six digit codes.
func DefaultOptions() Options {
	return Options{
		Window:        60 * time.Second,
		CodeLength:    6,
		CodeAttempts:  8,
		SweepInterval: 5 * time.Second,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.Window <= 0 {
		o.Window = d.Window
	}
	if o.CodeLength <= 0 {
		o.CodeLength = d.CodeLength
	}
	if o.CodeAttempts <= 0 {
		o.CodeAttempts = d.CodeAttempts
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Codes == nil {
		o.Codes = NumericCode
	}
}

// Manager owns the session lifecycle: it opens sessions with a fresh join
// code, closes them on request or expiry, and keeps an in-memory cache of
// active sessions in front of the store.
type Manager struct {
	store          interfaces.Store
	notifier       interfaces.Notifier
	opts           Options
	metrics        *telemetry.Metrics
	activeSessions map[string]*types.Session
	mu             sync.RWMutex
}

// NewManager creates a new session manager. A nil notifier discards events.
func NewManager(store interfaces.Store, notifier interfaces.Notifier, opts Options) *Manager {
	opts.applyDefaults()
	if notifier == nil {
		notifier = interfaces.NopNotifier{}
	}
	return &Manager{
		store:          store,
		notifier:       notifier,
		opts:           opts,
		metrics:        telemetry.GetMetrics(),
		activeSessions: make(map[string]*types.Session),
	}
}

// Window returns the configured check-in window length.
func (m *Manager) Window() time.Duration {
	return m.opts.Window
}

// LoadActiveSessions loads all active sessions from the store into memory.
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.activeSessions = make(map[string]*types.Session, len(sessions))
	for _, session := range sessions {
		m.activeSessions[session.ID] = session
	}

	log.Info().Int("count", len(sessions)).Msg("Loaded active sessions")
	return nil
}

// Start opens a session for a class/subject pair on behalf of presenterID.
// It fails with types.ErrConflict when the scope already has an open session
// and types.ErrForbidden when the presenter is not assigned to the subject.
func (m *Manager) Start(ctx context.Context, presenterID, classID, subjectID string) (*types.Session, error) {
	if !types.IsValidID(presenterID) || !types.IsValidID(classID) || !types.IsValidID(subjectID) {
		return nil, fmt.Errorf("%w: presenter, class and subject ids are required", types.ErrInvalidInput)
	}

	class, subject, err := m.resolveScope(ctx, presenterID, classID, subjectID)
	if err != nil {
		return nil, err
	}

	if err := m.releaseExpiredScope(ctx, classID, subjectID); err != nil {
		return nil, err
	}

	var session *types.Session
	for attempt := 1; attempt <= m.opts.CodeAttempts; attempt++ {
		code, err := m.opts.Codes(m.opts.CodeLength)
		if err != nil {
			return nil, err
		}

		now := m.opts.Now().UTC()
		candidate := &types.Session{
			ID:          uuid.New().String(),
			PresenterID: presenterID,
			ClassID:     classID,
			SubjectID:   subjectID,
			ClassName:   class.Name,
			SubjectName: subject.Name,
			Code:        code,
			StartTime:   now,
			ExpiresAt:   now.Add(m.opts.Window),
			Status:      types.StatusActive,
		}

		err = m.store.CreateSession(ctx, candidate)
		if errors.Is(err, interfaces.ErrCodeInUse) {
			log.Debug().Int("attempt", attempt).Msg("Join code collided with an active session, retrying")
			continue
		}
		if errors.Is(err, interfaces.ErrActiveSessionExists) {
			return nil, m.conflict(ctx, classID, subjectID, class.Name, subject.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		session = candidate
		break
	}
	if session == nil {
		return nil, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, m.opts.CodeAttempts)
	}

	m.mu.Lock()
	m.activeSessions[session.ID] = session
	m.mu.Unlock()

	m.metrics.SessionsStartedTotal.Add(ctx, 1)
	log.Info().
		Str("session_id", session.ID).
		Str("presenter_id", presenterID).
		Str("class_id", classID).
		Str("subject_id", subjectID).
		Str("code", session.Code).
		Time("expires_at", session.ExpiresAt).
		Msg("Session started")

	return copySession(session), nil
}

func (m *Manager) resolveScope(ctx context.Context, presenterID, classID, subjectID string) (*types.Class, *types.Subject, error) {
	class, err := m.store.GetClass(ctx, classID)
	if err != nil {
		return nil, nil, err
	}
	subject, err := m.store.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, nil, err
	}
	if subject.ClassID != classID {
		return nil, nil, fmt.Errorf("%w: subject %s does not belong to class %s", types.ErrInvalidInput, subjectID, classID)
	}

	scopes, err := m.store.ListScopes(ctx, presenterID)
	if err != nil {
		return nil, nil, err
	}
	for _, scope := range scopes {
		if scope.ClassID == classID && scope.SubjectID == subjectID {
			return class, subject, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: not assigned to %s for %s", types.ErrForbidden, subject.Name, class.Name)
}

// releaseExpiredScope closes an active session for the scope whose window
// has already elapsed, so a vanished presenter never locks the scope.
func (m *Manager) releaseExpiredScope(ctx context.Context, classID, subjectID string) error {
	existing, err := m.store.FindActiveByScope(ctx, classID, subjectID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.IsOpen(m.opts.Now()) {
		return fmt.Errorf("%w: a session is already open for %s (code %s)", types.ErrConflict, existing.Label(), existing.Code)
	}
	_, err = m.close(ctx, existing, types.CloseReasonExpired)
	return err
}

func (m *Manager) conflict(ctx context.Context, classID, subjectID, className, subjectName string) error {
	label := className + " — " + subjectName
	if existing, err := m.store.FindActiveByScope(ctx, classID, subjectID); err == nil {
		return fmt.Errorf("%w: a session is already open for %s (code %s)", types.ErrConflict, label, existing.Code)
	}
	return fmt.Errorf("%w: a session is already open for %s", types.ErrConflict, label)
}

// End closes a session. Only the presenter who opened it may end it; ending
// an already closed session succeeds without effect.
func (m *Manager) End(ctx context.Context, sessionID, presenterID string) error {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.PresenterID != presenterID {
		return fmt.Errorf("%w: session %s belongs to another presenter", types.ErrForbidden, sessionID)
	}
	if session.Status == types.StatusClosed {
		return nil
	}
	_, err = m.close(ctx, session, types.CloseReasonManual)
	return err
}

// close performs the compare-and-swap and, when this call won, drops the
// session from the cache and publishes the event.
func (m *Manager) close(ctx context.Context, session *types.Session, reason string) (bool, error) {
	closed, err := m.store.CloseSession(ctx, session.ID, m.opts.Now().UTC(), reason)
	if err != nil {
		return false, fmt.Errorf("failed to close session: %w", err)
	}

	m.mu.Lock()
	delete(m.activeSessions, session.ID)
	m.mu.Unlock()

	if !closed {
		return false, nil
	}

	m.metrics.SessionClosed(ctx, reason)
	m.notifier.SessionClosed(session.ID)
	log.Info().
		Str("session_id", session.ID).
		Str("class_id", session.ClassID).
		Str("subject_id", session.SubjectID).
		Str("reason", reason).
		Msg("Session closed")
	return true, nil
}

// Get returns a session by id, active sessions from cache.
func (m *Manager) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	if session, ok := m.activeSessions[sessionID]; ok {
		m.mu.RUnlock()
		return copySession(session), nil
	}
	m.mu.RUnlock()

	return m.store.GetSession(ctx, sessionID)
}

// ListActive returns the cached active sessions, including expired ones the
// sweeper has not yet closed.
func (m *Manager) ListActive(ctx context.Context) ([]*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(m.activeSessions))
	for _, session := range m.activeSessions {
		sessions = append(sessions, copySession(session))
	}
	return sessions, nil
}

// Sweep closes every active session whose window has elapsed and reports how
// many it closed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active sessions: %w", err)
	}

	now := m.opts.Now()
	swept := 0
	for _, session := range sessions {
		if session.IsOpen(now) {
			continue
		}
		closed, err := m.close(ctx, session, types.CloseReasonExpired)
		if err != nil {
			return swept, err
		}
		if closed {
			swept++
		}
	}
	return swept, nil
}

// Run sweeps expired sessions every SweepInterval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.opts.SweepInterval).Msg("Session sweeper started")
	for {
		select {
		case <-ticker.C:
			if n, err := m.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("Session sweep failed")
			} else if n > 0 {
				log.Info().Int("closed", n).Msg("Closed expired sessions")
			}
		case <-ctx.Done():
			log.Info().Msg("Session sweeper stopped")
			return
		}
	}
}

// GetStats returns session manager statistics.
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"active_sessions": len(m.activeSessions),
	}
}

func copySession(s *types.Session) *types.Session {
	out := *s
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	return &out
}
