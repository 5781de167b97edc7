package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

var _ interfaces.Store = (*Store)(nil)

// StoreConfig configures the PostgreSQL store.
type StoreConfig struct {
	PoolConfig

	// AutoMigrate applies embedded migrations on open.
	AutoMigrate bool
}

// Store is the PostgreSQL implementation of interfaces.Store. The same
// partial unique indexes as the SQLite schema enforce one active session per
// scope and per code.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to PostgreSQL and optionally migrates the schema.
func NewStore(ctx context.Context, cfg *StoreConfig) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("store config is required")
	}

	pool, err := NewPool(ctx, &cfg.PoolConfig)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := runMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Msg("PostgreSQL store opened")

	return &Store{pool: pool}, nil
}

const sessionSelect = `
	SELECT s.id, s.presenter_id, s.class_id, s.subject_id, c.name, sub.name,
	       s.code, s.start_time, s.expires_at, s.end_time, s.status, s.close_reason
	FROM sessions s
	JOIN classes c ON c.id = s.class_id
	JOIN subjects sub ON sub.id = s.subject_id`

func scanSession(row pgx.Row) (*types.Session, error) {
	var s types.Session
	err := row.Scan(
		&s.ID, &s.PresenterID, &s.ClassID, &s.SubjectID, &s.ClassName, &s.SubjectName,
		&s.Code, &s.StartTime, &s.ExpiresAt, &s.EndTime, &s.Status, &s.CloseReason,
	)
	if err != nil {
		return nil, err
	}
	s.StartTime = s.StartTime.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	if s.EndTime != nil {
		t := s.EndTime.UTC()
		s.EndTime = &t
	}
	return &s, nil
}

func (s *Store) querySession(ctx context.Context, where string, args ...any) (*types.Session, error) {
	session, err := scanSession(s.pool.QueryRow(ctx, sessionSelect+" WHERE "+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", mapPostgresError(err))
	}
	return session, nil
}

func (s *Store) querySessions(ctx context.Context, tail string, args ...any) ([]*types.Session, error) {
	rows, err := s.pool.Query(ctx, sessionSelect+" "+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, presenter_id, class_id, subject_id, code, start_time, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.PresenterID, session.ClassID, session.SubjectID,
		session.Code, session.StartTime.UTC(), session.ExpiresAt.UTC(), session.Status,
	)
	return mapPostgresError(err)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return s.querySession(ctx, "s.id = $1", sessionID)
}

func (s *Store) FindActiveByCode(ctx context.Context, code string) (*types.Session, error) {
	return s.querySession(ctx, "s.code = $1 AND s.status = 'active'", code)
}

func (s *Store) FindActiveByScope(ctx context.Context, classID, subjectID string) (*types.Session, error) {
	return s.querySession(ctx, "s.class_id = $1 AND s.subject_id = $2 AND s.status = 'active'", classID, subjectID)
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return s.querySessions(ctx, "WHERE s.status = 'active' ORDER BY s.start_time DESC")
}

func (s *Store) ListSessionsByScope(ctx context.Context, classID, subjectID string) ([]*types.Session, error) {
	return s.querySessions(ctx, "WHERE s.class_id = $1 AND s.subject_id = $2 ORDER BY s.start_time ASC", classID, subjectID)
}

// CloseSession is a compare-and-swap on status; the row lock taken by the
// update serializes it against InsertMark.
func (s *Store) CloseSession(ctx context.Context, sessionID string, endTime time.Time, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = 'closed', end_time = $2, close_reason = $3
		WHERE id = $1 AND status = 'active'`,
		sessionID, endTime.UTC(), reason)
	if err != nil {
		return false, fmt.Errorf("failed to close session: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check session: %w", mapPostgresError(err))
	}
	if !exists {
		return false, interfaces.ErrSessionNotFound
	}
	return false, nil
}

// InsertMark holds a share lock on the session row while inserting so a
// concurrent close either commits first (and the insert is rejected) or waits.
func (s *Store) InsertMark(ctx context.Context, mark *types.AttendanceMark, now time.Time) (*types.AttendanceMark, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	var (
		status    string
		expiresAt time.Time
	)
	err = tx.QueryRow(ctx, `SELECT status, expires_at FROM sessions WHERE id = $1 FOR SHARE`, mark.SessionID).
		Scan(&status, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock session: %w", mapPostgresError(err))
	}
	if status != types.StatusActive || !now.Before(expiresAt) {
		return nil, false, interfaces.ErrSessionNotOpen
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO marks (id, session_id, participant_id, marked_at, outcome)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, participant_id) DO NOTHING`,
		mark.ID, mark.SessionID, mark.ParticipantID, mark.MarkedAt.UTC(), mark.Outcome)
	if err != nil {
		return nil, false, mapPostgresError(err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := getMark(ctx, tx, mark.SessionID, mark.ParticipantID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, tx.Commit(ctx)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit mark: %w", mapPostgresError(err))
	}
	stored := *mark
	stored.MarkedAt = stored.MarkedAt.UTC()
	return &stored, true, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getMark(ctx context.Context, q querier, sessionID, participantID string) (*types.AttendanceMark, error) {
	var m types.AttendanceMark
	err := q.QueryRow(ctx, `
		SELECT id, session_id, participant_id, marked_at, outcome
		FROM marks WHERE session_id = $1 AND participant_id = $2`,
		sessionID, participantID,
	).Scan(&m.ID, &m.SessionID, &m.ParticipantID, &m.MarkedAt, &m.Outcome)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query mark: %w", mapPostgresError(err))
	}
	m.MarkedAt = m.MarkedAt.UTC()
	return &m, nil
}

func (s *Store) GetMark(ctx context.Context, sessionID, participantID string) (*types.AttendanceMark, error) {
	return getMark(ctx, s.pool, sessionID, participantID)
}

func (s *Store) ListPresence(ctx context.Context, sessionID string) ([]types.PresenceEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.participant_id, a.name, a.email, m.marked_at
		FROM marks m
		JOIN accounts a ON a.id = m.participant_id
		WHERE m.session_id = $1
		ORDER BY m.marked_at ASC, m.id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", mapPostgresError(err))
	}
	defer rows.Close()

	entries := []types.PresenceEntry{}
	for rows.Next() {
		var e types.PresenceEntry
		if err := rows.Scan(&e.ParticipantID, &e.Name, &e.Email, &e.MarkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan presence row: %w", err)
		}
		e.MarkedAt = e.MarkedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) ListMarksByParticipant(ctx context.Context, participantID string) ([]*types.AttendanceMark, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, participant_id, marked_at, outcome
		FROM marks WHERE participant_id = $1
		ORDER BY marked_at ASC`, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query marks: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var marks []*types.AttendanceMark
	for rows.Next() {
		var m types.AttendanceMark
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ParticipantID, &m.MarkedAt, &m.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan mark row: %w", err)
		}
		m.MarkedAt = m.MarkedAt.UTC()
		marks = append(marks, &m)
	}
	return marks, rows.Err()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
