package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

const sessionColumns = `
	s.id, s.presenter_id, s.class_id, s.subject_id, c.name, sub.name,
	s.code, s.start_time, s.expires_at, s.end_time, s.status, s.close_reason
	FROM sessions s
	JOIN classes c ON c.id = s.class_id
	JOIN subjects sub ON sub.id = s.subject_id`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var (
		session types.Session
		endTime sql.NullTime
	)
	err := row.Scan(
		&session.ID,
		&session.PresenterID,
		&session.ClassID,
		&session.SubjectID,
		&session.ClassName,
		&session.SubjectName,
		&session.Code,
		&session.StartTime,
		&session.ExpiresAt,
		&endTime,
		&session.Status,
		&session.CloseReason,
	)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time.UTC()
		session.EndTime = &t
	}
	session.StartTime = session.StartTime.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	return &session, nil
}

func (m *Manager) querySession(ctx context.Context, where string, args ...any) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" WHERE "+where, args...)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

func (m *Manager) querySessions(ctx context.Context, query string, args ...any) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT "+sessionColumns+" "+query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// CreateSession inserts an active session. The partial unique indexes on
// active code and active scope decide conflicts.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (id, presenter_id, class_id, subject_id, code, start_time, expires_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.PresenterID,
			session.ClassID,
			session.SubjectID,
			session.Code,
			session.StartTime.UTC(),
			session.ExpiresAt.UTC(),
			session.Status,
		)
		if err != nil {
			return mapSQLiteError(err, "insert session")
		}
		return nil
	})
}

func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.querySession(ctx, "s.id = ?", sessionID)
}

func (m *Manager) FindActiveByCode(ctx context.Context, code string) (*types.Session, error) {
	return m.querySession(ctx, "s.code = ? AND s.status = 'active'", code)
}

func (m *Manager) FindActiveByScope(ctx context.Context, classID, subjectID string) (*types.Session, error) {
	return m.querySession(ctx, "s.class_id = ? AND s.subject_id = ? AND s.status = 'active'", classID, subjectID)
}

func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return m.querySessions(ctx, "WHERE s.status = 'active' ORDER BY s.start_time DESC")
}

func (m *Manager) ListSessionsByScope(ctx context.Context, classID, subjectID string) ([]*types.Session, error) {
	return m.querySessions(ctx,
		"WHERE s.class_id = ? AND s.subject_id = ? ORDER BY s.start_time ASC", classID, subjectID)
}

// CloseSession is a compare-and-swap on status; only the first close wins.
func (m *Manager) CloseSession(ctx context.Context, sessionID string, endTime time.Time, reason string) (bool, error) {
	var closed bool
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		closed = false
		res, err := db.ExecContext(ctx, `
			UPDATE sessions
			SET status = 'closed', end_time = ?, close_reason = ?
			WHERE id = ? AND status = 'active'`,
			endTime.UTC(), reason, sessionID)
		if err != nil {
			return fmt.Errorf("failed to close session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n > 0 {
			closed = true
			return nil
		}
		var exists int
		err = db.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", sessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.ErrSessionNotFound
		}
		return err
	})
	return closed, err
}

// InsertMark checks the session window and the existing mark inside one
// transaction on the writer, so a concurrent close can never interleave.
func (m *Manager) InsertMark(ctx context.Context, mark *types.AttendanceMark, now time.Time) (*types.AttendanceMark, bool, error) {
	var (
		result  *types.AttendanceMark
		created bool
	)
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		result, created = nil, false

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var (
			status    string
			expiresAt time.Time
		)
		err = tx.QueryRowContext(ctx, "SELECT status, expires_at FROM sessions WHERE id = ?", mark.SessionID).
			Scan(&status, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read session: %w", err)
		}
		if status != types.StatusActive || !now.Before(expiresAt) {
			return interfaces.ErrSessionNotOpen
		}

		existing, err := getMark(ctx, tx, mark.SessionID, mark.ParticipantID)
		switch {
		case err == nil:
			result = existing
			return nil
		case !errors.Is(err, interfaces.ErrRecordNotFound):
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO marks (id, session_id, participant_id, marked_at, outcome)
			VALUES (?, ?, ?, ?, ?)`,
			mark.ID, mark.SessionID, mark.ParticipantID, mark.MarkedAt.UTC(), mark.Outcome)
		if err != nil {
			return mapSQLiteError(err, "insert mark")
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit mark: %w", err)
		}
		stored := *mark
		result, created = &stored, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getMark(ctx context.Context, q queryRower, sessionID, participantID string) (*types.AttendanceMark, error) {
	var mark types.AttendanceMark
	err := q.QueryRowContext(ctx, `
		SELECT id, session_id, participant_id, marked_at, outcome
		FROM marks WHERE session_id = ? AND participant_id = ?`,
		sessionID, participantID,
	).Scan(&mark.ID, &mark.SessionID, &mark.ParticipantID, &mark.MarkedAt, &mark.Outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query mark: %w", err)
	}
	mark.MarkedAt = mark.MarkedAt.UTC()
	return &mark, nil
}

func (m *Manager) GetMark(ctx context.Context, sessionID, participantID string) (*types.AttendanceMark, error) {
	return getMark(ctx, m.db, sessionID, participantID)
}

func (m *Manager) ListPresence(ctx context.Context, sessionID string) ([]types.PresenceEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT m.participant_id, a.name, a.email, m.marked_at
		FROM marks m
		JOIN accounts a ON a.id = m.participant_id
		WHERE m.session_id = ?
		ORDER BY m.marked_at ASC, m.id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func (m *Manager) ListMarksByParticipant(ctx context.Context, participantID string) ([]*types.AttendanceMark, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, participant_id, marked_at, outcome
		FROM marks WHERE participant_id = ?
		ORDER BY marked_at ASC`, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query marks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var marks []*types.AttendanceMark
	for rows.Next() {
		var mark types.AttendanceMark
		if err := rows.Scan(&mark.ID, &mark.SessionID, &mark.ParticipantID, &mark.MarkedAt, &mark.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan mark row: %w", err)
		}
		mark.MarkedAt = mark.MarkedAt.UTC()
		marks = append(marks, &mark)
	}
	return marks, rows.Err()
}
