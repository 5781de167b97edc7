package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, interfaces.ErrRecordNotFound)
	}
	return fmt.Errorf("failed to query %s: %w", what, err)
}

func (m *Manager) exec(ctx context.Context, op, query string, args ...any) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return mapSQLiteError(err, op)
		}
		return nil
	})
}

func (m *Manager) CreateClass(ctx context.Context, class *types.Class) error {
	return m.exec(ctx, "insert class",
		"INSERT INTO classes (id, name) VALUES (?, ?)", class.ID, class.Name)
}

func (m *Manager) GetClass(ctx context.Context, classID string) (*types.Class, error) {
	var class types.Class
	err := m.db.QueryRowContext(ctx, "SELECT id, name FROM classes WHERE id = ?", classID).
		Scan(&class.ID, &class.Name)
	if err != nil {
		return nil, notFound(err, "class")
	}
	return &class, nil
}

func (m *Manager) CreateSubject(ctx context.Context, subject *types.Subject) error {
	return m.exec(ctx, "insert subject",
		"INSERT INTO subjects (id, class_id, name, code) VALUES (?, ?, ?, ?)",
		subject.ID, subject.ClassID, subject.Name, subject.Code)
}

func (m *Manager) GetSubject(ctx context.Context, subjectID string) (*types.Subject, error) {
	var s types.Subject
	err := m.db.QueryRowContext(ctx, "SELECT id, class_id, name, code FROM subjects WHERE id = ?", subjectID).
		Scan(&s.ID, &s.ClassID, &s.Name, &s.Code)
	if err != nil {
		return nil, notFound(err, "subject")
	}
	return &s, nil
}

func (m *Manager) ListSubjects(ctx context.Context, classID string) ([]*types.Subject, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT id, class_id, name, code FROM subjects WHERE class_id = ? ORDER BY name", classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subjects []*types.Subject
	for rows.Next() {
		var s types.Subject
		if err := rows.Scan(&s.ID, &s.ClassID, &s.Name, &s.Code); err != nil {
			return nil, fmt.Errorf("failed to scan subject row: %w", err)
		}
		subjects = append(subjects, &s)
	}
	return subjects, rows.Err()
}

func (m *Manager) CreateAccount(ctx context.Context, account *types.Account) error {
	return m.exec(ctx, "insert account",
		"INSERT INTO accounts (id, email, name, role, password_hash) VALUES (?, ?, ?, ?, ?)",
		account.ID, account.Email, account.Name, account.Role, account.PasswordHash)
}

func (m *Manager) getAccount(ctx context.Context, where string, arg string) (*types.Account, error) {
	var a types.Account
	err := m.db.QueryRowContext(ctx,
		"SELECT id, email, name, role, password_hash FROM accounts WHERE "+where, arg).
		Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.PasswordHash)
	if err != nil {
		return nil, notFound(err, "account")
	}
	return &a, nil
}

func (m *Manager) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	return m.getAccount(ctx, "id = ?", accountID)
}

func (m *Manager) GetAccountByEmail(ctx context.Context, email string) (*types.Account, error) {
	return m.getAccount(ctx, "email = ? COLLATE NOCASE", email)
}

func (m *Manager) EnrollParticipant(ctx context.Context, p *types.Participant) error {
	var profile any
	if len(p.Profile) > 0 {
		profile = p.Profile
	}
	return m.exec(ctx, "enroll participant",
		"INSERT INTO participants (id, class_id, profile) VALUES (?, ?, ?)",
		p.ID, p.ClassID, profile)
}

const participantColumns = `p.id, a.name, a.email, p.class_id, p.profile
	FROM participants p JOIN accounts a ON a.id = p.id`

func scanParticipant(row scanner) (*types.Participant, error) {
	var p types.Participant
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.ClassID, &p.Profile); err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *Manager) GetParticipant(ctx context.Context, participantID string) (*types.Participant, error) {
	row := m.db.QueryRowContext(ctx, "SELECT "+participantColumns+" WHERE p.id = ?", participantID)
	p, err := scanParticipant(row)
	if err != nil {
		return nil, notFound(err, "participant")
	}
	return p, nil
}

func (m *Manager) ListParticipants(ctx context.Context, classID string) ([]*types.Participant, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT "+participantColumns+" WHERE p.class_id = ? ORDER BY a.name", classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var participants []*types.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func (m *Manager) SetProfile(ctx context.Context, participantID string, profile []byte) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, "UPDATE participants SET profile = ? WHERE id = ?", profile, participantID)
		if err != nil {
			return fmt.Errorf("failed to store profile: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("participant: %w", interfaces.ErrRecordNotFound)
		}
		return nil
	})
}

func (m *Manager) AssignSubject(ctx context.Context, a *types.Assignment) error {
	return m.exec(ctx, "assign subject",
		"INSERT INTO assignments (presenter_id, class_id, subject_id) VALUES (?, ?, ?)",
		a.PresenterID, a.ClassID, a.SubjectID)
}

func (m *Manager) ListScopes(ctx context.Context, presenterID string) ([]types.Scope, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT c.id, c.name, s.id, s.name, s.code
		FROM assignments a
		JOIN classes c ON c.id = a.class_id
		JOIN subjects s ON s.id = a.subject_id
		WHERE a.presenter_id = ?
		ORDER BY c.name, s.name`, presenterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scopes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	scopes := []types.Scope{}
	for rows.Next() {
		var s types.Scope
		if err := rows.Scan(&s.ClassID, &s.ClassName, &s.SubjectID, &s.SubjectName, &s.SubjectCode); err != nil {
			return nil, fmt.Errorf("failed to scan scope row: %w", err)
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}
