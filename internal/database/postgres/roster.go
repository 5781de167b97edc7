package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, interfaces.ErrRecordNotFound)
	}
	return fmt.Errorf("failed to query %s: %w", what, mapPostgresError(err))
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.pool.Exec(ctx, query, args...)
	return mapPostgresError(err)
}

func (s *Store) CreateClass(ctx context.Context, class *types.Class) error {
	return s.exec(ctx, `INSERT INTO classes (id, name) VALUES ($1, $2)`, class.ID, class.Name)
}

func (s *Store) GetClass(ctx context.Context, classID string) (*types.Class, error) {
	var c types.Class
	if err := s.pool.QueryRow(ctx, `SELECT id, name FROM classes WHERE id = $1`, classID).Scan(&c.ID, &c.Name); err != nil {
		return nil, notFound(err, "class")
	}
	return &c, nil
}

func (s *Store) CreateSubject(ctx context.Context, subject *types.Subject) error {
	return s.exec(ctx, `INSERT INTO subjects (id, class_id, name, code) VALUES ($1, $2, $3, $4)`,
		subject.ID, subject.ClassID, subject.Name, subject.Code)
}

func (s *Store) GetSubject(ctx context.Context, subjectID string) (*types.Subject, error) {
	var sub types.Subject
	err := s.pool.QueryRow(ctx, `SELECT id, class_id, name, code FROM subjects WHERE id = $1`, subjectID).
		Scan(&sub.ID, &sub.ClassID, &sub.Name, &sub.Code)
	if err != nil {
		return nil, notFound(err, "subject")
	}
	return &sub, nil
}

func (s *Store) ListSubjects(ctx context.Context, classID string) ([]*types.Subject, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, class_id, name, code FROM subjects WHERE class_id = $1 ORDER BY name`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var subjects []*types.Subject
	for rows.Next() {
		var sub types.Subject
		if err := rows.Scan(&sub.ID, &sub.ClassID, &sub.Name, &sub.Code); err != nil {
			return nil, fmt.Errorf("failed to scan subject row: %w", err)
		}
		subjects = append(subjects, &sub)
	}
	return subjects, rows.Err()
}

func (s *Store) CreateAccount(ctx context.Context, a *types.Account) error {
	return s.exec(ctx, `INSERT INTO accounts (id, email, name, role, password_hash) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Email, a.Name, a.Role, a.PasswordHash)
}

func (s *Store) getAccount(ctx context.Context, where string, arg string) (*types.Account, error) {
	var a types.Account
	err := s.pool.QueryRow(ctx, `SELECT id, email, name, role, password_hash FROM accounts WHERE `+where, arg).
		Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.PasswordHash)
	if err != nil {
		return nil, notFound(err, "account")
	}
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	return s.getAccount(ctx, "id = $1", accountID)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*types.Account, error) {
	return s.getAccount(ctx, "lower(email) = lower($1)", email)
}

func (s *Store) EnrollParticipant(ctx context.Context, p *types.Participant) error {
	var profile []byte
	if len(p.Profile) > 0 {
		profile = p.Profile
	}
	return s.exec(ctx, `INSERT INTO participants (id, class_id, profile) VALUES ($1, $2, $3)`, p.ID, p.ClassID, profile)
}

const participantSelect = `
	SELECT p.id, a.name, a.email, p.class_id, p.profile
	FROM participants p JOIN accounts a ON a.id = p.id`

func scanParticipant(row pgx.Row) (*types.Participant, error) {
	var p types.Participant
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &p.ClassID, &p.Profile); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetParticipant(ctx context.Context, participantID string) (*types.Participant, error) {
	p, err := scanParticipant(s.pool.QueryRow(ctx, participantSelect+` WHERE p.id = $1`, participantID))
	if err != nil {
		return nil, notFound(err, "participant")
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context, classID string) ([]*types.Participant, error) {
	rows, err := s.pool.Query(ctx, participantSelect+` WHERE p.class_id = $1 ORDER BY a.name`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", mapPostgresError(err))
	}
	defer rows.Close()

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

func (s *Store) SetProfile(ctx context.Context, participantID string, profile []byte) error {
	tag, err := s.pool.Exec(ctx, `UPDATE participants SET profile = $2 WHERE id = $1`, participantID, profile)
	if err != nil {
		return fmt.Errorf("failed to store profile: %w", mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant: %w", interfaces.ErrRecordNotFound)
	}
	return nil
}

func (s *Store) AssignSubject(ctx context.Context, a *types.Assignment) error {
	return s.exec(ctx, `INSERT INTO assignments (presenter_id, class_id, subject_id) VALUES ($1, $2, $3)`,
		a.PresenterID, a.ClassID, a.SubjectID)
}

func (s *Store) ListScopes(ctx context.Context, presenterID string) ([]types.Scope, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, sub.id, sub.name, sub.code
		FROM assignments a
		JOIN classes c ON c.id = a.class_id
		JOIN subjects sub ON sub.id = a.subject_id
		WHERE a.presenter_id = $1
		ORDER BY c.name, sub.name`, presenterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query scopes: %w", mapPostgresError(err))
	}
	defer rows.Close()

	scopes := []types.Scope{}
	for rows.Next() {
		var sc types.Scope
		if err := rows.Scan(&sc.ClassID, &sc.ClassName, &sc.SubjectID, &sc.SubjectName, &sc.SubjectCode); err != nil {
			return nil, fmt.Errorf("failed to scan scope row: %w", err)
		}
		scopes = append(scopes, sc)
	}
	return scopes, rows.Err()
}
