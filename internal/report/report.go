// Package report derives attendance totals from sessions and marks. Absence
// is never stored: an enrolled participant without a mark for a session was absent.
package report

import (
	"context"
	"fmt"
	"time"

	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

// Register row statuses.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
)

// SubjectTotal counts a participant's marks against the sessions held for one subject.
type SubjectTotal struct {
	SubjectID string `json:"subjectId"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	Present   int    `json:"present"`
	Total     int    `json:"total"`
}

// ParticipantReport is the participant's own view.
type ParticipantReport struct {
	ParticipantID string         `json:"participantId"`
	ClassID       string         `json:"classId"`
	SubjectTotals []SubjectTotal `json:"subjectTotals"`
}

// RegisterRow is one participant's outcome in one session.
type RegisterRow struct {
	SessionID     string    `json:"sessionId"`
	Date          time.Time `json:"date"`
	ParticipantID string    `json:"participantId"`
	Name          string    `json:"name"`
	Status        string    `json:"status"`
}

// ParticipantTotal summarises one participant across a subject's sessions.
type ParticipantTotal struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Present       int    `json:"present"`
	Total         int    `json:"total"`
}

// Register is the presenter's view of a class/subject.
type Register struct {
	ClassID   string             `json:"classId"`
	SubjectID string             `json:"subjectId"`
	Rows      []RegisterRow      `json:"rows"`
	Totals    []ParticipantTotal `json:"totals"`
}

// Service builds reports from the store.
type Service struct {
	store interfaces.Store
}

// NewService creates a report service.
func NewService(store interfaces.Store) *Service {
	return &Service{store: store}
}

// Participant returns per-subject totals for the participant's class.
func (s *Service) Participant(ctx context.Context, participantID string) (*ParticipantReport, error) {
	participant, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}

	subjects, err := s.store.ListSubjects(ctx, participant.ClassID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}

	marks, err := s.store.ListMarksByParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list marks: %w", err)
	}
	marked := make(map[string]bool, len(marks))
	for _, m := range marks {
		marked[m.SessionID] = true
	}

	report := &ParticipantReport{
		ParticipantID: participantID,
		ClassID:       participant.ClassID,
		SubjectTotals: make([]SubjectTotal, 0, len(subjects)),
	}
	for _, subject := range subjects {
		sessions, err := s.store.ListSessionsByScope(ctx, participant.ClassID, subject.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		total := SubjectTotal{SubjectID: subject.ID, Name: subject.Name, Code: subject.Code, Total: len(sessions)}
		for _, session := range sessions {
			if marked[session.ID] {
				total.Present++
			}
		}
		report.SubjectTotals = append(report.SubjectTotals, total)
	}
	return report, nil
}

// Register lists every enrolled participant against every session of a
// class/subject, oldest session first.
func (s *Service) Register(ctx context.Context, classID, subjectID string) (*Register, error) {
	subject, err := s.store.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if subject.ClassID != classID {
		return nil, fmt.Errorf("%w: subject %s does not belong to class %s", types.ErrInvalidInput, subjectID, classID)
	}

	participants, err := s.store.ListParticipants(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	sessions, err := s.store.ListSessionsByScope(ctx, classID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	reg := &Register{
		ClassID:   classID,
		SubjectID: subjectID,
		Rows:      make([]RegisterRow, 0, len(sessions)*len(participants)),
		Totals:    make([]ParticipantTotal, len(participants)),
	}
	for i, p := range participants {
		reg.Totals[i] = ParticipantTotal{ParticipantID: p.ID, Name: p.Name, Total: len(sessions)}
	}

	for _, session := range sessions {
		entries, err := s.store.ListPresence(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list presence: %w", err)
		}
		present := make(map[string]bool, len(entries))
		for _, e := range entries {
			present[e.ParticipantID] = true
		}

		for i, p := range participants {
			status := StatusAbsent
			if present[p.ID] {
				status = StatusPresent
				reg.Totals[i].Present++
			}
			reg.Rows = append(reg.Rows, RegisterRow{
				SessionID:     session.ID,
				Date:          session.StartTime,
				ParticipantID: p.ID,
				Name:          p.Name,
				Status:        status,
			})
		}
	}
	return reg, nil
}
