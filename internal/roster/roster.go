// Package roster loads a school roster from YAML into a store: classes with
// their subjects and enrolled participants, presenters with their subject
// assignments, and administrators.
package roster

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"attendance/internal/auth"
	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

type Person struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type Assignment struct {
	Class   string `yaml:"class"`
	Subject string `yaml:"subject"`
}

type Presenter struct {
	Person      `yaml:",inline"`
	Assignments []Assignment `yaml:"assignments"`
}

type Class struct {
	ID           string          `yaml:"id"`
	Name         string          `yaml:"name"`
	Subjects     []types.Subject `yaml:"subjects"`
	Participants []Person        `yaml:"participants"`
}

// Roster is the document read by Load.
type Roster struct {
	Classes    []Class     `yaml:"classes"`
	Presenters []Presenter `yaml:"presenters"`
	Admins     []Person    `yaml:"admins"`
}

// Load reads and validates a roster file.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a roster document.
func Parse(data []byte) (*Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse roster: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks ids and cross references without touching a store.
func (r *Roster) Validate() error {
	var errs []error
	subjects := make(map[string]string)
	ids := make(map[string]bool)

	person := func(kind string, p Person) {
		if !types.IsValidID(p.ID) {
			errs = append(errs, fmt.Errorf("%s %q: invalid id", kind, p.ID))
		}
		if p.Email == "" {
			errs = append(errs, fmt.Errorf("%s %q: email is required", kind, p.ID))
		}
		if ids[p.ID] {
			errs = append(errs, fmt.Errorf("%s %q: duplicate id", kind, p.ID))
		}
		ids[p.ID] = true
	}

	for _, c := range r.Classes {
		if !types.IsValidID(c.ID) {
			errs = append(errs, fmt.Errorf("class %q: invalid id", c.ID))
		}
		for _, s := range c.Subjects {
			if !types.IsValidID(s.ID) {
				errs = append(errs, fmt.Errorf("subject %q: invalid id", s.ID))
			}
			if _, dup := subjects[s.ID]; dup {
				errs = append(errs, fmt.Errorf("subject %q: duplicate id", s.ID))
			}
			subjects[s.ID] = c.ID
		}
		for _, p := range c.Participants {
			person("participant", p)
		}
	}
	for _, p := range r.Presenters {
		person("presenter", p.Person)
		for _, a := range p.Assignments {
			if class, ok := subjects[a.Subject]; !ok || class != a.Class {
				errs = append(errs, fmt.Errorf("presenter %q: subject %q is not a subject of class %q", p.ID, a.Subject, a.Class))
			}
		}
	}
	for _, p := range r.Admins {
		person("admin", p)
	}
	return errors.Join(errs...)
}

// Stats counts what Apply created.
type Stats struct {
	Classes      int
	Subjects     int
	Accounts     int
	Participants int
	Assignments  int
}

// Apply writes the roster to store. Records that already exist are skipped,
// so applying the same roster twice is harmless.
func (r *Roster) Apply(ctx context.Context, store interfaces.Roster) (*Stats, error) {
	var stats Stats

	created := func(err error, counter *int) error {
		switch {
		case err == nil:
			*counter++
			return nil
		case errors.Is(err, interfaces.ErrDuplicateRecord):
			return nil
		default:
			return err
		}
	}

	account := func(p Person, role string) error {
		account := &types.Account{ID: p.ID, Email: p.Email, Name: p.Name, Role: role}
		if p.Password != "" {
			hash, err := auth.HashPassword(p.Password)
			if err != nil {
				return err
			}
			account.PasswordHash = hash
		}
		if err := created(store.CreateAccount(ctx, account), &stats.Accounts); err != nil {
			return fmt.Errorf("account %s: %w", p.ID, err)
		}
		return nil
	}

	for _, c := range r.Classes {
		if err := created(store.CreateClass(ctx, &types.Class{ID: c.ID, Name: c.Name}), &stats.Classes); err != nil {
			return &stats, fmt.Errorf("class %s: %w", c.ID, err)
		}
		for _, s := range c.Subjects {
			s.ClassID = c.ID
			if err := created(store.CreateSubject(ctx, &s), &stats.Subjects); err != nil {
				return &stats, fmt.Errorf("subject %s: %w", s.ID, err)
			}
		}
		for _, p := range c.Participants {
			if err := account(p, types.RoleParticipant); err != nil {
				return &stats, err
			}
			enroll := &types.Participant{ID: p.ID, Name: p.Name, Email: p.Email, ClassID: c.ID}
			if err := created(store.EnrollParticipant(ctx, enroll), &stats.Participants); err != nil {
				return &stats, fmt.Errorf("participant %s: %w", p.ID, err)
			}
		}
	}

	for _, p := range r.Presenters {
		if err := account(p.Person, types.RolePresenter); err != nil {
			return &stats, err
		}
		for _, a := range p.Assignments {
			assignment := &types.Assignment{PresenterID: p.ID, ClassID: a.Class, SubjectID: a.Subject}
			if err := created(store.AssignSubject(ctx, assignment), &stats.Assignments); err != nil {
				return &stats, fmt.Errorf("assignment %s/%s: %w", p.ID, a.Subject, err)
			}
		}
	}

	for _, p := range r.Admins {
		if err := account(p, types.RoleAdmin); err != nil {
			return &stats, err
		}
	}

	log.Info().
		Int("classes", stats.Classes).
		Int("subjects", stats.Subjects).
		Int("accounts", stats.Accounts).
		Int("participants", stats.Participants).
		Int("assignments", stats.Assignments).
		Msg("Roster applied")
	return &stats, nil
}
