package commands

import (
	"context"
	"fmt"

	"attendance/internal/app"
	"attendance/internal/roster"
)

type SeedCmd struct {
	ConfigFlags
	File   string `arg:"" help:"Roster YAML file" type:"existingfile"`
	DryRun bool   `help:"Validate the roster without writing it"`
}

func (s *SeedCmd) Run(ctx context.Context) error {
	r, err := roster.Load(s.File)
	if err != nil {
		return err
	}
	if s.DryRun {
		fmt.Printf("Roster is valid: %d classes, %d presenters, %d admins\n", len(r.Classes), len(r.Presenters), len(r.Admins))
		return nil
	}

	cfg, err := s.load()
	if err != nil {
		return err
	}
	store, err := app.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := r.Apply(ctx, store)
	if err != nil {
		return err
	}
	fmt.Printf("Created %d classes, %d subjects, %d accounts, %d enrollments, %d assignments\n",
		stats.Classes, stats.Subjects, stats.Accounts, stats.Participants, stats.Assignments)
	return nil
}
