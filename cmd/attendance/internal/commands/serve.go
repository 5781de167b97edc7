package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"attendance/internal/app"
	"attendance/internal/roster"
)

type ServeCmd struct {
	ConfigFlags
	Host   string `help:"Override the listen host"`
	Port   int    `help:"Override the listen port"`
	Driver string `help:"Override the store driver (sqlite, postgres or memory)"`
	Roster string `help:"Apply a YAML roster before serving" type:"existingfile"`
}

func (s *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	if s.Host != "" {
		cfg.HTTP.Host = s.Host
	}
	if s.Port != 0 {
		cfg.HTTP.Port = s.Port
	}
	if s.Driver != "" {
		cfg.Database.Driver = s.Driver
	}

	ctx, stop := interruptible(ctx)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, globals.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if s.Roster != "" {
		r, err := roster.Load(s.Roster)
		if err != nil {
			return err
		}
		if _, err := r.Apply(ctx, application.Store()); err != nil {
			return fmt.Errorf("failed to apply roster: %w", err)
		}
	}

	if err := application.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return application.Stop(shutdownCtx)
}
