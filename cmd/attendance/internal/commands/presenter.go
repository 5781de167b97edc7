package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"attendance/internal/presenter"
	"attendance/pkg/types"
)

type PresenterCmd struct {
	ServerFlags
	Scopes PresenterScopesCmd `cmd:"" help:"List the class and subject pairs you may open sessions for"`
	Start  PresenterStartCmd  `cmd:"" help:"Open a session and follow it until it closes"`
}

type PresenterScopesCmd struct{}

func (c *PresenterScopesCmd) Run(ctx context.Context, parent *PresenterCmd) error {
	api, err := parent.client(ctx)
	if err != nil {
		return err
	}
	scopes, err := api.Scopes(ctx)
	if err != nil {
		return err
	}
	if len(scopes) == 0 {
		fmt.Println("No subjects assigned")
		return nil
	}
	for _, s := range scopes {
		fmt.Printf("%-12s %-12s %s — %s\n", s.ClassID, s.SubjectID, s.ClassName, s.SubjectName)
	}
	return nil
}

type PresenterStartCmd struct {
	Class   string `help:"Class id" required:""`
	Subject string `help:"Subject id" required:""`
	Stream  bool   `help:"Follow presence over the stream instead of polling" default:"true" negatable:""`
}

func (c *PresenterStartCmd) Run(ctx context.Context, parent *PresenterCmd) error {
	api, err := parent.client(ctx)
	if err != nil {
		return err
	}

	opts := presenter.Options{
		OnTick: func(_ string, remaining time.Duration) {
			if remaining%(10*time.Second) == 0 && remaining > 0 {
				fmt.Printf("%s left\n", remaining)
			}
		},
	}
	if c.Stream {
		opts.StreamURL = api.PresenceURL
	}
	controller := presenter.NewController(api, opts)

	session, err := controller.Start(ctx, c.Class, c.Subject)
	if errors.Is(err, types.ErrConflict) {
		return fmt.Errorf("cannot open session: %w", err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s\nJoin code: %s (closes at %s)\n", session.Label, session.Code, session.ExpiresAt.Local().Format(time.TimeOnly))

	view, _ := controller.View(session.ID)
	done, _ := controller.Done(session.ID)
	interrupted, stop := interruptible(ctx)
	defer stop()

	seen := 0
	printNew := func() {
		snap := view.Snapshot()
		for _, e := range snap.Entries[min(seen, len(snap.Entries)):] {
			fmt.Printf("  ✓ %s <%s> %s\n", e.Name, e.Email, e.MarkedAt.Local().Format(time.TimeOnly))
		}
		seen = len(snap.Entries)
	}
	for {
		select {
		case <-view.Changed():
			printNew()
			if !view.Closed() {
				continue
			}
		case <-done:
			printNew()
		case <-interrupted.Done():
			fmt.Println("Ending session")
			if err := controller.End(context.Background(), session.ID); err != nil {
				return err
			}
		}

		outcome, err := controller.Wait(context.Background(), session.ID)
		if err != nil {
			return err
		}
		fmt.Printf("Session %s (%s): %d present\n", outcome.Reason, session.Code, len(outcome.Presence.Entries))
		return outcome.EndErr
	}
}
