package main

import (
	"context"

	"github.com/alecthomas/kong"

	"attendance/cmd/attendance/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Serve       commands.ServeCmd       `cmd:"" help:"Run the attendance server"`
		Seed        commands.SeedCmd        `cmd:"" help:"Load a YAML roster into the store"`
		Token       commands.TokenCmd       `cmd:"" help:"Issue a bearer token for an account"`
		Presenter   commands.PresenterCmd   `cmd:"" help:"Open a session and follow who checks in"`
		Participant commands.ParticipantCmd `cmd:"" help:"Check in or register a face profile"`
		Debug       bool                    `help:"Enable debug logging."`
		Version     kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("attendance"),
		kong.Description("Classroom attendance sessions with join codes and face check-in."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(commands.NewGlobals(cli.Debug, version))
	cmd.FatalIfErrorf(err)
}
