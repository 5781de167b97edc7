package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"attendance/internal/client"
	"attendance/internal/config"
	"attendance/internal/logger"
)

type Globals struct {
	Debug   bool
	Version string
	Logger  zerolog.Logger
}

// NewGlobals installs the process logger and returns the shared flags.
func NewGlobals(debug bool, version string) *Globals {
	l := logger.Setup(debug)
	log.Logger = l
	zerolog.DefaultContextLogger = &l
	return &Globals{Debug: debug, Version: version, Logger: l}
}

// ConfigFlags are shared by the commands that read server configuration.
type ConfigFlags struct {
	Config string `help:"JSON config file (comments allowed)" type:"path" env:"ATTENDANCE_CONFIG_FILE"`
}

func (f ConfigFlags) load() (*config.Config, error) {
	return config.LoadConfigWithPrecedence(f.Config)
}

// ServerFlags are shared by the client commands.
type ServerFlags struct {
	Server   string `help:"Server URL" default:"http://localhost:8080" env:"ATTENDANCE_SERVER"`
	Token    string `help:"Bearer token" env:"ATTENDANCE_TOKEN"`
	Email    string `help:"Log in with this email instead of a token"`
	Password string `help:"Password for --email" env:"ATTENDANCE_PASSWORD"`
}

func (f ServerFlags) client(ctx context.Context) (*client.Client, error) {
	c := client.New(f.Server, client.WithToken(f.Token))
	if f.Token != "" {
		return c, nil
	}
	if f.Email == "" {
		return nil, fmt.Errorf("either --token or --email is required")
	}
	resp, err := c.Login(ctx, f.Email, f.Password)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	log.Debug().Str("account", resp.User.ID).Str("role", resp.User.Role).Msg("Logged in")
	return c, nil
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
