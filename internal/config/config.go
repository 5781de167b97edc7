// Package config holds the attendance server configuration. Values come from
// defaults, then ATTENDANCE_* environment variables, then an optional JSON
// file that may contain comments.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/tidwall/jsonc"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "ATTENDANCE_"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Verifier modes.
const (
	VerifierDigest = "digest"
	VerifierHTTP   = "http"
)

type Config struct {
	Database *DatabaseConfig `json:"database" envPrefix:"DATABASE_"`
	HTTP     *HTTPConfig     `json:"http" envPrefix:"HTTP_"`
	Session  *SessionConfig  `json:"session" envPrefix:"SESSION_"`
	Presence *PresenceConfig `json:"presence" envPrefix:"PRESENCE_"`
	Auth     *AuthConfig     `json:"auth" envPrefix:"AUTH_"`
	Verifier *VerifierConfig `json:"verifier" envPrefix:"VERIFIER_"`
	Checkin  *CheckinConfig  `json:"checkin" envPrefix:"CHECKIN_"`
}

type DatabaseConfig struct {
	Driver         string        `json:"driver" env:"DRIVER"`
	Path           string        `json:"path" env:"PATH"`
	DSN            string        `json:"dsn" env:"DSN"`
	Timeout        time.Duration `json:"timeout" env:"TIMEOUT"`
	MaxConnections int           `json:"max_connections" env:"MAX_CONNECTIONS"`
}

type HTTPConfig struct {
	Host         string        `json:"host" env:"HOST"`
	Port         int           `json:"port" env:"PORT"`
	ReadTimeout  time.Duration `json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	CORSOrigins  []string      `json:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// SessionConfig controls the check-in window and join codes.
type SessionConfig struct {
	Window        time.Duration `json:"window" env:"WINDOW"`
	CodeLength    int           `json:"code_length" env:"CODE_LENGTH"`
	CodeAttempts  int           `json:"code_attempts" env:"CODE_ATTEMPTS"`
	SweepInterval time.Duration `json:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// PresenceConfig controls how presenters follow a session.
type PresenceConfig struct {
	PollInterval time.Duration `json:"poll_interval" env:"POLL_INTERVAL"`
	PingInterval time.Duration `json:"ping_interval" env:"PING_INTERVAL"`
}

type AuthConfig struct {
	Secret   string        `json:"secret" env:"SECRET"`
	Issuer   string        `json:"issuer" env:"ISSUER"`
	TokenTTL time.Duration `json:"token_ttl" env:"TOKEN_TTL"`
}

type VerifierConfig struct {
	Mode       string        `json:"mode" env:"MODE"`
	URL        string        `json:"url" env:"URL"`
	Timeout    time.Duration `json:"timeout" env:"TIMEOUT"`
	MaxRetries int           `json:"max_retries" env:"MAX_RETRIES"`
}

type CheckinConfig struct {
	ResolveAttemptsPerMinute int `json:"resolve_attempts_per_minute" env:"RESOLVE_ATTEMPTS_PER_MINUTE"`
}

// DefaultConfig returns classroom defaults: a local SQLite file, a 60 second
// window with six digit codes, and a two second presence poll.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Driver:         DriverSQLite,
			Path:           "./data/attendance.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			CORSOrigins:  []string{"*"},
		},
		Session: &SessionConfig{
			Window:        60 * time.Second,
			CodeLength:    6,
			CodeAttempts:  8,
			SweepInterval: 5 * time.Second,
		},
		Presence: &PresenceConfig{
			PollInterval: 2 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Auth: &AuthConfig{
			Issuer:   "attendance",
			TokenTTL: 7 * 24 * time.Hour,
		},
		Verifier: &VerifierConfig{
			Mode:       VerifierDigest,
			Timeout:    10 * time.Second,
			MaxRetries: 2,
		},
		Checkin: &CheckinConfig{
			ResolveAttemptsPerMinute: 20,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.Session == nil || c.Presence == nil ||
		c.Auth == nil || c.Verifier == nil || c.Checkin == nil {
		return fmt.Errorf("all configuration sections are required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.Session.Window < time.Second {
		return fmt.Errorf("session window must be at least one second")
	}
	if c.Session.CodeLength < 4 || c.Session.CodeLength > 12 {
		return fmt.Errorf("session code length must be between 4 and 12")
	}
	if c.Session.CodeAttempts <= 0 {
		return fmt.Errorf("session code attempts must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}

	if c.Presence.PollInterval <= 0 || c.Presence.PingInterval <= 0 {
		return fmt.Errorf("presence intervals must be positive")
	}

	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}

	switch c.Verifier.Mode {
	case VerifierDigest:
	case VerifierHTTP:
		if c.Verifier.URL == "" {
			return fmt.Errorf("verifier url is required for http mode")
		}
	default:
		return fmt.Errorf("unknown verifier mode %q", c.Verifier.Mode)
	}
	if c.Verifier.Timeout <= 0 {
		return fmt.Errorf("verifier timeout must be positive")
	}
	if c.Verifier.MaxRetries < 0 {
		return fmt.Errorf("verifier max retries cannot be negative")
	}

	if c.Checkin.ResolveAttemptsPerMinute < 0 {
		return fmt.Errorf("resolve attempts per minute cannot be negative")
	}
	return nil
}

// ApplyEnv overrides c with any ATTENDANCE_* variables that are set.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadFromEnv returns defaults overridden by the environment.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFile is the on-disk shape. Durations are Go duration strings and
// every field is optional.
type ConfigFile struct {
	Database *struct {
		Driver         string `json:"driver"`
		Path           string `json:"path"`
		DSN            string `json:"dsn"`
		Timeout        string `json:"timeout"`
		MaxConnections int    `json:"max_connections"`
	} `json:"database"`
	HTTP *struct {
		Host         string   `json:"host"`
		Port         int      `json:"port"`
		ReadTimeout  string   `json:"read_timeout"`
		WriteTimeout string   `json:"write_timeout"`
		CORSOrigins  []string `json:"cors_origins"`
	} `json:"http"`
	Session *struct {
		Window        string `json:"window"`
		CodeLength    int    `json:"code_length"`
		CodeAttempts  int    `json:"code_attempts"`
		SweepInterval string `json:"sweep_interval"`
	} `json:"session"`
	Presence *struct {
		PollInterval string `json:"poll_interval"`
		PingInterval string `json:"ping_interval"`
	} `json:"presence"`
	Auth *struct {
		Secret   string `json:"secret"`
		Issuer   string `json:"issuer"`
		TokenTTL string `json:"token_ttl"`
	} `json:"auth"`
	Verifier *struct {
		Mode       string `json:"mode"`
		URL        string `json:"url"`
		Timeout    string `json:"timeout"`
		MaxRetries *int   `json:"max_retries"`
	} `json:"verifier"`
	Checkin *struct {
		ResolveAttemptsPerMinute *int `json:"resolve_attempts_per_minute"`
	} `json:"checkin"`
}

// ApplyFile overlays the settings present in path onto c.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	d := durations{}
	if f := file.Database; f != nil {
		setString(&c.Database.Driver, f.Driver)
		setString(&c.Database.Path, f.Path)
		setString(&c.Database.DSN, f.DSN)
		d.set(&c.Database.Timeout, "database.timeout", f.Timeout)
		setInt(&c.Database.MaxConnections, f.MaxConnections)
	}
	if f := file.HTTP; f != nil {
		setString(&c.HTTP.Host, f.Host)
		setInt(&c.HTTP.Port, f.Port)
		d.set(&c.HTTP.ReadTimeout, "http.read_timeout", f.ReadTimeout)
		d.set(&c.HTTP.WriteTimeout, "http.write_timeout", f.WriteTimeout)
		if len(f.CORSOrigins) > 0 {
			c.HTTP.CORSOrigins = f.CORSOrigins
		}
	}
	if f := file.Session; f != nil {
		d.set(&c.Session.Window, "session.window", f.Window)
		setInt(&c.Session.CodeLength, f.CodeLength)
		setInt(&c.Session.CodeAttempts, f.CodeAttempts)
		d.set(&c.Session.SweepInterval, "session.sweep_interval", f.SweepInterval)
	}
	if f := file.Presence; f != nil {
		d.set(&c.Presence.PollInterval, "presence.poll_interval", f.PollInterval)
		d.set(&c.Presence.PingInterval, "presence.ping_interval", f.PingInterval)
	}
	if f := file.Auth; f != nil {
		setString(&c.Auth.Secret, f.Secret)
		setString(&c.Auth.Issuer, f.Issuer)
		d.set(&c.Auth.TokenTTL, "auth.token_ttl", f.TokenTTL)
	}
	if f := file.Verifier; f != nil {
		setString(&c.Verifier.Mode, f.Mode)
		setString(&c.Verifier.URL, f.URL)
		d.set(&c.Verifier.Timeout, "verifier.timeout", f.Timeout)
		if f.MaxRetries != nil {
			c.Verifier.MaxRetries = *f.MaxRetries
		}
	}
	if f := file.Checkin; f != nil && f.ResolveAttemptsPerMinute != nil {
		c.Checkin.ResolveAttemptsPerMinute = *f.ResolveAttemptsPerMinute
	}

	if d.err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, d.err)
	}
	return nil
}

// LoadFromFile returns defaults overridden by the file at path.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigWithPrecedence applies file > environment > defaults. An empty
// path skips the file. The result is not validated so callers can apply
// flag overrides first.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

type durations struct {
	err error
}

func (d *durations) set(dst *time.Duration, name, value string) {
	if value == "" || d.err != nil {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = parsed
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}
