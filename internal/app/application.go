// Package app wires the attendance server together: store, session
// lifecycle, presence hub, check-in pipeline, auth and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"attendance/internal/api"
	"attendance/internal/auth"
	"attendance/internal/biometric"
	"attendance/internal/checkin"
	"attendance/internal/config"
	"attendance/internal/database"
	"attendance/internal/database/memstore"
	"attendance/internal/database/postgres"
	"attendance/internal/hub"
	"attendance/internal/logger"
	"attendance/internal/report"
	"attendance/internal/session"
	"attendance/internal/websocket"
	dbconfig "attendance/pkg/database"
	"attendance/pkg/interfaces"
)

// Application coordinates all server components.
// Initialization order: Store → Sessions → Registry → Hub → Verifier →
// Check-in → Auth → API → HTTP. Shutdown runs in reverse.
type Application struct {
	config     *config.Config
	store      interfaces.Store
	sessions   *session.Manager
	hub        *hub.Hub
	limiter    *checkin.Limiter
	apiServer  *api.Server
	httpServer *http.Server

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewApplication builds every component. Nothing runs until Start.
func NewApplication(ctx context.Context, cfg *config.Config, accessLog zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	registry := websocket.NewRegistry()
	messageHub := hub.NewHub(store, registry)

	sessions := session.NewManager(store, messageHub, session.Options{
		Window:        cfg.Session.Window,
		CodeLength:    cfg.Session.CodeLength,
		CodeAttempts:  cfg.Session.CodeAttempts,
		SweepInterval: cfg.Session.SweepInterval,
	})
	if err := sessions.LoadActiveSessions(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	verifier, err := biometric.New(biometric.Config{
		Mode:       cfg.Verifier.Mode,
		URL:        cfg.Verifier.URL,
		Timeout:    cfg.Verifier.Timeout,
		MaxRetries: cfg.Verifier.MaxRetries,
		Secret:     cfg.Auth.Secret,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}

	limiter := checkin.NewLimiter(cfg.Checkin.ResolveAttemptsPerMinute, time.Now)

	tokens, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	apiServer := api.NewServer(api.Deps{
		Store:    store,
		Sessions: sessions,
		Resolver: checkin.NewResolver(store, limiter, cfg.Session.CodeLength, time.Now),
		Pipeline: checkin.NewPipeline(store, verifier, messageHub, time.Now),
		Reports:  report.NewService(store),
		Tokens:   tokens,
		Login:    auth.NewLogin(store, tokens),
		Presence: websocket.NewHandler(messageHub, cfg.Presence.PingInterval),
		Registry: registry,
	}, cfg.HTTP.CORSOrigins)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, fmt.Sprint(cfg.HTTP.Port)),
		Handler:      logger.HTTPRequests(accessLog, apiServer),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		store:      store,
		sessions:   sessions,
		hub:        messageHub,
		limiter:    limiter,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// OpenStore opens the store named by cfg.Driver.
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig) (interfaces.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Warn().Msg("Using in-memory store, data is lost on exit")
		return memstore.New(), nil

	case config.DriverPostgres:
		store, err := postgres.NewStore(ctx, &postgres.StoreConfig{
			PoolConfig: postgres.PoolConfig{
				ConnString:     cfg.DSN,
				MaxConns:       int32(cfg.MaxConnections),
				ConnectTimeout: cfg.Timeout,
			},
			AutoMigrate: true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return store, nil

	case config.DriverSQLite, "":
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dbConfig := dbconfig.DefaultConfig()
		dbConfig.DatabasePath = cfg.Path
		dbConfig.MaxConnections = cfg.MaxConnections
		dbConfig.BusyTimeout = cfg.Timeout

		manager, err := database.NewManager(dbConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return manager, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Start runs the hub, the expiry sweeper and the HTTP server. It returns
// once the listener is bound.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.cancel = cancel

	if err := app.hub.Start(runCtx); err != nil {
		cancel()
		_ = listener.Close()
		return fmt.Errorf("failed to start presence hub: %w", err)
	}

	app.wg.Add(3)
	go func() {
		defer app.wg.Done()
		app.sessions.Run(runCtx)
	}()
	go func() {
		defer app.wg.Done()
		app.cleanupLimiter(runCtx)
	}()
	go func() {
		defer app.wg.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	log.Info().Str("addr", app.Addr()).Str("driver", app.config.Database.Driver).Msg("Attendance server started")
	return nil
}

func (app *Application) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			app.limiter.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// Stop shuts down in reverse dependency order: HTTP → Hub → Sweeper → Store.
func (app *Application) Stop(ctx context.Context) error {
	log.Info().Msg("Shutting down attendance server")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.hub.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if app.cancel != nil {
		app.cancel()
	}
	app.wg.Wait()

	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	log.Info().Msg("Attendance server shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound address once started, the configured one before.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Store exposes the store for roster seeding.
func (app *Application) Store() interfaces.Store {
	return app.store
}
