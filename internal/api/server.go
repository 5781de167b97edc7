// Package api serves the attendance request/response contract over HTTP.
// Handlers hold no protocol logic: they authenticate, decode, call the
// session, checkin and report services, and map errors to status codes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/hlog"

	"attendance/internal/auth"
	"attendance/internal/checkin"
	"attendance/internal/report"
	"attendance/internal/session"
	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

// maxBodyBytes bounds request bodies. Captures are base64 so they grow by a third.
const maxBodyBytes = types.MaxCaptureBytes*4/3 + 64<<10

// PresenceHandler upgrades a request into a presence stream.
type PresenceHandler interface {
	Serve(w http.ResponseWriter, r *http.Request, userID, sessionID string)
}

// Registry reports presence stream statistics.
type Registry interface {
	GetStats() map[string]int
}

// Deps are the services the server calls. Presence and Registry may be nil.
type Deps struct {
	Store    interfaces.Store
	Sessions *session.Manager
	Resolver *checkin.Resolver
	Pipeline *checkin.Pipeline
	Reports  *report.Service
	Tokens   *auth.Tokens
	Login    *auth.Login
	Presence PresenceHandler
	Registry Registry
}

type Server struct {
	deps    Deps
	router  *http.ServeMux
	handler http.Handler
}

// NewServer builds the routes. allowedOrigins feeds the CORS policy.
func NewServer(deps Deps, allowedOrigins []string) *Server {
	s := &Server{
		deps:   deps,
		router: http.NewServeMux(),
	}
	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	})
	s.handler = c.Handler(s.jsonMiddleware(s.router))
	return s
}

func (s *Server) setupRoutes() {
	authed := s.deps.Tokens.Middleware(s.sendError)
	handle := func(pattern string, h http.HandlerFunc) {
		s.router.Handle(pattern, authed(h))
	}

	s.router.HandleFunc("GET /health", s.healthCheck)
	s.router.HandleFunc("POST /api/login", s.login)

	handle("GET /api/presenter/scopes", s.listScopes)
	handle("POST /api/session/start", s.startSession)
	handle("POST /api/session/end/{id}", s.endSession)
	handle("GET /api/session/{id}", s.getSession)
	handle("GET /api/session/{id}/marks", s.listMarks)
	handle("GET /api/session/{id}/presence/ws", s.presenceStream)

	handle("POST /api/attendance/resolve-code", s.resolveCode)
	handle("POST /api/attendance/submit", s.submit)
	handle("GET /api/attendance/report", s.report)
	handle("GET /api/participant/profile", s.profile)
	handle("POST /api/participant/profile", s.registerProfile)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  string         `json:"database"`
	Sessions  map[string]any `json:"sessions"`
	Streams   map[string]int `json:"streams,omitempty"`
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		Sessions:  s.deps.Sessions.GetStats(),
	}
	if s.deps.Registry != nil {
		resp.Streams = s.deps.Registry.GetStats()
	}

	status := http.StatusOK
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Store health check failed")
		resp.Status = "unhealthy"
		resp.Database = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// POST /api/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}

	token, account, err := s.deps.Login.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.LoginResponse{Token: token, User: account})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
