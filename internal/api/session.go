package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"attendance/internal/auth"
	"attendance/pkg/types"
)

// GET /api/presenter/scopes
func (s *Server) listScopes(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := auth.RequireRole(p, types.RolePresenter); err != nil {
		s.sendError(w, r, err)
		return
	}

	scopes, err := s.deps.Store.ListScopes(r.Context(), p.ID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if scopes == nil {
		scopes = []types.Scope{}
	}
	writeJSON(w, http.StatusOK, types.ScopesResponse{Scopes: scopes})
}

// POST /api/session/start
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := auth.RequireRole(p, types.RolePresenter); err != nil {
		s.sendError(w, r, err)
		return
	}

	var req types.StartSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, err := s.deps.Sessions.Start(r.Context(), p.ID, req.ClassID, req.SubjectID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.NewSessionResponse(session))
}

// POST /api/session/end/{id}
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := auth.RequireRole(p, types.RolePresenter); err != nil {
		s.sendError(w, r, err)
		return
	}

	id := r.PathValue("id")
	if err := s.deps.Sessions.End(r.Context(), id, p.ID); err != nil {
		s.sendError(w, r, err)
		return
	}

	session, err := s.deps.Sessions.Get(r.Context(), id)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewSessionResponse(session))
}

// GET /api/session/{id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r, types.RolePresenter, types.RoleParticipant, types.RoleAdmin)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, types.NewSessionResponse(session))
}

// GET /api/session/{id}/marks
func (s *Server) listMarks(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r, types.RolePresenter, types.RoleAdmin)
	if !ok {
		return
	}

	entries, err := s.deps.Store.ListPresence(r.Context(), session.ID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if entries == nil {
		entries = []types.PresenceEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GET /api/session/{id}/presence/ws
func (s *Server) presenceStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Presence == nil {
		s.sendError(w, r, fmt.Errorf("%w: presence streaming is disabled", types.ErrNotFound))
		return
	}

	session, ok := s.authorizedSession(w, r, types.RolePresenter)
	if !ok {
		return
	}
	s.deps.Presence.Serve(w, r, auth.PrincipalFromContext(r.Context()).ID, session.ID)
}

// authorizedSession loads the session named in the path and checks the
// caller may see it: presenters only their own sessions, participants only
// sessions of their class.
func (s *Server) authorizedSession(w http.ResponseWriter, r *http.Request, roles ...string) (*types.Session, bool) {
	p := auth.PrincipalFromContext(r.Context())
	if err := auth.RequireRole(p, roles...); err != nil {
		s.sendError(w, r, err)
		return nil, false
	}

	session, err := s.deps.Sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.sendError(w, r, err)
		return nil, false
	}

	if err := s.canView(r.Context(), p, session); err != nil {
		s.sendError(w, r, err)
		return nil, false
	}
	return session, true
}

func (s *Server) canView(ctx context.Context, p *types.Principal, session *types.Session) error {
	switch p.Role {
	case types.RoleAdmin:
		return nil
	case types.RolePresenter:
		if session.PresenterID != p.ID {
			return fmt.Errorf("%w: session %s belongs to another presenter", types.ErrForbidden, session.ID)
		}
		return nil
	case types.RoleParticipant:
		participant, err := s.deps.Store.GetParticipant(ctx, p.ID)
		if errors.Is(err, types.ErrNotFound) || (err == nil && participant.ClassID != session.ClassID) {
			return fmt.Errorf("%w: not enrolled in %s", types.ErrForbidden, session.ClassName)
		}
		return err
	}
	return auth.ErrWrongRole
}
