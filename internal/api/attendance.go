package api

import (
	"fmt"
	"net/http"
	"slices"

	"attendance/internal/auth"
	"attendance/pkg/types"
)

// POST /api/attendance/resolve-code
func (s *Server) resolveCode(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := auth.RequireRole(p, types.RoleParticipant); err != nil {
		s.sendError(w, r, err)
		return
	}

	var req types.ResolveCodeRequest
	if !s.decode(w, r, &req) {
		return
	}

	session, err := s.deps.Resolver.Resolve(r.Context(), req.Code, p.ID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ResolveCodeResponse{
		SessionID:   session.ID,
		ClassName:   session.ClassName,
		SubjectName: session.SubjectName,
		Label:       session.Label(),
		ExpiresAt:   session.ExpiresAt,
	})
}

// POST /api/attendance/submit
func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := auth.RequireRole(p, types.RoleParticipant); err != nil {
		s.sendError(w, r, err)
		return
	}

	var req types.SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		s.sendError(w, r, fmt.Errorf("%w: sessionId is required", types.ErrInvalidInput))
		return
	}
	capture, err := types.DecodeCapture(req.Capture)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	mark, err := s.deps.Pipeline.Submit(r.Context(), req.SessionID, p.ID, capture)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SubmitResponse{
		MarkID:    mark.ID,
		SessionID: mark.SessionID,
		Timestamp: mark.MarkedAt,
	})
}

// GET /api/participant/profile
func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := auth.RequireRole(p, types.RoleParticipant); err != nil {
		s.sendError(w, r, err)
		return
	}

	participant, err := s.deps.Store.GetParticipant(r.Context(), p.ID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ProfileResponse{
		ParticipantID: participant.ID,
		Registered:    participant.Registered(),
	})
}

// POST /api/participant/profile
func (s *Server) registerProfile(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := auth.RequireRole(p, types.RoleParticipant); err != nil {
		s.sendError(w, r, err)
		return
	}

	var req types.ProfileRequest
	if !s.decode(w, r, &req) {
		return
	}
	capture, err := types.DecodeCapture(req.Capture)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	participant, err := s.deps.Pipeline.Register(r.Context(), p.ID, capture)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ProfileResponse{
		ParticipantID: participant.ID,
		Registered:    participant.Registered(),
	})
}

// GET /api/attendance/report
//
// Participants get their own subject totals. Presenters pass class and
// subject and get the register for a subject they teach. Admins may ask for
// either, naming a participant explicitly.
func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if err := auth.RequireRole(p, types.RoleParticipant, types.RolePresenter, types.RoleAdmin); err != nil {
		s.sendError(w, r, err)
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	var participantID string
	switch p.Role {
	case types.RoleParticipant:
		participantID = p.ID
	case types.RoleAdmin:
		participantID = q.Get("participant")
	}
	if participantID != "" {
		report, err := s.deps.Reports.Participant(ctx, participantID)
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	classID, subjectID := q.Get("class"), q.Get("subject")
	if classID == "" || subjectID == "" {
		s.sendError(w, r, fmt.Errorf("%w: class and subject are required", types.ErrInvalidInput))
		return
	}
	if p.Role == types.RolePresenter {
		scopes, err := s.deps.Store.ListScopes(ctx, p.ID)
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		assigned := slices.ContainsFunc(scopes, func(sc types.Scope) bool {
			return sc.ClassID == classID && sc.SubjectID == subjectID
		})
		if !assigned {
			s.sendError(w, r, fmt.Errorf("%w: not assigned to this subject", types.ErrForbidden))
			return
		}
	}

	register, err := s.deps.Reports.Register(ctx, classID, subjectID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, register)
}
