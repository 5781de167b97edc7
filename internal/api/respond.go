package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"attendance/pkg/types"
)

var statusByKind = map[string]int{
	types.KindConflict:           http.StatusConflict,
	types.KindForbidden:          http.StatusForbidden,
	types.KindNotFound:           http.StatusNotFound,
	types.KindSessionClosed:      http.StatusGone,
	types.KindNotRegistered:      http.StatusPreconditionFailed,
	types.KindVerificationFailed: http.StatusUnprocessableEntity,
	types.KindInvalidInput:       http.StatusBadRequest,
	types.KindUnauthorized:       http.StatusUnauthorized,
	types.KindRateLimited:        http.StatusTooManyRequests,
	types.KindTransientNetwork:   http.StatusBadGateway,
}

// StatusForKind returns the HTTP status for an error kind.
func StatusForKind(kind string) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// sendError writes err as an ErrorResponse. Internal errors are logged and
// their text is not sent to the client.
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	kind := types.Kind(err)
	status := StatusForKind(kind)

	message := err.Error()
	if kind == types.KindInternal {
		hlog.FromRequest(r).Error().Err(err).Msg("Request failed")
		message = "internal error"
	} else {
		hlog.FromRequest(r).Debug().Err(err).Str("kind", kind).Msg("Request rejected")
	}

	writeJSON(w, status, types.ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Kind:    kind,
		Message: message,
	})
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			err = fmt.Errorf("%w: request body exceeds %d bytes", types.ErrInvalidInput, tooLarge.Limit)
		case errors.Is(err, io.EOF):
			err = fmt.Errorf("%w: request body is empty", types.ErrInvalidInput)
		default:
			err = fmt.Errorf("%w: invalid JSON: %v", types.ErrInvalidInput, err)
		}
		s.sendError(w, r, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
