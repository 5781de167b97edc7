// Package participant runs a participant's check-in: resolve the join code,
// confirm a profile is registered, take one capture from the device, submit
// it, release the device.
package participant

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"attendance/internal/capture"
	"attendance/pkg/types"
)

// Stage names the step a check-in failed at, so the participant knows
// whether to retype the code or retake the capture.
type Stage string

const (
	StageCode     Stage = "code"
	StageCapture  Stage = "capture"
	StageSubmit   Stage = "submit"
	StageRegister Stage = "register"
)

// StageError wraps a failure with the step it happened at.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the failing step of err, or "" if err is not a StageError.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// API is the subset of the attendance client a participant needs.
type API interface {
	ResolveCode(ctx context.Context, code string) (*types.ResolveCodeResponse, error)
	Profile(ctx context.Context) (*types.ProfileResponse, error)
	Submit(ctx context.Context, sessionID string, capture []byte) (*types.SubmitResponse, error)
	RegisterProfile(ctx context.Context, capture []byte) (*types.ProfileResponse, error)
}

type Flow struct {
	api    API
	device *capture.Exclusive
}

func NewFlow(api API, device *capture.Exclusive) *Flow {
	return &Flow{api: api, device: device}
}

// Result is a completed check-in.
type Result struct {
	Session *types.ResolveCodeResponse
	Mark    *types.SubmitResponse
}

// CheckIn resolves code and submits one capture against the session it
// names. The device is held only while capturing, and is never opened for a
// participant without a registered profile.
func (f *Flow) CheckIn(ctx context.Context, code string) (*Result, error) {
	session, err := f.api.ResolveCode(ctx, code)
	if err != nil {
		return nil, &StageError{Stage: StageCode, Err: err}
	}

	profile, err := f.api.Profile(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageRegister, Err: err}
	}
	if !profile.Registered {
		return nil, &StageError{Stage: StageRegister, Err: fmt.Errorf("%w: %s", types.ErrNotRegistered, profile.ParticipantID)}
	}

	sample, err := f.capture(ctx, "check-in")
	if err != nil {
		return nil, &StageError{Stage: StageCapture, Err: err}
	}

	mark, err := f.api.Submit(ctx, session.SessionID, sample)
	if err != nil {
		return nil, &StageError{Stage: StageSubmit, Err: err}
	}

	log.Info().
		Str("session_id", session.SessionID).
		Str("mark_id", mark.MarkID).
		Msg("Checked in")
	return &Result{Session: session, Mark: mark}, nil
}

// Register takes one capture and enrolls it as the participant's profile.
func (f *Flow) Register(ctx context.Context) (*types.ProfileResponse, error) {
	sample, err := f.capture(ctx, "profile")
	if err != nil {
		return nil, &StageError{Stage: StageCapture, Err: err}
	}
	resp, err := f.api.RegisterProfile(ctx, sample)
	if err != nil {
		return nil, &StageError{Stage: StageRegister, Err: err}
	}
	return resp, nil
}

func (f *Flow) capture(ctx context.Context, owner string) ([]byte, error) {
	var sample []byte
	err := f.device.With(ctx, owner, func(ctx context.Context, dev capture.Device) error {
		var err error
		sample, err = dev.Capture(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: empty capture", types.ErrInvalidInput)
	}
	return sample, nil
}

// Message returns the participant-facing explanation of a failed check-in.
func Message(err error) string {
	switch {
	case err == nil:
		return "Checked in"
	case errors.Is(err, types.ErrNotFound) && StageOf(err) == StageCode:
		return "Wrong or expired code"
	case errors.Is(err, types.ErrRateLimited):
		return "Too many attempts, wait a minute and try again"
	case errors.Is(err, types.ErrSessionClosed):
		return "The session has closed"
	case errors.Is(err, types.ErrNotRegistered):
		return "Register your face before checking in"
	case errors.Is(err, types.ErrVerificationFailed):
		return "Face did not match, try again"
	case errors.Is(err, types.ErrForbidden):
		return "You are not enrolled in this class"
	case errors.Is(err, types.ErrTransientNetwork):
		return "Network problem, try again"
	case StageOf(err) == StageCapture:
		return "Camera unavailable"
	}
	return "Check-in failed"
}
