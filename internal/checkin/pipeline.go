package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"attendance/internal/telemetry"
	"attendance/pkg/interfaces"
	"attendance/pkg/types"
)

// Pipeline validates a capture submission and records at most one mark per
// participant per session.
type Pipeline struct {
	store    interfaces.Store
	verifier interfaces.Verifier
	notifier interfaces.Notifier
	now      func() time.Time
	metrics  *telemetry.Metrics
}

// NewPipeline creates a capture pipeline. A nil notifier discards events.
func NewPipeline(store interfaces.Store, verifier interfaces.Verifier, notifier interfaces.Notifier, now func() time.Time) *Pipeline {
	if notifier == nil {
		notifier = interfaces.NopNotifier{}
	}
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		store:    store,
		verifier: verifier,
		notifier: notifier,
		now:      now,
		metrics:  telemetry.GetMetrics(),
	}
}

// Submit checks, in order: the session is open, the participant has a
// registered profile, no mark exists yet, and the capture matches. A repeat
// submission returns the first mark without calling the verifier.
func (p *Pipeline) Submit(ctx context.Context, sessionID, participantID string, capture []byte) (*types.AttendanceMark, error) {
	mark, created, err := p.submit(ctx, sessionID, participantID, capture)
	if err != nil {
		p.metrics.SubmissionRejected(ctx, types.Kind(err))
		log.Info().
			Err(err).
			Str("session_id", sessionID).
			Str("participant_id", participantID).
			Str("kind", types.Kind(err)).
			Msg("Capture submission rejected")
		return nil, err
	}

	if created {
		p.metrics.MarksRecordedTotal.Add(ctx, 1)
		p.notifier.MarkRecorded(sessionID)
		log.Info().
			Str("session_id", sessionID).
			Str("participant_id", participantID).
			Str("mark_id", mark.ID).
			Msg("Attendance marked")
	}
	return mark, nil
}

func (p *Pipeline) submit(ctx context.Context, sessionID, participantID string, capture []byte) (*types.AttendanceMark, bool, error) {
	if len(capture) == 0 {
		return nil, false, fmt.Errorf("%w: capture is required", types.ErrInvalidInput)
	}

	session, err := p.store.GetSession(ctx, sessionID)
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		return nil, false, fmt.Errorf("%w: session %s does not exist", types.ErrSessionClosed, sessionID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.IsOpen(p.now()) {
		return nil, false, interfaces.ErrSessionNotOpen
	}

	participant, err := enrolledParticipant(ctx, p.store, session, participantID)
	if err != nil {
		return nil, false, err
	}
	if !participant.Registered() {
		return nil, false, types.ErrNotRegistered
	}

	existing, err := p.store.GetMark(ctx, sessionID, participantID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, interfaces.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to check existing mark: %w", err)
	}

	if err := p.verify(ctx, participant.Profile, capture); err != nil {
		return nil, false, err
	}

	mark := &types.AttendanceMark{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		ParticipantID: participantID,
		MarkedAt:      p.now().UTC(),
		Outcome:       types.OutcomePresent,
	}
	stored, created, err := p.store.InsertMark(ctx, mark, mark.MarkedAt)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (p *Pipeline) verify(ctx context.Context, profile, capture []byte) error {
	start := time.Now()
	ok, err := p.verifier.Verify(ctx, profile, capture)
	p.metrics.VerifierDuration.Record(ctx, float64(time.Since(start).Milliseconds()))

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: verifier unavailable: %v", types.ErrVerificationFailed, err)
	}
	if !ok {
		return ErrNoMatch
	}
	return nil
}

// Register enrolls capture with the verifier and stores the resulting profile
// on the participant, replacing any previous one.
func (p *Pipeline) Register(ctx context.Context, participantID string, capture []byte) (*types.Participant, error) {
	if len(capture) == 0 {
		return nil, fmt.Errorf("%w: capture is required", types.ErrInvalidInput)
	}

	participant, err := p.store.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}

	profile, err := p.verifier.Enroll(ctx, capture)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: could not enroll capture: %v", types.ErrVerificationFailed, err)
	}
	if len(profile) == 0 {
		return nil, fmt.Errorf("%w: verifier returned an empty profile", types.ErrVerificationFailed)
	}

	if err := p.store.SetProfile(ctx, participantID, profile); err != nil {
		return nil, fmt.Errorf("failed to store profile: %w", err)
	}
	participant.Profile = profile

	log.Info().Str("participant_id", participantID).Msg("Biometric profile registered")
	return participant, nil
}
