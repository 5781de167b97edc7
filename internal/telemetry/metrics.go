package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "attendance"
)

// Metrics holds the OpenTelemetry instruments for the attendance protocol.
type Metrics struct {
	SessionsStartedTotal     metric.Int64Counter
	SessionsClosedTotal      metric.Int64Counter
	MarksRecordedTotal       metric.Int64Counter
	SubmissionsRejectedTotal metric.Int64Counter
	CodeResolutionsTotal     metric.Int64Counter
	VerifierDuration         metric.Float64Histogram
	PresenceStreams          metric.Int64UpDownCounter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments come from the global meter provider, which is a no-op unless the
// embedding program installs one.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SessionsStartedTotal, _ = meter.Int64Counter(
		"attendance.sessions.started.total",
		metric.WithDescription("Total number of attendance sessions opened"),
		metric.WithUnit("{session}"),
	)

	m.SessionsClosedTotal, _ = meter.Int64Counter(
		"attendance.sessions.closed.total",
		metric.WithDescription("Total number of attendance sessions closed, by reason"),
		metric.WithUnit("{session}"),
	)

	m.MarksRecordedTotal, _ = meter.Int64Counter(
		"attendance.marks.recorded.total",
		metric.WithDescription("Total number of attendance marks persisted"),
		metric.WithUnit("{mark}"),
	)

	m.SubmissionsRejectedTotal, _ = meter.Int64Counter(
		"attendance.submissions.rejected.total",
		metric.WithDescription("Total number of capture submissions rejected, by error kind"),
		metric.WithUnit("{submission}"),
	)

	m.CodeResolutionsTotal, _ = meter.Int64Counter(
		"attendance.codes.resolutions.total",
		metric.WithDescription("Total number of join code resolutions, by outcome"),
		metric.WithUnit("{resolution}"),
	)

	m.VerifierDuration, _ = meter.Float64Histogram(
		"attendance.verifier.duration",
		metric.WithDescription("Duration of biometric verifier calls"),
		metric.WithUnit("ms"),
	)

	m.PresenceStreams, _ = meter.Int64UpDownCounter(
		"attendance.presence.streams.active",
		metric.WithDescription("Number of open presence push streams"),
		metric.WithUnit("{stream}"),
	)

	return m
}

// SessionClosed records a session close with its reason.
func (m *Metrics) SessionClosed(ctx context.Context, reason string) {
	m.SessionsClosedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// SubmissionRejected records a rejected capture submission with its error kind.
func (m *Metrics) SubmissionRejected(ctx context.Context, kind string) {
	m.SubmissionsRejectedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// CodeResolved records a join code resolution outcome.
func (m *Metrics) CodeResolved(ctx context.Context, outcome string) {
	m.CodeResolutionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
