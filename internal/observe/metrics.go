// Package observe provides application-wide observability primitives for the
// interview voice client and its signing intermediary: OpenTelemetry metrics,
// distributed tracing, structured logging, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/careerdeck/voiceinterview"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture / outbound ---

	// FramesCaptured counts frames emitted by the frame chunker.
	FramesCaptured metric.Int64Counter

	// FramesSent counts audio frames written to the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames that were not sent. Use with attribute:
	//   attribute.String("reason", "muted"|"closed"|"backpressure"|"write_error")
	FramesDropped metric.Int64Counter

	// --- Inbound ---

	// PongsSent counts keep-alive replies.
	PongsSent metric.Int64Counter

	// AudioScheduled counts agent audio buffers handed to the playback
	// scheduler.
	AudioScheduled metric.Int64Counter

	// PlaybackLead tracks how far ahead of the output clock each agent buffer
	// was scheduled. Zero means the playback queue had drained.
	PlaybackLead metric.Float64Histogram

	// ProtocolErrors counts ignored inbound messages. Use with attribute:
	//   attribute.String("reason", ...)
	ProtocolErrors metric.Int64Counter

	// --- Session lifecycle ---

	// SessionTransitions counts state machine transitions. Use with attribute:
	//   attribute.String("state", ...)
	SessionTransitions metric.Int64Counter

	// SessionErrors counts fatal session errors. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Credentials ---

	// CredentialDuration tracks signed URL fetch latency as seen by the client.
	CredentialDuration metric.Float64Histogram

	// SignedURLRequests counts signed URL requests served by the
	// intermediary. Use with attribute:
	//   attribute.String("status", ...)
	SignedURLRequests metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network round trips and playback lead times.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("voiceinterview.frames.captured",
		metric.WithDescription("Total capture frames emitted by the chunker."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("voiceinterview.frames.sent",
		metric.WithDescription("Total audio frames written to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voiceinterview.frames.dropped",
		metric.WithDescription("Total audio frames not sent, by reason."),
	); err != nil {
		return nil, err
	}
	if met.PongsSent, err = m.Int64Counter("voiceinterview.pongs.sent",
		metric.WithDescription("Total keep-alive pong replies."),
	); err != nil {
		return nil, err
	}
	if met.AudioScheduled, err = m.Int64Counter("voiceinterview.audio.scheduled",
		metric.WithDescription("Total agent audio buffers scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("voiceinterview.protocol.errors",
		metric.WithDescription("Total ignored inbound messages by reason."),
	); err != nil {
		return nil, err
	}
	if met.SessionTransitions, err = m.Int64Counter("voiceinterview.session.transitions",
		metric.WithDescription("Total session state transitions by target state."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voiceinterview.session.errors",
		metric.WithDescription("Total fatal session errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.SignedURLRequests, err = m.Int64Counter("voiceinterview.signer.requests",
		metric.WithDescription("Total signed URL requests served by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voiceinterview.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.PlaybackLead, err = m.Float64Histogram("voiceinterview.playback.lead",
		metric.WithDescription("Time between scheduling an agent buffer and its start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CredentialDuration, err = m.Float64Histogram("voiceinterview.credential.duration",
		metric.WithDescription("Latency of fetching a signed conversation URL."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceinterview.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrameDropped increments the dropped frame counter for reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProtocolError increments the ignored inbound message counter.
func (m *Metrics) RecordProtocolError(ctx context.Context, reason string) {
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransition increments the transition counter for the target state.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordSessionError increments the fatal error counter for kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSignedURLRequest increments the intermediary request counter.
func (m *Metrics) RecordSignedURLRequest(ctx context.Context, status string) {
	m.SignedURLRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
