// Package observe provides application-wide observability primitives for the
// CommuniQate interview server: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all interview metrics.
const meterName = "github.com/commmmunkey/communiqate-ai-b2b-sub001"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use since the underlying OTel types
// handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks full conversation-turn latency, from transcript
	// hand-off to the last chunk's playback resolution.
	TurnDuration metric.Float64Histogram

	// AssistantStreamDuration tracks the assistant reply stream latency,
	// first delta to end marker.
	AssistantStreamDuration metric.Float64Histogram

	// CaptureDuration tracks the length of individual listening attempts.
	CaptureDuration metric.Float64Histogram

	// SessionStartDuration tracks how long the resource acquisition ladder
	// takes on session start.
	SessionStartDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksSpoken counts reply chunks handed to the avatar. Use with
	// attribute: attribute.String("profile", ...)
	ChunksSpoken metric.Int64Counter

	// CaptureRestarts counts automatic listening restarts. Use with
	// attribute: attribute.String("reason", ...)
	CaptureRestarts metric.Int64Counter

	// VoiceCommands counts recognised interview control phrases. Use with
	// attribute: attribute.String("command", ...)
	VoiceCommands metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational turn latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("interview.turn.duration",
		metric.WithDescription("Latency of a full conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssistantStreamDuration, err = m.Float64Histogram("interview.assistant.stream.duration",
		metric.WithDescription("Latency of the assistant reply stream."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureDuration, err = m.Float64Histogram("interview.capture.duration",
		metric.WithDescription("Duration of individual listening attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionStartDuration, err = m.Float64Histogram("interview.session.start.duration",
		metric.WithDescription("Duration of the session resource acquisition ladder."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksSpoken, err = m.Int64Counter("interview.chunks.spoken",
		metric.WithDescription("Total reply chunks handed to the avatar by profile."),
	); err != nil {
		return nil, err
	}
	if met.CaptureRestarts, err = m.Int64Counter("interview.capture.restarts",
		metric.WithDescription("Total automatic listening restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.VoiceCommands, err = m.Int64Counter("interview.voice.commands",
		metric.WithDescription("Total recognised interview control phrases by command."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("interview.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("interview.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("interview.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("interview.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCaptureRestart is a convenience method that records an automatic
// listening restart with its trigger reason.
func (m *Metrics) RecordCaptureRestart(ctx context.Context, reason string) {
	m.CaptureRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordVoiceCommand is a convenience method that records a recognised
// interview control phrase.
func (m *Metrics) RecordVoiceCommand(ctx context.Context, command string) {
	m.VoiceCommands.Add(ctx, 1,
		metric.WithAttributes(attribute.String("command", command)),
	)
}
