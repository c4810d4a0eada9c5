// Package observe provides application-wide observability primitives for
// voxcast: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxcast metrics.
const meterName = "github.com/MrWong99/voxcast"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per remote operation ---

	// ScriptDuration tracks dialogue script generation latency.
	ScriptDuration metric.Float64Histogram

	// SpeechDuration tracks speech synthesis latency.
	SpeechDuration metric.Float64Histogram

	// TranscribeDuration tracks one-shot file transcription latency.
	TranscribeDuration metric.Float64Histogram

	// LiveSessionDuration tracks how long live transcription sessions stay up.
	LiveSessionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts remote operations. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts classified failures. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// AudioChunks counts PCM chunks uploaded to live sessions.
	AudioChunks metric.Int64Counter

	// TranscriptDeltas counts incremental transcript events appended.
	TranscriptDeltas metric.Int64Counter

	// --- Gauges ---

	// ActiveLiveSessions tracks the number of open live sessions.
	ActiveLiveSessions metric.Int64UpDownCounter

	// StoredArtifacts tracks the number of downloadable artifacts held.
	StoredArtifacts metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Generative
// calls take seconds to tens of seconds.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.ScriptDuration, err = histogram("voxcast.script.duration",
		"Latency of dialogue script generation."); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = histogram("voxcast.speech.duration",
		"Latency of podcast speech synthesis."); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = histogram("voxcast.transcribe.duration",
		"Latency of one-shot audio transcription."); err != nil {
		return nil, err
	}
	if met.LiveSessionDuration, err = histogram("voxcast.live_session.duration",
		"Lifetime of live transcription sessions."); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("voxcast.provider.requests",
		metric.WithDescription("Total remote operations by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxcast.provider.errors",
		metric.WithDescription("Total classified failures by operation and kind."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("voxcast.live.audio_chunks",
		metric.WithDescription("Total PCM chunks uploaded to live sessions."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptDeltas, err = m.Int64Counter("voxcast.live.transcript_deltas",
		metric.WithDescription("Total transcript fragments appended."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveLiveSessions, err = m.Int64UpDownCounter("voxcast.active_live_sessions",
		metric.WithDescription("Number of open live transcription sessions."),
	); err != nil {
		return nil, err
	}
	if met.StoredArtifacts, err = m.Int64UpDownCounter("voxcast.stored_artifacts",
		metric.WithDescription("Number of downloadable artifacts held in memory."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxcast.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one remote operation with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, operation, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one classified failure.
func (m *Metrics) RecordProviderError(ctx context.Context, operation, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("kind", kind),
		),
	)
}

// ObserveDuration records the time elapsed since start on h.
func ObserveDuration(ctx context.Context, h metric.Float64Histogram, start time.Time) {
	h.Record(ctx, time.Since(start).Seconds())
}
