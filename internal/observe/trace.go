package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxcast/pkg/fault"
)

const tracerName = "github.com/MrWong99/voxcast"

// Tracer returns the voxcast tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the active span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger with trace_id and span_id attached when
// ctx carries an active span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// Operation starts a span for one remote operation and returns a finish
// function. finish ends the span, records the elapsed time on h and counts
// the request; a non-nil error is also counted under its [fault.Kind] and
// marked on the span. h may be nil.
//
//	ctx, finish := m.Operation(ctx, "generate dialogue", m.ScriptDuration)
//	d, err := writer.GenerateScript(ctx, text)
//	finish(err)
func (m *Metrics) Operation(ctx context.Context, op string, h metric.Float64Histogram) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := StartSpan(ctx, op, trace.WithAttributes(attribute.String("voxcast.operation", op)))

	return ctx, func(err error) {
		defer span.End()
		if h != nil {
			ObserveDuration(ctx, h, start)
		}
		if err == nil {
			m.RecordProviderRequest(ctx, op, "ok")
			return
		}
		kind := fault.KindOf(err).String()
		m.RecordProviderRequest(ctx, op, "error")
		m.RecordProviderError(ctx, op, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		Logger(ctx).Warn("operation failed", "operation", op, "kind", kind, "err", err)
	}
}
