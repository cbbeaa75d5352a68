package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name every package registers its tracer
// under, so spans from different workflows share one logical scope.
const TracerName = "github.com/Tuee22/amoebius-go"

// Tracer returns the module-wide tracer from whatever TracerProvider is
// currently registered with otel (a no-op one by default).
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a span under the module tracer and returns the derived
// context together with the span so callers can defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, attrs...)
}
