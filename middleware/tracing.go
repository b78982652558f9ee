package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cadence/run"
)

// tracerName is the instrumentation scope name for cadence tracing.
const tracerName = "github.com/xraph/cadence"

// Tracing returns middleware that wraps task execution in an OpenTelemetry
// span. Without a global TracerProvider the noop tracer is used.
//
// Span attributes: cadence.job.id, cadence.job.name, cadence.task,
// cadence.occurrence.id, cadence.attempt, cadence.priority, cadence.manual.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, occ *run.Occurrence, next Handler) error {
		ctx, span := tracer.Start(ctx, "cadence.run.execute",
			trace.WithAttributes(
				attribute.String("cadence.job.id", occ.Job.ID.String()),
				attribute.String("cadence.job.name", occ.Job.Name),
				attribute.String("cadence.task", occ.Job.Task.Ref),
				attribute.String("cadence.occurrence.id", occ.ID.String()),
				attribute.Int("cadence.attempt", occ.Attempt),
				attribute.Int("cadence.priority", occ.Priority()),
				attribute.Bool("cadence.manual", occ.Manual),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
