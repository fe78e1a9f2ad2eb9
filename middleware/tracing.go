package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/ferry/job"
)

// instrumentationName is the OTel scope name for ferry spans and metrics.
const instrumentationName = "github.com/xraph/ferry"

// Tracing returns middleware that wraps job execution in an OpenTelemetry
// span using the global TracerProvider. Without one configured it is a
// pass-through.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: ferry.job.id, ferry.job.name, ferry.invocation_id,
// ferry.queue, ferry.retry_count, and ferry.recurring_id when set.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("ferry.job.id", j.ID.String()),
			attribute.String("ferry.job.name", j.Name),
			attribute.String("ferry.invocation_id", j.InvocationID),
			attribute.String("ferry.queue", j.Queue),
			attribute.Int("ferry.retry_count", j.RetryCount),
		}
		if j.RecurringID != "" {
			attrs = append(attrs, attribute.String("ferry.recurring_id", j.RecurringID))
		}
		ctx, span := tracer.Start(ctx, "ferry.job.execute",
			trace.WithAttributes(attrs...),
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
