package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/ferry/ext"
	"github.com/xraph/ferry/id"
	"github.com/xraph/ferry/job"
)

// ScopeName is the OTel instrumentation scope of the extension.
const ScopeName = "github.com/xraph/ferry/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobEnqueued    = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobCancelled   = (*MetricsExtension)(nil)
	_ ext.RecurringFired = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters. Job counters
// carry job_name and queue attributes.
type MetricsExtension struct {
	JobEnqueued    metric.Int64Counter
	JobCompleted   metric.Int64Counter
	JobFailed      metric.Int64Counter
	JobRetried     metric.Int64Counter
	JobCancelled   metric.Int64Counter
	RecurringFired metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(ScopeName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API returns a usable noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		JobEnqueued:    counter("ferry.job.enqueued", "Jobs persisted by the engine"),
		JobCompleted:   counter("ferry.job.completed", "Jobs that finished successfully"),
		JobFailed:      counter("ferry.job.failed", "Jobs that failed terminally"),
		JobRetried:     counter("ferry.job.retried", "Failed runs scheduled for another attempt"),
		JobCancelled:   counter("ferry.job.cancelled", "Jobs cancelled before they ran"),
		RecurringFired: counter("ferry.recurring.fired", "Jobs enqueued by recurring definitions"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("job_name", j.Name),
		attribute.String("queue", j.Queue),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, _ id.JobID) error {
	m.JobCancelled.Add(ctx, 1)
	return nil
}

// OnRecurringFired implements ext.RecurringFired.
func (m *MetricsExtension) OnRecurringFired(ctx context.Context, recurringID string, _ id.JobID) error {
	m.RecurringFired.Add(ctx, 1, metric.WithAttributes(attribute.String("recurring_id", recurringID)))
	return nil
}
