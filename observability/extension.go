package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/run"
)

// meterName is the instrumentation scope for lifecycle metrics.
const meterName = "github.com/xraph/cadence/observability"

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.OccurrenceFired = (*MetricsExtension)(nil)
	_ ext.RunStarted      = (*MetricsExtension)(nil)
	_ ext.RunSucceeded    = (*MetricsExtension)(nil)
	_ ext.RunFailed       = (*MetricsExtension)(nil)
	_ ext.RunRetrying     = (*MetricsExtension)(nil)
	_ ext.RunSkipped      = (*MetricsExtension)(nil)
	_ ext.RunCancelled    = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters with
// OpenTelemetry. Register it as an extension to track fire rates, run
// outcomes, retries and skips per job.
type MetricsExtension struct {
	Fired     metric.Int64Counter
	Started   metric.Int64Counter
	Succeeded metric.Int64Counter
	Failed    metric.Int64Counter
	Retried   metric.Int64Counter
	Skipped   metric.Int64Counter
	Cancelled metric.Int64Counter
	Duration  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	m, _ := NewMetricsExtensionWithMeter(otel.Meter(meterName))
	return m
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the given
// meter. On instrument errors the OTel API still returns usable noop
// instruments, so the extension is always non-nil.
func NewMetricsExtensionWithMeter(meter metric.Meter) (*MetricsExtension, error) {
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{run}"))
		errs = append(errs, err)
		return c
	}

	m := &MetricsExtension{
		Fired:     counter("cadence.occurrence.fired", "Occurrences emitted by evaluators"),
		Started:   counter("cadence.run.started", "Attempts started by worker slots"),
		Succeeded: counter("cadence.run.succeeded", "Attempts that succeeded"),
		Failed:    counter("cadence.run.failed", "Occurrences that failed terminally"),
		Retried:   counter("cadence.run.retried", "Attempts scheduled for retry"),
		Skipped:   counter("cadence.run.skipped", "Occurrences recorded as skipped"),
		Cancelled: counter("cadence.run.cancelled", "Attempts cancelled"),
	}
	d, err := meter.Float64Histogram("cadence.run.elapsed",
		metric.WithDescription("Elapsed time of successful attempts in seconds"),
		metric.WithUnit("s"),
	)
	errs = append(errs, err)
	m.Duration = d

	return m, errors.Join(errs...)
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(a *run.Attempt, extra ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{attribute.String("job_name", a.JobName)}, extra...)...)
}

// ── Run lifecycle hooks ─────────────────────────────

// OnOccurrenceFired implements ext.OccurrenceFired.
func (m *MetricsExtension) OnOccurrenceFired(ctx context.Context, occ *run.Occurrence) error {
	m.Fired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_name", occ.Job.Name),
		attribute.Bool("manual", occ.Manual),
	))
	return nil
}

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, a *run.Attempt) error {
	m.Started.Add(ctx, 1, jobAttrs(a))
	return nil
}

// OnRunSucceeded implements ext.RunSucceeded.
func (m *MetricsExtension) OnRunSucceeded(ctx context.Context, a *run.Attempt, elapsed time.Duration) error {
	m.Succeeded.Add(ctx, 1, jobAttrs(a))
	m.Duration.Record(ctx, elapsed.Seconds(), jobAttrs(a))
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, a *run.Attempt, _ error) error {
	m.Failed.Add(ctx, 1, jobAttrs(a,
		attribute.String("outcome", string(a.Outcome)),
		attribute.String("reason", string(a.Reason)),
	))
	return nil
}

// OnRunRetrying implements ext.RunRetrying.
func (m *MetricsExtension) OnRunRetrying(ctx context.Context, a *run.Attempt, _ time.Time) error {
	m.Retried.Add(ctx, 1, jobAttrs(a, attribute.String("reason", string(a.Reason))))
	return nil
}

// OnRunSkipped implements ext.RunSkipped.
func (m *MetricsExtension) OnRunSkipped(ctx context.Context, a *run.Attempt) error {
	m.Skipped.Add(ctx, 1, jobAttrs(a, attribute.String("reason", string(a.Reason))))
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (m *MetricsExtension) OnRunCancelled(ctx context.Context, a *run.Attempt) error {
	m.Cancelled.Add(ctx, 1, jobAttrs(a))
	return nil
}

// ──────────────────────────────────────────────────
// Gauges
// ──────────────────────────────────────────────────

// QueueDepthFunc reports the dispatch queue depth.
type QueueDepthFunc func() int64

// RegisterQueueGauge registers cadence.queue.depth, observed from fn on
// every collection. The returned registration must be unregistered on
// shutdown.
func RegisterQueueGauge(meter metric.Meter, fn QueueDepthFunc) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge("cadence.queue.depth",
		metric.WithDescription("Occurrences waiting in the dispatch queue"),
		metric.WithUnit("{occurrence}"),
	)
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, fn())
		return nil
	}, gauge)
}
