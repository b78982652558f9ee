package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/cadence/run"
)

// meterName is the instrumentation scope name for cadence metrics.
const meterName = "github.com/xraph/cadence"

// Metrics returns middleware that records per-task execution metrics using
// the global OTel MeterProvider.
//
// Instruments:
//   - cadence.run.duration (Float64Histogram): execution time in seconds,
//     with attributes: job_name, task, status ("ok" or "error")
//   - cadence.run.executions (Int64Counter): total executions,
//     with attributes: job_name, task, status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"cadence.run.duration",
		metric.WithDescription("Duration of task execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"cadence.run.executions",
		metric.WithDescription("Total number of task executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, occ *run.Occurrence, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("job_name", occ.Job.Name),
			attribute.String("task", occ.Job.Task.Ref),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
