// Package observability provides OpenTelemetry lifecycle metrics for
// cadence. The MetricsExtension implements extension hooks to count fired
// occurrences and run outcomes (succeeded, failed, retried, skipped,
// cancelled) per job, and RegisterQueueGauge exposes dispatch queue depth.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
