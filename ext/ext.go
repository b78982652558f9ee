// Package ext defines the extension system for cadence.
// Extensions are notified of lifecycle events (occurrence fired, run
// started, succeeded, failed, etc.) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// OccurrenceFired is called when the evaluator hands a due occurrence to
// the coordinator.
type OccurrenceFired interface {
	OnOccurrenceFired(ctx context.Context, occ *run.Occurrence) error
}

// RunStarted is called when a worker slot begins an attempt.
type RunStarted interface {
	OnRunStarted(ctx context.Context, a *run.Attempt) error
}

// RunSucceeded is called after an attempt finishes successfully.
type RunSucceeded interface {
	OnRunSucceeded(ctx context.Context, a *run.Attempt, elapsed time.Duration) error
}

// RunFailed is called when an occurrence fails terminally: retries are
// exhausted or the reason is not retryable.
type RunFailed interface {
	OnRunFailed(ctx context.Context, a *run.Attempt, err error) error
}

// RunRetrying is called when an attempt failed and a retry is scheduled.
type RunRetrying interface {
	OnRunRetrying(ctx context.Context, a *run.Attempt, nextAt time.Time) error
}

// RunSkipped is called when an occurrence is recorded as skipped.
type RunSkipped interface {
	OnRunSkipped(ctx context.Context, a *run.Attempt) error
}

// RunCancelled is called when a running or queued attempt is cancelled.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, a *run.Attempt) error
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobPaused is called after a job is disabled.
type JobPaused interface {
	OnJobPaused(ctx context.Context, j *job.Job) error
}

// JobResumed is called after a job is re-enabled.
type JobResumed interface {
	OnJobResumed(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
