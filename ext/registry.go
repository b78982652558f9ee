package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

func collect[H any](dst []entry[H], e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(dst, entry[H]{name: e.Name(), hook: h})
	}
	return dst
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register must not be called concurrently with the emit methods.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	occurrenceFired []entry[OccurrenceFired]
	runStarted      []entry[RunStarted]
	runSucceeded    []entry[RunSucceeded]
	runFailed       []entry[RunFailed]
	runRetrying     []entry[RunRetrying]
	runSkipped      []entry[RunSkipped]
	runCancelled    []entry[RunCancelled]
	jobPaused       []entry[JobPaused]
	jobResumed      []entry[JobResumed]
	shutdown        []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)

	r.occurrenceFired = collect(r.occurrenceFired, e)
	r.runStarted = collect(r.runStarted, e)
	r.runSucceeded = collect(r.runSucceeded, e)
	r.runFailed = collect(r.runFailed, e)
	r.runRetrying = collect(r.runRetrying, e)
	r.runSkipped = collect(r.runSkipped, e)
	r.runCancelled = collect(r.runCancelled, e)
	r.jobPaused = collect(r.jobPaused, e)
	r.jobResumed = collect(r.jobResumed, e)
	r.shutdown = collect(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitOccurrenceFired notifies all extensions that implement OccurrenceFired.
func (r *Registry) EmitOccurrenceFired(ctx context.Context, occ *run.Occurrence) {
	for _, e := range r.occurrenceFired {
		if err := e.hook.OnOccurrenceFired(ctx, occ); err != nil {
			r.logHookError("OnOccurrenceFired", e.name, err)
		}
	}
}

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, a *run.Attempt) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, a); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitRunSucceeded notifies all extensions that implement RunSucceeded.
func (r *Registry) EmitRunSucceeded(ctx context.Context, a *run.Attempt, elapsed time.Duration) {
	for _, e := range r.runSucceeded {
		if err := e.hook.OnRunSucceeded(ctx, a, elapsed); err != nil {
			r.logHookError("OnRunSucceeded", e.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, a *run.Attempt, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, a, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// EmitRunRetrying notifies all extensions that implement RunRetrying.
func (r *Registry) EmitRunRetrying(ctx context.Context, a *run.Attempt, nextAt time.Time) {
	for _, e := range r.runRetrying {
		if err := e.hook.OnRunRetrying(ctx, a, nextAt); err != nil {
			r.logHookError("OnRunRetrying", e.name, err)
		}
	}
}

// EmitRunSkipped notifies all extensions that implement RunSkipped.
func (r *Registry) EmitRunSkipped(ctx context.Context, a *run.Attempt) {
	for _, e := range r.runSkipped {
		if err := e.hook.OnRunSkipped(ctx, a); err != nil {
			r.logHookError("OnRunSkipped", e.name, err)
		}
	}
}

// EmitRunCancelled notifies all extensions that implement RunCancelled.
func (r *Registry) EmitRunCancelled(ctx context.Context, a *run.Attempt) {
	for _, e := range r.runCancelled {
		if err := e.hook.OnRunCancelled(ctx, a); err != nil {
			r.logHookError("OnRunCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobPaused notifies all extensions that implement JobPaused.
func (r *Registry) EmitJobPaused(ctx context.Context, j *job.Job) {
	for _, e := range r.jobPaused {
		if err := e.hook.OnJobPaused(ctx, j); err != nil {
			r.logHookError("OnJobPaused", e.name, err)
		}
	}
}

// EmitJobResumed notifies all extensions that implement JobResumed.
func (r *Registry) EmitJobResumed(ctx context.Context, j *job.Job) {
	for _, e := range r.jobResumed {
		if err := e.hook.OnJobResumed(ctx, j); err != nil {
			r.logHookError("OnJobResumed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors never propagate into the run pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
