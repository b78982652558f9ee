package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/coordinator"
	"github.com/xraph/cadence/depend"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

// MaxPreview caps how many fire times PreviewSchedule returns.
const MaxPreview = 1000

// ──────────────────────────────────────────────────
// Job definitions
// ──────────────────────────────────────────────────

// CreateJob validates and stores a new job and computes its first fire
// time.
func (eng *Engine) CreateJob(ctx context.Context, j *job.Job) (*job.Job, error) {
	if j.ID.IsNil() {
		j.ID = id.NewJobID()
	}
	if _, err := eng.store.GetJob(ctx, j.ID); err == nil {
		return nil, fmt.Errorf("%w: job %s already exists", cadence.ErrInvalidJob, j.ID)
	} else if !errors.Is(err, cadence.ErrJobNotFound) {
		return nil, err
	}

	applyDefaults(j)
	now := eng.clock.Now().UTC()
	if err := eng.validate(ctx, j, now); err != nil {
		return nil, err
	}

	j.Entity = cadence.Entity{CreatedAt: now, UpdatedAt: now}
	j.LastFiredAt = nil
	j.ClearClaim()
	next, err := eng.nextFire(j, now)
	if err != nil {
		return nil, err
	}
	j.NextFireAt = next

	if err := eng.store.UpsertJob(ctx, j); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}

	eng.logger.Info("job created",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("schedule", j.Schedule.String()),
		slog.Any("next_fire_at", j.NextFireAt),
	)
	eng.notify()
	return j.Clone(), nil
}

// UpdateJob replaces the definition of an existing job. The next fire time
// is recomputed from now and any claim on the job is released, so no
// evaluator keeps working from the old definition.
func (eng *Engine) UpdateJob(ctx context.Context, j *job.Job) (*job.Job, error) {
	existing, err := eng.store.GetJob(ctx, j.ID)
	if err != nil {
		return nil, err
	}

	applyDefaults(j)
	now := eng.clock.Now().UTC()
	if err := eng.validate(ctx, j, now); err != nil {
		return nil, err
	}

	j.Entity = cadence.Entity{CreatedAt: existing.CreatedAt, UpdatedAt: now}
	j.LastFiredAt = existing.LastFiredAt
	j.ClearClaim()
	next, err := eng.nextFire(j, now)
	if err != nil {
		return nil, err
	}
	j.NextFireAt = next

	if err := eng.store.UpsertJob(ctx, j); err != nil {
		return nil, fmt.Errorf("store job: %w", err)
	}

	eng.logger.Info("job updated",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Any("next_fire_at", j.NextFireAt),
	)
	eng.notify()
	return j.Clone(), nil
}

// DeleteJob removes a job and cancels its queued and running occurrences.
// A job other jobs depend on cannot be deleted.
func (eng *Engine) DeleteJob(ctx context.Context, jobID id.JobID) error {
	if _, err := eng.store.GetJob(ctx, jobID); err != nil {
		return err
	}

	all, err := eng.store.ListJobs(ctx, job.ListFilter{})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	for _, other := range all {
		for _, d := range other.Dependencies {
			if d.JobID == jobID {
				return fmt.Errorf("%w: job %s is a dependency of %s", cadence.ErrInvalidJob, jobID, other.ID)
			}
		}
	}

	if err := eng.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	n := eng.coord.CancelJob(ctx, jobID)

	eng.logger.Info("job deleted",
		slog.String("job_id", jobID.String()),
		slog.Int("cancelled", n),
	)
	return nil
}

// PauseJob disables a job. Occurrences already handed to the coordinator
// still run.
func (eng *Engine) PauseJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := eng.store.SetJobEnabled(ctx, jobID, false, nil); err != nil {
		return nil, err
	}
	j.Enabled = false
	j.NextFireAt = nil
	j.ClearClaim()

	eng.logger.Info("job paused", slog.String("job_id", jobID.String()))
	eng.extensions.EmitJobPaused(ctx, j)
	return j, nil
}

// ResumeJob re-enables a job. The next fire time is computed from now, so
// occurrences missed while paused are not caught up.
func (eng *Engine) ResumeJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	j.Enabled = true
	next, err := eng.nextFire(j, eng.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := eng.store.SetJobEnabled(ctx, jobID, true, next); err != nil {
		return nil, err
	}
	j.NextFireAt = next
	j.ClearClaim()

	eng.logger.Info("job resumed",
		slog.String("job_id", jobID.String()),
		slog.Any("next_fire_at", next),
	)
	eng.extensions.EmitJobResumed(ctx, j)
	eng.notify()
	return j, nil
}

// GetJob returns a job by ID.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// ListJobs returns a page of jobs together with the total number matching
// filter.
func (eng *Engine) ListJobs(ctx context.Context, filter job.ListFilter) ([]*job.Job, int64, error) {
	jobs, err := eng.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := eng.store.CountJobs(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// ExecuteNow runs a job immediately as a manual occurrence scheduled at
// the current time. Dependencies are not checked and the job's schedule
// is not affected.
func (eng *Engine) ExecuteNow(ctx context.Context, jobID id.JobID) (*run.Occurrence, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	occ := run.NewOccurrence(j, eng.clock.Now().UTC(), true)
	if err := eng.coord.Submit(ctx, occ); err != nil {
		return nil, err
	}

	eng.logger.Info("manual run submitted",
		slog.String("job_id", jobID.String()),
		slog.String("occurrence_id", occ.ID.String()),
	)
	return occ, nil
}

// CancelRun cancels a running attempt or its pending retry. Returns
// cadence.ErrRunNotFound for an unknown run and cadence.ErrRunNotActive
// for one that already finished or runs in another process.
func (eng *Engine) CancelRun(ctx context.Context, runID id.RunID) error {
	err := eng.coord.CancelRun(ctx, runID)
	if !errors.Is(err, cadence.ErrRunNotActive) {
		return err
	}
	if _, getErr := eng.store.GetAttempt(ctx, runID); getErr != nil {
		return getErr
	}
	return err
}

// History returns attempts matching q, newest first.
func (eng *Engine) History(ctx context.Context, q run.Query) ([]*run.Attempt, error) {
	return eng.store.ListAttempts(ctx, q)
}

// GetRun returns one attempt by run ID.
func (eng *Engine) GetRun(ctx context.Context, runID id.RunID) (*run.Attempt, error) {
	return eng.store.GetAttempt(ctx, runID)
}

// JobStats summarizes the last limit attempts of a job. A limit of zero
// summarizes the full history.
func (eng *Engine) JobStats(ctx context.Context, jobID id.JobID, limit int) (run.Summary, error) {
	if _, err := eng.store.GetJob(ctx, jobID); err != nil {
		return run.Summary{}, err
	}
	attempts, err := eng.store.ListAttempts(ctx, run.Query{JobID: jobID, Limit: limit})
	if err != nil {
		return run.Summary{}, err
	}
	return run.Summarize(attempts), nil
}

// QueueStats returns dispatch queue depth and coordinator counters.
func (eng *Engine) QueueStats() coordinator.Stats {
	return eng.coord.Stats()
}

// ActiveRuns returns the attempts running in this process.
func (eng *Engine) ActiveRuns() []*run.Attempt {
	return eng.coord.Active()
}

// DependencyStatus reports each dependency of a job for an occurrence at
// scheduled.
func (eng *Engine) DependencyStatus(ctx context.Context, jobID id.JobID, scheduled time.Time) ([]depend.Status, error) {
	j, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return depend.NewResolver(eng.store).Check(ctx, j, scheduled)
}

// ──────────────────────────────────────────────────
// Schedules
// ──────────────────────────────────────────────────

// ValidateSchedule checks that s is well formed in timezone tz and fires
// at least once after now.
func (eng *Engine) ValidateSchedule(s trigger.Schedule, tz string) error {
	return eng.triggers.Validate(s, tz, eng.clock.Now().UTC())
}

// PreviewSchedule returns up to n upcoming fire times of s, none after
// horizon when it is set.
func (eng *Engine) PreviewSchedule(s trigger.Schedule, tz string, n int, horizon time.Time) ([]time.Time, error) {
	if n <= 0 || n > MaxPreview {
		n = MaxPreview
	}
	now := eng.clock.Now().UTC()
	if err := eng.triggers.Validate(s, tz, now); err != nil {
		return nil, err
	}
	return eng.triggers.Preview(s, tz, now, n, horizon)
}

// ──────────────────────────────────────────────────
// Validation
// ──────────────────────────────────────────────────

func applyDefaults(j *job.Job) {
	if j.Timezone == "" {
		j.Timezone = "UTC"
	}
	if j.Concurrency == "" {
		j.Concurrency = job.ConcurrencyAllow
	}
	if j.RetryBaseDelay == 0 {
		j.RetryBaseDelay = job.DefaultRetryBaseDelay
	}
}

// validate checks a definition before it is stored: field rules, the
// schedule, the task reference, and the dependency graph.
func (eng *Engine) validate(ctx context.Context, j *job.Job, now time.Time) error {
	if err := j.Validate(); err != nil {
		return err
	}
	if err := eng.triggers.Validate(j.Schedule, j.Timezone, now); err != nil {
		return err
	}
	if eng.tasks != nil && !eng.tasks.Has(j.Task.Ref) {
		return fmt.Errorf("%w: %q", cadence.ErrUnknownTask, j.Task.Ref)
	}
	return depend.CheckCycle(ctx, eng.store, j)
}

// nextFire computes the first fire time after now, or nil for a disabled
// job or an exhausted schedule.
func (eng *Engine) nextFire(j *job.Job, now time.Time) (*time.Time, error) {
	if !j.Enabled {
		return nil, nil
	}
	t, ok, err := eng.triggers.Next(j.Schedule, j.Timezone, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	t = t.UTC()
	return &t, nil
}
