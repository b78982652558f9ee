package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/clock"
	"github.com/xraph/cadence/depend"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/store"
	"github.com/xraph/cadence/trigger"
)

var _ cadence.Runner = (*Evaluator)(nil)

// Evaluator claims due jobs and emits their occurrences.
type Evaluator struct {
	store    store.Store
	intake   chan<- *run.Occurrence
	triggers *trigger.Engine
	resolver *depend.Resolver
	exts     *ext.Registry
	clock    clock.Clock
	logger   *slog.Logger
	id       id.EvaluatorID

	pollInterval   time.Duration
	leaseTTL       time.Duration
	reaperInterval time.Duration
	depTimeout     time.Duration
	batch          int
	maxSkipped     int
	catchUp        cadence.CatchUp

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates an Evaluator that reads jobs from s and sends ready
// occurrences to intake.
func New(s store.Store, intake chan<- *run.Occurrence, opts ...Option) *Evaluator {
	cfg := cadence.DefaultConfig()
	e := &Evaluator{
		store:          s,
		intake:         intake,
		clock:          clock.Real(),
		logger:         slog.Default(),
		id:             id.NewEvaluatorID(),
		pollInterval:   cfg.PollInterval,
		leaseTTL:       cfg.LeaseTTL,
		reaperInterval: cfg.ReaperInterval,
		depTimeout:     cfg.DependencyTimeout,
		batch:          cfg.ClaimBatch,
		maxSkipped:     cfg.MaxSkippedRecords,
		catchUp:        cfg.DefaultCatchUp,
		wake:           make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.triggers == nil {
		e.triggers = trigger.NewEngine()
	}
	if e.exts == nil {
		e.exts = ext.NewRegistry(e.logger)
	}
	e.resolver = depend.NewResolver(s)
	return e
}

// ID returns the claim owner identity.
func (e *Evaluator) ID() id.EvaluatorID { return e.id }

// Start launches the poll loop and, when enabled, the reaper.
func (e *Evaluator) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	e.running = true

	e.wg.Add(1)
	go e.pollLoop()
	if e.reaperInterval > 0 {
		e.wg.Add(1)
		go e.reapLoop()
	}

	e.logger.Info("evaluator started",
		slog.String("evaluator_id", e.id.String()),
		slog.Duration("poll_interval", e.pollInterval),
		slog.Duration("lease_ttl", e.leaseTTL),
	)
	return nil
}

// Stop ends the loops and waits for an in-progress pass to finish.
func (e *Evaluator) Stop(_ context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("evaluator stopped", slog.String("evaluator_id", e.id.String()))
	return nil
}

// Notify wakes the evaluator before its next poll, typically after a job
// was created, updated or resumed.
func (e *Evaluator) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Evaluator) pollLoop() {
	defer e.wg.Done()
	ctx := context.Background()

	for {
		if _, err := e.Evaluate(ctx); err != nil {
			e.logger.Error("evaluation pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-e.stopCh:
			return
		case <-e.wake:
		case <-e.clock.After(e.pollInterval):
		}
	}
}

func (e *Evaluator) reapLoop() {
	defer e.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.clock.After(e.reaperInterval):
		}
		if _, err := e.Reap(ctx); err != nil {
			e.logger.Error("reap expired claims failed", slog.String("error", err.Error()))
		}
	}
}

// Reap releases claims whose lease has expired.
func (e *Evaluator) Reap(ctx context.Context) (int, error) {
	n, err := e.store.ReapExpiredClaims(ctx, e.clock.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("released expired claims", slog.Int("count", n))
	}
	return n, nil
}

// Evaluate runs one pass: it claims due jobs and processes each. It
// returns how many occurrences were handed to the intake.
func (e *Evaluator) Evaluate(ctx context.Context) (int, error) {
	now := e.clock.Now().UTC()
	jobs, err := e.store.ClaimDueJobs(ctx, now, e.batch, e.id.String(), e.leaseTTL)
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}

	emitted := 0
	for _, j := range jobs {
		emitted += e.process(ctx, j, now)
	}
	return emitted, nil
}

// ──────────────────────────────────────────────────
// Per-job processing
// ──────────────────────────────────────────────────

// pass tracks one claimed job through a pass.
type pass struct {
	job       *job.Job
	claimedAt time.Time
	last      time.Time
	done      int
}

// process handles one claimed job and returns how many occurrences it
// emitted. The claim is always confirmed or released before it returns.
func (e *Evaluator) process(ctx context.Context, j *job.Job, now time.Time) int {
	p := &pass{job: j, claimedAt: now}
	due := j.NextFireAt.UTC()

	fires, skipped, err := e.expand(j, due, now)
	if err != nil {
		e.logger.Error("expand occurrences failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		e.release(ctx, j)
		return 0
	}

	for _, t := range skipped {
		e.record(ctx, j, t, run.OutcomeSkipped, run.ReasonMissedOccurrence, "missed while no evaluator was running")
		p.advance(t)
	}

	emitted := 0
	for _, t := range fires {
		if !e.renew(ctx, p) {
			return emitted
		}

		ready, abort := e.gate(ctx, j, t, now)
		if abort {
			e.finish(ctx, p, &t)
			return emitted
		}
		if !ready {
			p.advance(t)
			continue
		}

		occ := run.NewOccurrence(j, t, false)
		select {
		case e.intake <- occ:
		default:
			e.logger.Warn("coordinator intake full, deferring occurrence",
				slog.String("job_id", j.ID.String()),
				slog.Time("scheduled_time", t),
			)
			e.finish(ctx, p, &t)
			return emitted
		}

		emitted++
		p.advance(t)
		e.exts.EmitOccurrenceFired(ctx, occ)
		e.logger.Info("occurrence fired",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("occurrence_id", occ.ID.String()),
			slog.Time("scheduled_time", t),
			slog.Int("priority", j.Priority),
		)
	}

	next, err := e.next(j, p.last)
	if err != nil {
		e.logger.Error("compute next fire time failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	e.finish(ctx, p, next)
	return emitted
}

func (p *pass) advance(t time.Time) {
	p.last = t
	p.done++
}

// expand returns the occurrences to fire for a job due at due, and the
// missed ones to record as skipped.
func (e *Evaluator) expand(j *job.Job, due, now time.Time) (fires, skipped []time.Time, err error) {
	if j.CatchUpPolicy(e.catchUp) == cadence.CatchUpAll {
		more, truncated, err := e.triggers.Between(j.Schedule, j.Timezone, due, now, e.batch)
		if err != nil {
			return nil, nil, err
		}
		if truncated {
			e.logger.Info("catch-up continues next pass",
				slog.String("job_id", j.ID.String()),
				slog.Int("batch", len(more)+1),
			)
		}
		return append([]time.Time{due}, utc(more)...), nil, nil
	}

	latest, older, ok, err := e.triggers.Latest(j.Schedule, j.Timezone, due, now)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return []time.Time{due}, nil, nil
	}

	missed := []time.Time{due}
	if older > 0 && e.maxSkipped > 1 {
		between, _, err := e.triggers.Between(j.Schedule, j.Timezone, due, latest, e.maxSkipped-1)
		if err != nil {
			return nil, nil, err
		}
		for _, t := range between {
			if t.Before(latest) {
				missed = append(missed, t.UTC())
			}
		}
	}
	if len(missed) > e.maxSkipped {
		missed = missed[:e.maxSkipped]
	}
	if total := older + 1; total > len(missed) {
		e.logger.Warn("missed occurrences not recorded",
			slog.String("job_id", j.ID.String()),
			slog.Int("missed", total),
			slog.Int("recorded", len(missed)),
		)
	}
	return []time.Time{latest.UTC()}, missed, nil
}

func utc(ts []time.Time) []time.Time {
	for i, t := range ts {
		ts[i] = t.UTC()
	}
	return ts
}

// gate checks the dependencies of the occurrence at t. ready is false
// when the occurrence timed out and was recorded as failed. abort is true
// when the occurrence must wait for a later pass.
func (e *Evaluator) gate(ctx context.Context, j *job.Job, t, now time.Time) (ready, abort bool) {
	if len(j.Dependencies) == 0 {
		return true, false
	}

	ok, err := e.resolver.IsSatisfied(ctx, j, t)
	if err != nil {
		e.logger.Error("dependency check failed",
			slog.String("job_id", j.ID.String()),
			slog.Time("scheduled_time", t),
			slog.String("error", err.Error()),
		)
		return false, true
	}
	if ok {
		return true, false
	}

	timeout := j.DependencyTimeout
	if timeout <= 0 {
		timeout = e.depTimeout
	}
	if now.Before(t.Add(timeout)) {
		e.logger.Debug("dependencies not satisfied, waiting",
			slog.String("job_id", j.ID.String()),
			slog.Time("scheduled_time", t),
			slog.Time("deadline", t.Add(timeout)),
		)
		return false, true
	}

	e.record(ctx, j, t, run.OutcomeFailed, run.ReasonDependencyTimeout,
		fmt.Sprintf("dependencies not satisfied within %s", timeout))
	return false, false
}

// record appends a terminal attempt for an occurrence that never runs.
func (e *Evaluator) record(ctx context.Context, j *job.Job, t time.Time, outcome run.Outcome, reason run.Reason, detail string) {
	occ := run.NewOccurrence(j, t, false)
	a := occ.Terminal(outcome, reason, detail, e.clock.Now().UTC())
	if err := e.store.AppendAttempt(ctx, a); err != nil {
		if errors.Is(err, cadence.ErrAttemptExists) {
			return
		}
		e.logger.Error("record occurrence failed",
			slog.String("job_id", j.ID.String()),
			slog.Time("scheduled_time", t),
			slog.String("outcome", string(outcome)),
			slog.String("error", err.Error()),
		)
		return
	}

	switch outcome {
	case run.OutcomeSkipped:
		e.exts.EmitRunSkipped(ctx, a)
	case run.OutcomeFailed:
		e.logger.Warn("occurrence failed before dispatch",
			slog.String("job_id", j.ID.String()),
			slog.Time("scheduled_time", t),
			slog.String("reason", string(reason)),
		)
		e.exts.EmitRunFailed(ctx, a, fmt.Errorf("%w: %s", reason.Err(), detail))
	}
}

// next computes the fire time after t. A nil result means the schedule is
// exhausted.
func (e *Evaluator) next(j *job.Job, after time.Time) (*time.Time, error) {
	t, ok, err := e.triggers.Next(j.Schedule, j.Timezone, after)
	if err != nil {
		if errors.Is(err, cadence.ErrScheduleUnsatisfiable) {
			e.logger.Info("schedule has no further occurrence",
				slog.String("job_id", j.ID.String()),
				slog.String("schedule", j.Schedule.String()),
			)
			return nil, nil
		}
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	t = t.UTC()
	return &t, nil
}

// renew extends the claim when half of the lease has elapsed. It returns
// false when the claim was lost.
func (e *Evaluator) renew(ctx context.Context, p *pass) bool {
	now := e.clock.Now()
	if now.Sub(p.claimedAt) < e.leaseTTL/2 {
		return true
	}
	if err := e.store.RenewClaim(ctx, p.job.ID, p.job.ClaimToken, e.leaseTTL); err != nil {
		e.logClaimError("renew", p.job, err)
		return false
	}
	p.claimedAt = now
	return true
}

// finish confirms progress with next as the new fire time, or releases
// the claim when nothing was processed.
func (e *Evaluator) finish(ctx context.Context, p *pass, next *time.Time) {
	j := p.job
	if p.done == 0 {
		e.release(ctx, j)
		return
	}
	if err := e.store.ConfirmClaim(ctx, j.ID, j.ClaimToken, p.last, next); err != nil {
		e.logClaimError("confirm", j, err)
	}
}

func (e *Evaluator) release(ctx context.Context, j *job.Job) {
	if err := e.store.ReleaseClaim(ctx, j.ID, j.ClaimToken); err != nil {
		e.logClaimError("release", j, err)
	}
}

func (e *Evaluator) logClaimError(op string, j *job.Job, err error) {
	if errors.Is(err, cadence.ErrLeaseConflict) || errors.Is(err, cadence.ErrJobNotFound) {
		e.logger.Debug("claim lost",
			slog.String("op", op),
			slog.String("job_id", j.ID.String()),
		)
		return
	}
	e.logger.Error("claim update failed",
		slog.String("op", op),
		slog.String("job_id", j.ID.String()),
		slog.String("error", err.Error()),
	)
}
