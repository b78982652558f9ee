package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/clock"
	"github.com/xraph/cadence/run"
)

// cause records why an attempt was interrupted.
type cause int

const (
	causeNone cause = iota
	causeTimeout
	causeCancel
	causeShutdown
)

// activeRun is an attempt currently executing on a worker slot.
type activeRun struct {
	attempt *run.Attempt
	occ     *run.Occurrence
	cancel  context.CancelFunc
	abort   chan struct{}

	mu     sync.Mutex
	why    cause
	sealed bool
}

// interrupt cancels the attempt's context. Only the first cause counts and
// an attempt that already finished cannot be interrupted.
func (ar *activeRun) interrupt(why cause) bool {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	if ar.sealed || ar.why != causeNone {
		return false
	}
	ar.why = why
	close(ar.abort)
	ar.cancel()
	return true
}

// seal stops further interrupts and returns the recorded cause.
func (ar *activeRun) seal() cause {
	ar.mu.Lock()
	defer ar.mu.Unlock()
	ar.sealed = true
	return ar.why
}

// execute runs one attempt of occ to a terminal outcome and decides
// whether it is retried.
func (c *Coordinator) execute(occ *run.Occurrence) {
	ctx := context.Background()
	logger := c.logger.With(
		slog.String("job_id", occ.Job.ID.String()),
		slog.String("job_name", occ.Job.Name),
		slog.String("occurrence_id", occ.ID.String()),
		slog.Int("attempt", occ.Attempt),
	)

	started := c.now()
	a := occ.NewAttempt(started)
	a.Start(c.workerID.String(), started)
	if err := c.ledger.AppendAttempt(ctx, a); err != nil {
		if errors.Is(err, cadence.ErrAttemptExists) {
			logger.Debug("attempt already recorded, skipping duplicate dispatch")
		} else {
			logger.Error("failed to record attempt start", slog.String("error", err.Error()))
		}
		c.release(ctx, occ)
		return
	}

	c.exts.EmitRunStarted(ctx, a.Clone())

	runCtx, cancel := context.WithCancel(ctx)
	ar := &activeRun{attempt: a, occ: occ, cancel: cancel, abort: make(chan struct{})}
	c.mu.Lock()
	c.active[a.ID] = ar
	c.mu.Unlock()

	var timeout clock.Timer
	if occ.Job.Timeout > 0 {
		timeout = c.clock.AfterFunc(occ.Job.Timeout, func() { ar.interrupt(causeTimeout) })
	}

	results := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- Result{Err: fmt.Errorf("panic in job %s: %v", occ.Job.Name, r)}
			}
		}()
		results <- c.backend.Execute(runCtx, occ)
	}()

	var (
		res     Result
		aborted bool
		forced  bool
	)
	select {
	case res = <-results:
	case <-ar.abort:
		aborted = true
		select {
		case res = <-results:
		case <-c.clock.After(c.cancelGrace):
			forced = true
		}
	}
	if timeout != nil {
		timeout.Stop()
	}
	why := ar.seal()
	cancel()

	c.mu.Lock()
	delete(c.active, a.ID)
	c.mu.Unlock()

	if !aborted {
		why = causeNone
	}
	outcome, reason, detail := c.classify(occ, res, why, forced)

	finished := c.now()
	a.Result = res.Output
	a.Partial = res.Partial
	a.Finish(outcome, reason, detail, finished)
	if err := c.ledger.FinalizeAttempt(ctx, a); err != nil {
		logger.Error("failed to finalize attempt",
			slog.String("run_id", a.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	decision := c.retry.Decide(occ, outcome, reason, finished)
	if decision.Retry {
		logger.Warn("run failed, scheduling retry",
			slog.String("run_id", a.ID.String()),
			slog.String("outcome", string(outcome)),
			slog.String("error", detail),
			slog.Duration("delay", decision.Delay),
			slog.Time("next_at", decision.At),
		)
		c.exts.EmitRunRetrying(ctx, a.Clone(), decision.At)
		c.delay(ctx, decision.Next, decision.Delay, a.ID, false)
		return
	}

	switch {
	case outcome == run.OutcomeSucceeded:
		logger.Info("run succeeded",
			slog.String("run_id", a.ID.String()),
			slog.Duration("elapsed", a.Duration()),
		)
	case decision.Exhausted:
		logger.Warn("run failed, retries exhausted",
			slog.String("run_id", a.ID.String()),
			slog.String("outcome", string(outcome)),
			slog.Int("max_retries", occ.Job.MaxRetries),
			slog.String("error", detail),
		)
	default:
		logger.Warn("run finished without success",
			slog.String("run_id", a.ID.String()),
			slog.String("outcome", string(outcome)),
			slog.String("reason", string(reason)),
			slog.String("error", detail),
		)
	}

	c.emitTerminal(ctx, a)
	c.release(ctx, occ)
}

// classify maps an attempt's result and interrupt cause to its outcome.
func (c *Coordinator) classify(occ *run.Occurrence, res Result, why cause, forced bool) (run.Outcome, run.Reason, string) {
	var (
		outcome run.Outcome
		reason  run.Reason
		detail  string
	)
	switch why {
	case causeTimeout:
		outcome, reason = run.OutcomeTimedOut, run.ReasonWorkerTimeout
		detail = fmt.Sprintf("run exceeded timeout of %s", occ.Job.Timeout)
	case causeCancel:
		outcome, reason = run.OutcomeCancelled, run.ReasonCancelled
		detail = "run cancelled"
	case causeShutdown:
		outcome, reason = run.OutcomeCancelled, run.ReasonShutdown
		detail = "scheduler shutting down"
	default:
		switch {
		case res.Err == nil:
			return run.OutcomeSucceeded, run.ReasonNone, ""
		case errors.Is(res.Err, cadence.ErrUnknownTask):
			return run.OutcomeFailed, run.ReasonUnknownTask, res.Err.Error()
		default:
			return run.OutcomeFailed, run.ReasonWorkerFailure, res.Err.Error()
		}
	}

	if forced {
		detail += " (force-finalized after " + c.cancelGrace.String() + " grace)"
	} else if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
		detail += ": " + res.Err.Error()
	}
	return outcome, reason, detail
}

// recordTerminal appends a ledger record for an occurrence that reached a
// terminal state without running.
func (c *Coordinator) recordTerminal(ctx context.Context, occ *run.Occurrence, outcome run.Outcome, reason run.Reason, detail string) {
	a := occ.Terminal(outcome, reason, detail, c.now())
	a.WorkerID = c.workerID.String()
	if err := c.ledger.AppendAttempt(ctx, a); err != nil {
		if errors.Is(err, cadence.ErrAttemptExists) {
			c.logger.Debug("terminal attempt already recorded",
				slog.String("job_id", occ.Job.ID.String()),
				slog.Int("attempt", occ.Attempt),
			)
			return
		}
		c.logger.Error("failed to record terminal attempt",
			slog.String("job_id", occ.Job.ID.String()),
			slog.String("outcome", string(outcome)),
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.Info("occurrence finalized without running",
		slog.String("job_id", occ.Job.ID.String()),
		slog.String("job_name", occ.Job.Name),
		slog.Time("scheduled_time", occ.ScheduledTime),
		slog.String("outcome", string(outcome)),
		slog.String("reason", string(reason)),
	)
	c.emitTerminal(ctx, a)
}

// emitTerminal fires the extension hook matching a's outcome.
func (c *Coordinator) emitTerminal(ctx context.Context, a *run.Attempt) {
	cp := a.Clone()
	switch a.Outcome {
	case run.OutcomeSucceeded:
		c.exts.EmitRunSucceeded(ctx, cp, a.Duration())
	case run.OutcomeSkipped:
		c.exts.EmitRunSkipped(ctx, cp)
	case run.OutcomeCancelled:
		c.exts.EmitRunCancelled(ctx, cp)
	case run.OutcomeFailed, run.OutcomeTimedOut:
		err := a.Reason.Err()
		if err == nil {
			err = cadence.ErrWorkerFailure
		}
		if a.Error != "" {
			err = fmt.Errorf("%w: %s", err, a.Error)
		}
		c.exts.EmitRunFailed(ctx, cp, err)
	}
}
