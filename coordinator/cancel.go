package coordinator

import (
	"context"
	"log/slog"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/run"
)

// CancelRun cancels an in-flight attempt, or the pending retry of an
// attempt that already failed. The running attempt's context is cancelled
// and it is finalized as cancelled once it returns or the grace period
// ends. Returns cadence.ErrRunNotActive when the run is neither running
// nor waiting for a retry here.
func (c *Coordinator) CancelRun(ctx context.Context, runID id.RunID) error {
	c.mu.Lock()
	ar, ok := c.active[runID]
	c.mu.Unlock()
	if ok {
		if !ar.interrupt(causeCancel) {
			return cadence.ErrRunNotActive
		}
		c.logger.Info("run cancellation requested",
			slog.String("run_id", runID.String()),
			slog.String("job_id", ar.occ.Job.ID.String()),
		)
		return nil
	}

	c.mu.Lock()
	var found *waitingOcc
	for key, w := range c.waiting {
		if w.prev == runID {
			found = w
			delete(c.waiting, key)
			break
		}
	}
	c.mu.Unlock()
	if found == nil {
		return cadence.ErrRunNotActive
	}

	found.timer.Stop()
	c.recordTerminal(ctx, found.occ, run.OutcomeCancelled, run.ReasonCancelled, "cancelled while waiting for retry")
	c.release(ctx, found.occ)
	return nil
}

// CancelJob cancels every occurrence of jobID this coordinator knows about:
// queued, held, waiting for a retry, and running. It returns how many were
// cancelled.
func (c *Coordinator) CancelJob(ctx context.Context, jobID id.JobID) int {
	n := 0
	const detail = "job cancelled"

	for _, occ := range c.dropHeld(jobID) {
		c.recordTerminal(ctx, occ, run.OutcomeCancelled, run.ReasonCancelled, detail)
		n++
	}
	for _, occ := range c.queue.RemoveJob(jobID) {
		c.recordTerminal(ctx, occ, run.OutcomeCancelled, run.ReasonCancelled, detail)
		c.release(ctx, occ)
		n++
	}

	c.mu.Lock()
	var waiting []*waitingOcc
	for key, w := range c.waiting {
		if w.occ.Job.ID == jobID {
			waiting = append(waiting, w)
			delete(c.waiting, key)
		}
	}
	c.mu.Unlock()
	for _, w := range waiting {
		w.timer.Stop()
		c.recordTerminal(ctx, w.occ, run.OutcomeCancelled, run.ReasonCancelled, detail)
		c.release(ctx, w.occ)
		n++
	}

	for _, ar := range c.activeRuns() {
		if ar.occ.Job.ID == jobID && ar.interrupt(causeCancel) {
			n++
		}
	}

	if n > 0 {
		c.logger.Info("job occurrences cancelled",
			slog.String("job_id", jobID.String()),
			slog.Int("count", n),
		)
	}
	return n
}
