package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
)

// jobSlot tracks the occurrence lineage that currently occupies a job
// with a skip or queue concurrency policy. A lineage keeps the slot from
// admission until its final attempt is terminal, including while it waits
// for a retry. durable is set once the owner also holds the job's slot in
// the shared store.
type jobSlot struct {
	owner   id.OccurrenceID
	durable bool
	held    []*run.Occurrence
}

// admit applies the job's concurrency policy and queues occ when it may
// run.
func (c *Coordinator) admit(ctx context.Context, occ *run.Occurrence) {
	policy := occ.Job.Concurrency
	if policy == "" || policy == job.ConcurrencyAllow {
		c.push(ctx, occ)
		return
	}

	c.mu.Lock()
	slot, busy := c.owners[occ.Job.ID]
	switch {
	case !busy:
		c.owners[occ.Job.ID] = &jobSlot{owner: occ.ID}
		c.mu.Unlock()
		c.enter(ctx, occ)
		return

	case slot.owner == occ.ID:
		c.mu.Unlock()
		c.push(ctx, occ)
		return

	case policy == job.ConcurrencyQueue:
		i := len(slot.held)
		for i > 0 && slot.held[i-1].ScheduledTime.After(occ.ScheduledTime) {
			i--
		}
		slot.held = append(slot.held, nil)
		copy(slot.held[i+1:], slot.held[i:])
		slot.held[i] = occ
		c.mu.Unlock()

		c.logger.Debug("occurrence held behind in-flight run",
			slog.String("job_id", occ.Job.ID.String()),
			slog.Time("scheduled_time", occ.ScheduledTime),
			slog.Int("held", i+1),
		)
		return
	}
	c.mu.Unlock()

	c.recordTerminal(ctx, occ, run.OutcomeSkipped, run.ReasonConcurrencySkip, "previous run still in flight")
}

// enter takes the job's shared slot for occ, which already owns the local
// one, and queues it. When another process owns the shared slot a skip
// policy occurrence is finalized as skipped and a queue policy occurrence
// keeps the local slot and tries again after the slot retry delay.
func (c *Coordinator) enter(ctx context.Context, occ *run.Occurrence) {
	if c.slots == nil {
		c.push(ctx, occ)
		return
	}

	ok, err := c.slots.AcquireSlot(ctx, occ.Job.ID, occ.ID.String(), c.slotTTL)
	if err != nil {
		c.logger.Error("failed to acquire job slot",
			slog.String("job_id", occ.Job.ID.String()),
			slog.String("error", err.Error()),
		)
		c.park(ctx, occ)
		return
	}
	if ok {
		c.mu.Lock()
		if slot, found := c.owners[occ.Job.ID]; found && slot.owner == occ.ID {
			slot.durable = true
		}
		c.mu.Unlock()
		c.push(ctx, occ)
		return
	}

	if occ.Job.Concurrency == job.ConcurrencySkip {
		c.recordTerminal(ctx, occ, run.OutcomeSkipped, run.ReasonConcurrencySkip, "previous run still in flight on another worker")
		c.release(ctx, occ)
		return
	}

	c.logger.Debug("job slot owned by another worker, waiting",
		slog.String("job_id", occ.Job.ID.String()),
		slog.Time("scheduled_time", occ.ScheduledTime),
	)
	c.park(ctx, occ)
}

// park retries enter for occ after the slot retry delay.
func (c *Coordinator) park(ctx context.Context, occ *run.Occurrence) {
	c.delay(ctx, occ, c.slotRetry, id.RunID{}, true)
}

// release frees the job slot held by occ, if any, and admits the next
// held occurrence.
func (c *Coordinator) release(ctx context.Context, occ *run.Occurrence) {
	c.mu.Lock()
	slot, ok := c.owners[occ.Job.ID]
	if !ok || slot.owner != occ.ID {
		c.mu.Unlock()
		return
	}
	durable := slot.durable
	var next *run.Occurrence
	if len(slot.held) == 0 {
		delete(c.owners, occ.Job.ID)
	} else {
		next = slot.held[0]
		slot.held = slot.held[1:]
		slot.owner = next.ID
		slot.durable = false
	}
	c.mu.Unlock()

	if durable {
		if err := c.slots.ReleaseSlot(ctx, occ.Job.ID, occ.ID.String()); err != nil {
			c.logger.Error("failed to release job slot",
				slog.String("job_id", occ.Job.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if next != nil {
		c.enter(ctx, next)
	}
}

// dropHeld removes and returns the occurrences held for jobID.
func (c *Coordinator) dropHeld(jobID id.JobID) []*run.Occurrence {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.owners[jobID]
	if !ok {
		return nil
	}
	held := slot.held
	slot.held = nil
	return held
}

// renewLoop keeps the shared slots owned here alive until Stop.
func (c *Coordinator) renewLoop() {
	defer c.loops.Done()

	interval := c.slotTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.renewSlots(context.Background())
		}
	}
}

// renewSlots extends every shared slot owned here. A slot that expired is
// taken again when it is still free.
func (c *Coordinator) renewSlots(ctx context.Context) {
	type owned struct {
		jobID  id.JobID
		holder string
	}
	c.mu.Lock()
	var slots []owned
	for jobID, slot := range c.owners {
		if slot.durable {
			slots = append(slots, owned{jobID: jobID, holder: slot.owner.String()})
		}
	}
	c.mu.Unlock()

	for _, s := range slots {
		err := c.slots.RenewSlot(ctx, s.jobID, s.holder, c.slotTTL)
		if err == nil {
			continue
		}
		if errors.Is(err, cadence.ErrLeaseConflict) {
			if ok, aerr := c.slots.AcquireSlot(ctx, s.jobID, s.holder, c.slotTTL); aerr == nil && ok {
				continue
			}
			c.logger.Warn("job slot lost to another worker",
				slog.String("job_id", s.jobID.String()),
				slog.String("occurrence_id", s.holder),
			)
			continue
		}
		c.logger.Error("failed to renew job slot",
			slog.String("job_id", s.jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}
