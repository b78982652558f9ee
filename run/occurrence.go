package run

import (
	"time"

	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

// Occurrence is one due-time instance of a job travelling from the
// evaluator through the dispatch queue to a worker. Retries of the same
// occurrence share its ID and ScheduledTime and increment Attempt.
type Occurrence struct {
	ID            id.OccurrenceID
	Job           *job.Job
	ScheduledTime time.Time
	Attempt       int
	Manual        bool
	EnqueuedAt    time.Time

	// NotBefore is set on retries to the earliest time the attempt may
	// start.
	NotBefore time.Time
}

// NewOccurrence creates the first attempt of an occurrence of j. The job is
// snapshotted so later definition changes do not affect this occurrence.
func NewOccurrence(j *job.Job, scheduled time.Time, manual bool) *Occurrence {
	return &Occurrence{
		ID:            id.NewOccurrenceID(),
		Job:           j.Clone(),
		ScheduledTime: scheduled.UTC(),
		Attempt:       1,
		Manual:        manual,
	}
}

// Priority returns the job's dispatch priority.
func (o *Occurrence) Priority() int { return o.Job.Priority }

// Retry returns the next attempt of the same occurrence, due at notBefore.
func (o *Occurrence) Retry(notBefore time.Time) *Occurrence {
	cp := *o
	cp.Attempt++
	cp.EnqueuedAt = time.Time{}
	cp.NotBefore = notBefore.UTC()
	return &cp
}

// NewAttempt builds the ledger record for this occurrence's current
// attempt, in the pending state.
func (o *Occurrence) NewAttempt(now time.Time) *Attempt {
	return &Attempt{
		ID:            id.NewRunID(),
		JobID:         o.Job.ID,
		JobName:       o.Job.Name,
		OccurrenceID:  o.ID,
		Number:        o.Attempt,
		ScheduledTime: o.ScheduledTime,
		Outcome:       OutcomePending,
		Manual:        o.Manual,
		CreatedAt:     now.UTC(),
	}
}

// Terminal builds a ledger record for an attempt that is final without
// ever running, such as a skipped or overflowed occurrence.
func (o *Occurrence) Terminal(outcome Outcome, reason Reason, detail string, now time.Time) *Attempt {
	a := o.NewAttempt(now)
	a.Finish(outcome, reason, detail, now.UTC())
	return a
}
