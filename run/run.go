package run

import (
	"slices"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
)

// Outcome is the lifecycle state of a run attempt.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeRunning   Outcome = "running"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
)

// Terminal reports whether o is a final state.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeTimedOut, OutcomeCancelled, OutcomeSkipped:
		return true
	}
	return false
}

// Valid reports whether o names a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomePending || o == OutcomeRunning || o.Terminal()
}

// Reason explains a non-successful outcome.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonDependencyTimeout Reason = "DependencyTimeout"
	ReasonQueueOverflow     Reason = "QueueOverflow"
	ReasonWorkerTimeout     Reason = "WorkerTimeout"
	ReasonWorkerFailure     Reason = "WorkerFailure"
	ReasonCancelled         Reason = "Cancelled"
	ReasonShutdown          Reason = "Shutdown"
	ReasonUnknownTask       Reason = "UnknownTask"
	ReasonMissedOccurrence  Reason = "MissedOccurrence"
	ReasonConcurrencySkip   Reason = "ConcurrencySkip"
)

// Retryable reports whether an attempt that ended for this reason may be
// retried.
func (r Reason) Retryable() bool {
	return r == ReasonWorkerTimeout || r == ReasonWorkerFailure
}

// Err returns the sentinel error matching r, or nil.
func (r Reason) Err() error {
	switch r {
	case ReasonDependencyTimeout:
		return cadence.ErrDependencyTimeout
	case ReasonQueueOverflow:
		return cadence.ErrQueueOverflow
	case ReasonWorkerTimeout:
		return cadence.ErrWorkerTimeout
	case ReasonWorkerFailure:
		return cadence.ErrWorkerFailure
	case ReasonCancelled, ReasonShutdown:
		return cadence.ErrCancelled
	case ReasonUnknownTask:
		return cadence.ErrUnknownTask
	}
	return nil
}

// Attempt is one execution try of one occurrence of a job. The ledger is
// keyed by (JobID, ScheduledTime, Number); a finalized attempt is never
// rewritten.
type Attempt struct {
	ID            id.RunID        `json:"id" msgpack:"id"`
	JobID         id.JobID        `json:"job_id" msgpack:"job_id"`
	JobName       string          `json:"job_name" msgpack:"job_name"`
	OccurrenceID  id.OccurrenceID `json:"occurrence_id" msgpack:"occurrence_id"`
	Number        int             `json:"attempt" msgpack:"attempt"`
	ScheduledTime time.Time       `json:"scheduled_time" msgpack:"scheduled_time"`
	StartedAt     *time.Time      `json:"started_at,omitempty" msgpack:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty" msgpack:"finished_at,omitempty"`
	Outcome       Outcome         `json:"outcome" msgpack:"outcome"`
	Reason        Reason          `json:"reason,omitempty" msgpack:"reason,omitempty"`
	Error         string          `json:"error,omitempty" msgpack:"error,omitempty"`
	Result        []byte          `json:"result,omitempty" msgpack:"result,omitempty"`
	Partial       bool            `json:"partial,omitempty" msgpack:"partial,omitempty"`
	WorkerID      string          `json:"worker_id,omitempty" msgpack:"worker_id,omitempty"`
	Manual        bool            `json:"manual,omitempty" msgpack:"manual,omitempty"`
	CreatedAt     time.Time       `json:"created_at" msgpack:"created_at"`
}

// Key identifies an attempt in the ledger.
type Key struct {
	JobID         id.JobID
	ScheduledTime time.Time
	Number        int
}

// Key returns the ledger key of a.
func (a *Attempt) Key() Key {
	return Key{JobID: a.JobID, ScheduledTime: a.ScheduledTime.UTC(), Number: a.Number}
}

// Start marks a running on worker at now.
func (a *Attempt) Start(worker string, now time.Time) {
	a.Outcome = OutcomeRunning
	a.WorkerID = worker
	a.StartedAt = &now
}

// Finish moves a to a terminal outcome at now. errText is stored as the
// error detail.
func (a *Attempt) Finish(outcome Outcome, reason Reason, errText string, now time.Time) {
	a.Outcome = outcome
	a.Reason = reason
	a.Error = errText
	a.FinishedAt = &now
}

// Duration returns how long the attempt ran, or zero if it never started
// or has not finished.
func (a *Attempt) Duration() time.Duration {
	if a.StartedAt == nil || a.FinishedAt == nil {
		return 0
	}
	return a.FinishedAt.Sub(*a.StartedAt)
}

// Clone returns a deep copy of a.
func (a *Attempt) Clone() *Attempt {
	cp := *a
	cp.Result = slices.Clone(a.Result)
	if a.StartedAt != nil {
		t := *a.StartedAt
		cp.StartedAt = &t
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
