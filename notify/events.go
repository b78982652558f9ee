package notify

import (
	"time"

	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
)

// Lifecycle event types carried in Notification.Type.
const (
	EventRunSucceeded = "cadence.run.succeeded"
	EventRunFailed    = "cadence.run.failed"
	EventRunRetrying  = "cadence.run.retrying"
	EventRunSkipped   = "cadence.run.skipped"
	EventRunCancelled = "cadence.run.cancelled"
	EventJobPaused    = "cadence.job.paused"
	EventJobResumed   = "cadence.job.resumed"
)

// DefaultEvents is the set emitted when WithEvents is not used. Successes
// are left out since they are the common case.
var DefaultEvents = []string{
	EventRunFailed,
	EventRunRetrying,
	EventRunSkipped,
	EventRunCancelled,
	EventJobPaused,
	EventJobResumed,
}

// Notification is the payload handed to a Transport.
type Notification struct {
	Type          string      `json:"type"`
	Time          time.Time   `json:"time"`
	JobID         string      `json:"job_id"`
	JobName       string      `json:"job_name"`
	RunID         string      `json:"run_id,omitempty"`
	OccurrenceID  string      `json:"occurrence_id,omitempty"`
	Attempt       int         `json:"attempt,omitempty"`
	ScheduledTime *time.Time  `json:"scheduled_time,omitempty"`
	Outcome       run.Outcome `json:"outcome,omitempty"`
	Reason        run.Reason  `json:"reason,omitempty"`
	Error         string      `json:"error,omitempty"`
	NextAttemptAt *time.Time  `json:"next_attempt_at,omitempty"`
	ElapsedMs     int64       `json:"elapsed_ms,omitempty"`
}

func fromAttempt(eventType string, a *run.Attempt, now time.Time) *Notification {
	scheduled := a.ScheduledTime
	return &Notification{
		Type:          eventType,
		Time:          now,
		JobID:         a.JobID.String(),
		JobName:       a.JobName,
		RunID:         a.ID.String(),
		OccurrenceID:  a.OccurrenceID.String(),
		Attempt:       a.Number,
		ScheduledTime: &scheduled,
		Outcome:       a.Outcome,
		Reason:        a.Reason,
		Error:         a.Error,
	}
}

func fromJob(eventType string, j *job.Job, now time.Time) *Notification {
	return &Notification{
		Type:    eventType,
		Time:    now,
		JobID:   j.ID.String(),
		JobName: j.Name,
	}
}
