package job

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/trigger"
)

// Priority bounds. Higher values are more urgent.
const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// DefaultDependencyWindow applies to a Dependency with a zero Window.
const DefaultDependencyWindow = 24 * time.Hour

// ConcurrencyPolicy decides what happens when an occurrence becomes ready
// while an earlier run of the same job is still in flight.
type ConcurrencyPolicy string

const (
	// ConcurrencyAllow runs overlapping occurrences independently.
	ConcurrencyAllow ConcurrencyPolicy = "allow"
	// ConcurrencySkip records the new occurrence as skipped.
	ConcurrencySkip ConcurrencyPolicy = "skip"
	// ConcurrencyQueue holds the new occurrence until the in-flight run
	// finishes.
	ConcurrencyQueue ConcurrencyPolicy = "queue"
)

// Valid reports whether p names a known policy.
func (p ConcurrencyPolicy) Valid() bool {
	return p == ConcurrencyAllow || p == ConcurrencySkip || p == ConcurrencyQueue
}

// Task is an opaque reference to the work a job runs, plus the argument
// payload handed to it. The scheduler never interprets Args.
type Task struct {
	Ref  string          `json:"ref"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Dependency requires the latest finalized run of JobID within
// [scheduled-Window, scheduled] to have succeeded.
type Dependency struct {
	JobID  id.JobID      `json:"job_id"`
	Window time.Duration `json:"window,omitempty"`
}

// EffectiveWindow returns Window or DefaultDependencyWindow when unset.
func (d Dependency) EffectiveWindow() time.Duration {
	if d.Window <= 0 {
		return DefaultDependencyWindow
	}
	return d.Window
}

// Job is a persisted job definition plus the runtime fields the job store
// owns (next fire time, watermark, claim lease).
type Job struct {
	cadence.Entity

	ID                id.JobID          `json:"id"`
	Name              string            `json:"name"`
	Task              Task              `json:"task"`
	Schedule          trigger.Schedule  `json:"schedule"`
	Timezone          string            `json:"timezone,omitempty"`
	// Priority must lie in [MinPriority, MaxPriority]. New sets
	// DefaultPriority; zero is not treated as unset.
	Priority          int               `json:"priority"`
	MaxRetries        int               `json:"max_retries"`
	RetryBaseDelay    time.Duration     `json:"retry_base_delay,omitempty"`
	RetryMaxDelay     time.Duration     `json:"retry_max_delay,omitempty"`
	Timeout           time.Duration     `json:"timeout,omitempty"`
	Enabled           bool              `json:"enabled"`
	Tags              []string          `json:"tags,omitempty"`
	Dependencies      []Dependency      `json:"dependencies,omitempty"`
	DependencyTimeout time.Duration     `json:"dependency_timeout,omitempty"`
	Concurrency       ConcurrencyPolicy `json:"concurrency"`
	CatchUp           cadence.CatchUp   `json:"catch_up,omitempty"`

	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`
	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	ClaimedBy   string     `json:"claimed_by,omitempty"`
	ClaimToken  string     `json:"claim_token,omitempty"`
	ClaimUntil  *time.Time `json:"claim_until,omitempty"`
}

// DefaultRetryBaseDelay applies when a job does not set RetryBaseDelay.
const DefaultRetryBaseDelay = time.Minute

// New builds an enabled job with defaults applied and a fresh ID.
func New(name string, task Task, schedule trigger.Schedule, opts ...Option) *Job {
	j := &Job{
		Entity:         cadence.NewEntity(),
		ID:             id.NewJobID(),
		Name:           name,
		Task:           task,
		Schedule:       schedule,
		Timezone:       "UTC",
		Priority:       DefaultPriority,
		RetryBaseDelay: DefaultRetryBaseDelay,
		Enabled:        true,
		Concurrency:    ConcurrencyAllow,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Validate checks the definition fields. Schedule evaluation is the
// trigger engine's concern and is not repeated here.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("%w: name is required", cadence.ErrInvalidJob)
	}
	if strings.TrimSpace(j.Task.Ref) == "" {
		return fmt.Errorf("%w: task reference is required", cadence.ErrInvalidJob)
	}
	if len(j.Task.Args) > 0 && !json.Valid(j.Task.Args) {
		return fmt.Errorf("%w: task arguments must be valid JSON", cadence.ErrInvalidJob)
	}
	if j.Priority < MinPriority || j.Priority > MaxPriority {
		return fmt.Errorf("%w: got %d", cadence.ErrInvalidPriority, j.Priority)
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", cadence.ErrInvalidJob)
	}
	if j.RetryBaseDelay < 0 || j.RetryMaxDelay < 0 || j.Timeout < 0 || j.DependencyTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", cadence.ErrInvalidJob)
	}
	if !j.Concurrency.Valid() {
		return fmt.Errorf("%w: unknown concurrency policy %q", cadence.ErrInvalidJob, j.Concurrency)
	}
	if j.CatchUp != "" && !j.CatchUp.Valid() {
		return fmt.Errorf("%w: unknown catch-up policy %q", cadence.ErrInvalidJob, j.CatchUp)
	}
	seen := make(map[string]struct{}, len(j.Dependencies))
	for _, d := range j.Dependencies {
		if d.JobID.IsNil() {
			return fmt.Errorf("%w: dependency without job id", cadence.ErrInvalidJob)
		}
		if d.JobID == j.ID {
			return fmt.Errorf("%w: job depends on itself", cadence.ErrDependencyCycle)
		}
		if d.Window < 0 {
			return fmt.Errorf("%w: dependency window must not be negative", cadence.ErrInvalidJob)
		}
		if _, dup := seen[d.JobID.String()]; dup {
			return fmt.Errorf("%w: duplicate dependency on %s", cadence.ErrInvalidJob, d.JobID)
		}
		seen[d.JobID.String()] = struct{}{}
	}
	return nil
}

// CatchUpPolicy returns the job's policy or fallback when unset.
func (j *Job) CatchUpPolicy(fallback cadence.CatchUp) cadence.CatchUp {
	if j.CatchUp.Valid() {
		return j.CatchUp
	}
	return fallback
}

// HasTag reports whether the job carries tag.
func (j *Job) HasTag(tag string) bool {
	return slices.Contains(j.Tags, tag)
}

// Claimed reports whether the job holds an unexpired claim at now.
func (j *Job) Claimed(now time.Time) bool {
	return j.ClaimToken != "" && j.ClaimUntil != nil && j.ClaimUntil.After(now)
}

// ClearClaim drops the lease fields.
func (j *Job) ClearClaim() {
	j.ClaimedBy = ""
	j.ClaimToken = ""
	j.ClaimUntil = nil
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Task.Args = slices.Clone(j.Task.Args)
	cp.Tags = slices.Clone(j.Tags)
	cp.Dependencies = slices.Clone(j.Dependencies)
	if j.Schedule.Calendar != nil {
		cal := *j.Schedule.Calendar
		cal.Times = slices.Clone(cal.Times)
		cal.Rules = slices.Clone(cal.Rules)
		cp.Schedule.Calendar = &cal
	}
	cp.NextFireAt = cloneTime(j.NextFireAt)
	cp.LastFiredAt = cloneTime(j.LastFiredAt)
	cp.ClaimUntil = cloneTime(j.ClaimUntil)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
