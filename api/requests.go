package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

// ScheduleRequest is the wire form of a trigger.Schedule. Interval is a Go
// duration string such as "15m".
type ScheduleRequest struct {
	Kind     trigger.Kind      `json:"kind"`
	Expr     string            `json:"expr,omitempty"`
	Interval string            `json:"interval,omitempty"`
	Anchor   time.Time         `json:"anchor,omitzero"`
	At       time.Time         `json:"at,omitzero"`
	Calendar *trigger.Calendar `json:"calendar,omitempty"`
}

func (s ScheduleRequest) schedule() (trigger.Schedule, error) {
	out := trigger.Schedule{Kind: s.Kind, Expr: s.Expr, Anchor: s.Anchor, At: s.At, Calendar: s.Calendar}
	d, err := parseDuration("interval", s.Interval)
	if err != nil {
		return out, err
	}
	out.Interval = d
	return out, nil
}

// DependencyRequest names an upstream job and its satisfaction window.
type DependencyRequest struct {
	JobID  id.JobID `json:"job_id"`
	Window string   `json:"window,omitempty"`
}

// JobRequest creates or replaces a job definition. Durations are Go
// duration strings. Omitted fields take the engine defaults; an omitted
// priority is job.DefaultPriority, while an explicit 0 is rejected.
type JobRequest struct {
	Name              string                `json:"name"`
	Task              job.Task              `json:"task"`
	Schedule          ScheduleRequest       `json:"schedule"`
	Timezone          string                `json:"timezone,omitempty"`
	Priority          *int                  `json:"priority,omitempty"`
	MaxRetries        int                   `json:"max_retries,omitempty"`
	RetryBaseDelay    string                `json:"retry_base_delay,omitempty"`
	RetryMaxDelay     string                `json:"retry_max_delay,omitempty"`
	Timeout           string                `json:"timeout,omitempty"`
	Enabled           *bool                 `json:"enabled,omitempty"`
	Tags              []string              `json:"tags,omitempty"`
	Dependencies      []DependencyRequest   `json:"dependencies,omitempty"`
	DependencyTimeout string                `json:"dependency_timeout,omitempty"`
	Concurrency       job.ConcurrencyPolicy `json:"concurrency,omitempty"`
	CatchUp           cadence.CatchUp       `json:"catch_up,omitempty"`
}

// apply writes the request onto j, leaving ID and runtime fields alone.
func (req *JobRequest) apply(j *job.Job) error {
	sched, err := req.Schedule.schedule()
	if err != nil {
		return err
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"retry_base_delay", req.RetryBaseDelay, &j.RetryBaseDelay},
		{"retry_max_delay", req.RetryMaxDelay, &j.RetryMaxDelay},
		{"timeout", req.Timeout, &j.Timeout},
		{"dependency_timeout", req.DependencyTimeout, &j.DependencyTimeout},
	}
	for _, d := range durations {
		v, err := parseDuration(d.name, d.raw)
		if err != nil {
			return err
		}
		*d.dst = v
	}

	deps := make([]job.Dependency, 0, len(req.Dependencies))
	for _, d := range req.Dependencies {
		w, err := parseDuration("window", d.Window)
		if err != nil {
			return err
		}
		deps = append(deps, job.Dependency{JobID: d.JobID, Window: w})
	}

	j.Name = req.Name
	j.Task = req.Task
	j.Schedule = sched
	j.Timezone = req.Timezone
	j.Priority = job.DefaultPriority
	if req.Priority != nil {
		j.Priority = *req.Priority
	}
	j.MaxRetries = req.MaxRetries
	j.Tags = req.Tags
	j.Dependencies = deps
	j.Concurrency = req.Concurrency
	j.CatchUp = req.CatchUp
	j.Enabled = req.Enabled == nil || *req.Enabled
	return nil
}

// ListJobsResponse is a page of jobs plus the unpaged total.
type ListJobsResponse struct {
	Jobs  []*job.Job `json:"jobs"`
	Total int64      `json:"total"`
}

// ExecuteNowResponse identifies the manual occurrence that was submitted.
type ExecuteNowResponse struct {
	OccurrenceID  id.OccurrenceID `json:"occurrence_id"`
	JobID         id.JobID        `json:"job_id"`
	ScheduledTime time.Time       `json:"scheduled_time"`
}

// PreviewRequest asks for the next Count fire times up to Horizon.
type PreviewRequest struct {
	Schedule ScheduleRequest `json:"schedule"`
	Timezone string          `json:"timezone,omitempty"`
	Count    int             `json:"count,omitempty"`
	Horizon  time.Time       `json:"horizon,omitzero"`
}

// PreviewResponse lists upcoming fire times in UTC.
type PreviewResponse struct {
	Times []time.Time `json:"times"`
}

// ValidateRequest checks a schedule and timezone.
type ValidateRequest struct {
	Schedule ScheduleRequest `json:"schedule"`
	Timezone string          `json:"timezone,omitempty"`
}

// ValidateResponse reports whether the schedule is usable.
type ValidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ── Parameter helpers ──

func parseDuration(name, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return d, nil
}

func jobIDParam(r *http.Request) (id.JobID, error) {
	jobID, err := id.ParseJobID(chi.URLParam(r, "jobId"))
	if err != nil {
		return jobID, badRequest("invalid job ID: %v", err)
	}
	return jobID, nil
}

func runIDParam(r *http.Request) (id.RunID, error) {
	runID, err := id.ParseRunID(chi.URLParam(r, "runId"))
	if err != nil {
		return runID, badRequest("invalid run ID: %v", err)
	}
	return runID, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return n, nil
}

func timeQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, badRequest("invalid %s %q: want RFC 3339", name, raw)
	}
	return t, nil
}

// defaultLimit caps page sizes.
func defaultLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

// runQuery builds a ledger query from from, to, outcome, limit and offset
// parameters.
func runQuery(r *http.Request) (run.Query, error) {
	var q run.Query
	var err error
	if q.From, err = timeQuery(r, "from"); err != nil {
		return q, err
	}
	if q.To, err = timeQuery(r, "to"); err != nil {
		return q, err
	}
	for _, o := range r.URL.Query()["outcome"] {
		oc := run.Outcome(o)
		if !oc.Valid() {
			return q, badRequest("unknown outcome %q", o)
		}
		q.Outcomes = append(q.Outcomes, oc)
	}
	limit, err := intQuery(r, "limit", 0)
	if err != nil {
		return q, err
	}
	q.Limit = defaultLimit(limit)
	if q.Offset, err = intQuery(r, "offset", 0); err != nil {
		return q, err
	}
	return q, nil
}
