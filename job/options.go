package job

import (
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
)

// Option is a functional option for configuring a job.
type Option func(*Job)

// WithPriority sets the dispatch priority (1 to 10, higher first).
func WithPriority(p int) Option {
	return func(j *Job) {
		j.Priority = p
	}
}

// WithMaxRetries sets how many times a failed run is retried.
func WithMaxRetries(n int) Option {
	return func(j *Job) {
		j.MaxRetries = n
	}
}

// WithRetryDelay sets the backoff base delay and cap.
func WithRetryDelay(base, limit time.Duration) Option {
	return func(j *Job) {
		j.RetryBaseDelay = base
		j.RetryMaxDelay = limit
	}
}

// WithTimeout sets the maximum duration of a single run.
func WithTimeout(d time.Duration) Option {
	return func(j *Job) {
		j.Timeout = d
	}
}

// WithTimezone sets the IANA timezone schedules are evaluated in.
func WithTimezone(tz string) Option {
	return func(j *Job) {
		j.Timezone = tz
	}
}

// WithTags attaches labels used for filtering.
func WithTags(tags ...string) Option {
	return func(j *Job) {
		j.Tags = append(j.Tags, tags...)
	}
}

// WithDependency makes the job wait for a successful run of another job
// within window before each occurrence.
func WithDependency(jobID id.JobID, window time.Duration) Option {
	return func(j *Job) {
		j.Dependencies = append(j.Dependencies, Dependency{JobID: jobID, Window: window})
	}
}

// WithDependencyTimeout overrides how long an occurrence may wait for its
// dependencies.
func WithDependencyTimeout(d time.Duration) Option {
	return func(j *Job) {
		j.DependencyTimeout = d
	}
}

// WithConcurrency sets the overlap policy.
func WithConcurrency(p ConcurrencyPolicy) Option {
	return func(j *Job) {
		j.Concurrency = p
	}
}

// WithCatchUp sets the missed-occurrence policy.
func WithCatchUp(c cadence.CatchUp) Option {
	return func(j *Job) {
		j.CatchUp = c
	}
}

// Disabled creates the job paused.
func Disabled() Option {
	return func(j *Job) {
		j.Enabled = false
	}
}
