// Package retry decides whether a finished attempt is retried and when.
//
// An attempt that ended failed or timed_out for a retryable reason is
// retried while its number does not exceed the job's MaxRetries. Retry n
// waits base * 2^(n-1), capped at the job's RetryMaxDelay or the
// controller's default cap. The retry keeps the occurrence ID and scheduled
// time and increments the attempt number.
package retry

import (
	"time"

	"github.com/xraph/cadence/backoff"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
)

// StrategyFunc builds the delay strategy for a job.
type StrategyFunc func(j *job.Job, maxDelay time.Duration) backoff.Strategy

// Option configures a Controller.
type Option func(*Controller)

// WithStrategy replaces the exponential default strategy.
func WithStrategy(fn StrategyFunc) Option {
	return func(c *Controller) { c.strategy = fn }
}

// Decision is the controller's verdict for one finished attempt.
type Decision struct {
	// Retry is true when another attempt should run.
	Retry bool
	// Delay and At describe when the next attempt may start.
	Delay time.Duration
	At    time.Time
	// Next is the follow-up occurrence when Retry is true.
	Next *run.Occurrence
	// Exhausted is true when the attempt was retryable but the job has no
	// retries left.
	Exhausted bool
}

// Controller computes retry decisions. It is stateless and safe for
// concurrent use.
type Controller struct {
	maxDelay time.Duration
	strategy StrategyFunc
}

// NewController creates a Controller. maxDelay caps delays for jobs without
// their own RetryMaxDelay; zero leaves them uncapped.
func NewController(maxDelay time.Duration, opts ...Option) *Controller {
	c := &Controller{maxDelay: maxDelay, strategy: Exponential}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exponential is the default StrategyFunc.
func Exponential(j *job.Job, maxDelay time.Duration) backoff.Strategy {
	base := j.RetryBaseDelay
	if base <= 0 {
		base = job.DefaultRetryBaseDelay
	}
	if j.RetryMaxDelay > 0 {
		maxDelay = j.RetryMaxDelay
	}
	return backoff.NewExponential(base, maxDelay)
}

// Decide evaluates the attempt of occ that just finished with outcome and
// reason at now.
func (c *Controller) Decide(occ *run.Occurrence, outcome run.Outcome, reason run.Reason, now time.Time) Decision {
	if outcome != run.OutcomeFailed && outcome != run.OutcomeTimedOut {
		return Decision{}
	}
	if !reason.Retryable() {
		return Decision{}
	}
	if occ.Attempt > occ.Job.MaxRetries {
		return Decision{Exhausted: true}
	}

	delay := c.Delay(occ.Job, occ.Attempt)
	at := now.Add(delay)
	return Decision{
		Retry: true,
		Delay: delay,
		At:    at,
		Next:  occ.Retry(at),
	}
}

// Delay returns the wait before retry n of j.
func (c *Controller) Delay(j *job.Job, n int) time.Duration {
	return c.strategy(j, c.maxDelay).Delay(n)
}
