package evaluator

import (
	"log/slog"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/clock"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/trigger"
)

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithPollInterval sets how often the evaluator looks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithLeaseTTL sets how long a claim stays valid.
func WithLeaseTTL(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.leaseTTL = d
		}
	}
}

// WithReaperInterval sets how often expired claims are released. Zero
// disables the reaper.
func WithReaperInterval(d time.Duration) Option {
	return func(e *Evaluator) { e.reaperInterval = d }
}

// WithClaimBatch caps the jobs claimed per pass.
func WithClaimBatch(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.batch = n
		}
	}
}

// WithDependencyTimeout sets the default dependency wait.
func WithDependencyTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.depTimeout = d
		}
	}
}

// WithCatchUp sets the policy for jobs that do not choose one.
func WithCatchUp(c cadence.CatchUp) Option {
	return func(e *Evaluator) {
		if c.Valid() {
			e.catchUp = c
		}
	}
}

// WithMaxSkippedRecords caps the missed occurrences recorded per job per
// pass.
func WithMaxSkippedRecords(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxSkipped = n
		}
	}
}

// WithTriggers sets the trigger engine.
func WithTriggers(t *trigger.Engine) Option {
	return func(e *Evaluator) { e.triggers = t }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(e *Evaluator) { e.exts = r }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(e *Evaluator) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithID sets the identity used as the claim owner.
func WithID(evalID id.EvaluatorID) Option {
	return func(e *Evaluator) { e.id = evalID }
}
