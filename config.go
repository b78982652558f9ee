package cadence

import "time"

// CatchUp selects what happens to occurrences missed while no evaluator
// was running.
type CatchUp string

const (
	// CatchUpLatest fires only the most recent missed occurrence. The
	// older ones are recorded as skipped.
	CatchUpLatest CatchUp = "latest"

	// CatchUpAll fires every missed occurrence in order.
	CatchUpAll CatchUp = "all"
)

// Valid reports whether c names a known policy.
func (c CatchUp) Valid() bool {
	return c == CatchUpLatest || c == CatchUpAll
}

// Config holds configuration for the Scheduler.
type Config struct {
	// Concurrency is the number of worker slots in the coordinator.
	Concurrency int

	// Evaluators is the number of evaluator loops started in this process.
	Evaluators int

	// PollInterval is how often evaluators look for due jobs when not
	// woken by a change notification.
	PollInterval time.Duration

	// ClaimBatch caps how many due jobs one evaluator claims per pass.
	ClaimBatch int

	// LeaseTTL is how long a claim stays valid without renewal.
	LeaseTTL time.Duration

	// ReaperInterval is how often expired claims are released.
	ReaperInterval time.Duration

	// QueueCapacity bounds the priority dispatch queue. Zero means
	// unbounded.
	QueueCapacity int

	// IntakeBuffer is the capacity of the channel between evaluators and
	// the coordinator.
	IntakeBuffer int

	// DependencyTimeout is how long after its scheduled time an occurrence
	// may wait for dependencies. Jobs may override it.
	DependencyTimeout time.Duration

	// MaxRetryDelay caps the backoff delay between attempts.
	MaxRetryDelay time.Duration

	// CancelGrace is how long a cancelled or timed out run may take to
	// acknowledge before it is force-finalized.
	CancelGrace time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// DefaultCatchUp applies to jobs that do not set their own policy.
	DefaultCatchUp CatchUp

	// MaxSkippedRecords caps how many missed occurrences one catch-up
	// pass writes to the ledger.
	MaxSkippedRecords int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Evaluators:        1,
		PollInterval:      1 * time.Second,
		ClaimBatch:        100,
		LeaseTTL:          30 * time.Second,
		ReaperInterval:    10 * time.Second,
		QueueCapacity:     10_000,
		IntakeBuffer:      256,
		DependencyTimeout: 1 * time.Hour,
		MaxRetryDelay:     1 * time.Hour,
		CancelGrace:       10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		DefaultCatchUp:    CatchUpLatest,
		MaxSkippedRecords: 100,
	}
}
