package cadence

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("cadence: no store configured")
	ErrStoreClosed     = errors.New("cadence: store closed")
	ErrMigrationFailed = errors.New("cadence: migration failed")

	// Not found errors.
	ErrJobNotFound = errors.New("cadence: job not found")
	ErrRunNotFound = errors.New("cadence: run not found")

	// Definition errors. Returned synchronously to the caller.
	ErrInvalidJob            = errors.New("cadence: invalid job definition")
	ErrInvalidSchedule       = errors.New("cadence: invalid schedule")
	ErrInvalidTimezone       = errors.New("cadence: invalid timezone")
	ErrInvalidPriority       = errors.New("cadence: priority must be between 1 and 10")
	ErrDependencyCycle       = errors.New("cadence: dependency cycle")
	ErrUnknownTask           = errors.New("cadence: unknown task reference")
	ErrScheduleUnsatisfiable = errors.New("cadence: schedule has no satisfiable fire time")

	// Claim errors.
	ErrLeaseConflict = errors.New("cadence: lease held by another owner")

	// Execution errors. Recorded against a run attempt, never returned to
	// the task that caused them.
	ErrDependencyTimeout = errors.New("cadence: dependencies not satisfied before timeout")
	ErrQueueOverflow     = errors.New("cadence: dispatch queue overflow")
	ErrWorkerTimeout     = errors.New("cadence: run exceeded timeout")
	ErrWorkerFailure     = errors.New("cadence: worker reported failure")
	ErrCancelled         = errors.New("cadence: run cancelled")

	// Ledger errors.
	ErrAttemptExists    = errors.New("cadence: run attempt already recorded")
	ErrAttemptFinalized = errors.New("cadence: run attempt already finalized")
	ErrRunNotActive     = errors.New("cadence: run is not in flight")

	// Queue errors.
	ErrQueueClosed = errors.New("cadence: dispatch queue closed")
)
