package job

import (
	"context"
	"time"

	"github.com/xraph/cadence/id"
)

// ListFilter controls pagination and filtering for job list queries.
type ListFilter struct {
	// Enabled filters by the enabled flag. Nil means both.
	Enabled *bool
	// Tag filters to jobs carrying the tag. Empty means all.
	Tag string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for job definitions and their
// claim leases.
type Store interface {
	// UpsertJob inserts a job or replaces the definition of an existing
	// one. CreatedAt of an existing record is preserved and any claim on
	// it is released, so an evaluator holding the old definition loses its
	// lease.
	UpsertJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs ordered by name then ID.
	ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error)

	// CountJobs returns the number of jobs matching filter, ignoring
	// Limit and Offset.
	CountJobs(ctx context.Context, filter ListFilter) (int64, error)

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// SetJobEnabled flips the enabled flag, stores the recomputed next
	// fire time, and releases any claim.
	SetJobEnabled(ctx context.Context, jobID id.JobID, enabled bool, nextFireAt *time.Time) error

	// ClaimDueJobs atomically claims up to limit enabled, unclaimed jobs
	// whose next fire time is at or before `before`, ordered by next fire
	// time. Each returned job carries a fresh ClaimToken valid for ttl.
	// Concurrent callers never receive the same job.
	ClaimDueJobs(ctx context.Context, before time.Time, limit int, owner string, ttl time.Duration) ([]*Job, error)

	// RenewClaim extends a held lease. Returns cadence.ErrLeaseConflict if
	// token no longer holds the claim.
	RenewClaim(ctx context.Context, jobID id.JobID, token string, ttl time.Duration) error

	// ConfirmClaim records that the occurrences up to firedAt were handed
	// to the coordinator, stores the next fire time (nil when the schedule
	// is exhausted), and releases the lease. Returns
	// cadence.ErrLeaseConflict if token no longer holds the claim.
	ConfirmClaim(ctx context.Context, jobID id.JobID, token string, firedAt time.Time, nextFireAt *time.Time) error

	// ReleaseClaim drops a lease without advancing the job.
	ReleaseClaim(ctx context.Context, jobID id.JobID, token string) error

	// ReapExpiredClaims releases every lease that expired at or before now
	// and returns how many were released.
	ReapExpiredClaims(ctx context.Context, now time.Time) (int, error)

	Slots
}

// Slots holds the in-flight slot of jobs with a skip or queue concurrency
// policy. At most one holder owns a job's slot at a time, across every
// process sharing the store. A slot expires after its ttl unless renewed,
// so a crashed process cannot keep it forever.
type Slots interface {
	// AcquireSlot takes the slot of jobID for holder, or extends it when
	// holder already owns it. It reports false when another holder owns an
	// unexpired slot. The job does not need to exist.
	AcquireSlot(ctx context.Context, jobID id.JobID, holder string, ttl time.Duration) (bool, error)

	// RenewSlot extends holder's slot. Returns cadence.ErrLeaseConflict
	// when holder no longer owns it.
	RenewSlot(ctx context.Context, jobID id.JobID, holder string, ttl time.Duration) error

	// ReleaseSlot frees holder's slot. Releasing a slot owned by someone
	// else, or by nobody, is a no-op.
	ReleaseSlot(ctx context.Context, jobID id.JobID, holder string) error
}
