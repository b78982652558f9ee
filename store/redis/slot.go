package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
)

// AcquireSlot takes or extends the job's in-flight slot. Expiry is left to
// Redis key TTLs.
func (s *Store) AcquireSlot(ctx context.Context, jobID id.JobID, holder string, ttl time.Duration) (bool, error) {
	n, err := acquireSlotScript.Run(ctx, s.client,
		[]string{s.keys.slot(jobID.String())},
		holder, ttlMillis(ttl),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("cadence/redis: acquire slot: %w", err)
	}
	return n == 1, nil
}

// RenewSlot extends holder's slot.
func (s *Store) RenewSlot(ctx context.Context, jobID id.JobID, holder string, ttl time.Duration) error {
	n, err := renewSlotScript.Run(ctx, s.client,
		[]string{s.keys.slot(jobID.String())},
		holder, ttlMillis(ttl),
	).Int64()
	if err != nil {
		return fmt.Errorf("cadence/redis: renew slot: %w", err)
	}
	if n == 0 {
		return cadence.ErrLeaseConflict
	}
	return nil
}

// ReleaseSlot frees holder's slot.
func (s *Store) ReleaseSlot(ctx context.Context, jobID id.JobID, holder string) error {
	err := releaseSlotScript.Run(ctx, s.client,
		[]string{s.keys.slot(jobID.String())},
		holder,
	).Err()
	if err != nil {
		return fmt.Errorf("cadence/redis: release slot: %w", err)
	}
	return nil
}

// ttlMillis rounds ttl up to whole milliseconds, at least one.
func ttlMillis(ttl time.Duration) int64 {
	ms := (ttl + time.Millisecond - 1) / time.Millisecond
	if ms < 1 {
		ms = 1
	}
	return int64(ms)
}
