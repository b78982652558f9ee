package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
)

// AcquireSlot takes or extends the job's in-flight slot. The upsert only
// overwrites a row that holder owns or that has expired, so a held slot
// returns no row.
func (s *Store) AcquireSlot(ctx context.Context, jobID id.JobID, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	var got string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cadence_job_slots (job_id, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id) DO UPDATE SET
			holder = EXCLUDED.holder,
			expires_at = EXCLUDED.expires_at
		WHERE cadence_job_slots.holder = EXCLUDED.holder
		   OR cadence_job_slots.expires_at <= $4
		RETURNING holder`,
		jobID.String(), holder, now.Add(ttl), now,
	).Scan(&got)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("cadence/postgres: acquire slot: %w", err)
	}
	return true, nil
}

// RenewSlot extends holder's slot.
func (s *Store) RenewSlot(ctx context.Context, jobID id.JobID, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_job_slots SET expires_at = $3
		WHERE job_id = $1 AND holder = $2 AND expires_at > $4`,
		jobID.String(), holder, now.Add(ttl), now,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: renew slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrLeaseConflict
	}
	return nil
}

// ReleaseSlot frees holder's slot.
func (s *Store) ReleaseSlot(ctx context.Context, jobID id.JobID, holder string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM cadence_job_slots WHERE job_id = $1 AND holder = $2`,
		jobID.String(), holder,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: release slot: %w", err)
	}
	return nil
}
