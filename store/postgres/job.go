package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

const jobColumns = `
	id, name, task_ref, task_args, schedule, timezone, priority, max_retries,
	retry_base_delay, retry_max_delay, timeout, enabled, tags, dependencies,
	dependency_timeout, concurrency, catch_up, next_fire_at, last_fired_at,
	claimed_by, claim_token, claim_until, created_at, updated_at`

// UpsertJob inserts a job or replaces its definition. created_at of an
// existing row is kept and any claim is cleared.
func (s *Store) UpsertJob(ctx context.Context, j *job.Job) error {
	schedule, err := json.Marshal(j.Schedule)
	if err != nil {
		return fmt.Errorf("cadence/postgres: marshal schedule: %w", err)
	}
	deps := j.Dependencies
	if deps == nil {
		deps = []job.Dependency{}
	}
	depJSON, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("cadence/postgres: marshal dependencies: %w", err)
	}
	tags := j.Tags
	if tags == nil {
		tags = []string{}
	}
	var args []byte
	if len(j.Task.Args) > 0 {
		args = j.Task.Args
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO cadence_jobs (
			id, name, task_ref, task_args, schedule, timezone, priority, max_retries,
			retry_base_delay, retry_max_delay, timeout, enabled, tags, dependencies,
			dependency_timeout, concurrency, catch_up, next_fire_at, last_fired_at,
			claimed_by, claim_token, claim_until, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19,
			'', '', NULL, $20, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			task_ref = EXCLUDED.task_ref,
			task_args = EXCLUDED.task_args,
			schedule = EXCLUDED.schedule,
			timezone = EXCLUDED.timezone,
			priority = EXCLUDED.priority,
			max_retries = EXCLUDED.max_retries,
			retry_base_delay = EXCLUDED.retry_base_delay,
			retry_max_delay = EXCLUDED.retry_max_delay,
			timeout = EXCLUDED.timeout,
			enabled = EXCLUDED.enabled,
			tags = EXCLUDED.tags,
			dependencies = EXCLUDED.dependencies,
			dependency_timeout = EXCLUDED.dependency_timeout,
			concurrency = EXCLUDED.concurrency,
			catch_up = EXCLUDED.catch_up,
			next_fire_at = EXCLUDED.next_fire_at,
			last_fired_at = EXCLUDED.last_fired_at,
			claimed_by = '', claim_token = '', claim_until = NULL,
			updated_at = NOW()`,
		j.ID.String(), j.Name, j.Task.Ref, args, schedule, j.Timezone, j.Priority, j.MaxRetries,
		j.RetryBaseDelay.Nanoseconds(), j.RetryMaxDelay.Nanoseconds(), j.Timeout.Nanoseconds(),
		j.Enabled, tags, depJSON,
		j.DependencyTimeout.Nanoseconds(), string(j.Concurrency), string(j.CatchUp),
		j.NextFireAt, j.LastFiredAt,
		j.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: upsert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM cadence_jobs WHERE id = $1`, jobID.String())

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.ErrJobNotFound
		}
		return nil, fmt.Errorf("cadence/postgres: get job: %w", err)
	}
	return j, nil
}

// jobFilter appends the WHERE clause for filter and returns the next
// placeholder index.
func jobFilter(query string, args []any, filter job.ListFilter) (string, []any, int) {
	query += ` WHERE 1=1`
	argIdx := len(args) + 1
	if filter.Enabled != nil {
		query += fmt.Sprintf(" AND enabled = $%d", argIdx)
		args = append(args, *filter.Enabled)
		argIdx++
	}
	if filter.Tag != "" {
		query += fmt.Sprintf(" AND $%d = ANY(tags)", argIdx)
		args = append(args, filter.Tag)
		argIdx++
	}
	return query, args, argIdx
}

// ListJobs returns jobs ordered by name then ID.
func (s *Store) ListJobs(ctx context.Context, filter job.ListFilter) ([]*job.Job, error) {
	query, args, argIdx := jobFilter(`SELECT `+jobColumns+` FROM cadence_jobs`, nil, filter)
	query += " ORDER BY name ASC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the filter.
func (s *Store) CountJobs(ctx context.Context, filter job.ListFilter) (int64, error) {
	query, args, _ := jobFilter(`SELECT COUNT(*) FROM cadence_jobs`, nil, filter)

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("cadence/postgres: count jobs: %w", err)
	}
	return count, nil
}

// DeleteJob removes a job by ID. Its ledger history is kept.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cadence_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("cadence/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrJobNotFound
	}
	return nil
}

// SetJobEnabled flips the enabled flag and stores the next fire time.
func (s *Store) SetJobEnabled(ctx context.Context, jobID id.JobID, enabled bool, nextFireAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_jobs SET
			enabled = $2, next_fire_at = $3,
			claimed_by = '', claim_token = '', claim_until = NULL,
			updated_at = NOW()
		WHERE id = $1`,
		jobID.String(), enabled, nextFireAt,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: set job enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrJobNotFound
	}
	return nil
}

// ClaimDueJobs atomically claims up to limit due jobs. Uses SELECT FOR
// UPDATE SKIP LOCKED so concurrent evaluators partition the due set.
func (s *Store) ClaimDueJobs(ctx context.Context, before time.Time, limit int, owner string, ttl time.Duration) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM cadence_jobs
			WHERE enabled
			  AND claim_token = ''
			  AND next_fire_at IS NOT NULL
			  AND next_fire_at <= $1
			ORDER BY next_fire_at ASC, priority DESC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE cadence_jobs j SET
			claimed_by = $3,
			claim_token = gen_random_uuid()::text,
			claim_until = $4
		FROM due
		WHERE j.id = due.id
		RETURNING `+prefixed("j", jobColumns),
		before, limit, owner, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: claim due jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	// RETURNING order is unspecified.
	slices.SortFunc(jobs, func(a, b *job.Job) int {
		if c := a.NextFireAt.Compare(*b.NextFireAt); c != 0 {
			return c
		}
		return b.Priority - a.Priority
	})
	return jobs, nil
}

// RenewClaim extends a held lease.
func (s *Store) RenewClaim(ctx context.Context, jobID id.JobID, token string, ttl time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_jobs SET claim_until = $3
		WHERE id = $1 AND claim_token = $2 AND claim_token <> ''`,
		jobID.String(), token, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: renew claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, jobID)
	}
	return nil
}

// ConfirmClaim advances the job and releases the lease.
func (s *Store) ConfirmClaim(ctx context.Context, jobID id.JobID, token string, firedAt time.Time, nextFireAt *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_jobs SET
			last_fired_at = $3, next_fire_at = $4,
			claimed_by = '', claim_token = '', claim_until = NULL,
			updated_at = NOW()
		WHERE id = $1 AND claim_token = $2 AND claim_token <> ''`,
		jobID.String(), token, firedAt.UTC(), nextFireAt,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: confirm claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, jobID)
	}
	return nil
}

// ReleaseClaim drops a lease without advancing the job.
func (s *Store) ReleaseClaim(ctx context.Context, jobID id.JobID, token string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_jobs SET claimed_by = '', claim_token = '', claim_until = NULL
		WHERE id = $1 AND claim_token = $2 AND claim_token <> ''`,
		jobID.String(), token,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: release claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, jobID)
	}
	return nil
}

// ReapExpiredClaims releases every lease that expired at or before now.
func (s *Store) ReapExpiredClaims(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_jobs SET claimed_by = '', claim_token = '', claim_until = NULL
		WHERE claim_token <> '' AND claim_until <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("cadence/postgres: reap claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// leaseMiss tells a missing job apart from a lost lease.
func (s *Store) leaseMiss(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM cadence_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("cadence/postgres: check job: %w", err)
	}
	if !exists {
		return cadence.ErrJobNotFound
	}
	return cadence.ErrLeaseConflict
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		taskArgs    []byte
		schedule    []byte
		deps        []byte
		concurrency string
		catchUp     string
		retryBase   int64
		retryMax    int64
		timeoutNs   int64
		depTimeout  int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Task.Ref, &taskArgs, &schedule, &j.Timezone, &j.Priority, &j.MaxRetries,
		&retryBase, &retryMax, &timeoutNs, &j.Enabled, &j.Tags, &deps,
		&depTimeout, &concurrency, &catchUp, &j.NextFireAt, &j.LastFiredAt,
		&j.ClaimedBy, &j.ClaimToken, &j.ClaimUntil, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("cadence/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID
	if len(taskArgs) > 0 {
		j.Task.Args = json.RawMessage(taskArgs)
	}

	if err := json.Unmarshal(schedule, &j.Schedule); err != nil {
		return nil, fmt.Errorf("cadence/postgres: unmarshal schedule of %s: %w", idStr, err)
	}
	if err := json.Unmarshal(deps, &j.Dependencies); err != nil {
		return nil, fmt.Errorf("cadence/postgres: unmarshal dependencies of %s: %w", idStr, err)
	}
	if len(j.Dependencies) == 0 {
		j.Dependencies = nil
	}
	if len(j.Tags) == 0 {
		j.Tags = nil
	}

	j.RetryBaseDelay = time.Duration(retryBase)
	j.RetryMaxDelay = time.Duration(retryMax)
	j.Timeout = time.Duration(timeoutNs)
	j.DependencyTimeout = time.Duration(depTimeout)
	j.Concurrency = job.ConcurrencyPolicy(concurrency)
	j.CatchUp = cadence.CatchUp(catchUp)
	j.NextFireAt = utcPtr(j.NextFireAt)
	j.LastFiredAt = utcPtr(j.LastFiredAt)
	j.ClaimUntil = utcPtr(j.ClaimUntil)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cadence/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
