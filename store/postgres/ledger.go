package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/run"
)

const attemptColumns = `
	id, job_id, job_name, occurrence_id, attempt, scheduled_time, started_at,
	finished_at, outcome, reason, error, result, partial, worker_id, manual,
	created_at`

// AppendAttempt records a new attempt. The unique (job_id, scheduled_time,
// attempt) constraint rejects a duplicate dispatch.
func (s *Store) AppendAttempt(ctx context.Context, a *run.Attempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cadence_attempts (`+attemptColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14, $15,
			$16
		)`,
		a.ID.String(), a.JobID.String(), a.JobName, a.OccurrenceID.String(), a.Number,
		a.ScheduledTime.UTC(), a.StartedAt,
		a.FinishedAt, string(a.Outcome), string(a.Reason), a.Error, a.Result, a.Partial,
		a.WorkerID, a.Manual,
		a.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrAttemptExists
		}
		return fmt.Errorf("cadence/postgres: append attempt: %w", err)
	}
	return nil
}

// FinalizeAttempt moves a pending or running attempt to its terminal
// outcome.
func (s *Store) FinalizeAttempt(ctx context.Context, a *run.Attempt) error {
	if !a.Outcome.Terminal() {
		return fmt.Errorf("cadence/postgres: finalize %s with outcome %q: %w", a.ID, a.Outcome, cadence.ErrInvalidJob)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_attempts SET
			started_at = $2, finished_at = $3, outcome = $4, reason = $5,
			error = $6, result = $7, partial = $8, worker_id = $9
		WHERE id = $1 AND outcome IN ('pending', 'running')`,
		a.ID.String(), a.StartedAt, a.FinishedAt, string(a.Outcome), string(a.Reason),
		a.Error, a.Result, a.Partial, a.WorkerID,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: finalize attempt: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM cadence_attempts WHERE id = $1)`, a.ID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("cadence/postgres: check attempt: %w", err)
	}
	if !exists {
		return cadence.ErrRunNotFound
	}
	return cadence.ErrAttemptFinalized
}

// GetAttempt retrieves an attempt by run ID.
func (s *Store) GetAttempt(ctx context.Context, runID id.RunID) (*run.Attempt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM cadence_attempts WHERE id = $1`, runID.String())

	a, err := scanAttempt(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.ErrRunNotFound
		}
		return nil, fmt.Errorf("cadence/postgres: get attempt: %w", err)
	}
	return a, nil
}

// ListAttempts returns attempts matching q, newest first.
func (s *Store) ListAttempts(ctx context.Context, q run.Query) ([]*run.Attempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM cadence_attempts WHERE 1=1`
	var args []any
	argIdx := 1

	if !q.JobID.IsNil() {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, q.JobID.String())
		argIdx++
	}
	if !q.From.IsZero() {
		query += fmt.Sprintf(" AND scheduled_time >= $%d", argIdx)
		args = append(args, q.From.UTC())
		argIdx++
	}
	if !q.To.IsZero() {
		query += fmt.Sprintf(" AND scheduled_time <= $%d", argIdx)
		args = append(args, q.To.UTC())
		argIdx++
	}
	if len(q.Outcomes) > 0 {
		outcomes := make([]string, len(q.Outcomes))
		for i, o := range q.Outcomes {
			outcomes[i] = string(o)
		}
		query += fmt.Sprintf(" AND outcome = ANY($%d)", argIdx)
		args = append(args, outcomes)
		argIdx++
	}

	query += " ORDER BY scheduled_time DESC, attempt DESC, created_at DESC, id DESC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, q.Limit)
		argIdx++
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, q.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: list attempts: %w", err)
	}
	defer rows.Close()

	return collectAttempts(rows)
}

// LatestFinalized returns the newest terminal attempt in [from, to].
func (s *Store) LatestFinalized(ctx context.Context, jobID id.JobID, from, to time.Time) (*run.Attempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+attemptColumns+` FROM cadence_attempts
		WHERE job_id = $1
		  AND scheduled_time BETWEEN $2 AND $3
		  AND outcome IN ('succeeded', 'failed', 'timed_out', 'cancelled', 'skipped')
		ORDER BY scheduled_time DESC, attempt DESC, created_at DESC
		LIMIT 1`,
		jobID.String(), from.UTC(), to.UTC(),
	)

	a, err := scanAttempt(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.ErrRunNotFound
		}
		return nil, fmt.Errorf("cadence/postgres: latest finalized: %w", err)
	}
	return a, nil
}

// scanAttempt scans a single attempt row.
func scanAttempt(row pgx.Row) (*run.Attempt, error) {
	var (
		a       run.Attempt
		idStr   string
		jobStr  string
		occStr  string
		outcome string
		reason  string
	)
	err := row.Scan(
		&idStr, &jobStr, &a.JobName, &occStr, &a.Number, &a.ScheduledTime, &a.StartedAt,
		&a.FinishedAt, &outcome, &reason, &a.Error, &a.Result, &a.Partial, &a.WorkerID, &a.Manual,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	var parseErr error
	if a.ID, parseErr = id.ParseRunID(idStr); parseErr != nil {
		return nil, fmt.Errorf("cadence/postgres: parse run id %q: %w", idStr, parseErr)
	}
	if a.JobID, parseErr = id.ParseJobID(jobStr); parseErr != nil {
		return nil, fmt.Errorf("cadence/postgres: parse job id %q: %w", jobStr, parseErr)
	}
	if a.OccurrenceID, parseErr = id.ParseOccurrenceID(occStr); parseErr != nil {
		return nil, fmt.Errorf("cadence/postgres: parse occurrence id %q: %w", occStr, parseErr)
	}

	a.Outcome = run.Outcome(outcome)
	a.Reason = run.Reason(reason)
	a.ScheduledTime = a.ScheduledTime.UTC()
	a.StartedAt = utcPtr(a.StartedAt)
	a.FinishedAt = utcPtr(a.FinishedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// collectAttempts collects all attempts from query rows.
func collectAttempts(rows pgx.Rows) ([]*run.Attempt, error) {
	var out []*run.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: scan attempt row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cadence/postgres: iterate attempt rows: %w", err)
	}
	return out, nil
}
