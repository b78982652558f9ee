package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

// UpsertJob stores the job Hash, indexes it, and drops any claim.
func (s *Store) UpsertJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.keys.job(jID)

	cp := j.Clone()
	cp.ClearClaim()
	created, err := s.client.HGet(ctx, key, "created_at").Result()
	switch {
	case errors.Is(err, goredis.Nil):
	case err != nil:
		return fmt.Errorf("cadence/redis: upsert job read: %w", err)
	default:
		if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			cp.CreatedAt = t
		}
	}
	cp.UpdatedAt = time.Now().UTC()

	fields, err := jobToMap(cp)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, s.keys.jobIDs(), jID)
	pipe.ZRem(ctx, s.keys.claims(), jID)
	if cp.Enabled && cp.NextFireAt != nil {
		pipe.ZAdd(ctx, s.keys.due(), goredis.Z{Score: score(*cp.NextFireAt), Member: jID})
	} else {
		pipe.ZRem(ctx, s.keys.due(), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cadence/redis: upsert job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, s.keys.job(jobID.String()))
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("cadence/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, cadence.ErrJobNotFound
	}
	return mapToJob(vals)
}

// ListJobs returns jobs ordered by name then ID.
func (s *Store) ListJobs(ctx context.Context, filter job.ListFilter) ([]*job.Job, error) {
	all, err := s.matchingJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, k int) bool {
		if all[i].Name != all[k].Name {
			return all[i].Name < all[k].Name
		}
		return all[i].ID.String() < all[k].ID.String()
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return nil, nil
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, nil
}

// CountJobs returns the number of jobs matching the filter.
func (s *Store) CountJobs(ctx context.Context, filter job.ListFilter) (int64, error) {
	all, err := s.matchingJobs(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(all)), nil
}

func (s *Store) matchingJobs(ctx context.Context, filter job.ListFilter) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.keys.jobIDs()).Result()
	if err != nil {
		return nil, fmt.Errorf("cadence/redis: list jobs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.job(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("cadence/redis: list jobs fetch: %w", err)
	}

	out := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		j, err := mapToJob(vals)
		if err != nil {
			return nil, err
		}
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		if filter.Tag != "" && !j.HasTag(filter.Tag) {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// DeleteJob removes a job and its index entries. Ledger history stays.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := s.keys.job(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cadence/redis: delete job check: %w", err)
	}
	if exists == 0 {
		return cadence.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, s.keys.jobIDs(), jID)
	pipe.ZRem(ctx, s.keys.due(), jID)
	pipe.ZRem(ctx, s.keys.claims(), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cadence/redis: delete job: %w", err)
	}
	return nil
}

// SetJobEnabled flips the enabled flag and stores the next fire time.
func (s *Store) SetJobEnabled(ctx context.Context, jobID id.JobID, enabled bool, nextFireAt *time.Time) error {
	jID := jobID.String()
	n, err := enableScript.Run(ctx, s.client,
		[]string{s.keys.job(jID), s.keys.claims(), s.keys.due()},
		jID, boolField(enabled), timeField(nextFireAt), scoreField(nextFireAt), nowField(),
	).Int64()
	return leaseResult("set enabled", n, err)
}

// ClaimDueJobs claims up to limit due jobs in a single script call.
func (s *Store) ClaimDueJobs(ctx context.Context, before time.Time, limit int, owner string, ttl time.Duration) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	until := time.Now().UTC().Add(ttl)
	args := make([]any, 0, 5+limit)
	args = append(args,
		strconv.FormatInt(before.UnixMicro(), 10),
		limit,
		owner,
		strconv.FormatInt(until.UnixMicro(), 10),
		s.keys.jobPrefix(),
	)
	for range limit {
		args = append(args, uuid.NewString())
	}

	ids, err := claimScript.Run(ctx, s.client, []string{s.keys.due(), s.keys.claims()}, args...).StringSlice()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("cadence/redis: claim due jobs: %w", err)
	}

	out := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, err := s.getJobByKey(ctx, s.keys.job(jID))
		if errors.Is(err, cadence.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// RenewClaim extends a held lease.
func (s *Store) RenewClaim(ctx context.Context, jobID id.JobID, token string, ttl time.Duration) error {
	if token == "" {
		return cadence.ErrLeaseConflict
	}
	jID := jobID.String()
	until := time.Now().UTC().Add(ttl)
	n, err := renewScript.Run(ctx, s.client,
		[]string{s.keys.job(jID), s.keys.claims()},
		token, strconv.FormatInt(until.UnixMicro(), 10), jID,
	).Int64()
	return leaseResult("renew claim", n, err)
}

// ConfirmClaim advances the job and releases the lease.
func (s *Store) ConfirmClaim(ctx context.Context, jobID id.JobID, token string, firedAt time.Time, nextFireAt *time.Time) error {
	if token == "" {
		return cadence.ErrLeaseConflict
	}
	jID := jobID.String()
	n, err := confirmScript.Run(ctx, s.client,
		[]string{s.keys.job(jID), s.keys.claims(), s.keys.due()},
		token, jID, firedAt.UTC().Format(time.RFC3339Nano),
		timeField(nextFireAt), scoreField(nextFireAt), nowField(),
	).Int64()
	return leaseResult("confirm claim", n, err)
}

// ReleaseClaim drops a lease without advancing the job.
func (s *Store) ReleaseClaim(ctx context.Context, jobID id.JobID, token string) error {
	if token == "" {
		return cadence.ErrLeaseConflict
	}
	jID := jobID.String()
	n, err := releaseScript.Run(ctx, s.client,
		[]string{s.keys.job(jID), s.keys.claims()},
		token, jID,
	).Int64()
	return leaseResult("release claim", n, err)
}

// ReapExpiredClaims releases every lease that expired at or before now.
func (s *Store) ReapExpiredClaims(ctx context.Context, now time.Time) (int, error) {
	n, err := reapScript.Run(ctx, s.client,
		[]string{s.keys.claims()},
		strconv.FormatInt(now.UnixMicro(), 10), s.keys.jobPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("cadence/redis: reap claims: %w", err)
	}
	return n, nil
}

func leaseResult(op string, n int64, err error) error {
	if err != nil {
		return fmt.Errorf("cadence/redis: %s: %w", op, err)
	}
	switch n {
	case -1:
		return cadence.ErrJobNotFound
	case 0:
		return cadence.ErrLeaseConflict
	}
	return nil
}

// ── Serialization helpers ──

// jobToMap splits a job into the definition JSON and the runtime fields the
// scripts read and write individually.
func jobToMap(j *job.Job) (map[string]any, error) {
	def := j.Clone()
	def.NextFireAt = nil
	def.LastFiredAt = nil
	def.ClearClaim()
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("cadence/redis: marshal job: %w", err)
	}
	return map[string]any{
		"definition":    string(data),
		"name":          j.Name,
		"priority":      j.Priority,
		"enabled":       boolField(j.Enabled),
		"created_at":    j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    j.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"next_fire_at":  timeField(j.NextFireAt),
		"last_fired_at": timeField(j.LastFiredAt),
		"claimed_by":    "",
		"claim_token":   "",
		"claim_until":   "",
	}, nil
}

func mapToJob(m map[string]string) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal([]byte(m["definition"]), &j); err != nil {
		return nil, fmt.Errorf("cadence/redis: unmarshal job: %w", err)
	}
	j.Enabled = m["enabled"] == "1"
	j.CreatedAt = parseTime(m["created_at"])
	j.UpdatedAt = parseTime(m["updated_at"])
	j.NextFireAt = parseTimePtr(m["next_fire_at"])
	j.LastFiredAt = parseTimePtr(m["last_fired_at"])
	j.ClaimedBy = m["claimed_by"]
	j.ClaimToken = m["claim_token"]
	if us, err := strconv.ParseInt(m["claim_until"], 10, 64); err == nil && j.ClaimToken != "" {
		t := time.UnixMicro(us).UTC()
		j.ClaimUntil = &t
	}
	return &j, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func timeField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func scoreField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixMicro(), 10)
}

func nowField() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
