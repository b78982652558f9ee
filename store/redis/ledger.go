package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/run"
)

// AppendAttempt records a new attempt. The ledger key is claimed with
// SETNX inside the script, so a duplicate dispatch loses atomically.
func (s *Store) AppendAttempt(ctx context.Context, a *run.Attempt) error {
	data, err := msgpack.Marshal(a)
	if err != nil {
		return fmt.Errorf("cadence/redis: encode attempt: %w", err)
	}
	k := a.Key()
	jID := a.JobID.String()
	rID := a.ID.String()

	n, err := appendScript.Run(ctx, s.client,
		[]string{
			s.keys.attempt(rID),
			s.keys.ledger(jID, k.ScheduledTime, k.Number),
			s.keys.jobAttempts(jID),
			s.keys.allAttempts(),
		},
		data, string(a.Outcome), rID, strconv.FormatInt(k.ScheduledTime.UnixMicro(), 10),
	).Int64()
	if err != nil {
		return fmt.Errorf("cadence/redis: append attempt: %w", err)
	}
	if n == 0 {
		return cadence.ErrAttemptExists
	}
	return nil
}

// FinalizeAttempt replaces a pending or running attempt with its terminal
// record.
func (s *Store) FinalizeAttempt(ctx context.Context, a *run.Attempt) error {
	if !a.Outcome.Terminal() {
		return fmt.Errorf("cadence/redis: finalize %s with outcome %q: %w", a.ID, a.Outcome, cadence.ErrInvalidJob)
	}
	data, err := msgpack.Marshal(a)
	if err != nil {
		return fmt.Errorf("cadence/redis: encode attempt: %w", err)
	}
	n, err := finalizeScript.Run(ctx, s.client,
		[]string{s.keys.attempt(a.ID.String())},
		data, string(a.Outcome),
	).Int64()
	if err != nil {
		return fmt.Errorf("cadence/redis: finalize attempt: %w", err)
	}
	switch n {
	case -1:
		return cadence.ErrRunNotFound
	case 0:
		return cadence.ErrAttemptFinalized
	}
	return nil
}

// GetAttempt retrieves an attempt by run ID.
func (s *Store) GetAttempt(ctx context.Context, runID id.RunID) (*run.Attempt, error) {
	data, err := s.client.HGet(ctx, s.keys.attempt(runID.String()), "data").Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cadence.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cadence/redis: get attempt: %w", err)
	}
	return decodeAttempt(data)
}

// ListAttempts returns attempts matching q, newest first.
func (s *Store) ListAttempts(ctx context.Context, q run.Query) ([]*run.Attempt, error) {
	index := s.keys.allAttempts()
	if !q.JobID.IsNil() {
		index = s.keys.jobAttempts(q.JobID.String())
	}
	all, err := s.attemptsBetween(ctx, index, q.From, q.To)
	if err != nil {
		return nil, err
	}

	out := all[:0]
	for _, a := range all {
		if q.Matches(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b *run.Attempt) int {
		if c := run.Newer(a, b); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
	return run.Page(out, q), nil
}

// LatestFinalized returns the newest terminal attempt in [from, to].
func (s *Store) LatestFinalized(ctx context.Context, jobID id.JobID, from, to time.Time) (*run.Attempt, error) {
	all, err := s.attemptsBetween(ctx, s.keys.jobAttempts(jobID.String()), from, to)
	if err != nil {
		return nil, err
	}
	var best *run.Attempt
	for _, a := range all {
		if !a.Outcome.Terminal() {
			continue
		}
		if best == nil || run.Newer(a, best) < 0 {
			best = a
		}
	}
	if best == nil {
		return nil, cadence.ErrRunNotFound
	}
	return best, nil
}

func (s *Store) attemptsBetween(ctx context.Context, index string, from, to time.Time) ([]*run.Attempt, error) {
	rng := &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !from.IsZero() {
		rng.Min = strconv.FormatInt(from.UnixMicro(), 10)
	}
	if !to.IsZero() {
		rng.Max = strconv.FormatInt(to.UnixMicro(), 10)
	}
	ids, err := s.client.ZRangeByScore(ctx, index, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("cadence/redis: list attempts: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, rID := range ids {
		cmds[i] = pipe.HGet(ctx, s.keys.attempt(rID), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("cadence/redis: list attempts fetch: %w", err)
	}

	out := make([]*run.Attempt, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		a, err := decodeAttempt(data)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func decodeAttempt(data []byte) (*run.Attempt, error) {
	var a run.Attempt
	if err := msgpack.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("cadence/redis: decode attempt: %w", err)
	}
	a.ScheduledTime = a.ScheduledTime.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}
