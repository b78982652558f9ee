package run

import (
	"context"
	"slices"
	"time"

	"github.com/xraph/cadence/id"
)

// Query filters ledger reads. Results are ordered newest first by
// scheduled time, then by attempt number.
type Query struct {
	// JobID restricts results to one job. Nil means all jobs.
	JobID id.JobID
	// From and To bound ScheduledTime inclusively. Zero means unbounded.
	From time.Time
	To   time.Time
	// Outcomes restricts results to the given outcomes. Empty means all.
	Outcomes []Outcome
	// Limit is the maximum number of attempts to return. Zero means no
	// limit.
	Limit int
	// Offset is the number of attempts to skip.
	Offset int
}

// Matches reports whether a satisfies the filter part of q.
func (q Query) Matches(a *Attempt) bool {
	if !q.JobID.IsNil() && a.JobID != q.JobID {
		return false
	}
	if !q.From.IsZero() && a.ScheduledTime.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && a.ScheduledTime.After(q.To) {
		return false
	}
	if len(q.Outcomes) > 0 && !slices.Contains(q.Outcomes, a.Outcome) {
		return false
	}
	return true
}

// Newer orders attempts newest first: later scheduled time, then higher
// attempt number, then later creation.
func Newer(a, b *Attempt) int {
	if c := b.ScheduledTime.Compare(a.ScheduledTime); c != 0 {
		return c
	}
	if a.Number != b.Number {
		return b.Number - a.Number
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

// Ledger is the append-only execution history.
type Ledger interface {
	// AppendAttempt records a new attempt. Returns
	// cadence.ErrAttemptExists if an attempt with the same key exists.
	AppendAttempt(ctx context.Context, a *Attempt) error

	// FinalizeAttempt moves a recorded, non-terminal attempt to its
	// terminal outcome. Returns cadence.ErrAttemptFinalized if it is
	// already terminal and cadence.ErrRunNotFound if it was never
	// recorded.
	FinalizeAttempt(ctx context.Context, a *Attempt) error

	// GetAttempt retrieves an attempt by run ID.
	GetAttempt(ctx context.Context, runID id.RunID) (*Attempt, error)

	// ListAttempts returns attempts matching q.
	ListAttempts(ctx context.Context, q Query) ([]*Attempt, error)

	// LatestFinalized returns the newest terminal attempt of jobID whose
	// scheduled time lies in [from, to]. Skipped attempts count as
	// finalized. Returns cadence.ErrRunNotFound when there is none.
	LatestFinalized(ctx context.Context, jobID id.JobID, from, to time.Time) (*Attempt, error)
}

// Page applies q's offset and limit to a sorted slice.
func Page(all []*Attempt, q Query) []*Attempt {
	if q.Offset > 0 {
		if q.Offset >= len(all) {
			return nil
		}
		all = all[q.Offset:]
	}
	if q.Limit > 0 && len(all) > q.Limit {
		all = all[:q.Limit]
	}
	return all
}
