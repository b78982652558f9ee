// Package depend resolves job dependencies against the execution ledger.
//
// An occurrence of a job scheduled at S is eligible when, for every
// dependency edge (upstream, W), the newest finalized attempt of upstream
// with a scheduled time in [S-W, S] succeeded. A skipped attempt is
// finalized and so blocks the edge. No history in
// the window means not satisfied. Results are never cached beyond one call.
package depend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
)

// Status is the evaluation of one dependency edge.
type Status struct {
	Dependency job.Dependency `json:"dependency"`
	Satisfied  bool           `json:"satisfied"`
	// Latest is the newest finalized upstream attempt in the window, if any.
	Latest *run.Attempt `json:"latest,omitempty"`
}

// Resolver answers dependency queries from a ledger.
type Resolver struct {
	ledger run.Ledger
}

// NewResolver creates a Resolver over ledger.
func NewResolver(ledger run.Ledger) *Resolver {
	return &Resolver{ledger: ledger}
}

// IsSatisfied reports whether every dependency of j holds for the
// occurrence scheduled at scheduled. A job without dependencies is always
// satisfied.
func (r *Resolver) IsSatisfied(ctx context.Context, j *job.Job, scheduled time.Time) (bool, error) {
	for _, d := range j.Dependencies {
		st, err := r.check(ctx, d, scheduled)
		if err != nil {
			return false, err
		}
		if !st.Satisfied {
			return false, nil
		}
	}
	return true, nil
}

// Check evaluates every edge of j and returns their statuses in
// definition order.
func (r *Resolver) Check(ctx context.Context, j *job.Job, scheduled time.Time) ([]Status, error) {
	out := make([]Status, 0, len(j.Dependencies))
	for _, d := range j.Dependencies {
		st, err := r.check(ctx, d, scheduled)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (r *Resolver) check(ctx context.Context, d job.Dependency, scheduled time.Time) (Status, error) {
	st := Status{Dependency: d}
	from := scheduled.Add(-d.EffectiveWindow())

	latest, err := r.ledger.LatestFinalized(ctx, d.JobID, from, scheduled)
	if errors.Is(err, cadence.ErrRunNotFound) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("depend: latest run of %s: %w", d.JobID, err)
	}
	st.Latest = latest
	st.Satisfied = latest.Outcome == run.OutcomeSucceeded
	return st, nil
}

// ──────────────────────────────────────────────────
// Cycle detection
// ──────────────────────────────────────────────────

// Getter loads job definitions by ID.
type Getter interface {
	GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error)
}

// CheckCycle returns cadence.ErrDependencyCycle if saving candidate would
// close a cycle in the dependency graph. Upstream jobs that do not exist
// are reported with cadence.ErrJobNotFound.
func CheckCycle(ctx context.Context, jobs Getter, candidate *job.Job) error {
	const (
		visiting = 1
		done     = 2
	)
	state := map[id.JobID]int{candidate.ID: visiting}

	var visit func(deps []job.Dependency, path []id.JobID) error
	visit = func(deps []job.Dependency, path []id.JobID) error {
		for _, d := range deps {
			switch state[d.JobID] {
			case visiting:
				return fmt.Errorf("%w: %s", cadence.ErrDependencyCycle, formatPath(append(path, d.JobID)))
			case done:
				continue
			}

			up, err := jobs.GetJob(ctx, d.JobID)
			if err != nil {
				if errors.Is(err, cadence.ErrJobNotFound) && len(path) == 1 {
					return fmt.Errorf("dependency %s: %w", d.JobID, err)
				}
				if errors.Is(err, cadence.ErrJobNotFound) {
					state[d.JobID] = done
					continue
				}
				return err
			}

			state[d.JobID] = visiting
			if err := visit(up.Dependencies, append(path, d.JobID)); err != nil {
				return err
			}
			state[d.JobID] = done
		}
		return nil
	}

	return visit(candidate.Dependencies, []id.JobID{candidate.ID})
}

func formatPath(path []id.JobID) string {
	s := ""
	for i, p := range path {
		if i > 0 {
			s += " -> "
		}
		s += p.String()
	}
	return s
}
