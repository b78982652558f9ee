package depend_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/depend"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/store/memory"
	"github.com/xraph/cadence/trigger"
)

var t0 = time.Date(2026, 10, 14, 6, 0, 0, 0, time.UTC)

func newJob(name string, opts ...job.Option) *job.Job {
	return job.New(name, job.Task{Ref: name}, trigger.Every(time.Hour), opts...)
}

func record(t *testing.T, s *memory.Store, j *job.Job, scheduled time.Time, attempt int, outcome run.Outcome) {
	t.Helper()
	occ := run.NewOccurrence(j, scheduled, false)
	occ.Attempt = attempt
	a := occ.NewAttempt(scheduled)
	require.NoError(t, s.AppendAttempt(context.Background(), a))
	a.Finish(outcome, run.ReasonNone, "", scheduled.Add(time.Minute))
	require.NoError(t, s.FinalizeAttempt(context.Background(), a))
}

func TestIsSatisfied(t *testing.T) {
	ctx := context.Background()
	upstream := newJob("A")
	scheduled := t0.Add(3 * time.Hour) // 09:00

	tests := []struct {
		name    string
		history func(s *memory.Store)
		window  time.Duration
		want    bool
	}{
		{
			name:    "no history",
			history: func(*memory.Store) {},
			want:    false,
		},
		{
			name: "success in window",
			history: func(s *memory.Store) {
				record(t, s, upstream, t0, 1, run.OutcomeSucceeded)
			},
			want: true,
		},
		{
			name: "latest attempt failed",
			history: func(s *memory.Store) {
				record(t, s, upstream, t0, 1, run.OutcomeSucceeded)
				record(t, s, upstream, t0.Add(time.Hour), 1, run.OutcomeFailed)
			},
			want: false,
		},
		{
			name: "retry succeeded",
			history: func(s *memory.Store) {
				record(t, s, upstream, t0, 1, run.OutcomeFailed)
				record(t, s, upstream, t0, 2, run.OutcomeSucceeded)
			},
			want: true,
		},
		{
			name: "success outside window",
			history: func(s *memory.Store) {
				record(t, s, upstream, t0, 1, run.OutcomeSucceeded)
			},
			window: time.Hour,
			want:   false,
		},
		{
			name: "newer skipped attempt masks older success",
			history: func(s *memory.Store) {
				record(t, s, upstream, t0.Add(2*time.Hour), 1, run.OutcomeSucceeded)
				record(t, s, upstream, scheduled, 1, run.OutcomeSkipped)
			},
			window: 90 * time.Minute,
			want:   false,
		},
		{
			name: "success after older skip",
			history: func(s *memory.Store) {
				record(t, s, upstream, t0, 1, run.OutcomeSkipped)
				record(t, s, upstream, t0.Add(time.Hour), 1, run.OutcomeSucceeded)
			},
			want: true,
		},
		{
			name: "success after scheduled time ignored",
			history: func(s *memory.Store) {
				record(t, s, upstream, scheduled.Add(time.Minute), 1, run.OutcomeSucceeded)
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			tt.history(s)
			r := depend.NewResolver(s)

			b := newJob("B", job.WithDependency(upstream.ID, tt.window))
			got, err := r.IsSatisfied(ctx, b, scheduled)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckReportsEachEdge(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a, c := newJob("A"), newJob("C")
	record(t, s, a, t0, 1, run.OutcomeSucceeded)

	b := newJob("B", job.WithDependency(a.ID, 0), job.WithDependency(c.ID, 0))
	r := depend.NewResolver(s)

	statuses, err := r.Check(ctx, b, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Satisfied)
	require.NotNil(t, statuses[0].Latest)
	assert.Equal(t, run.OutcomeSucceeded, statuses[0].Latest.Outcome)
	assert.False(t, statuses[1].Satisfied)
	assert.Nil(t, statuses[1].Latest)

	ok, err := r.IsSatisfied(ctx, newJob("free"), t0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckCycle(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	a := newJob("A")
	b := newJob("B", job.WithDependency(a.ID, 0))
	c := newJob("C", job.WithDependency(b.ID, 0))
	for _, j := range []*job.Job{a, b, c} {
		require.NoError(t, s.UpsertJob(ctx, j))
	}

	require.NoError(t, depend.CheckCycle(ctx, s, c))

	// A -> C closes A -> C -> B -> A.
	a.Dependencies = []job.Dependency{{JobID: c.ID}}
	err := depend.CheckCycle(ctx, s, a)
	assert.ErrorIs(t, err, cadence.ErrDependencyCycle)

	// Diamond is fine.
	d := newJob("D", job.WithDependency(b.ID, 0), job.WithDependency(c.ID, 0))
	require.NoError(t, depend.CheckCycle(ctx, s, d))
}

func TestCheckCycleUnknownUpstream(t *testing.T) {
	s := memory.New()
	j := newJob("orphan", job.WithDependency(id.NewJobID(), 0))
	err := depend.CheckCycle(context.Background(), s, j)
	assert.ErrorIs(t, err, cadence.ErrJobNotFound)
}
