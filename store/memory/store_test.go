package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/clock"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

var t0 = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func dueJob(name string, next time.Time, opts ...job.Option) *job.Job {
	j := job.New(name, job.Task{Ref: "noop"}, trigger.Every(time.Minute), opts...)
	j.NextFireAt = &next
	return j
}

func TestUpsertGetDelete(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := dueJob("a", t0)
	if err := s.UpsertJob(ctx, j); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != "a" {
		t.Errorf("Name = %q, want %q", got.Name, "a")
	}

	created := got.CreatedAt
	got.Name = "renamed"
	got.Priority = 9
	if err := s.UpsertJob(ctx, got); err != nil {
		t.Fatalf("UpsertJob update: %v", err)
	}
	again, _ := s.GetJob(ctx, j.ID)
	if again.Name != "renamed" || again.Priority != 9 {
		t.Errorf("update not applied: %+v", again)
	}
	if !again.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", again.CreatedAt, created)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, cadence.ErrJobNotFound) {
		t.Fatalf("GetJob after delete = %v, want %v", err, cadence.ErrJobNotFound)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, cadence.ErrJobNotFound) {
		t.Fatalf("DeleteJob twice = %v, want %v", err, cadence.ErrJobNotFound)
	}
}

func TestGetJobReturnsCopy(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := dueJob("a", t0, job.WithTags("x"))
	_ = s.UpsertJob(ctx, j)
	j.Tags[0] = "mutated"

	got, _ := s.GetJob(ctx, j.ID)
	got.Tags[0] = "mutated-again"

	again, _ := s.GetJob(ctx, j.ID)
	if again.Tags[0] != "x" {
		t.Errorf("Tags[0] = %q, want %q", again.Tags[0], "x")
	}
}

func TestListAndCountJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	_ = s.UpsertJob(ctx, dueJob("c", t0, job.WithTags("etl")))
	_ = s.UpsertJob(ctx, dueJob("a", t0, job.WithTags("etl")))
	_ = s.UpsertJob(ctx, dueJob("b", t0, job.Disabled()))

	all, _ := s.ListJobs(ctx, job.ListFilter{})
	if len(all) != 3 || all[0].Name != "a" || all[2].Name != "c" {
		t.Fatalf("ListJobs order wrong: %v", names(all))
	}

	enabled := true
	got, _ := s.ListJobs(ctx, job.ListFilter{Enabled: &enabled})
	if len(got) != 2 {
		t.Errorf("enabled jobs = %d, want 2", len(got))
	}

	got, _ = s.ListJobs(ctx, job.ListFilter{Tag: "etl", Offset: 1, Limit: 5})
	if len(got) != 1 || got[0].Name != "c" {
		t.Errorf("tag page = %v, want [c]", names(got))
	}

	n, _ := s.CountJobs(ctx, job.ListFilter{Tag: "etl", Limit: 1})
	if n != 2 {
		t.Errorf("CountJobs = %d, want 2", n)
	}
}

func names(js []*job.Job) []string {
	out := make([]string, len(js))
	for i, j := range js {
		out[i] = j.Name
	}
	return out
}

func TestClaimDueJobs(t *testing.T) {
	t.Parallel()
	fake := clock.NewFake(t0)
	s := New(WithClock(fake))
	ctx := context.Background()

	early := dueJob("early", t0.Add(-2*time.Minute))
	late := dueJob("late", t0.Add(-time.Minute))
	future := dueJob("future", t0.Add(time.Minute))
	paused := dueJob("paused", t0.Add(-time.Minute), job.Disabled())
	for _, j := range []*job.Job{early, late, future, paused} {
		_ = s.UpsertJob(ctx, j)
	}

	claimed, err := s.ClaimDueJobs(ctx, t0, 10, "evl-1", 30*time.Second)
	if err != nil {
		t.Fatalf("ClaimDueJobs: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d jobs, want 2", len(claimed))
	}
	if claimed[0].ID != early.ID || claimed[1].ID != late.ID {
		t.Errorf("claim order = %v, want [early late]", names(claimed))
	}
	if claimed[0].ClaimToken == "" || claimed[0].ClaimedBy != "evl-1" {
		t.Errorf("claim fields not set: %+v", claimed[0])
	}

	again, _ := s.ClaimDueJobs(ctx, t0, 10, "evl-2", 30*time.Second)
	if len(again) != 0 {
		t.Fatalf("second claim got %d jobs, want 0", len(again))
	}
}

func TestClaimDueJobsConcurrent(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	_ = s.UpsertJob(ctx, dueJob("contended", time.Now().Add(-time.Second)))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := range 5 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := s.ClaimDueJobs(ctx, time.Now(), 10, id.NewEvaluatorID().String(), time.Minute)
			if err != nil {
				t.Errorf("evaluator %d: %v", i, err)
				return
			}
			mu.Lock()
			total += len(got)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if total != 1 {
		t.Fatalf("total claims = %d, want exactly 1", total)
	}
}

func TestClaimLifecycle(t *testing.T) {
	t.Parallel()
	fake := clock.NewFake(t0)
	s := New(WithClock(fake))
	ctx := context.Background()

	j := dueJob("a", t0)
	_ = s.UpsertJob(ctx, j)
	claimed, _ := s.ClaimDueJobs(ctx, t0, 1, "evl-1", 10*time.Second)
	token := claimed[0].ClaimToken

	if err := s.RenewClaim(ctx, j.ID, "wrong", time.Minute); !errors.Is(err, cadence.ErrLeaseConflict) {
		t.Fatalf("RenewClaim with wrong token = %v, want %v", err, cadence.ErrLeaseConflict)
	}
	if err := s.RenewClaim(ctx, j.ID, token, time.Minute); err != nil {
		t.Fatalf("RenewClaim: %v", err)
	}

	next := t0.Add(time.Minute)
	if err := s.ConfirmClaim(ctx, j.ID, token, t0, &next); err != nil {
		t.Fatalf("ConfirmClaim: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.ClaimToken != "" {
		t.Error("claim not released after confirm")
	}
	if got.LastFiredAt == nil || !got.LastFiredAt.Equal(t0) {
		t.Errorf("LastFiredAt = %v, want %v", got.LastFiredAt, t0)
	}
	if got.NextFireAt == nil || !got.NextFireAt.Equal(next) {
		t.Errorf("NextFireAt = %v, want %v", got.NextFireAt, next)
	}

	if err := s.ConfirmClaim(ctx, j.ID, token, t0, &next); !errors.Is(err, cadence.ErrLeaseConflict) {
		t.Fatalf("double confirm = %v, want %v", err, cadence.ErrLeaseConflict)
	}
}

func TestReapExpiredClaims(t *testing.T) {
	t.Parallel()
	fake := clock.NewFake(t0)
	s := New(WithClock(fake))
	ctx := context.Background()

	j := dueJob("a", t0)
	_ = s.UpsertJob(ctx, j)
	claimed, _ := s.ClaimDueJobs(ctx, t0, 1, "evl-1", 10*time.Second)

	if n, _ := s.ReapExpiredClaims(ctx, t0.Add(5*time.Second)); n != 0 {
		t.Fatalf("reaped %d live claims, want 0", n)
	}
	if n, _ := s.ReapExpiredClaims(ctx, t0.Add(10*time.Second)); n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}

	// The job is due again and the stale token is rejected.
	again, _ := s.ClaimDueJobs(ctx, t0, 1, "evl-2", 10*time.Second)
	if len(again) != 1 {
		t.Fatalf("reclaim got %d jobs, want 1", len(again))
	}
	if err := s.ConfirmClaim(ctx, j.ID, claimed[0].ClaimToken, t0, nil); !errors.Is(err, cadence.ErrLeaseConflict) {
		t.Fatalf("stale confirm = %v, want %v", err, cadence.ErrLeaseConflict)
	}
}

func TestJobSlots(t *testing.T) {
	t.Parallel()
	fake := clock.NewFake(t0)
	s := New(WithClock(fake))
	ctx := context.Background()
	j := dueJob("a", t0)

	if ok, err := s.AcquireSlot(ctx, j.ID, "occ-1", 10*time.Second); err != nil || !ok {
		t.Fatalf("AcquireSlot(occ-1) = %v, %v; want true", ok, err)
	}
	if ok, _ := s.AcquireSlot(ctx, j.ID, "occ-2", 10*time.Second); ok {
		t.Fatal("second holder acquired a held slot")
	}
	if ok, _ := s.AcquireSlot(ctx, j.ID, "occ-1", 10*time.Second); !ok {
		t.Fatal("holder could not re-acquire its own slot")
	}
	if err := s.RenewSlot(ctx, j.ID, "occ-2", time.Minute); !errors.Is(err, cadence.ErrLeaseConflict) {
		t.Fatalf("RenewSlot by non-holder = %v, want %v", err, cadence.ErrLeaseConflict)
	}

	// Releasing someone else's slot leaves it held.
	_ = s.ReleaseSlot(ctx, j.ID, "occ-2")
	if ok, _ := s.AcquireSlot(ctx, j.ID, "occ-2", 10*time.Second); ok {
		t.Fatal("foreign release freed the slot")
	}

	// An expired slot can be taken over.
	fake.Advance(10 * time.Second)
	if err := s.RenewSlot(ctx, j.ID, "occ-1", time.Minute); !errors.Is(err, cadence.ErrLeaseConflict) {
		t.Fatalf("RenewSlot after expiry = %v, want %v", err, cadence.ErrLeaseConflict)
	}
	if ok, _ := s.AcquireSlot(ctx, j.ID, "occ-2", 10*time.Second); !ok {
		t.Fatal("expired slot was not taken over")
	}

	if err := s.ReleaseSlot(ctx, j.ID, "occ-2"); err != nil {
		t.Fatalf("ReleaseSlot: %v", err)
	}
	if ok, _ := s.AcquireSlot(ctx, j.ID, "occ-3", 10*time.Second); !ok {
		t.Fatal("released slot was not free")
	}
}

func TestUpsertAndSetEnabledReleaseClaim(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := dueJob("a", time.Now().Add(-time.Second))
	_ = s.UpsertJob(ctx, j)
	claimed, _ := s.ClaimDueJobs(ctx, time.Now(), 1, "evl-1", time.Minute)

	if err := s.SetJobEnabled(ctx, j.ID, false, nil); err != nil {
		t.Fatalf("SetJobEnabled: %v", err)
	}
	if err := s.RenewClaim(ctx, j.ID, claimed[0].ClaimToken, time.Minute); !errors.Is(err, cadence.ErrLeaseConflict) {
		t.Fatalf("RenewClaim after pause = %v, want %v", err, cadence.ErrLeaseConflict)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Enabled || got.NextFireAt != nil {
		t.Errorf("pause not applied: enabled=%v next=%v", got.Enabled, got.NextFireAt)
	}
}

// ──────────────────────────────────────────────────
// Ledger tests
// ──────────────────────────────────────────────────

func attemptFor(j *job.Job, scheduled time.Time, number int, outcome run.Outcome) *run.Attempt {
	occ := run.NewOccurrence(j, scheduled, false)
	occ.Attempt = number
	a := occ.NewAttempt(scheduled)
	if outcome.Terminal() {
		a.Finish(outcome, run.ReasonNone, "", scheduled.Add(time.Second))
	} else {
		a.Outcome = outcome
	}
	return a
}

func TestAppendAndFinalize(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := dueJob("a", t0)

	a := attemptFor(j, t0, 1, run.OutcomeRunning)
	if err := s.AppendAttempt(ctx, a); err != nil {
		t.Fatalf("AppendAttempt: %v", err)
	}

	dup := attemptFor(j, t0, 1, run.OutcomeRunning)
	if err := s.AppendAttempt(ctx, dup); !errors.Is(err, cadence.ErrAttemptExists) {
		t.Fatalf("duplicate key = %v, want %v", err, cadence.ErrAttemptExists)
	}

	a.Finish(run.OutcomeSucceeded, run.ReasonNone, "", t0.Add(time.Second))
	if err := s.FinalizeAttempt(ctx, a); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}

	a.Finish(run.OutcomeFailed, run.ReasonWorkerFailure, "rewrite", t0.Add(2*time.Second))
	if err := s.FinalizeAttempt(ctx, a); !errors.Is(err, cadence.ErrAttemptFinalized) {
		t.Fatalf("second finalize = %v, want %v", err, cadence.ErrAttemptFinalized)
	}

	got, _ := s.GetAttempt(ctx, a.ID)
	if got.Outcome != run.OutcomeSucceeded {
		t.Errorf("Outcome = %q, want %q", got.Outcome, run.OutcomeSucceeded)
	}

	unknown := attemptFor(j, t0.Add(time.Hour), 1, run.OutcomeSucceeded)
	if err := s.FinalizeAttempt(ctx, unknown); !errors.Is(err, cadence.ErrRunNotFound) {
		t.Fatalf("finalize unknown = %v, want %v", err, cadence.ErrRunNotFound)
	}
}

func TestLatestFinalized(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := dueJob("a", t0)

	_ = s.AppendAttempt(ctx, attemptFor(j, t0.Add(-2*time.Hour), 1, run.OutcomeSucceeded))
	_ = s.AppendAttempt(ctx, attemptFor(j, t0.Add(-time.Hour), 1, run.OutcomeFailed))
	_ = s.AppendAttempt(ctx, attemptFor(j, t0.Add(-time.Hour), 2, run.OutcomeSucceeded))
	_ = s.AppendAttempt(ctx, attemptFor(j, t0.Add(-30*time.Minute), 1, run.OutcomeRunning))
	_ = s.AppendAttempt(ctx, attemptFor(j, t0.Add(-10*time.Minute), 1, run.OutcomeSkipped))

	got, err := s.LatestFinalized(ctx, j.ID, t0.Add(-3*time.Hour), t0.Add(-20*time.Minute))
	if err != nil {
		t.Fatalf("LatestFinalized: %v", err)
	}
	if got.Number != 2 || got.Outcome != run.OutcomeSucceeded {
		t.Errorf("latest = attempt %d %q, want attempt 2 succeeded", got.Number, got.Outcome)
	}

	got, err = s.LatestFinalized(ctx, j.ID, t0.Add(-3*time.Hour), t0)
	if err != nil {
		t.Fatalf("LatestFinalized: %v", err)
	}
	if got.Outcome != run.OutcomeSkipped {
		t.Errorf("latest = %q, want the skipped attempt", got.Outcome)
	}

	if _, err := s.LatestFinalized(ctx, j.ID, t0.Add(-5*time.Minute), t0); !errors.Is(err, cadence.ErrRunNotFound) {
		t.Fatalf("empty window = %v, want %v", err, cadence.ErrRunNotFound)
	}
}

func TestListAttempts(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	a, b := dueJob("a", t0), dueJob("b", t0)

	for i := range 4 {
		_ = s.AppendAttempt(ctx, attemptFor(a, t0.Add(time.Duration(i)*time.Hour), 1, run.OutcomeSucceeded))
	}
	_ = s.AppendAttempt(ctx, attemptFor(a, t0.Add(time.Hour), 2, run.OutcomeFailed))
	_ = s.AppendAttempt(ctx, attemptFor(b, t0, 1, run.OutcomeFailed))

	got, _ := s.ListAttempts(ctx, run.Query{JobID: a.ID})
	if len(got) != 5 {
		t.Fatalf("ListAttempts = %d, want 5", len(got))
	}
	if !got[0].ScheduledTime.Equal(t0.Add(3 * time.Hour)) {
		t.Errorf("first = %v, want newest", got[0].ScheduledTime)
	}

	got, _ = s.ListAttempts(ctx, run.Query{Outcomes: []run.Outcome{run.OutcomeFailed}})
	if len(got) != 2 {
		t.Errorf("failed attempts = %d, want 2", len(got))
	}

	got, _ = s.ListAttempts(ctx, run.Query{JobID: a.ID, From: t0.Add(time.Hour), To: t0.Add(2 * time.Hour), Limit: 2})
	if len(got) != 2 || !got[0].ScheduledTime.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("windowed page wrong: %d results", len(got))
	}
}
