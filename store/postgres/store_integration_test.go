//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CADENCE_PG_DSN")
	if dsn == "" {
		t.Skip("CADENCE_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := s.Pool().Exec(ctx, `TRUNCATE cadence_jobs, cadence_attempts, cadence_job_slots`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func dueJob(name string, next time.Time, opts ...job.Option) *job.Job {
	j := job.New(name, job.Task{Ref: "noop", Args: []byte(`{"n":1}`)}, trigger.Every(time.Minute), opts...)
	j.NextFireAt = &next
	return j
}

func TestIntegrationJobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	dep := id.NewJobID()
	j := dueJob("nightly", now, job.WithTags("etl"), job.WithDependency(dep, time.Hour),
		job.WithConcurrency(job.ConcurrencyQueue), job.WithTimeout(time.Minute))
	if err := s.UpsertJob(ctx, j); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Schedule.Interval != time.Minute || got.Concurrency != job.ConcurrencyQueue || got.Timeout != time.Minute {
		t.Errorf("definition not preserved: %+v", got)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0].JobID != dep {
		t.Errorf("Dependencies = %+v", got.Dependencies)
	}
	if string(got.Task.Args) != `{"n": 1}` && string(got.Task.Args) != `{"n":1}` {
		t.Errorf("Task.Args = %s", got.Task.Args)
	}

	tag := "etl"
	n, err := s.CountJobs(ctx, job.ListFilter{Tag: tag})
	if err != nil || n != 1 {
		t.Errorf("CountJobs(tag) = %d, %v; want 1", n, err)
	}
	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, cadence.ErrJobNotFound) {
		t.Errorf("GetJob after delete = %v, want ErrJobNotFound", err)
	}
}

func TestIntegrationConcurrentClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 30 {
		if err := s.UpsertJob(ctx, dueJob("job", now.Add(-time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("UpsertJob: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[id.JobID]int)
		wg   sync.WaitGroup
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobs, err := s.ClaimDueJobs(ctx, now, 10, "ev", time.Minute)
			if err != nil {
				t.Errorf("ClaimDueJobs: %v", err)
				return
			}
			mu.Lock()
			for _, j := range jobs {
				seen[j.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 30 {
		t.Errorf("claimed %d distinct jobs, want 30", len(seen))
	}
	for jID, n := range seen {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jID, n)
		}
	}
}

func TestIntegrationLeaseConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := dueJob("a", now.Add(-time.Minute))
	if err := s.UpsertJob(ctx, j); err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}
	claimed, err := s.ClaimDueJobs(ctx, now, 1, "ev-1", time.Millisecond)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimDueJobs = %d, %v", len(claimed), err)
	}

	reaped, err := s.ReapExpiredClaims(ctx, now.Add(time.Minute))
	if err != nil || reaped != 1 {
		t.Fatalf("ReapExpiredClaims = %d, %v; want 1", reaped, err)
	}
	next := now.Add(time.Hour)
	err = s.ConfirmClaim(ctx, j.ID, claimed[0].ClaimToken, now, &next)
	if !errors.Is(err, cadence.ErrLeaseConflict) {
		t.Errorf("ConfirmClaim after reap = %v, want ErrLeaseConflict", err)
	}
	err = s.RenewClaim(ctx, id.NewJobID(), "x", time.Minute)
	if !errors.Is(err, cadence.ErrJobNotFound) {
		t.Errorf("RenewClaim unknown job = %v, want ErrJobNotFound", err)
	}
}

func TestIntegrationLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := dueJob("a", time.Now())
	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

	occ := run.NewOccurrence(j, at, false)
	first := occ.NewAttempt(at)
	first.Start("w-1", at)
	if err := s.AppendAttempt(ctx, first); err != nil {
		t.Fatalf("AppendAttempt: %v", err)
	}
	if err := s.AppendAttempt(ctx, occ.NewAttempt(at)); !errors.Is(err, cadence.ErrAttemptExists) {
		t.Errorf("duplicate AppendAttempt = %v, want ErrAttemptExists", err)
	}
	first.Finish(run.OutcomeFailed, run.ReasonWorkerFailure, "boom", at.Add(time.Second))
	if err := s.FinalizeAttempt(ctx, first); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}
	if err := s.FinalizeAttempt(ctx, first); !errors.Is(err, cadence.ErrAttemptFinalized) {
		t.Errorf("second FinalizeAttempt = %v, want ErrAttemptFinalized", err)
	}

	retry := occ.Retry(at.Add(time.Minute)).NewAttempt(at.Add(time.Minute))
	retry.Finish(run.OutcomeSucceeded, run.ReasonNone, "", at.Add(2*time.Minute))
	if err := s.AppendAttempt(ctx, retry); err != nil {
		t.Fatalf("AppendAttempt retry: %v", err)
	}

	latest, err := s.LatestFinalized(ctx, j.ID, at.Add(-time.Hour), at)
	if err != nil {
		t.Fatalf("LatestFinalized: %v", err)
	}
	if latest.ID != retry.ID {
		t.Errorf("LatestFinalized = attempt %d, want the retry", latest.Number)
	}

	failed, err := s.ListAttempts(ctx, run.Query{JobID: j.ID, Outcomes: []run.Outcome{run.OutcomeFailed}})
	if err != nil || len(failed) != 1 || failed[0].Error != "boom" {
		t.Fatalf("ListAttempts(failed) = %+v, %v", failed, err)
	}
}

func TestIntegrationJobSlots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jobID := id.NewJobID()

	const holders = 8
	var (
		wg  sync.WaitGroup
		won = make(chan string, holders)
	)
	for range holders {
		wg.Add(1)
		go func(holder string) {
			defer wg.Done()
			ok, err := s.AcquireSlot(ctx, jobID, holder, time.Minute)
			if err != nil {
				t.Errorf("AcquireSlot: %v", err)
				return
			}
			if ok {
				won <- holder
			}
		}(id.NewOccurrenceID().String())
	}
	wg.Wait()
	close(won)

	var winners []string
	for h := range won {
		winners = append(winners, h)
	}
	if len(winners) != 1 {
		t.Fatalf("%d holders acquired the slot, want 1", len(winners))
	}
	owner := winners[0]

	if err := s.RenewSlot(ctx, jobID, "someone-else", time.Minute); !errors.Is(err, cadence.ErrLeaseConflict) {
		t.Errorf("RenewSlot by non-holder = %v, want ErrLeaseConflict", err)
	}
	if err := s.RenewSlot(ctx, jobID, owner, time.Minute); err != nil {
		t.Errorf("RenewSlot: %v", err)
	}
	if err := s.ReleaseSlot(ctx, jobID, owner); err != nil {
		t.Fatalf("ReleaseSlot: %v", err)
	}
	if ok, err := s.AcquireSlot(ctx, jobID, "next", -time.Second); err != nil || !ok {
		t.Fatalf("AcquireSlot after release = %v, %v", ok, err)
	}
	// A slot whose expiry has passed can be taken over.
	if ok, err := s.AcquireSlot(ctx, jobID, "after", time.Minute); err != nil || !ok {
		t.Fatalf("AcquireSlot over expired slot = %v, %v", ok, err)
	}
}
