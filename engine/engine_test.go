package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/clock"
	"github.com/xraph/cadence/engine"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/store/memory"
	"github.com/xraph/cadence/trigger"
)

var t0 = time.Date(2026, 10, 14, 6, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type reportArgs struct {
	Day string `json:"day"`
}

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	s, err := cadence.New(
		cadence.WithStore(memory.New()),
		cadence.WithConcurrency(2),
		cadence.WithPollInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("cadence.New: %v", err)
	}
	eng, err := engine.Build(s, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	eng.RegisterTask("report", func(context.Context, []byte) error { return nil })
	return eng
}

func startEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hourly(name string, opts ...job.Option) *job.Job {
	return job.New(name, job.Task{Ref: "report"}, trigger.Every(time.Hour), opts...)
}

// pauseRecorder records job pause and resume hooks.
type pauseRecorder struct {
	mu      sync.Mutex
	paused  []string
	resumed []string
}

func (r *pauseRecorder) Name() string { return "pause-recorder" }

func (r *pauseRecorder) OnJobPaused(_ context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = append(r.paused, j.Name)
	return nil
}

func (r *pauseRecorder) OnJobResumed(_ context.Context, j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumed = append(r.resumed, j.Name)
	return nil
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_RequiresStore(t *testing.T) {
	s, err := cadence.New()
	if err != nil {
		t.Fatalf("cadence.New: %v", err)
	}
	if _, err := engine.Build(s); !errors.Is(err, cadence.ErrNoStore) {
		t.Fatalf("Build error = %v, want ErrNoStore", err)
	}
}

func TestBuild_EvaluatorsFromConfig(t *testing.T) {
	s, err := cadence.New(
		cadence.WithStore(memory.New()),
		cadence.WithEvaluators(3),
	)
	if err != nil {
		t.Fatalf("cadence.New: %v", err)
	}
	eng, err := engine.Build(s)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := len(eng.Evaluators()); got != 3 {
		t.Errorf("evaluators = %d, want 3", got)
	}
	if eng.Limits() != nil {
		t.Error("Limits() should be nil without task limits")
	}
}

// ──────────────────────────────────────────────────
// Job definitions
// ──────────────────────────────────────────────────

func TestCreateJob_ComputesNextFire(t *testing.T) {
	fc := clock.NewFake(t0.Add(10 * time.Minute))
	eng := newEngine(t, engine.WithClock(fc))

	j, err := eng.CreateJob(context.Background(), job.New("daily", job.Task{Ref: "report"},
		trigger.Cron("0 9 * * *"), job.WithTimezone("Europe/Berlin")))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if j.NextFireAt == nil {
		t.Fatal("NextFireAt is nil")
	}
	// 09:00 in Berlin (CEST) is 07:00 UTC.
	want := time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)
	if !j.NextFireAt.Equal(want) {
		t.Errorf("NextFireAt = %v, want %v", j.NextFireAt, want)
	}

	stored, err := eng.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !stored.NextFireAt.Equal(want) {
		t.Errorf("stored NextFireAt = %v, want %v", stored.NextFireAt, want)
	}
}

func TestCreateJob_Validation(t *testing.T) {
	fc := clock.NewFake(t0)
	eng := newEngine(t, engine.WithClock(fc))
	ctx := context.Background()

	tests := []struct {
		name string
		job  *job.Job
		want error
	}{
		{"unknown task", job.New("x", job.Task{Ref: "nope"}, trigger.Every(time.Hour)), cadence.ErrUnknownTask},
		{"priority too high", hourly("x", job.WithPriority(11)), cadence.ErrInvalidPriority},
		{"priority zero", hourly("x", job.WithPriority(0)), cadence.ErrInvalidPriority},
		{"bad cron", job.New("x", job.Task{Ref: "report"}, trigger.Cron("61 * * * *")), cadence.ErrInvalidSchedule},
		{"bad timezone", hourly("x", job.WithTimezone("Mars/Olympus")), cadence.ErrInvalidTimezone},
		{"date in the past", job.New("x", job.Task{Ref: "report"}, trigger.Once(t0.Add(-time.Hour))), cadence.ErrScheduleUnsatisfiable},
		{"missing name", job.New("", job.Task{Ref: "report"}, trigger.Every(time.Hour)), cadence.ErrInvalidJob},
		{"missing upstream", hourly("x", job.WithDependency(hourly("ghost").ID, 0)), cadence.ErrJobNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.CreateJob(ctx, tt.job)
			if !errors.Is(err, tt.want) {
				t.Errorf("CreateJob error = %v, want %v", err, tt.want)
			}
		})
	}

	j, err := eng.CreateJob(ctx, hourly("ok"))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := eng.CreateJob(ctx, j); !errors.Is(err, cadence.ErrInvalidJob) {
		t.Errorf("duplicate CreateJob error = %v, want ErrInvalidJob", err)
	}
}

func TestUpdateJob_RejectsCycle(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	a, err := eng.CreateJob(ctx, hourly("a"))
	if err != nil {
		t.Fatalf("CreateJob a: %v", err)
	}
	b, err := eng.CreateJob(ctx, hourly("b", job.WithDependency(a.ID, 0)))
	if err != nil {
		t.Fatalf("CreateJob b: %v", err)
	}
	c, err := eng.CreateJob(ctx, hourly("c", job.WithDependency(b.ID, 0)))
	if err != nil {
		t.Fatalf("CreateJob c: %v", err)
	}

	a.Dependencies = []job.Dependency{{JobID: c.ID}}
	if _, err := eng.UpdateJob(ctx, a); !errors.Is(err, cadence.ErrDependencyCycle) {
		t.Fatalf("UpdateJob error = %v, want ErrDependencyCycle", err)
	}

	if err := eng.DeleteJob(ctx, a.ID); !errors.Is(err, cadence.ErrInvalidJob) {
		t.Errorf("DeleteJob of upstream error = %v, want ErrInvalidJob", err)
	}
	if err := eng.DeleteJob(ctx, c.ID); err != nil {
		t.Errorf("DeleteJob leaf: %v", err)
	}
	if _, err := eng.GetJob(ctx, c.ID); !errors.Is(err, cadence.ErrJobNotFound) {
		t.Errorf("GetJob after delete error = %v, want ErrJobNotFound", err)
	}
}

func TestUpdateJob_PreservesCreatedAt(t *testing.T) {
	fc := clock.NewFake(t0)
	eng := newEngine(t, engine.WithClock(fc))
	ctx := context.Background()

	j, err := eng.CreateJob(ctx, hourly("report"))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	fc.Advance(90 * time.Minute)
	j.Priority = 9
	j.Schedule = trigger.Every(2 * time.Hour)
	updated, err := eng.UpdateJob(ctx, j)
	if err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if !updated.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", updated.CreatedAt, t0)
	}
	if updated.Priority != 9 {
		t.Errorf("Priority = %d, want 9", updated.Priority)
	}
	if !updated.NextFireAt.After(fc.Now()) {
		t.Errorf("NextFireAt %v not after now %v", updated.NextFireAt, fc.Now())
	}
}

func TestPauseResume(t *testing.T) {
	fc := clock.NewFake(t0)
	rec := &pauseRecorder{}
	eng := newEngine(t, engine.WithClock(fc), engine.WithExtension(rec))
	ctx := context.Background()

	j, err := eng.CreateJob(ctx, hourly("report"))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	paused, err := eng.PauseJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	if paused.Enabled || paused.NextFireAt != nil {
		t.Errorf("paused job: enabled=%v next=%v", paused.Enabled, paused.NextFireAt)
	}

	fc.Advance(5 * time.Hour)
	resumed, err := eng.ResumeJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	if !resumed.Enabled || resumed.NextFireAt == nil {
		t.Fatalf("resumed job: enabled=%v next=%v", resumed.Enabled, resumed.NextFireAt)
	}
	if !resumed.NextFireAt.After(fc.Now()) {
		t.Errorf("NextFireAt %v should be after resume time %v", resumed.NextFireAt, fc.Now())
	}

	enabled := false
	jobs, total, err := eng.ListJobs(ctx, job.ListFilter{Enabled: &enabled})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 0 || total != 0 {
		t.Errorf("disabled jobs = %d (total %d), want 0", len(jobs), total)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.paused) != 1 || len(rec.resumed) != 1 {
		t.Errorf("hooks: paused=%v resumed=%v", rec.paused, rec.resumed)
	}
}

// ──────────────────────────────────────────────────
// Schedules
// ──────────────────────────────────────────────────

func TestPreviewSchedule(t *testing.T) {
	fc := clock.NewFake(t0.Add(time.Minute))
	eng := newEngine(t, engine.WithClock(fc))

	times, err := eng.PreviewSchedule(trigger.Cron("0 */6 * * *"), "UTC", 4, time.Time{})
	if err != nil {
		t.Fatalf("PreviewSchedule: %v", err)
	}
	want := []time.Time{
		t0.Add(6 * time.Hour),
		t0.Add(12 * time.Hour),
		t0.Add(18 * time.Hour),
		t0.Add(24 * time.Hour),
	}
	if len(times) != len(want) {
		t.Fatalf("got %d times, want %d", len(times), len(want))
	}
	for i := range want {
		if !times[i].Equal(want[i]) {
			t.Errorf("times[%d] = %v, want %v", i, times[i], want[i])
		}
	}

	if err := eng.ValidateSchedule(trigger.Cron("not a cron"), "UTC"); !errors.Is(err, cadence.ErrInvalidSchedule) {
		t.Errorf("ValidateSchedule error = %v, want ErrInvalidSchedule", err)
	}
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

func TestExecuteNow_EndToEnd(t *testing.T) {
	var (
		calls atomic.Int32
		got   atomic.Value
	)
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("report.daily", func(_ context.Context, args reportArgs) error {
		got.Store(args.Day)
		calls.Add(1)
		return nil
	}))
	startEngine(t, eng)
	ctx := context.Background()

	j := job.New("daily", job.Task{Ref: "report.daily", Args: []byte(`{"day":"2026-10-14"}`)}, trigger.Cron("0 9 * * *"))
	if _, err := eng.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	occ, err := eng.ExecuteNow(ctx, j.ID)
	if err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if !occ.Manual {
		t.Error("manual occurrence not flagged")
	}

	waitFor(t, "manual run to succeed", func() bool {
		attempts, err := eng.History(ctx, run.Query{JobID: j.ID})
		return err == nil && len(attempts) == 1 && attempts[0].Outcome == run.OutcomeSucceeded
	})
	if calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", calls.Load())
	}
	if got.Load() != "2026-10-14" {
		t.Errorf("args.Day = %v, want 2026-10-14", got.Load())
	}

	stats, err := eng.JobStats(ctx, j.ID, 0)
	if err != nil {
		t.Fatalf("JobStats: %v", err)
	}
	if stats.Total != 1 || stats.Succeeded != 1 || stats.SuccessRate != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestScheduledRun_EndToEnd(t *testing.T) {
	done := make(chan struct{}, 1)
	eng := newEngine(t)
	eng.RegisterTask("once", func(context.Context, []byte) error {
		done <- struct{}{}
		return nil
	})
	startEngine(t, eng)

	j := job.New("once", job.Task{Ref: "once"}, trigger.Once(time.Now().Add(100*time.Millisecond)))
	if _, err := eng.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not run")
	}

	waitFor(t, "schedule to be exhausted", func() bool {
		stored, err := eng.GetJob(context.Background(), j.ID)
		return err == nil && stored.NextFireAt == nil && stored.LastFiredAt != nil
	})
}

func TestCancelRun(t *testing.T) {
	started := make(chan struct{})
	eng := newEngine(t)
	eng.RegisterTask("block", func(ctx context.Context, _ []byte) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	startEngine(t, eng)
	ctx := context.Background()

	j, err := eng.CreateJob(ctx, job.New("block", job.Task{Ref: "block"}, trigger.Every(time.Hour)))
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := eng.ExecuteNow(ctx, j.ID); err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	<-started

	active := eng.ActiveRuns()
	if len(active) != 1 {
		t.Fatalf("active runs = %d, want 1", len(active))
	}
	if err := eng.CancelRun(ctx, active[0].ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	waitFor(t, "run to be cancelled", func() bool {
		a, err := eng.GetRun(ctx, active[0].ID)
		return err == nil && a.Outcome == run.OutcomeCancelled
	})

	if err := eng.CancelRun(ctx, active[0].ID); !errors.Is(err, cadence.ErrRunNotActive) {
		t.Errorf("second CancelRun error = %v, want ErrRunNotActive", err)
	}
	if err := eng.CancelRun(ctx, id.NewRunID()); !errors.Is(err, cadence.ErrRunNotFound) {
		t.Errorf("CancelRun unknown error = %v, want ErrRunNotFound", err)
	}
}

func TestQueueStats(t *testing.T) {
	eng := newEngine(t)
	stats := eng.QueueStats()
	if stats.Concurrency != 2 {
		t.Errorf("Concurrency = %d, want 2", stats.Concurrency)
	}
	if stats.Queue.Depth != 0 || stats.Active != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}
}
