package job_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/trigger"
)

func validJob(opts ...job.Option) *job.Job {
	return job.New("nightly-export", job.Task{Ref: "export"}, trigger.Cron("0 2 * * *"), opts...)
}

func TestNewDefaults(t *testing.T) {
	j := validJob()
	if j.ID.Prefix() != id.PrefixJob {
		t.Errorf("ID prefix = %q, want %q", j.ID.Prefix(), id.PrefixJob)
	}
	if !j.Enabled {
		t.Error("new job should be enabled")
	}
	if j.Priority != job.DefaultPriority {
		t.Errorf("Priority = %d, want %d", j.Priority, job.DefaultPriority)
	}
	if j.Concurrency != job.ConcurrencyAllow {
		t.Errorf("Concurrency = %q, want %q", j.Concurrency, job.ConcurrencyAllow)
	}
	if err := j.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	other := id.NewJobID()

	tests := []struct {
		name string
		job  *job.Job
		want error
	}{
		{"priority too low", validJob(job.WithPriority(0)), cadence.ErrInvalidPriority},
		{"priority too high", validJob(job.WithPriority(11)), cadence.ErrInvalidPriority},
		{"negative retries", validJob(job.WithMaxRetries(-1)), cadence.ErrInvalidJob},
		{"bad policy", validJob(job.WithConcurrency("sometimes")), cadence.ErrInvalidJob},
		{"bad catch-up", validJob(job.WithCatchUp("never")), cadence.ErrInvalidJob},
		{"duplicate dependency", validJob(
			job.WithDependency(other, time.Hour),
			job.WithDependency(other, 2*time.Hour),
		), cadence.ErrInvalidJob},
		{"missing task", job.New("x", job.Task{}, trigger.Every(time.Minute)), cadence.ErrInvalidJob},
		{"bad args", job.New("x", job.Task{Ref: "t", Args: json.RawMessage(`{`)}, trigger.Every(time.Minute)), cadence.ErrInvalidJob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.job.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateSelfDependency(t *testing.T) {
	j := validJob()
	j.Dependencies = []job.Dependency{{JobID: j.ID}}
	if err := j.Validate(); !errors.Is(err, cadence.ErrDependencyCycle) {
		t.Fatalf("Validate() = %v, want %v", err, cadence.ErrDependencyCycle)
	}
}

func TestCloneIsDeep(t *testing.T) {
	next := time.Date(2026, 10, 14, 2, 0, 0, 0, time.UTC)
	j := validJob(job.WithTags("etl"), job.WithDependency(id.NewJobID(), 0))
	j.NextFireAt = &next

	cp := j.Clone()
	cp.Tags[0] = "changed"
	*cp.NextFireAt = next.Add(time.Hour)

	if j.Tags[0] != "etl" {
		t.Errorf("Tags[0] = %q, want %q", j.Tags[0], "etl")
	}
	if !j.NextFireAt.Equal(next) {
		t.Errorf("NextFireAt = %v, want %v", j.NextFireAt, next)
	}
	if got := cp.Dependencies[0].EffectiveWindow(); got != job.DefaultDependencyWindow {
		t.Errorf("EffectiveWindow() = %v, want %v", got, job.DefaultDependencyWindow)
	}
}

func TestCatchUpPolicy(t *testing.T) {
	j := validJob()
	if got := j.CatchUpPolicy(cadence.CatchUpLatest); got != cadence.CatchUpLatest {
		t.Errorf("CatchUpPolicy() = %q, want %q", got, cadence.CatchUpLatest)
	}
	j.CatchUp = cadence.CatchUpAll
	if got := j.CatchUpPolicy(cadence.CatchUpLatest); got != cadence.CatchUpAll {
		t.Errorf("CatchUpPolicy() = %q, want %q", got, cadence.CatchUpAll)
	}
}
