package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/cadence/job"
)

type reportArgs struct {
	Region string `json:"region"`
	Format string `json:"format"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var got reportArgs
	def := job.NewDefinition("reports.daily", func(_ context.Context, a reportArgs) error {
		got = a
		return nil
	})

	job.RegisterDefinition(r, def)

	h, ok := r.Get("reports.daily")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	args, _ := json.Marshal(reportArgs{Region: "eu-west", Format: "pdf"})
	if err := h(context.Background(), args); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Region != "eu-west" {
		t.Errorf("Region = %q, want %q", got.Region, "eu-west")
	}
	if got.Format != "pdf" {
		t.Errorf("Format = %q, want %q", got.Format, "pdf")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected no handler for unregistered task")
	}
	if r.Has("nonexistent") {
		t.Fatal("Has() = true for unregistered task")
	}
}

func TestRegistry_Refs(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("task-c", func(_ context.Context, _ struct{}) error { return nil }))
	job.RegisterDefinition(r, job.NewDefinition("task-a", func(_ context.Context, _ struct{}) error { return nil }))
	r.Register("task-b", func(_ context.Context, _ []byte) error { return nil })

	refs := r.Refs()
	expected := []string{"task-a", "task-b", "task-c"}
	if len(refs) != len(expected) {
		t.Fatalf("expected %d refs, got %d", len(expected), len(refs))
	}
	for i, want := range expected {
		if refs[i] != want {
			t.Errorf("refs[%d] = %q, want %q", i, refs[i], want)
		}
	}
}

func TestRegistry_InvalidJSON(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("typed-task", func(_ context.Context, _ reportArgs) error {
		t.Fatal("handler should not be called with invalid JSON")
		return nil
	}))

	h, _ := r.Get("typed-task")
	if err := h(context.Background(), []byte(`{invalid json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRegistry_EmptyArgs(t *testing.T) {
	r := job.NewRegistry()
	called := false
	job.RegisterDefinition(r, job.NewDefinition("no-args", func(_ context.Context, _ struct{}) error {
		called = true
		return nil
	}))

	h, _ := r.Get("no-args")
	if err := h(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty arguments")
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	want := errors.New("handler failed")
	job.RegisterDefinition(r, job.NewDefinition("failing", func(_ context.Context, _ struct{}) error {
		return want
	}))

	h, _ := r.Get("failing")
	if err := h(context.Background(), nil); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRegistry_OverwriteHandler(t *testing.T) {
	r := job.NewRegistry()

	job.RegisterDefinition(r, job.NewDefinition("overwrite", func(_ context.Context, _ struct{}) error {
		return errors.New("old")
	}))
	job.RegisterDefinition(r, job.NewDefinition("overwrite", func(_ context.Context, _ struct{}) error {
		return errors.New("new")
	}))

	h, _ := r.Get("overwrite")
	err := h(context.Background(), nil)
	if err == nil || err.Error() != "new" {
		t.Fatalf("expected 'new' error, got %v", err)
	}
}
