package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/middleware"
	"github.com/xraph/cadence/run"
)

// Result is what a backend reports for one attempt.
type Result struct {
	// Output is an optional result payload stored with the attempt.
	Output []byte
	// Err is nil on success.
	Err error
	// Partial marks a failure after some of the work was done.
	Partial bool
}

// Backend executes task bodies. Execute must honour ctx cancellation; a
// backend that ignores it is abandoned after the cancel grace period.
type Backend interface {
	Execute(ctx context.Context, occ *run.Occurrence) Result
}

// TaskResolver is implemented by backends that can tell at definition time
// whether a task reference is known.
type TaskResolver interface {
	Has(ref string) bool
}

// BackendFunc adapts a function to a Backend.
type BackendFunc func(ctx context.Context, occ *run.Occurrence) Result

// Execute calls f.
func (f BackendFunc) Execute(ctx context.Context, occ *run.Occurrence) Result { return f(ctx, occ) }

// ──────────────────────────────────────────────────
// Local backend
// ──────────────────────────────────────────────────

// LocalBackend runs registered handlers in-process through middleware.
type LocalBackend struct {
	registry *job.Registry
	mw       middleware.Middleware
	logger   *slog.Logger
}

var (
	_ Backend      = (*LocalBackend)(nil)
	_ TaskResolver = (*LocalBackend)(nil)
)

// NewLocalBackend creates a backend over registry. Middleware apply in the
// order given, the first being outermost.
func NewLocalBackend(registry *job.Registry, logger *slog.Logger, mws ...middleware.Middleware) *LocalBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalBackend{
		registry: registry,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Has reports whether ref has a registered handler.
func (b *LocalBackend) Has(ref string) bool { return b.registry.Has(ref) }

// Execute looks up the task handler and runs it with the job's arguments.
func (b *LocalBackend) Execute(ctx context.Context, occ *run.Occurrence) Result {
	ref := occ.Job.Task.Ref
	handler, ok := b.registry.Get(ref)
	if !ok {
		return Result{Err: fmt.Errorf("%w: %q", cadence.ErrUnknownTask, ref)}
	}

	rep := &reporter{}
	ctx = context.WithValue(ctx, reporterKey{}, rep)

	err := b.mw(ctx, occ, func(ctx context.Context) error {
		return handler(ctx, occ.Job.Task.Args)
	})

	out, partial := rep.snapshot()
	return Result{Output: out, Err: err, Partial: partial}
}

// ──────────────────────────────────────────────────
// Result reporting
// ──────────────────────────────────────────────────

type reporterKey struct{}

type reporter struct {
	mu      sync.Mutex
	output  []byte
	partial bool
}

func (r *reporter) snapshot() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.output), r.partial
}

// ReportResult stores data as the attempt's result payload. It reports
// false when ctx does not belong to a LocalBackend attempt.
func ReportResult(ctx context.Context, data []byte) bool {
	rep, ok := ctx.Value(reporterKey{}).(*reporter)
	if !ok {
		return false
	}
	rep.mu.Lock()
	rep.output = slices.Clone(data)
	rep.mu.Unlock()
	return true
}

// ReportPartial marks a failing attempt as a partial failure.
func ReportPartial(ctx context.Context) bool {
	rep, ok := ctx.Value(reporterKey{}).(*reporter)
	if !ok {
		return false
	}
	rep.mu.Lock()
	rep.partial = true
	rep.mu.Unlock()
	return true
}
