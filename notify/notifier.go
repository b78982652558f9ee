package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/clock"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Notifier)(nil)
	_ ext.RunSucceeded = (*Notifier)(nil)
	_ ext.RunFailed    = (*Notifier)(nil)
	_ ext.RunRetrying  = (*Notifier)(nil)
	_ ext.RunSkipped   = (*Notifier)(nil)
	_ ext.RunCancelled = (*Notifier)(nil)
	_ ext.JobPaused    = (*Notifier)(nil)
	_ ext.JobResumed   = (*Notifier)(nil)
	_ cadence.Runner   = (*Notifier)(nil)
)

// Notifier is an extension that forwards lifecycle events to a Transport
// asynchronously. Call Start before events flow and Stop on shutdown.
type Notifier struct {
	transport   Transport
	enabled     map[string]bool
	bufSize     int
	sendTimeout time.Duration
	logger      *slog.Logger
	clock       clock.Clock

	mu      sync.RWMutex
	queue   chan *Notification
	stopped bool
	done    chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// New creates a Notifier delivering through t.
func New(t Transport, opts ...Option) *Notifier {
	n := &Notifier{
		transport:   t,
		bufSize:     256,
		sendTimeout: 5 * time.Second,
		logger:      slog.Default(),
		clock:       clock.Real(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.enabled == nil {
		WithEvents(DefaultEvents...)(n)
	}
	n.queue = make(chan *Notification, n.bufSize)
	return n
}

// Name implements ext.Extension.
func (n *Notifier) Name() string { return "notify" }

// Start launches the delivery goroutine.
func (n *Notifier) Start(_ context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.done != nil {
		return nil
	}
	n.done = make(chan struct{})
	go n.deliver()
	return nil
}

// Stop stops accepting notifications and waits for the buffered ones to be
// delivered, or for ctx to end.
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.stopped || n.done == nil {
		n.stopped = true
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	close(n.queue)
	done := n.done
	n.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent returns the number of notifications delivered successfully.
func (n *Notifier) Sent() uint64 { return n.sent.Load() }

// Dropped returns the number of notifications discarded because the buffer
// was full or the notifier was stopped.
func (n *Notifier) Dropped() uint64 { return n.dropped.Load() }

func (n *Notifier) deliver() {
	defer close(n.done)
	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.sendTimeout)
		err := n.transport.Send(ctx, msg)
		cancel()
		if err != nil {
			n.logger.Warn("notification delivery failed",
				slog.String("type", msg.Type),
				slog.String("job_id", msg.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.sent.Add(1)
	}
}

// enqueue never blocks.
func (n *Notifier) enqueue(msg *Notification) {
	if !n.enabled[msg.Type] {
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		n.dropped.Add(1)
		return
	}
	select {
	case n.queue <- msg:
	default:
		n.dropped.Add(1)
		n.logger.Warn("notification dropped",
			slog.String("type", msg.Type),
			slog.String("job_id", msg.JobID),
			slog.Int("buffer", n.bufSize),
		)
	}
}

func (n *Notifier) now() time.Time { return n.clock.Now().UTC() }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunSucceeded implements ext.RunSucceeded.
func (n *Notifier) OnRunSucceeded(_ context.Context, a *run.Attempt, elapsed time.Duration) error {
	msg := fromAttempt(EventRunSucceeded, a, n.now())
	msg.ElapsedMs = elapsed.Milliseconds()
	n.enqueue(msg)
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (n *Notifier) OnRunFailed(_ context.Context, a *run.Attempt, runErr error) error {
	msg := fromAttempt(EventRunFailed, a, n.now())
	if msg.Error == "" && runErr != nil {
		msg.Error = runErr.Error()
	}
	n.enqueue(msg)
	return nil
}

// OnRunRetrying implements ext.RunRetrying.
func (n *Notifier) OnRunRetrying(_ context.Context, a *run.Attempt, nextAt time.Time) error {
	msg := fromAttempt(EventRunRetrying, a, n.now())
	msg.NextAttemptAt = &nextAt
	n.enqueue(msg)
	return nil
}

// OnRunSkipped implements ext.RunSkipped.
func (n *Notifier) OnRunSkipped(_ context.Context, a *run.Attempt) error {
	n.enqueue(fromAttempt(EventRunSkipped, a, n.now()))
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (n *Notifier) OnRunCancelled(_ context.Context, a *run.Attempt) error {
	n.enqueue(fromAttempt(EventRunCancelled, a, n.now()))
	return nil
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobPaused implements ext.JobPaused.
func (n *Notifier) OnJobPaused(_ context.Context, j *job.Job) error {
	n.enqueue(fromJob(EventJobPaused, j, n.now()))
	return nil
}

// OnJobResumed implements ext.JobResumed.
func (n *Notifier) OnJobResumed(_ context.Context, j *job.Job) error {
	n.enqueue(fromJob(EventJobResumed, j, n.now()))
	return nil
}
