package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/clock"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/queue"
	"github.com/xraph/cadence/retry"
	"github.com/xraph/cadence/run"
)

var _ cadence.Runner = (*Coordinator)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency sets the number of worker slots.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCancelGrace sets how long a cancelled or timed out attempt may take
// to return before it is force-finalized.
func WithCancelGrace(d time.Duration) Option {
	return func(c *Coordinator) { c.cancelGrace = d }
}

// WithQueueCapacity bounds the dispatch queue.
func WithQueueCapacity(n int) Option {
	return func(c *Coordinator) { c.capacity = n }
}

// WithIntakeBuffer sets the capacity of the intake channel.
func WithIntakeBuffer(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.intakeBuf = n
		}
	}
}

// WithRetry sets the retry controller.
func WithRetry(r *retry.Controller) Option {
	return func(c *Coordinator) { c.retry = r }
}

// WithLimits sets per-task rate and concurrency limits.
func WithLimits(m *queue.Manager) Option {
	return func(c *Coordinator) { c.limits = m }
}

// WithLimitDelay sets how long an occurrence denied by the limits waits
// before it is queued again.
func WithLimitDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.limitDelay = d }
}

// WithSlots sets the shared store that guards skip and queue policy jobs
// across processes. By default the ledger is used when it implements
// job.Slots.
func WithSlots(sl job.Slots) Option {
	return func(c *Coordinator) { c.slots = sl }
}

// WithSlotTTL sets how long a shared job slot lives without renewal.
func WithSlotTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.slotTTL = d
		}
	}
}

// WithSlotRetry sets how long a queue policy occurrence waits before it
// tries again for a slot owned by another process.
func WithSlotRetry(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.slotRetry = d
		}
	}
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Coordinator) { c.exts = r }
}

// WithClock sets the clock for timestamps, timeouts and retry timers.
func WithClock(cl clock.Clock) Option {
	return func(c *Coordinator) { c.clock = cl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithWorkerID sets the identity recorded on attempts.
func WithWorkerID(w id.WorkerID) Option {
	return func(c *Coordinator) { c.workerID = w }
}

// ──────────────────────────────────────────────────
// Coordinator
// ──────────────────────────────────────────────────

// Coordinator owns the dispatch queue and the worker slots of one process.
type Coordinator struct {
	ledger   run.Ledger
	slots    job.Slots
	backend  Backend
	retry    *retry.Controller
	limits   *queue.Manager
	queue    *queue.Dispatch
	exts     *ext.Registry
	clock    clock.Clock
	logger   *slog.Logger
	workerID id.WorkerID

	concurrency int
	cancelGrace time.Duration
	limitDelay  time.Duration
	slotTTL     time.Duration
	slotRetry   time.Duration
	capacity    int
	intakeBuf   int

	intake  chan *run.Occurrence
	stopCh  chan struct{}
	workers sync.WaitGroup
	loops   sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool
	owners  map[id.JobID]*jobSlot
	active  map[id.RunID]*activeRun
	waiting map[id.OccurrenceID]*waitingOcc
}

// New creates a Coordinator writing to ledger and executing on backend.
func New(ledger run.Ledger, backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		ledger:      ledger,
		backend:     backend,
		clock:       clock.Real(),
		logger:      slog.Default(),
		workerID:    id.NewWorkerID(),
		concurrency: 10,
		cancelGrace: 10 * time.Second,
		limitDelay:  time.Second,
		slotTTL:     30 * time.Second,
		slotRetry:   time.Second,
		capacity:    10_000,
		intakeBuf:   256,
		stopCh:      make(chan struct{}),
		owners:      make(map[id.JobID]*jobSlot),
		active:      make(map[id.RunID]*activeRun),
		waiting:     make(map[id.OccurrenceID]*waitingOcc),
	}
	if sl, ok := ledger.(job.Slots); ok {
		c.slots = sl
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exts == nil {
		c.exts = ext.NewRegistry(c.logger)
	}
	if c.retry == nil {
		c.retry = retry.NewController(time.Hour)
	}
	c.intake = make(chan *run.Occurrence, c.intakeBuf)
	c.queue = queue.NewDispatch(c.capacity,
		queue.WithEvict(c.onEvict),
		queue.WithClock(c.clock),
	)
	return c
}

// WorkerID returns the identity recorded on attempts run here.
func (c *Coordinator) WorkerID() id.WorkerID { return c.workerID }

// Intake returns the channel evaluators send ready occurrences to.
func (c *Coordinator) Intake() chan<- *run.Occurrence { return c.intake }

// Queue exposes the dispatch queue for statistics.
func (c *Coordinator) Queue() *queue.Dispatch { return c.queue }

// Start launches the worker slots and the intake loop.
func (c *Coordinator) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if c.stopped {
		return cadence.ErrQueueClosed
	}
	c.running = true

	c.logger.Info("coordinator starting",
		slog.String("worker_id", c.workerID.String()),
		slog.Int("concurrency", c.concurrency),
		slog.Int("queue_capacity", c.capacity),
	)

	for range c.concurrency {
		c.workers.Add(1)
		go c.slotLoop()
	}
	c.loops.Add(1)
	go c.intakeLoop()
	if c.slots != nil {
		c.loops.Add(1)
		go c.renewLoop()
	}
	return nil
}

// Submit admits an occurrence directly, bypassing the intake channel.
func (c *Coordinator) Submit(ctx context.Context, occ *run.Occurrence) error {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if !running {
		return cadence.ErrQueueClosed
	}
	c.admit(ctx, occ)
	return nil
}

// Stop stops accepting work and waits for running attempts. When ctx ends
// first, running attempts are cancelled and force-finalized after the
// grace period. Queued, held and waiting occurrences are recorded as
// cancelled with reason Shutdown.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.stopped = true
	c.mu.Unlock()

	c.logger.Info("coordinator stopping", slog.String("worker_id", c.workerID.String()))

	close(c.stopCh)
	c.loops.Wait()
	c.queue.Close()

	bg := context.WithoutCancel(ctx)
	for _, occ := range c.queue.Drain() {
		c.abandon(bg, occ)
	}
	c.mu.Lock()
	waiting := c.waiting
	c.waiting = make(map[id.OccurrenceID]*waitingOcc)
	c.mu.Unlock()
	for _, w := range waiting {
		w.timer.Stop()
		c.abandon(bg, w.occ)
	}

	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("coordinator stopped gracefully")
	case <-ctx.Done():
		c.logger.Warn("coordinator shutdown timed out, cancelling active runs")
		for _, ar := range c.activeRuns() {
			ar.interrupt(causeShutdown)
		}
		<-done
	}
	return nil
}

// abandon records an occurrence that will never run because of shutdown.
func (c *Coordinator) abandon(ctx context.Context, occ *run.Occurrence) {
	c.recordTerminal(ctx, occ, run.OutcomeCancelled, run.ReasonShutdown, "scheduler shutting down")
	c.release(ctx, occ)
}

// intakeLoop moves occurrences from the intake channel into admission.
func (c *Coordinator) intakeLoop() {
	defer c.loops.Done()
	ctx := context.Background()
	for {
		select {
		case <-c.stopCh:
			for {
				select {
				case occ := <-c.intake:
					c.abandon(ctx, occ)
				default:
					return
				}
			}
		case occ := <-c.intake:
			c.admit(ctx, occ)
		}
	}
}

// slotLoop is run by each worker slot.
func (c *Coordinator) slotLoop() {
	defer c.workers.Done()

	for {
		occ, err := c.queue.PopWait(context.Background())
		if err != nil {
			return
		}

		ref := occ.Job.Task.Ref
		if c.limits != nil && !c.limits.Acquire(ref) {
			c.logger.Debug("task limited, deferring occurrence",
				slog.String("job_id", occ.Job.ID.String()),
				slog.String("task", ref),
			)
			c.delay(context.Background(), occ, c.limitDelay, id.RunID{}, false)
			continue
		}

		c.execute(occ)

		if c.limits != nil {
			c.limits.Release(ref)
		}
	}
}

// push queues occ, recording it as abandoned if the queue is closed.
func (c *Coordinator) push(ctx context.Context, occ *run.Occurrence) {
	if err := c.queue.Push(occ); err != nil {
		if errors.Is(err, cadence.ErrQueueClosed) {
			c.abandon(ctx, occ)
			return
		}
		c.logger.Error("queue push failed",
			slog.String("job_id", occ.Job.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// onEvict records an occurrence pushed out of a full queue.
func (c *Coordinator) onEvict(occ *run.Occurrence) {
	ctx := context.Background()
	c.logger.Warn("dispatch queue overflow",
		slog.String("job_id", occ.Job.ID.String()),
		slog.String("job_name", occ.Job.Name),
		slog.Int("priority", occ.Priority()),
		slog.Time("scheduled_time", occ.ScheduledTime),
	)
	c.recordTerminal(ctx, occ, run.OutcomeFailed, run.ReasonQueueOverflow, "evicted from full dispatch queue")
	c.release(ctx, occ)
}

// ──────────────────────────────────────────────────
// Delayed occurrences
// ──────────────────────────────────────────────────

// waitingOcc is an occurrence parked on a timer: a retry, a run deferred
// by task limits, or a run waiting for a job slot owned elsewhere.
type waitingOcc struct {
	occ     *run.Occurrence
	prev    id.RunID
	reenter bool
	timer   clock.Timer
}

// delay parks occ for d, then queues it, or retries the shared job slot
// when reenter is set. prev is the attempt the occurrence retries, if any.
func (c *Coordinator) delay(ctx context.Context, occ *run.Occurrence, d time.Duration, prev id.RunID, reenter bool) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.abandon(ctx, occ)
		return
	}
	w := &waitingOcc{occ: occ, prev: prev, reenter: reenter}
	c.waiting[occ.ID] = w
	w.timer = c.clock.AfterFunc(d, func() { c.wake(occ.ID) })
	c.mu.Unlock()
}

func (c *Coordinator) wake(occID id.OccurrenceID) {
	c.mu.Lock()
	w, ok := c.waiting[occID]
	if ok {
		delete(c.waiting, occID)
	}
	c.mu.Unlock()
	switch {
	case !ok:
	case w.reenter:
		c.enter(context.Background(), w.occ)
	default:
		c.push(context.Background(), w.occ)
	}
}

// ──────────────────────────────────────────────────
// Statistics
// ──────────────────────────────────────────────────

// Stats is a snapshot of the coordinator's state.
type Stats struct {
	WorkerID    string      `json:"worker_id"`
	Concurrency int         `json:"concurrency"`
	Active      int         `json:"active"`
	Waiting     int         `json:"waiting"`
	Held        int         `json:"held"`
	Queue       queue.Stats `json:"queue"`
}

// Stats returns queue depth together with active, waiting and held counts.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		WorkerID:    c.workerID.String(),
		Concurrency: c.concurrency,
		Active:      len(c.active),
		Waiting:     len(c.waiting),
	}
	for _, slot := range c.owners {
		s.Held += len(slot.held)
	}
	c.mu.Unlock()
	s.Queue = c.queue.Stats()
	return s
}

// Active returns copies of the attempts currently running.
func (c *Coordinator) Active() []*run.Attempt {
	runs := c.activeRuns()
	out := make([]*run.Attempt, 0, len(runs))
	for _, ar := range runs {
		out = append(out, ar.attempt.Clone())
	}
	return out
}

func (c *Coordinator) activeRuns() []*activeRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*activeRun, 0, len(c.active))
	for _, ar := range c.active {
		out = append(out, ar)
	}
	return out
}

func (c *Coordinator) now() time.Time { return c.clock.Now().UTC() }
