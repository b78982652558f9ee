// Package engine wires the cadence subsystems together. It creates the
// extension registry, the task registry, the middleware chain, the
// execution coordinator and the evaluators, and provides the
// administrative operations on jobs and runs.
//
// This package exists to break the import cycle: the root cadence package
// defines Entity and Config (imported by job, run, etc.) and so cannot
// import those packages back. The engine package sits above all subsystem
// packages and below the application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/clock"
	"github.com/xraph/cadence/coordinator"
	"github.com/xraph/cadence/evaluator"
	"github.com/xraph/cadence/ext"
	"github.com/xraph/cadence/job"
	mw "github.com/xraph/cadence/middleware"
	"github.com/xraph/cadence/notify"
	"github.com/xraph/cadence/observability"
	"github.com/xraph/cadence/queue"
	"github.com/xraph/cadence/retry"
	"github.com/xraph/cadence/store"
	"github.com/xraph/cadence/trigger"
)

const instrumentationName = "github.com/xraph/cadence"

// Engine wraps a Scheduler with typed subsystem access.
// Use Build() to create one from a Scheduler.
type Engine struct {
	s          *cadence.Scheduler
	store      store.Store
	config     cadence.Config
	extensions *ext.Registry
	registry   *job.Registry
	triggers   *trigger.Engine
	backend    coordinator.Backend
	tasks      coordinator.TaskResolver
	coord      *coordinator.Coordinator
	evaluators []*evaluator.Evaluator
	limits     *queue.Manager
	clock      clock.Clock
	logger     *slog.Logger

	mws        []mw.Middleware
	taskLimits []queue.Limit
	strategy   retry.StrategyFunc
	notifiers  []*notify.Notifier
	gauge      metric.Registration

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithNotifier registers a notifier as an extension and runs it alongside
// the scheduler.
func WithNotifier(n *notify.Notifier) Option {
	return func(eng *Engine) {
		eng.extensions.Register(n)
		eng.notifiers = append(eng.notifiers, n)
	}
}

// WithMiddleware adds middleware to the local backend's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackend replaces the in-process backend. When b also implements
// coordinator.TaskResolver, task references are checked against it at
// definition time.
func WithBackend(b coordinator.Backend) Option {
	return func(eng *Engine) {
		eng.backend = b
	}
}

// WithBackoff sets how retry delays are computed. The default doubles the
// job's base delay per attempt.
func WithBackoff(fn retry.StrategyFunc) Option {
	return func(eng *Engine) {
		eng.strategy = fn
	}
}

// WithTaskLimits registers per-task rate limits and concurrency caps.
// Tasks not listed have no limits.
func WithTaskLimits(limits ...queue.Limit) Option {
	return func(eng *Engine) {
		eng.taskLimits = append(eng.taskLimits, limits...)
	}
}

// WithTriggerEngine sets the trigger engine used for schedule evaluation.
func WithTriggerEngine(t *trigger.Engine) Option {
	return func(eng *Engine) {
		eng.triggers = t
	}
}

// WithClock sets the clock for every subsystem.
func WithClock(c clock.Clock) Option {
	return func(eng *Engine) {
		eng.clock = c
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Scheduler.
// The Scheduler's store must implement store.Store.
func Build(s *cadence.Scheduler, opts ...Option) (*Engine, error) {
	logger := s.Logger()
	if s.Store() == nil {
		return nil, cadence.ErrNoStore
	}
	st, ok := s.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("cadence: store does not implement store.Store")
	}

	eng := &Engine{
		s:          s,
		store:      st,
		config:     s.Config(),
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		clock:      clock.Real(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.triggers == nil {
		eng.triggers = trigger.NewEngine()
	}

	meterProvider := eng.meterProvider
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}

	// Register the observability metrics extension.
	obsExt, err := observability.NewMetricsExtensionWithMeter(meterProvider.Meter(instrumentationName + "/observability"))
	if err != nil {
		return nil, fmt.Errorf("create metrics extension: %w", err)
	}
	eng.extensions.Register(obsExt)

	if eng.backend == nil {
		eng.backend = eng.localBackend(meterProvider)
	}
	if tr, ok := eng.backend.(coordinator.TaskResolver); ok {
		eng.tasks = tr
	}
	if len(eng.taskLimits) > 0 {
		eng.limits = queue.NewManager(eng.taskLimits...)
	}

	cfg := eng.config
	var retryOpts []retry.Option
	if eng.strategy != nil {
		retryOpts = append(retryOpts, retry.WithStrategy(eng.strategy))
	}
	coordOpts := []coordinator.Option{
		coordinator.WithConcurrency(cfg.Concurrency),
		coordinator.WithQueueCapacity(cfg.QueueCapacity),
		coordinator.WithIntakeBuffer(cfg.IntakeBuffer),
		coordinator.WithCancelGrace(cfg.CancelGrace),
		coordinator.WithLimitDelay(cfg.PollInterval),
		coordinator.WithSlotTTL(cfg.LeaseTTL),
		coordinator.WithSlotRetry(cfg.PollInterval),
		coordinator.WithRetry(retry.NewController(cfg.MaxRetryDelay, retryOpts...)),
		coordinator.WithExtensions(eng.extensions),
		coordinator.WithClock(eng.clock),
		coordinator.WithLogger(logger),
	}
	if eng.limits != nil {
		coordOpts = append(coordOpts, coordinator.WithLimits(eng.limits))
	}
	eng.coord = coordinator.New(st, eng.backend, coordOpts...)

	for range cfg.Evaluators {
		eng.evaluators = append(eng.evaluators, evaluator.New(st, eng.coord.Intake(),
			evaluator.WithPollInterval(cfg.PollInterval),
			evaluator.WithLeaseTTL(cfg.LeaseTTL),
			evaluator.WithReaperInterval(cfg.ReaperInterval),
			evaluator.WithClaimBatch(cfg.ClaimBatch),
			evaluator.WithDependencyTimeout(cfg.DependencyTimeout),
			evaluator.WithCatchUp(cfg.DefaultCatchUp),
			evaluator.WithMaxSkippedRecords(cfg.MaxSkippedRecords),
			evaluator.WithTriggers(eng.triggers),
			evaluator.WithExtensions(eng.extensions),
			evaluator.WithClock(eng.clock),
			evaluator.WithLogger(logger),
		))
	}

	gauge, err := observability.RegisterQueueGauge(meterProvider.Meter(instrumentationName), func() int64 {
		return int64(eng.coord.Queue().Len())
	})
	if err != nil {
		logger.Warn("failed to register queue depth gauge", slog.String("error", err.Error()))
	}
	eng.gauge = gauge

	// Notifiers start first and stop last so they see every hook.
	for _, n := range eng.notifiers {
		s.AddRunner(n)
	}
	s.AddRunner(eng.coord)
	s.AddRunner(&evaluatorGroup{evaluators: eng.evaluators})
	s.SetExtensions(eng.extensions)

	return eng, nil
}

// localBackend builds the in-process backend with the default middleware
// stack: recover → tracing → metrics → logging, then user middleware.
func (eng *Engine) localBackend(mp metric.MeterProvider) *coordinator.LocalBackend {
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		mw.MetricsWithMeter(mp.Meter(instrumentationName)),
		mw.Logging(eng.logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	return coordinator.NewLocalBackend(eng.registry, eng.logger, allMws...)
}

// Start launches the coordinator and the evaluators.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.s.Start(ctx)
}

// Stop shuts down the evaluators, then drains the coordinator. When ctx
// has no deadline, Config.ShutdownTimeout bounds the drain.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}
	if eng.gauge != nil {
		if err := eng.gauge.Unregister(); err != nil {
			eng.logger.Warn("failed to unregister queue depth gauge", slog.String("error", err.Error()))
		}
	}
	return eng.s.Stop(ctx)
}

// Register registers a typed task definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// RegisterTask registers a raw task handler under ref.
func (eng *Engine) RegisterTask(ref string, h job.HandlerFunc) {
	eng.registry.Register(ref, h)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Scheduler returns the underlying Scheduler.
func (eng *Engine) Scheduler() *cadence.Scheduler { return eng.s }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// Clock returns the engine's time source.
func (eng *Engine) Clock() clock.Clock { return eng.clock }

// Coordinator returns the execution coordinator.
func (eng *Engine) Coordinator() *coordinator.Coordinator { return eng.coord }

// Evaluators returns the evaluators run by this engine.
func (eng *Engine) Evaluators() []*evaluator.Evaluator { return eng.evaluators }

// Limits returns the task limit manager, or nil if no limits were
// configured.
func (eng *Engine) Limits() *queue.Manager { return eng.limits }

// notify wakes every evaluator after a job change.
func (eng *Engine) notify() {
	for _, e := range eng.evaluators {
		e.Notify()
	}
}

// ──────────────────────────────────────────────────
// Evaluator group
// ──────────────────────────────────────────────────

// evaluatorGroup starts and stops the evaluators together.
type evaluatorGroup struct {
	evaluators []*evaluator.Evaluator
}

func (g *evaluatorGroup) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, e := range g.evaluators {
		eg.Go(func() error { return e.Start(ctx) })
	}
	return eg.Wait()
}

func (g *evaluatorGroup) Stop(ctx context.Context) error {
	var eg errgroup.Group
	for _, e := range g.evaluators {
		eg.Go(func() error { return e.Stop(ctx) })
	}
	return eg.Wait()
}
