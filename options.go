package cadence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Option configures a Scheduler.
type Option func(*Scheduler) error

// Storer is the minimal store interface held by the Scheduler.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Runner is a background component with a start/stop lifecycle, such as
// the execution coordinator or an evaluator loop.
type Runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Scheduler is the explicit context object holding configuration, the
// store, and the background runners of one cadence instance. There is no
// process-wide state; several Schedulers may coexist.
//
// Create one with New() and functional options, then wire the subsystems
// with engine.Build.
type Scheduler struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter

	mu      sync.Mutex
	runners []Runner
	started int
}

// New creates a new Scheduler with the given options.
func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the scheduler's logger.
func (s *Scheduler) Logger() *slog.Logger { return s.logger }

// Store returns the scheduler's store.
func (s *Scheduler) Store() Storer { return s.store }

// Config returns a copy of the scheduler's configuration.
func (s *Scheduler) Config() Config { return s.config }

// AddRunner appends a background runner (called by the engine package).
// Runners start in the order added and stop in reverse order.
func (s *Scheduler) AddRunner(r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners = append(s.runners, r)
}

// SetExtensions sets the extension emitter (called by the engine package).
func (s *Scheduler) SetExtensions(e extensionEmitter) { s.extensions = e }

// Start launches every registered runner. If one fails to start, the
// runners already started are stopped again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil || len(s.runners) == 0 {
		return ErrNoStore
	}
	for i, r := range s.runners {
		if err := r.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := s.runners[j].Stop(ctx); stopErr != nil {
					s.logger.Error("runner stop error", slog.String("error", stopErr.Error()))
				}
			}
			return err
		}
	}
	s.started = len(s.runners)
	return nil
}

// Stop gracefully shuts down the runners, emits the shutdown hook, and
// closes the store.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.runners[:s.started]
	s.started = 0
	s.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil {
			s.logger.Error("runner stop error", slog.String("error", err.Error()))
		}
	}
	if s.extensions != nil {
		s.extensions.EmitShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithConfig replaces the whole configuration. Zero fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) error {
		def := DefaultConfig()
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = def.Concurrency
		}
		if cfg.Evaluators <= 0 {
			cfg.Evaluators = def.Evaluators
		}
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = def.PollInterval
		}
		if cfg.ClaimBatch <= 0 {
			cfg.ClaimBatch = def.ClaimBatch
		}
		if cfg.LeaseTTL <= 0 {
			cfg.LeaseTTL = def.LeaseTTL
		}
		if cfg.ReaperInterval <= 0 {
			cfg.ReaperInterval = def.ReaperInterval
		}
		if cfg.IntakeBuffer <= 0 {
			cfg.IntakeBuffer = def.IntakeBuffer
		}
		if cfg.DependencyTimeout <= 0 {
			cfg.DependencyTimeout = def.DependencyTimeout
		}
		if cfg.MaxRetryDelay <= 0 {
			cfg.MaxRetryDelay = def.MaxRetryDelay
		}
		if cfg.CancelGrace <= 0 {
			cfg.CancelGrace = def.CancelGrace
		}
		if cfg.ShutdownTimeout <= 0 {
			cfg.ShutdownTimeout = def.ShutdownTimeout
		}
		if !cfg.DefaultCatchUp.Valid() {
			cfg.DefaultCatchUp = def.DefaultCatchUp
		}
		if cfg.MaxSkippedRecords <= 0 {
			cfg.MaxSkippedRecords = def.MaxSkippedRecords
		}
		s.config = cfg
		return nil
	}
}

// WithConcurrency sets the number of worker slots.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) error {
		s.config.Concurrency = n
		return nil
	}
}

// WithEvaluators sets how many evaluator loops run in this process.
func WithEvaluators(n int) Option {
	return func(s *Scheduler) error {
		s.config.Evaluators = n
		return nil
	}
}

// WithPollInterval sets how often evaluators poll for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.PollInterval = d
		return nil
	}
}

// WithLeaseTTL sets the claim lease duration.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.LeaseTTL = d
		return nil
	}
}

// WithQueueCapacity bounds the priority dispatch queue.
func WithQueueCapacity(n int) Option {
	return func(s *Scheduler) error {
		s.config.QueueCapacity = n
		return nil
	}
}

// WithDependencyTimeout sets the default dependency wait.
func WithDependencyTimeout(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.DependencyTimeout = d
		return nil
	}
}

// WithCancelGrace sets the grace period before a cancelled run is
// force-finalized.
func WithCancelGrace(d time.Duration) Option {
	return func(s *Scheduler) error {
		s.config.CancelGrace = d
		return nil
	}
}

// WithCatchUp sets the default catch-up policy.
func WithCatchUp(c CatchUp) Option {
	return func(s *Scheduler) error {
		if !c.Valid() {
			return ErrInvalidJob
		}
		s.config.DefaultCatchUp = c
		return nil
	}
}

// WithLogger sets the structured logger for the scheduler.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the scheduler.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(st Storer) Option {
	return func(s *Scheduler) error {
		s.store = st
		return nil
	}
}
