package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limit defines per-task behaviour such as rate limiting and concurrency.
type Limit struct {
	// Task is the task reference the limit applies to.
	Task string

	// MaxConcurrency limits how many runs of this task may execute
	// simultaneously across the local worker slots. Zero means no
	// task-specific limit (coordinator concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained runs per second that may start
	// for this task. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// limitState tracks runtime state for a single task reference.
type limitState struct {
	limit   Limit
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-task rate limits and concurrency caps before an
// occurrence is handed to a worker slot. It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*limitState
}

// NewManager creates a Manager with the given limits.
// Tasks not listed here have no limits.
func NewManager(limits ...Limit) *Manager {
	m := &Manager{
		tasks: make(map[string]*limitState, len(limits)),
	}
	for _, l := range limits {
		m.tasks[l.Task] = newLimitState(l)
	}
	return m
}

func newLimitState(l Limit) *limitState {
	ls := &limitState{limit: l}
	if l.RateLimit > 0 {
		burst := l.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ls.limiter = rate.NewLimiter(rate.Limit(l.RateLimit), burst)
	}
	return ls
}

// Acquire checks rate limits and concurrency for the given task. If the
// run is allowed to proceed it increments the active counter and returns
// true. The caller MUST call Release when the run completes.
func (m *Manager) Acquire(task string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ls := m.tasks[task]
	if ls == nil {
		return true
	}
	if ls.limit.MaxConcurrency > 0 && ls.active >= ls.limit.MaxConcurrency {
		return false
	}
	if ls.limiter != nil && !ls.limiter.Allow() {
		return false
	}
	ls.active++
	return true
}

// Release decrements the active run count for the task.
func (m *Manager) Release(task string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ls := m.tasks[task]; ls != nil && ls.active > 0 {
		ls.active--
	}
}

// SetLimit dynamically updates (or creates) a task limit.
func (m *Manager) SetLimit(l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.tasks[l.Task]
	ls := newLimitState(l)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ls.active = existing.active
	}
	m.tasks[l.Task] = ls
}

// ActiveCount returns the current number of active runs for a task.
func (m *Manager) ActiveCount(task string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ls := m.tasks[task]; ls != nil {
		return ls.active
	}
	return 0
}
