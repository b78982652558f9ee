package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/clock"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/store"
)

// Ensure Store implements the aggregate interface at compile time.
var _ store.Store = (*Store)(nil)

// Option configures a memory Store.
type Option func(*Store)

// WithClock sets the clock used for lease expiry.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu    sync.RWMutex
	clock clock.Clock

	jobs  map[string]*job.Job
	slots map[string]slot // key: job ID

	attempts map[string]*run.Attempt // key: run ID
	keys     map[string]string       // key: ledger key, value: run ID
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:    clock.Real(),
		jobs:     make(map[string]*job.Job),
		slots:    make(map[string]slot),
		attempts: make(map[string]*run.Attempt),
		keys:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// UpsertJob inserts or replaces a job definition.
func (m *Store) UpsertJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := j.Clone()
	cp.ClearClaim()
	if existing, ok := m.jobs[j.ID.String()]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	cp.UpdatedAt = m.clock.Now().UTC()
	m.jobs[j.ID.String()] = cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, cadence.ErrJobNotFound
	}
	return j.Clone(), nil
}

func matchJob(j *job.Job, f job.ListFilter) bool {
	if f.Enabled != nil && j.Enabled != *f.Enabled {
		return false
	}
	if f.Tag != "" && !j.HasTag(f.Tag) {
		return false
	}
	return true
}

// ListJobs returns jobs ordered by name then ID.
func (m *Store) ListJobs(_ context.Context, f job.ListFilter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if matchJob(j, f) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Name != out[k].Name {
			return out[i].Name < out[k].Name
		}
		return out[i].ID.String() < out[k].ID.String()
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// CountJobs returns the number of jobs matching the filter.
func (m *Store) CountJobs(_ context.Context, f job.ListFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if matchJob(j, f) {
			n++
		}
	}
	return n, nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return cadence.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// SetJobEnabled flips the enabled flag and stores the next fire time.
func (m *Store) SetJobEnabled(_ context.Context, jobID id.JobID, enabled bool, nextFireAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return cadence.ErrJobNotFound
	}
	j.Enabled = enabled
	j.NextFireAt = cloneTime(nextFireAt)
	j.ClearClaim()
	j.UpdatedAt = m.clock.Now().UTC()
	return nil
}

// ClaimDueJobs atomically claims up to limit due jobs.
func (m *Store) ClaimDueJobs(_ context.Context, before time.Time, limit int, owner string, ttl time.Duration) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if !j.Enabled || j.NextFireAt == nil || j.NextFireAt.After(before) || j.ClaimToken != "" {
			continue
		}
		candidates = append(candidates, j)
	}

	// Sort: NextFireAt ASC, priority DESC.
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].NextFireAt.Equal(*candidates[k].NextFireAt) {
			return candidates[i].NextFireAt.Before(*candidates[k].NextFireAt)
		}
		return candidates[i].Priority > candidates[k].Priority
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	until := m.clock.Now().UTC().Add(ttl)
	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.ClaimedBy = owner
		j.ClaimToken = uuid.NewString()
		u := until
		j.ClaimUntil = &u
		// Return a copy so callers can mutate without racing with the store.
		result[i] = j.Clone()
	}
	return result, nil
}

func (m *Store) claimed(jobID id.JobID, token string) (*job.Job, error) {
	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, cadence.ErrJobNotFound
	}
	if token == "" || j.ClaimToken != token {
		return nil, cadence.ErrLeaseConflict
	}
	return j, nil
}

// RenewClaim extends a held lease.
func (m *Store) RenewClaim(_ context.Context, jobID id.JobID, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.claimed(jobID, token)
	if err != nil {
		return err
	}
	until := m.clock.Now().UTC().Add(ttl)
	j.ClaimUntil = &until
	return nil
}

// ConfirmClaim advances the job and releases the lease.
func (m *Store) ConfirmClaim(_ context.Context, jobID id.JobID, token string, firedAt time.Time, nextFireAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.claimed(jobID, token)
	if err != nil {
		return err
	}
	fired := firedAt.UTC()
	j.LastFiredAt = &fired
	j.NextFireAt = cloneTime(nextFireAt)
	j.ClearClaim()
	j.UpdatedAt = m.clock.Now().UTC()
	return nil
}

// ReleaseClaim drops a lease without advancing the job.
func (m *Store) ReleaseClaim(_ context.Context, jobID id.JobID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.claimed(jobID, token)
	if err != nil {
		return err
	}
	j.ClearClaim()
	return nil
}

// ReapExpiredClaims releases every lease that expired at or before now.
func (m *Store) ReapExpiredClaims(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, j := range m.jobs {
		if j.ClaimToken != "" && j.ClaimUntil != nil && !j.ClaimUntil.After(now) {
			j.ClearClaim()
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Job Slots
// ──────────────────────────────────────────────────

type slot struct {
	holder string
	until  time.Time
}

// AcquireSlot takes or extends the job's in-flight slot.
func (m *Store) AcquireSlot(_ context.Context, jobID id.JobID, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()
	key := jobID.String()
	if cur, ok := m.slots[key]; ok && cur.holder != holder && cur.until.After(now) {
		return false, nil
	}
	m.slots[key] = slot{holder: holder, until: now.Add(ttl)}
	return true, nil
}

// RenewSlot extends holder's slot.
func (m *Store) RenewSlot(_ context.Context, jobID id.JobID, holder string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()
	key := jobID.String()
	cur, ok := m.slots[key]
	if !ok || cur.holder != holder || !cur.until.After(now) {
		return cadence.ErrLeaseConflict
	}
	m.slots[key] = slot{holder: holder, until: now.Add(ttl)}
	return nil
}

// ReleaseSlot frees holder's slot.
func (m *Store) ReleaseSlot(_ context.Context, jobID id.JobID, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if cur, ok := m.slots[key]; ok && cur.holder == holder {
		delete(m.slots, key)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Run Ledger
// ──────────────────────────────────────────────────

func ledgerKey(k run.Key) string {
	return fmt.Sprintf("%s|%d|%d", k.JobID, k.ScheduledTime.UnixNano(), k.Number)
}

// AppendAttempt records a new attempt.
func (m *Store) AppendAttempt(_ context.Context, a *run.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ledgerKey(a.Key())
	if _, exists := m.keys[key]; exists {
		return cadence.ErrAttemptExists
	}
	if _, exists := m.attempts[a.ID.String()]; exists {
		return cadence.ErrAttemptExists
	}
	m.attempts[a.ID.String()] = a.Clone()
	m.keys[key] = a.ID.String()
	return nil
}

// FinalizeAttempt moves a non-terminal attempt to its terminal outcome.
func (m *Store) FinalizeAttempt(_ context.Context, a *run.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.attempts[a.ID.String()]
	if !ok {
		return cadence.ErrRunNotFound
	}
	if existing.Outcome.Terminal() {
		return cadence.ErrAttemptFinalized
	}
	if !a.Outcome.Terminal() {
		return fmt.Errorf("memory: finalize %s with outcome %q: %w", a.ID, a.Outcome, cadence.ErrInvalidJob)
	}
	m.attempts[a.ID.String()] = a.Clone()
	return nil
}

// GetAttempt retrieves an attempt by run ID.
func (m *Store) GetAttempt(_ context.Context, runID id.RunID) (*run.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[runID.String()]
	if !ok {
		return nil, cadence.ErrRunNotFound
	}
	return a.Clone(), nil
}

// ListAttempts returns attempts matching q, newest first.
func (m *Store) ListAttempts(_ context.Context, q run.Query) ([]*run.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*run.Attempt
	for _, a := range m.attempts {
		if q.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *run.Attempt) int {
		if c := run.Newer(a, b); c != 0 {
			return c
		}
		return strings.Compare(b.ID.String(), a.ID.String())
	})
	return run.Page(out, q), nil
}

// LatestFinalized returns the newest terminal attempt in [from, to].
func (m *Store) LatestFinalized(_ context.Context, jobID id.JobID, from, to time.Time) (*run.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *run.Attempt
	for _, a := range m.attempts {
		if a.JobID != jobID || !a.Outcome.Terminal() {
			continue
		}
		if a.ScheduledTime.Before(from) || a.ScheduledTime.After(to) {
			continue
		}
		if best == nil || run.Newer(a, best) < 0 {
			best = a
		}
	}
	if best == nil {
		return nil, cadence.ErrRunNotFound
	}
	return best.Clone(), nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
