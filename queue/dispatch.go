package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/clock"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/run"
)

// EvictFunc receives an occurrence pushed out of a full queue. It is
// called without the queue lock held.
type EvictFunc func(occ *run.Occurrence)

// DispatchOption configures a Dispatch queue.
type DispatchOption func(*Dispatch)

// WithEvict sets the overflow callback.
func WithEvict(fn EvictFunc) DispatchOption {
	return func(d *Dispatch) { d.onEvict = fn }
}

// WithClock sets the clock used to stamp EnqueuedAt.
func WithClock(c clock.Clock) DispatchOption {
	return func(d *Dispatch) { d.clock = c }
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Depth      int         `json:"depth"`
	Capacity   int         `json:"capacity"`
	ByPriority map[int]int `json:"by_priority"`
	Evicted    uint64      `json:"evicted"`
	Oldest     *time.Time  `json:"oldest_enqueued_at,omitempty"`
}

// Dispatch is the priority dispatch queue between the evaluators and the
// worker slots. Occurrences pop in order of priority (higher first), then
// scheduled time (earlier first), then insertion order.
//
// When a capacity is set and the queue is full, the lowest-priority entry
// among the queued ones and the incoming one is evicted, the oldest
// scheduled first on ties, and handed to the EvictFunc.
type Dispatch struct {
	mu       sync.Mutex
	items    itemHeap
	seq      uint64
	capacity int
	evicted  uint64
	closed   bool
	wake     chan struct{}

	onEvict EvictFunc
	clock   clock.Clock
}

// NewDispatch creates a queue. A capacity of zero means unbounded.
func NewDispatch(capacity int, opts ...DispatchOption) *Dispatch {
	d := &Dispatch{
		capacity: capacity,
		wake:     make(chan struct{}),
		clock:    clock.Real(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Push adds an occurrence. It returns cadence.ErrQueueClosed after Close.
// Overflow is not an error for the caller; the evicted occurrence goes to
// the EvictFunc.
func (d *Dispatch) Push(occ *run.Occurrence) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return cadence.ErrQueueClosed
	}

	if occ.EnqueuedAt.IsZero() {
		occ.EnqueuedAt = d.clock.Now().UTC()
	}
	d.seq++
	incoming := &item{occ: occ, seq: d.seq}

	var victim *run.Occurrence
	if d.capacity > 0 && d.items.Len() >= d.capacity {
		lowest := d.lowest()
		if lowest == nil || evictsBefore(incoming, lowest) {
			victim = occ
		} else {
			heap.Remove(&d.items, lowest.index)
			victim = lowest.occ
			heap.Push(&d.items, incoming)
		}
		d.evicted++
	} else {
		heap.Push(&d.items, incoming)
	}

	if victim != occ {
		close(d.wake)
		d.wake = make(chan struct{})
	}
	onEvict := d.onEvict
	d.mu.Unlock()

	if victim != nil && onEvict != nil {
		onEvict(victim)
	}
	return nil
}

// lowest returns the entry that would be evicted first. Must hold mu.
func (d *Dispatch) lowest() *item {
	var low *item
	for _, it := range d.items {
		if low == nil || evictsBefore(it, low) {
			low = it
		}
	}
	return low
}

// Pop removes and returns the highest-ranked occurrence without blocking.
func (d *Dispatch) Pop() (*run.Occurrence, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.items.Len() == 0 {
		return nil, false
	}
	it := heap.Pop(&d.items).(*item)
	return it.occ, true
}

// PopWait blocks until an occurrence is available, ctx is done, or the
// queue is closed.
func (d *Dispatch) PopWait(ctx context.Context) (*run.Occurrence, error) {
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return nil, cadence.ErrQueueClosed
		}
		if d.items.Len() > 0 {
			it := heap.Pop(&d.items).(*item)
			d.mu.Unlock()
			return it.occ, nil
		}
		wake := d.wake
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// RemoveJob drops every queued occurrence of jobID and returns them.
func (d *Dispatch) RemoveJob(jobID id.JobID) []*run.Occurrence {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed []*run.Occurrence
	kept := d.items[:0]
	for _, it := range d.items {
		if it.occ.Job.ID == jobID {
			removed = append(removed, it.occ)
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(d.items); i++ {
		d.items[i] = nil
	}
	d.items = kept
	for i, it := range d.items {
		it.index = i
	}
	heap.Init(&d.items)
	return removed
}

// Drain removes and returns every queued occurrence in pop order.
func (d *Dispatch) Drain() []*run.Occurrence {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*run.Occurrence, 0, d.items.Len())
	for d.items.Len() > 0 {
		out = append(out, heap.Pop(&d.items).(*item).occ)
	}
	return out
}

// Len returns the number of queued occurrences.
func (d *Dispatch) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.items.Len()
}

// Stats returns queue depth and per-priority counts.
func (d *Dispatch) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{
		Depth:      d.items.Len(),
		Capacity:   d.capacity,
		ByPriority: make(map[int]int),
		Evicted:    d.evicted,
	}
	for _, it := range d.items {
		s.ByPriority[it.occ.Priority()]++
		if s.Oldest == nil || it.occ.EnqueuedAt.Before(*s.Oldest) {
			t := it.occ.EnqueuedAt
			s.Oldest = &t
		}
	}
	return s
}

// Close wakes every waiter with cadence.ErrQueueClosed. Queued items stay
// available to Drain.
func (d *Dispatch) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.wake)
}

// ──────────────────────────────────────────────────
// Heap
// ──────────────────────────────────────────────────

type item struct {
	occ   *run.Occurrence
	seq   uint64
	index int
}

// outranks reports whether a pops before b.
func outranks(a, b *item) bool {
	if pa, pb := a.occ.Priority(), b.occ.Priority(); pa != pb {
		return pa > pb
	}
	if !a.occ.ScheduledTime.Equal(b.occ.ScheduledTime) {
		return a.occ.ScheduledTime.Before(b.occ.ScheduledTime)
	}
	return a.seq < b.seq
}

// evictsBefore reports whether a is dropped before b on overflow: lower
// priority first, then older scheduled time, then earlier insertion.
func evictsBefore(a, b *item) bool {
	if pa, pb := a.occ.Priority(), b.occ.Priority(); pa != pb {
		return pa < pb
	}
	if !a.occ.ScheduledTime.Equal(b.occ.ScheduledTime) {
		return a.occ.ScheduledTime.Before(b.occ.ScheduledTime)
	}
	return a.seq < b.seq
}

type itemHeap []*item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return outranks(h[i], h[j]) }

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
