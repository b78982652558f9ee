package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/queue"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

var t0 = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func occ(name string, priority int, scheduled time.Time) *run.Occurrence {
	j := job.New(name, job.Task{Ref: name}, trigger.Every(time.Minute), job.WithPriority(priority))
	return run.NewOccurrence(j, scheduled, false)
}

func popAll(d *queue.Dispatch) []string {
	var out []string
	for {
		o, ok := d.Pop()
		if !ok {
			return out
		}
		out = append(out, o.Job.Name)
	}
}

func TestDispatchOrder(t *testing.T) {
	d := queue.NewDispatch(0)

	require.NoError(t, d.Push(occ("low-early", 1, t0)))
	require.NoError(t, d.Push(occ("high-late", 9, t0.Add(time.Minute))))
	require.NoError(t, d.Push(occ("high-early", 9, t0)))
	require.NoError(t, d.Push(occ("mid", 5, t0)))
	require.NoError(t, d.Push(occ("high-early-2", 9, t0)))

	assert.Equal(t, []string{"high-early", "high-early-2", "high-late", "mid", "low-early"}, popAll(d))
}

func TestDispatchOverflowEvictsLowest(t *testing.T) {
	var (
		mu      sync.Mutex
		evicted []string
	)
	d := queue.NewDispatch(3, queue.WithEvict(func(o *run.Occurrence) {
		mu.Lock()
		defer mu.Unlock()
		evicted = append(evicted, o.Job.Name)
	}))

	require.NoError(t, d.Push(occ("p5", 5, t0)))
	require.NoError(t, d.Push(occ("p2-old", 2, t0)))
	require.NoError(t, d.Push(occ("p2-new", 2, t0.Add(time.Minute))))

	// Full: the oldest of the lowest priority goes.
	require.NoError(t, d.Push(occ("p8", 8, t0)))
	// Incoming below everything queued evicts itself.
	require.NoError(t, d.Push(occ("p1", 1, t0)))

	assert.Equal(t, []string{"p2-old", "p1"}, evicted)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, uint64(2), d.Stats().Evicted)
	assert.Equal(t, []string{"p8", "p5", "p2-new"}, popAll(d))
}

func TestDispatchStats(t *testing.T) {
	d := queue.NewDispatch(10)
	_ = d.Push(occ("a", 5, t0))
	_ = d.Push(occ("b", 5, t0))
	_ = d.Push(occ("c", 7, t0))

	s := d.Stats()
	assert.Equal(t, 3, s.Depth)
	assert.Equal(t, 10, s.Capacity)
	assert.Equal(t, map[int]int{5: 2, 7: 1}, s.ByPriority)
	assert.NotNil(t, s.Oldest)
}

func TestDispatchPopWait(t *testing.T) {
	d := queue.NewDispatch(0)
	got := make(chan string, 1)

	go func() {
		o, err := d.PopWait(context.Background())
		if err != nil {
			got <- err.Error()
			return
		}
		got <- o.Job.Name
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, d.Push(occ("wake", 5, t0)))

	select {
	case name := <-got:
		assert.Equal(t, "wake", name)
	case <-time.After(time.Second):
		t.Fatal("PopWait did not return after Push")
	}
}

func TestDispatchPopWaitContextAndClose(t *testing.T) {
	d := queue.NewDispatch(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.PopWait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		_, err := d.PopWait(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	d.Close()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, cadence.ErrQueueClosed))
	case <-time.After(time.Second):
		t.Fatal("PopWait did not return after Close")
	}
	assert.ErrorIs(t, d.Push(occ("late", 5, t0)), cadence.ErrQueueClosed)
}

func TestDispatchRemoveJobAndDrain(t *testing.T) {
	d := queue.NewDispatch(0)
	target := occ("target", 5, t0)
	_ = d.Push(target)
	_ = d.Push(target.Retry(t0))
	_ = d.Push(occ("other", 3, t0))
	_ = d.Push(occ("another", 9, t0))

	removed := d.RemoveJob(target.Job.ID)
	assert.Len(t, removed, 2)

	drained := d.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "another", drained[0].Job.Name)
	assert.Equal(t, 0, d.Len())
}
