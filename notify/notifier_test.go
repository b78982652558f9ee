package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/notify"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/trigger"
)

type recorder struct {
	mu    sync.Mutex
	got   []*notify.Notification
	block chan struct{}
	err   error
}

func (r *recorder) Send(ctx context.Context, n *notify.Notification) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.got))
	for _, n := range r.got {
		out = append(out, n.Type)
	}
	return out
}

func failedAttempt() *run.Attempt {
	j := job.New("nightly", job.Task{Ref: "etl"}, trigger.Every(time.Hour))
	a := run.NewOccurrence(j, time.Date(2026, 10, 14, 2, 0, 0, 0, time.UTC), false).NewAttempt(time.Now())
	a.Finish(run.OutcomeFailed, run.ReasonWorkerFailure, "exit 1", time.Now())
	return a
}

func TestNotifierDeliversEnabledEvents(t *testing.T) {
	rec := &recorder{}
	n := notify.New(rec)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))

	a := failedAttempt()
	require.NoError(t, n.OnRunSucceeded(ctx, a, time.Second)) // not in defaults
	require.NoError(t, n.OnRunFailed(ctx, a, errors.New("boom")))
	require.NoError(t, n.OnRunRetrying(ctx, a, time.Now().Add(time.Minute)))
	require.NoError(t, n.OnJobPaused(ctx, &job.Job{Name: "nightly"}))

	require.NoError(t, n.Stop(ctx))
	assert.Equal(t, []string{notify.EventRunFailed, notify.EventRunRetrying, notify.EventJobPaused}, rec.types())
	assert.Equal(t, uint64(3), n.Sent())

	first := rec.got[0]
	assert.Equal(t, "exit 1", first.Error)
	assert.Equal(t, run.ReasonWorkerFailure, first.Reason)
	assert.Equal(t, a.JobID.String(), first.JobID)
	require.NotNil(t, rec.got[1].NextAttemptAt)
}

func TestNotifierWithEvents(t *testing.T) {
	rec := &recorder{}
	n := notify.New(rec, notify.WithEvents(notify.EventRunSucceeded))
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))

	a := failedAttempt()
	_ = n.OnRunFailed(ctx, a, nil)
	_ = n.OnRunSucceeded(ctx, a, 1500*time.Millisecond)

	require.NoError(t, n.Stop(ctx))
	require.Equal(t, []string{notify.EventRunSucceeded}, rec.types())
	assert.Equal(t, int64(1500), rec.got[0].ElapsedMs)
}

func TestNotifierDropsWhenFull(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	n := notify.New(rec, notify.WithBuffer(2))
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))

	a := failedAttempt()
	for range 10 {
		_ = n.OnRunSkipped(ctx, a)
	}

	// At most one in flight plus two buffered.
	assert.GreaterOrEqual(t, n.Dropped(), uint64(7))

	close(rec.block)
	require.NoError(t, n.Stop(ctx))
	assert.Equal(t, uint64(10), n.Sent()+n.Dropped())
}

func TestNotifierTransportErrorIsNotFatal(t *testing.T) {
	rec := &recorder{err: errors.New("unreachable")}
	n := notify.New(rec)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))

	_ = n.OnRunCancelled(ctx, failedAttempt())
	require.NoError(t, n.Stop(ctx))

	assert.Len(t, rec.types(), 1)
	assert.Equal(t, uint64(0), n.Sent())
}

func TestNotifierAfterStopDrops(t *testing.T) {
	n := notify.New(&recorder{})
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	require.NoError(t, n.Stop(ctx))

	_ = n.OnRunFailed(ctx, failedAttempt(), nil)
	assert.Equal(t, uint64(1), n.Dropped())
	require.NoError(t, n.Stop(ctx))
}

func TestNotificationJSON(t *testing.T) {
	var got *notify.Notification
	tr := notify.TransportFunc(func(_ context.Context, n *notify.Notification) error {
		got = n
		return nil
	})
	n := notify.New(tr)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	_ = n.OnRunFailed(ctx, failedAttempt(), nil)
	require.NoError(t, n.Stop(ctx))

	require.NotNil(t, got)
	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"cadence.run.failed"`)
	assert.Contains(t, string(data), `"reason":"WorkerFailure"`)
}
