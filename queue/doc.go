// Package queue holds the priority dispatch queue and per-task limits.
//
// # Dispatch
//
// [Dispatch] orders ready occurrences by priority (higher first), then
// scheduled time (earlier first), then insertion order. Worker slots block
// on [Dispatch.PopWait]. A capacity bounds the queue; on overflow the
// lowest-priority, oldest-scheduled entry is evicted and reported through
// the [EvictFunc] so the coordinator can record it as failed with reason
// QueueOverflow.
//
//	q := queue.NewDispatch(10_000, queue.WithEvict(recordOverflow))
//	_ = q.Push(occ)
//	next, err := q.PopWait(ctx)
//
// # Manager
//
// [Manager] enforces per-task-reference limits before a popped occurrence
// starts. It uses a token-bucket rate limiter (golang.org/x/time/rate) and
// an active-count gate for concurrency limits:
//
//	m := queue.NewManager(queue.Limit{Task: "reports.daily", MaxConcurrency: 2})
//	if m.Acquire(task) {
//	    defer m.Release(task)
//	    // run it
//	}
//
// Tasks without a [Limit] have no limits beyond the coordinator's worker
// slots.
package queue
