// Package coordinator runs occurrences on a fixed number of worker slots.
//
// The coordinator receives ready occurrences from evaluators through a
// bounded intake channel (or directly through Submit for manual runs),
// applies the job's concurrency policy, orders them in the priority
// dispatch queue and hands them to worker slots. Each attempt moves
// through
//
//	pending → running → succeeded | failed | timed_out | cancelled
//
// and is written to the ledger when it starts and once more when it
// finishes. Failed and timed out attempts are handed to the retry
// controller; a scheduled retry keeps the occurrence's job slot until the
// lineage reaches a terminal state.
//
// Skip and queue policies also hold across processes sharing a store. A
// lineage takes the job's slot in the store (job.Slots) before it is
// queued and renews it until it is done.
//
// Timeouts and cancellation cancel the attempt's context. A backend that
// does not return within the cancel grace period is abandoned and the
// attempt is force-finalized so the slot is freed.
//
// Task bodies run behind the [Backend] interface. [LocalBackend] resolves
// task references through a job.Registry and wraps each call in the
// middleware chain.
package coordinator
