// Package run defines occurrences, run attempts, and the execution history
// ledger.
//
// An [Occurrence] is created by an evaluator for each due fire time (or by
// an operator's execute-now request) and flows through the dispatch queue.
// Each execution try of it is recorded as an [Attempt]:
//
//	pending → running → succeeded
//	pending → running → failed | timed_out → (retry: new attempt)
//	pending → running → cancelled
//	pending → skipped
//
// The [Ledger] is append-only. Attempts are keyed by (job, scheduled
// time, attempt number) and become immutable once finalized. Dependency
// checks read only finalized attempts through [Ledger.LatestFinalized].
package run
