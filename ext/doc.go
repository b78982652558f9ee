// Package ext defines the extension system for cadence.
//
// Extensions are notified of lifecycle events and can react to them, for
// example by recording metrics or sending notifications. Each lifecycle
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnRunSucceeded(ctx context.Context, a *run.Attempt, elapsed time.Duration) error {
//	    log.Printf("run %s of %s succeeded in %s", a.ID, a.JobName, elapsed)
//	    return nil
//	}
//
// # Run Lifecycle Hooks
//
//   - [OccurrenceFired]: the evaluator emitted a due occurrence
//   - [RunStarted]: a worker slot began an attempt
//   - [RunSucceeded]: the attempt finished successfully
//   - [RunFailed]: the occurrence failed with no retries remaining
//   - [RunRetrying]: the attempt failed and will be retried
//   - [RunSkipped]: the occurrence was recorded as skipped
//   - [RunCancelled]: the attempt was cancelled
//
// # Job Hooks
//
//   - [JobPaused] and [JobResumed]: a job's enabled flag changed
//   - [Shutdown]: the scheduler is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never interrupt the pipeline.
package ext
