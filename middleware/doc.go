// Package middleware provides composable middleware for task execution.
//
// A [Middleware] wraps a task handler. Middleware are composed into a
// chain using [Chain] and applied around every attempt the local backend
// runs. They are applied right-to-left: the first middleware in the slice
// is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs job, task, attempt, duration and outcome
//   - [Recover]: catches panics and converts them to errors
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-task duration and outcome counters
//
// Timeouts are enforced by the coordinator, not by middleware.
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, occ *run.Occurrence, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
package middleware
