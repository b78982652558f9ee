// Package job defines job definitions, their validation, the task handler
// registry, and the job store interface.
//
// # Job
//
// A [Job] pairs a schedule ([trigger.Schedule]) with an opaque [Task]: a
// task reference plus a JSON argument payload the scheduler never reads.
// It embeds [cadence.Entity] for timestamps. Fields of note:
//   - Priority: 1 to 10, higher values are dispatched first
//   - Timezone: IANA name the schedule is evaluated in (default UTC)
//   - MaxRetries / RetryBaseDelay / RetryMaxDelay: retry budget and backoff
//   - Timeout: per-run execution deadline (zero = unlimited)
//   - Dependencies: jobs that must have succeeded within a window
//   - Concurrency: allow, skip or queue overlapping runs
//   - CatchUp: latest or all missed occurrences after downtime
//
// The runtime fields NextFireAt, LastFiredAt and the Claim* lease are owned
// by the [Store]. Updating a definition or toggling Enabled releases any
// lease so the next evaluation sees the new definition.
//
// # Defining a Task
//
// Use [Definition] with a typed handler. Arguments are JSON-decoded before
// the handler runs:
//
//	var DailyReport = job.NewDefinition("reports.daily",
//	    func(ctx context.Context, in ReportArgs) error {
//	        return reports.Build(ctx, in.Region)
//	    },
//	)
//
// # Registry
//
// [Registry] maps task references to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, DailyReport)
package job
