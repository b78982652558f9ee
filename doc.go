// Package cadence is the scheduling and execution coordination core of a
// job scheduler. It decides when a job becomes due, whether it is eligible
// to run, dispatches due occurrences to workers in priority order, and
// keeps an append-only history of every run attempt.
//
// Cadence is designed as a library. Import it, configure a store, register
// task handlers as ordinary Go functions, and create jobs through the
// engine's administrative interface.
//
// # Quick Start
//
//	s, err := cadence.New(
//	    cadence.WithStore(pgStore),
//	    cadence.WithConcurrency(20),
//	)
//	eng, err := engine.Build(s)
//	eng.RegisterTask("reports.daily", buildReport)
//	j, err := eng.CreateJob(ctx, job.New("daily report",
//	    job.Task{Ref: "reports.daily"},
//	    trigger.Cron("0 6 * * *"),
//	    job.WithTimezone("Europe/Berlin"),
//	))
//	err = eng.Start(ctx)
//
// # Architecture
//
// Evaluators poll the job store for due jobs, claim them under a short
// lease, expand missed occurrences according to the catch-up policy, gate
// them on dependencies, and hand them over a bounded channel to the
// execution coordinator. The coordinator orders occurrences in a priority
// queue, runs them on a fixed number of worker slots, enforces timeouts and
// concurrency policy, schedules retries with exponential backoff, and
// records every attempt in the ledger.
//
// Each subsystem (job, run) defines its own store interface. A single
// backend (memory, redis, postgres) implements all of them.
package cadence
