// Package engine wires the cadence subsystems together and provides the
// administrative API for jobs and runs.
//
// # Building an Engine
//
//	s, err := cadence.New(
//	    cadence.WithStore(pgStore),
//	    cadence.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(s,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithTaskLimits(queue.Limit{Task: "mail.send", RateLimit: 10}),
//	)
//
// # Registering Tasks
//
// Jobs name the work they run with a task reference. Handlers are
// registered under those references before the engine starts; creating a
// job whose reference has no handler fails with cadence.ErrUnknownTask.
//
//	engine.Register(eng, job.NewDefinition("report.daily", GenerateReport))
//
// # Managing Jobs
//
//	j, err := eng.CreateJob(ctx, job.New("daily-report",
//	    job.Task{Ref: "report.daily"},
//	    trigger.Cron("0 9 * * *"),
//	    job.WithTimezone("Europe/Berlin"),
//	    job.WithMaxRetries(3),
//	))
//
//	eng.PauseJob(ctx, j.ID)
//	eng.ResumeJob(ctx, j.ID)
//	eng.ExecuteNow(ctx, j.ID)
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithNotifier]: register and run a failure notifier
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithBackend]: replace the in-process execution backend
//   - [WithBackoff]: set the retry backoff strategy
//   - [WithTaskLimits]: configure per-task rate limits and concurrency
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
