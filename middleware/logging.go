package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/cadence/run"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, occ *run.Occurrence, next Handler) error {
		attrs := []any{
			slog.String("job_name", occ.Job.Name),
			slog.String("job_id", occ.Job.ID.String()),
			slog.String("task", occ.Job.Task.Ref),
			slog.Int("attempt", occ.Attempt),
			slog.Time("scheduled_time", occ.ScheduledTime),
		}
		logger.Info("run started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Error("run failed", append(attrs, slog.String("error", err.Error()))...)
		} else {
			logger.Info("run completed", attrs...)
		}

		return err
	}
}
