package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Transport delivers one notification. Implementations should respect ctx
// cancellation; the sender applies a per-send timeout.
type Transport interface {
	Send(ctx context.Context, n *Notification) error
}

// TransportFunc adapts a function to a Transport.
type TransportFunc func(ctx context.Context, n *Notification) error

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, n *Notification) error { return f(ctx, n) }

// ──────────────────────────────────────────────────
// Log
// ──────────────────────────────────────────────────

// LogTransport writes notifications to a logger. Useful in development.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a LogTransport. A nil logger uses slog.Default().
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

// Send implements Transport.
func (t *LogTransport) Send(ctx context.Context, n *Notification) error {
	t.logger.InfoContext(ctx, "notification",
		slog.String("type", n.Type),
		slog.String("job_id", n.JobID),
		slog.String("job_name", n.JobName),
		slog.String("run_id", n.RunID),
		slog.String("reason", string(n.Reason)),
		slog.String("error", n.Error),
	)
	return nil
}

// ──────────────────────────────────────────────────
// Redis pub/sub
// ──────────────────────────────────────────────────

// RedisTransport publishes notifications as JSON on a Redis channel.
type RedisTransport struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisTransport creates a RedisTransport publishing on channel.
func NewRedisTransport(client redis.UniversalClient, channel string) *RedisTransport {
	return &RedisTransport{client: client, channel: channel}
}

// Send implements Transport.
func (t *RedisTransport) Send(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("notify/redis: marshal: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel, data).Err(); err != nil {
		return fmt.Errorf("notify/redis: publish: %w", err)
	}
	return nil
}
