package notify

import (
	"log/slog"
	"time"

	"github.com/xraph/cadence/clock"
)

// Option configures a Notifier.
type Option func(*Notifier)

// WithEvents restricts the notifier to the listed event types.
func WithEvents(events ...string) Option {
	return func(n *Notifier) {
		n.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			n.enabled[e] = true
		}
	}
}

// WithBuffer sets the number of notifications held for delivery before
// new ones are dropped.
func WithBuffer(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.bufSize = size
		}
	}
}

// WithSendTimeout bounds each Transport.Send call.
func WithSendTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.sendTimeout = d }
}

// WithLogger sets the logger for delivery errors and drops.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// WithClock sets the clock used to stamp notifications.
func WithClock(c clock.Clock) Option {
	return func(n *Notifier) { n.clock = c }
}
