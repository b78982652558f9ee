// Package notify delivers run lifecycle notifications to an external
// Transport. When registered as an extension it turns lifecycle hooks
// (run failed, retrying, skipped, ...) into [Notification] values and
// hands them to the transport from a background goroutine.
//
// Delivery is fire-and-forget: hooks never block the run pipeline. The
// buffer between hooks and the sender is bounded; when it is full the
// notification is dropped and the drop is logged.
//
// Usage:
//
//	n := notify.New(notify.NewRedisTransport(rdb, "cadence:notifications"),
//	    notify.WithEvents(notify.EventRunFailed),
//	)
//	engine.WithExtension(n)
package notify
