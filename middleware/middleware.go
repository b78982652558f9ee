// Package middleware provides composable middleware for task execution.
// Middleware wraps handler calls synchronously and can observe or modify
// an attempt (recover from panics, log, add tracing, etc.).
package middleware

import (
	"context"

	"github.com/xraph/cadence/run"
)

// Handler is the terminal function that runs the task body.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the occurrence being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, occ *run.Occurrence, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, tracing) executes as:
//
//	logging → recover → tracing → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, occ *run.Occurrence, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, occ, prev)
			}
		}
		return h(ctx)
	}
}
