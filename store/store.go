// Package store defines the aggregate persistence interface. Each subsystem
// (job, run) defines its own store interface. The composite Store composes
// them all. Backends: Memory, Redis, and Postgres.
package store

import (
	"context"

	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, redis, memory) implements all of them.
type Store interface {
	job.Store
	run.Ledger

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
