// Package postgres implements store.Store using pgx/v5 with raw SQL.
// Claims use SKIP LOCKED and job slots a conditional upsert. The schema
// enforces the unique ledger key, and migrations are embedded SQL files.
package postgres
