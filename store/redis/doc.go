// Package redis implements store.Store on Redis for deployments that already
// run Redis and want claims without a relational database.
//
// Jobs are Hashes with a Sorted Set due index scored by next fire time.
// Claims are granted, renewed, confirmed and reaped by Lua scripts so the
// token check and the write happen atomically. Ledger attempts are
// msgpack-encoded and indexed per job in Sorted Sets scored by scheduled
// time. Job slots are plain String keys that expire through PX and are only
// changed by their holder.
//
// The scripts touch job keys they compute from the prefix, so the store
// expects a standalone Redis or a single-slot deployment.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
