// Package kv defines the key-value store the state-transition core runs
// against. The host environment provides the real backing map; the core only
// ever sees these interfaces, so tests can substitute an in-memory store and
// assert atomicity directly.
package kv

import "context"

// Store hands out transactions. It abstracts the backing map for testability,
// mirroring how services elsewhere abstract their connection pool.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single atomic unit of work. Writes buffer until Commit and are
// discarded by Rollback; reads within the transaction observe its own earlier
// writes. Rollback after Commit is a no-op so callers can `defer tx.Rollback`.
type Tx interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
