// Package db provides the PostgreSQL implementation of the injected kv.Store.
// The state-transition core never imports this package; deployments that want
// durable state hand a *Store to the runtime instead of the in-memory map.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pactchain/kv"
)

// Store satisfies kv.Store over a single kvs(key, value) table, one pgx
// transaction per kv.Tx. Serializable isolation keeps re-executed sequences
// in line with the in-memory store's one-at-a-time semantics.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for the connection string and returns a schema-ready
// store.
func Connect(ctx context.Context, connString string) (*Store, error) {
	if connString == "" {
		return nil, fmt.Errorf("db: empty connection string")
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("db: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	store := NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the backing table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS kvs (
    key   TEXT PRIMARY KEY,
    value BYTEA NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("db: ensure schema: %w", err)
	}
	return nil
}

// Reset drops all rows. Test harnesses use it when pointed at a reused
// database.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE kvs`); err != nil {
		return fmt.Errorf("db: reset: %w", err)
	}
	return nil
}

func (s *Store) Begin(ctx context.Context) (kv.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("db: begin tx: %w", err)
	}
	return &storeTx{tx: tx}, nil
}

type storeTx struct {
	tx pgx.Tx
}

func (t *storeTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := t.tx.QueryRow(ctx, `SELECT value FROM kvs WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("db: get %s: %w", key, err)
	}
	return value, true, nil
}

func (t *storeTx) Put(ctx context.Context, key string, value []byte) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO kvs (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("db: put %s: %w", key, err)
	}
	return nil
}

func (t *storeTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *storeTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
