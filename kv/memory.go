package kv

import (
	"context"
	"fmt"
	"sync"
)

// Memory is the in-process Store. Transactions are serialized by a single
// mutex, which matches the execution model: one totally-ordered transaction
// at a time, no parallelism inside the core.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	m.mu.Lock()
	return &memoryTx{store: m, writes: make(map[string][]byte)}, nil
}

// Snapshot copies the committed state. Used by oracles comparing replicas.
func (m *Memory) Snapshot() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

type memoryTx struct {
	store  *Memory
	writes map[string][]byte
	done   bool
}

func (t *memoryTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if t.done {
		return nil, false, fmt.Errorf("kv: get on finished transaction")
	}
	if v, ok := t.writes[key]; ok {
		return append([]byte(nil), v...), true, nil
	}
	v, ok := t.store.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *memoryTx) Put(ctx context.Context, key string, value []byte) error {
	if t.done {
		return fmt.Errorf("kv: put on finished transaction")
	}
	t.writes[key] = append([]byte(nil), value...)
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("kv: commit on finished transaction")
	}
	for k, v := range t.writes {
		t.store.data[k] = v
	}
	t.finish()
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memoryTx) finish() {
	t.done = true
	t.writes = nil
	t.store.mu.Unlock()
}
