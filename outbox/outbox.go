// Package outbox records notification events inside the same transaction as
// the state change that produced them. Events therefore become visible if and
// only if the operation committed; the runtime drains them after each apply.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"pactchain/kv"
)

const (
	nextSeqKey     = "outbox/next"
	consumedSeqKey = "outbox/consumed"
)

// Message is one emitted event, ordered by Seq.
type Message struct {
	Seq     uint64          `json:"seq"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func messageKey(seq uint64) string {
	return fmt.Sprintf("outbox/msg/%020d", seq)
}

func loadCounter(ctx context.Context, tx kv.Tx, key string) (uint64, error) {
	raw, ok, err := tx.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("outbox: load counter: %w", err)
	}
	if !ok {
		return 0, nil
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("outbox: decode counter: %w", err)
	}
	return n, nil
}

func storeCounter(ctx context.Context, tx kv.Tx, key string, n uint64) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("outbox: encode counter: %w", err)
	}
	if err := tx.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("outbox: store counter: %w", err)
	}
	return nil
}

// Append enqueues an event in the caller's transaction.
func Append(ctx context.Context, tx kv.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}
	seq, err := loadCounter(ctx, tx, nextSeqKey)
	if err != nil {
		return err
	}
	msg := Message{Seq: seq, Topic: topic, Payload: body}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("outbox: marshal message: %w", err)
	}
	if err := tx.Put(ctx, messageKey(seq), raw); err != nil {
		return fmt.Errorf("outbox: enqueue: %w", err)
	}
	return storeCounter(ctx, tx, nextSeqKey, seq+1)
}

// Drain returns every message appended since the previous drain, in sequence
// order, and advances the consumed cursor in the caller's transaction.
func Drain(ctx context.Context, tx kv.Tx) ([]Message, error) {
	next, err := loadCounter(ctx, tx, nextSeqKey)
	if err != nil {
		return nil, err
	}
	consumed, err := loadCounter(ctx, tx, consumedSeqKey)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	for seq := consumed; seq < next; seq++ {
		raw, ok, err := tx.Get(ctx, messageKey(seq))
		if err != nil {
			return nil, fmt.Errorf("outbox: load message %d: %w", seq, err)
		}
		if !ok {
			return nil, fmt.Errorf("outbox: message %d missing", seq)
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("outbox: decode message %d: %w", seq, err)
		}
		msgs = append(msgs, msg)
	}
	if next != consumed {
		if err := storeCounter(ctx, tx, consumedSeqKey, next); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}
