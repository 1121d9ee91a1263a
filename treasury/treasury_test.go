package treasury

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"pactchain/kv"
	"pactchain/ledger"
	"pactchain/outbox"
)

func newTestTreasury(t *testing.T) (*Treasury, *ledger.Ledger, *kv.Memory) {
	t.Helper()
	store := kv.NewMemory()
	l := ledger.New(0)
	return New(store, l), l, store
}

func balance(t *testing.T, store kv.Store, l *ledger.Ledger, account string) ledger.Amount {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	amount, err := l.FreeBalance(ctx, tx, account)
	if err != nil {
		t.Fatalf("free balance: %v", err)
	}
	return amount
}

func drain(t *testing.T, store kv.Store) []outbox.Message {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	msgs, err := outbox.Drain(ctx, tx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit drain: %v", err)
	}
	return msgs
}

func TestOnCycleEnd_DistributesProRataAndResets(t *testing.T) {
	tr, l, store := newTestTreasury(t)
	ctx := context.Background()

	if err := tr.SetTicket(ctx, "a", 60); err != nil {
		t.Fatalf("set ticket a: %v", err)
	}
	if err := tr.SetTicket(ctx, "b", 40); err != nil {
		t.Fatalf("set ticket b: %v", err)
	}
	if err := tr.AddToBucket(ctx, 100); err != nil {
		t.Fatalf("accumulate: %v", err)
	}

	if err := tr.OnCycleEnd(ctx, 5); err != nil {
		t.Fatalf("on cycle end: %v", err)
	}

	if got := balance(t, store, l, "a"); got != 60 {
		t.Fatalf("expected a=60, got %d", got)
	}
	if got := balance(t, store, l, "b"); got != 40 {
		t.Fatalf("expected b=40, got %d", got)
	}

	bucket, err := tr.Bucket(ctx)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	if bucket != 0 {
		t.Fatalf("expected bucket reset to 0, got %d", bucket)
	}

	events := drain(t, store)
	if len(events) != 1 || events[0].Topic != TopicDistributionPerformed {
		t.Fatalf("expected one distribution event, got %v", events)
	}
	var payload struct {
		Total uint64 `json:"total"`
		Cycle uint64 `json:"cycle"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if payload.Total != 100 || payload.Cycle != 5 {
		t.Fatalf("unexpected event payload: %+v", payload)
	}
}

func TestOnCycleEnd_EmptyBucketDoesNothing(t *testing.T) {
	tr, l, store := newTestTreasury(t)
	ctx := context.Background()

	if err := tr.SetTicket(ctx, "a", 100); err != nil {
		t.Fatalf("set ticket: %v", err)
	}
	if err := tr.OnCycleEnd(ctx, 1); err != nil {
		t.Fatalf("on cycle end: %v", err)
	}

	if got := balance(t, store, l, "a"); got != 0 {
		t.Fatalf("expected no credit, got %d", got)
	}
	if events := drain(t, store); len(events) != 0 {
		t.Fatalf("expected no event for empty bucket, got %v", events)
	}
}

func TestOnCycleEnd_PayoutRoundsDown(t *testing.T) {
	tr, l, store := newTestTreasury(t)
	ctx := context.Background()

	if err := tr.SetTicket(ctx, "a", 33); err != nil {
		t.Fatalf("set ticket: %v", err)
	}
	if err := tr.AddToBucket(ctx, 10); err != nil {
		t.Fatalf("accumulate: %v", err)
	}
	if err := tr.OnCycleEnd(ctx, 0); err != nil {
		t.Fatalf("on cycle end: %v", err)
	}

	// floor(33 * 10 / 100) = 3
	if got := balance(t, store, l, "a"); got != 3 {
		t.Fatalf("expected floored payout 3, got %d", got)
	}
}

func TestAddToBucket_Saturates(t *testing.T) {
	tr, _, _ := newTestTreasury(t)
	ctx := context.Background()

	if err := tr.AddToBucket(ctx, math.MaxUint64); err != nil {
		t.Fatalf("accumulate: %v", err)
	}
	if err := tr.AddToBucket(ctx, 1); err != nil {
		t.Fatalf("accumulate past max: %v", err)
	}
	bucket, err := tr.Bucket(ctx)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	if bucket != math.MaxUint64 {
		t.Fatalf("expected saturated bucket, got %d", bucket)
	}
}

func TestWeightedShare_OverflowSaturates(t *testing.T) {
	// weight * bucket exceeds 64 bits; the 128-bit intermediate keeps the
	// quotient exact.
	if got := weightedShare(50, math.MaxUint64); got != ledger.Amount(math.MaxUint64/2) {
		t.Fatalf("expected exact wide-precision quotient, got %d", got)
	}
	// A quotient beyond the balance range saturates instead of wrapping.
	if got := weightedShare(math.MaxUint64, math.MaxUint64); got != math.MaxUint64 {
		t.Fatalf("expected saturated payout, got %d", got)
	}
}
