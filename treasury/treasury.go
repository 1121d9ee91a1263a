// Package treasury accumulates contributed value into a shared bucket and
// redistributes it pro-rata to ticket holders once per settlement cycle.
package treasury

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/bits"
	"sort"

	"pactchain/kv"
	"pactchain/ledger"
	"pactchain/outbox"
)

// TopicDistributionPerformed carries the pre-reset bucket total and the cycle.
const TopicDistributionPerformed = "treasury.distributed"

const (
	bucketKey     = "treasury/bucket"
	ticketListKey = "treasury/tickets"
)

func ticketKey(account string) string {
	return "treasury/ticket/" + account
}

// Payout is the credited share for one ticket holder, computed in tests and
// by the distribution hook.
type Payout struct {
	Account string
	Value   ledger.Amount
}

// Depositor is the slice of the balance adapter distribution needs.
type Depositor interface {
	DepositCreating(ctx context.Context, tx kv.Tx, account string, value ledger.Amount) (ledger.Amount, error)
}

// Treasury owns the bucket and the ticket map. Tickets are percentage points
// out of 100; the weights summing to at most 100 is a deployment invariant,
// not checked at runtime.
type Treasury struct {
	store     kv.Store
	depositor Depositor
}

func New(store kv.Store, depositor Depositor) *Treasury {
	return &Treasury{store: store, depositor: depositor}
}

func loadUint64(ctx context.Context, tx kv.Tx, key string) (uint64, bool, error) {
	raw, ok, err := tx.Get(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("treasury: load %s: %w", key, err)
	}
	if !ok {
		return 0, false, nil
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false, fmt.Errorf("treasury: decode %s: %w", key, err)
	}
	return n, true, nil
}

func storeUint64(ctx context.Context, tx kv.Tx, key string, n uint64) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("treasury: encode %s: %w", key, err)
	}
	if err := tx.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("treasury: store %s: %w", key, err)
	}
	return nil
}

// AddToBucket saturating-adds value into the bucket. Callers authorize
// themselves; this entry point performs no checks by contract.
func (t *Treasury) AddToBucket(ctx context.Context, value uint64) error {
	tx, err := t.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("treasury: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	bucket, _, err := loadUint64(ctx, tx, bucketKey)
	if err != nil {
		return err
	}
	if bucket > math.MaxUint64-value {
		bucket = math.MaxUint64
	} else {
		bucket += value
	}
	if err := storeUint64(ctx, tx, bucketKey, bucket); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("treasury: commit accumulate: %w", err)
	}
	return nil
}

// Bucket reads the current accumulator.
func (t *Treasury) Bucket(ctx context.Context) (uint64, error) {
	tx, err := t.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("treasury: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	bucket, _, err := loadUint64(ctx, tx, bucketKey)
	return bucket, err
}

// SetTicket writes one account's weight and keeps the ticket list sorted so
// iteration order is stable across replicas. Bootstrap and administration
// only; the distribution cycle treats tickets as read-only.
func (t *Treasury) SetTicket(ctx context.Context, account string, weight uint64) error {
	tx, err := t.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("treasury: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := setTicketInTx(ctx, tx, account, weight); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("treasury: commit ticket: %w", err)
	}
	return nil
}

func setTicketInTx(ctx context.Context, tx kv.Tx, account string, weight uint64) error {
	accounts, err := loadTicketList(ctx, tx)
	if err != nil {
		return err
	}
	known := false
	for _, a := range accounts {
		if a == account {
			known = true
			break
		}
	}
	if !known {
		accounts = append(accounts, account)
		sort.Strings(accounts)
		raw, err := json.Marshal(accounts)
		if err != nil {
			return fmt.Errorf("treasury: encode ticket list: %w", err)
		}
		if err := tx.Put(ctx, ticketListKey, raw); err != nil {
			return fmt.Errorf("treasury: store ticket list: %w", err)
		}
	}
	return storeUint64(ctx, tx, ticketKey(account), weight)
}

func loadTicketList(ctx context.Context, tx kv.Tx) ([]string, error) {
	raw, ok, err := tx.Get(ctx, ticketListKey)
	if err != nil {
		return nil, fmt.Errorf("treasury: load ticket list: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("treasury: decode ticket list: %w", err)
	}
	return accounts, nil
}

// OnCycleEnd distributes the bucket pro-rata by ticket weight and resets it.
// The host invokes it exactly once per settlement cycle, after all ordinary
// operations. An empty bucket means no credits and no event.
func (t *Treasury) OnCycleEnd(ctx context.Context, cycle uint64) error {
	tx, err := t.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("treasury: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	bucket, _, err := loadUint64(ctx, tx, bucketKey)
	if err != nil {
		return err
	}
	if bucket == 0 {
		return tx.Rollback(ctx)
	}

	accounts, err := loadTicketList(ctx, tx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		weight, _, err := loadUint64(ctx, tx, ticketKey(account))
		if err != nil {
			return err
		}
		payout := weightedShare(weight, bucket)
		if payout == 0 {
			continue
		}
		if _, err := t.depositor.DepositCreating(ctx, tx, account, payout); err != nil {
			return err
		}
	}

	if err := outbox.Append(ctx, tx, TopicDistributionPerformed, map[string]any{
		"total": bucket,
		"cycle": cycle,
	}); err != nil {
		return err
	}
	if err := storeUint64(ctx, tx, bucketKey, 0); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("treasury: commit distribution: %w", err)
	}
	return nil
}

// weightedShare computes floor(weight * bucket / 100) through a 128-bit
// intermediate, saturating instead of wrapping when the quotient itself
// exceeds the balance range.
func weightedShare(weight, bucket uint64) ledger.Amount {
	hi, lo := bits.Mul64(weight, bucket)
	if hi >= 100 {
		return math.MaxUint64
	}
	quo, _ := bits.Div64(hi, lo, 100)
	return ledger.Amount(quo)
}
