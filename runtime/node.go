// Package runtime is the host side of the core: it owns the settlement-cycle
// counter, applies genesis state, and invokes the treasury's end-of-cycle
// hook exactly once per cycle after all ordinary operations.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"pactchain/agreement"
	"pactchain/kv"
	"pactchain/ledger"
	"pactchain/outbox"
	"pactchain/treasury"
)

const cycleKey = "runtime/cycle"

// Config carries the deployment parameters the node wires into its services.
type Config struct {
	ExistentialDeposit      ledger.Amount
	MaxAgreementsPerAccount uint32
}

// Genesis is the bootstrap state applied once on an empty store.
type Genesis struct {
	Balances     map[string]ledger.Amount
	FirstFounder string
}

// Node wires the store, the balance adapter, and both ledgers into one
// sequenced execution environment.
type Node struct {
	store      kv.Store
	ledger     *ledger.Ledger
	agreements *agreement.Service
	treasury   *treasury.Treasury
	cycle      uint64
}

func NewNode(ctx context.Context, store kv.Store, cfg Config) (*Node, error) {
	n := &Node{store: store}
	n.ledger = ledger.New(cfg.ExistentialDeposit)
	n.agreements = agreement.NewService(store, n.ledger, n, agreement.Config{
		MaxAgreementsPerAccount: cfg.MaxAgreementsPerAccount,
	})
	n.treasury = treasury.New(store, n.ledger)

	cycle, err := n.loadCycle(ctx)
	if err != nil {
		return nil, err
	}
	n.cycle = cycle
	return n, nil
}

// Agreements exposes the agreement state machine operation surface.
func (n *Node) Agreements() *agreement.Service { return n.agreements }

// Treasury exposes the accumulation entry point and treasury reads.
func (n *Node) Treasury() *treasury.Treasury { return n.treasury }

// Ledger exposes the balance custody adapter.
func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

// Store exposes the backing store for read-only inspection.
func (n *Node) Store() kv.Store { return n.store }

// CycleNumber returns the current settlement-cycle sequence number.
func (n *Node) CycleNumber() uint64 { return n.cycle }

// ApplyGenesis seeds initial balances and, when configured, the first founder
// ticket at weight 100.
func (n *Node) ApplyGenesis(ctx context.Context, genesis Genesis) error {
	tx, err := n.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("runtime: begin genesis tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for account, amount := range genesis.Balances {
		if err := n.ledger.SetBalance(ctx, tx, account, amount); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("runtime: commit genesis: %w", err)
	}

	if genesis.FirstFounder != "" {
		if err := n.treasury.SetTicket(ctx, genesis.FirstFounder, 100); err != nil {
			return err
		}
	}
	return nil
}

// EndCycle closes the current settlement cycle: it runs the treasury
// distribution hook once, drains the events every operation of the cycle
// appended, and advances the cycle counter. Events surface only here, after
// their producing transactions committed.
func (n *Node) EndCycle(ctx context.Context) ([]outbox.Message, error) {
	if err := n.treasury.OnCycleEnd(ctx, n.cycle); err != nil {
		return nil, err
	}

	events, err := n.DrainEvents(ctx)
	if err != nil {
		return nil, err
	}

	if err := n.storeCycle(ctx, n.cycle+1); err != nil {
		return nil, err
	}
	n.cycle++
	return events, nil
}

// DrainEvents returns all committed events since the previous drain.
func (n *Node) DrainEvents(ctx context.Context) ([]outbox.Message, error) {
	tx, err := n.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: begin drain tx: %w", err)
	}
	defer tx.Rollback(ctx)

	events, err := outbox.Drain(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("runtime: commit drain: %w", err)
	}
	return events, nil
}

func (n *Node) loadCycle(ctx context.Context) (uint64, error) {
	tx, err := n.store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("runtime: begin cycle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	raw, ok, err := tx.Get(ctx, cycleKey)
	if err != nil {
		return 0, fmt.Errorf("runtime: load cycle: %w", err)
	}
	if !ok {
		return 0, nil
	}
	var cycle uint64
	if err := json.Unmarshal(raw, &cycle); err != nil {
		return 0, fmt.Errorf("runtime: decode cycle: %w", err)
	}
	return cycle, nil
}

func (n *Node) storeCycle(ctx context.Context, cycle uint64) error {
	tx, err := n.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("runtime: begin cycle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	raw, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("runtime: encode cycle: %w", err)
	}
	if err := tx.Put(ctx, cycleKey, raw); err != nil {
		return fmt.Errorf("runtime: store cycle: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("runtime: commit cycle: %w", err)
	}
	return nil
}
