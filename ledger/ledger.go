// Package ledger is the balance custody adapter: atomic withdraw and deposit
// primitives over the injected kv store. Agreement escrow and treasury
// distribution both move value exclusively through this package.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pactchain/kv"
)

var (
	// ErrBalanceTooLow signals the account cannot cover the requested withdrawal.
	ErrBalanceTooLow = errors.New("ledger: balance too low")
	// ErrWouldKill signals a keep-alive withdrawal would drop the account below
	// the existential deposit.
	ErrWouldKill = errors.New("ledger: withdrawal would kill account")
	// ErrNoAccount signals a deposit into an account that holds no balance entry.
	ErrNoAccount = errors.New("ledger: account has no balance entry")
)

// WithdrawReason tags why value leaves an account. The core only reserves.
type WithdrawReason string

const (
	ReasonReserve WithdrawReason = "reserve"
	ReasonFee     WithdrawReason = "fee"
)

// ExistenceRequirement controls whether a withdrawal may empty the account
// past the existential deposit.
type ExistenceRequirement int

const (
	KeepAlive ExistenceRequirement = iota
	AllowDeath
)

// Ledger reads and writes per-account balances inside a caller-supplied
// transaction. It never begins or commits transactions itself: the operation
// that moves funds owns the atomic unit.
type Ledger struct {
	existentialDeposit Amount
}

func New(existentialDeposit Amount) *Ledger {
	return &Ledger{existentialDeposit: existentialDeposit}
}

func balanceKey(account string) string {
	return "balance/" + account
}

// FreeBalance returns the account's spendable balance, zero if the account
// has no entry.
func (l *Ledger) FreeBalance(ctx context.Context, tx kv.Tx, account string) (Amount, error) {
	_, amount, err := l.load(ctx, tx, account)
	return amount, err
}

func (l *Ledger) load(ctx context.Context, tx kv.Tx, account string) (bool, Amount, error) {
	raw, ok, err := tx.Get(ctx, balanceKey(account))
	if err != nil {
		return false, 0, fmt.Errorf("ledger: load balance: %w", err)
	}
	if !ok {
		return false, 0, nil
	}
	var amount Amount
	if err := json.Unmarshal(raw, &amount); err != nil {
		return false, 0, fmt.Errorf("ledger: decode balance: %w", err)
	}
	return true, amount, nil
}

func (l *Ledger) save(ctx context.Context, tx kv.Tx, account string, amount Amount) error {
	raw, err := json.Marshal(amount)
	if err != nil {
		return fmt.Errorf("ledger: encode balance: %w", err)
	}
	if err := tx.Put(ctx, balanceKey(account), raw); err != nil {
		return fmt.Errorf("ledger: store balance: %w", err)
	}
	return nil
}

// Withdraw removes value from the account. With KeepAlive the remainder must
// stay at or above the existential deposit; the whole enclosing operation is
// expected to roll back when this fails.
func (l *Ledger) Withdraw(ctx context.Context, tx kv.Tx, account string, value Amount, reason WithdrawReason, existence ExistenceRequirement) error {
	_, balance, err := l.load(ctx, tx, account)
	if err != nil {
		return err
	}
	if value > balance {
		return ErrBalanceTooLow
	}
	remainder := balance - value
	if existence == KeepAlive && remainder < l.existentialDeposit {
		return ErrWouldKill
	}
	return l.save(ctx, tx, account, remainder)
}

// DepositIntoExisting credits value to an account that already holds a
// balance entry; the credit saturates rather than wrapping.
func (l *Ledger) DepositIntoExisting(ctx context.Context, tx kv.Tx, account string, value Amount) error {
	exists, balance, err := l.load(ctx, tx, account)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNoAccount
	}
	return l.save(ctx, tx, account, balance.SaturatingAdd(value))
}

// DepositCreating credits value, creating the balance entry if absent. It
// never fails on account state and returns the credited amount.
func (l *Ledger) DepositCreating(ctx context.Context, tx kv.Tx, account string, value Amount) (Amount, error) {
	_, balance, err := l.load(ctx, tx, account)
	if err != nil {
		return 0, err
	}
	if err := l.save(ctx, tx, account, balance.SaturatingAdd(value)); err != nil {
		return 0, err
	}
	return value, nil
}

// SetBalance force-writes an account balance. Genesis and test seeding only.
func (l *Ledger) SetBalance(ctx context.Context, tx kv.Tx, account string, value Amount) error {
	return l.save(ctx, tx, account, value)
}
