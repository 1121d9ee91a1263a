// Package actors generates reproducible operation scripts for the
// determinism and storage-parity harnesses. A script produced from a seed is
// applied verbatim to every replica; whether an individual operation succeeds
// or fails is itself part of the behavior under test.
package actors

import (
	"context"
	"fmt"
	"math/rand"

	"pactchain/agreement"
	"pactchain/ledger"
	"pactchain/outbox"
	"pactchain/runtime"
)

type OpKind int

const (
	OpCreate OpKind = iota
	OpCancel
	OpSign
	OpUnsign
	OpSetReview
	OpAccept
	OpAccumulate
	OpEndCycle
)

// Op is one scripted invocation against the public operation surface.
// Agreement ids are referenced by creation ordinal, not by hash, so the
// script stays replayable on any replica.
type Op struct {
	Kind      OpKind
	Caller    string
	Hired     string
	Value     ledger.Amount
	Info      agreement.InfoHash
	TargetOrd int
}

// Script generates n operations over the account set. Roughly half target
// the agreement ledger with deliberately mixed-validity calls; the rest
// accumulate treasury value and close cycles.
func Script(rng *rand.Rand, accounts []string, n int) []Op {
	ops := make([]Op, 0, n)
	created := 0
	for i := 0; i < n; i++ {
		caller := accounts[rng.Intn(len(accounts))]
		switch rng.Intn(10) {
		case 0, 1, 2:
			ops = append(ops, Op{
				Kind:   OpCreate,
				Caller: caller,
				Hired:  accounts[rng.Intn(len(accounts))],
				Value:  ledger.Amount(rng.Intn(50) + 1),
				Info:   agreement.HashInfo([]byte(fmt.Sprintf("terms-%d", rng.Int63()))),
			})
			created++
		case 3:
			ops = append(ops, Op{Kind: OpCancel, Caller: caller, TargetOrd: rng.Intn(created + 1)})
		case 4, 5:
			ops = append(ops, Op{Kind: OpSign, Caller: caller, TargetOrd: rng.Intn(created + 1)})
		case 6:
			ops = append(ops, Op{Kind: OpUnsign, Caller: caller, TargetOrd: rng.Intn(created + 1)})
		case 7:
			ops = append(ops, Op{Kind: OpSetReview, Caller: caller, TargetOrd: rng.Intn(created + 1)})
		case 8:
			ops = append(ops, Op{Kind: OpAccept, Caller: caller, TargetOrd: rng.Intn(created + 1)})
		default:
			if rng.Intn(4) == 0 {
				ops = append(ops, Op{Kind: OpEndCycle})
			} else {
				ops = append(ops, Op{Kind: OpAccumulate, Value: ledger.Amount(rng.Intn(1000))})
			}
		}
	}
	return ops
}

// Result is everything a replayed script produced: the outcome of every
// operation (errors included), the created agreement ids in creation order,
// and all events the run emitted.
type Result struct {
	Outcomes []string
	Created  []agreement.ID
	Events   []outbox.Message
}

// Replay applies the script in order.
func Replay(ctx context.Context, node *runtime.Node, ops []Op) (Result, error) {
	outcomes := make([]string, 0, len(ops))
	var createdIDs []agreement.ID
	var events []outbox.Message

	target := func(op Op) (agreement.ID, bool) {
		if len(createdIDs) == 0 {
			return "", false
		}
		return createdIDs[op.TargetOrd%len(createdIDs)], true
	}

	for i, op := range ops {
		var err error
		switch op.Kind {
		case OpCreate:
			var id agreement.ID
			id, err = node.Agreements().Create(ctx, op.Caller, op.Hired, op.Value, op.Info)
			if err == nil {
				createdIDs = append(createdIDs, id)
			}
		case OpCancel:
			if id, ok := target(op); ok {
				err = node.Agreements().Cancel(ctx, op.Caller, id)
			}
		case OpSign:
			if id, ok := target(op); ok {
				err = node.Agreements().Sign(ctx, op.Caller, id)
			}
		case OpUnsign:
			if id, ok := target(op); ok {
				err = node.Agreements().Unsign(ctx, op.Caller, id)
			}
		case OpSetReview:
			if id, ok := target(op); ok {
				err = node.Agreements().SetReview(ctx, op.Caller, id)
			}
		case OpAccept:
			if id, ok := target(op); ok {
				err = node.Agreements().Accept(ctx, op.Caller, id)
			}
		case OpAccumulate:
			err = node.Treasury().AddToBucket(ctx, uint64(op.Value))
		case OpEndCycle:
			var cycleEvents []outbox.Message
			cycleEvents, err = node.EndCycle(ctx)
			if err != nil {
				return Result{}, fmt.Errorf("op %d: end cycle: %w", i, err)
			}
			events = append(events, cycleEvents...)
		}
		outcomes = append(outcomes, fmt.Sprintf("%d:%v", i, err))
	}

	trailing, err := node.DrainEvents(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("drain trailing events: %w", err)
	}
	events = append(events, trailing...)

	return Result{Outcomes: outcomes, Created: createdIDs, Events: events}, nil
}
