// Package oracles checks the cross-operation invariants of a node after a
// scripted run: custody conservation, index bounds, and bilateral indexing.
package oracles

import (
	"context"
	"fmt"

	"pactchain/agreement"
	"pactchain/ledger"
	"pactchain/runtime"
)

// Run evaluates every oracle. It returns the name and detail of the first
// failing oracle, or empty strings when all hold.
func Run(ctx context.Context, node *runtime.Node, accounts []string, createdIDs []agreement.ID, initialIssuance, distributed uint64, maxPerAccount int) (string, string, error) {
	if name, detail, err := custodyConservation(ctx, node, accounts, createdIDs, initialIssuance, distributed); name != "" || err != nil {
		return name, detail, err
	}
	if name, detail, err := indexInvariants(ctx, node, accounts, maxPerAccount); name != "" || err != nil {
		return name, detail, err
	}
	return "", "", nil
}

// custodyConservation: every unit issued at genesis or minted by distribution
// is either in an account balance or custodied by a live agreement. Nothing
// leaks, nothing is duplicated.
func custodyConservation(ctx context.Context, node *runtime.Node, accounts []string, createdIDs []agreement.ID, initialIssuance, distributed uint64) (string, string, error) {
	var balances uint64
	for _, account := range accounts {
		amount, err := freeBalance(ctx, node, account)
		if err != nil {
			return "", "", err
		}
		balances += uint64(amount)
	}

	var custodied uint64
	for _, id := range createdIDs {
		record, err := node.Agreements().Get(ctx, id)
		if err != nil {
			return "", "", err
		}
		switch record.Status {
		case agreement.StatusNotSigned, agreement.StatusSigned, agreement.StatusInReview:
			custodied += uint64(record.Value)
		}
	}

	bucket, err := node.Treasury().Bucket(ctx)
	if err != nil {
		return "", "", err
	}
	_ = bucket // accumulated value is minted by the revenue source, tracked via distributed

	want := initialIssuance + distributed
	got := balances + custodied
	if got != want {
		return "O1_custody_conservation", fmt.Sprintf("balances+custody=%d want=%d", got, want), nil
	}
	return "", "", nil
}

// indexInvariants: no account's index exceeds the cap, and every live
// agreement is reachable from both parties' indices exactly once.
func indexInvariants(ctx context.Context, node *runtime.Node, accounts []string, maxPerAccount int) (string, string, error) {
	for _, account := range accounts {
		ids, err := node.Agreements().UserAgreements(ctx, account)
		if err != nil {
			return "", "", err
		}
		if len(ids) > maxPerAccount {
			return "O2_index_bound", fmt.Sprintf("account %s has %d entries, cap %d", account, len(ids), maxPerAccount), nil
		}
		seen := make(map[agreement.ID]int, len(ids))
		for _, id := range ids {
			seen[id]++
			if seen[id] > 1 {
				return "O3_index_unique", fmt.Sprintf("account %s indexes %s twice", account, id), nil
			}
			record, err := node.Agreements().Get(ctx, id)
			if err != nil {
				return "", "", fmt.Errorf("indexed agreement %s: %w", id, err)
			}
			if record.Contractor != account && record.Hired != account {
				return "O4_index_party", fmt.Sprintf("account %s indexes foreign agreement %s", account, id), nil
			}
		}
	}
	return "", "", nil
}

func freeBalance(ctx context.Context, node *runtime.Node, account string) (ledger.Amount, error) {
	tx, err := node.Store().Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	return node.Ledger().FreeBalance(ctx, tx, account)
}
