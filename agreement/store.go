package agreement

import (
	"context"
	"encoding/json"
	"fmt"

	"pactchain/kv"
)

func recordKey(id ID) string {
	return "agreement/" + string(id)
}

func indexKey(account string) string {
	return "useragreements/" + account
}

func loadRecord(ctx context.Context, tx kv.Tx, id ID) (Agreement, bool, error) {
	raw, ok, err := tx.Get(ctx, recordKey(id))
	if err != nil {
		return Agreement{}, false, fmt.Errorf("agreement: load record: %w", err)
	}
	if !ok {
		return Agreement{}, false, nil
	}
	var a Agreement
	if err := json.Unmarshal(raw, &a); err != nil {
		return Agreement{}, false, fmt.Errorf("agreement: decode record: %w", err)
	}
	return a, true, nil
}

func storeRecord(ctx context.Context, tx kv.Tx, id ID, a Agreement) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("agreement: encode record: %w", err)
	}
	if err := tx.Put(ctx, recordKey(id), raw); err != nil {
		return fmt.Errorf("agreement: store record: %w", err)
	}
	return nil
}

func loadIndex(ctx context.Context, tx kv.Tx, account string) ([]ID, error) {
	raw, ok, err := tx.Get(ctx, indexKey(account))
	if err != nil {
		return nil, fmt.Errorf("agreement: load index: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var ids []ID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("agreement: decode index: %w", err)
	}
	return ids, nil
}

// appendIndex adds the id to the account's ordered agreement index, failing
// with ErrStorageOverflow at capacity. Runs in the creation transaction, so a
// failed append never leaves a partial index behind.
func appendIndex(ctx context.Context, tx kv.Tx, account string, id ID, capacity uint32) error {
	ids, err := loadIndex(ctx, tx, account)
	if err != nil {
		return err
	}
	if uint32(len(ids)) >= capacity {
		return ErrStorageOverflow
	}
	ids = append(ids, id)
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("agreement: encode index: %w", err)
	}
	if err := tx.Put(ctx, indexKey(account), raw); err != nil {
		return fmt.Errorf("agreement: store index: %w", err)
	}
	return nil
}
