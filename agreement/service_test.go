package agreement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"pactchain/kv"
	"pactchain/ledger"
	"pactchain/outbox"
)

type fakeCycles struct {
	n uint64
}

func (f *fakeCycles) CycleNumber() uint64 { return f.n }

type fixture struct {
	store   *kv.Memory
	ledger  *ledger.Ledger
	cycles  *fakeCycles
	service *Service
}

func newFixture(t *testing.T, cfg Config, balances map[string]ledger.Amount) *fixture {
	t.Helper()
	store := kv.NewMemory()
	l := ledger.New(1)
	cycles := &fakeCycles{}

	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin seed tx: %v", err)
	}
	for account, amount := range balances {
		if err := l.SetBalance(ctx, tx, account, amount); err != nil {
			t.Fatalf("seed %s: %v", account, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit seed: %v", err)
	}

	return &fixture{
		store:   store,
		ledger:  l,
		cycles:  cycles,
		service: NewService(store, l, cycles, cfg),
	}
}

func (f *fixture) balance(t *testing.T, account string) ledger.Amount {
	t.Helper()
	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx)
	balance, err := f.ledger.FreeBalance(ctx, tx, account)
	if err != nil {
		t.Fatalf("free balance: %v", err)
	}
	return balance
}

func (f *fixture) drainEvents(t *testing.T) []outbox.Message {
	t.Helper()
	ctx := context.Background()
	tx, err := f.store.Begin(ctx)
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

func TestCreate_EscrowsValueAndIndexesBothParties(t *testing.T) {
	f := newFixture(t, Config{}, map[string]ledger.Amount{"alice": 500})
	ctx := context.Background()

	id, err := f.service.Create(ctx, "alice", "bob", 200, HashInfo([]byte("terms")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got := f.balance(t, "alice"); got != 300 {
		t.Fatalf("expected caller debited to 300, got %d", got)
	}

	record, err := f.service.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != StatusNotSigned {
		t.Fatalf("expected NotSigned, got %s", record.Status)
	}
	if record.Contractor != "alice" || record.Hired != "bob" || record.Value != 200 {
		t.Fatalf("unexpected record: %+v", record)
	}

	for _, account := range []string{"alice", "bob"} {
		ids, err := f.service.UserAgreements(ctx, account)
		if err != nil {
			t.Fatalf("user agreements %s: %v", account, err)
		}
		if len(ids) != 1 || ids[0] != id {
			t.Fatalf("expected %s index [%s], got %v", account, id, ids)
		}
	}

	events := f.drainEvents(t)
	if len(events) != 1 || events[0].Topic != TopicAgreementCreated {
		t.Fatalf("expected one creation event, got %v", events)
	}
	var payload struct {
		Caller      string `json:"caller"`
		AgreementID string `json:"agreement_id"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if payload.Caller != "alice" || payload.AgreementID != string(id) {
		t.Fatalf("unexpected event payload: %+v", payload)
	}
}

func TestCreate_InputValidation(t *testing.T) {
	f := newFixture(t, Config{}, map[string]ledger.Amount{"alice": 100})
	ctx := context.Background()
	info := HashInfo([]byte("terms"))

	if _, err := f.service.Create(ctx, "alice", "alice", 10, info); !errors.Is(err, ErrEqualsAccountsNotAllowed) {
		t.Fatalf("expected ErrEqualsAccountsNotAllowed, got %v", err)
	}
	if _, err := f.service.Create(ctx, "alice", "bob", 0, info); !errors.Is(err, ErrZeroValueNotAllowed) {
		t.Fatalf("expected ErrZeroValueNotAllowed, got %v", err)
	}
	// Free balance must strictly exceed the value.
	if _, err := f.service.Create(ctx, "alice", "bob", 100, info); !errors.Is(err, ErrNotEnoughBalance) {
		t.Fatalf("expected ErrNotEnoughBalance, got %v", err)
	}
	if got := f.balance(t, "alice"); got != 100 {
		t.Fatalf("failed creates must not move funds, balance=%d", got)
	}
}

func TestCreate_KeepAliveWithdrawalAbortsWholeOperation(t *testing.T) {
	// Existential deposit 2, balance 100: value 99 passes the strict balance
	// check but the reservation would leave 1, so the withdrawal kills the
	// whole operation.
	store := kv.NewMemory()
	l := ledger.New(2)
	cycles := &fakeCycles{}
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin seed tx: %v", err)
	}
	if err := l.SetBalance(ctx, tx, "alice", 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit seed: %v", err)
	}
	svc := NewService(store, l, cycles, Config{})

	if _, err := svc.Create(ctx, "alice", "bob", 99, HashInfo([]byte("terms"))); !errors.Is(err, ledger.ErrWouldKill) {
		t.Fatalf("expected ErrWouldKill, got %v", err)
	}

	// No record, no index entry, no debit.
	ids, err := svc.UserAgreements(ctx, "alice")
	if err != nil {
		t.Fatalf("user agreements: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty index after aborted create, got %v", ids)
	}
	tx2, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx2.Rollback(ctx)
	if got, _ := l.FreeBalance(ctx, tx2, "alice"); got != 100 {
		t.Fatalf("aborted create changed balance: %d", got)
	}
}

func TestCancel_RefundsAndTerminates(t *testing.T) {
	f := newFixture(t, Config{}, map[string]ledger.Amount{"alice": 500})
	ctx := context.Background()

	id, err := f.service.Create(ctx, "alice", "bob", 200, HashInfo([]byte("terms")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.service.Cancel(ctx, "bob", id); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("cancel by hired: expected ErrNotAllowed, got %v", err)
	}

	if err := f.service.Cancel(ctx, "alice", id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Value round-trips exactly, no fee.
	if got := f.balance(t, "alice"); got != 500 {
		t.Fatalf("expected refund to 500, got %d", got)
	}
	record, err := f.service.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != StatusCanceled {
		t.Fatalf("expected Canceled, got %s", record.Status)
	}

	// Canceled is terminal: every further transition fails.
	if err := f.service.Cancel(ctx, "alice", id); !errors.Is(err, ErrAgreementAlreadySigned) {
		t.Fatalf("re-cancel: expected ErrAgreementAlreadySigned, got %v", err)
	}
	if err := f.service.Sign(ctx, "bob", id); !errors.Is(err, ErrAgreementAlreadySigned) {
		t.Fatalf("sign after cancel: expected ErrAgreementAlreadySigned, got %v", err)
	}
	if err := f.service.SetReview(ctx, "bob", id); !errors.Is(err, ErrAgreementNotSigned) {
		t.Fatalf("review after cancel: expected ErrAgreementNotSigned, got %v", err)
	}
	if err := f.service.Accept(ctx, "alice", id); !errors.Is(err, ErrAgreementNotInReview) {
		t.Fatalf("accept after cancel: expected ErrAgreementNotInReview, got %v", err)
	}

	events := f.drainEvents(t)
	if len(events) != 2 || events[1].Topic != TopicAgreementCanceled {
		t.Fatalf("expected creation then cancellation events, got %v", events)
	}
}

func TestCancel_OnlyFromNotSigned(t *testing.T) {
	f := newFixture(t, Config{}, map[string]ledger.Amount{"alice": 500})
	ctx := context.Background()

	id, err := f.service.Create(ctx, "alice", "bob", 200, HashInfo([]byte("terms")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.service.Sign(ctx, "bob", id); err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := f.service.Cancel(ctx, "alice", id); !errors.Is(err, ErrAgreementAlreadySigned) {
		t.Fatalf("cancel signed: expected ErrAgreementAlreadySigned, got %v", err)
	}
	if got := f.balance(t, "alice"); got != 300 {
		t.Fatalf("failed cancel must not refund, balance=%d", got)
	}
}

func TestSignUnsign_RoundTripWithoutFundMovement(t *testing.T) {
	f := newFixture(t, Config{}, map[string]ledger.Amount{"alice": 500})
	ctx := context.Background()

	id, err := f.service.Create(ctx, "alice", "bob", 200, HashInfo([]byte("terms")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.service.Sign(ctx, "alice", id); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("sign by contractor: expected ErrNotAllowed, got %v", err)
	}
	if err := f.service.Unsign(ctx, "bob", id); !errors.Is(err, ErrAgreementNotSigned) {
		t.Fatalf("unsign unsigned: expected ErrAgreementNotSigned, got %v", err)
	}

	if err := f.service.Sign(ctx, "bob", id); err != nil {
		t.Fatalf("sign: %v", err)
	}
	record, _ := f.service.Get(ctx, id)
	if record.Status != StatusSigned {
		t.Fatalf("expected Signed, got %s", record.Status)
	}
	if err := f.service.Sign(ctx, "bob", id); !errors.Is(err, ErrAgreementAlreadySigned) {
		t.Fatalf("re-sign: expected ErrAgreementAlreadySigned, got %v", err)
	}

	if err := f.service.Unsign(ctx, "bob", id); err != nil {
		t.Fatalf("unsign: %v", err)
	}
	record, _ = f.service.Get(ctx, id)
	if record.Status != StatusNotSigned {
		t.Fatalf("expected NotSigned after unsign, got %s", record.Status)
	}

	if got := f.balance(t, "alice"); got != 300 {
		t.Fatalf("sign/unsign must not move funds, balance=%d", got)
	}
}

func TestAccept_OnlyFromInReview(t *testing.T) {
	f := newFixture(t, Config{}, map[string]ledger.Amount{"alice": 500})
	ctx := context.Background()

	id, err := f.service.Create(ctx, "alice", "bob", 200, HashInfo([]byte("terms")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.service.Accept(ctx, "alice", id); !errors.Is(err, ErrAgreementNotInReview) {
		t.Fatalf("accept NotSigned: expected ErrAgreementNotInReview, got %v", err)
	}
	if err := f.service.Sign(ctx, "bob", id); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := f.service.Accept(ctx, "alice", id); !errors.Is(err, ErrAgreementNotInReview) {
		t.Fatalf("accept Signed: expected ErrAgreementNotInReview, got %v", err)
	}
	if err := f.service.SetReview(ctx, "bob", id); err != nil {
		t.Fatalf("set review: %v", err)
	}
	if err := f.service.Accept(ctx, "bob", id); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("accept by hired: expected ErrNotAllowed, got %v", err)
	}

	if err := f.service.Accept(ctx, "alice", id); err != nil {
		t.Fatalf("accept: %v", err)
	}
	record, _ := f.service.Get(ctx, id)
	if record.Status != StatusComplete {
		t.Fatalf("expected Complete, got %s", record.Status)
	}
	// Release credits the contractor, not the hired party. Deployed behavior,
	// reproduced deliberately; see DESIGN.md.
	if got := f.balance(t, "alice"); got != 500 {
		t.Fatalf("expected release back to contractor, balance=%d", got)
	}
	if got := f.balance(t, "bob"); got != 0 {
		t.Fatalf("hired party must receive nothing on accept, balance=%d", got)
	}

	// Complete is terminal.
	if err := f.service.Accept(ctx, "alice", id); !errors.Is(err, ErrAgreementNotInReview) {
		t.Fatalf("re-accept: expected ErrAgreementNotInReview, got %v", err)
	}
	if err := f.service.Sign(ctx, "bob", id); !errors.Is(err, ErrAgreementAlreadySigned) {
		t.Fatalf("sign complete: expected ErrAgreementAlreadySigned, got %v", err)
	}
}

func TestOperations_UnknownIDNotFound(t *testing.T) {
	f := newFixture(t, Config{}, map[string]ledger.Amount{"alice": 500})
	ctx := context.Background()
	id := ID("deadbeef")

	for name, op := range map[string]func() error{
		"cancel":     func() error { return f.service.Cancel(ctx, "alice", id) },
		"sign":       func() error { return f.service.Sign(ctx, "alice", id) },
		"unsign":     func() error { return f.service.Unsign(ctx, "alice", id) },
		"set_review": func() error { return f.service.SetReview(ctx, "alice", id) },
		"accept":     func() error { return f.service.Accept(ctx, "alice", id) },
	} {
		if err := op(); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", name, err)
		}
	}
}

func TestCreate_IndexCapacityAbortsWithoutCustodyChange(t *testing.T) {
	const maxPerAccount = 3
	f := newFixture(t, Config{MaxAgreementsPerAccount: maxPerAccount}, map[string]ledger.Amount{
		"alice": 1000,
	})
	ctx := context.Background()

	for i := 0; i < maxPerAccount; i++ {
		// Distinct values keep the derived ids distinct within one cycle.
		if _, err := f.service.Create(ctx, "alice", "bob", ledger.Amount(i+1), HashInfo([]byte("terms"))); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	before := f.balance(t, "alice")
	_, err := f.service.Create(ctx, "alice", "bob", 50, HashInfo([]byte("terms")))
	if !errors.Is(err, ErrStorageOverflow) {
		t.Fatalf("expected ErrStorageOverflow, got %v", err)
	}

	// The earlier withdrawal in the same operation must have rolled back.
	if got := f.balance(t, "alice"); got != before {
		t.Fatalf("failed create changed custody: before=%d after=%d", before, got)
	}
	ids, err := f.service.UserAgreements(ctx, "alice")
	if err != nil {
		t.Fatalf("user agreements: %v", err)
	}
	if len(ids) != maxPerAccount {
		t.Fatalf("expected exactly %d indexed agreements, got %d", maxPerAccount, len(ids))
	}
}

func TestCreate_DuplicateIDRejected(t *testing.T) {
	f := newFixture(t, Config{}, map[string]ledger.Amount{"alice": 1000})
	ctx := context.Background()
	info := HashInfo([]byte("terms"))

	if _, err := f.service.Create(ctx, "alice", "bob", 100, info); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Identical record in the same cycle derives the identical id.
	if _, err := f.service.Create(ctx, "alice", "bob", 100, info); !errors.Is(err, ErrAlreadyExist) {
		t.Fatalf("expected ErrAlreadyExist, got %v", err)
	}
	if got := f.balance(t, "alice"); got != 900 {
		t.Fatalf("failed duplicate create must roll back its withdrawal, balance=%d", got)
	}

	// A later cycle derives a fresh id for the same record.
	f.cycles.n = 1
	if _, err := f.service.Create(ctx, "alice", "bob", 100, info); err != nil {
		t.Fatalf("create in next cycle: %v", err)
	}
}
