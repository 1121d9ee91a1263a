package agreement

import (
	"context"
	"fmt"

	"pactchain/kv"
	"pactchain/ledger"
	"pactchain/outbox"
)

// DefaultMaxAgreementsPerAccount bounds each account's agreement index.
const DefaultMaxAgreementsPerAccount = 64

// Config carries the deployment parameters of the agreement ledger.
type Config struct {
	MaxAgreementsPerAccount uint32
}

// CycleSource yields the current settlement-cycle number; the host runtime
// provides it. Create folds the number into id derivation.
type CycleSource interface {
	CycleNumber() uint64
}

// Custody is the slice of the balance adapter the state machine needs.
type Custody interface {
	FreeBalance(ctx context.Context, tx kv.Tx, account string) (ledger.Amount, error)
	Withdraw(ctx context.Context, tx kv.Tx, account string, value ledger.Amount, reason ledger.WithdrawReason, existence ledger.ExistenceRequirement) error
	DepositCreating(ctx context.Context, tx kv.Tx, account string, value ledger.Amount) (ledger.Amount, error)
}

// Service executes the agreement state machine. Every operation is one
// transaction: all store and custody mutations commit together or none do.
type Service struct {
	store   kv.Store
	custody Custody
	cycles  CycleSource
	cfg     Config
}

func NewService(store kv.Store, custody Custody, cycles CycleSource, cfg Config) *Service {
	if cfg.MaxAgreementsPerAccount == 0 {
		cfg.MaxAgreementsPerAccount = DefaultMaxAgreementsPerAccount
	}
	return &Service{
		store:   store,
		custody: custody,
		cycles:  cycles,
		cfg:     cfg,
	}
}

// Create escrows value from the caller and inserts a NotSigned agreement,
// indexed under both parties. The id derives from the record content and the
// current cycle number.
func (s *Service) Create(ctx context.Context, caller, hired string, value ledger.Amount, info InfoHash) (ID, error) {
	if caller == hired {
		return "", ErrEqualsAccountsNotAllowed
	}
	if value == 0 {
		return "", ErrZeroValueNotAllowed
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	free, err := s.custody.FreeBalance(ctx, tx, caller)
	if err != nil {
		return "", err
	}
	if free <= value {
		return "", ErrNotEnoughBalance
	}

	// Reservation: the caller must stay above the existential minimum, so the
	// withdrawal itself can still fail the whole operation.
	if err := s.custody.Withdraw(ctx, tx, caller, value, ledger.ReasonReserve, ledger.KeepAlive); err != nil {
		return "", err
	}

	record := Agreement{
		Contractor: caller,
		Hired:      hired,
		Value:      value,
		Info:       info,
		Status:     StatusNotSigned,
	}

	id := DeriveID(record, s.cycles.CycleNumber())
	if _, exists, err := loadRecord(ctx, tx, id); err != nil {
		return "", err
	} else if exists {
		return "", ErrAlreadyExist
	}

	if err := storeRecord(ctx, tx, id, record); err != nil {
		return "", err
	}
	if err := appendIndex(ctx, tx, caller, id, s.cfg.MaxAgreementsPerAccount); err != nil {
		return "", err
	}
	if err := appendIndex(ctx, tx, hired, id, s.cfg.MaxAgreementsPerAccount); err != nil {
		return "", err
	}

	if err := outbox.Append(ctx, tx, TopicAgreementCreated, map[string]any{
		"caller":       caller,
		"agreement_id": string(id),
	}); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("agreement: commit create: %w", err)
	}
	return id, nil
}

// Cancel aborts an unsigned agreement and refunds the full custodied value to
// the contractor, creating the balance entry if it no longer exists.
func (s *Service) Cancel(ctx context.Context, caller string, id ID) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	record, ok, err := loadRecord(ctx, tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if caller != record.Contractor {
		return ErrNotAllowed
	}
	if record.Status != StatusNotSigned {
		return ErrAgreementAlreadySigned
	}

	if _, err := s.custody.DepositCreating(ctx, tx, record.Contractor, record.Value); err != nil {
		return err
	}
	record.Status = StatusCanceled
	if err := storeRecord(ctx, tx, id, record); err != nil {
		return err
	}

	if err := outbox.Append(ctx, tx, TopicAgreementCanceled, map[string]any{
		"agreement_id": string(id),
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("agreement: commit cancel: %w", err)
	}
	return nil
}

// Sign moves an unsigned agreement to Signed. Hired party only, no fund movement.
func (s *Service) Sign(ctx context.Context, caller string, id ID) error {
	return s.transition(ctx, caller, id, transitionRule{
		party:      partyHired,
		from:       StatusNotSigned,
		to:         StatusSigned,
		wrongState: ErrAgreementAlreadySigned,
	})
}

// Unsign retracts a signature, returning the agreement to NotSigned.
func (s *Service) Unsign(ctx context.Context, caller string, id ID) error {
	return s.transition(ctx, caller, id, transitionRule{
		party:      partyHired,
		from:       StatusSigned,
		to:         StatusNotSigned,
		wrongState: ErrAgreementNotSigned,
	})
}

// SetReview marks the signed work as delivered and awaiting the contractor.
func (s *Service) SetReview(ctx context.Context, caller string, id ID) error {
	return s.transition(ctx, caller, id, transitionRule{
		party:      partyHired,
		from:       StatusSigned,
		to:         StatusInReview,
		wrongState: ErrAgreementNotSigned,
	})
}

// Accept completes an in-review agreement and releases the custodied value.
// The release credits the contractor, which mirrors the deployed behavior
// even though an escrow-for-services flow would pay the hired party; see
// DESIGN.md before changing it.
func (s *Service) Accept(ctx context.Context, caller string, id ID) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	record, ok, err := loadRecord(ctx, tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if caller != record.Contractor {
		return ErrNotAllowed
	}
	if record.Status != StatusInReview {
		return ErrAgreementNotInReview
	}

	// TODO: deduct the service fee into the treasury bucket before release.
	if _, err := s.custody.DepositCreating(ctx, tx, record.Contractor, record.Value); err != nil {
		return err
	}
	record.Status = StatusComplete
	if err := storeRecord(ctx, tx, id, record); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("agreement: commit accept: %w", err)
	}
	return nil
}

type party int

const (
	partyContractor party = iota
	partyHired
)

// transitionRule encodes one status-only transition: the authorized party,
// the single legal source state, and the error for any other source state.
type transitionRule struct {
	party      party
	from       Status
	to         Status
	wrongState error
}

func (s *Service) transition(ctx context.Context, caller string, id ID, rule transitionRule) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	record, ok, err := loadRecord(ctx, tx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	required := record.Contractor
	if rule.party == partyHired {
		required = record.Hired
	}
	if caller != required {
		return ErrNotAllowed
	}
	if record.Status != rule.from {
		return rule.wrongState
	}

	record.Status = rule.to
	if err := storeRecord(ctx, tx, id, record); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("agreement: commit transition: %w", err)
	}
	return nil
}

// Get returns the agreement record for id.
func (s *Service) Get(ctx context.Context, id ID) (Agreement, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Agreement{}, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	record, ok, err := loadRecord(ctx, tx, id)
	if err != nil {
		return Agreement{}, err
	}
	if !ok {
		return Agreement{}, ErrNotFound
	}
	return record, nil
}

// UserAgreements returns the ordered agreement ids indexed for the account.
func (s *Service) UserAgreements(ctx context.Context, account string) ([]ID, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("agreement: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	return loadIndex(ctx, tx, account)
}
