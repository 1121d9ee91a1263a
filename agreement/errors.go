package agreement

import "errors"

var (
	// ErrEqualsAccountsNotAllowed signals contractor and hired are the same account.
	ErrEqualsAccountsNotAllowed = errors.New("agreement: equal accounts not allowed")
	// ErrZeroValueNotAllowed signals a creation with no custodied value.
	ErrZeroValueNotAllowed = errors.New("agreement: zero value not allowed")
	// ErrNotEnoughBalance signals the contractor cannot fund the escrow.
	ErrNotEnoughBalance = errors.New("agreement: not enough balance")
	// ErrAlreadyExist signals an id collision on insert; with sound hashing it
	// never triggers, the check is defensive.
	ErrAlreadyExist = errors.New("agreement: already exists")
	// ErrStorageOverflow signals a party's agreement index is at capacity.
	ErrStorageOverflow = errors.New("agreement: storage overflow")
	// ErrNotFound signals the referenced agreement id does not exist.
	ErrNotFound = errors.New("agreement: not found")
	// ErrNotAllowed signals the caller is not the party this transition requires.
	ErrNotAllowed = errors.New("agreement: not allowed")
	// ErrAgreementAlreadySigned signals the operation needs a NotSigned source state.
	ErrAgreementAlreadySigned = errors.New("agreement: already signed")
	// ErrAgreementNotSigned signals the operation needs a Signed source state.
	ErrAgreementNotSigned = errors.New("agreement: not signed")
	// ErrAgreementNotInReview signals accept was attempted outside InReview.
	ErrAgreementNotInReview = errors.New("agreement: not in review")
)
