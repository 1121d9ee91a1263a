package agreement

import "pactchain/ledger"

// Status is the closed set of agreement lifecycle states. Canceled and
// Complete are terminal: no operation transitions out of them.
type Status string

const (
	StatusNotSigned Status = "not_signed"
	StatusCanceled  Status = "canceled"
	StatusSigned    Status = "signed"
	StatusInReview  Status = "in_review"
	StatusComplete  Status = "complete"
)

// ID identifies one agreement record: the lowercase hex of a blake2b-256
// digest over the record's canonical encoding plus the creation cycle.
type ID string

// InfoHash is the opaque content reference attached at creation, typically a
// hash of off-chain contract terms. The core stores it verbatim and never
// interprets it.
type InfoHash [32]byte

// Agreement is the custody record for one bilateral agreement. Value stays
// withdrawn from the contractor for the record's whole lifetime until a
// cancel refund or an accept release.
type Agreement struct {
	Contractor string        `json:"contractor"`
	Hired      string        `json:"hired"`
	Value      ledger.Amount `json:"value"`
	Info       InfoHash      `json:"info"`
	Status     Status        `json:"status"`
}

// Topics for the events this package appends to the outbox.
const (
	TopicAgreementCreated  = "agreement.created"
	TopicAgreementCanceled = "agreement.canceled"
)
