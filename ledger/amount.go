package ledger

import "math"

// Amount is a non-negative balance quantity. All arithmetic saturates at the
// uint64 bounds rather than wrapping; a wrapped balance would silently mint or
// destroy value on re-execution.
type Amount uint64

// AmountFromUint32 widens a small unsigned integer into the balance type.
// Kept as a named helper so threshold comparisons read the same everywhere.
func AmountFromUint32(v uint32) Amount {
	return Amount(v)
}

func (a Amount) SaturatingAdd(b Amount) Amount {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func (a Amount) SaturatingSub(b Amount) Amount {
	if b > a {
		return 0
	}
	return a - b
}
