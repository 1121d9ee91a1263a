package agreement

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// statusCodes pins the wire byte for each status in the canonical encoding.
// Changing a code changes every derived id, so the mapping is append-only.
var statusCodes = map[Status]byte{
	StatusNotSigned: 0,
	StatusCanceled:  1,
	StatusSigned:    2,
	StatusInReview:  3,
	StatusComplete:  4,
}

// DeriveID computes the agreement id: blake2b-256 over a canonical, length-
// stable encoding of the record plus the big-endian settlement-cycle number.
// The cycle number makes ids unpredictable before submission while keeping
// them reproducible for audit.
func DeriveID(a Agreement, cycle uint64) ID {
	var buf []byte
	buf = appendLenPrefixed(buf, []byte(a.Contractor))
	buf = appendLenPrefixed(buf, []byte(a.Hired))
	buf = binary.BigEndian.AppendUint64(buf, uint64(a.Value))
	buf = append(buf, a.Info[:]...)
	buf = append(buf, statusCodes[a.Status])
	buf = binary.BigEndian.AppendUint64(buf, cycle)

	sum := blake2b.Sum256(buf)
	return ID(hex.EncodeToString(sum[:]))
}

// HashInfo produces the opaque content reference for off-chain terms.
func HashInfo(terms []byte) InfoHash {
	return blake2b.Sum256(terms)
}

func appendLenPrefixed(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
	return append(buf, field...)
}
