// Package keyid implements the 20-byte DNSSEC key identifier: a fixed
// digest derived from a public key, compared and rendered the same way
// regardless of which provider computed it.
package keyid

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/dnsscience/authcore/internal/dnserr"
)

// Size is the fixed identifier length in bytes.
const Size = 20

// ID is a 20-byte key identifier. The zero value is the all-zero ID,
// which is a valid (if unlikely) value, not a sentinel for "unset".
type ID [Size]byte

// FromBytes copies b into an ID, requiring an exact Size-byte length.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("keyid: FromBytes: got %d bytes, want %d: %w", len(b), Size, dnserr.ErrInvalidArgs)
	}
	copy(id[:], b)
	return id, nil
}

// Copy returns an independent copy of id (ID is already a value type,
// so this exists only for parity with the provider's copy primitive and
// callers translating from the original API).
func (id ID) Copy() ID { return id }

// String renders id as 40 lowercase hex characters with no separators.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Cmp lexicographically compares two IDs byte-for-byte, returning
// -1/0/+1.
func (id ID) Cmp(o ID) int {
	return bytes.Compare(id[:], o[:])
}

// Equal reports whether id and o are the same identifier.
func (id ID) Equal(o ID) bool {
	return id == o
}
