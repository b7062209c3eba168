// Package types defines core data structures for the shadowvault ledger.
// This includes hashes, vaults, shielded notes, and disclosure records.
package types

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/shadowvault/core/pkg/common"
)

// HashSize is the size of a commitment, nullifier, or root in bytes
const HashSize = 32

// Hash represents a 32-byte value: commitments, nullifiers, tree roots and owner ids
type Hash [HashSize]byte

// EmptyHash is the zero hash
var EmptyHash = Hash{}

// IsEmpty returns true if the hash is all zeros
func (h Hash) IsEmpty() bool {
	return h == EmptyHash
}

// Bytes returns the hash as a byte slice
func (h Hash) Bytes() []byte {
	return h[:]
}

// String returns the 0x-prefixed hex representation of the hash
func (h Hash) String() string {
	return common.BytesToHex(h[:])
}

// Short returns the first four bytes in hex, for log lines
func (h Hash) Short() string {
	return common.BytesToHex(h[:4])
}

// MarshalText implements encoding.TextMarshaler
func (h Hash) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler
func (h *Hash) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("Hash", input, h[:])
}

// HashFromBytes creates a Hash from a byte slice.
// Shorter input is left-padded with zeros, longer input keeps the trailing bytes.
func HashFromBytes(b []byte) Hash {
	var h Hash
	if len(b) > HashSize {
		b = b[len(b)-HashSize:]
	}
	copy(h[HashSize-len(b):], b)
	return h
}

// HexToHash parses a hex string (with or without 0x) of exactly 32 bytes
func HexToHash(s string) (Hash, error) {
	b, err := common.HexToBytes(s)
	if err != nil {
		return EmptyHash, err
	}
	if len(b) != HashSize {
		return EmptyHash, common.ErrInvalidHash
	}
	return HashFromBytes(b), nil
}
