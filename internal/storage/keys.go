package storage

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// DeriveKey maps a domain and seed bytes to a unique storage key:
// Keccak-256 over the length-prefixed domain followed by each
// length-prefixed seed, so distinct seed lists never collide by
// concatenation.
func DeriveKey(domain string, seeds ...[]byte) Key {
	h := sha3.NewLegacyKeccak256()

	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(domain)))
	h.Write(n[:])
	h.Write([]byte(domain))

	for _, seed := range seeds {
		binary.BigEndian.PutUint32(n[:], uint32(len(seed)))
		h.Write(n[:])
		h.Write(seed)
	}

	var k Key
	copy(k[:], h.Sum(nil))
	return k
}
