package zkp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"

	"github.com/shadowvault/core/pkg/types"
)

// ErrSealedAmount is returned when a sealed amount cannot be opened
var ErrSealedAmount = errors.New("invalid sealed amount")

// SealAmount encrypts amount to a vault's view key. The blob is
// nonce(24) | ciphertext(8) | tag(16), types.EncryptedAmountSize bytes.
func SealAmount(viewKey types.Hash, amount uint64) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(viewKey[:])
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX, types.EncryptedAmountSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	var plain [8]byte
	binary.BigEndian.PutUint64(plain[:], amount)
	return aead.Seal(nonce, nonce, plain[:], nil), nil
}

// OpenAmount decrypts a blob produced by SealAmount
func OpenAmount(viewKey types.Hash, blob []byte) (uint64, error) {
	if len(blob) != types.EncryptedAmountSize {
		return 0, ErrSealedAmount
	}
	aead, err := chacha20poly1305.NewX(viewKey[:])
	if err != nil {
		return 0, err
	}

	nonce, ct := blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return 0, ErrSealedAmount
	}
	return binary.BigEndian.Uint64(plain), nil
}

// ViewKeyHash is the public commitment to a view key stored on the vault
func ViewKeyHash(viewKey types.Hash) types.Hash {
	return sha3.Sum256(viewKey[:])
}
