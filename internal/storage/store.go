// Package storage implements the transactional key-value store that holds
// vaults, notes, nullifier records and accumulator state.
package storage

import (
	"context"
	"errors"

	"github.com/shadowvault/core/pkg/common"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrInvalidData  = errors.New("invalid data")
	ErrDBConnection = errors.New("database connection error")
	ErrClosed       = errors.New("store closed")
)

// KeySize is the size of a derived storage key
const KeySize = 32

// Key addresses one record
type Key [KeySize]byte

func (k Key) String() string {
	return common.BytesToHex(k[:])
}

// Reader reads records
type Reader interface {
	// Get returns the value at key or ErrNotFound
	Get(ctx context.Context, key Key) ([]byte, error)
}

// Txn is a read-write view inside Store.Update. Writes become visible to
// other readers only when the enclosing Update returns nil.
type Txn interface {
	Reader

	// Create stores value at key; ErrDuplicate if key already exists
	Create(ctx context.Context, key Key, value []byte) error

	// Replace overwrites an existing key; ErrNotFound if it does not exist
	Replace(ctx context.Context, key Key, value []byte) error
}

// Store is a transactional key-value store
type Store interface {
	Reader

	// Update runs fn in a transaction. If fn returns an error nothing it
	// wrote is kept. fn must only use the Txn it is given.
	Update(ctx context.Context, fn func(tx Txn) error) error

	// Close releases the store's resources
	Close()
}
