package storage

import (
	"context"
	"sync"

	"github.com/shadowvault/core/pkg/common"
)

// MemoryStore is an in-memory Store. Update holds the store lock for the
// whole transaction, so transactions are fully serialized.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[Key][]byte
	closed bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[Key][]byte),
	}
}

// Get returns a copy of the value at key
func (s *MemoryStore) Get(ctx context.Context, key Key) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return common.CopyBytes(v), nil
}

// Update runs fn against a staged overlay and applies it only on success
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tx := &memTxn{
		base:   s.data,
		staged: make(map[Key][]byte),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for k, v := range tx.staged {
		s.data[k] = v
	}
	return nil
}

// Len returns the number of stored keys
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Close marks the store closed
func (s *MemoryStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type memTxn struct {
	base   map[Key][]byte
	staged map[Key][]byte
}

func (t *memTxn) lookup(key Key) ([]byte, bool) {
	if v, ok := t.staged[key]; ok {
		return v, true
	}
	v, ok := t.base[key]
	return v, ok
}

func (t *memTxn) Get(ctx context.Context, key Key) ([]byte, error) {
	v, ok := t.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return common.CopyBytes(v), nil
}

func (t *memTxn) Create(ctx context.Context, key Key, value []byte) error {
	if _, ok := t.lookup(key); ok {
		return ErrDuplicate
	}
	t.staged[key] = common.CopyBytes(value)
	return nil
}

func (t *memTxn) Replace(ctx context.Context, key Key, value []byte) error {
	if _, ok := t.lookup(key); !ok {
		return ErrNotFound
	}
	t.staged[key] = common.CopyBytes(value)
	return nil
}
