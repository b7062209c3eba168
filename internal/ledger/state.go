package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/common"
	"github.com/shadowvault/core/pkg/types"
)

// TreeName selects one of the two accumulators
type TreeName string

const (
	TreeCommitments TreeName = "commitments"
	TreeNullifiers  TreeName = "nullifiers"
)

// Valid reports whether n names a tree
func (n TreeName) Valid() bool {
	return n == TreeCommitments || n == TreeNullifiers
}

// Key derivation domains
const (
	domainVault      = "shadow_vault"
	domainNote       = "shielded_note"
	domainNullifier  = "nullifier"
	domainTree       = "merkle_tree"
	domainLeaf       = "merkle_leaf"
	domainDisclosure = "compliance_proof"
	domainStats      = "protocol_stats"
)

func vaultKey(owner types.Hash) storage.Key {
	return storage.DeriveKey(domainVault, owner[:])
}

func noteKey(owner types.Hash, number uint64) storage.Key {
	return storage.DeriveKey(domainNote, owner[:], common.Uint64ToBytes(number))
}

func nullifierKey(nullifier types.Hash) storage.Key {
	return storage.DeriveKey(domainNullifier, nullifier[:])
}

func treeKey(name TreeName) storage.Key {
	return storage.DeriveKey(domainTree, []byte(name))
}

func leafKey(name TreeName, index uint64) storage.Key {
	return storage.DeriveKey(domainLeaf, []byte(name), common.Uint64ToBytes(index))
}

func disclosureKey(owner types.Hash, nonce uint64) storage.Key {
	return storage.DeriveKey(domainDisclosure, owner[:], common.Uint64ToBytes(nonce))
}

var statsKey = storage.DeriveKey(domainStats)

// nullifierRecord exists once per consumed nullifier; its unique key is
// the double-spend guard
type nullifierRecord struct {
	Nullifier types.Hash
	Index     uint64
	SpentAt   int64
}

// leafRecord keeps tree leaves so mirrors can be rebuilt
type leafRecord struct {
	Leaf types.Hash
}

func loadVault(ctx context.Context, r storage.Reader, owner types.Hash) (*types.Vault, error) {
	var v types.Vault
	err := storage.GetRecord(ctx, r, vaultKey(owner), &v)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrVaultNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func loadNote(ctx context.Context, r storage.Reader, owner types.Hash, number uint64) (*types.Note, error) {
	var n types.Note
	err := storage.GetRecord(ctx, r, noteKey(owner, number), &n)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func loadDisclosure(ctx context.Context, r storage.Reader, owner types.Hash, nonce uint64) (*types.DisclosureRecord, error) {
	var d types.DisclosureRecord
	err := storage.GetRecord(ctx, r, disclosureKey(owner, nonce), &d)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrDisclosureNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullifierUsed(ctx context.Context, r storage.Reader, nullifier types.Hash) (bool, error) {
	_, err := r.Get(ctx, nullifierKey(nullifier))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// consumeNullifier creates the nullifier's unique record
func consumeNullifier(ctx context.Context, tx storage.Txn, nullifier types.Hash, index uint64, now int64) error {
	err := storage.CreateRecord(ctx, tx, nullifierKey(nullifier), &nullifierRecord{
		Nullifier: nullifier,
		Index:     index,
		SpentAt:   now,
	})
	if errors.Is(err, storage.ErrDuplicate) {
		return ErrNullifierAlreadyUsed
	}
	return err
}

func loadStats(ctx context.Context, r storage.Reader) (*types.ProtocolStats, bool, error) {
	var s types.ProtocolStats
	err := storage.GetRecord(ctx, r, statsKey, &s)
	if errors.Is(err, storage.ErrNotFound) {
		return &s, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

// bumpStats applies fn to the protocol counters
func bumpStats(ctx context.Context, tx storage.Txn, fn func(s *types.ProtocolStats)) error {
	s, exists, err := loadStats(ctx, tx)
	if err != nil {
		return err
	}
	fn(s)
	s.Operations++
	if exists {
		return storage.ReplaceRecord(ctx, tx, statsKey, s)
	}
	return storage.CreateRecord(ctx, tx, statsKey, s)
}

// treeHandle is one accumulator loaded for the duration of an operation
type treeHandle struct {
	name   TreeName
	acc    *zkp.Accumulator
	mirror *zkp.Tree

	// fresh is set when no state has been persisted yet
	fresh bool

	// base is NextIndex at load; pending leaves follow it
	base    uint64
	pending []types.Hash
}

func (l *Ledger) loadTree(ctx context.Context, r storage.Reader, name TreeName) (*treeHandle, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("unknown tree %q", name)
	}

	h := &treeHandle{name: name, mirror: l.mirrors[name]}

	var state zkp.AccumulatorState
	err := storage.GetRecord(ctx, r, treeKey(name), &state)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.acc = zkp.NewAccumulator(l.hasher, l.depth)
		h.fresh = true
	case err != nil:
		return nil, err
	default:
		if int(state.Depth) != l.depth {
			return nil, fmt.Errorf("%w: %s tree has depth %d, want %d", zkp.ErrDepthMismatch, name, state.Depth, l.depth)
		}
		h.acc, err = zkp.RestoreAccumulator(l.hasher, state)
		if err != nil {
			return nil, err
		}
	}

	h.base = h.acc.NextIndex()
	return h, nil
}

// syncMirror appends persisted leaves the mirror has not seen yet.
// Callers hold l.mu.
func (l *Ledger) syncMirror(ctx context.Context, r storage.Reader, h *treeHandle) error {
	next := h.acc.NextIndex()
	if h.mirror.Size() > next {
		// store was reset underneath us
		h.mirror = zkp.NewTree(l.hasher, nil, l.depth)
		l.mirrors[h.name] = h.mirror
	}

	for i := h.mirror.Size(); i < next; i++ {
		var rec leafRecord
		if err := storage.GetRecord(ctx, r, leafKey(h.name, i), &rec); err != nil {
			return fmt.Errorf("load %s leaf %d: %w", h.name, i, err)
		}
		if _, err := h.mirror.Append(ctx, rec.Leaf); err != nil {
			return err
		}
	}

	if h.mirror.Root() != h.acc.Root() {
		return fmt.Errorf("%s mirror root %s does not match accumulator root %s",
			h.name, h.mirror.Root(), h.acc.Root())
	}
	return nil
}

// insert adds leaf to the tree, filling missing siblings from the mirror
func (l *Ledger) insert(ctx context.Context, r storage.Reader, h *treeHandle, leaf types.Hash, siblings []types.Hash) (uint64, error) {
	if len(siblings) == 0 {
		if err := l.syncMirror(ctx, r, h); err != nil {
			return 0, err
		}
		var err error
		if siblings, err = h.mirror.NextSiblings(ctx); err != nil {
			return 0, mapTreeError(err)
		}
	}

	index, err := h.acc.Insert(leaf, siblings)
	if err != nil {
		return 0, mapTreeError(err)
	}
	h.pending = append(h.pending, leaf)
	return index, nil
}

// saveTree persists pending leaves and the accumulator state
func (l *Ledger) saveTree(ctx context.Context, tx storage.Txn, h *treeHandle) error {
	for i, leaf := range h.pending {
		if err := storage.CreateRecord(ctx, tx, leafKey(h.name, h.base+uint64(i)), &leafRecord{Leaf: leaf}); err != nil {
			return fmt.Errorf("store %s leaf: %w", h.name, err)
		}
	}

	state := h.acc.State()
	if h.fresh {
		return storage.CreateRecord(ctx, tx, treeKey(h.name), &state)
	}
	return storage.ReplaceRecord(ctx, tx, treeKey(h.name), &state)
}

func mapTreeError(err error) error {
	switch {
	case errors.Is(err, zkp.ErrStaleSiblings):
		return ErrStaleSiblings.wrap(err)
	case errors.Is(err, zkp.ErrInvalidPath), errors.Is(err, zkp.ErrInvalidPosition):
		return ErrInvalidMerkleSiblings.wrap(err)
	case errors.Is(err, zkp.ErrTreeFull):
		return ErrTreeFull.wrap(err)
	default:
		return err
	}
}

// checkField rejects words that are empty or not reduced modulo r, so a
// stored commitment or nullifier has exactly one byte form per field element
func checkField(h types.Hash, sentinel *Error) error {
	if h.IsEmpty() {
		return sentinel
	}
	if !zkp.IsCanonical(h) {
		return sentinel.wrap(fmt.Errorf("%s is not below the field modulus", h.Short()))
	}
	return nil
}

func checkEncryptedAmount(blob []byte) error {
	if len(blob) != 0 && len(blob) != types.EncryptedAmountSize {
		return ErrInvalidEncryptedAmount.wrap(fmt.Errorf("%d bytes, want %d", len(blob), types.EncryptedAmountSize))
	}
	return nil
}
