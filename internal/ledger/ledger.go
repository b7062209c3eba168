// Package ledger implements the shielded note lifecycle: vault setup,
// shield, transfer, unshield and selective disclosure. Every operation
// verifies its proof, updates the accumulators and mutates note state
// inside a single store transaction.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

// ProofVerifier checks a proof against public inputs; nil means valid
type ProofVerifier interface {
	Verify(kind zkp.ProofKind, proof []byte, inputs zkp.PublicInputs) error
}

// ValueTransferExecutor moves fungible balance in and out of custody.
// It runs inside the ledger's transaction: an error aborts the whole
// operation and nothing the ledger wrote is kept.
type ValueTransferExecutor interface {
	// Deposit moves amount from the owner into the shielded pool
	Deposit(ctx context.Context, tx storage.Txn, owner types.Hash, amount uint64) error

	// Withdraw pays net to destination and books fee from the pool
	Withdraw(ctx context.Context, tx storage.Txn, destination types.Hash, net, fee uint64) error
}

// EventSink receives committed ledger events
type EventSink interface {
	HandleEvent(ctx context.Context, ev *Event)
}

// Config holds ledger configuration
type Config struct {
	// Hasher used for both trees; must match the provers
	Hasher zkp.Hasher

	// Depth of both trees
	Depth int

	// Executor performs value transfers; nil books nothing
	Executor ValueTransferExecutor

	// Clock returns the current time; nil uses time.Now
	Clock func() time.Time
}

// DefaultConfig returns default ledger configuration
func DefaultConfig() *Config {
	return &Config{
		Hasher: zkp.DefaultHasher,
		Depth:  zkp.TreeDepth,
	}
}

// Ledger is the shielded note state machine
type Ledger struct {
	// mu serializes mutations; one operation touches the trees at a time
	mu sync.Mutex

	store    storage.Store
	verifier ProofVerifier
	executor ValueTransferExecutor
	hasher   zkp.Hasher
	depth    int
	clock    func() time.Time

	// full-tree mirrors used to fill in sibling paths
	mirrors map[TreeName]*zkp.Tree

	sinksMu sync.RWMutex
	sinks   []EventSink

	log zerolog.Logger
}

// New creates a ledger over store
func New(cfg *Config, store storage.Store, verifier ProofVerifier, log zerolog.Logger) *Ledger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = zkp.DefaultHasher
	}
	depth := cfg.Depth
	if depth <= 0 {
		depth = zkp.TreeDepth
	}
	executor := cfg.Executor
	if executor == nil {
		executor = nopExecutor{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Ledger{
		store:    store,
		verifier: verifier,
		executor: executor,
		hasher:   hasher,
		depth:    depth,
		clock:    clock,
		mirrors: map[TreeName]*zkp.Tree{
			TreeCommitments: zkp.NewTree(hasher, nil, depth),
			TreeNullifiers:  zkp.NewTree(hasher, nil, depth),
		},
		log: log.With().Str("module", "ledger").Logger(),
	}
}

// AddSink registers a receiver of committed events
func (l *Ledger) AddSink(s EventSink) {
	l.sinksMu.Lock()
	l.sinks = append(l.sinks, s)
	l.sinksMu.Unlock()
}

// Hasher returns the hasher used by the trees
func (l *Ledger) Hasher() zkp.Hasher {
	return l.hasher
}

func (l *Ledger) now() int64 {
	return l.clock().Unix()
}

// begin validates the parameter snapshot of a mutating operation
func (l *Ledger) begin(p Params, pausable bool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if pausable && p.Paused {
		return ErrProtocolPaused
	}
	return nil
}

func (l *Ledger) emit(ctx context.Context, ev *Event) {
	l.sinksMu.RLock()
	sinks := l.sinks
	l.sinksMu.RUnlock()

	for _, s := range sinks {
		s.HandleEvent(ctx, ev)
	}
}

// ============================================
// Queries
// ============================================

// GetVault returns the vault of owner
func (l *Ledger) GetVault(ctx context.Context, owner types.Hash) (*types.Vault, error) {
	return loadVault(ctx, l.store, owner)
}

// GetNote returns note number of owner's vault
func (l *Ledger) GetNote(ctx context.Context, owner types.Hash, number uint64) (*types.Note, error) {
	return loadNote(ctx, l.store, owner, number)
}

// GetDisclosure returns a stored disclosure record
func (l *Ledger) GetDisclosure(ctx context.Context, owner types.Hash, nonce uint64) (*types.DisclosureRecord, error) {
	return loadDisclosure(ctx, l.store, owner, nonce)
}

// IsNullifierUsed reports whether nullifier has been consumed
func (l *Ledger) IsNullifierUsed(ctx context.Context, nullifier types.Hash) (bool, error) {
	return nullifierUsed(ctx, l.store, nullifier)
}

// TreeState returns the persisted state of a tree
func (l *Ledger) TreeState(ctx context.Context, name TreeName) (zkp.AccumulatorState, error) {
	h, err := l.loadTree(ctx, l.store, name)
	if err != nil {
		return zkp.AccumulatorState{}, err
	}
	return h.acc.State(), nil
}

// IsValidRoot reports whether root is acceptable for the named tree
func (l *Ledger) IsValidRoot(ctx context.Context, name TreeName, root types.Hash) (bool, error) {
	h, err := l.loadTree(ctx, l.store, name)
	if err != nil {
		return false, err
	}
	return h.acc.IsValidRoot(root), nil
}

// Path returns the membership path of the leaf at index in the named tree,
// together with the current root
func (l *Ledger) Path(ctx context.Context, name TreeName, index uint64) (*zkp.MerklePath, types.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, err := l.loadTree(ctx, l.store, name)
	if err != nil {
		return nil, types.EmptyHash, err
	}
	if err := l.syncMirror(ctx, l.store, h); err != nil {
		return nil, types.EmptyHash, err
	}
	path, err := h.mirror.Path(ctx, index)
	if err != nil {
		return nil, types.EmptyHash, err
	}
	return path, h.acc.Root(), nil
}

// NextSiblings returns the siblings of the next free slot of the named tree
func (l *Ledger) NextSiblings(ctx context.Context, name TreeName) ([]types.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, err := l.loadTree(ctx, l.store, name)
	if err != nil {
		return nil, err
	}
	if err := l.syncMirror(ctx, l.store, h); err != nil {
		return nil, err
	}
	return h.mirror.NextSiblings(ctx)
}

// Leaves returns up to limit persisted leaves of the named tree starting at from
func (l *Ledger) Leaves(ctx context.Context, name TreeName, from uint64, limit int) ([]types.Hash, error) {
	h, err := l.loadTree(ctx, l.store, name)
	if err != nil {
		return nil, err
	}

	var leaves []types.Hash
	for i := from; i < h.acc.NextIndex() && len(leaves) < limit; i++ {
		var rec leafRecord
		if err := storage.GetRecord(ctx, l.store, leafKey(name, i), &rec); err != nil {
			return nil, err
		}
		leaves = append(leaves, rec.Leaf)
	}
	return leaves, nil
}

// Stats returns the protocol counters
func (l *Ledger) Stats(ctx context.Context) (*types.ProtocolStats, error) {
	stats, _, err := loadStats(ctx, l.store)
	return stats, err
}

type nopExecutor struct{}

func (nopExecutor) Deposit(context.Context, storage.Txn, types.Hash, uint64) error { return nil }

func (nopExecutor) Withdraw(context.Context, storage.Txn, types.Hash, uint64, uint64) error {
	return nil
}
