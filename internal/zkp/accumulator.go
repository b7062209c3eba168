package zkp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shadowvault/core/pkg/types"
)

// Merkle accumulator errors
var (
	ErrTreeFull        = errors.New("merkle tree is full")
	ErrInvalidPath     = errors.New("invalid merkle path")
	ErrInvalidPosition = errors.New("invalid position")
	ErrStaleSiblings   = errors.New("sibling path does not match the next free slot")
	ErrZeroLeaf        = errors.New("zero leaf cannot be inserted")
	ErrDepthMismatch   = errors.New("accumulator depth mismatch")
)

// TreeDepth is the fixed depth of the commitment and nullifier trees
const TreeDepth = 20

// AccumulatorState is the persisted form of an accumulator
type AccumulatorState struct {
	Root      types.Hash
	NextIndex uint64
	Depth     uint8
	Recent    RootRing
}

// Accumulator is an incremental Merkle tree that keeps only its root, the
// next free index and a window of recent roots. Callers supply sibling
// paths; the tree body lives elsewhere (see Tree).
type Accumulator struct {
	mu sync.RWMutex

	hasher Hasher
	zeros  []types.Hash
	state  AccumulatorState
}

// NewAccumulator creates an empty accumulator of the given depth
func NewAccumulator(h Hasher, depth int) *Accumulator {
	if h == nil {
		h = DefaultHasher
	}
	if depth <= 0 {
		depth = TreeDepth
	}

	zeros := EmptySubtrees(h, depth)
	return &Accumulator{
		hasher: h,
		zeros:  zeros,
		state: AccumulatorState{
			Root:  zeros[depth],
			Depth: uint8(depth),
		},
	}
}

// RestoreAccumulator rebuilds an accumulator from persisted state
func RestoreAccumulator(h Hasher, state AccumulatorState) (*Accumulator, error) {
	if h == nil {
		h = DefaultHasher
	}
	if state.Depth == 0 || state.Depth > 63 {
		return nil, fmt.Errorf("%w: depth %d", ErrDepthMismatch, state.Depth)
	}
	if int(state.Recent.Count) > RecentRootsCapacity || int(state.Recent.Head) >= RecentRootsCapacity {
		return nil, fmt.Errorf("%w: corrupt recent-root ring", ErrInvalidPath)
	}

	return &Accumulator{
		hasher: h,
		zeros:  EmptySubtrees(h, int(state.Depth)),
		state:  state,
	}, nil
}

// ComputeRoot walks from leaf to the root. Bit i of index selects the
// order at level i: 0 keeps the running value on the left.
func ComputeRoot(h Hasher, leaf types.Hash, index uint64, siblings []types.Hash) types.Hash {
	current := leaf
	for _, sibling := range siblings {
		if index&1 == 0 {
			current = h.HashPair(current, sibling)
		} else {
			current = h.HashPair(sibling, current)
		}
		index >>= 1
	}
	return current
}

// ComputeRootWithLeaf returns the root obtained by placing leaf at index
func (a *Accumulator) ComputeRootWithLeaf(leaf types.Hash, index uint64, siblings []types.Hash) (types.Hash, error) {
	if err := a.checkPath(index, siblings); err != nil {
		return types.EmptyHash, err
	}
	return ComputeRoot(a.hasher, leaf, index, siblings), nil
}

// Insert places leaf at the next free index and returns that index.
// The siblings must be those of the empty slot under the current root.
// Root, index and ring change together or not at all.
func (a *Accumulator) Insert(leaf types.Hash, siblings []types.Hash) (uint64, error) {
	if leaf.IsEmpty() {
		return 0, ErrZeroLeaf
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	index := a.state.NextIndex
	if index >= a.capacity() {
		return 0, ErrTreeFull
	}
	if err := a.checkPath(index, siblings); err != nil {
		return 0, err
	}

	if ComputeRoot(a.hasher, a.zeros[0], index, siblings) != a.state.Root {
		return 0, ErrStaleSiblings
	}
	newRoot := ComputeRoot(a.hasher, leaf, index, siblings)

	a.state.Recent.Push(a.state.Root)
	a.state.Root = newRoot
	a.state.NextIndex = index + 1

	return index, nil
}

// IsValidRoot reports whether candidate is the current root or a recent one
func (a *Accumulator) IsValidRoot(candidate types.Hash) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return candidate == a.state.Root || a.state.Recent.Contains(candidate)
}

// VerifyMembership reports whether leaf sits at index under a valid root
func (a *Accumulator) VerifyMembership(leaf types.Hash, index uint64, siblings []types.Hash, root types.Hash) bool {
	if !a.IsValidRoot(root) {
		return false
	}
	computed, err := a.ComputeRootWithLeaf(leaf, index, siblings)
	if err != nil {
		return false
	}
	return computed == root
}

// Root returns the current root
func (a *Accumulator) Root() types.Hash {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Root
}

// NextIndex returns the next free leaf index
func (a *Accumulator) NextIndex() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.NextIndex
}

// Depth returns the tree depth
func (a *Accumulator) Depth() int {
	return int(a.state.Depth)
}

// State returns a copy of the persisted state
func (a *Accumulator) State() AccumulatorState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// EmptyRoot returns the root of the empty tree
func (a *Accumulator) EmptyRoot() types.Hash {
	return a.zeros[len(a.zeros)-1]
}

func (a *Accumulator) capacity() uint64 {
	return uint64(1) << a.state.Depth
}

func (a *Accumulator) checkPath(index uint64, siblings []types.Hash) error {
	if len(siblings) != int(a.state.Depth) {
		return fmt.Errorf("%w: got %d siblings, want %d", ErrInvalidPath, len(siblings), a.state.Depth)
	}
	if index >= a.capacity() {
		return ErrInvalidPosition
	}
	return nil
}

var (
	emptyMu    sync.Mutex
	emptyCache = make(map[string][]types.Hash)
)

// EmptySubtrees returns the roots of empty subtrees for levels 0..depth;
// level 0 is the zero leaf and level depth is the empty-tree root.
func EmptySubtrees(h Hasher, depth int) []types.Hash {
	key := fmt.Sprintf("%s/%d", h.Name(), depth)

	emptyMu.Lock()
	defer emptyMu.Unlock()

	if zs, ok := emptyCache[key]; ok {
		return zs
	}

	zs := make([]types.Hash, depth+1)
	for i := 1; i <= depth; i++ {
		zs[i] = h.HashPair(zs[i-1], zs[i-1])
	}
	emptyCache[key] = zs
	return zs
}
