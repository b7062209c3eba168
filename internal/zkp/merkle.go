package zkp

import (
	"context"
	"errors"
	"sync"

	"github.com/shadowvault/core/pkg/types"
)

// ErrNodeNotFound is returned by a TreeStore for a node never written
var ErrNodeNotFound = errors.New("tree node not found")

// Tree is a full Merkle tree mirroring an Accumulator. It keeps every node
// so it can hand out sibling paths for membership proofs and for the next
// insertion; the Accumulator remains the authority on the root.
type Tree struct {
	mu sync.RWMutex

	hasher Hasher
	depth  int
	zeros  []types.Hash

	// Current number of leaves
	size uint64

	// Root hash
	root types.Hash

	store TreeStore
}

// TreeStore defines the node storage behind a Tree
type TreeStore interface {
	// GetNode retrieves a node by level and index
	GetNode(ctx context.Context, level int, index uint64) (types.Hash, error)

	// SetNode stores a node
	SetNode(ctx context.Context, level int, index uint64, hash types.Hash) error
}

// MerklePath represents a path from a leaf to the root
type MerklePath struct {
	// Siblings are the sibling hashes along the path, leaf level first
	Siblings []types.Hash

	// PathBits indicates left (false) or right (true) at each level
	PathBits []bool

	// LeafPosition is the position of the leaf
	LeafPosition uint64
}

// NewTree creates an empty tree mirror
func NewTree(h Hasher, store TreeStore, depth int) *Tree {
	if h == nil {
		h = DefaultHasher
	}
	if depth <= 0 {
		depth = TreeDepth
	}
	if store == nil {
		store = NewInMemoryTreeStore()
	}

	zeros := EmptySubtrees(h, depth)
	return &Tree{
		hasher: h,
		depth:  depth,
		zeros:  zeros,
		root:   zeros[depth],
		store:  store,
	}
}

// Append adds a leaf at the next position and returns that position
func (t *Tree) Append(ctx context.Context, leaf types.Hash) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.size >= uint64(1)<<t.depth {
		return 0, ErrTreeFull
	}

	position := t.size
	if err := t.store.SetNode(ctx, 0, position, leaf); err != nil {
		return 0, err
	}

	current := leaf
	index := position
	for level := 0; level < t.depth; level++ {
		sibling := t.node(ctx, level, index^1)
		if index%2 == 0 {
			current = t.hasher.HashPair(current, sibling)
		} else {
			current = t.hasher.HashPair(sibling, current)
		}
		index /= 2

		if err := t.store.SetNode(ctx, level+1, index, current); err != nil {
			return 0, err
		}
	}

	t.root = current
	t.size++
	return position, nil
}

// Hasher returns the tree's compression function
func (t *Tree) Hasher() Hasher { return t.hasher }

// Root returns the current root
func (t *Tree) Root() types.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Size returns the number of leaves
func (t *Tree) Size() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Path returns the membership path of an existing leaf
func (t *Tree) Path(ctx context.Context, position uint64) (*MerklePath, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if position >= t.size {
		return nil, ErrInvalidPosition
	}
	return t.path(ctx, position), nil
}

// NextSiblings returns the siblings of the next free slot, as required by
// Accumulator.Insert
func (t *Tree) NextSiblings(ctx context.Context) ([]types.Hash, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.size >= uint64(1)<<t.depth {
		return nil, ErrTreeFull
	}
	return t.path(ctx, t.size).Siblings, nil
}

// VerifyPath verifies a Merkle path leads to the expected root
func (t *Tree) VerifyPath(leaf types.Hash, path *MerklePath, expectedRoot types.Hash) bool {
	if path == nil || len(path.Siblings) != t.depth {
		return false
	}
	return ComputeRoot(t.hasher, leaf, path.LeafPosition, path.Siblings) == expectedRoot
}

func (t *Tree) path(ctx context.Context, position uint64) *MerklePath {
	siblings := make([]types.Hash, t.depth)
	pathBits := make([]bool, t.depth)

	index := position
	for level := 0; level < t.depth; level++ {
		siblings[level] = t.node(ctx, level, index^1)
		pathBits[level] = index%2 == 1
		index /= 2
	}

	return &MerklePath{
		Siblings:     siblings,
		PathBits:     pathBits,
		LeafPosition: position,
	}
}

// node returns a stored node or the empty subtree hash of its level
func (t *Tree) node(ctx context.Context, level int, index uint64) types.Hash {
	h, err := t.store.GetNode(ctx, level, index)
	if err != nil {
		return t.zeros[level]
	}
	return h
}

// InMemoryTreeStore keeps tree nodes in maps
type InMemoryTreeStore struct {
	mu    sync.RWMutex
	nodes map[int]map[uint64]types.Hash // level -> index -> hash
}

// NewInMemoryTreeStore creates a new in-memory tree store
func NewInMemoryTreeStore() *InMemoryTreeStore {
	return &InMemoryTreeStore{
		nodes: make(map[int]map[uint64]types.Hash),
	}
}

// GetNode retrieves a node
func (s *InMemoryTreeStore) GetNode(ctx context.Context, level int, index uint64) (types.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hash, exists := s.nodes[level][index]
	if !exists {
		return types.EmptyHash, ErrNodeNotFound
	}
	return hash, nil
}

// SetNode stores a node
func (s *InMemoryTreeStore) SetNode(ctx context.Context, level int, index uint64, hash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nodes[level] == nil {
		s.nodes[level] = make(map[uint64]types.Hash)
	}
	s.nodes[level][index] = hash
	return nil
}
