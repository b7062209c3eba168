package zkp

import "github.com/shadowvault/core/pkg/types"

// RecentRootsCapacity is how many superseded roots stay acceptable
const RecentRootsCapacity = 30

// RootRing is a fixed-capacity circular buffer of superseded roots,
// newest at Head. Only the first Count entries (walking back from Head)
// are meaningful, so an all-zero slot is never mistaken for a root.
type RootRing struct {
	Roots [RecentRootsCapacity]types.Hash
	Head  uint8
	Count uint8
}

// Push records root as the most recent entry, evicting the oldest when full
func (r *RootRing) Push(root types.Hash) {
	r.Head = (r.Head + 1) % RecentRootsCapacity
	r.Roots[r.Head] = root
	if r.Count < RecentRootsCapacity {
		r.Count++
	}
}

// At returns the i-th most recent root (0 is the newest)
func (r *RootRing) At(i int) (types.Hash, bool) {
	if i < 0 || i >= int(r.Count) {
		return types.EmptyHash, false
	}
	pos := (int(r.Head) + RecentRootsCapacity - i) % RecentRootsCapacity
	return r.Roots[pos], true
}

// Contains reports whether root is one of the recorded entries
func (r *RootRing) Contains(root types.Hash) bool {
	for i := 0; i < int(r.Count); i++ {
		if h, _ := r.At(i); h == root {
			return true
		}
	}
	return false
}

// Len returns the number of recorded roots
func (r *RootRing) Len() int {
	return int(r.Count)
}

// List returns the recorded roots, newest first
func (r *RootRing) List() []types.Hash {
	out := make([]types.Hash, 0, r.Count)
	for i := 0; i < int(r.Count); i++ {
		h, _ := r.At(i)
		out = append(out, h)
	}
	return out
}
