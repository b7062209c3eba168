// Package p2p provides tree synchronization from peer announcements.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shadowvault/core/internal/ledger"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

// Sync errors
var (
	ErrRootMismatch   = errors.New("announced root does not match local mirror")
	ErrPendingOverrun = errors.New("too many out-of-order leaves")
)

// SyncConfig holds mirror configuration
type SyncConfig struct {
	// MaxPending bounds leaves buffered ahead of a gap
	MaxPending int
}

// DefaultSyncConfig returns default sync configuration
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{MaxPending: 4096}
}

// Mirror rebuilds both trees from leaf announcements so a node without
// store access can serve membership paths. Leaves may arrive out of order;
// they are buffered until the gap before them closes.
type Mirror struct {
	mu sync.Mutex

	trees   [2]*zkp.Tree
	pending [2]map[uint64]*LeafMessage

	// outputs seen on the bus, newest last
	outputs []OutputMessage

	maxPending int
	log        zerolog.Logger
}

// NewMirror creates empty mirrors of both trees
func NewMirror(h zkp.Hasher, depth int, cfg *SyncConfig, log zerolog.Logger) *Mirror {
	if cfg == nil {
		cfg = DefaultSyncConfig()
	}
	m := &Mirror{
		maxPending: cfg.MaxPending,
		log:        log.With().Str("module", "mirror").Logger(),
	}
	for i := range m.trees {
		m.trees[i] = zkp.NewTree(h, nil, depth)
		m.pending[i] = make(map[uint64]*LeafMessage)
	}
	return m
}

// ApplyLeaf appends an announced leaf, draining any buffered successors
func (m *Mirror) ApplyLeaf(ctx context.Context, msg *LeafMessage) error {
	if int(msg.Tree) >= len(m.trees) {
		return fmt.Errorf("%w: %d", ErrUnknownTree, msg.Tree)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tree := m.trees[msg.Tree]
	pending := m.pending[msg.Tree]

	switch size := tree.Size(); {
	case msg.Index < size:
		// already applied
		return nil
	case msg.Index > size:
		if len(pending) >= m.maxPending {
			return ErrPendingOverrun
		}
		pending[msg.Index] = msg
		return nil
	}

	for next := msg; next != nil; {
		// a rejected leaf leaves the tree untouched and frees its slot for
		// the honest announcement
		if err := m.checkRoot(ctx, tree, next); err != nil {
			delete(pending, next.Index)
			return err
		}
		if _, err := tree.Append(ctx, next.Leaf); err != nil {
			delete(pending, next.Index)
			return err
		}
		delete(pending, next.Index)
		next = pending[tree.Size()]
	}
	return nil
}

// checkRoot compares the root tree would have after appending msg.Leaf
// with the announced one
func (m *Mirror) checkRoot(ctx context.Context, tree *zkp.Tree, msg *LeafMessage) error {
	siblings, err := tree.NextSiblings(ctx)
	if err != nil {
		return err
	}
	if zkp.ComputeRoot(tree.Hasher(), msg.Leaf, msg.Index, siblings) != msg.Root {
		return fmt.Errorf("%w: tree %d index %d", ErrRootMismatch, msg.Tree, msg.Index)
	}
	return nil
}

// Bootstrap appends leaves read from a store and checks the final root
func (m *Mirror) Bootstrap(ctx context.Context, tree uint8, leaves []types.Hash, root types.Hash) error {
	if int(tree) >= len(m.trees) {
		return fmt.Errorf("%w: %d", ErrUnknownTree, tree)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.trees[tree]
	for _, leaf := range leaves {
		if _, err := t.Append(ctx, leaf); err != nil {
			return err
		}
	}
	if t.Root() != root {
		return fmt.Errorf("%w: tree %d after bootstrap", ErrRootMismatch, tree)
	}
	return nil
}

// ApplyOutput records an output commitment announcement
func (m *Mirror) ApplyOutput(msg *OutputMessage) {
	m.mu.Lock()
	m.outputs = append(m.outputs, *msg)
	m.mu.Unlock()
}

// Outputs returns output commitments announced at or after since
func (m *Mirror) Outputs(since int64) []OutputMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []OutputMessage
	for _, o := range m.outputs {
		if o.Timestamp >= since {
			out = append(out, o)
		}
	}
	return out
}

// Path returns the membership path of a leaf in the mirrored tree
func (m *Mirror) Path(ctx context.Context, tree uint8, index uint64) (*zkp.MerklePath, types.Hash, error) {
	if int(tree) >= len(m.trees) {
		return nil, types.EmptyHash, fmt.Errorf("%w: %d", ErrUnknownTree, tree)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path, err := m.trees[tree].Path(ctx, index)
	if err != nil {
		return nil, types.EmptyHash, err
	}
	return path, m.trees[tree].Root(), nil
}

// Status returns the mirrored sizes and roots
func (m *Mirror) Status(networkID uint32) *StatusMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	return &StatusMessage{
		Version:        ProtocolVersion,
		NetworkID:      networkID,
		CommitmentSize: m.trees[TreeIDCommitments].Size(),
		CommitmentRoot: m.trees[TreeIDCommitments].Root(),
		NullifierSize:  m.trees[TreeIDNullifiers].Size(),
		NullifierRoot:  m.trees[TreeIDNullifiers].Root(),
	}
}

// Pending returns the number of buffered leaves of a tree
func (m *Mirror) Pending(tree uint8) int {
	if int(tree) >= len(m.pending) {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[tree])
}

// HandleEvent applies a committed local event, keeping the mirror in step
// with the ledger it runs next to
func (m *Mirror) HandleEvent(ctx context.Context, ev *ledger.Event) {
	for _, msg := range EventMessages(ev) {
		if err := m.HandleMessage(ctx, msg); err != nil {
			m.log.Warn().Err(err).Stringer("event", ev.Kind).Msg("Mirror rejected local event")
		}
	}
}

// HandleMessage dispatches a decoded bus message
func (m *Mirror) HandleMessage(ctx context.Context, msg *Message) error {
	switch msg.Type {
	case MsgTypeLeaf:
		leaf, err := DecodeLeaf(msg.Payload)
		if err != nil {
			return err
		}
		return m.ApplyLeaf(ctx, leaf)
	case MsgTypeOutput:
		out, err := DecodeOutput(msg.Payload)
		if err != nil {
			return err
		}
		m.ApplyOutput(out)
		return nil
	case MsgTypeStatus:
		status, err := DecodeStatus(msg.Payload)
		if err != nil {
			return err
		}
		local := m.Status(status.NetworkID)
		if status.CommitmentSize > local.CommitmentSize || status.NullifierSize > local.NullifierSize {
			m.log.Debug().
				Uint64("remote_commitments", status.CommitmentSize).
				Uint64("local_commitments", local.CommitmentSize).
				Msg("Peer is ahead")
		}
		return nil
	default:
		return fmt.Errorf("%w: 0x%02x", ErrInvalidMessageType, msg.Type)
	}
}
