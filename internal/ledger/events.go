package ledger

import (
	"github.com/shadowvault/core/pkg/types"
)

// EventKind identifies a committed ledger operation
type EventKind uint8

const (
	EventVaultInitialized EventKind = iota + 1
	EventShielded
	EventTransferred
	EventUnshielded
	EventRevealed
)

func (k EventKind) String() string {
	switch k {
	case EventVaultInitialized:
		return "vault_initialized"
	case EventShielded:
		return "shielded"
	case EventTransferred:
		return "transferred"
	case EventUnshielded:
		return "unshielded"
	case EventRevealed:
		return "revealed"
	default:
		return "unknown"
	}
}

// Event is published after an operation commits. Only fields relevant to
// Kind are set; amounts appear only for the public shield and unshield legs.
type Event struct {
	Kind  EventKind
	Vault types.Hash

	// Commitment tree leaf appended by this operation
	Commitment      types.Hash
	CommitmentIndex uint64
	CommitmentRoot  types.Hash

	// Nullifier tree leaf appended by this operation
	Nullifier      types.Hash
	NullifierIndex uint64
	NullifierRoot  types.Hash

	// OutputCommitment is the recipient's commitment of a transfer
	OutputCommitment types.Hash

	NoteNumber uint64
	Amount     uint64
	Fee        uint64

	Timestamp int64
}

// HasCommitment reports whether the event appended a commitment leaf
func (e *Event) HasCommitment() bool {
	return e.Kind == EventShielded || e.Kind == EventTransferred
}

// HasNullifier reports whether the event appended a nullifier leaf
func (e *Event) HasNullifier() bool {
	return e.Kind == EventTransferred || e.Kind == EventUnshielded
}
