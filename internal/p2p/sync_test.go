package p2p

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvault/core/internal/ledger"
	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

const testDepth = 8

func hashOf(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

// announcements builds leaf messages for n leaves the way a live node would
func announcements(t *testing.T, tree uint8, n int) []*LeafMessage {
	t.Helper()
	ref := zkp.NewTree(zkp.KeccakHasher{}, nil, testDepth)
	msgs := make([]*LeafMessage, n)
	for i := 0; i < n; i++ {
		leaf := hashOf(byte(i + 1))
		idx, err := ref.Append(context.Background(), leaf)
		require.NoError(t, err)
		msgs[i] = &LeafMessage{Tree: tree, Index: idx, Leaf: leaf, Root: ref.Root()}
	}
	return msgs
}

func newTestMirror(maxPending int) *Mirror {
	return NewMirror(zkp.KeccakHasher{}, testDepth, &SyncConfig{MaxPending: maxPending}, zerolog.Nop())
}

func TestMessageFraming(t *testing.T) {
	msg := &Message{Type: MsgTypeOutput, Payload: EncodeOutput(&OutputMessage{Commitment: hashOf(7), Timestamp: 42})}

	var buf bytes.Buffer
	require.NoError(t, msg.Encode(&buf))

	var got Message
	require.NoError(t, got.Decode(&buf))
	assert.Equal(t, msg.Type, got.Type)

	out, err := DecodeOutput(got.Payload)
	require.NoError(t, err)
	assert.Equal(t, hashOf(7), out.Commitment)
	assert.Equal(t, int64(42), out.Timestamp)

	big := &Message{Type: MsgTypeLeaf, Payload: make([]byte, MaxMessageSize+1)}
	assert.ErrorIs(t, big.Encode(&buf), ErrMessageTooLarge)

	_, err = DecodeLeaf(make([]byte, 10))
	assert.ErrorIs(t, err, ErrShortMessage)
	_, err = DecodeStatus(make([]byte, 10))
	assert.ErrorIs(t, err, ErrShortMessage)
}

func TestStatusEncoding(t *testing.T) {
	status := &StatusMessage{
		Version:        ProtocolVersion,
		NetworkID:      9,
		CommitmentSize: 3,
		CommitmentRoot: hashOf(1),
		NullifierSize:  2,
		NullifierRoot:  hashOf(2),
	}
	got, err := DecodeStatus(EncodeStatus(status))
	require.NoError(t, err)
	assert.Equal(t, status, got)
}

func TestTreeIDs(t *testing.T) {
	for _, name := range []ledger.TreeName{ledger.TreeCommitments, ledger.TreeNullifiers} {
		id, err := TreeID(name)
		require.NoError(t, err)
		back, err := TreeName(id)
		require.NoError(t, err)
		assert.Equal(t, name, back)
	}
	_, err := TreeName(7)
	assert.ErrorIs(t, err, ErrUnknownTree)
}

func TestMirrorOutOfOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(16)
	msgs := announcements(t, TreeIDCommitments, 4)

	require.NoError(t, m.ApplyLeaf(ctx, msgs[2]))
	require.NoError(t, m.ApplyLeaf(ctx, msgs[1]))
	assert.Equal(t, 2, m.Pending(TreeIDCommitments))
	assert.Equal(t, uint64(0), m.Status(1).CommitmentSize)

	// closing the gap drains the buffer
	require.NoError(t, m.ApplyLeaf(ctx, msgs[0]))
	assert.Equal(t, 0, m.Pending(TreeIDCommitments))

	status := m.Status(1)
	assert.Equal(t, uint64(3), status.CommitmentSize)
	assert.Equal(t, msgs[2].Root, status.CommitmentRoot)

	// duplicates are ignored
	require.NoError(t, m.ApplyLeaf(ctx, msgs[1]))
	assert.Equal(t, uint64(3), m.Status(1).CommitmentSize)

	require.NoError(t, m.ApplyLeaf(ctx, msgs[3]))
	path, root, err := m.Path(ctx, TreeIDCommitments, 3)
	require.NoError(t, err)
	assert.Equal(t, msgs[3].Root, root)
	assert.Len(t, path.Siblings, testDepth)
}

func TestMirrorRejectsBadAnnouncements(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(1)
	msgs := announcements(t, TreeIDNullifiers, 3)

	require.NoError(t, m.ApplyLeaf(ctx, msgs[1]))
	assert.ErrorIs(t, m.ApplyLeaf(ctx, msgs[2]), ErrPendingOverrun)

	forged := *msgs[0]
	forged.Root = hashOf(0xff)
	assert.ErrorIs(t, m.ApplyLeaf(ctx, &forged), ErrRootMismatch)

	forged = *msgs[0]
	forged.Leaf = hashOf(0xee)
	assert.ErrorIs(t, m.ApplyLeaf(ctx, &forged), ErrRootMismatch)
	assert.Equal(t, uint64(0), m.Status(0).NullifierSize)

	// the honest leaf still applies and drains the buffer
	require.NoError(t, m.ApplyLeaf(ctx, msgs[0]))
	assert.Equal(t, 0, m.Pending(TreeIDNullifiers))
	require.NoError(t, m.ApplyLeaf(ctx, msgs[2]))
	status := m.Status(0)
	assert.Equal(t, uint64(3), status.NullifierSize)
	assert.Equal(t, msgs[2].Root, status.NullifierRoot)

	assert.ErrorIs(t, m.ApplyLeaf(ctx, &LeafMessage{Tree: 5}), ErrUnknownTree)
	assert.ErrorIs(t, m.HandleMessage(ctx, &Message{Type: 0x7f}), ErrInvalidMessageType)
}

func TestMirrorDropsForgedBufferedLeaf(t *testing.T) {
	ctx := context.Background()
	m := newTestMirror(16)
	msgs := announcements(t, TreeIDCommitments, 3)

	forged := *msgs[1]
	forged.Leaf = hashOf(0xee)
	require.NoError(t, m.ApplyLeaf(ctx, &forged))

	assert.ErrorIs(t, m.ApplyLeaf(ctx, msgs[0]), ErrRootMismatch)
	assert.Equal(t, uint64(1), m.Status(0).CommitmentSize)
	assert.Equal(t, 0, m.Pending(TreeIDCommitments))

	require.NoError(t, m.ApplyLeaf(ctx, msgs[1]))
	require.NoError(t, m.ApplyLeaf(ctx, msgs[2]))
	assert.Equal(t, msgs[2].Root, m.Status(0).CommitmentRoot)
}

func TestMirrorBootstrap(t *testing.T) {
	ctx := context.Background()
	msgs := announcements(t, TreeIDCommitments, 3)
	leaves := []types.Hash{msgs[0].Leaf, msgs[1].Leaf, msgs[2].Leaf}

	m := newTestMirror(16)
	require.NoError(t, m.Bootstrap(ctx, TreeIDCommitments, leaves, msgs[2].Root))
	assert.Equal(t, uint64(3), m.Status(0).CommitmentSize)

	other := newTestMirror(16)
	assert.ErrorIs(t, other.Bootstrap(ctx, TreeIDCommitments, leaves, hashOf(1)), ErrRootMismatch)
}

type acceptAll struct{}

func (acceptAll) Verify(zkp.ProofKind, []byte, zkp.PublicInputs) error { return nil }

func TestMirrorFollowsLedger(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(&ledger.Config{
		Hasher: zkp.KeccakHasher{},
		Depth:  testDepth,
	}, storage.NewMemoryStore(), acceptAll{}, zerolog.Nop())

	m := newTestMirror(16)
	l.AddSink(m)

	owner := hashOf(0xa1)
	_, err := l.InitializeVault(ctx, owner, types.EmptyHash)
	require.NoError(t, err)

	params := ledger.DefaultParams()
	for i := byte(1); i <= 3; i++ {
		_, err := l.Shield(ctx, params, &ledger.ShieldRequest{
			Owner:      owner,
			Amount:     100_000_000,
			Commitment: hashOf(i),
			Proof:      make([]byte, zkp.ProofSize),
		})
		require.NoError(t, err)
	}

	state, err := l.TreeState(ctx, ledger.TreeCommitments)
	require.NoError(t, err)

	status := m.Status(0)
	assert.Equal(t, state.NextIndex, status.CommitmentSize)
	assert.Equal(t, state.Root, status.CommitmentRoot)
	assert.Equal(t, uint64(0), status.NullifierSize)
}

func TestEventMessages(t *testing.T) {
	ev := &ledger.Event{
		Kind:             ledger.EventTransferred,
		Commitment:       hashOf(1),
		CommitmentIndex:  4,
		CommitmentRoot:   hashOf(2),
		Nullifier:        hashOf(3),
		NullifierIndex:   1,
		NullifierRoot:    hashOf(4),
		OutputCommitment: hashOf(5),
		Timestamp:        100,
	}
	msgs := EventMessages(ev)
	require.Len(t, msgs, 3)

	leaf, err := DecodeLeaf(msgs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, &LeafMessage{Tree: TreeIDCommitments, Index: 4, Leaf: hashOf(1), Root: hashOf(2)}, leaf)

	leaf, err = DecodeLeaf(msgs[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, TreeIDNullifiers, leaf.Tree)

	assert.Equal(t, MsgTypeOutput, msgs[2].Type)

	m := newTestMirror(16)
	require.NoError(t, m.HandleMessage(context.Background(), msgs[2]))
	assert.Len(t, m.Outputs(100), 1)
	assert.Empty(t, m.Outputs(101))
}
