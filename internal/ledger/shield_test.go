package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

func TestShieldDenominations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initVault(t, alice)

	for i, amount := range types.Denominations() {
		r := f.shield(t, alice, amount, hashOf(byte(i+1)))
		assert.Equal(t, uint64(i+1), r.Note.Number)
		assert.Equal(t, uint64(i), r.Note.Index)
		assert.Equal(t, amount, r.Note.Denomination.Amount())
		assert.False(t, r.Note.Spent)
		assert.Equal(t, f.now.Unix()+day, r.Note.UnshieldAfter)
	}

	tests := []struct {
		name   string
		amount uint64
		want   error
	}{
		{"zero", 0, ErrZeroAmount},
		{"between tiers", 150_000_000, ErrInvalidDenomination},
		{"one base unit", 1, ErrInvalidDenomination},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Shield(ctx, f.params, &ShieldRequest{
				Owner: alice, Amount: tt.amount, Commitment: hashOf(0x55), Proof: make([]byte, zkp.ProofSize),
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	stats, err := f.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_111_100_000_000), stats.TotalShielded)
	assert.Equal(t, uint64(5), stats.Operations)
	assert.Equal(t, uint64(1_111_100_000_000), f.executor.deposited)
}

func TestShieldValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initVault(t, alice)

	base := func() *ShieldRequest {
		return &ShieldRequest{Owner: alice, Amount: tier1, Commitment: hashOf(1), Proof: make([]byte, zkp.ProofSize)}
	}

	req := base()
	req.Commitment = types.EmptyHash
	_, err := f.ledger.Shield(ctx, f.params, req)
	assert.ErrorIs(t, err, ErrInvalidCommitment)

	req = base()
	req.EncryptedAmount = make([]byte, 47)
	_, err = f.ledger.Shield(ctx, f.params, req)
	assert.ErrorIs(t, err, ErrInvalidEncryptedAmount)

	req = base()
	req.Owner = bob
	_, err = f.ledger.Shield(ctx, f.params, req)
	assert.ErrorIs(t, err, ErrVaultNotFound)

	paused := f.params
	paused.Paused = true
	_, err = f.ledger.Shield(ctx, paused, base())
	assert.ErrorIs(t, err, ErrProtocolPaused)

	req = base()
	req.EncryptedAmount = make([]byte, types.EncryptedAmountSize)
	r, err := f.ledger.Shield(ctx, f.params, req)
	require.NoError(t, err)
	assert.Len(t, r.Note.EncryptedAmount, types.EncryptedAmountSize)
}

func TestShieldProofFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initVault(t, alice)

	req := &ShieldRequest{Owner: alice, Amount: tier1, Commitment: hashOf(1), Proof: make([]byte, zkp.ProofSize)}

	f.verifier.fail(zkp.ProofShield, zkp.ErrProofRejected)
	_, err := f.ledger.Shield(ctx, f.params, req)
	assert.ErrorIs(t, err, ErrInvalidCommitment)

	f.verifier.fail(zkp.ProofShield, zkp.ErrProofTooShort)
	_, err = f.ledger.Shield(ctx, f.params, req)
	assert.ErrorIs(t, err, ErrProofVerificationFailed)
	assert.ErrorIs(t, err, zkp.ErrProofTooShort)

	state, err := f.ledger.TreeState(ctx, TreeCommitments)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), state.NextIndex)

	v, err := f.ledger.GetVault(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v.NoteCount)
	assert.Equal(t, []EventKind{EventVaultInitialized}, f.events.kinds())
}

func TestShieldWithoutVerifierFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.ledger.verifier = nil
	f.initVault(t, alice)

	_, err := f.ledger.Shield(context.Background(), f.params, &ShieldRequest{
		Owner: alice, Amount: tier1, Commitment: hashOf(1), Proof: make([]byte, zkp.ProofSize),
	})
	assert.ErrorIs(t, err, ErrProofVerificationFailed)
	assert.ErrorIs(t, err, zkp.ErrMissingKey)
}

func TestShieldSiblings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initVault(t, alice)

	siblings, err := f.ledger.NextSiblings(ctx, TreeCommitments)
	require.NoError(t, err)

	r, err := f.ledger.Shield(ctx, f.params, &ShieldRequest{
		Owner: alice, Amount: tier1, Commitment: hashOf(1), Proof: make([]byte, zkp.ProofSize), Siblings: siblings,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.Note.Index)

	// same siblings again: they describe slot 0, not slot 1
	_, err = f.ledger.Shield(ctx, f.params, &ShieldRequest{
		Owner: alice, Amount: tier1, Commitment: hashOf(2), Proof: make([]byte, zkp.ProofSize), Siblings: siblings,
	})
	assert.ErrorIs(t, err, ErrStaleSiblings)
	assert.True(t, IsRetryable(err))

	_, err = f.ledger.Shield(ctx, f.params, &ShieldRequest{
		Owner: alice, Amount: tier1, Commitment: hashOf(2), Proof: make([]byte, zkp.ProofSize), Siblings: siblings[:5],
	})
	assert.ErrorIs(t, err, ErrInvalidMerkleSiblings)
}

func TestShieldExecutorFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initVault(t, alice)
	f.executor.depositErr = errors.New("insufficient balance")

	_, err := f.ledger.Shield(ctx, f.params, &ShieldRequest{
		Owner: alice, Amount: tier1, Commitment: hashOf(1), Proof: make([]byte, zkp.ProofSize),
	})
	assert.ErrorIs(t, err, ErrTransferFailed)

	state, err := f.ledger.TreeState(ctx, TreeCommitments)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), state.NextIndex)

	_, err = f.ledger.GetNote(ctx, alice, 1)
	assert.ErrorIs(t, err, ErrNoteNotFound)

	// the ledger is still usable after the failed transaction
	f.executor.depositErr = nil
	r := f.shield(t, alice, tier1, hashOf(1))
	assert.Equal(t, uint64(0), r.Note.Index)
	assert.Equal(t, uint64(1), r.Note.Number)
}

func TestShieldEvent(t *testing.T) {
	f := newFixture(t)
	f.initVault(t, alice)
	r := f.shield(t, alice, tier1, hashOf(9))

	ev := f.events.last()
	assert.Equal(t, EventShielded, ev.Kind)
	assert.Equal(t, hashOf(9), ev.Commitment)
	assert.Equal(t, r.Root, ev.CommitmentRoot)
	assert.Equal(t, uint64(tier1), ev.Amount)
	assert.True(t, ev.HasCommitment())
	assert.False(t, ev.HasNullifier())
}
