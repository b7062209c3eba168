package ledger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

func revealReq(kind types.DisclosureKind, nonce uint64) *RevealRequest {
	return &RevealRequest{
		Owner:      alice,
		Kind:       kind,
		Nonce:      nonce,
		RangeMin:   10,
		RangeMax:   20,
		Proof:      make([]byte, zkp.ProofSize),
		Commitment: hashOf(1),
	}
}

func TestRevealNonces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initVault(t, alice)

	rec, err := f.ledger.Reveal(ctx, f.params, revealReq(types.DisclosureRange, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Nonce)
	assert.True(t, rec.Verified)
	assert.Equal(t, f.now.Unix()+types.DisclosureTTL, rec.ExpiresAt)

	rec, err = f.ledger.Reveal(ctx, f.params, revealReq(types.DisclosureCompliance, 5))
	require.NoError(t, err)
	assert.Equal(t, uint64(5), rec.Nonce)

	_, err = f.ledger.Reveal(ctx, f.params, revealReq(types.DisclosureRange, 5))
	assert.ErrorIs(t, err, ErrProofAlreadyExists)

	rec, err = f.ledger.Reveal(ctx, f.params, revealReq(types.DisclosureRange, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), rec.Nonce)

	// a lower explicit nonce fills a gap without moving the counter back
	_, err = f.ledger.Reveal(ctx, f.params, revealReq(types.DisclosureRange, 3))
	require.NoError(t, err)

	v, err := f.ledger.GetVault(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), v.DisclosureCount)

	got, err := f.ledger.GetDisclosure(ctx, alice, 5)
	require.NoError(t, err)
	assert.Equal(t, types.DisclosureCompliance, got.Kind)
	assert.Equal(t, uint64(10), got.RangeMin)

	_, err = f.ledger.GetDisclosure(ctx, alice, 4)
	assert.ErrorIs(t, err, ErrDisclosureNotFound)
}

func TestRevealExpiry(t *testing.T) {
	f := newFixture(t)
	f.initVault(t, alice)

	rec, err := f.ledger.Reveal(context.Background(), f.params, revealReq(types.DisclosureRange, 0))
	require.NoError(t, err)

	assert.False(t, rec.Expired(rec.CreatedAt+types.DisclosureTTL-1))
	assert.True(t, rec.Expired(rec.CreatedAt+types.DisclosureTTL))
	assert.Equal(t, int64(30*day), types.DisclosureTTL)
}

func TestRevealValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initVault(t, alice)

	req := revealReq(types.DisclosureRange, 0)
	req.RangeMin, req.RangeMax = 21, 20
	_, err := f.ledger.Reveal(ctx, f.params, req)
	assert.ErrorIs(t, err, ErrInvalidRange)

	req = revealReq(types.DisclosureRange, 0)
	req.RangeMin, req.RangeMax = 20, 20
	_, err = f.ledger.Reveal(ctx, f.params, req)
	assert.NoError(t, err)

	_, err = f.ledger.Reveal(ctx, f.params, revealReq(types.DisclosureKind(9), 0))
	assert.ErrorIs(t, err, ErrUnsupportedProofType)

	req = revealReq(types.DisclosureRange, 0)
	req.Owner = bob
	_, err = f.ledger.Reveal(ctx, f.params, req)
	assert.ErrorIs(t, err, ErrVaultNotFound)
}

func TestRevealProofBranches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initVault(t, alice)

	tests := []struct {
		kind      types.DisclosureKind
		proofKind zkp.ProofKind
		want      error
	}{
		{types.DisclosureRange, zkp.ProofRange, ErrInvalidRangeProof},
		{types.DisclosureCompliance, zkp.ProofRange, ErrInvalidRangeProof},
		{types.DisclosureOwnership, zkp.ProofOwnership, ErrInvalidOwnershipProof},
		{types.DisclosureCustom, zkp.ProofCustom, ErrCustomProofFailed},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			f.verifier.fail(tt.proofKind, zkp.ErrProofRejected)
			defer f.verifier.fail(tt.proofKind, nil)

			_, err := f.ledger.Reveal(ctx, f.params, revealReq(tt.kind, 0))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	v, err := f.ledger.GetVault(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v.DisclosureCount)
}

func TestRevealWhilePaused(t *testing.T) {
	f := newFixture(t)
	f.initVault(t, alice)

	paused := f.params
	paused.Paused = true
	rec, err := f.ledger.Reveal(context.Background(), paused, revealReq(types.DisclosureCustom, 0))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Nonce)
	assert.Equal(t, EventRevealed, f.events.last().Kind)
}

func TestRevealOwnershipWithRealVerifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.initVault(t, alice)

	v, err := zkp.NewVerifier(nil, f.ledger.log)
	require.NoError(t, err)
	f.ledger.verifier = v

	claim := zkp.OwnershipClaim(f.ledger.Hasher(), alice, hashOf(1))
	req := revealReq(types.DisclosureOwnership, 0)
	req.Proof = append(claim.Bytes(), bytes.Repeat([]byte{1}, 32)...)

	_, err = f.ledger.Reveal(ctx, f.params, req)
	require.NoError(t, err)

	// claim bound to another owner
	req = revealReq(types.DisclosureOwnership, 0)
	other := zkp.OwnershipClaim(f.ledger.Hasher(), bob, hashOf(1))
	req.Proof = append(other.Bytes(), bytes.Repeat([]byte{1}, 32)...)
	_, err = f.ledger.Reveal(ctx, f.params, req)
	assert.ErrorIs(t, err, ErrInvalidOwnershipProof)
}
