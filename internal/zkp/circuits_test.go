package zkp

import (
	"context"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
	"github.com/rs/zerolog"
)

func TestShieldCircuitSolved(t *testing.T) {
	h := MiMCHasher{}
	blinding := Pad(777)
	commitment := Commitment(h, 1_000_000_000, blinding)

	good := ShieldAssignment(1_000_000_000, blinding, commitment)
	if err := test.IsSolved(&ShieldCircuit{}, good, ecc.BN254.ScalarField()); err != nil {
		t.Fatalf("valid shield witness not solved: %v", err)
	}

	bad := ShieldAssignment(100_000_000, blinding, commitment)
	if err := test.IsSolved(&ShieldCircuit{}, bad, ecc.BN254.ScalarField()); err == nil {
		t.Error("shield witness with wrong amount solved")
	}
}

func transferWitness(t *testing.T) *TransferWitness {
	t.Helper()
	ctx := context.Background()
	h := MiMCHasher{}

	w := &TransferWitness{
		SourceAmount:   1_000,
		SourceBlinding: Pad(1),
		Secret:         Pad(42),
		OutputAmount:   600,
		OutputBlinding: Pad(2),
		ChangeAmount:   400,
		ChangeBlinding: Pad(3),
	}
	w.SourceCommitment = Commitment(h, w.SourceAmount, w.SourceBlinding)
	w.OutputCommitment = Commitment(h, w.OutputAmount, w.OutputBlinding)
	w.ChangeCommitment = Commitment(h, w.ChangeAmount, w.ChangeBlinding)

	tree := NewTree(h, nil, TreeDepth)
	if _, err := tree.Append(ctx, Pad(99)); err != nil {
		t.Fatal(err)
	}
	index, err := tree.Append(ctx, w.SourceCommitment)
	if err != nil {
		t.Fatal(err)
	}
	path, err := tree.Path(ctx, index)
	if err != nil {
		t.Fatal(err)
	}

	w.LeafIndex = index
	w.Path = path.Siblings
	w.MerkleRoot = tree.Root()
	w.Nullifier = Nullifier(h, w.Secret, index)
	return w
}

func TestTransferCircuitSolved(t *testing.T) {
	w := transferWitness(t)
	assignment, err := w.Assignment()
	if err != nil {
		t.Fatal(err)
	}
	if err := test.IsSolved(&TransferCircuit{}, assignment, ecc.BN254.ScalarField()); err != nil {
		t.Fatalf("valid transfer witness not solved: %v", err)
	}

	// value not conserved
	w.ChangeAmount++
	w.ChangeCommitment = Commitment(MiMCHasher{}, w.ChangeAmount, w.ChangeBlinding)
	assignment, err = w.Assignment()
	if err != nil {
		t.Fatal(err)
	}
	if err := test.IsSolved(&TransferCircuit{}, assignment, ecc.BN254.ScalarField()); err == nil {
		t.Error("transfer creating value solved")
	}

	// root of another tree
	w = transferWitness(t)
	w.MerkleRoot = Pad(5)
	assignment, _ = w.Assignment()
	if err := test.IsSolved(&TransferCircuit{}, assignment, ecc.BN254.ScalarField()); err == nil {
		t.Error("transfer against unknown root solved")
	}

	w.Path = w.Path[:3]
	if _, err := w.Assignment(); err != ErrInvalidPath {
		t.Errorf("short path: got %v, want ErrInvalidPath", err)
	}
}

func TestWithdrawCircuitSolved(t *testing.T) {
	h := MiMCHasher{}
	blinding, secret := Pad(8), Pad(9)
	commitment := Commitment(h, 500, blinding)
	nullifier := Nullifier(h, secret, 3)

	good := WithdrawAssignment(500, blinding, secret, 3, commitment, nullifier)
	if err := test.IsSolved(&WithdrawCircuit{}, good, ecc.BN254.ScalarField()); err != nil {
		t.Fatalf("valid withdraw witness not solved: %v", err)
	}

	bad := WithdrawAssignment(500, blinding, Pad(10), 3, commitment, nullifier)
	if err := test.IsSolved(&WithdrawCircuit{}, bad, ecc.BN254.ScalarField()); err == nil {
		t.Error("withdraw with wrong secret solved")
	}
}

func TestRangeCircuitSolved(t *testing.T) {
	h := MiMCHasher{}
	blinding := Pad(11)
	commitment := Commitment(h, 50, blinding)

	tests := []struct {
		min, max uint64
		solved   bool
	}{
		{10, 100, true},
		{50, 50, true},
		{51, 100, false},
		{10, 49, false},
	}
	for _, tt := range tests {
		err := test.IsSolved(&RangeCircuit{}, RangeAssignment(50, blinding, commitment, tt.min, tt.max), ecc.BN254.ScalarField())
		if (err == nil) != tt.solved {
			t.Errorf("range [%d, %d]: solved=%v, want %v (%v)", tt.min, tt.max, err == nil, tt.solved, err)
		}
	}
}

func TestCompileAllCircuits(t *testing.T) {
	if testing.Short() {
		t.Skip("compiles every circuit")
	}
	cm := NewCircuitManager(zerolog.Nop())
	for _, kind := range PairingKinds {
		if err := cm.Compile(kind); err != nil {
			t.Errorf("compile %s: %v", kind, err)
		}
	}
	if err := cm.Compile(ProofOwnership); err != ErrUnknownProofKind {
		t.Errorf("compile ownership: got %v, want ErrUnknownProofKind", err)
	}
}
