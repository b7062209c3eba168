package zkp

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/rs/zerolog"

	"github.com/shadowvault/core/pkg/types"
)

// generatorKey is a structurally valid key built from the curve generators;
// no real proof satisfies it
func generatorKey(inputs int) *VerifyingKey {
	_, _, g1, g2 := bn254.Generators()
	vk := &VerifyingKey{Alpha: g1, Beta: g2, Gamma: g2, Delta: g2}
	for i := 0; i <= inputs; i++ {
		vk.IC = append(vk.IC, g1)
	}
	return vk
}

func generatorProof() []byte {
	_, _, g1, g2 := bn254.Generators()
	p := &Proof{A: g1, B: g2, C: g1}
	return p.Bytes()
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestProofSize(t *testing.T) {
	if ProofSize != 256 {
		t.Fatalf("ProofSize = %d, want 256", ProofSize)
	}
}

func TestVerifyLengthFloor(t *testing.T) {
	v := newTestVerifier(t)
	if err := v.SetKey(ProofShield, generatorKey(2)); err != nil {
		t.Fatal(err)
	}
	inputs := ShieldInputs(1000, leaf(0))

	for _, n := range []int{0, 64, 255} {
		err := v.Verify(ProofShield, make([]byte, n), inputs)
		if !errors.Is(err, ErrProofTooShort) {
			t.Errorf("%d bytes: expected ErrProofTooShort, got %v", n, err)
		}
	}

	// 256 zero bytes pass the floor but are not a valid encoding
	err := v.Verify(ProofShield, make([]byte, ProofSize), inputs)
	if err == nil || errors.Is(err, ErrProofTooShort) {
		t.Errorf("zero proof: expected a parse failure, got %v", err)
	}
	if !errors.Is(err, ErrMalformedProof) {
		t.Errorf("zero proof: expected ErrMalformedProof, got %v", err)
	}
}

func TestVerifyInputCount(t *testing.T) {
	v := newTestVerifier(t)
	err := v.Verify(ProofTransfer, generatorProof(), ShieldInputs(1, leaf(0)))
	if !errors.Is(err, ErrPublicInputCount) {
		t.Errorf("expected ErrPublicInputCount, got %v", err)
	}
	if err := v.Verify(ProofKind(42), generatorProof(), nil); !errors.Is(err, ErrUnknownProofKind) {
		t.Errorf("expected ErrUnknownProofKind, got %v", err)
	}
}

func TestVerifyMissingKey(t *testing.T) {
	v := newTestVerifier(t)
	err := v.Verify(ProofWithdraw, generatorProof(), WithdrawInputs(leaf(0), leaf(1)))
	if !errors.Is(err, ErrMissingKey) {
		t.Errorf("expected ErrMissingKey, got %v", err)
	}
}

func TestVerifyRejectsWrongProof(t *testing.T) {
	v := newTestVerifier(t)
	if err := v.SetKey(ProofShield, generatorKey(2)); err != nil {
		t.Fatal(err)
	}
	err := v.Verify(ProofShield, generatorProof(), ShieldInputs(1000, leaf(0)))
	if !errors.Is(err, ErrProofRejected) {
		t.Errorf("expected ErrProofRejected, got %v", err)
	}
}

func TestSetKeyChecksInputCount(t *testing.T) {
	v := newTestVerifier(t)
	if err := v.SetKey(ProofTransfer, generatorKey(2)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if v.HasKey(ProofTransfer) {
		t.Error("rejected key must not be installed")
	}
}

func TestVerifyOwnershipAndCustom(t *testing.T) {
	v := newTestVerifier(t)
	h := KeccakHasher{}
	owner, commitment := leaf(1), leaf(2)

	claim := OwnershipClaim(h, owner, commitment)
	proof := append(claim.Bytes(), bytes.Repeat([]byte{1}, 32)...)
	if err := v.Verify(ProofOwnership, proof, OwnershipInputs(h, owner, commitment)); err != nil {
		t.Errorf("valid ownership proof: %v", err)
	}

	// claim for a different commitment
	if err := v.Verify(ProofOwnership, proof, OwnershipInputs(h, owner, leaf(3))); !errors.Is(err, ErrProofRejected) {
		t.Errorf("expected ErrProofRejected, got %v", err)
	}
	unsigned := append(claim.Bytes(), make([]byte, 32)...)
	if err := v.Verify(ProofOwnership, unsigned, OwnershipInputs(h, owner, commitment)); !errors.Is(err, ErrProofRejected) {
		t.Errorf("empty signature: expected ErrProofRejected, got %v", err)
	}
	if err := v.Verify(ProofOwnership, claim.Bytes(), OwnershipInputs(h, owner, commitment)); !errors.Is(err, ErrProofTooShort) {
		t.Errorf("claim only: expected ErrProofTooShort, got %v", err)
	}

	if err := v.Verify(ProofCustom, bytes.Repeat([]byte{5}, 32), nil); err != nil {
		t.Errorf("custom claim: %v", err)
	}
	if err := v.Verify(ProofCustom, make([]byte, 32), nil); !errors.Is(err, ErrProofRejected) {
		t.Errorf("zero custom claim: expected ErrProofRejected, got %v", err)
	}
}

func TestVerifyingKeyFile(t *testing.T) {
	vk := generatorKey(3)
	path := filepath.Join(t.TempDir(), KeyFileName(ProofRange))
	if err := vk.WriteFile(path); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadVerifyingKey(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.NumInputs() != 3 {
		t.Errorf("inputs = %d, want 3", got.NumInputs())
	}

	v := newTestVerifier(t)
	n, err := v.LoadKeys(filepath.Dir(path))
	if err != nil {
		t.Fatalf("load keys: %v", err)
	}
	if n != 1 || !v.HasKey(ProofRange) {
		t.Errorf("loaded %d keys, range key present = %v", n, v.HasKey(ProofRange))
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadVerifyingKey(path); err == nil {
		t.Error("corrupt key file should fail to load")
	}
}

func TestParseProofTrailingBytes(t *testing.T) {
	proof := append(generatorProof(), 0)
	if _, err := ParseProof(proof); !errors.Is(err, ErrMalformedProof) {
		t.Errorf("expected ErrMalformedProof, got %v", err)
	}
	p, err := ParseProof(generatorProof())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(p.Bytes(), generatorProof()) {
		t.Error("re-encoding should be stable")
	}
}

func TestShieldProofEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}

	cm := NewCircuitManager(zerolog.Nop())
	if err := cm.Setup(ProofShield); err != nil {
		t.Fatalf("setup: %v", err)
	}
	v := newTestVerifier(t)
	if err := cm.InstallKeys(v); err != nil {
		t.Fatalf("install keys: %v", err)
	}

	h := MiMCHasher{}
	amount := uint64(1_000_000)
	blinding := leaf(7)
	blinding[0] = 0
	commitment := Commitment(h, amount, blinding)

	proof, err := cm.Prove(ProofShield, ShieldAssignment(amount, blinding, commitment))
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if len(proof) != ProofSize {
		t.Fatalf("proof length = %d, want %d", len(proof), ProofSize)
	}

	if err := v.Verify(ProofShield, proof, ShieldInputs(amount, commitment)); err != nil {
		t.Errorf("valid proof rejected: %v", err)
	}
	if err := v.Verify(ProofShield, proof, ShieldInputs(amount+1, commitment)); !errors.Is(err, ErrProofRejected) {
		t.Errorf("wrong amount: expected ErrProofRejected, got %v", err)
	}

	var other types.Hash
	copy(other[:], commitment[:])
	other[31] ^= 1
	if err := v.Verify(ProofShield, proof, ShieldInputs(amount, other)); !errors.Is(err, ErrProofRejected) {
		t.Errorf("wrong commitment: expected ErrProofRejected, got %v", err)
	}
}
