package zkp

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/shadowvault/core/pkg/types"
)

// ProofKind identifies a proof statement and its public-input schema
type ProofKind uint8

const (
	// ProofShield: (amount, commitment)
	ProofShield ProofKind = iota
	// ProofTransfer: (sourceCommitment, nullifier, outputCommitment, changeCommitment, merkleRoot)
	ProofTransfer
	// ProofWithdraw: (sourceCommitment, nullifier)
	ProofWithdraw
	// ProofRange: (commitment, rangeMin, rangeMax)
	ProofRange
	// ProofOwnership: (claimDigest) where claimDigest = H(owner, commitment)
	ProofOwnership
	// ProofCustom: no public inputs, a non-zero 32-byte claim
	ProofCustom
)

var kindNames = [...]string{"shield", "transfer", "withdraw", "range", "ownership", "custom"}

func (k ProofKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ProofKind(%d)", uint8(k))
}

// ParseProofKind parses a kind name
func ParseProofKind(s string) (ProofKind, error) {
	for i, name := range kindNames {
		if name == s {
			return ProofKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProofKind, s)
}

// PairingKinds are the kinds verified with a Groth16 verifying key
var PairingKinds = []ProofKind{ProofShield, ProofTransfer, ProofWithdraw, ProofRange}

// PublicInputs are the public signals of a proof, in schema order
type PublicInputs []fr.Element

func fromUint64(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

// ShieldInputs builds (amount, commitment)
func ShieldInputs(amount uint64, commitment types.Hash) PublicInputs {
	return PublicInputs{fromUint64(amount), FieldElement(commitment)}
}

// TransferInputs builds (sourceCommitment, nullifier, outputCommitment, changeCommitment, merkleRoot)
func TransferInputs(source, nullifier, output, change, root types.Hash) PublicInputs {
	return PublicInputs{
		FieldElement(source),
		FieldElement(nullifier),
		FieldElement(output),
		FieldElement(change),
		FieldElement(root),
	}
}

// WithdrawInputs builds (sourceCommitment, nullifier)
func WithdrawInputs(source, nullifier types.Hash) PublicInputs {
	return PublicInputs{FieldElement(source), FieldElement(nullifier)}
}

// RangeInputs builds (commitment, rangeMin, rangeMax)
func RangeInputs(commitment types.Hash, rangeMin, rangeMax uint64) PublicInputs {
	return PublicInputs{FieldElement(commitment), fromUint64(rangeMin), fromUint64(rangeMax)}
}

// OwnershipClaim is the digest an ownership proof must open with
func OwnershipClaim(h Hasher, owner, commitment types.Hash) types.Hash {
	return h.HashPair(owner, commitment)
}

// OwnershipInputs builds (claimDigest)
func OwnershipInputs(h Hasher, owner, commitment types.Hash) PublicInputs {
	return PublicInputs{FieldElement(OwnershipClaim(h, owner, commitment))}
}

// Bytes returns the inputs as concatenated 32-byte big-endian words
func (p PublicInputs) Bytes() []byte {
	out := make([]byte, 0, len(p)*fr.Bytes)
	for i := range p {
		b := p[i].Bytes()
		out = append(out, b[:]...)
	}
	return out
}
