package zkp

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"github.com/shadowvault/core/pkg/types"
)

// AmountBits bounds every committed amount to an unsigned 64-bit value
const AmountBits = 64

// ShieldCircuit proves Commitment = H(Amount, Blinding)
type ShieldCircuit struct {
	// Public inputs
	Amount     frontend.Variable `gnark:",public"`
	Commitment frontend.Variable `gnark:",public"`

	// Private inputs (witness)
	Blinding frontend.Variable
}

// Define implements the circuit constraints
func (c *ShieldCircuit) Define(api frontend.API) error {
	api.ToBinary(c.Amount, AmountBits)
	return assertCommitment(api, c.Commitment, c.Amount, c.Blinding)
}

// TransferCircuit spends a committed note into an output and a change note.
// It proves the source opens to (SourceAmount, SourceBlinding), sits at
// LeafIndex under MerkleRoot, that Nullifier = H(Secret, LeafIndex), and
// that value is conserved across the two new commitments.
type TransferCircuit struct {
	// Public inputs
	SourceCommitment frontend.Variable `gnark:",public"`
	Nullifier        frontend.Variable `gnark:",public"`
	OutputCommitment frontend.Variable `gnark:",public"`
	ChangeCommitment frontend.Variable `gnark:",public"`
	MerkleRoot       frontend.Variable `gnark:",public"`

	// Private inputs (witness)
	SourceAmount   frontend.Variable
	SourceBlinding frontend.Variable
	Secret         frontend.Variable
	LeafIndex      frontend.Variable
	Path           [TreeDepth]frontend.Variable
	OutputAmount   frontend.Variable
	OutputBlinding frontend.Variable
	ChangeAmount   frontend.Variable
	ChangeBlinding frontend.Variable
}

// Define implements the circuit constraints
func (c *TransferCircuit) Define(api frontend.API) error {
	api.ToBinary(c.OutputAmount, AmountBits)
	api.ToBinary(c.ChangeAmount, AmountBits)
	api.AssertIsEqual(c.SourceAmount, api.Add(c.OutputAmount, c.ChangeAmount))

	if err := assertCommitment(api, c.SourceCommitment, c.SourceAmount, c.SourceBlinding); err != nil {
		return err
	}
	if err := assertCommitment(api, c.OutputCommitment, c.OutputAmount, c.OutputBlinding); err != nil {
		return err
	}
	if err := assertCommitment(api, c.ChangeCommitment, c.ChangeAmount, c.ChangeBlinding); err != nil {
		return err
	}
	if err := assertNullifier(api, c.Nullifier, c.Secret, c.LeafIndex); err != nil {
		return err
	}

	bits := api.ToBinary(c.LeafIndex, TreeDepth)
	current := c.SourceCommitment
	for i := 0; i < TreeDepth; i++ {
		left := api.Select(bits[i], c.Path[i], current)
		right := api.Select(bits[i], current, c.Path[i])

		h, err := mimc.NewMiMC(api)
		if err != nil {
			return err
		}
		h.Write(left, right)
		current = h.Sum()
	}
	api.AssertIsEqual(current, c.MerkleRoot)
	return nil
}

// WithdrawCircuit proves knowledge of the opening of SourceCommitment and
// of the secret behind Nullifier
type WithdrawCircuit struct {
	// Public inputs
	SourceCommitment frontend.Variable `gnark:",public"`
	Nullifier        frontend.Variable `gnark:",public"`

	// Private inputs (witness)
	Amount    frontend.Variable
	Blinding  frontend.Variable
	Secret    frontend.Variable
	LeafIndex frontend.Variable
}

// Define implements the circuit constraints
func (c *WithdrawCircuit) Define(api frontend.API) error {
	api.ToBinary(c.Amount, AmountBits)
	if err := assertCommitment(api, c.SourceCommitment, c.Amount, c.Blinding); err != nil {
		return err
	}
	return assertNullifier(api, c.Nullifier, c.Secret, c.LeafIndex)
}

// RangeCircuit proves a committed amount lies in [MinValue, MaxValue]
type RangeCircuit struct {
	// Public inputs
	Commitment frontend.Variable `gnark:",public"`
	MinValue   frontend.Variable `gnark:",public"`
	MaxValue   frontend.Variable `gnark:",public"`

	// Private inputs (witness)
	Amount   frontend.Variable
	Blinding frontend.Variable
}

// Define implements the range proof circuit
func (c *RangeCircuit) Define(api frontend.API) error {
	api.ToBinary(c.Amount, AmountBits)
	api.AssertIsLessOrEqual(c.MinValue, c.Amount)
	api.AssertIsLessOrEqual(c.Amount, c.MaxValue)
	return assertCommitment(api, c.Commitment, c.Amount, c.Blinding)
}

func assertCommitment(api frontend.API, commitment, amount, blinding frontend.Variable) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(amount, blinding)
	api.AssertIsEqual(h.Sum(), commitment)
	return nil
}

func assertNullifier(api frontend.API, nullifier, secret, index frontend.Variable) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(secret, index)
	api.AssertIsEqual(h.Sum(), nullifier)
	return nil
}

// blankCircuit returns an unassigned circuit of kind, for compilation
func blankCircuit(kind ProofKind) (frontend.Circuit, error) {
	switch kind {
	case ProofShield:
		return &ShieldCircuit{}, nil
	case ProofTransfer:
		return &TransferCircuit{}, nil
	case ProofWithdraw:
		return &WithdrawCircuit{}, nil
	case ProofRange:
		return &RangeCircuit{}, nil
	default:
		return nil, ErrUnknownProofKind
	}
}

// ShieldAssignment builds a full witness for ShieldCircuit
func ShieldAssignment(amount uint64, blinding, commitment types.Hash) *ShieldCircuit {
	return &ShieldCircuit{
		Amount:     amount,
		Commitment: FieldBig(commitment),
		Blinding:   FieldBig(blinding),
	}
}

// TransferWitness is the private and public data of a transfer proof
type TransferWitness struct {
	SourceAmount   uint64
	SourceBlinding types.Hash
	Secret         types.Hash
	LeafIndex      uint64
	Path           []types.Hash
	OutputAmount   uint64
	OutputBlinding types.Hash
	ChangeAmount   uint64
	ChangeBlinding types.Hash

	SourceCommitment types.Hash
	Nullifier        types.Hash
	OutputCommitment types.Hash
	ChangeCommitment types.Hash
	MerkleRoot       types.Hash
}

// Assignment converts the witness into a TransferCircuit assignment
func (w *TransferWitness) Assignment() (*TransferCircuit, error) {
	if len(w.Path) != TreeDepth {
		return nil, ErrInvalidPath
	}
	c := &TransferCircuit{
		SourceCommitment: FieldBig(w.SourceCommitment),
		Nullifier:        FieldBig(w.Nullifier),
		OutputCommitment: FieldBig(w.OutputCommitment),
		ChangeCommitment: FieldBig(w.ChangeCommitment),
		MerkleRoot:       FieldBig(w.MerkleRoot),
		SourceAmount:     w.SourceAmount,
		SourceBlinding:   FieldBig(w.SourceBlinding),
		Secret:           FieldBig(w.Secret),
		LeafIndex:        w.LeafIndex,
		OutputAmount:     w.OutputAmount,
		OutputBlinding:   FieldBig(w.OutputBlinding),
		ChangeAmount:     w.ChangeAmount,
		ChangeBlinding:   FieldBig(w.ChangeBlinding),
	}
	for i := range w.Path {
		c.Path[i] = FieldBig(w.Path[i])
	}
	return c, nil
}

// WithdrawAssignment builds a full witness for WithdrawCircuit
func WithdrawAssignment(amount uint64, blinding, secret types.Hash, leafIndex uint64, commitment, nullifier types.Hash) *WithdrawCircuit {
	return &WithdrawCircuit{
		SourceCommitment: FieldBig(commitment),
		Nullifier:        FieldBig(nullifier),
		Amount:           amount,
		Blinding:         FieldBig(blinding),
		Secret:           FieldBig(secret),
		LeafIndex:        leafIndex,
	}
}

// RangeAssignment builds a full witness for RangeCircuit
func RangeAssignment(amount uint64, blinding, commitment types.Hash, minValue, maxValue uint64) *RangeCircuit {
	return &RangeCircuit{
		Commitment: FieldBig(commitment),
		MinValue:   minValue,
		MaxValue:   maxValue,
		Amount:     amount,
		Blinding:   FieldBig(blinding),
	}
}
