package zkp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
)

// Encoding sizes of uncompressed BN254 points
const (
	G1Size    = bn254.SizeOfG1AffineUncompressed
	G2Size    = bn254.SizeOfG2AffineUncompressed
	ProofSize = 2*G1Size + G2Size
)

// Key and proof encoding errors
var (
	ErrInvalidKey       = errors.New("invalid verifying key")
	ErrUnsupportedProof = errors.New("unsupported proof encoding")
)

var vkMagic = [4]byte{'S', 'V', 'K', '1'}

// VerifyingKey is a Groth16 verifying key over BN254
type VerifyingKey struct {
	Alpha bn254.G1Affine
	Beta  bn254.G2Affine
	Gamma bn254.G2Affine
	Delta bn254.G2Affine

	// IC has one entry per public input plus the constant term IC[0]
	IC []bn254.G1Affine
}

// NumInputs returns the number of public inputs the key expects
func (vk *VerifyingKey) NumInputs() int {
	return len(vk.IC) - 1
}

// MarshalBinary encodes the key as magic | alpha | beta | gamma | delta | n | IC[n]
func (vk *VerifyingKey) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 4+G1Size+3*G2Size+4+len(vk.IC)*G1Size)
	buf = append(buf, vkMagic[:]...)

	alpha := vk.Alpha.RawBytes()
	buf = append(buf, alpha[:]...)
	for _, p := range []*bn254.G2Affine{&vk.Beta, &vk.Gamma, &vk.Delta} {
		raw := p.RawBytes()
		buf = append(buf, raw[:]...)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(vk.IC)))
	for i := range vk.IC {
		raw := vk.IC[i].RawBytes()
		buf = append(buf, raw[:]...)
	}
	return buf, nil
}

// UnmarshalBinary decodes a key written by MarshalBinary
func (vk *VerifyingKey) UnmarshalBinary(data []byte) error {
	header := 4 + G1Size + 3*G2Size + 4
	if len(data) < header || [4]byte(data[:4]) != vkMagic {
		return ErrInvalidKey
	}
	off := 4

	if _, err := vk.Alpha.SetBytes(data[off : off+G1Size]); err != nil {
		return fmt.Errorf("%w: alpha: %v", ErrInvalidKey, err)
	}
	off += G1Size

	for _, p := range []*bn254.G2Affine{&vk.Beta, &vk.Gamma, &vk.Delta} {
		if _, err := p.SetBytes(data[off : off+G2Size]); err != nil {
			return fmt.Errorf("%w: g2 point: %v", ErrInvalidKey, err)
		}
		off += G2Size
	}

	n := int(binary.BigEndian.Uint32(data[off:]))
	off += 4
	if n < 1 || len(data) != off+n*G1Size {
		return fmt.Errorf("%w: bad IC length", ErrInvalidKey)
	}

	vk.IC = make([]bn254.G1Affine, n)
	for i := 0; i < n; i++ {
		if _, err := vk.IC[i].SetBytes(data[off : off+G1Size]); err != nil {
			return fmt.Errorf("%w: IC[%d]: %v", ErrInvalidKey, i, err)
		}
		off += G1Size
	}
	return nil
}

// WriteFile stores the key at path
func (vk *VerifyingKey) WriteFile(path string) error {
	data, err := vk.MarshalBinary()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadVerifyingKey loads a key stored with WriteFile
func ReadVerifyingKey(path string) (*VerifyingKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vk := new(VerifyingKey)
	if err := vk.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return vk, nil
}

// VerifyingKeyFromGnark converts a gnark BN254 Groth16 key
func VerifyingKeyFromGnark(vk groth16.VerifyingKey) (*VerifyingKey, error) {
	key, ok := vk.(*groth16_bn254.VerifyingKey)
	if !ok {
		return nil, fmt.Errorf("%w: not a bn254 key", ErrInvalidKey)
	}
	if len(key.PublicAndCommitmentCommitted) > 0 {
		return nil, fmt.Errorf("%w: keys with commitments are not supported", ErrInvalidKey)
	}

	out := &VerifyingKey{
		Alpha: key.G1.Alpha,
		Beta:  key.G2.Beta,
		Gamma: key.G2.Gamma,
		Delta: key.G2.Delta,
		IC:    make([]bn254.G1Affine, len(key.G1.K)),
	}
	copy(out.IC, key.G1.K)
	return out, nil
}

// Proof is a parsed Groth16 proof
type Proof struct {
	A bn254.G1Affine
	B bn254.G2Affine
	C bn254.G1Affine
}

// ParseProof decodes A | B | C in uncompressed form with subgroup checks.
// Inputs shorter than ProofSize are rejected before any point is parsed.
func ParseProof(data []byte) (*Proof, error) {
	if len(data) < ProofSize {
		return nil, ErrProofTooShort
	}
	if len(data) > ProofSize {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedProof, len(data)-ProofSize)
	}

	p := new(Proof)
	if _, err := p.A.SetBytes(data[:G1Size]); err != nil {
		return nil, fmt.Errorf("%w: A: %v", ErrMalformedProof, err)
	}
	if _, err := p.B.SetBytes(data[G1Size : G1Size+G2Size]); err != nil {
		return nil, fmt.Errorf("%w: B: %v", ErrMalformedProof, err)
	}
	if _, err := p.C.SetBytes(data[G1Size+G2Size:]); err != nil {
		return nil, fmt.Errorf("%w: C: %v", ErrMalformedProof, err)
	}
	if p.A.IsInfinity() || p.B.IsInfinity() || p.C.IsInfinity() {
		return nil, fmt.Errorf("%w: point at infinity", ErrMalformedProof)
	}
	return p, nil
}

// Bytes encodes the proof as A | B | C
func (p *Proof) Bytes() []byte {
	a, b, c := p.A.RawBytes(), p.B.RawBytes(), p.C.RawBytes()
	out := make([]byte, 0, ProofSize)
	out = append(out, a[:]...)
	out = append(out, b[:]...)
	return append(out, c[:]...)
}

// ProofFromGnark re-encodes a gnark BN254 Groth16 proof as A | B | C
func ProofFromGnark(proof groth16.Proof) ([]byte, error) {
	p, ok := proof.(*groth16_bn254.Proof)
	if !ok {
		return nil, fmt.Errorf("%w: not a bn254 proof", ErrUnsupportedProof)
	}
	if len(p.Commitments) > 0 {
		return nil, fmt.Errorf("%w: proof carries commitments", ErrUnsupportedProof)
	}
	out := &Proof{A: p.Ar, B: p.Bs, C: p.Krs}
	return out.Bytes(), nil
}
