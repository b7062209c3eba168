package zkp

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/sha3"

	"github.com/shadowvault/core/pkg/common"
	"github.com/shadowvault/core/pkg/types"
)

// Verification errors
var (
	ErrUnknownProofKind = errors.New("unknown proof kind")
	ErrPublicInputCount = errors.New("wrong number of public inputs")
	ErrProofTooShort    = errors.New("proof shorter than minimum length")
	ErrMalformedProof   = errors.New("malformed proof")
	ErrProofRejected    = errors.New("proof rejected")
	ErrMissingKey       = errors.New("no verifying key for proof kind")
)

// MinClaimSize is the shortest accepted custom claim
const MinClaimSize = 32

// MinOwnershipSize is the shortest accepted ownership proof: claim digest plus signature blob
const MinOwnershipSize = 64

type verifyFunc func(v *Verifier, kind ProofKind, proof []byte, inputs PublicInputs) error

// kindEntry is a registry entry: how many inputs the kind takes, the length
// floor applied before parsing, and the verification branch.
type kindEntry struct {
	inputs int
	minLen int
	verify verifyFunc
}

var registry = map[ProofKind]kindEntry{
	ProofShield:    {inputs: 2, minLen: ProofSize, verify: (*Verifier).verifyPairing},
	ProofTransfer:  {inputs: 5, minLen: ProofSize, verify: (*Verifier).verifyPairing},
	ProofWithdraw:  {inputs: 2, minLen: ProofSize, verify: (*Verifier).verifyPairing},
	ProofRange:     {inputs: 3, minLen: ProofSize, verify: (*Verifier).verifyPairing},
	ProofOwnership: {inputs: 1, minLen: MinOwnershipSize, verify: (*Verifier).verifyOwnership},
	ProofCustom:    {inputs: 0, minLen: MinClaimSize, verify: (*Verifier).verifyCustom},
}

// InputCount returns the number of public inputs of kind
func InputCount(kind ProofKind) (int, error) {
	entry, ok := registry[kind]
	if !ok {
		return 0, ErrUnknownProofKind
	}
	return entry.inputs, nil
}

// VerifierConfig holds verifier configuration
type VerifierConfig struct {
	// CacheSize bounds the number of remembered successful verifications; 0 disables the cache
	CacheSize int
}

// DefaultVerifierConfig returns default configuration
func DefaultVerifierConfig() *VerifierConfig {
	return &VerifierConfig{
		CacheSize: 4096,
	}
}

// Verifier checks proofs against a registry of verifying keys
type Verifier struct {
	mu   sync.RWMutex
	keys map[ProofKind]*VerifyingKey

	// successful (kind, proof, inputs) digests
	cache *lru.Cache

	log zerolog.Logger
}

// NewVerifier creates a verifier with no keys loaded
func NewVerifier(cfg *VerifierConfig, log zerolog.Logger) (*Verifier, error) {
	if cfg == nil {
		cfg = DefaultVerifierConfig()
	}

	v := &Verifier{
		keys: make(map[ProofKind]*VerifyingKey),
		log:  log.With().Str("module", "verifier").Logger(),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New(cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create verification cache: %w", err)
		}
		v.cache = cache
	}
	return v, nil
}

// SetKey installs the verifying key of a pairing-checked kind
func (v *Verifier) SetKey(kind ProofKind, vk *VerifyingKey) error {
	entry, ok := registry[kind]
	if !ok {
		return ErrUnknownProofKind
	}
	if vk == nil || vk.NumInputs() != entry.inputs {
		return fmt.Errorf("%w: %s key must take %d inputs", ErrInvalidKey, kind, entry.inputs)
	}

	v.mu.Lock()
	v.keys[kind] = vk
	v.mu.Unlock()

	if v.cache != nil {
		v.cache.Purge()
	}
	v.log.Info().Stringer("kind", kind).Int("inputs", vk.NumInputs()).Msg("verifying key installed")
	return nil
}

// HasKey reports whether kind has a verifying key
func (v *Verifier) HasKey(kind ProofKind) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.keys[kind]
	return ok
}

// KeyFileName is the file name used for the verifying key of kind
func KeyFileName(kind ProofKind) string {
	return kind.String() + ".vk"
}

// LoadKeys reads every pairing kind's key from dir. Missing files are
// skipped; operations needing them fail closed with ErrMissingKey.
func (v *Verifier) LoadKeys(dir string) (int, error) {
	loaded := 0
	for _, kind := range PairingKinds {
		path := filepath.Join(dir, KeyFileName(kind))
		vk, err := ReadVerifyingKey(path)
		if errors.Is(err, os.ErrNotExist) {
			v.log.Warn().Stringer("kind", kind).Str("path", path).Msg("verifying key missing")
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("load %s key: %w", kind, err)
		}
		if err := v.SetKey(kind, vk); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}

// Verify checks proof against inputs for kind. It returns nil for a valid
// proof, ErrProofRejected for a well-formed invalid one, and another error
// for malformed input. It never panics on attacker-controlled bytes.
func (v *Verifier) Verify(kind ProofKind, proof []byte, inputs PublicInputs) error {
	entry, ok := registry[kind]
	if !ok {
		return ErrUnknownProofKind
	}
	if len(inputs) != entry.inputs {
		return fmt.Errorf("%w: %s takes %d, got %d", ErrPublicInputCount, kind, entry.inputs, len(inputs))
	}
	if len(proof) < entry.minLen {
		return fmt.Errorf("%w: %d < %d bytes", ErrProofTooShort, len(proof), entry.minLen)
	}

	key := cacheKey(kind, proof, inputs)
	if v.cache != nil {
		if _, hit := v.cache.Get(key); hit {
			return nil
		}
	}

	if err := entry.verify(v, kind, proof, inputs); err != nil {
		v.log.Debug().Stringer("kind", kind).Err(err).Msg("proof did not verify")
		return err
	}

	if v.cache != nil {
		v.cache.Add(key, struct{}{})
	}
	return nil
}

// verifyPairing accepts iff e(-A,B)·e(α,β)·e(L,γ)·e(C,δ) = 1
// with L = IC[0] + Σ inputs[i]·IC[i+1].
func (v *Verifier) verifyPairing(kind ProofKind, proof []byte, inputs PublicInputs) error {
	v.mu.RLock()
	vk, ok := v.keys[kind]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingKey, kind)
	}
	if len(vk.IC) != len(inputs)+1 {
		return ErrPublicInputCount
	}

	p, err := ParseProof(proof)
	if err != nil {
		return err
	}

	l := vk.IC[0]
	var scalar big.Int
	for i := range inputs {
		var term bn254.G1Affine
		term.ScalarMultiplication(&vk.IC[i+1], inputs[i].BigInt(&scalar))
		l.Add(&l, &term)
	}

	var negA bn254.G1Affine
	negA.Neg(&p.A)

	ok, err = bn254.PairingCheck(
		[]bn254.G1Affine{negA, vk.Alpha, l, p.C},
		[]bn254.G2Affine{p.B, vk.Beta, vk.Gamma, vk.Delta},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}
	if !ok {
		return ErrProofRejected
	}
	return nil
}

// verifyOwnership requires the proof to open with the claim digest
// H(owner, commitment) followed by a non-empty signature blob.
func (v *Verifier) verifyOwnership(_ ProofKind, proof []byte, inputs PublicInputs) error {
	claim := FieldElement(types.HashFromBytes(proof[:32]))
	if !claim.Equal(&inputs[0]) {
		return fmt.Errorf("%w: ownership claim does not match", ErrProofRejected)
	}
	if common.IsZeroBytes(proof[32:]) {
		return fmt.Errorf("%w: empty ownership signature", ErrProofRejected)
	}
	return nil
}

// verifyCustom requires a non-zero 32-byte claim
func (v *Verifier) verifyCustom(_ ProofKind, proof []byte, _ PublicInputs) error {
	if common.IsZeroBytes(proof[:MinClaimSize]) {
		return fmt.Errorf("%w: empty custom claim", ErrProofRejected)
	}
	return nil
}

func cacheKey(kind ProofKind, proof []byte, inputs PublicInputs) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte{byte(kind)})
	h.Write(proof)
	h.Write(inputs.Bytes())

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
