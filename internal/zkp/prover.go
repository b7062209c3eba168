package zkp

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog"
)

// Circuit errors
var (
	ErrCircuitNotCompiled    = errors.New("circuit not compiled")
	ErrProvingKeyMissing     = errors.New("proving key not loaded")
	ErrProofGenerationFailed = errors.New("proof generation failed")
)

// CircuitManager compiles the circuits, runs Groth16 setup and produces
// proofs in the encoding the Verifier consumes. It is developer and
// operator tooling; the ledger itself only verifies.
type CircuitManager struct {
	mu sync.RWMutex

	// Compiled constraint systems
	circuits map[ProofKind]constraint.ConstraintSystem

	// Proving keys
	provingKeys map[ProofKind]groth16.ProvingKey

	// Verifying keys
	verifyingKeys map[ProofKind]groth16.VerifyingKey

	log zerolog.Logger
}

// NewCircuitManager creates a new circuit manager
func NewCircuitManager(log zerolog.Logger) *CircuitManager {
	return &CircuitManager{
		circuits:      make(map[ProofKind]constraint.ConstraintSystem),
		provingKeys:   make(map[ProofKind]groth16.ProvingKey),
		verifyingKeys: make(map[ProofKind]groth16.VerifyingKey),
		log:           log.With().Str("module", "circuits").Logger(),
	}
}

// Compile compiles the circuit of kind into R1CS
func (cm *CircuitManager) Compile(kind ProofKind) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	_, err := cm.compileLocked(kind)
	return err
}

func (cm *CircuitManager) compileLocked(kind ProofKind) (constraint.ConstraintSystem, error) {
	if ccs, ok := cm.circuits[kind]; ok {
		return ccs, nil
	}

	circuit, err := blankCircuit(kind)
	if err != nil {
		return nil, err
	}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("compile %s circuit: %w", kind, err)
	}

	cm.circuits[kind] = ccs
	cm.log.Info().
		Stringer("kind", kind).
		Int("constraints", ccs.GetNbConstraints()).
		Msg("circuit compiled")
	return ccs, nil
}

// Setup compiles the circuit if needed and generates fresh keys.
// The keys come from a local trusted setup and are only suitable for
// development and tests.
func (cm *CircuitManager) Setup(kind ProofKind) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ccs, err := cm.compileLocked(kind)
	if err != nil {
		return err
	}

	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return fmt.Errorf("setup %s: %w", kind, err)
	}
	cm.provingKeys[kind] = pk
	cm.verifyingKeys[kind] = vk
	return nil
}

// Prove generates a proof for a fully assigned circuit of kind and returns
// it encoded as A | B | C
func (cm *CircuitManager) Prove(kind ProofKind, assignment frontend.Circuit) ([]byte, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ccs, ok := cm.circuits[kind]
	if !ok {
		return nil, ErrCircuitNotCompiled
	}
	pk, ok := cm.provingKeys[kind]
	if !ok {
		return nil, ErrProvingKeyMissing
	}

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("build %s witness: %w", kind, err)
	}

	proof, err := groth16.Prove(ccs, pk, w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProofGenerationFailed, err)
	}
	return ProofFromGnark(proof)
}

// VerifyingKey returns the verifying key of kind in Verifier form
func (cm *CircuitManager) VerifyingKey(kind ProofKind) (*VerifyingKey, error) {
	cm.mu.RLock()
	vk, ok := cm.verifyingKeys[kind]
	cm.mu.RUnlock()

	if !ok {
		return nil, ErrCircuitNotCompiled
	}
	return VerifyingKeyFromGnark(vk)
}

// InstallKeys copies every available verifying key into v
func (cm *CircuitManager) InstallKeys(v *Verifier) error {
	for _, kind := range PairingKinds {
		vk, err := cm.VerifyingKey(kind)
		if errors.Is(err, ErrCircuitNotCompiled) {
			continue
		}
		if err != nil {
			return err
		}
		if err := v.SetKey(kind, vk); err != nil {
			return err
		}
	}
	return nil
}

// ExportKeys writes <kind>.vk (Verifier encoding) and <kind>.pk (gnark
// encoding) for every kind that has been set up
func (cm *CircuitManager) ExportKeys(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, kind := range PairingKinds {
		cm.mu.RLock()
		pk, ok := cm.provingKeys[kind]
		cm.mu.RUnlock()
		if !ok {
			continue
		}

		vk, err := cm.VerifyingKey(kind)
		if err != nil {
			return err
		}
		if err := vk.WriteFile(filepath.Join(dir, KeyFileName(kind))); err != nil {
			return fmt.Errorf("write %s verifying key: %w", kind, err)
		}
		if err := writeProvingKey(filepath.Join(dir, kind.String()+".pk"), pk); err != nil {
			return fmt.Errorf("write %s proving key: %w", kind, err)
		}
		cm.log.Info().Stringer("kind", kind).Str("dir", dir).Msg("keys exported")
	}
	return nil
}

// LoadProvingKey compiles the circuit of kind and reads its proving key from dir
func (cm *CircuitManager) LoadProvingKey(dir string, kind ProofKind) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, err := cm.compileLocked(kind); err != nil {
		return err
	}

	f, err := os.Open(filepath.Join(dir, kind.String()+".pk"))
	if err != nil {
		return err
	}
	defer f.Close()

	pk := groth16.NewProvingKey(ecc.BN254)
	if _, err := pk.ReadFrom(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("read %s proving key: %w", kind, err)
	}
	cm.provingKeys[kind] = pk
	return nil
}

func writeProvingKey(path string, pk groth16.ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := pk.WriteTo(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
