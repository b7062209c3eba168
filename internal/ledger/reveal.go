package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

// RevealRequest stores a verified selective disclosure
type RevealRequest struct {
	Owner types.Hash
	Kind  types.DisclosureKind

	// Nonce addresses the record; 0 takes the next free number
	Nonce uint64

	RangeMin uint64
	RangeMax uint64

	Proof      []byte
	Commitment types.Hash
}

// Reveal verifies a disclosure proof and stores an immutable record of it.
// Disclosures do not touch the accumulators and are allowed while paused.
func (l *Ledger) Reveal(ctx context.Context, p Params, req *RevealRequest) (*types.DisclosureRecord, error) {
	if err := l.begin(p, false); err != nil {
		return nil, err
	}
	if req.Owner.IsEmpty() {
		return nil, ErrInvalidOwner
	}
	if !req.Kind.Valid() {
		return nil, ErrUnsupportedProofType.wrap(fmt.Errorf("kind %d", req.Kind))
	}
	if req.RangeMin > req.RangeMax {
		return nil, ErrInvalidRange
	}
	if !req.Commitment.IsEmpty() && !zkp.IsCanonical(req.Commitment) {
		return nil, ErrInvalidCommitment.wrap(fmt.Errorf("%s is not below the field modulus", req.Commitment.Short()))
	}
	if err := l.verifyDisclosure(req); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var record *types.DisclosureRecord

	err := l.store.Update(ctx, func(tx storage.Txn) error {
		vault, err := loadVault(ctx, tx, req.Owner)
		if err != nil {
			return err
		}

		nonce := req.Nonce
		if nonce == 0 {
			nonce = vault.DisclosureCount + 1
		}

		record = &types.DisclosureRecord{
			Vault:      req.Owner,
			Nonce:      nonce,
			Kind:       req.Kind,
			Proof:      req.Proof,
			Commitment: req.Commitment,
			RangeMin:   req.RangeMin,
			RangeMax:   req.RangeMax,
			Verified:   true,
			CreatedAt:  now,
			ExpiresAt:  now + p.ttlSeconds(),
		}
		err = storage.CreateRecord(ctx, tx, disclosureKey(req.Owner, nonce), record)
		if errors.Is(err, storage.ErrDuplicate) {
			return ErrProofAlreadyExists
		}
		if err != nil {
			return err
		}

		if nonce > vault.DisclosureCount {
			vault.DisclosureCount = nonce
		}
		return touchVault(ctx, tx, vault, now)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Str("vault", req.Owner.Short()).
		Str("kind", req.Kind.String()).
		Uint64("nonce", record.Nonce).
		Msg("Disclosure recorded")

	l.emit(ctx, &Event{
		Kind:       EventRevealed,
		Vault:      req.Owner,
		Commitment: req.Commitment,
		NoteNumber: record.Nonce,
		Timestamp:  now,
	})

	return record, nil
}

func (l *Ledger) verifyDisclosure(req *RevealRequest) error {
	switch req.Kind {
	case types.DisclosureRange, types.DisclosureCompliance:
		inputs := zkp.RangeInputs(req.Commitment, req.RangeMin, req.RangeMax)
		if err := l.verify(zkp.ProofRange, req.Proof, inputs); err != nil {
			return ErrInvalidRangeProof.wrap(err)
		}
	case types.DisclosureOwnership:
		inputs := zkp.OwnershipInputs(l.hasher, req.Owner, req.Commitment)
		if err := l.verify(zkp.ProofOwnership, req.Proof, inputs); err != nil {
			return ErrInvalidOwnershipProof.wrap(err)
		}
	case types.DisclosureCustom:
		if err := l.verify(zkp.ProofCustom, req.Proof, nil); err != nil {
			return ErrCustomProofFailed.wrap(err)
		}
	default:
		return ErrUnsupportedProofType
	}
	return nil
}
