package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

// ShieldRequest deposits a fixed denomination into a new note
type ShieldRequest struct {
	Owner      types.Hash
	Amount     uint64
	Commitment types.Hash

	// Proof is a Groth16 proof over (Amount, Commitment)
	Proof []byte

	// Siblings of the next free commitment slot; empty lets the ledger fill them
	Siblings []types.Hash

	// EncryptedAmount is an optional sealed amount for the owner's view key
	EncryptedAmount []byte
}

// ShieldReceipt describes the note created by Shield
type ShieldReceipt struct {
	Note *types.Note
	Root types.Hash
}

// Shield verifies the deposit proof, appends the commitment and creates
// an unspent note that unlocks after the privacy delay
func (l *Ledger) Shield(ctx context.Context, p Params, req *ShieldRequest) (*ShieldReceipt, error) {
	if err := l.begin(p, true); err != nil {
		return nil, err
	}
	if req.Owner.IsEmpty() {
		return nil, ErrInvalidOwner
	}
	if req.Amount == 0 {
		return nil, ErrZeroAmount
	}
	denom, ok := types.DenominationFromAmount(req.Amount)
	if !ok {
		return nil, ErrInvalidDenomination.wrap(fmt.Errorf("amount %d", req.Amount))
	}
	if err := checkField(req.Commitment, ErrInvalidCommitment); err != nil {
		return nil, err
	}
	if err := checkEncryptedAmount(req.EncryptedAmount); err != nil {
		return nil, err
	}

	if err := l.verify(zkp.ProofShield, req.Proof, zkp.ShieldInputs(req.Amount, req.Commitment)); err != nil {
		if errors.Is(err, zkp.ErrProofRejected) {
			return nil, ErrInvalidCommitment.wrap(err)
		}
		return nil, ErrProofVerificationFailed.wrap(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var (
		note *types.Note
		root types.Hash
	)

	err := l.store.Update(ctx, func(tx storage.Txn) error {
		vault, err := loadVault(ctx, tx, req.Owner)
		if err != nil {
			return err
		}

		tree, err := l.loadTree(ctx, tx, TreeCommitments)
		if err != nil {
			return err
		}
		index, err := l.insert(ctx, tx, tree, req.Commitment, req.Siblings)
		if err != nil {
			return err
		}

		vault.NoteCount++
		note = &types.Note{
			Vault:           req.Owner,
			Number:          vault.NoteCount,
			Commitment:      req.Commitment,
			Index:           index,
			Denomination:    denom,
			CreatedAt:       now,
			UnshieldAfter:   now + p.delaySeconds(),
			EncryptedAmount: req.EncryptedAmount,
		}
		if err := storage.CreateRecord(ctx, tx, noteKey(req.Owner, note.Number), note); err != nil {
			return fmt.Errorf("create note: %w", err)
		}
		if err := touchVault(ctx, tx, vault, now); err != nil {
			return err
		}

		if err := l.executor.Deposit(ctx, tx, req.Owner, req.Amount); err != nil {
			return executionError(err)
		}

		if err := l.saveTree(ctx, tx, tree); err != nil {
			return err
		}
		root = tree.acc.Root()

		var overflow error
		err = bumpStats(ctx, tx, func(s *types.ProtocolStats) {
			s.TotalShielded, overflow = addChecked(s.TotalShielded, req.Amount)
		})
		if err != nil {
			return err
		}
		return overflow
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Str("vault", req.Owner.Short()).
		Uint64("note", note.Number).
		Uint64("index", note.Index).
		Str("denomination", denom.String()).
		Msg("Note shielded")

	l.emit(ctx, &Event{
		Kind:            EventShielded,
		Vault:           req.Owner,
		Commitment:      req.Commitment,
		CommitmentIndex: note.Index,
		CommitmentRoot:  root,
		NoteNumber:      note.Number,
		Amount:          req.Amount,
		Timestamp:       now,
	})

	return &ShieldReceipt{Note: note, Root: root}, nil
}

// verify runs the proof verifier; a missing verifier fails closed
func (l *Ledger) verify(kind zkp.ProofKind, proof []byte, inputs zkp.PublicInputs) error {
	if l.verifier == nil {
		return zkp.ErrMissingKey
	}
	return l.verifier.Verify(kind, proof, inputs)
}

func executionError(err error) error {
	if ClassOf(err) != ClassInternal {
		return err
	}
	return ErrTransferFailed.wrap(err)
}

func addChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return a, ErrOverflow
	}
	return sum, nil
}
