package ledger

import (
	"context"
	"fmt"

	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

// TransferRequest spends one note into an output commitment for the
// recipient and a change note kept by the sender
type TransferRequest struct {
	Owner      types.Hash
	SourceNote uint64

	Nullifier        types.Hash
	OutputCommitment types.Hash
	ChangeCommitment types.Hash

	// Proof is a Groth16 proof over (source commitment, Nullifier,
	// OutputCommitment, ChangeCommitment, MerkleRoot)
	Proof []byte

	// MerkleRoot is the commitment root the proof was built against; it may
	// be any of the recent roots
	MerkleRoot types.Hash

	// Siblings of the next free commitment slot (for the change note)
	Siblings []types.Hash

	// NullifierSiblings of the next free nullifier slot
	NullifierSiblings []types.Hash

	// EncryptedAmount is the sealed change amount
	EncryptedAmount []byte
}

// TransferReceipt describes the effects of a transfer
type TransferReceipt struct {
	ChangeNote     *types.Note
	NullifierIndex uint64
	CommitmentRoot types.Hash
	NullifierRoot  types.Hash
}

// Transfer consumes the source note and creates the sender's change note.
// The output commitment is only published in the transfer event; the
// recipient picks it up out of band.
func (l *Ledger) Transfer(ctx context.Context, p Params, req *TransferRequest) (*TransferReceipt, error) {
	if err := l.begin(p, true); err != nil {
		return nil, err
	}
	if req.Owner.IsEmpty() {
		return nil, ErrInvalidOwner
	}
	if err := checkField(req.Nullifier, ErrInvalidNullifier); err != nil {
		return nil, err
	}
	if err := checkField(req.OutputCommitment, ErrInvalidCommitment); err != nil {
		return nil, err
	}
	if err := checkField(req.ChangeCommitment, ErrInvalidCommitment); err != nil {
		return nil, err
	}
	if err := checkEncryptedAmount(req.EncryptedAmount); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	receipt := &TransferReceipt{}

	err := l.store.Update(ctx, func(tx storage.Txn) error {
		vault, err := loadVault(ctx, tx, req.Owner)
		if err != nil {
			return err
		}
		source, err := loadNote(ctx, tx, req.Owner, req.SourceNote)
		if err != nil {
			return err
		}
		if source.Spent {
			return ErrNoteAlreadySpent
		}

		commitments, err := l.loadTree(ctx, tx, TreeCommitments)
		if err != nil {
			return err
		}
		if !commitments.acc.IsValidRoot(req.MerkleRoot) {
			return ErrInvalidMerkleRoot
		}

		used, err := nullifierUsed(ctx, tx, req.Nullifier)
		if err != nil {
			return err
		}
		if used {
			return ErrNullifierAlreadyUsed
		}

		inputs := zkp.TransferInputs(source.Commitment, req.Nullifier, req.OutputCommitment, req.ChangeCommitment, req.MerkleRoot)
		if err := l.verify(zkp.ProofTransfer, req.Proof, inputs); err != nil {
			return ErrProofVerificationFailed.wrap(err)
		}

		// validation done; mutations follow
		nullifiers, err := l.loadTree(ctx, tx, TreeNullifiers)
		if err != nil {
			return err
		}
		nullIndex, err := l.insert(ctx, tx, nullifiers, req.Nullifier, req.NullifierSiblings)
		if err != nil {
			return err
		}
		if err := consumeNullifier(ctx, tx, req.Nullifier, nullIndex, now); err != nil {
			return err
		}

		source.Spent = true
		source.SpentAt = now
		if err := storage.ReplaceRecord(ctx, tx, noteKey(req.Owner, source.Number), source); err != nil {
			return fmt.Errorf("mark source spent: %w", err)
		}

		changeIndex, err := l.insert(ctx, tx, commitments, req.ChangeCommitment, req.Siblings)
		if err != nil {
			return err
		}

		vault.NoteCount++
		change := &types.Note{
			Vault:           req.Owner,
			Number:          vault.NoteCount,
			Commitment:      req.ChangeCommitment,
			Index:           changeIndex,
			Denomination:    types.DenominationNone,
			CreatedAt:       now,
			UnshieldAfter:   now + p.delaySeconds(),
			EncryptedAmount: req.EncryptedAmount,
		}
		if err := storage.CreateRecord(ctx, tx, noteKey(req.Owner, change.Number), change); err != nil {
			return fmt.Errorf("create change note: %w", err)
		}
		if err := touchVault(ctx, tx, vault, now); err != nil {
			return err
		}

		if err := l.saveTree(ctx, tx, nullifiers); err != nil {
			return err
		}
		if err := l.saveTree(ctx, tx, commitments); err != nil {
			return err
		}
		if err := bumpStats(ctx, tx, func(*types.ProtocolStats) {}); err != nil {
			return err
		}

		receipt.ChangeNote = change
		receipt.NullifierIndex = nullIndex
		receipt.CommitmentRoot = commitments.acc.Root()
		receipt.NullifierRoot = nullifiers.acc.Root()
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Str("vault", req.Owner.Short()).
		Uint64("source", req.SourceNote).
		Uint64("change", receipt.ChangeNote.Number).
		Str("nullifier", req.Nullifier.Short()).
		Msg("Shielded transfer")

	l.emit(ctx, &Event{
		Kind:             EventTransferred,
		Vault:            req.Owner,
		Commitment:       req.ChangeCommitment,
		CommitmentIndex:  receipt.ChangeNote.Index,
		CommitmentRoot:   receipt.CommitmentRoot,
		Nullifier:        req.Nullifier,
		NullifierIndex:   receipt.NullifierIndex,
		NullifierRoot:    receipt.NullifierRoot,
		OutputCommitment: req.OutputCommitment,
		NoteNumber:       receipt.ChangeNote.Number,
		Timestamp:        now,
	})

	return receipt, nil
}
