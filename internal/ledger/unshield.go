package ledger

import (
	"context"
	"fmt"

	"github.com/shadowvault/core/internal/economics"
	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

// UnshieldRequest withdraws a note back to a public destination
type UnshieldRequest struct {
	Owner      types.Hash
	Amount     uint64
	SourceNote uint64
	Nullifier  types.Hash

	// Proof is a Groth16 withdraw proof over (source commitment, Nullifier)
	Proof []byte

	// NullifierSiblings of the next free nullifier slot
	NullifierSiblings []types.Hash

	// Destination receives the net amount
	Destination types.Hash
}

// UnshieldReceipt describes the payout of an unshield
type UnshieldReceipt struct {
	Fee            uint64
	Net            uint64
	NullifierIndex uint64
	NullifierRoot  types.Hash
}

// Unshield spends an unlocked note, charges the protocol fee and pays
// the remainder through the value transfer executor.
//
// A denominated note must be withdrawn for exactly its tier amount. The
// withdraw proof does not bind an amount, so a change note from Transfer
// (DenominationNone) may be withdrawn for any Amount: the executor's pool
// balance is the only bound.
func (l *Ledger) Unshield(ctx context.Context, p Params, req *UnshieldRequest) (*UnshieldReceipt, error) {
	if err := l.begin(p, true); err != nil {
		return nil, err
	}
	if req.Owner.IsEmpty() {
		return nil, ErrInvalidOwner
	}
	if req.Destination.IsEmpty() {
		return nil, ErrInvalidOwner.wrap(fmt.Errorf("empty destination"))
	}
	if req.Amount == 0 {
		return nil, ErrZeroAmount
	}
	if err := checkField(req.Nullifier, ErrInvalidNullifier); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	receipt := &UnshieldReceipt{}

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
		if !source.Unlocked(now) {
			return ErrTooSoonToUnshield.wrap(fmt.Errorf("unlocks in %ds", source.UnshieldAfter-now))
		}
		if source.Denomination.Valid() && req.Amount != source.Denomination.Amount() {
			return ErrInvalidAmount.wrap(fmt.Errorf("got %d, note holds %d", req.Amount, source.Denomination.Amount()))
		}

		used, err := nullifierUsed(ctx, tx, req.Nullifier)
		if err != nil {
			return err
		}
		if used {
			return ErrNullifierAlreadyUsed
		}

		if err := l.verify(zkp.ProofWithdraw, req.Proof, zkp.WithdrawInputs(source.Commitment, req.Nullifier)); err != nil {
			return ErrInvalidWithdrawProof.wrap(err)
		}

		fee, net, err := economics.ComputeFee(req.Amount, p.FeeBps)
		if err != nil {
			return ErrOverflow.wrap(err)
		}

		// validation done; mutations follow
		nullifiers, err := l.loadTree(ctx, tx, TreeNullifiers)
		if err != nil {
			return err
		}
		index, err := l.insert(ctx, tx, nullifiers, req.Nullifier, req.NullifierSiblings)
		if err != nil {
			return err
		}
		if err := consumeNullifier(ctx, tx, req.Nullifier, index, now); err != nil {
			return err
		}

		source.Spent = true
		source.SpentAt = now
		if err := storage.ReplaceRecord(ctx, tx, noteKey(req.Owner, source.Number), source); err != nil {
			return fmt.Errorf("mark note spent: %w", err)
		}
		if err := touchVault(ctx, tx, vault, now); err != nil {
			return err
		}

		if err := l.executor.Withdraw(ctx, tx, req.Destination, net, fee); err != nil {
			return executionError(err)
		}

		if err := l.saveTree(ctx, tx, nullifiers); err != nil {
			return err
		}

		var overflow error
		err = bumpStats(ctx, tx, func(s *types.ProtocolStats) {
			if s.TotalUnshielded, overflow = addChecked(s.TotalUnshielded, req.Amount); overflow != nil {
				return
			}
			s.FeesCollected, overflow = addChecked(s.FeesCollected, fee)
		})
		if err != nil {
			return err
		}
		if overflow != nil {
			return overflow
		}

		receipt.Fee = fee
		receipt.Net = net
		receipt.NullifierIndex = index
		receipt.NullifierRoot = nullifiers.acc.Root()
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Str("vault", req.Owner.Short()).
		Uint64("note", req.SourceNote).
		Uint64("amount", req.Amount).
		Uint64("fee", receipt.Fee).
		Uint64("net", receipt.Net).
		Msg("Note unshielded")

	l.emit(ctx, &Event{
		Kind:           EventUnshielded,
		Vault:          req.Owner,
		Nullifier:      req.Nullifier,
		NullifierIndex: receipt.NullifierIndex,
		NullifierRoot:  receipt.NullifierRoot,
		NoteNumber:     req.SourceNote,
		Amount:         req.Amount,
		Fee:            receipt.Fee,
		Timestamp:      now,
	})

	return receipt, nil
}
