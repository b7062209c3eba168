package ledger

import (
	"context"
	"errors"

	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/pkg/types"
)

// InitializeVault creates an empty vault for owner. viewKeyHash may be
// empty when the owner does not use sealed amounts.
func (l *Ledger) InitializeVault(ctx context.Context, owner, viewKeyHash types.Hash) (*types.Vault, error) {
	if owner.IsEmpty() {
		return nil, ErrInvalidOwner
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	vault := &types.Vault{
		Owner:        owner,
		ViewKeyHash:  viewKeyHash,
		CreatedAt:    now,
		LastActivity: now,
	}

	err := l.store.Update(ctx, func(tx storage.Txn) error {
		err := storage.CreateRecord(ctx, tx, vaultKey(owner), vault)
		if errors.Is(err, storage.ErrDuplicate) {
			return ErrVaultExists
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().
		Str("vault", owner.Short()).
		Msg("Vault initialized")

	l.emit(ctx, &Event{Kind: EventVaultInitialized, Vault: owner, Timestamp: now})
	return vault, nil
}

// touchVault records activity on the vault and writes it back
func touchVault(ctx context.Context, tx storage.Txn, v *types.Vault, now int64) error {
	v.LastActivity = now
	return storage.ReplaceRecord(ctx, tx, vaultKey(v.Owner), v)
}
