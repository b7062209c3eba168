package custody

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/pkg/types"
)

func hashOf(b byte) types.Hash {
	var h types.Hash
	h[0], h[31] = b, b
	return h
}

var (
	depositor   = hashOf(1)
	destination = hashOf(2)
	treasury    = hashOf(3)
)

func update(t *testing.T, s storage.Store, fn func(tx storage.Txn) error) error {
	t.Helper()
	return s.Update(context.Background(), fn)
}

func TestDepositAndWithdraw(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	p := NewPool(&Config{FeeRecipient: treasury}, zerolog.Nop())

	require.NoError(t, update(t, s, func(tx storage.Txn) error {
		return p.Deposit(ctx, tx, depositor, 1_000_000)
	}))
	require.NoError(t, update(t, s, func(tx storage.Txn) error {
		return p.Withdraw(ctx, tx, destination, 995_000, 5_000)
	}))

	state, err := p.State(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, &PoolState{
		Balance:   0,
		Deposited: 1_000_000,
		PaidOut:   995_000,
		Fees:      5_000,
		Entries:   3,
	}, state)

	bal, err := p.Balance(ctx, s, destination)
	require.NoError(t, err)
	assert.Equal(t, uint64(995_000), bal)

	bal, err = p.Balance(ctx, s, treasury)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), bal)

	bal, err = p.Balance(ctx, s, depositor)
	require.NoError(t, err)
	assert.Zero(t, bal)

	e, err := p.Entry(ctx, s, 3)
	require.NoError(t, err)
	assert.Equal(t, EntryFee, e.Type)
	assert.Equal(t, treasury, e.Account)
	assert.Equal(t, "fee", e.Type.String())
}

func TestWithdrawInsufficientPool(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	p := NewPool(nil, zerolog.Nop())

	require.NoError(t, update(t, s, func(tx storage.Txn) error {
		return p.Deposit(ctx, tx, depositor, 100)
	}))

	err := update(t, s, func(tx storage.Txn) error {
		return p.Withdraw(ctx, tx, destination, 100, 1)
	})
	assert.ErrorIs(t, err, ErrInsufficientPool)

	state, err := p.State(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), state.Balance)
	assert.Equal(t, uint64(1), state.Entries)
}

func TestWithdrawWithoutFeeRecipient(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	p := NewPool(nil, zerolog.Nop())

	require.NoError(t, update(t, s, func(tx storage.Txn) error {
		if err := p.Deposit(ctx, tx, depositor, 200); err != nil {
			return err
		}
		return p.Withdraw(ctx, tx, destination, 150, 50)
	}))

	state, err := p.State(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), state.Balance)
	assert.Equal(t, uint64(50), state.Fees)

	e, err := p.Entry(ctx, s, 3)
	require.NoError(t, err)
	assert.Equal(t, EntryFee, e.Type)
	assert.True(t, e.Account.IsEmpty())
}

func TestWithdrawValidation(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	p := NewPool(nil, zerolog.Nop())

	err := update(t, s, func(tx storage.Txn) error {
		return p.Withdraw(ctx, tx, types.EmptyHash, 1, 0)
	})
	assert.ErrorIs(t, err, ErrZeroDestination)

	err = update(t, s, func(tx storage.Txn) error {
		return p.Withdraw(ctx, tx, destination, ^uint64(0), 1)
	})
	assert.ErrorIs(t, err, ErrOverflow)

	require.NoError(t, update(t, s, func(tx storage.Txn) error {
		return p.Deposit(ctx, tx, depositor, ^uint64(0))
	}))
	err = update(t, s, func(tx storage.Txn) error {
		return p.Deposit(ctx, tx, depositor, 1)
	})
	assert.ErrorIs(t, err, ErrOverflow)
}
