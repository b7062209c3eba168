// Package custody keeps the public balance backing shielded notes.
// Deposits credit the pool on shield; unshield debits the pool, credits
// the destination account with the net amount and books the fee.
package custody

import (
	"context"
	"errors"
	"fmt"
	"math/bits"

	"github.com/rs/zerolog"

	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/pkg/common"
	"github.com/shadowvault/core/pkg/types"
)

// Custody errors
var (
	ErrInsufficientPool = errors.New("insufficient pool balance")
	ErrOverflow         = errors.New("pool balance overflow")
	ErrZeroDestination  = errors.New("empty destination")
)

// EntryType classifies pool movements
type EntryType uint8

const (
	EntryDeposit EntryType = iota
	EntryPayout
	EntryFee
)

func (t EntryType) String() string {
	switch t {
	case EntryDeposit:
		return "deposit"
	case EntryPayout:
		return "payout"
	case EntryFee:
		return "fee"
	default:
		return "unknown"
	}
}

// PoolState is the persisted pool ledger
type PoolState struct {
	// Balance is held for outstanding notes
	Balance uint64

	// Deposited, PaidOut and Fees are lifetime totals
	Deposited uint64
	PaidOut   uint64
	Fees      uint64

	// Entries counts movements; it numbers the entry records
	Entries uint64
}

// Entry is one recorded pool movement
type Entry struct {
	Seq     uint64
	Type    EntryType
	Account types.Hash
	Amount  uint64
}

// Account is a public balance credited by payouts
type Account struct {
	Owner   types.Hash
	Balance uint64
}

var stateKey = storage.DeriveKey("custody_pool")

func accountKey(owner types.Hash) storage.Key {
	return storage.DeriveKey("custody_account", owner[:])
}

func entryKey(seq uint64) storage.Key {
	return storage.DeriveKey("custody_entry", common.Uint64ToBytes(seq))
}

// Config holds pool configuration
type Config struct {
	// FeeRecipient is credited with fees; empty keeps fees in the pool ledger
	FeeRecipient types.Hash
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{}
}

// Pool implements the ledger's value transfer executor over the ledger's
// own store transaction
type Pool struct {
	feeRecipient types.Hash
	log          zerolog.Logger
}

// NewPool creates a pool
func NewPool(cfg *Config, log zerolog.Logger) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Pool{
		feeRecipient: cfg.FeeRecipient,
		log:          log.With().Str("module", "custody").Logger(),
	}
}

// Deposit credits amount from owner to the pool
func (p *Pool) Deposit(ctx context.Context, tx storage.Txn, owner types.Hash, amount uint64) error {
	state, exists, err := loadState(ctx, tx)
	if err != nil {
		return err
	}

	if state.Balance, err = add(state.Balance, amount); err != nil {
		return err
	}
	if state.Deposited, err = add(state.Deposited, amount); err != nil {
		return err
	}
	if err := appendEntry(ctx, tx, state, EntryDeposit, owner, amount); err != nil {
		return err
	}
	return saveState(ctx, tx, state, exists)
}

// Withdraw debits net+fee from the pool, pays net to destination and books fee
func (p *Pool) Withdraw(ctx context.Context, tx storage.Txn, destination types.Hash, net, fee uint64) error {
	if destination.IsEmpty() {
		return ErrZeroDestination
	}

	state, exists, err := loadState(ctx, tx)
	if err != nil {
		return err
	}

	total, err := add(net, fee)
	if err != nil {
		return err
	}
	if total > state.Balance {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientPool, total, state.Balance)
	}
	state.Balance -= total

	if state.PaidOut, err = add(state.PaidOut, net); err != nil {
		return err
	}
	if state.Fees, err = add(state.Fees, fee); err != nil {
		return err
	}

	if err := credit(ctx, tx, destination, net); err != nil {
		return err
	}
	if err := appendEntry(ctx, tx, state, EntryPayout, destination, net); err != nil {
		return err
	}

	if fee > 0 {
		if !p.feeRecipient.IsEmpty() {
			if err := credit(ctx, tx, p.feeRecipient, fee); err != nil {
				return err
			}
		}
		if err := appendEntry(ctx, tx, state, EntryFee, p.feeRecipient, fee); err != nil {
			return err
		}
	}

	p.log.Debug().
		Str("destination", destination.Short()).
		Uint64("net", net).
		Uint64("fee", fee).
		Uint64("pool", state.Balance).
		Msg("Payout booked")

	return saveState(ctx, tx, state, exists)
}

// State returns the current pool ledger
func (p *Pool) State(ctx context.Context, r storage.Reader) (*PoolState, error) {
	state, _, err := loadState(ctx, r)
	return state, err
}

// Balance returns the public balance of owner
func (p *Pool) Balance(ctx context.Context, r storage.Reader, owner types.Hash) (uint64, error) {
	var acct Account
	err := storage.GetRecord(ctx, r, accountKey(owner), &acct)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Entry returns the recorded movement seq (1-based)
func (p *Pool) Entry(ctx context.Context, r storage.Reader, seq uint64) (*Entry, error) {
	var e Entry
	if err := storage.GetRecord(ctx, r, entryKey(seq), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func loadState(ctx context.Context, r storage.Reader) (*PoolState, bool, error) {
	var s PoolState
	err := storage.GetRecord(ctx, r, stateKey, &s)
	if errors.Is(err, storage.ErrNotFound) {
		return &s, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &s, true, nil
}

func saveState(ctx context.Context, tx storage.Txn, s *PoolState, exists bool) error {
	if exists {
		return storage.ReplaceRecord(ctx, tx, stateKey, s)
	}
	return storage.CreateRecord(ctx, tx, stateKey, s)
}

func appendEntry(ctx context.Context, tx storage.Txn, s *PoolState, typ EntryType, account types.Hash, amount uint64) error {
	s.Entries++
	return storage.CreateRecord(ctx, tx, entryKey(s.Entries), &Entry{
		Seq:     s.Entries,
		Type:    typ,
		Account: account,
		Amount:  amount,
	})
}

func credit(ctx context.Context, tx storage.Txn, owner types.Hash, amount uint64) error {
	var acct Account
	err := storage.GetRecord(ctx, tx, accountKey(owner), &acct)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		acct = Account{Owner: owner, Balance: amount}
		return storage.CreateRecord(ctx, tx, accountKey(owner), &acct)
	case err != nil:
		return err
	}

	if acct.Balance, err = add(acct.Balance, amount); err != nil {
		return err
	}
	return storage.ReplaceRecord(ctx, tx, accountKey(owner), &acct)
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}
