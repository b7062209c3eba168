// Package types defines shielded note structures for the shadowvault ledger.
// Notes are UTXO-style records whose amounts are hidden behind commitments.
package types

import "fmt"

// EncryptedAmountSize is the size of a sealed note amount (XChaCha20-Poly1305)
const EncryptedAmountSize = 48

// Denomination is one of the fixed deposit tiers.
// Uniform amounts keep deposits and withdrawals from being linked by value.
type Denomination uint8

const (
	// DenominationTier1 is 0.1 units (1e8 base units)
	DenominationTier1 Denomination = iota
	// DenominationTier2 is 1 unit
	DenominationTier2
	// DenominationTier3 is 10 units
	DenominationTier3
	// DenominationTier4 is 100 units
	DenominationTier4
	// DenominationTier5 is 1000 units
	DenominationTier5

	// DenominationNone marks notes whose amount is known only to the owner
	// (transfer change notes)
	DenominationNone Denomination = 0xff
)

var denominationValues = [...]uint64{
	100_000_000,
	1_000_000_000,
	10_000_000_000,
	100_000_000_000,
	1_000_000_000_000,
}

// DenominationFromAmount maps an absolute amount to its tier
func DenominationFromAmount(amount uint64) (Denomination, bool) {
	for i, v := range denominationValues {
		if v == amount {
			return Denomination(i), true
		}
	}
	return 0, false
}

// Denominations returns every accepted amount in ascending order
func Denominations() []uint64 {
	out := make([]uint64, len(denominationValues))
	copy(out, denominationValues[:])
	return out
}

// Valid reports whether d names a known tier
func (d Denomination) Valid() bool {
	return int(d) < len(denominationValues)
}

// Amount returns the absolute amount of the tier, or 0 for an unknown tier
func (d Denomination) Amount() uint64 {
	if !d.Valid() {
		return 0
	}
	return denominationValues[d]
}

func (d Denomination) String() string {
	if !d.Valid() {
		return fmt.Sprintf("Denomination(%d)", uint8(d))
	}
	return fmt.Sprintf("tier%d(%d)", uint8(d)+1, d.Amount())
}

// NoteState is the lifecycle state of a note
type NoteState uint8

const (
	NoteUnspent NoteState = iota
	NoteSpent
)

func (s NoteState) String() string {
	if s == NoteSpent {
		return "spent"
	}
	return "unspent"
}

// Note is a shielded note owned by a vault
type Note struct {
	// Vault is the owner id of the vault holding this note
	Vault Hash

	// Number is the per-vault sequence number used to address the note
	Number uint64

	// Commitment binds (amount, blinding)
	Commitment Hash

	// Index is the leaf position in the commitment tree
	Index uint64

	// Denomination tier of the deposit
	Denomination Denomination

	// Spent flips to true exactly once
	Spent   bool
	SpentAt int64

	// CreatedAt and UnshieldAfter are seconds since the epoch
	CreatedAt     int64
	UnshieldAfter int64

	// EncryptedAmount is an optional sealed amount readable with the vault's view key
	EncryptedAmount []byte
}

// State returns the lifecycle state of the note
func (n *Note) State() NoteState {
	if n.Spent {
		return NoteSpent
	}
	return NoteUnspent
}

// Unlocked reports whether the privacy delay has elapsed at now (inclusive)
func (n *Note) Unlocked(now int64) bool {
	return now >= n.UnshieldAfter
}

// Vault is a user's shielded account. Balances are never stored;
// the owner learns them by decrypting notes locally.
type Vault struct {
	// Owner is the owner id (hash of the owner's public key)
	Owner Hash

	// NoteCount is the number of notes ever created for this vault
	NoteCount uint64

	// DisclosureCount is the number of disclosure records stored
	DisclosureCount uint64

	// ViewKeyHash commits to the key that opens EncryptedAmount blobs
	ViewKeyHash Hash

	CreatedAt    int64
	LastActivity int64
}

// ProtocolStats are global counters kept alongside the accumulators
type ProtocolStats struct {
	TotalShielded   uint64
	TotalUnshielded uint64
	FeesCollected   uint64
	Operations      uint64
}
