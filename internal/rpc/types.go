package rpc

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/shadowvault/core/internal/auth"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/common"
	"github.com/shadowvault/core/pkg/types"
)

// Namespace is the JSON-RPC namespace of the vault API
const Namespace = "vault"

// Method names, also bound into request signatures
const (
	MethodInitialize = Namespace + "_initialize"
	MethodShield     = Namespace + "_shield"
	MethodTransfer   = Namespace + "_transfer"
	MethodUnshield   = Namespace + "_unshield"
	MethodReveal     = Namespace + "_reveal"
)

// AuthArgs carries request credentials
type AuthArgs struct {
	PublicKey hexutil.Bytes  `json:"publicKey"`
	Signature hexutil.Bytes  `json:"signature"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

func (a *AuthArgs) credentials() *auth.Credentials {
	if a == nil {
		return nil
	}
	return &auth.Credentials{
		PublicKey: a.PublicKey,
		Signature: a.Signature,
		Timestamp: int64(a.Timestamp),
	}
}

// NewAuthArgs converts signed credentials into request arguments
func NewAuthArgs(c *auth.Credentials) *AuthArgs {
	return &AuthArgs{
		PublicKey: c.PublicKey,
		Signature: c.Signature,
		Timestamp: hexutil.Uint64(c.Timestamp),
	}
}

func u64(v hexutil.Uint64) []byte {
	return common.Uint64ToBytes(uint64(v))
}

// InitializeArgs are the arguments of vault_initialize
type InitializeArgs struct {
	Owner       types.Hash `json:"owner"`
	ViewKeyHash types.Hash `json:"viewKeyHash"`
	Auth        *AuthArgs  `json:"auth,omitempty"`
}

// SigningFields returns the signed request fields
func (a *InitializeArgs) SigningFields() [][]byte {
	return [][]byte{a.Owner[:], a.ViewKeyHash[:]}
}

// ShieldArgs are the arguments of vault_shield
type ShieldArgs struct {
	Owner           types.Hash     `json:"owner"`
	Amount          hexutil.Uint64 `json:"amount"`
	Commitment      types.Hash     `json:"commitment"`
	Proof           hexutil.Bytes  `json:"proof"`
	Siblings        []types.Hash   `json:"siblings,omitempty"`
	EncryptedAmount hexutil.Bytes  `json:"encryptedAmount,omitempty"`
	Auth            *AuthArgs      `json:"auth,omitempty"`
}

// SigningFields returns the signed request fields
func (a *ShieldArgs) SigningFields() [][]byte {
	return [][]byte{a.Owner[:], u64(a.Amount), a.Commitment[:], a.Proof, a.EncryptedAmount}
}

// TransferArgs are the arguments of vault_transfer
type TransferArgs struct {
	Owner             types.Hash     `json:"owner"`
	SourceNote        hexutil.Uint64 `json:"sourceNote"`
	Nullifier         types.Hash     `json:"nullifier"`
	OutputCommitment  types.Hash     `json:"outputCommitment"`
	ChangeCommitment  types.Hash     `json:"changeCommitment"`
	Proof             hexutil.Bytes  `json:"proof"`
	MerkleRoot        types.Hash     `json:"merkleRoot"`
	Siblings          []types.Hash   `json:"siblings,omitempty"`
	NullifierSiblings []types.Hash   `json:"nullifierSiblings,omitempty"`
	EncryptedAmount   hexutil.Bytes  `json:"encryptedAmount,omitempty"`
	Auth              *AuthArgs      `json:"auth,omitempty"`
}

// SigningFields returns the signed request fields
func (a *TransferArgs) SigningFields() [][]byte {
	return [][]byte{
		a.Owner[:], u64(a.SourceNote), a.Nullifier[:], a.OutputCommitment[:],
		a.ChangeCommitment[:], a.Proof, a.MerkleRoot[:], a.EncryptedAmount,
	}
}

// UnshieldArgs are the arguments of vault_unshield
type UnshieldArgs struct {
	Owner             types.Hash     `json:"owner"`
	Amount            hexutil.Uint64 `json:"amount"`
	SourceNote        hexutil.Uint64 `json:"sourceNote"`
	Nullifier         types.Hash     `json:"nullifier"`
	Proof             hexutil.Bytes  `json:"proof"`
	NullifierSiblings []types.Hash   `json:"nullifierSiblings,omitempty"`
	Destination       types.Hash     `json:"destination"`
	Auth              *AuthArgs      `json:"auth,omitempty"`
}

// SigningFields returns the signed request fields
func (a *UnshieldArgs) SigningFields() [][]byte {
	return [][]byte{
		a.Owner[:], u64(a.Amount), u64(a.SourceNote), a.Nullifier[:], a.Proof, a.Destination[:],
	}
}

// RevealArgs are the arguments of vault_reveal
type RevealArgs struct {
	Owner      types.Hash     `json:"owner"`
	Kind       string         `json:"kind"`
	Nonce      hexutil.Uint64 `json:"nonce"`
	RangeMin   hexutil.Uint64 `json:"rangeMin"`
	RangeMax   hexutil.Uint64 `json:"rangeMax"`
	Proof      hexutil.Bytes  `json:"proof"`
	Commitment types.Hash     `json:"commitment"`
	Auth       *AuthArgs      `json:"auth,omitempty"`
}

// SigningFields returns the signed request fields
func (a *RevealArgs) SigningFields() [][]byte {
	return [][]byte{
		a.Owner[:], []byte(a.Kind), u64(a.Nonce), u64(a.RangeMin), u64(a.RangeMax), a.Proof, a.Commitment[:],
	}
}

// VaultResult is the JSON form of a vault
type VaultResult struct {
	Owner           types.Hash     `json:"owner"`
	NoteCount       hexutil.Uint64 `json:"noteCount"`
	DisclosureCount hexutil.Uint64 `json:"disclosureCount"`
	ViewKeyHash     types.Hash     `json:"viewKeyHash"`
	CreatedAt       hexutil.Uint64 `json:"createdAt"`
	LastActivity    hexutil.Uint64 `json:"lastActivity"`
}

func newVaultResult(v *types.Vault) *VaultResult {
	return &VaultResult{
		Owner:           v.Owner,
		NoteCount:       hexutil.Uint64(v.NoteCount),
		DisclosureCount: hexutil.Uint64(v.DisclosureCount),
		ViewKeyHash:     v.ViewKeyHash,
		CreatedAt:       hexutil.Uint64(v.CreatedAt),
		LastActivity:    hexutil.Uint64(v.LastActivity),
	}
}

// NoteResult is the JSON form of a note
type NoteResult struct {
	Vault           types.Hash     `json:"vault"`
	Number          hexutil.Uint64 `json:"number"`
	Commitment      types.Hash     `json:"commitment"`
	Index           hexutil.Uint64 `json:"index"`
	Denomination    hexutil.Uint64 `json:"denomination"`
	Spent           bool           `json:"spent"`
	SpentAt         hexutil.Uint64 `json:"spentAt,omitempty"`
	CreatedAt       hexutil.Uint64 `json:"createdAt"`
	UnshieldAfter   hexutil.Uint64 `json:"unshieldAfter"`
	EncryptedAmount hexutil.Bytes  `json:"encryptedAmount,omitempty"`
}

func newNoteResult(n *types.Note) *NoteResult {
	return &NoteResult{
		Vault:           n.Vault,
		Number:          hexutil.Uint64(n.Number),
		Commitment:      n.Commitment,
		Index:           hexutil.Uint64(n.Index),
		Denomination:    hexutil.Uint64(n.Denomination.Amount()),
		Spent:           n.Spent,
		SpentAt:         hexutil.Uint64(n.SpentAt),
		CreatedAt:       hexutil.Uint64(n.CreatedAt),
		UnshieldAfter:   hexutil.Uint64(n.UnshieldAfter),
		EncryptedAmount: n.EncryptedAmount,
	}
}

// ShieldResult is returned by vault_shield
type ShieldResult struct {
	Note *NoteResult `json:"note"`
	Root types.Hash  `json:"root"`
}

// TransferResult is returned by vault_transfer
type TransferResult struct {
	ChangeNote     *NoteResult    `json:"changeNote"`
	NullifierIndex hexutil.Uint64 `json:"nullifierIndex"`
	CommitmentRoot types.Hash     `json:"commitmentRoot"`
	NullifierRoot  types.Hash     `json:"nullifierRoot"`
}

// UnshieldResult is returned by vault_unshield
type UnshieldResult struct {
	Fee            hexutil.Uint64 `json:"fee"`
	Net            hexutil.Uint64 `json:"net"`
	NullifierIndex hexutil.Uint64 `json:"nullifierIndex"`
	NullifierRoot  types.Hash     `json:"nullifierRoot"`
}

// DisclosureResult is the JSON form of a disclosure record
type DisclosureResult struct {
	Vault      types.Hash     `json:"vault"`
	Nonce      hexutil.Uint64 `json:"nonce"`
	Kind       string         `json:"kind"`
	Commitment types.Hash     `json:"commitment"`
	RangeMin   hexutil.Uint64 `json:"rangeMin"`
	RangeMax   hexutil.Uint64 `json:"rangeMax"`
	Verified   bool           `json:"verified"`
	Expired    bool           `json:"expired"`
	CreatedAt  hexutil.Uint64 `json:"createdAt"`
	ExpiresAt  hexutil.Uint64 `json:"expiresAt"`
}

func newDisclosureResult(d *types.DisclosureRecord, now int64) *DisclosureResult {
	return &DisclosureResult{
		Vault:      d.Vault,
		Nonce:      hexutil.Uint64(d.Nonce),
		Kind:       d.Kind.String(),
		Commitment: d.Commitment,
		RangeMin:   hexutil.Uint64(d.RangeMin),
		RangeMax:   hexutil.Uint64(d.RangeMax),
		Verified:   d.Verified,
		Expired:    d.Expired(now),
		CreatedAt:  hexutil.Uint64(d.CreatedAt),
		ExpiresAt:  hexutil.Uint64(d.ExpiresAt),
	}
}

// TreeResult describes one accumulator
type TreeResult struct {
	Name        string         `json:"name"`
	Root        types.Hash     `json:"root"`
	NextIndex   hexutil.Uint64 `json:"nextIndex"`
	Depth       hexutil.Uint64 `json:"depth"`
	RecentRoots []types.Hash   `json:"recentRoots"`
}

func newTreeResult(name string, s zkp.AccumulatorState) *TreeResult {
	return &TreeResult{
		Name:        name,
		Root:        s.Root,
		NextIndex:   hexutil.Uint64(s.NextIndex),
		Depth:       hexutil.Uint64(s.Depth),
		RecentRoots: s.Recent.List(),
	}
}

// PathResult is a membership path with the root it leads to
type PathResult struct {
	Index    hexutil.Uint64 `json:"index"`
	Siblings []types.Hash   `json:"siblings"`
	Root     types.Hash     `json:"root"`
}

// StatsResult is the JSON form of the protocol counters
type StatsResult struct {
	TotalShielded   hexutil.Uint64 `json:"totalShielded"`
	TotalUnshielded hexutil.Uint64 `json:"totalUnshielded"`
	FeesCollected   hexutil.Uint64 `json:"feesCollected"`
	Operations      hexutil.Uint64 `json:"operations"`
}
