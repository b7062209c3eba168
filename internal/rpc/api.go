// Package rpc exposes the ledger over JSON-RPC using go-ethereum's rpc server.
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/shadowvault/core/internal/auth"
	"github.com/shadowvault/core/internal/ledger"
	"github.com/shadowvault/core/internal/ratelimit"
	"github.com/shadowvault/core/pkg/types"
)

// FailureObserver is told about every rejected request
type FailureObserver interface {
	ObserveFailure(op string, err error)
}

// Config wires the API's collaborators. Authorizer, Limiter and Observer
// are optional.
type Config struct {
	Ledger     *ledger.Ledger
	Params     ledger.Params
	Authorizer *auth.Authorizer
	Limiter    *ratelimit.Limiter
	Observer   FailureObserver
	Clock      func() time.Time
}

// API is the vault namespace service
type API struct {
	ledger   *ledger.Ledger
	auth     *auth.Authorizer
	limiter  *ratelimit.Limiter
	observer FailureObserver
	clock    func() time.Time

	paramsMu sync.RWMutex
	params   ledger.Params

	log zerolog.Logger
}

// NewAPI creates the service
func NewAPI(cfg *Config, log zerolog.Logger) (*API, error) {
	if cfg == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("rpc: ledger is required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &API{
		ledger:   cfg.Ledger,
		auth:     cfg.Authorizer,
		limiter:  cfg.Limiter,
		observer: cfg.Observer,
		clock:    clock,
		params:   cfg.Params,
		log:      log.With().Str("module", "rpc").Logger(),
	}, nil
}

// NewServer registers api under the vault namespace
func NewServer(api *API) (*gethrpc.Server, error) {
	srv := gethrpc.NewServer()
	if err := srv.RegisterName(Namespace, api); err != nil {
		return nil, fmt.Errorf("register %s api: %w", Namespace, err)
	}
	return srv, nil
}

// SetParams replaces the parameter snapshot used by subsequent calls
func (api *API) SetParams(p ledger.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	api.paramsMu.Lock()
	api.params = p
	api.paramsMu.Unlock()
	return nil
}

func (api *API) snapshot() ledger.Params {
	api.paramsMu.RLock()
	defer api.paramsMu.RUnlock()
	return api.params
}

func (api *API) authorize(owner types.Hash, method string, a *AuthArgs, fields [][]byte) error {
	if api.auth == nil {
		return nil
	}
	return api.auth.Authorize(owner, method, a.credentials(), fields...)
}

func (api *API) fail(op string, err error) error {
	if api.observer != nil {
		api.observer.ObserveFailure(op, err)
	}
	api.log.Debug().Str("op", op).Err(err).Msg("Request rejected")
	return toRPCError(err)
}

// Initialize creates a vault
func (api *API) Initialize(ctx context.Context, args InitializeArgs) (*VaultResult, error) {
	if err := api.authorize(args.Owner, MethodInitialize, args.Auth, args.SigningFields()); err != nil {
		return nil, api.fail("initialize", err)
	}
	v, err := api.ledger.InitializeVault(ctx, args.Owner, args.ViewKeyHash)
	if err != nil {
		return nil, api.fail("initialize", err)
	}
	return newVaultResult(v), nil
}

// Shield deposits a denomination into a new note
func (api *API) Shield(ctx context.Context, args ShieldArgs) (*ShieldResult, error) {
	if err := api.authorize(args.Owner, MethodShield, args.Auth, args.SigningFields()); err != nil {
		return nil, api.fail("shield", err)
	}
	if api.limiter != nil {
		if err := api.limiter.Allow(args.Owner); err != nil {
			return nil, api.fail("shield", err)
		}
	}

	r, err := api.ledger.Shield(ctx, api.snapshot(), &ledger.ShieldRequest{
		Owner:           args.Owner,
		Amount:          uint64(args.Amount),
		Commitment:      args.Commitment,
		Proof:           args.Proof,
		Siblings:        args.Siblings,
		EncryptedAmount: args.EncryptedAmount,
	})
	if err != nil {
		return nil, api.fail("shield", err)
	}
	return &ShieldResult{Note: newNoteResult(r.Note), Root: r.Root}, nil
}

// Transfer spends a note into an output and a change note
func (api *API) Transfer(ctx context.Context, args TransferArgs) (*TransferResult, error) {
	if err := api.authorize(args.Owner, MethodTransfer, args.Auth, args.SigningFields()); err != nil {
		return nil, api.fail("transfer", err)
	}

	r, err := api.ledger.Transfer(ctx, api.snapshot(), &ledger.TransferRequest{
		Owner:             args.Owner,
		SourceNote:        uint64(args.SourceNote),
		Nullifier:         args.Nullifier,
		OutputCommitment:  args.OutputCommitment,
		ChangeCommitment:  args.ChangeCommitment,
		Proof:             args.Proof,
		MerkleRoot:        args.MerkleRoot,
		Siblings:          args.Siblings,
		NullifierSiblings: args.NullifierSiblings,
		EncryptedAmount:   args.EncryptedAmount,
	})
	if err != nil {
		return nil, api.fail("transfer", err)
	}
	return &TransferResult{
		ChangeNote:     newNoteResult(r.ChangeNote),
		NullifierIndex: hexutil.Uint64(r.NullifierIndex),
		CommitmentRoot: r.CommitmentRoot,
		NullifierRoot:  r.NullifierRoot,
	}, nil
}

// Unshield withdraws a note to a public destination
func (api *API) Unshield(ctx context.Context, args UnshieldArgs) (*UnshieldResult, error) {
	if err := api.authorize(args.Owner, MethodUnshield, args.Auth, args.SigningFields()); err != nil {
		return nil, api.fail("unshield", err)
	}

	r, err := api.ledger.Unshield(ctx, api.snapshot(), &ledger.UnshieldRequest{
		Owner:             args.Owner,
		Amount:            uint64(args.Amount),
		SourceNote:        uint64(args.SourceNote),
		Nullifier:         args.Nullifier,
		Proof:             args.Proof,
		NullifierSiblings: args.NullifierSiblings,
		Destination:       args.Destination,
	})
	if err != nil {
		return nil, api.fail("unshield", err)
	}
	return &UnshieldResult{
		Fee:            hexutil.Uint64(r.Fee),
		Net:            hexutil.Uint64(r.Net),
		NullifierIndex: hexutil.Uint64(r.NullifierIndex),
		NullifierRoot:  r.NullifierRoot,
	}, nil
}

// Reveal stores a verified disclosure
func (api *API) Reveal(ctx context.Context, args RevealArgs) (*DisclosureResult, error) {
	kind, err := types.ParseDisclosureKind(args.Kind)
	if err != nil {
		return nil, invalidArgs(err.Error())
	}
	if err := api.authorize(args.Owner, MethodReveal, args.Auth, args.SigningFields()); err != nil {
		return nil, api.fail("reveal", err)
	}

	rec, err := api.ledger.Reveal(ctx, api.snapshot(), &ledger.RevealRequest{
		Owner:      args.Owner,
		Kind:       kind,
		Nonce:      uint64(args.Nonce),
		RangeMin:   uint64(args.RangeMin),
		RangeMax:   uint64(args.RangeMax),
		Proof:      args.Proof,
		Commitment: args.Commitment,
	})
	if err != nil {
		return nil, api.fail("reveal", err)
	}
	return newDisclosureResult(rec, api.clock().Unix()), nil
}

// GetVault returns a vault
func (api *API) GetVault(ctx context.Context, owner types.Hash) (*VaultResult, error) {
	v, err := api.ledger.GetVault(ctx, owner)
	if err != nil {
		return nil, toRPCError(err)
	}
	return newVaultResult(v), nil
}

// GetNote returns a note of a vault
func (api *API) GetNote(ctx context.Context, owner types.Hash, number hexutil.Uint64) (*NoteResult, error) {
	n, err := api.ledger.GetNote(ctx, owner, uint64(number))
	if err != nil {
		return nil, toRPCError(err)
	}
	return newNoteResult(n), nil
}

// GetDisclosure returns a disclosure record
func (api *API) GetDisclosure(ctx context.Context, owner types.Hash, nonce hexutil.Uint64) (*DisclosureResult, error) {
	d, err := api.ledger.GetDisclosure(ctx, owner, uint64(nonce))
	if err != nil {
		return nil, toRPCError(err)
	}
	return newDisclosureResult(d, api.clock().Unix()), nil
}

// IsNullifierUsed reports whether a nullifier has been consumed
func (api *API) IsNullifierUsed(ctx context.Context, nullifier types.Hash) (bool, error) {
	used, err := api.ledger.IsNullifierUsed(ctx, nullifier)
	return used, toRPCError(err)
}

// Tree returns the state of the named tree ("commitments" or "nullifiers")
func (api *API) Tree(ctx context.Context, name string) (*TreeResult, error) {
	tree := ledger.TreeName(name)
	if !tree.Valid() {
		return nil, invalidArgs(fmt.Sprintf("unknown tree %q", name))
	}
	s, err := api.ledger.TreeState(ctx, tree)
	if err != nil {
		return nil, toRPCError(err)
	}
	return newTreeResult(name, s), nil
}

// Path returns the membership path of a leaf
func (api *API) Path(ctx context.Context, name string, index hexutil.Uint64) (*PathResult, error) {
	tree := ledger.TreeName(name)
	if !tree.Valid() {
		return nil, invalidArgs(fmt.Sprintf("unknown tree %q", name))
	}
	path, root, err := api.ledger.Path(ctx, tree, uint64(index))
	if err != nil {
		return nil, toRPCError(err)
	}
	return &PathResult{Index: index, Siblings: path.Siblings, Root: root}, nil
}

// NextSiblings returns the siblings of the next free slot of a tree
func (api *API) NextSiblings(ctx context.Context, name string) ([]types.Hash, error) {
	tree := ledger.TreeName(name)
	if !tree.Valid() {
		return nil, invalidArgs(fmt.Sprintf("unknown tree %q", name))
	}
	siblings, err := api.ledger.NextSiblings(ctx, tree)
	return siblings, toRPCError(err)
}

// Stats returns the protocol counters
func (api *API) Stats(ctx context.Context) (*StatsResult, error) {
	s, err := api.ledger.Stats(ctx)
	if err != nil {
		return nil, toRPCError(err)
	}
	return &StatsResult{
		TotalShielded:   hexutil.Uint64(s.TotalShielded),
		TotalUnshielded: hexutil.Uint64(s.TotalUnshielded),
		FeesCollected:   hexutil.Uint64(s.FeesCollected),
		Operations:      hexutil.Uint64(s.Operations),
	}, nil
}

// Denominations lists the accepted shield amounts
func (api *API) Denominations() []hexutil.Uint64 {
	values := types.Denominations()
	out := make([]hexutil.Uint64, len(values))
	for i, v := range values {
		out[i] = hexutil.Uint64(v)
	}
	return out
}
