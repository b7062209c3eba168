package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/shadowvault/core/pkg/types"
)

// Client is a typed client of the vault namespace
type Client struct {
	c *gethrpc.Client
}

// Dial connects to a vault RPC endpoint
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Client{c: c}, nil
}

// NewClient wraps an existing connection
func NewClient(c *gethrpc.Client) *Client {
	return &Client{c: c}
}

// Close closes the connection
func (c *Client) Close() {
	c.c.Close()
}

// Initialize calls vault_initialize
func (c *Client) Initialize(ctx context.Context, args *InitializeArgs) (*VaultResult, error) {
	var res VaultResult
	if err := c.c.CallContext(ctx, &res, MethodInitialize, args); err != nil {
		return nil, err
	}
	return &res, nil
}

// Shield calls vault_shield
func (c *Client) Shield(ctx context.Context, args *ShieldArgs) (*ShieldResult, error) {
	var res ShieldResult
	if err := c.c.CallContext(ctx, &res, MethodShield, args); err != nil {
		return nil, err
	}
	return &res, nil
}

// Transfer calls vault_transfer
func (c *Client) Transfer(ctx context.Context, args *TransferArgs) (*TransferResult, error) {
	var res TransferResult
	if err := c.c.CallContext(ctx, &res, MethodTransfer, args); err != nil {
		return nil, err
	}
	return &res, nil
}

// Unshield calls vault_unshield
func (c *Client) Unshield(ctx context.Context, args *UnshieldArgs) (*UnshieldResult, error) {
	var res UnshieldResult
	if err := c.c.CallContext(ctx, &res, MethodUnshield, args); err != nil {
		return nil, err
	}
	return &res, nil
}

// Reveal calls vault_reveal
func (c *Client) Reveal(ctx context.Context, args *RevealArgs) (*DisclosureResult, error) {
	var res DisclosureResult
	if err := c.c.CallContext(ctx, &res, MethodReveal, args); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetVault calls vault_getVault
func (c *Client) GetVault(ctx context.Context, owner types.Hash) (*VaultResult, error) {
	var res VaultResult
	if err := c.c.CallContext(ctx, &res, Namespace+"_getVault", owner); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetNote calls vault_getNote
func (c *Client) GetNote(ctx context.Context, owner types.Hash, number uint64) (*NoteResult, error) {
	var res NoteResult
	if err := c.c.CallContext(ctx, &res, Namespace+"_getNote", owner, hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	return &res, nil
}

// Tree calls vault_tree
func (c *Client) Tree(ctx context.Context, name string) (*TreeResult, error) {
	var res TreeResult
	if err := c.c.CallContext(ctx, &res, Namespace+"_tree", name); err != nil {
		return nil, err
	}
	return &res, nil
}

// NextSiblings calls vault_nextSiblings
func (c *Client) NextSiblings(ctx context.Context, name string) ([]types.Hash, error) {
	var res []types.Hash
	err := c.c.CallContext(ctx, &res, Namespace+"_nextSiblings", name)
	return res, err
}

// Stats calls vault_stats
func (c *Client) Stats(ctx context.Context) (*StatsResult, error) {
	var res StatsResult
	if err := c.c.CallContext(ctx, &res, Namespace+"_stats"); err != nil {
		return nil, err
	}
	return &res, nil
}
