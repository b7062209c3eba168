package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvault/core/internal/auth"
	"github.com/shadowvault/core/internal/ledger"
	"github.com/shadowvault/core/internal/ratelimit"
	"github.com/shadowvault/core/internal/storage"
	"github.com/shadowvault/core/internal/zkp"
	"github.com/shadowvault/core/pkg/types"
)

type acceptAll struct{}

func (acceptAll) Verify(zkp.ProofKind, []byte, zkp.PublicInputs) error { return nil }

type failures struct{ ops []string }

func (f *failures) ObserveFailure(op string, _ error) { f.ops = append(f.ops, op) }

var epoch = time.Unix(1_700_000_000, 0)

func clock() time.Time { return epoch }

func hashOf(b byte) types.Hash {
	var h types.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

// startAPI serves an API over an in-process connection
func startAPI(t *testing.T, mutate func(cfg *Config)) (*Client, *failures) {
	t.Helper()

	l := ledger.New(&ledger.Config{
		Hasher: zkp.KeccakHasher{},
		Clock:  clock,
	}, storage.NewMemoryStore(), acceptAll{}, zerolog.Nop())

	obs := &failures{}
	cfg := &Config{
		Ledger:   l,
		Params:   ledger.DefaultParams(),
		Observer: obs,
		Clock:    clock,
	}
	if mutate != nil {
		mutate(cfg)
	}

	api, err := NewAPI(cfg, zerolog.Nop())
	require.NoError(t, err)
	srv, err := NewServer(api)
	require.NoError(t, err)
	t.Cleanup(srv.Stop)

	c := NewClient(gethrpc.DialInProc(srv))
	t.Cleanup(c.Close)
	return c, obs
}

func shieldArgs(owner types.Hash, amount uint64, commitment types.Hash) *ShieldArgs {
	return &ShieldArgs{
		Owner:      owner,
		Amount:     hexutil.Uint64(amount),
		Commitment: commitment,
		Proof:      make([]byte, zkp.ProofSize),
	}
}

func errorCode(t *testing.T, err error) int {
	t.Helper()
	var rerr gethrpc.Error
	require.True(t, errors.As(err, &rerr), "not an rpc error: %v", err)
	return rerr.ErrorCode()
}

func TestShieldOverRPC(t *testing.T) {
	c, _ := startAPI(t, nil)
	ctx := context.Background()
	owner := hashOf(0xa1)

	v, err := c.Initialize(ctx, &InitializeArgs{Owner: owner, ViewKeyHash: hashOf(0x77)})
	require.NoError(t, err)
	assert.Equal(t, owner, v.Owner)
	assert.Equal(t, hexutil.Uint64(epoch.Unix()), v.CreatedAt)

	r, err := c.Shield(ctx, shieldArgs(owner, 100_000_000, hashOf(1)))
	require.NoError(t, err)
	assert.Equal(t, hexutil.Uint64(1), r.Note.Number)
	assert.Equal(t, hexutil.Uint64(100_000_000), r.Note.Denomination)
	assert.Equal(t, hexutil.Uint64(epoch.Unix()+24*60*60), r.Note.UnshieldAfter)

	tree, err := c.Tree(ctx, "commitments")
	require.NoError(t, err)
	assert.Equal(t, r.Root, tree.Root)
	assert.Equal(t, hexutil.Uint64(1), tree.NextIndex)
	assert.Equal(t, hexutil.Uint64(zkp.TreeDepth), tree.Depth)
	assert.Contains(t, tree.RecentRoots, r.Root)

	siblings, err := c.NextSiblings(ctx, "commitments")
	require.NoError(t, err)
	assert.Len(t, siblings, zkp.TreeDepth)

	note, err := c.GetNote(ctx, owner, 1)
	require.NoError(t, err)
	assert.Equal(t, hashOf(1), note.Commitment)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Uint64(100_000_000), stats.TotalShielded)
	assert.Equal(t, hexutil.Uint64(1), stats.Operations)

	d, err := c.Reveal(ctx, &RevealArgs{
		Owner:      owner,
		Kind:       "range",
		RangeMin:   1,
		RangeMax:   2,
		Proof:      make([]byte, zkp.ProofSize),
		Commitment: hashOf(1),
	})
	require.NoError(t, err)
	assert.Equal(t, hexutil.Uint64(1), d.Nonce)
	assert.Equal(t, "range", d.Kind)
	assert.False(t, d.Expired)
}

func TestErrorCodes(t *testing.T) {
	c, obs := startAPI(t, nil)
	ctx := context.Background()
	owner := hashOf(0xa1)

	_, err := c.GetVault(ctx, owner)
	assert.Equal(t, 6024, errorCode(t, err))

	var derr gethrpc.DataError
	require.True(t, errors.As(err, &derr))
	data, ok := derr.ErrorData().(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "state", data["class"])
	assert.Equal(t, false, data["retryable"])

	_, err = c.Initialize(ctx, &InitializeArgs{Owner: owner})
	require.NoError(t, err)

	_, err = c.Shield(ctx, shieldArgs(owner, 12345, hashOf(1)))
	assert.Equal(t, 6000, errorCode(t, err))

	_, err = c.Tree(ctx, "bogus")
	assert.Equal(t, CodeInvalidArgs, errorCode(t, err))

	_, err = c.Reveal(ctx, &RevealArgs{Owner: owner, Kind: "bogus", Proof: make([]byte, zkp.ProofSize)})
	assert.Equal(t, CodeInvalidArgs, errorCode(t, err))

	// only mutating calls are reported to the observer
	assert.Equal(t, []string{"shield"}, obs.ops)
}

func TestShieldRateLimited(t *testing.T) {
	limiter, err := ratelimit.New(&ratelimit.Config{MaxPerEpoch: 1, Epoch: time.Minute}, clock)
	require.NoError(t, err)

	c, _ := startAPI(t, func(cfg *Config) { cfg.Limiter = limiter })
	ctx := context.Background()
	owner := hashOf(0xa1)

	_, err = c.Initialize(ctx, &InitializeArgs{Owner: owner})
	require.NoError(t, err)

	_, err = c.Shield(ctx, shieldArgs(owner, 100_000_000, hashOf(1)))
	require.NoError(t, err)

	_, err = c.Shield(ctx, shieldArgs(owner, 100_000_000, hashOf(2)))
	assert.Equal(t, CodeRateLimited, errorCode(t, err))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, hexutil.Uint64(1), stats.Operations)
}

func TestAuthorizedInitialize(t *testing.T) {
	authz := auth.NewAuthorizer(time.Minute, clock)
	c, _ := startAPI(t, func(cfg *Config) { cfg.Authorizer = authz })
	ctx := context.Background()

	priv, pub, err := auth.GenerateKey()
	require.NoError(t, err)
	owner, err := auth.OwnerID(pub)
	require.NoError(t, err)

	args := &InitializeArgs{Owner: owner, ViewKeyHash: hashOf(0x77)}
	_, err = c.Initialize(ctx, args)
	assert.Equal(t, CodeUnauthorized, errorCode(t, err))

	creds, err := auth.Sign(priv, MethodInitialize, epoch.Unix(), args.SigningFields()...)
	require.NoError(t, err)
	args.Auth = NewAuthArgs(creds)

	v, err := c.Initialize(ctx, args)
	require.NoError(t, err)
	assert.Equal(t, owner, v.Owner)

	// the signature does not cover another view key
	args.ViewKeyHash = hashOf(0x78)
	_, err = c.Initialize(ctx, args)
	assert.Equal(t, CodeUnauthorized, errorCode(t, err))
}

func TestNewAPIValidation(t *testing.T) {
	_, err := NewAPI(nil, zerolog.Nop())
	assert.Error(t, err)

	l := ledger.New(nil, storage.NewMemoryStore(), acceptAll{}, zerolog.Nop())
	bad := ledger.DefaultParams()
	bad.FeeBps = 10001
	_, err = NewAPI(&Config{Ledger: l, Params: bad}, zerolog.Nop())
	assert.ErrorIs(t, err, ledger.ErrInvalidParams)

	api, err := NewAPI(&Config{Ledger: l, Params: ledger.DefaultParams()}, zerolog.Nop())
	require.NoError(t, err)
	assert.ErrorIs(t, api.SetParams(bad), ledger.ErrInvalidParams)
	assert.Len(t, api.Denominations(), len(types.Denominations()))
}
