// Package auth binds vault owners to libp2p key pairs.
//
// An owner id is the Keccak-256 of the marshalled public key. Mutating
// requests carry the public key, a timestamp and a signature over the
// request digest; the Authorizer checks all three before the request
// reaches the ledger.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/libp2p/go-libp2p/core/crypto"
	"golang.org/x/crypto/sha3"

	"github.com/shadowvault/core/pkg/common"
	"github.com/shadowvault/core/pkg/types"
)

// Authorization errors
var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrMalformedKey       = errors.New("malformed public key")
	ErrOwnerMismatch      = errors.New("public key does not match owner")
	ErrBadSignature       = errors.New("signature does not verify")
	ErrStaleRequest       = errors.New("request timestamp outside allowed skew")
)

// DefaultMaxSkew is how far a request timestamp may drift from local time
const DefaultMaxSkew = 5 * time.Minute

// Credentials authenticate one request
type Credentials struct {
	PublicKey []byte
	Signature []byte
	Timestamp int64
}

// OwnerID derives the owner id of pub
func OwnerID(pub crypto.PubKey) (types.Hash, error) {
	raw, err := crypto.MarshalPublicKey(pub)
	if err != nil {
		return types.EmptyHash, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(raw)

	var id types.Hash
	copy(id[:], h.Sum(nil))
	return id, nil
}

// OwnerIDFromBytes derives the owner id of a marshalled public key
func OwnerIDFromBytes(raw []byte) (types.Hash, error) {
	pub, err := crypto.UnmarshalPublicKey(raw)
	if err != nil {
		return types.EmptyHash, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	return OwnerID(pub)
}

// RequestDigest binds method, timestamp and the request payload fields
func RequestDigest(method string, timestamp int64, fields ...[]byte) types.Hash {
	h := sha3.NewLegacyKeccak256()
	writePart(h, []byte(method))
	writePart(h, common.Uint64ToBytes(uint64(timestamp)))
	for _, f := range fields {
		writePart(h, f)
	}

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func writePart(h interface{ Write([]byte) (int, error) }, part []byte) {
	h.Write(common.Uint64ToBytes(uint64(len(part))))
	h.Write(part)
}

// GenerateKey creates an Ed25519 key pair
func GenerateKey() (crypto.PrivKey, crypto.PubKey, error) {
	return crypto.GenerateEd25519Key(rand.Reader)
}

// Sign produces credentials for a request
func Sign(priv crypto.PrivKey, method string, timestamp int64, fields ...[]byte) (*Credentials, error) {
	pub, err := crypto.MarshalPublicKey(priv.GetPublic())
	if err != nil {
		return nil, err
	}
	digest := RequestDigest(method, timestamp, fields...)
	sig, err := priv.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return &Credentials{PublicKey: pub, Signature: sig, Timestamp: timestamp}, nil
}

// keyCacheSize bounds the decoded public key cache
const keyCacheSize = 1024

// Authorizer checks request credentials
type Authorizer struct {
	maxSkew time.Duration
	clock   func() time.Time

	// decoded keys by marshalled bytes
	keys *lru.Cache
}

// NewAuthorizer creates an authorizer; maxSkew <= 0 uses DefaultMaxSkew
func NewAuthorizer(maxSkew time.Duration, clock func() time.Time) *Authorizer {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	if clock == nil {
		clock = time.Now
	}
	return &Authorizer{
		maxSkew: maxSkew,
		clock:   clock,
		keys:    mustKeyCache(keyCacheSize),
	}
}

func mustKeyCache(size int) *lru.Cache {
	keys, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return keys
}

// Authorize checks that creds belong to owner and sign the request
func (a *Authorizer) Authorize(owner types.Hash, method string, creds *Credentials, fields ...[]byte) error {
	if creds == nil || len(creds.PublicKey) == 0 || len(creds.Signature) == 0 {
		return ErrMissingCredentials
	}

	skew := a.clock().Sub(time.Unix(creds.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew {
		return fmt.Errorf("%w: %s", ErrStaleRequest, skew)
	}

	pub, err := a.publicKey(creds.PublicKey)
	if err != nil {
		return err
	}
	id, err := OwnerID(pub)
	if err != nil {
		return err
	}
	if id != owner {
		return ErrOwnerMismatch
	}

	digest := RequestDigest(method, creds.Timestamp, fields...)
	ok, err := pub.Verify(digest[:], creds.Signature)
	if err != nil || !ok {
		return ErrBadSignature
	}
	return nil
}

func (a *Authorizer) publicKey(raw []byte) (crypto.PubKey, error) {
	if v, ok := a.keys.Get(string(raw)); ok {
		return v.(crypto.PubKey), nil
	}

	pub, err := crypto.UnmarshalPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}

	a.keys.Add(string(raw), pub)
	return pub, nil
}
