package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowvault/core/pkg/types"
)

func TestAuthorize(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := NewAuthorizer(time.Minute, func() time.Time { return now })

	priv, pub, err := GenerateKey()
	require.NoError(t, err)
	owner, err := OwnerID(pub)
	require.NoError(t, err)

	fields := [][]byte{owner[:], []byte("payload")}
	creds, err := Sign(priv, "vault_shield", now.Unix(), fields...)
	require.NoError(t, err)

	require.NoError(t, a.Authorize(owner, "vault_shield", creds, fields...))

	// cached key path
	require.NoError(t, a.Authorize(owner, "vault_shield", creds, fields...))

	fromBytes, err := OwnerIDFromBytes(creds.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, owner, fromBytes)

	t.Run("other method", func(t *testing.T) {
		assert.ErrorIs(t, a.Authorize(owner, "vault_unshield", creds, fields...), ErrBadSignature)
	})
	t.Run("tampered field", func(t *testing.T) {
		assert.ErrorIs(t, a.Authorize(owner, "vault_shield", creds, owner[:], []byte("payloae")), ErrBadSignature)
	})
	t.Run("other owner", func(t *testing.T) {
		var other types.Hash
		other[0] = 1
		assert.ErrorIs(t, a.Authorize(other, "vault_shield", creds, fields...), ErrOwnerMismatch)
	})
	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, a.Authorize(owner, "vault_shield", nil, fields...), ErrMissingCredentials)
		assert.ErrorIs(t, a.Authorize(owner, "vault_shield", &Credentials{PublicKey: creds.PublicKey}, fields...), ErrMissingCredentials)
	})
	t.Run("malformed key", func(t *testing.T) {
		bad := *creds
		bad.PublicKey = []byte{1, 2, 3}
		assert.ErrorIs(t, a.Authorize(owner, "vault_shield", &bad, fields...), ErrMalformedKey)
	})
}

func TestAuthorizeSkew(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a := NewAuthorizer(time.Minute, func() time.Time { return now })

	priv, pub, err := GenerateKey()
	require.NoError(t, err)
	owner, err := OwnerID(pub)
	require.NoError(t, err)

	for _, offset := range []int64{-60, 60} {
		creds, err := Sign(priv, "m", now.Unix()+offset)
		require.NoError(t, err)
		assert.NoError(t, a.Authorize(owner, "m", creds), "offset %d", offset)
	}
	for _, offset := range []int64{-61, 61} {
		creds, err := Sign(priv, "m", now.Unix()+offset)
		require.NoError(t, err)
		assert.ErrorIs(t, a.Authorize(owner, "m", creds), ErrStaleRequest, "offset %d", offset)
	}
}

func TestRequestDigestBoundaries(t *testing.T) {
	a := RequestDigest("m", 1, []byte("ab"), []byte("c"))
	b := RequestDigest("m", 1, []byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, RequestDigest("m", 1), RequestDigest("m", 2))
	assert.Equal(t, a, RequestDigest("m", 1, []byte("ab"), []byte("c")))
}

func TestKeyCache(t *testing.T) {
	a := NewAuthorizer(time.Minute, nil)
	require.NotNil(t, a.keys)
	assert.Equal(t, 0, a.keys.Len())

	assert.Panics(t, func() { mustKeyCache(0) })
}
