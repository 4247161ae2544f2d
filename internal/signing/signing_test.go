package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, seed byte) *Key {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	key, err := FromSeed(raw)
	require.NoError(t, err)
	return key
}

func TestSignVerify(t *testing.T) {
	key := testKey(t, 1)

	t.Run("roundtrip", func(t *testing.T) {
		raw := []byte(`{"_t":"kyc.Document","subject":"acct-1","score":42}`)
		sig, err := key.Sign(raw)
		require.NoError(t, err)

		pub, err := Verify(raw, sig)
		require.NoError(t, err)
		assert.Equal(t, key.Pub, pub)
	})

	t.Run("signature string carries the verification key", func(t *testing.T) {
		raw := []byte(`{"_t":"kyc.Document","v":1}`)
		sig, err := key.Sign(raw)
		require.NoError(t, err)

		pub, err := SigPubKey(sig)
		require.NoError(t, err)
		assert.Equal(t, key.Pub, pub)
	})

	t.Run("verification is independent of key order", func(t *testing.T) {
		sig, err := key.Sign([]byte(`{"_t":"kyc.Document","a":1,"b":2}`))
		require.NoError(t, err)

		_, err = Verify([]byte(`{"b":2,"a":1,"_t":"kyc.Document"}`), sig)
		assert.NoError(t, err)
	})

	t.Run("signature covers the signature-free canonical form", func(t *testing.T) {
		raw := []byte(`{"_t":"kyc.Document","v":1}`)
		sig, err := key.Sign(raw)
		require.NoError(t, err)

		// Verifying the document with the signature attached must still
		// succeed: `_s` is excluded from the signed bytes.
		withSig := []byte(`{"_t":"kyc.Document","v":1,"_s":"` + sig + `"}`)
		_, err = Verify(withSig, sig)
		assert.NoError(t, err)
	})

	t.Run("virtual fields are not signed", func(t *testing.T) {
		sig, err := key.Sign([]byte(`{"_t":"kyc.Document","v":1}`))
		require.NoError(t, err)

		_, err = Verify([]byte(`{"_t":"kyc.Document","v":1,"_link":"whatever","_author":"someone"}`), sig)
		assert.NoError(t, err)
	})

	t.Run("tampered content fails", func(t *testing.T) {
		sig, err := key.Sign([]byte(`{"_t":"kyc.Document","v":1}`))
		require.NoError(t, err)

		_, err = Verify([]byte(`{"_t":"kyc.Document","v":2}`), sig)
		assert.Error(t, err)
	})

	t.Run("verify reports the actual signer", func(t *testing.T) {
		raw := []byte(`{"_t":"kyc.Document","v":1}`)
		other := testKey(t, 2)
		sig, err := other.Sign(raw)
		require.NoError(t, err)

		pub, err := Verify(raw, sig)
		require.NoError(t, err)
		assert.Equal(t, other.Pub, pub)
		assert.NotEqual(t, key.Pub, pub)
	})

	t.Run("malformed signature string", func(t *testing.T) {
		_, err := Verify([]byte(`{"_t":"x"}`), "not-a-signature")
		assert.Error(t, err)
	})
}

func TestLinkOf(t *testing.T) {
	t.Run("deterministic across key order", func(t *testing.T) {
		a, err := LinkOf([]byte(`{"_t":"kyc.Document","x":1,"y":"z"}`))
		require.NoError(t, err)
		b, err := LinkOf([]byte(`{"y":"z","x":1,"_t":"kyc.Document"}`))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("signature participates in the link", func(t *testing.T) {
		a, err := LinkOf([]byte(`{"_t":"kyc.Document","x":1}`))
		require.NoError(t, err)
		b, err := LinkOf([]byte(`{"_t":"kyc.Document","x":1,"_s":"sig"}`))
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("virtual fields do not", func(t *testing.T) {
		a, err := LinkOf([]byte(`{"_t":"kyc.Document","x":1}`))
		require.NoError(t, err)
		b, err := LinkOf([]byte(`{"_t":"kyc.Document","x":1,"_link":"l","_inbound":true}`))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestCanonical(t *testing.T) {
	canonical, err := Canonical([]byte(`{"_t":"m","_s":"sig","_seq":3,"_link":"l","data":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"_t":"m","_seq":3,"data":1}`, string(canonical))
}
