package cryptoutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"minichain/pkg/cryptoutil"
)

func TestBase58RoundTrip(t *testing.T) {
	payload := append([]byte{0x00}, cryptoutil.HashPubKey([]byte("some-public-key"))...)

	encoded := cryptoutil.Base58Encode(payload)
	decoded := cryptoutil.Base58Decode(encoded)

	require.Equal(t, payload, decoded)
}

func TestBase58LeadingZeroPreserved(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x01, 0x02, 0x03}

	decoded := cryptoutil.Base58Decode(cryptoutil.Base58Encode(payload))

	require.Equal(t, payload, decoded)
}

func TestHashPubKeyLength(t *testing.T) {
	h := cryptoutil.HashPubKey([]byte("any-key-material"))
	require.Len(t, h, 20)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pkcs8, pub, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("message to sign")
	sig, err := cryptoutil.Sign(pkcs8, msg)
	require.NoError(t, err)

	require.True(t, cryptoutil.Verify(pub, sig, msg))
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	pkcs8, pub, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("message to sign")
	sig, err := cryptoutil.Sign(pkcs8, msg)
	require.NoError(t, err)

	sig[0] ^= 0xFF
	require.False(t, cryptoutil.Verify(pub, sig, msg))
}

func TestVerifyNeverPanicsOnGarbage(t *testing.T) {
	require.False(t, cryptoutil.Verify(nil, nil, nil))
	require.False(t, cryptoutil.Verify([]byte{1, 2, 3}, []byte{4, 5}, []byte("x")))
}

func TestPublicKeyFromPKCS8MatchesGenerated(t *testing.T) {
	pkcs8, pub, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	derived, err := cryptoutil.PublicKeyFromPKCS8(pkcs8)
	require.NoError(t, err)
	require.Equal(t, pub, derived)
}
