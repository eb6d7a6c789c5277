package security

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetachedSignatureRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	data := []byte("%PDF-1.7 signed artifact")
	sig, err := SignDetached(key, data)
	require.NoError(t, err)

	ok, err := VerifyDetached(&key.PublicKey, data, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDetachedSignatureTamperedData(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sig, err := SignDetached(key, []byte("original"))
	require.NoError(t, err)

	ok, err := VerifyDetached(&key.PublicKey, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDetachedSignatureWrongKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sig, err := SignDetached(key, []byte("data"))
	require.NoError(t, err)

	ok, err := VerifyDetached(&other.PublicKey, []byte("data"), sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyDetachedMalformedBase64(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	_, err = VerifyDetached(&key.PublicKey, []byte("data"), "@@not-base64@@")
	assert.ErrorIs(t, err, ErrMalformedSignature)
}

func TestFingerprintIsDigestOfPEMText(t *testing.T) {
	a := Fingerprint("-----BEGIN CERTIFICATE-----\nAAA\n-----END CERTIFICATE-----")
	b := Fingerprint("-----BEGIN CERTIFICATE-----\nAAB\n-----END CERTIFICATE-----")

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Fingerprint("-----BEGIN CERTIFICATE-----\nAAA\n-----END CERTIFICATE-----"))
}
