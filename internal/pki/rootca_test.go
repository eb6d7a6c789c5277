package pki

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/pkg/security"
	"github.com/rifqiyafik/E-signApp/pkg/storage"
)

func TestRootCAProperties(t *testing.T) {
	rootCA, _ := newTestTrust(t)

	identity, err := rootCA.GetRootCA(context.Background())
	require.NoError(t, err)

	assert.True(t, identity.Certificate.IsCA)
	assert.Contains(t, identity.Subject, "E-Signer Root CA")
	assert.NoError(t, identity.Certificate.CheckSignatureFrom(identity.Certificate))
	assert.Equal(t, security.Fingerprint(identity.CertificatePEM), identity.Fingerprint)

	lifetime := identity.ValidTo.Sub(identity.ValidFrom)
	assert.InDelta(t, rootCALifetime.Hours(), lifetime.Hours(), 1)
}

// Two service instances over the same storage must agree on one trust root.
func TestRootCAPersistsAcrossInstances(t *testing.T) {
	store, err := storage.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	crypter, err := security.NewCrypter("test-app-key")
	require.NoError(t, err)
	logger := zap.NewNop()
	ctx := context.Background()

	first, err := NewRootCAService(store, crypter, logger).GetRootCA(ctx)
	require.NoError(t, err)
	second, err := NewRootCAService(store, crypter, logger).GetRootCA(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.CertificatePEM, second.CertificatePEM)
}

func TestRootCAKeyStoredEncrypted(t *testing.T) {
	store, err := storage.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	crypter, err := security.NewCrypter("test-app-key")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = NewRootCAService(store, crypter, zap.NewNop()).GetRootCA(ctx)
	require.NoError(t, err)

	blob, err := store.Get(ctx, "pki/root_ca.key")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "PRIVATE KEY")

	keyPEM, err := crypter.DecryptString(string(blob))
	require.NoError(t, err)
	assert.Contains(t, keyPEM, "PRIVATE KEY")
}

func TestIssuedByRoot(t *testing.T) {
	rootCA, tsa := newTestTrust(t)
	otherRoot, _ := newTestTrust(t)
	ctx := context.Background()

	identity, err := tsa.GetTSA(ctx)
	require.NoError(t, err)

	trusted, err := rootCA.IssuedByRoot(ctx, identity.Certificate)
	require.NoError(t, err)
	assert.True(t, trusted)

	trusted, err = otherRoot.IssuedByRoot(ctx, identity.Certificate)
	require.NoError(t, err)
	assert.False(t, trusted)

	status, err := rootCA.EvaluateCertificate(ctx, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, CertStatusMissing, status)
}
