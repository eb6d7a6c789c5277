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

func newTestTrust(t *testing.T) (*RootCAService, *TSAService) {
	t.Helper()

	store, err := storage.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	crypter, err := security.NewCrypter("test-app-key")
	require.NoError(t, err)

	logger := zap.NewNop()
	rootCA := NewRootCAService(store, crypter, logger)
	tsa := NewTSAService(store, crypter, rootCA, logger)
	return rootCA, tsa
}

func TestTSACertificateIssuedByRoot(t *testing.T) {
	rootCA, tsa := newTestTrust(t)
	ctx := context.Background()

	root, err := rootCA.GetRootCA(ctx)
	require.NoError(t, err)
	identity, err := tsa.GetTSA(ctx)
	require.NoError(t, err)

	assert.NoError(t, identity.Certificate.CheckSignatureFrom(root.Certificate))
	assert.False(t, identity.Degraded)
	assert.Contains(t, identity.Subject, "E-Signer TSA")
}

func TestIssueAndVerifyToken(t *testing.T) {
	_, tsa := newTestTrust(t)
	ctx := context.Background()

	hash := security.HashBytes([]byte("signed pdf bytes"))
	signedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	token, err := tsa.Issue(ctx, hash, signedAt)
	require.NoError(t, err)
	assert.Equal(t, hash, token.Hash)
	assert.Equal(t, "2026-03-14T09:26:53Z", token.SignedAt)
	assert.Equal(t, security.SignatureAlgorithm, token.Algorithm)
	assert.NotEmpty(t, token.Signature)

	result := tsa.VerifyToken(ctx, token, hash, "")
	assert.Equal(t, TokenValid, result.Status)
	assert.Empty(t, result.Reason)
	assert.Equal(t, token.SignedAt, result.SignedAt)
	assert.Equal(t, token.TSAFingerprint, result.TSAFingerprint)
}

func TestVerifyTokenMissingFields(t *testing.T) {
	_, tsa := newTestTrust(t)
	ctx := context.Background()

	result := tsa.VerifyToken(ctx, nil, "abc", "")
	assert.Equal(t, TokenInvalid, result.Status)
	assert.Equal(t, ReasonMissingFields, result.Reason)

	result = tsa.VerifyToken(ctx, &Token{Hash: "abc", SignedAt: "2026-01-01T00:00:00Z"}, "abc", "")
	assert.Equal(t, ReasonMissingFields, result.Reason)
}

func TestVerifyTokenHashMismatch(t *testing.T) {
	_, tsa := newTestTrust(t)
	ctx := context.Background()

	token, err := tsa.Issue(ctx, "aaaa", time.Now())
	require.NoError(t, err)

	result := tsa.VerifyToken(ctx, token, "bbbb", "")
	assert.Equal(t, TokenInvalid, result.Status)
	assert.Equal(t, ReasonHashMismatch, result.Reason)
}

func TestVerifyTokenTamperedSignedAt(t *testing.T) {
	_, tsa := newTestTrust(t)
	ctx := context.Background()

	token, err := tsa.Issue(ctx, "aaaa", time.Now())
	require.NoError(t, err)
	token.SignedAt = "2030-01-01T00:00:00Z"

	result := tsa.VerifyToken(ctx, token, "aaaa", "")
	assert.Equal(t, TokenInvalid, result.Status)
	assert.Equal(t, ReasonBadSignature, result.Reason)
}

// A token must stay verifiable against the certificate pinned at signing
// time even after the platform TSA identity changes.
func TestVerifyTokenPinnedCertSurvivesRotation(t *testing.T) {
	_, oldTSA := newTestTrust(t)
	ctx := context.Background()

	oldIdentity, err := oldTSA.GetTSA(ctx)
	require.NoError(t, err)
	token, err := oldTSA.Issue(ctx, "cafe", time.Now())
	require.NoError(t, err)

	// Fresh trust material simulates a rotated TSA.
	_, newTSA := newTestTrust(t)

	result := newTSA.VerifyToken(ctx, token, "cafe", "")
	assert.Equal(t, TokenInvalid, result.Status)
	assert.Equal(t, ReasonBadSignature, result.Reason)

	result = newTSA.VerifyToken(ctx, token, "cafe", oldIdentity.CertificatePEM)
	assert.Equal(t, TokenValid, result.Status)
	assert.Equal(t, oldIdentity.Fingerprint, result.TSAFingerprint)
}
