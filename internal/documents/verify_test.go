package documents

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rifqiyafik/E-signApp/internal/pki"
)

func signedTwice(t *testing.T, env *testEnv) (*Document, *Version) {
	t.Helper()
	ctx := context.Background()

	doc := env.uploadAndAssign(t, "signer-1", "signer-2")
	_, _, _, err := env.svc.Sign(ctx, signer1, doc.ID, "", "approval")
	require.NoError(t, err)
	_, v2, _, err := env.svc.Sign(ctx, signer2, doc.ID, "", "approval")
	require.NoError(t, err)
	return doc, v2
}

func TestVerifyByUploadHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, v2 := signedTwice(t, env)
	artifact, err := env.blob.Get(ctx, v2.PDFPath)
	require.NoError(t, err)

	verdict, err := env.verifier.VerifyByUpload(ctx, artifact)
	require.NoError(t, err)

	assert.True(t, verdict.Valid)
	require.NotNil(t, verdict.SignatureValid)
	assert.True(t, *verdict.SignatureValid)
	assert.Equal(t, pki.CertStatusValid, verdict.CertificateStatus)
	assert.NotEmpty(t, verdict.RootCAFingerprint)
	assert.Equal(t, pki.TokenValid, verdict.TSAStatus)
	assert.NotEmpty(t, verdict.TSASignedAt)
	assert.Equal(t, LTVReady, verdict.LTVStatus)
	assert.Empty(t, verdict.LTVIssues)

	require.NotNil(t, verdict.Payload)
	assert.Equal(t, doc.ChainID, verdict.ChainID)
	assert.Equal(t, 2, verdict.VersionNumber)
	assert.Equal(t, v2.PDFSHA256, verdict.SignedPDFSHA256)
	require.Len(t, verdict.Signers, 2)
	assert.Equal(t, SignerSigned, verdict.Signers[0].Status)
	assert.Equal(t, SignerSigned, verdict.Signers[1].Status)
}

func TestVerifyByReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, _ := signedTwice(t, env)

	verdict, err := env.verifier.VerifyByReference(ctx, doc.ChainID, 1)
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
	assert.Equal(t, 1, verdict.VersionNumber)

	_, err = env.verifier.VerifyByReference(ctx, "01UNKNOWNCHAIN000000000000", 1)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = env.verifier.VerifyByReference(ctx, doc.ChainID, 7)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	// The unsigned draft carries no signature or timestamp material.
	verdict, err = env.verifier.VerifyByReference(ctx, doc.ChainID, 0)
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Nil(t, verdict.SignatureValid)
	assert.Equal(t, TSAStatusMissing, verdict.TSAStatus)
	assert.Equal(t, LTVMissing, verdict.LTVStatus)
}

// When several version rows share a digest, the lookup resolves to the most
// recently created one.
func TestVerifyByUploadPrefersNewestVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.UploadDraft(ctx, owner, "First", "first.pdf", draftPDF, nil)
	require.NoError(t, err)

	env.clock = env.clock.Add(time.Minute)
	second, err := env.svc.UploadDraft(ctx, owner, "Second", "second.pdf", draftPDF, nil)
	require.NoError(t, err)

	verdict, err := env.verifier.VerifyByUpload(ctx, draftPDF)
	require.NoError(t, err)
	require.NotNil(t, verdict.Payload)
	assert.Equal(t, second.ID.String(), verdict.DocumentID)
}

func TestVerifyByUploadUnknownHash(t *testing.T) {
	env := newTestEnv(t)

	verdict, err := env.verifier.VerifyByUpload(context.Background(), []byte("%PDF-1.7 never signed"))
	require.NoError(t, err)

	assert.False(t, verdict.Valid)
	assert.Equal(t, ReasonHashNotFound, verdict.Reason)
	assert.Nil(t, verdict.Payload)
}

func TestVerifyFileForVersionMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, v2 := signedTwice(t, env)

	verdict, err := env.verifier.VerifyFileForVersion(ctx, doc.ChainID, 2, []byte("%PDF-1.7 tampered"))
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Equal(t, ReasonHashMismatch, verdict.Reason)
	assert.NotEmpty(t, verdict.SignedPDFSHA256)
	assert.Equal(t, v2.PDFSHA256, verdict.ExpectedSignedPDFSHA256)
	assert.Nil(t, verdict.Payload)

	artifact, err := env.blob.Get(ctx, v2.PDFPath)
	require.NoError(t, err)
	verdict, err = env.verifier.VerifyFileForVersion(ctx, doc.ChainID, 2, artifact)
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
}

// Revocation flips the verdict immediately: the detached signature still
// checks out but the certificate is no longer trustworthy.
func TestVerifyAfterRevocation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, _ := signedTwice(t, env)
	_, err := env.certs.RevokeForUser(ctx, "signer-2", "left the company")
	require.NoError(t, err)

	verdict, err := env.verifier.VerifyByReference(ctx, doc.ChainID, 2)
	require.NoError(t, err)

	assert.False(t, verdict.Valid)
	require.NotNil(t, verdict.SignatureValid)
	assert.True(t, *verdict.SignatureValid)
	assert.Equal(t, pki.CertStatusRevoked, verdict.CertificateStatus)
	assert.NotEmpty(t, verdict.CertificateRevokedAt)
	assert.Equal(t, pki.TokenValid, verdict.TSAStatus)

	// Version 1 belongs to a different signer and stays valid.
	verdict, err = env.verifier.VerifyByReference(ctx, doc.ChainID, 1)
	require.NoError(t, err)
	assert.True(t, verdict.Valid)
}

// After a renewal the live key no longer matches old signatures; the
// timestamp proof still verifies through the snapshot-pinned TSA material.
func TestVerifyAfterRenewal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	doc, _ := signedTwice(t, env)
	_, err := env.certs.RenewForUser(ctx, pki.User{GlobalID: "signer-2", Name: "Signer Two", Email: "s2@example.com"})
	require.NoError(t, err)

	verdict, err := env.verifier.VerifyByReference(ctx, doc.ChainID, 2)
	require.NoError(t, err)

	assert.False(t, verdict.Valid)
	require.NotNil(t, verdict.SignatureValid)
	assert.False(t, *verdict.SignatureValid)
	assert.Equal(t, pki.CertStatusValid, verdict.CertificateStatus)
	assert.Equal(t, pki.TokenValid, verdict.TSAStatus)
	assert.Equal(t, LTVReady, verdict.LTVStatus)
}

func TestVerdictJSONShape(t *testing.T) {
	failure := &Verdict{Valid: false, Reason: ReasonHashNotFound}
	data, err := json.Marshal(failure)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["valid"])
	assert.Equal(t, ReasonHashNotFound, decoded["reason"])
	assert.Nil(t, decoded["signatureValid"])
	assert.NotContains(t, decoded, "documentId")
	assert.NotContains(t, decoded, "signers")
}
