package pki

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/pkg/security"
	"github.com/rifqiyafik/E-signApp/pkg/storage"
)

type memCertStore struct {
	mu      sync.Mutex
	records map[string]*UserCertificate
}

func newMemCertStore() *memCertStore {
	return &memCertStore{records: map[string]*UserCertificate{}}
}

func (m *memCertStore) GetByGlobalUserID(_ context.Context, id string) (*UserCertificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, ErrCertificateNotFound
	}
	copied := *record
	return &copied, nil
}

func (m *memCertStore) Create(_ context.Context, cert *UserCertificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *cert
	m.records[cert.GlobalUserID] = &copied
	return nil
}

func (m *memCertStore) Update(_ context.Context, cert *UserCertificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[cert.GlobalUserID]; !ok {
		return ErrCertificateNotFound
	}
	copied := *cert
	m.records[cert.GlobalUserID] = &copied
	return nil
}

func newTestCertService(t *testing.T) (*Service, *RootCAService) {
	t.Helper()

	store, err := storage.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	crypter, err := security.NewCrypter("test-app-key")
	require.NoError(t, err)

	logger := zap.NewNop()
	rootCA := NewRootCAService(store, crypter, logger)
	return NewService(newMemCertStore(), rootCA, crypter, logger), rootCA
}

var testUser = User{GlobalID: "user-1", Name: "Rina Wijaya", Email: "rina@example.com"}

func TestEnsureForUserIssuesOnce(t *testing.T) {
	svc, _ := newTestCertService(t)
	ctx := context.Background()

	first, err := svc.EnsureForUser(ctx, testUser)
	require.NoError(t, err)
	second, err := svc.EnsureForUser(ctx, testUser)
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "RSA-2048", first.KeyAlgorithm)
	assert.Equal(t, security.SignatureAlgorithm, first.SignatureAlgorithmKey)
}

func TestSigningCredentialsRoundTrip(t *testing.T) {
	svc, rootCA := newTestCertService(t)
	ctx := context.Background()

	creds, err := svc.GetSigningCredentials(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, creds.PrivateKey)
	require.NotNil(t, creds.Certificate)

	root, err := rootCA.GetRootCA(ctx)
	require.NoError(t, err)
	assert.NoError(t, creds.Certificate.CheckSignatureFrom(root.Certificate))

	// Key and certificate must belong together.
	data := []byte("sign me")
	sig, err := security.SignDetached(creds.PrivateKey, data)
	require.NoError(t, err)
	pub, err := RSAPublicKey(creds.Certificate)
	require.NoError(t, err)
	ok, err := security.VerifyDetached(pub, data, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRevokeBlocksSigning(t *testing.T) {
	svc, rootCA := newTestCertService(t)
	ctx := context.Background()

	_, err := svc.EnsureForUser(ctx, testUser)
	require.NoError(t, err)

	record, err := svc.RevokeForUser(ctx, testUser.GlobalID, "key compromised")
	require.NoError(t, err)
	require.NotNil(t, record.RevokedAt)
	assert.Equal(t, "key compromised", *record.RevokedReason)

	_, err = svc.GetSigningCredentials(ctx, testUser)
	assert.ErrorIs(t, err, ErrCertificateRevoked)

	status, err := rootCA.EvaluateCertificate(ctx, record, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, CertStatusRevoked, status)
}

func TestRevokeIsIdempotent(t *testing.T) {
	svc, _ := newTestCertService(t)
	ctx := context.Background()

	_, err := svc.EnsureForUser(ctx, testUser)
	require.NoError(t, err)

	first, err := svc.RevokeForUser(ctx, testUser.GlobalID, "reason one")
	require.NoError(t, err)
	second, err := svc.RevokeForUser(ctx, testUser.GlobalID, "reason two")
	require.NoError(t, err)

	assert.Equal(t, first.RevokedAt.Unix(), second.RevokedAt.Unix())
	assert.Equal(t, "reason one", *second.RevokedReason)
}

func TestRenewReplacesMaterial(t *testing.T) {
	svc, _ := newTestCertService(t)
	ctx := context.Background()

	original, err := svc.EnsureForUser(ctx, testUser)
	require.NoError(t, err)
	_, err = svc.RevokeForUser(ctx, testUser.GlobalID, "rotation")
	require.NoError(t, err)

	renewed, err := svc.RenewForUser(ctx, testUser)
	require.NoError(t, err)

	assert.Equal(t, original.ID, renewed.ID)
	assert.NotEqual(t, original.Fingerprint, renewed.Fingerprint)
	assert.Nil(t, renewed.RevokedAt)

	_, err = svc.GetSigningCredentials(ctx, testUser)
	assert.NoError(t, err)
}

func TestEvaluateCertificateStatuses(t *testing.T) {
	svc, rootCA := newTestCertService(t)
	ctx := context.Background()

	status, err := rootCA.EvaluateCertificate(ctx, nil, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, CertStatusMissing, status)

	record, err := svc.EnsureForUser(ctx, testUser)
	require.NoError(t, err)

	status, err = rootCA.EvaluateCertificate(ctx, record, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, CertStatusValid, status)

	status, err = rootCA.EvaluateCertificate(ctx, record, time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, CertStatusNotYetValid, status)

	status, err = rootCA.EvaluateCertificate(ctx, record, time.Now().UTC().Add(2*userCertLifetime))
	require.NoError(t, err)
	assert.Equal(t, CertStatusExpired, status)
}

// A certificate from a different trust root must evaluate as untrusted even
// while inside its validity window.
func TestEvaluateCertificateUntrusted(t *testing.T) {
	foreignSvc, _ := newTestCertService(t)
	_, localRoot := newTestCertService(t)
	ctx := context.Background()

	foreign, err := foreignSvc.EnsureForUser(ctx, testUser)
	require.NoError(t, err)

	status, err := localRoot.EvaluateCertificate(ctx, foreign, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, CertStatusUntrusted, status)
}
