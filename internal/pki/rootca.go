package pki

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/pkg/security"
	"github.com/rifqiyafik/E-signApp/pkg/storage"
)

// Certificate trust statuses, ordered by severity. Evaluation short-circuits
// on the first failing check.
const (
	CertStatusMissing     = "missing"
	CertStatusRevoked     = "revoked"
	CertStatusNotYetValid = "not_yet_valid"
	CertStatusExpired     = "expired"
	CertStatusUntrusted   = "untrusted"
	CertStatusValid       = "valid"
)

const (
	rootCACertPath = "pki/root_ca.pem"
	rootCAKeyPath  = "pki/root_ca.key"

	rootCALifetime = 10 * 365 * 24 * time.Hour
)

// RootCAService owns the platform root certificate authority. The CA is
// generated lazily on first use and cached for the process lifetime. The
// private key is stored encrypted; only the certificate PEM is ever exposed
// over the API.
type RootCAService struct {
	storage storage.Client
	crypter *security.Crypter
	logger  *zap.Logger

	mu     sync.Mutex
	cached *CAIdentity
}

func NewRootCAService(store storage.Client, crypter *security.Crypter, logger *zap.Logger) *RootCAService {
	return &RootCAService{storage: store, crypter: crypter, logger: logger}
}

// GetRootCA returns the root CA identity, generating it on first call.
func (s *RootCAService) GetRootCA(ctx context.Context) (*CAIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached, nil
	}

	exists, err := s.storage.Exists(ctx, rootCACertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check root CA existence: %w", err)
	}

	var identity *CAIdentity
	if exists {
		identity, err = s.load(ctx)
	} else {
		identity, err = s.generate(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.cached = identity
	return identity, nil
}

// CertificatePEM returns only the public half of the root CA, for
// distribution to verifiers.
func (s *RootCAService) CertificatePEM(ctx context.Context) (string, error) {
	identity, err := s.GetRootCA(ctx)
	if err != nil {
		return "", err
	}
	return identity.CertificatePEM, nil
}

// IssuedByRoot reports whether cert carries a valid signature from the root
// CA. Expiry and revocation are evaluated separately.
func (s *RootCAService) IssuedByRoot(ctx context.Context, cert *x509.Certificate) (bool, error) {
	identity, err := s.GetRootCA(ctx)
	if err != nil {
		return false, err
	}
	return cert.CheckSignatureFrom(identity.Certificate) == nil, nil
}

// EvaluateCertificate computes the trust status of a stored user certificate
// against the root CA. Checks run in severity order and stop at the first
// failure, so a revoked expired certificate reports revoked.
func (s *RootCAService) EvaluateCertificate(ctx context.Context, record *UserCertificate, now time.Time) (string, error) {
	if record == nil {
		return CertStatusMissing, nil
	}
	if record.RevokedAt != nil {
		return CertStatusRevoked, nil
	}

	cert, err := parseCertificatePEM(record.Certificate)
	if err != nil {
		return CertStatusUntrusted, nil
	}
	if now.Before(cert.NotBefore) {
		return CertStatusNotYetValid, nil
	}
	if now.After(cert.NotAfter) {
		return CertStatusExpired, nil
	}

	trusted, err := s.IssuedByRoot(ctx, cert)
	if err != nil {
		return "", err
	}
	if !trusted {
		return CertStatusUntrusted, nil
	}
	return CertStatusValid, nil
}

func (s *RootCAService) load(ctx context.Context) (*CAIdentity, error) {
	certPEM, err := s.storage.Get(ctx, rootCACertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read root CA certificate: %w", err)
	}

	keyBlob, err := s.storage.Get(ctx, rootCAKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read root CA key: %w", err)
	}
	keyPEM, err := s.crypter.DecryptString(string(keyBlob))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt root CA key: %w", err)
	}

	return buildCAIdentity(string(certPEM), keyPEM)
}

// generate creates the root CA. The encrypted key blob is written first with
// first-writer-wins semantics; whichever process creates the key also writes
// the matching certificate, and everyone else waits for it to appear.
func (s *RootCAService) generate(ctx context.Context) (*CAIdentity, error) {
	key, err := generateKey()
	if err != nil {
		return nil, err
	}

	serial, err := newSerialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template := caTemplate(pkix.Name{
		CommonName:   "E-Signer Root CA",
		Organization: []string{"E-Signer"},
		Country:      []string{"ID"},
	}, serial, now, now.Add(rootCALifetime))

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to self-sign root CA: %w", err)
	}
	certPEM := encodeCertificatePEM(der)

	keyPEM, _, err := encodePrivateKeyPEM(key, "")
	if err != nil {
		return nil, err
	}
	keyBlob, err := s.crypter.EncryptString(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt root CA key: %w", err)
	}

	created, err := s.storage.PutIfAbsent(ctx, rootCAKeyPath, []byte(keyBlob))
	if err != nil {
		return nil, fmt.Errorf("failed to store root CA key: %w", err)
	}
	if !created {
		// Another process won the generation race. Its certificate follows
		// the key write shortly; poll for it instead of forking the trust
		// root.
		return s.awaitCertificate(ctx)
	}

	if err := s.storage.Put(ctx, rootCACertPath, []byte(certPEM)); err != nil {
		return nil, fmt.Errorf("failed to store root CA certificate: %w", err)
	}

	s.logger.Info("generated root CA",
		zap.String("fingerprint", security.Fingerprint(certPEM)),
		zap.Time("valid_to", template.NotAfter))

	return buildCAIdentity(certPEM, keyPEM)
}

func (s *RootCAService) awaitCertificate(ctx context.Context) (*CAIdentity, error) {
	for i := 0; i < 20; i++ {
		exists, err := s.storage.Exists(ctx, rootCACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to check root CA existence: %w", err)
		}
		if exists {
			return s.load(ctx)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil, ErrCAUnavailable
}

func buildCAIdentity(certPEM, keyPEM string) (*CAIdentity, error) {
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, err := parsePrivateKeyPEM(keyPEM, "")
	if err != nil {
		return nil, err
	}

	return &CAIdentity{
		CertificatePEM: certPEM,
		Certificate:    cert,
		PrivateKey:     key,
		Fingerprint:    security.Fingerprint(certPEM),
		Subject:        formatName(cert.Subject),
		ValidFrom:      cert.NotBefore,
		ValidTo:        cert.NotAfter,
	}, nil
}
