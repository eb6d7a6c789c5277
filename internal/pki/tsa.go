package pki

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/pkg/security"
	"github.com/rifqiyafik/E-signApp/pkg/storage"
)

const (
	tsaCertPath = "pki/tsa_cert.pem"
	tsaKeyPath  = "pki/tsa_key.pem"

	tsaLifetime = 5 * 365 * 24 * time.Hour
)

// TSAService issues and verifies timestamp tokens with a dedicated TSA
// identity issued by the root CA. Tokens sign the pair "hash|signedAt", so a
// token vouches for one document hash at one instant.
type TSAService struct {
	storage storage.Client
	crypter *security.Crypter
	rootCA  *RootCAService
	logger  *zap.Logger

	mu     sync.Mutex
	cached *CAIdentity
}

func NewTSAService(store storage.Client, crypter *security.Crypter, rootCA *RootCAService, logger *zap.Logger) *TSAService {
	return &TSAService{storage: store, crypter: crypter, rootCA: rootCA, logger: logger}
}

// GetTSA returns the TSA identity, generating it on first call.
func (s *TSAService) GetTSA(ctx context.Context) (*CAIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached, nil
	}

	exists, err := s.storage.Exists(ctx, tsaCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check TSA existence: %w", err)
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

// Issue mints a token binding hash to signedAt.
func (s *TSAService) Issue(ctx context.Context, hash string, signedAt time.Time) (*Token, error) {
	identity, err := s.GetTSA(ctx)
	if err != nil {
		return nil, err
	}

	stamp := signedAt.UTC().Format(time.RFC3339)
	signature, err := security.SignDetached(identity.PrivateKey, []byte(hash+"|"+stamp))
	if err != nil {
		return nil, fmt.Errorf("failed to sign timestamp token: %w", err)
	}

	return &Token{
		Hash:           hash,
		SignedAt:       stamp,
		Signature:      signature,
		Algorithm:      security.SignatureAlgorithm,
		TSAFingerprint: identity.Fingerprint,
	}, nil
}

// VerifyToken checks a token against an expected hash. pinnedCertPEM, when
// non-empty, is the TSA certificate captured at signing time; verifying
// against it keeps old tokens valid across TSA rotation. An invalid token is
// a verdict, never an error.
func (s *TSAService) VerifyToken(ctx context.Context, token *Token, expectedHash, pinnedCertPEM string) TokenVerification {
	if token == nil || token.Hash == "" || token.SignedAt == "" || token.Signature == "" {
		return TokenVerification{Status: TokenInvalid, Reason: ReasonMissingFields}
	}
	if expectedHash != "" && token.Hash != expectedHash {
		return TokenVerification{Status: TokenInvalid, Reason: ReasonHashMismatch}
	}

	certPEM := pinnedCertPEM
	if certPEM == "" {
		identity, err := s.GetTSA(ctx)
		if err != nil {
			return TokenVerification{Status: TokenInvalid, Reason: ReasonTSAKeyMissing}
		}
		certPEM = identity.CertificatePEM
	}

	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return TokenVerification{Status: TokenInvalid, Reason: ReasonTSAKeyMissing}
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return TokenVerification{Status: TokenInvalid, Reason: ReasonTSAKeyMissing}
	}

	valid, err := security.VerifyDetached(pub, []byte(token.Hash+"|"+token.SignedAt), token.Signature)
	if err != nil || !valid {
		return TokenVerification{Status: TokenInvalid, Reason: ReasonBadSignature}
	}

	return TokenVerification{
		Status:         TokenValid,
		SignedAt:       token.SignedAt,
		TSAFingerprint: security.Fingerprint(certPEM),
	}
}

func (s *TSAService) load(ctx context.Context) (*CAIdentity, error) {
	certPEM, err := s.storage.Get(ctx, tsaCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read TSA certificate: %w", err)
	}

	keyBlob, err := s.storage.Get(ctx, tsaKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read TSA key: %w", err)
	}
	keyPEM, err := s.crypter.DecryptString(string(keyBlob))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt TSA key: %w", err)
	}

	identity, err := buildCAIdentity(string(certPEM), keyPEM)
	if err != nil {
		return nil, err
	}
	identity.Degraded = identity.Certificate.CheckSignatureFrom(identity.Certificate) == nil
	return identity, nil
}

func (s *TSAService) generate(ctx context.Context) (*CAIdentity, error) {
	key, err := generateKey()
	if err != nil {
		return nil, err
	}
	serial, err := newSerialNumber()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	template := leafTemplate(pkix.Name{
		CommonName:   "E-Signer TSA",
		Organization: []string{"E-Signer"},
		Country:      []string{"ID"},
	}, serial, now, now.Add(tsaLifetime), []x509.ExtKeyUsage{x509.ExtKeyUsageTimeStamping})

	parent := template
	signerKey := key
	degraded := false

	root, err := s.rootCA.GetRootCA(ctx)
	if err == nil && root.PrivateKey != nil {
		parent = root.Certificate
		signerKey = root.PrivateKey
	} else {
		// Falling back to a self-signed TSA keeps timestamping available
		// while the root CA is unusable. Verifiers will report the chain as
		// untrusted until the TSA is re-issued.
		degraded = true
		s.logger.Warn("root CA unavailable, issuing self-signed TSA certificate", zap.Error(err))
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to issue TSA certificate: %w", err)
	}
	certPEM := encodeCertificatePEM(der)

	keyPEM, _, err := encodePrivateKeyPEM(key, "")
	if err != nil {
		return nil, err
	}
	keyBlob, err := s.crypter.EncryptString(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt TSA key: %w", err)
	}

	created, err := s.storage.PutIfAbsent(ctx, tsaKeyPath, []byte(keyBlob))
	if err != nil {
		return nil, fmt.Errorf("failed to store TSA key: %w", err)
	}
	if !created {
		return s.awaitCertificate(ctx)
	}

	if err := s.storage.Put(ctx, tsaCertPath, []byte(certPEM)); err != nil {
		return nil, fmt.Errorf("failed to store TSA certificate: %w", err)
	}

	s.logger.Info("generated TSA certificate",
		zap.String("fingerprint", security.Fingerprint(certPEM)),
		zap.Bool("degraded", degraded))

	identity, err := buildCAIdentity(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	identity.Degraded = degraded
	return identity, nil
}

func (s *TSAService) awaitCertificate(ctx context.Context) (*CAIdentity, error) {
	for i := 0; i < 20; i++ {
		exists, err := s.storage.Exists(ctx, tsaCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to check TSA existence: %w", err)
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
