package pki

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/pkg/security"
)

const userCertLifetime = 365 * 24 * time.Hour

// Service manages per-user signing certificates. Each global user holds at
// most one certificate record; renewal rewrites it in place and revocation
// marks it without deleting the material.
type Service struct {
	repo    CertificateStore
	rootCA  *RootCAService
	crypter *security.Crypter
	logger  *zap.Logger
}

func NewService(repo CertificateStore, rootCA *RootCAService, crypter *security.Crypter, logger *zap.Logger) *Service {
	return &Service{repo: repo, rootCA: rootCA, crypter: crypter, logger: logger}
}

// EnsureForUser returns the user's certificate record, issuing one on first
// use. An existing record is returned as-is, revoked or expired included;
// callers that need usable material go through GetSigningCredentials.
func (s *Service) EnsureForUser(ctx context.Context, user User) (*UserCertificate, error) {
	existing, err := s.repo.GetByGlobalUserID(ctx, user.GlobalID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrCertificateNotFound) {
		return nil, err
	}

	record, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, record); err != nil {
		// Two concurrent first signatures race on the unique user row. The
		// loser adopts the winner's certificate.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return s.repo.GetByGlobalUserID(ctx, user.GlobalID)
		}
		return nil, err
	}

	s.logger.Info("issued user certificate",
		zap.String("global_user_id", user.GlobalID),
		zap.String("fingerprint", record.Fingerprint))
	return record, nil
}

func (s *Service) GetForUser(ctx context.Context, globalUserID string) (*UserCertificate, error) {
	return s.repo.GetByGlobalUserID(ctx, globalUserID)
}

// GetSigningCredentials ensures a certificate exists and decrypts its key
// material for one signing operation.
func (s *Service) GetSigningCredentials(ctx context.Context, user User) (*SigningCredentials, error) {
	record, err := s.EnsureForUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if record.RevokedAt != nil {
		return nil, ErrCertificateRevoked
	}

	keyPEM, err := s.crypter.DecryptString(record.PrivateKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}

	passphrase := ""
	if record.PassphraseEncrypted != nil {
		passphrase, err = s.crypter.DecryptString(*record.PassphraseEncrypted)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key passphrase: %w", err)
		}
	}

	key, err := parsePrivateKeyPEM(keyPEM, passphrase)
	if err != nil {
		return nil, err
	}
	cert, err := parseCertificatePEM(record.Certificate)
	if err != nil {
		return nil, err
	}

	creds := &SigningCredentials{
		CertificatePEM:     record.Certificate,
		Certificate:        cert,
		PrivateKey:         key,
		Passphrase:         passphrase,
		PublicKeyPEM:       record.PublicKey,
		Fingerprint:        record.Fingerprint,
		SignatureAlgorithm: record.SignatureAlgorithmKey,
	}
	if record.Subject != nil {
		creds.Subject = *record.Subject
	}
	if record.Serial != nil {
		creds.Serial = *record.Serial
	}
	return creds, nil
}

// RenewForUser issues fresh key material and rewrites the existing record,
// clearing any revocation. Documents signed under the old certificate keep
// verifying through their LTV snapshots.
func (s *Service) RenewForUser(ctx context.Context, user User) (*UserCertificate, error) {
	existing, err := s.repo.GetByGlobalUserID(ctx, user.GlobalID)
	if errors.Is(err, ErrCertificateNotFound) {
		return s.EnsureForUser(ctx, user)
	}
	if err != nil {
		return nil, err
	}

	fresh, err := s.issue(ctx, user)
	if err != nil {
		return nil, err
	}
	fresh.ID = existing.ID
	fresh.CreatedAt = existing.CreatedAt

	if err := s.repo.Update(ctx, fresh); err != nil {
		return nil, err
	}

	s.logger.Info("renewed user certificate",
		zap.String("global_user_id", user.GlobalID),
		zap.String("old_fingerprint", existing.Fingerprint),
		zap.String("new_fingerprint", fresh.Fingerprint))
	return fresh, nil
}

// RevokeForUser marks the user's certificate revoked. Revocation is
// permanent for the record; only a renewal produces usable material again.
func (s *Service) RevokeForUser(ctx context.Context, globalUserID, reason string) (*UserCertificate, error) {
	record, err := s.repo.GetByGlobalUserID(ctx, globalUserID)
	if err != nil {
		return nil, err
	}
	if record.RevokedAt != nil {
		return record, nil
	}

	now := time.Now().UTC()
	record.RevokedAt = &now
	if reason != "" {
		record.RevokedReason = &reason
	}
	record.UpdatedAt = now

	if err := s.repo.Update(ctx, record); err != nil {
		return nil, err
	}

	s.logger.Info("revoked user certificate",
		zap.String("global_user_id", globalUserID),
		zap.String("reason", reason))
	return record, nil
}

func (s *Service) issue(ctx context.Context, user User) (*UserCertificate, error) {
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
		CommonName:   user.Name,
		Organization: []string{"E-Signer"},
		Country:      []string{"ID"},
	}, serial, now, now.Add(userCertLifetime), []x509.ExtKeyUsage{
		x509.ExtKeyUsageEmailProtection,
		x509.ExtKeyUsageClientAuth,
	})
	if user.Email != "" {
		template.EmailAddresses = []string{user.Email}
	}

	parent := template
	signerKey := key
	root, err := s.rootCA.GetRootCA(ctx)
	if err == nil && root.PrivateKey != nil {
		parent = root.Certificate
		signerKey = root.PrivateKey
	} else {
		s.logger.Warn("root CA unavailable, issuing self-signed user certificate",
			zap.String("global_user_id", user.GlobalID), zap.Error(err))
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to issue user certificate: %w", err)
	}
	certPEM := encodeCertificatePEM(der)

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to re-parse issued certificate: %w", err)
	}

	passphrase, err := randomPassphrase()
	if err != nil {
		return nil, err
	}
	keyPEM, encrypted, err := encodePrivateKeyPEM(key, passphrase)
	if err != nil {
		return nil, err
	}
	if !encrypted {
		passphrase = ""
		s.logger.Warn("exported user key without passphrase envelope",
			zap.String("global_user_id", user.GlobalID))
	}

	keyBlob, err := s.crypter.EncryptString(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt private key: %w", err)
	}

	var passBlob *string
	if passphrase != "" {
		sealed, err := s.crypter.EncryptString(passphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt passphrase: %w", err)
		}
		passBlob = &sealed
	}

	pubPEM, err := encodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	subject := formatName(cert.Subject)
	issuer := formatName(cert.Issuer)
	serialText := cert.SerialNumber.Text(16)
	validFrom := cert.NotBefore
	validTo := cert.NotAfter

	return &UserCertificate{
		ID:                    uuid.New(),
		GlobalUserID:          user.GlobalID,
		PublicKey:             pubPEM,
		Certificate:           certPEM,
		Fingerprint:           security.Fingerprint(certPEM),
		Serial:                &serialText,
		Subject:               &subject,
		Issuer:                &issuer,
		ValidFrom:             &validFrom,
		ValidTo:               &validTo,
		PrivateKeyEncrypted:   keyBlob,
		PassphraseEncrypted:   passBlob,
		KeyAlgorithm:          "RSA-2048",
		SignatureAlgorithmKey: security.SignatureAlgorithm,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}
