package pki

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CertificateStore is the persistence surface for user certificate records.
type CertificateStore interface {
	GetByGlobalUserID(ctx context.Context, globalUserID string) (*UserCertificate, error)
	Create(ctx context.Context, cert *UserCertificate) error
	Update(ctx context.Context, cert *UserCertificate) error
}

// Repository persists the single active certificate record per global user.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByGlobalUserID(ctx context.Context, globalUserID string) (*UserCertificate, error) {
	var cert UserCertificate
	err := r.db.GetContext(ctx, &cert, `
		SELECT * FROM user_certificates WHERE global_user_id = $1`, globalUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCertificateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user certificate: %w", err)
	}
	return &cert, nil
}

func (r *Repository) Create(ctx context.Context, cert *UserCertificate) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO user_certificates (
			id, global_user_id, public_key, certificate, certificate_fingerprint,
			certificate_serial, certificate_subject, certificate_issuer,
			valid_from, valid_to, private_key_encrypted, private_key_passphrase_encrypted,
			key_algorithm, signature_algorithm, revoked_at, revoked_reason,
			created_at, updated_at
		) VALUES (
			:id, :global_user_id, :public_key, :certificate, :certificate_fingerprint,
			:certificate_serial, :certificate_subject, :certificate_issuer,
			:valid_from, :valid_to, :private_key_encrypted, :private_key_passphrase_encrypted,
			:key_algorithm, :signature_algorithm, :revoked_at, :revoked_reason,
			:created_at, :updated_at
		)`, cert)
	if err != nil {
		return fmt.Errorf("failed to create user certificate: %w", err)
	}
	return nil
}

// Update replaces the certificate material in place. Renewal and revocation
// both flow through here, so the global_user_id row stays unique.
func (r *Repository) Update(ctx context.Context, cert *UserCertificate) error {
	result, err := r.db.NamedExecContext(ctx, `
		UPDATE user_certificates SET
			public_key = :public_key,
			certificate = :certificate,
			certificate_fingerprint = :certificate_fingerprint,
			certificate_serial = :certificate_serial,
			certificate_subject = :certificate_subject,
			certificate_issuer = :certificate_issuer,
			valid_from = :valid_from,
			valid_to = :valid_to,
			private_key_encrypted = :private_key_encrypted,
			private_key_passphrase_encrypted = :private_key_passphrase_encrypted,
			key_algorithm = :key_algorithm,
			signature_algorithm = :signature_algorithm,
			revoked_at = :revoked_at,
			revoked_reason = :revoked_reason,
			updated_at = :updated_at
		WHERE id = :id`, cert)
	if err != nil {
		return fmt.Errorf("failed to update user certificate: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrCertificateNotFound
	}
	return nil
}
