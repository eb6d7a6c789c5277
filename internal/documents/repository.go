package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store is the persistence surface the workflow needs. Transact hands the
// callback a store bound to the transaction.
type Store interface {
	Transact(ctx context.Context, fn func(Store) error) error

	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, tenantID string, id uuid.UUID) (*Document, error)
	GetDocumentForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*Document, error)
	GetDocumentByChainID(ctx context.Context, chainID string) (*Document, error)
	GetDocumentByID(ctx context.Context, id uuid.UUID) (*Document, error)
	UpdateDocument(ctx context.Context, doc *Document) error
	ListDocuments(ctx context.Context, tenantID, ownerUserID, status string, limit, offset int) ([]Document, error)
	ListDocumentsForSigner(ctx context.Context, tenantID, userID string) ([]Document, error)

	CreateSigners(ctx context.Context, signers []Signer) error
	GetSigners(ctx context.Context, documentID uuid.UUID) ([]Signer, error)
	UpdateSigner(ctx context.Context, signer *Signer) error

	CreateVersion(ctx context.Context, version *Version) error
	GetVersions(ctx context.Context, documentID uuid.UUID) ([]Version, error)
	GetVersion(ctx context.Context, documentID uuid.UUID, number int) (*Version, error)
	GetLatestVersion(ctx context.Context, documentID uuid.UUID) (*Version, error)
	GetVersionByIdempotencyKey(ctx context.Context, tenantID, key string) (*Version, error)
	GetVersionBySHA256(ctx context.Context, sha256Hex string) (*Version, error)
}

// Repository persists documents, signers and versions in Postgres. Methods
// work against either the root handle or a transaction, so the same code
// runs inside and outside Transact.
type Repository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db, ext: db}
}

// Transact runs fn inside a transaction, passing a repository bound to it.
// The transaction commits when fn returns nil and rolls back otherwise.
func (r *Repository) Transact(ctx context.Context, fn func(Store) error) error {
	if r.db == nil {
		return errors.New("documents: nested transactions are not supported")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Repository{ext: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation, the arbiter for idempotency and version-number races.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (r *Repository) CreateDocument(ctx context.Context, doc *Document) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext, `
		INSERT INTO documents (
			id, tenant_id, chain_id, title, status, owner_user_id,
			current_signer_index, original_filename, draft_path, draft_sha256,
			expires_at, completed_at, canceled_at, canceled_reason,
			created_at, updated_at
		) VALUES (
			:id, :tenant_id, :chain_id, :title, :status, :owner_user_id,
			:current_signer_index, :original_filename, :draft_path, :draft_sha256,
			:expires_at, :completed_at, :canceled_at, :canceled_reason,
			:created_at, :updated_at
		)`, doc)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *Repository) GetDocument(ctx context.Context, tenantID string, id uuid.UUID) (*Document, error) {
	var doc Document
	err := sqlx.GetContext(ctx, r.ext, &doc, `
		SELECT * FROM documents WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// GetDocumentForUpdate locks the document row for the remainder of the
// transaction. Sign and cancel serialize on this lock.
func (r *Repository) GetDocumentForUpdate(ctx context.Context, tenantID string, id uuid.UUID) (*Document, error) {
	var doc Document
	err := sqlx.GetContext(ctx, r.ext, &doc, `
		SELECT * FROM documents WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock document: %w", err)
	}
	return &doc, nil
}

// GetDocumentByChainID looks a document up by its public chain handle.
// Verification is unauthenticated, so there is no tenant filter here.
func (r *Repository) GetDocumentByChainID(ctx context.Context, chainID string) (*Document, error) {
	var doc Document
	err := sqlx.GetContext(ctx, r.ext, &doc, `
		SELECT * FROM documents WHERE chain_id = $1`, chainID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document by chain id: %w", err)
	}
	return &doc, nil
}

func (r *Repository) UpdateDocument(ctx context.Context, doc *Document) error {
	result, err := sqlx.NamedExecContext(ctx, r.ext, `
		UPDATE documents SET
			status = :status,
			current_signer_index = :current_signer_index,
			expires_at = :expires_at,
			completed_at = :completed_at,
			canceled_at = :canceled_at,
			canceled_reason = :canceled_reason,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`, doc)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check document update: %w", err)
	}
	if rows == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *Repository) ListDocuments(ctx context.Context, tenantID, ownerUserID, status string, limit, offset int) ([]Document, error) {
	query := `SELECT * FROM documents WHERE tenant_id = $1`
	args := []interface{}{tenantID}

	if ownerUserID != "" {
		args = append(args, ownerUserID)
		query += fmt.Sprintf(" AND owner_user_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	docs := []Document{}
	if err := sqlx.SelectContext(ctx, r.ext, &docs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// ListDocumentsForSigner returns documents where the user participates as a
// signer, newest first.
func (r *Repository) ListDocumentsForSigner(ctx context.Context, tenantID, userID string) ([]Document, error) {
	docs := []Document{}
	err := sqlx.SelectContext(ctx, r.ext, &docs, `
		SELECT d.* FROM documents d
		JOIN document_signers s ON s.document_id = d.id
		WHERE d.tenant_id = $1 AND s.user_id = $2
		ORDER BY d.created_at DESC`, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents for signer: %w", err)
	}
	return docs, nil
}

func (r *Repository) CreateSigners(ctx context.Context, signers []Signer) error {
	for i := range signers {
		_, err := sqlx.NamedExecContext(ctx, r.ext, `
			INSERT INTO document_signers (
				id, document_id, signer_index, user_id, name, email,
				status, signed_at, version_id, created_at
			) VALUES (
				:id, :document_id, :signer_index, :user_id, :name, :email,
				:status, :signed_at, :version_id, :created_at
			)`, &signers[i])
		if err != nil {
			return fmt.Errorf("failed to create signer %d: %w", signers[i].SignerIndex, err)
		}
	}
	return nil
}

func (r *Repository) GetSigners(ctx context.Context, documentID uuid.UUID) ([]Signer, error) {
	signers := []Signer{}
	err := sqlx.SelectContext(ctx, r.ext, &signers, `
		SELECT * FROM document_signers WHERE document_id = $1 ORDER BY signer_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get signers: %w", err)
	}
	return signers, nil
}

func (r *Repository) UpdateSigner(ctx context.Context, signer *Signer) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext, `
		UPDATE document_signers SET
			status = :status,
			signed_at = :signed_at,
			version_id = :version_id
		WHERE id = :id`, signer)
	if err != nil {
		return fmt.Errorf("failed to update signer: %w", err)
	}
	return nil
}

func (r *Repository) CreateVersion(ctx context.Context, version *Version) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext, `
		INSERT INTO document_versions (
			id, document_id, tenant_id, version_number, signer_index,
			signed_by_user_id, pdf_path, pdf_sha256, pdf_size,
			verification_url, signature, signature_algorithm,
			certificate_fingerprint, certificate_subject, certificate_serial,
			tsa_token, tsa_signed_at, ltv_snapshot,
			idempotency_key, signed_at, created_at
		) VALUES (
			:id, :document_id, :tenant_id, :version_number, :signer_index,
			:signed_by_user_id, :pdf_path, :pdf_sha256, :pdf_size,
			:verification_url, :signature, :signature_algorithm,
			:certificate_fingerprint, :certificate_subject, :certificate_serial,
			:tsa_token, :tsa_signed_at, :ltv_snapshot,
			:idempotency_key, :signed_at, :created_at
		)`, version)
	if err != nil {
		return fmt.Errorf("failed to create version: %w", err)
	}
	return nil
}

func (r *Repository) GetVersions(ctx context.Context, documentID uuid.UUID) ([]Version, error) {
	versions := []Version{}
	err := sqlx.SelectContext(ctx, r.ext, &versions, `
		SELECT * FROM document_versions WHERE document_id = $1 ORDER BY version_number ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get versions: %w", err)
	}
	return versions, nil
}

func (r *Repository) GetVersion(ctx context.Context, documentID uuid.UUID, number int) (*Version, error) {
	var version Version
	err := sqlx.GetContext(ctx, r.ext, &version, `
		SELECT * FROM document_versions WHERE document_id = $1 AND version_number = $2`,
		documentID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return &version, nil
}

func (r *Repository) GetLatestVersion(ctx context.Context, documentID uuid.UUID) (*Version, error) {
	var version Version
	err := sqlx.GetContext(ctx, r.ext, &version, `
		SELECT * FROM document_versions WHERE document_id = $1
		ORDER BY version_number DESC LIMIT 1`, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}
	return &version, nil
}

func (r *Repository) GetVersionByIdempotencyKey(ctx context.Context, tenantID, key string) (*Version, error) {
	var version Version
	err := sqlx.GetContext(ctx, r.ext, &version, `
		SELECT * FROM document_versions WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version by idempotency key: %w", err)
	}
	return &version, nil
}

// GetVersionBySHA256 finds the version whose signed artifact matches the
// uploaded file's digest. The digest is globally unique in practice; if
// several rows share one, the most recently created version wins.
func (r *Repository) GetVersionBySHA256(ctx context.Context, sha256Hex string) (*Version, error) {
	var version Version
	err := sqlx.GetContext(ctx, r.ext, &version, `
		SELECT * FROM document_versions WHERE pdf_sha256 = $1
		ORDER BY created_at DESC LIMIT 1`, sha256Hex)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version by digest: %w", err)
	}
	return &version, nil
}

func (r *Repository) GetDocumentByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	err := sqlx.GetContext(ctx, r.ext, &doc, `SELECT * FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}
