package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rifqiyafik/E-signApp/internal/pki"
)

// Document lifecycle statuses.
const (
	StatusDraft         = "draft"
	StatusNeedSignature = "need_signature"
	StatusWaiting       = "waiting"
	StatusCompleted     = "completed"
	StatusCanceled      = "canceled"
	StatusExpired       = "expired"
)

// Signer statuses. Exactly one signer is active while the document is open;
// the rest wait in queued order. The stored current_signer_index mirrors the
// active signer but the status column is authoritative.
const (
	SignerQueued   = "queued"
	SignerActive   = "active"
	SignerSigned   = "signed"
	SignerCanceled = "canceled"
)

var ErrDocumentNotFound = errors.New("documents: document not found")
var ErrVersionNotFound = errors.New("documents: version not found")

// ConflictError rejects an operation that is valid in shape but not in the
// document's current state. Code is the machine-readable reason surfaced to
// clients.
type ConflictError struct {
	Code    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("documents: %s: %s", e.Code, e.Message)
}

func conflict(code, format string, args ...interface{}) *ConflictError {
	return &ConflictError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ValidationError rejects malformed input before any state is touched.
// Fields carries per-field messages when individual entries are at fault.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return "documents: validation failed: " + e.Message
}

// Document is a signing workflow anchored to one immutable draft PDF. The
// chain ID is the public, URL-safe handle used on verification links;
// internal references use the UUID.
type Document struct {
	ID                 uuid.UUID  `db:"id"`
	TenantID           string     `db:"tenant_id"`
	ChainID            string     `db:"chain_id"`
	Title              string     `db:"title"`
	Status             string     `db:"status"`
	OwnerUserID        string     `db:"owner_user_id"`
	CurrentSignerIndex *int       `db:"current_signer_index"`
	OriginalFilename   string     `db:"original_filename"`
	DraftPath          string     `db:"draft_path"`
	DraftSHA256        string     `db:"draft_sha256"`
	ExpiresAt          *time.Time `db:"expires_at"`
	CompletedAt        *time.Time `db:"completed_at"`
	CanceledAt         *time.Time `db:"canceled_at"`
	CanceledReason     *string    `db:"canceled_reason"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// Signer is one ordered participant of a document. Indexes start at 1 and
// signing is strictly sequential.
type Signer struct {
	ID          uuid.UUID  `db:"id"`
	DocumentID  uuid.UUID  `db:"document_id"`
	SignerIndex int        `db:"signer_index"`
	UserID      string     `db:"user_id"`
	Name        string     `db:"name"`
	Email       string     `db:"email"`
	Status      string     `db:"status"`
	SignedAt    *time.Time `db:"signed_at"`
	VersionID   *uuid.UUID `db:"version_id"`
	CreatedAt   time.Time  `db:"created_at"`
}

// Version is one immutable artifact in a document's chain. Version 0 is the
// unsigned draft placeholder; version 1 is produced from the draft, version n
// from version n-1. The detached signature, TSA token and LTV snapshot are
// all pinned at signing time.
type Version struct {
	ID                 uuid.UUID  `db:"id"`
	DocumentID         uuid.UUID  `db:"document_id"`
	TenantID           string     `db:"tenant_id"`
	VersionNumber      int        `db:"version_number"`
	SignerIndex        int        `db:"signer_index"`
	SignedByUserID     string     `db:"signed_by_user_id"`
	PDFPath            string     `db:"pdf_path"`
	PDFSHA256          string     `db:"pdf_sha256"`
	PDFSize            int64      `db:"pdf_size"`
	VerificationURL    string     `db:"verification_url"`
	Signature          string     `db:"signature"`
	SignatureAlgorithm string     `db:"signature_algorithm"`
	CertFingerprint    string     `db:"certificate_fingerprint"`
	CertSubject        string     `db:"certificate_subject"`
	CertSerial         string     `db:"certificate_serial"`
	TSATokenJSON       []byte     `db:"tsa_token"`
	TSASignedAt        *time.Time `db:"tsa_signed_at"`
	LTVSnapshotJSON    []byte     `db:"ltv_snapshot"`
	IdempotencyKey     *string    `db:"idempotency_key"`
	SignedAt           time.Time  `db:"signed_at"`
	CreatedAt          time.Time  `db:"created_at"`
}

// LTVSnapshot freezes every artifact needed to re-verify a version after the
// live PKI state has moved on: rotated TSA, renewed signer certificates,
// even a reissued root.
type LTVSnapshot struct {
	GeneratedAt string             `json:"generatedAt"`
	RootCA      *LTVRootCA         `json:"rootCa,omitempty"`
	Signer      *LTVSignerCert     `json:"signer,omitempty"`
	TSA         *LTVTimestampProof `json:"tsa,omitempty"`
}

type LTVRootCA struct {
	Fingerprint string `json:"fingerprint"`
	Certificate string `json:"certificate"`
}

type LTVSignerCert struct {
	Certificate string `json:"certificate"`
	Fingerprint string `json:"fingerprint"`
	Subject     string `json:"subject,omitempty"`
	Serial      string `json:"serial,omitempty"`
}

type LTVTimestampProof struct {
	Token       *pki.Token `json:"token,omitempty"`
	Certificate string     `json:"certificate,omitempty"`
	Fingerprint string     `json:"fingerprint,omitempty"`
}

// Actor is the authenticated identity performing a document operation.
type Actor struct {
	TenantID string
	UserID   string
	Name     string
	Email    string
}

// SignerInput is one requested participant when assigning signers,
// referenced by user ID or by email.
type SignerInput struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// DirectoryUser is the subject data resolved for a signer from the tenant
// user directory.
type DirectoryUser struct {
	ID    string `db:"global_id"`
	Name  string `db:"name"`
	Email string `db:"email"`
}

// UserDirectory resolves signer identities. Backed by the tenant users table
// in production and by fixtures in tests.
type UserDirectory interface {
	GetByIDs(ctx context.Context, tenantID string, ids []string) ([]DirectoryUser, error)
	GetByEmails(ctx context.Context, tenantID string, emails []string) ([]DirectoryUser, error)
}
