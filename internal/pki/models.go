package pki

import (
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCertificateNotFound = errors.New("pki: certificate not found")
	ErrCertificateRevoked  = errors.New("pki: certificate has been revoked")
	ErrCAUnavailable       = errors.New("pki: root CA material unavailable")
)

// User is the minimal identity a certificate is bound to. The tenancy layer
// owns the full user record; the trust pipeline only needs a stable global
// identifier and the subject fields.
type User struct {
	GlobalID string
	Name     string
	Email    string
}

// UserCertificate is the single active certificate record per user. The
// private key and its passphrase are encrypted at rest and only decrypted
// transiently inside GetSigningCredentials.
type UserCertificate struct {
	ID                    uuid.UUID  `db:"id"`
	GlobalUserID          string     `db:"global_user_id"`
	PublicKey             string     `db:"public_key"`
	Certificate           string     `db:"certificate"`
	Fingerprint           string     `db:"certificate_fingerprint"`
	Serial                *string    `db:"certificate_serial"`
	Subject               *string    `db:"certificate_subject"`
	Issuer                *string    `db:"certificate_issuer"`
	ValidFrom             *time.Time `db:"valid_from"`
	ValidTo               *time.Time `db:"valid_to"`
	PrivateKeyEncrypted   string     `db:"private_key_encrypted"`
	PassphraseEncrypted   *string    `db:"private_key_passphrase_encrypted"`
	KeyAlgorithm          string     `db:"key_algorithm"`
	SignatureAlgorithmKey string     `db:"signature_algorithm"`
	RevokedAt             *time.Time `db:"revoked_at"`
	RevokedReason         *string    `db:"revoked_reason"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

// CAIdentity is a loaded root-CA or TSA identity. Degraded is set when a TSA
// certificate had to be self-signed because the root CA key was unusable.
type CAIdentity struct {
	CertificatePEM string
	Certificate    *x509.Certificate
	PrivateKey     *rsa.PrivateKey
	Fingerprint    string
	Subject        string
	ValidFrom      time.Time
	ValidTo        time.Time
	Degraded       bool
}

// SigningCredentials is the transient, decrypted signing material for a
// user. It must never be logged or persisted.
type SigningCredentials struct {
	CertificatePEM     string
	Certificate        *x509.Certificate
	PrivateKey         *rsa.PrivateKey
	Passphrase         string
	PublicKeyPEM       string
	Fingerprint        string
	Subject            string
	Serial             string
	SignatureAlgorithm string
}

// Token is a TSA timestamp token binding a document hash to a signing time.
// The signature covers "hash|signedAt", so changing either field invalidates
// it.
type Token struct {
	Hash           string `json:"hash"`
	SignedAt       string `json:"signedAt"`
	Signature      string `json:"signature"`
	Algorithm      string `json:"algorithm"`
	TSAFingerprint string `json:"tsaFingerprint"`
}

// Token verification statuses and reasons.
const (
	TokenValid   = "valid"
	TokenInvalid = "invalid"

	ReasonMissingFields = "missing_fields"
	ReasonHashMismatch  = "hash_mismatch"
	ReasonTSAKeyMissing = "tsa_key_missing"
	ReasonBadSignature  = "bad_signature"
)

// TokenVerification is the outcome of checking a TSA token. An invalid token
// is a successfully computed verdict, not an error.
type TokenVerification struct {
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	SignedAt       string `json:"signedAt,omitempty"`
	TSAFingerprint string `json:"tsaFingerprint,omitempty"`
}
