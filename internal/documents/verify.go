package documents

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/internal/pki"
	"github.com/rifqiyafik/E-signApp/pkg/security"
	"github.com/rifqiyafik/E-signApp/pkg/storage"
)

// Document-level verification failure reasons.
const (
	ReasonHashNotFound = "hash_not_found"
	ReasonHashMismatch = "hash_mismatch"
)

// LTV statuses and issues.
const (
	LTVReady      = "ready"
	LTVIncomplete = "incomplete"
	LTVMissing    = "missing"

	IssueMissingSnapshot   = "missing_snapshot"
	IssueRootCAMissing     = "root_ca_missing"
	IssueSignerCertMissing = "signer_cert_missing"
	IssueTSATokenMissing   = "tsa_token_missing"
	IssueTSAInvalid        = "tsa_invalid"
)

// TSA statuses the verifier adds on top of the token verdicts.
const (
	TSAStatusMissing  = "missing"
	TSAReasonBadToken = "bad_token"
)

// Verdict is the full verification result for one artifact. The embedded
// payload is nil on lookup failures, which drops its fields from the JSON.
type Verdict struct {
	Valid                    bool     `json:"valid"`
	SignatureValid           *bool    `json:"signatureValid"`
	CertificateStatus        string   `json:"certificateStatus,omitempty"`
	RootCAFingerprint        string   `json:"rootCaFingerprint,omitempty"`
	CertificateRevokedAt     string   `json:"certificateRevokedAt,omitempty"`
	CertificateRevokedReason string   `json:"certificateRevokedReason,omitempty"`
	Reason                   string   `json:"reason,omitempty"`
	SignedPDFSHA256          string   `json:"signedPdfSha256,omitempty"`
	ExpectedSignedPDFSHA256  string   `json:"expectedSignedPdfSha256,omitempty"`
	TSAStatus                string   `json:"tsaStatus,omitempty"`
	TSASignedAt              string   `json:"tsaSignedAt,omitempty"`
	TSAFingerprint           string   `json:"tsaFingerprint,omitempty"`
	TSAReason                string   `json:"tsaReason,omitempty"`
	LTVStatus                string   `json:"ltvStatus,omitempty"`
	LTVGeneratedAt           string   `json:"ltvGeneratedAt,omitempty"`
	LTVIssues                []string `json:"ltvIssues,omitempty"`

	*Payload
}

// Verifier recomputes trust verdicts for signed versions. It checks the
// detached signature and certificate chain against live PKI state, and the
// timestamp token against the TSA certificate pinned in the LTV snapshot, so
// old tokens survive TSA rotation.
type Verifier struct {
	repo    Store
	storage storage.Client
	certs   *pki.Service
	rootCA  *pki.RootCAService
	tsa     *pki.TSAService
	baseURL string
	logger  *zap.Logger
}

func NewVerifier(repo Store, store storage.Client, certs *pki.Service, rootCA *pki.RootCAService, tsa *pki.TSAService, baseURL string, logger *zap.Logger) *Verifier {
	return &Verifier{repo: repo, storage: store, certs: certs, rootCA: rootCA, tsa: tsa, baseURL: baseURL, logger: logger}
}

// VerifyByUpload locates the version matching the uploaded file's digest and
// verifies it. An unknown digest yields an invalid verdict, not an error.
func (v *Verifier) VerifyByUpload(ctx context.Context, file []byte) (*Verdict, error) {
	hash := security.HashBytes(file)
	version, err := v.repo.GetVersionBySHA256(ctx, hash)
	if errors.Is(err, ErrVersionNotFound) {
		return &Verdict{Valid: false, Reason: ReasonHashNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	doc, err := v.repo.GetDocumentByID(ctx, version.DocumentID)
	if err != nil {
		return nil, err
	}
	return v.verifyVersion(ctx, doc, version, file)
}

// VerifyByReference verifies the stored artifact for a chain/version pair.
func (v *Verifier) VerifyByReference(ctx context.Context, chainID string, versionNumber int) (*Verdict, error) {
	doc, err := v.repo.GetDocumentByChainID(ctx, chainID)
	if err != nil {
		return nil, err
	}
	version, err := v.repo.GetVersion(ctx, doc.ID, versionNumber)
	if err != nil {
		return nil, err
	}

	artifact, err := v.storage.Get(ctx, version.PDFPath)
	if errors.Is(err, storage.ErrNotFound) {
		artifact = nil
	} else if err != nil {
		return nil, err
	}
	return v.verifyVersion(ctx, doc, version, artifact)
}

// VerifyFileForVersion checks an uploaded file against one specific version.
// A digest mismatch short-circuits to an invalid verdict before any
// cryptographic checks.
func (v *Verifier) VerifyFileForVersion(ctx context.Context, chainID string, versionNumber int, file []byte) (*Verdict, error) {
	doc, err := v.repo.GetDocumentByChainID(ctx, chainID)
	if err != nil {
		return nil, err
	}
	version, err := v.repo.GetVersion(ctx, doc.ID, versionNumber)
	if err != nil {
		return nil, err
	}
	if uploaded := security.HashBytes(file); uploaded != version.PDFSHA256 {
		return &Verdict{
			Valid:                   false,
			Reason:                  ReasonHashMismatch,
			SignedPDFSHA256:         uploaded,
			ExpectedSignedPDFSHA256: version.PDFSHA256,
		}, nil
	}
	return v.verifyVersion(ctx, doc, version, file)
}

func (v *Verifier) verifyVersion(ctx context.Context, doc *Document, version *Version, artifact []byte) (*Verdict, error) {
	verdict := &Verdict{SignedPDFSHA256: version.PDFSHA256}

	snapshot := v.decodeSnapshot(version)
	record := v.loadCertificateRecord(ctx, version.SignedByUserID)

	verdict.SignatureValid = v.checkDetachedSignature(record, artifact, version.Signature)

	status, err := v.rootCA.EvaluateCertificate(ctx, record, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	verdict.CertificateStatus = status
	if record != nil && record.RevokedAt != nil {
		verdict.CertificateRevokedAt = record.RevokedAt.UTC().Format(time.RFC3339)
		if record.RevokedReason != nil {
			verdict.CertificateRevokedReason = *record.RevokedReason
		}
	}
	if root, err := v.rootCA.GetRootCA(ctx); err == nil {
		verdict.RootCAFingerprint = root.Fingerprint
	}

	v.checkTimestamp(ctx, verdict, version, snapshot)
	v.evaluateLTV(verdict, snapshot)

	verdict.Valid = verdict.SignatureValid != nil && *verdict.SignatureValid &&
		verdict.CertificateStatus == pki.CertStatusValid &&
		verdict.TSAStatus == pki.TokenValid

	signers, err := v.repo.GetSigners(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	verdict.Payload = BuildPayload(v.baseURL, doc, version, signers)
	return verdict, nil
}

func (v *Verifier) decodeSnapshot(version *Version) *LTVSnapshot {
	if len(version.LTVSnapshotJSON) == 0 {
		return nil
	}
	var snapshot LTVSnapshot
	if err := json.Unmarshal(version.LTVSnapshotJSON, &snapshot); err != nil {
		v.logger.Warn("unreadable LTV snapshot",
			zap.String("version_id", version.ID.String()), zap.Error(err))
		return nil
	}
	return &snapshot
}

// loadCertificateRecord fetches the signer's live certificate record. Trust
// checks always run against live state so renewals and revocations take
// effect immediately; only the TSA check uses snapshot-pinned material.
func (v *Verifier) loadCertificateRecord(ctx context.Context, userID string) *pki.UserCertificate {
	record, err := v.certs.GetForUser(ctx, userID)
	if errors.Is(err, pki.ErrCertificateNotFound) {
		return nil
	}
	if err != nil {
		v.logger.Warn("failed to load signer certificate",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return record
}

// checkDetachedSignature is three-valued: true and false are cryptographic
// verdicts, nil means the check could not be attempted.
func (v *Verifier) checkDetachedSignature(record *pki.UserCertificate, artifact []byte, signatureB64 string) *bool {
	if record == nil || artifact == nil || signatureB64 == "" {
		return nil
	}
	cert, err := pki.ParseCertificate(record.Certificate)
	if err != nil {
		return nil
	}
	pub, err := pki.RSAPublicKey(cert)
	if err != nil {
		return nil
	}

	ok, err := security.VerifyDetached(pub, artifact, signatureB64)
	if err != nil {
		return nil
	}
	return &ok
}

func (v *Verifier) checkTimestamp(ctx context.Context, verdict *Verdict, version *Version, snapshot *LTVSnapshot) {
	var token *pki.Token
	unparseable := false
	if len(version.TSATokenJSON) > 0 {
		var decoded pki.Token
		if err := json.Unmarshal(version.TSATokenJSON, &decoded); err == nil {
			token = &decoded
		} else {
			unparseable = true
		}
	}
	if token == nil && snapshot != nil && snapshot.TSA != nil {
		token = snapshot.TSA.Token
	}
	if token == nil {
		if unparseable {
			verdict.TSAStatus = pki.TokenInvalid
			verdict.TSAReason = TSAReasonBadToken
		} else {
			verdict.TSAStatus = TSAStatusMissing
		}
		return
	}

	pinned := ""
	if snapshot != nil && snapshot.TSA != nil {
		pinned = snapshot.TSA.Certificate
	}

	result := v.tsa.VerifyToken(ctx, token, version.PDFSHA256, pinned)
	verdict.TSAStatus = result.Status
	verdict.TSASignedAt = result.SignedAt
	verdict.TSAFingerprint = result.TSAFingerprint
	verdict.TSAReason = result.Reason
}

// evaluateLTV reports whether the snapshot alone could support a future
// offline re-verification.
func (v *Verifier) evaluateLTV(verdict *Verdict, snapshot *LTVSnapshot) {
	if snapshot == nil {
		verdict.LTVStatus = LTVMissing
		verdict.LTVIssues = []string{IssueMissingSnapshot}
		return
	}

	verdict.LTVGeneratedAt = snapshot.GeneratedAt

	issues := []string{}
	if snapshot.RootCA == nil || snapshot.RootCA.Certificate == "" {
		issues = append(issues, IssueRootCAMissing)
	}
	if snapshot.Signer == nil || snapshot.Signer.Certificate == "" {
		issues = append(issues, IssueSignerCertMissing)
	}
	if snapshot.TSA == nil || snapshot.TSA.Token == nil {
		issues = append(issues, IssueTSATokenMissing)
	} else if verdict.TSAStatus != pki.TokenValid {
		issues = append(issues, IssueTSAInvalid)
	}

	if len(issues) == 0 {
		verdict.LTVStatus = LTVReady
		return
	}
	verdict.LTVStatus = LTVIncomplete
	verdict.LTVIssues = issues
}
