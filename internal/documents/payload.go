package documents

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the public description of one signed version. It rides inside
// verification verdicts and sign responses, and is what the QR code on the
// stamped page resolves to.
type Payload struct {
	DocumentID           string            `json:"documentId"`
	ChainID              string            `json:"chainId"`
	VersionNumber        int               `json:"versionNumber"`
	VerificationURL      string            `json:"verificationUrl"`
	SignedPDFDownloadURL string            `json:"signedPdfDownloadUrl"`
	SignedPDFSHA256      string            `json:"signedPdfSha256"`
	SignedPDFSize        int64             `json:"signedPdfSize,omitempty"`
	Signature            *PayloadSignature `json:"signature,omitempty"`
	Timestamp            *PayloadTimestamp `json:"timestamp,omitempty"`
	LTV                  *PayloadLTV       `json:"ltv,omitempty"`
	Signers              []PayloadSigner   `json:"signers"`
}

// PayloadSignature describes the detached signature without repeating its
// value; the signature itself only travels in the version resource.
type PayloadSignature struct {
	Algorithm              string `json:"algorithm"`
	CertificateFingerprint string `json:"certificateFingerprint"`
	CertificateSubject     string `json:"certificateSubject,omitempty"`
	CertificateSerial      string `json:"certificateSerial,omitempty"`
}

type PayloadTimestamp struct {
	SignedAt string `json:"signedAt"`
}

type PayloadLTV struct {
	GeneratedAt string `json:"generatedAt"`
}

type PayloadSigner struct {
	SignerIndex int    `json:"signerIndex"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Status      string `json:"status"`
	SignedAt    string `json:"signedAt,omitempty"`
	VersionID   string `json:"versionId,omitempty"`
}

// BuildPayload assembles the public payload for one version of a document.
func BuildPayload(baseURL string, doc *Document, version *Version, signers []Signer) *Payload {
	payload := &Payload{
		DocumentID:           doc.ID.String(),
		ChainID:              doc.ChainID,
		VersionNumber:        version.VersionNumber,
		VerificationURL:      VerificationURL(baseURL, doc.ChainID, version.VersionNumber),
		SignedPDFDownloadURL: downloadURL(baseURL, doc.ID.String(), version.VersionNumber),
		SignedPDFSHA256:      version.PDFSHA256,
		SignedPDFSize:        version.PDFSize,
	}

	if version.Signature != "" {
		payload.Signature = &PayloadSignature{
			Algorithm:              version.SignatureAlgorithm,
			CertificateFingerprint: version.CertFingerprint,
			CertificateSubject:     version.CertSubject,
			CertificateSerial:      version.CertSerial,
		}
	}
	if version.TSASignedAt != nil {
		payload.Timestamp = &PayloadTimestamp{SignedAt: version.TSASignedAt.UTC().Format(time.RFC3339)}
	}
	if len(version.LTVSnapshotJSON) > 0 {
		var snapshot LTVSnapshot
		if err := json.Unmarshal(version.LTVSnapshotJSON, &snapshot); err == nil {
			payload.LTV = &PayloadLTV{GeneratedAt: snapshot.GeneratedAt}
		}
	}

	for _, s := range signers {
		ps := PayloadSigner{
			SignerIndex: s.SignerIndex,
			Name:        s.Name,
			Email:       s.Email,
			Status:      s.Status,
		}
		if s.SignedAt != nil {
			ps.SignedAt = s.SignedAt.UTC().Format(time.RFC3339)
		}
		if s.VersionID != nil {
			ps.VersionID = s.VersionID.String()
		}
		payload.Signers = append(payload.Signers, ps)
	}
	return payload
}

// VerificationURL is the public link encoded into the QR stamp.
func VerificationURL(baseURL, chainID string, versionNumber int) string {
	return fmt.Sprintf("%s/verify/%s/%d", baseURL, chainID, versionNumber)
}

func downloadURL(baseURL, documentID string, versionNumber int) string {
	return fmt.Sprintf("%s/api/v1/documents/%s/versions/%d/download", baseURL, documentID, versionNumber)
}
