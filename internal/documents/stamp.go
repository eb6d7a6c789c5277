package documents

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/digitorus/pdfsign/sign"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/internal/pki"
)

// QR stamp geometry on the last page, in points. Stamps tile bottom-right
// in two columns, so signer 1 sits in the corner and later signers fill
// leftward and upward.
const (
	stampSizePt   = 72
	stampMarginPt = 28
	stampGapPt    = 17
	stampColumns  = 2

	qrPixels = 256
)

// Stamper renders a signed version artifact from the previous PDF bytes.
type Stamper interface {
	Stamp(ctx context.Context, input []byte, opts StampOptions) ([]byte, error)
}

// StampOptions carries everything one stamping pass needs.
type StampOptions struct {
	SignerIndex     int
	SignerName      string
	VerificationURL string
	Reason          string
	SignedAt        time.Time
	Credentials     *pki.SigningCredentials
	RootCACert      *x509.Certificate
}

// PDFStamper stamps a QR verification code onto the last page and embeds a
// PAdES signature so desktop viewers surface the signing identity. The
// detached signature stored with the version stays authoritative for
// verification, but every rendering step here is fatal on failure: a version
// must never commit with fewer guarantees than its siblings.
type PDFStamper struct {
	logger *zap.Logger
}

func NewPDFStamper(logger *zap.Logger) *PDFStamper {
	return &PDFStamper{logger: logger}
}

func (s *PDFStamper) Stamp(_ context.Context, input []byte, opts StampOptions) ([]byte, error) {
	if opts.SignerIndex < 1 {
		return nil, fmt.Errorf("stamper: signer index must be >= 1, got %d", opts.SignerIndex)
	}

	workDir, err := os.MkdirTemp("", "esign-stamp-")
	if err != nil {
		return nil, fmt.Errorf("stamper: temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inPath := filepath.Join(workDir, "input.pdf")
	qrPath := filepath.Join(workDir, "stamp.png")
	stampedPath := filepath.Join(workDir, "stamped.pdf")
	signedPath := filepath.Join(workDir, "signed.pdf")

	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("stamper: write input: %w", err)
	}

	if err := qrcode.WriteFile(opts.VerificationURL, qrcode.High, qrPixels, qrPath); err != nil {
		return nil, fmt.Errorf("stamper: render QR code: %w", err)
	}

	wm, err := api.ImageWatermark(qrPath, stampDescription(opts.SignerIndex), true, false, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("stamper: build watermark: %w", err)
	}
	if err := api.AddWatermarksFile(inPath, stampedPath, []string{"l"}, wm, nil); err != nil {
		return nil, fmt.Errorf("stamper: apply watermark: %w", err)
	}

	outPath := stampedPath
	if opts.Credentials != nil {
		if err := s.embedSignature(stampedPath, signedPath, opts); err != nil {
			return nil, fmt.Errorf("stamper: embed PDF signature: %w", err)
		}
		outPath = signedPath
		s.logger.Debug("embedded PDF signature", zap.Int("signer_index", opts.SignerIndex))
	}

	output, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("stamper: read output: %w", err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("stamper: produced empty artifact")
	}
	return output, nil
}

// stampDescription positions one QR stamp. Signers tile from the
// bottom-right corner: column flips every signer, row advances every two.
func stampDescription(signerIndex int) string {
	col := (signerIndex - 1) % stampColumns
	row := (signerIndex - 1) / stampColumns

	offX := -(stampMarginPt + col*(stampSizePt+stampGapPt))
	offY := stampMarginPt + row*(stampSizePt+stampGapPt)

	scale := float64(stampSizePt) / float64(qrPixels)
	return fmt.Sprintf("pos:br, off:%d %d, scale:%.2f abs, rot:0", offX, offY, scale)
}

func (s *PDFStamper) embedSignature(inPath, outPath string, opts StampOptions) error {
	chains := [][]*x509.Certificate{}
	if opts.RootCACert != nil {
		chains = append(chains, []*x509.Certificate{opts.RootCACert})
	}

	return sign.SignFile(inPath, outPath, sign.SignData{
		Signature: sign.SignDataSignature{
			Info: sign.SignDataSignatureInfo{
				Name:        opts.SignerName,
				Location:    "E-Signer",
				Reason:      opts.Reason,
				ContactInfo: opts.VerificationURL,
				Date:        opts.SignedAt,
			},
			CertType:   sign.ApprovalSignature,
			DocMDPPerm: sign.AllowFillingExistingFormFieldsAndSignaturesPerms,
		},
		Signer:            opts.Credentials.PrivateKey,
		DigestAlgorithm:   crypto.SHA256,
		Certificate:       opts.Credentials.Certificate,
		CertificateChains: chains,
	})
}
