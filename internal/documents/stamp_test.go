package documents

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rifqiyafik/E-signApp/internal/pki"
)

func fixturePDF(t *testing.T, pages int) []byte {
	t.Helper()

	doc := gofpdf.New("P", "pt", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		doc.AddPage()
		doc.Cell(40, 20, "Service agreement, page body text.")
	}

	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func testCredentials(t *testing.T) *pki.SigningCredentials {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Stamp Test Signer"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &pki.SigningCredentials{
		Certificate:    cert,
		CertificatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		PrivateKey:     key,
	}
}

func TestStampAddsQRWatermark(t *testing.T) {
	stamper := NewPDFStamper(zap.NewNop())
	input := fixturePDF(t, 2)

	output, err := stamper.Stamp(context.Background(), input, StampOptions{
		SignerIndex:     1,
		SignerName:      "Signer One",
		VerificationURL: "https://sign.example.com/verify/01ABC/1",
		SignedAt:        time.Now(),
	})
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(output, []byte("%PDF-")))
	assert.NotEqual(t, input, output)
	assert.Greater(t, len(output), len(input))
	assert.False(t, bytes.Contains(output, []byte("/ByteRange")))
}

func TestStampWithEmbeddedSignature(t *testing.T) {
	stamper := NewPDFStamper(zap.NewNop())
	input := fixturePDF(t, 1)

	output, err := stamper.Stamp(context.Background(), input, StampOptions{
		SignerIndex:     1,
		SignerName:      "Signer One",
		VerificationURL: "https://sign.example.com/verify/01ABC/1",
		Reason:          "approval",
		SignedAt:        time.Now(),
		Credentials:     testCredentials(t),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(output, []byte("%PDF-")))

	// The artifact must actually carry a signature dictionary, not just the
	// QR stamp.
	assert.True(t, bytes.Contains(output, []byte("/ByteRange")))
}

func TestStampRepeatedSigners(t *testing.T) {
	stamper := NewPDFStamper(zap.NewNop())
	current := fixturePDF(t, 1)

	// Chain three stamps the way sequential signing does.
	for i := 1; i <= 3; i++ {
		next, err := stamper.Stamp(context.Background(), current, StampOptions{
			SignerIndex:     i,
			SignerName:      "Signer",
			VerificationURL: "https://sign.example.com/verify/01ABC/1",
			SignedAt:        time.Now(),
		})
		require.NoError(t, err)
		assert.NotEqual(t, current, next)
		current = next
	}
}

func TestStampRejectsBadIndex(t *testing.T) {
	stamper := NewPDFStamper(zap.NewNop())

	_, err := stamper.Stamp(context.Background(), fixturePDF(t, 1), StampOptions{SignerIndex: 0})
	assert.Error(t, err)
}

// Stamps tile bottom-right in two columns: odd indexes sit in the corner
// column, even indexes one slot left, every pair moves up a row.
func TestStampDescriptionTiling(t *testing.T) {
	assert.Equal(t, "pos:br, off:-28 28, scale:0.28 abs, rot:0", stampDescription(1))
	assert.Equal(t, "pos:br, off:-117 28, scale:0.28 abs, rot:0", stampDescription(2))
	assert.Equal(t, "pos:br, off:-28 117, scale:0.28 abs, rot:0", stampDescription(3))
	assert.Equal(t, "pos:br, off:-117 117, scale:0.28 abs, rot:0", stampDescription(4))
}
