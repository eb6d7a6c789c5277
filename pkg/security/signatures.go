package security

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

// SignatureAlgorithm is the only signature algorithm the platform issues.
const SignatureAlgorithm = "sha256WithRSAEncryption"

var ErrMalformedSignature = errors.New("security: malformed signature")

// SignDetached produces a base64 RSA-SHA256 signature over data. The
// signature is stored separately from the bytes it covers and is the
// authoritative integrity anchor for signed PDFs.
func SignDetached(key *rsa.PrivateKey, data []byte) (string, error) {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("security: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyDetached checks a base64 detached signature against data. It returns
// (false, nil) when the signature is well-formed but does not verify, and an
// error only when the check could not be attempted.
func VerifyDetached(pub *rsa.PublicKey, data []byte, signatureB64 string) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false, ErrMalformedSignature
	}

	digest := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		if errors.Is(err, rsa.ErrVerification) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Fingerprint is the SHA-256 hex digest of a certificate's PEM text.
func Fingerprint(pem string) string {
	sum := sha256.Sum256([]byte(pem))
	return hex.EncodeToString(sum[:])
}

// HashBytes is the SHA-256 hex digest of raw content.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
