package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Crypter encrypts small secrets (private keys, passphrases) at rest with
// AES-256-GCM. The key is derived from the application key, so rotating the
// app key invalidates every stored secret.
type Crypter struct {
	aead cipher.AEAD
}

const crypterSalt = "e-signer.secrets.v1"

var ErrDecryptFailed = errors.New("security: decryption failed")

func NewCrypter(appKey string) (*Crypter, error) {
	if appKey == "" {
		return nil, errors.New("security: app key is required")
	}

	key := pbkdf2.Key([]byte(appKey), []byte(crypterSalt), 4096, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: init gcm: %w", err)
	}

	return &Crypter{aead: aead}, nil
}

// EncryptString returns base64(nonce || ciphertext).
func (c *Crypter) EncryptString(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Crypter) DecryptString(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrDecryptFailed
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}

	return string(plain), nil
}
