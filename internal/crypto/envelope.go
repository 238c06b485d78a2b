package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
)

// KeySize is the required symmetric key length for AES-256-GCM.
const KeySize = 32

// Envelope encrypts and decrypts credential material with AES-256-GCM. The
// persisted form is base64(nonce || ciphertext+tag); a fresh nonce is drawn
// for every call so equal plaintexts never produce equal ciphertexts.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope validates the key material and builds the AEAD once.
func NewEnvelope(key []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("crypto: encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: create gcm: %w", err)
	}
	return &Envelope{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (e *Envelope) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce generation: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure (malformed
// encoding, truncated payload, wrong key, tag mismatch) surfaces as
// domain.ErrDecryptionFailed so callers never fall back to treating
// ciphertext as plaintext.
func (e *Envelope) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", domain.ErrDecryptionFailed, err)
	}
	nonceSize := e.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryptionFailed)
	}
	plaintext, err := e.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: open: %v", domain.ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}
