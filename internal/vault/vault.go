// Package vault encrypts stored per-account access tokens. Tokens are
// sealed with AES-256-GCM under a key derived from the shared service
// secret via HKDF-SHA256, with the owning account id as additional
// authenticated data. A ciphertext moved to another account's row will not
// decrypt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceSize = 12
	keySize   = 32
)

// Fixed HKDF parameters; one secret epoch, no rotation.
var (
	hkdfSalt = []byte("trader-mirror/credential-vault/v1")
	hkdfInfo = []byte("account-access-token")
)

// ErrDecryptFailed is returned when a ciphertext cannot be opened, which
// includes the case where the presented account id does not match the one
// the token was sealed for.
var ErrDecryptFailed = errors.New("vault: decryption failed")

// Vault seals and opens account access tokens
type Vault struct {
	aead cipher.AEAD
}

// New derives the vault key from the shared secret and prepares the AEAD
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, fmt.Errorf("vault secret is required")
	}

	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, []byte(secret), hkdfSalt, hkdfInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals token for accountID. Wire format:
// base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(token, accountID string) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("account id is required")
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, []byte(token), []byte(accountID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed token for accountID. Returns ErrDecryptFailed on
// any tampering or account mismatch.
func (v *Vault) Decrypt(encoded, accountID string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(raw) < nonceSize+v.aead.Overhead() {
		return "", ErrDecryptFailed
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plain, err := v.aead.Open(nil, nonce, ciphertext, []byte(accountID))
	if err != nil {
		return "", ErrDecryptFailed
	}

	return string(plain), nil
}
