// Package security provides at-rest encryption for the one secret the kiln
// controller persists: the external API bearer token configured in
// KilnSettings (spec.md §6 — "API token (bounded string; never exposed on
// read)").
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// TokenCipher encrypts and decrypts the API token for storage. The key is
// derived once from a passphrase supplied at startup
// (config.Security.CipherPassphrase),
// never persisted itself.
type TokenCipher struct {
	key []byte
}

// NewTokenCipher derives an AES-256 key from passphrase via PBKDF2-SHA256.
func NewTokenCipher(passphrase string) *TokenCipher {
	salt := []byte("kilnd-settings-token-salt-v1")
	key := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)
	return &TokenCipher{key: key}
}

// Encrypt returns a base64-encoded AES-GCM ciphertext of plaintext.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (c *TokenCipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, body := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
