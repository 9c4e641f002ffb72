// Package secrets implements the encryption boundary and `{{ user.env.NAME }}`
// template resolution (C3, §4.3). Values stored by the Repository layer are
// opaque ciphertext; only this package's Resolver ever produces plaintext.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// MasterKeyProvider supplies the daemon-held symmetric key used to seal and
// open secret values. Grounded on apps/backend/internal/secrets/crypto.go.
type MasterKeyProvider interface {
	Key() ([]byte, error)
}

// StaticKeyProvider wraps a fixed 32-byte AES-256 key, e.g. decoded once
// from an environment variable at daemon start.
type StaticKeyProvider struct{ key []byte }

// NewStaticKeyProvider validates and wraps a 32-byte key.
func NewStaticKeyProvider(key []byte) (*StaticKeyProvider, error) {
	if len(key) != 32 {
		return nil, errors.New("master key must be 32 bytes for AES-256")
	}
	return &StaticKeyProvider{key: key}, nil
}

// Key returns the wrapped key.
func (p *StaticKeyProvider) Key() ([]byte, error) { return p.key, nil }

// DecodeBase64Key decodes a base64-encoded 32-byte key, as loaded from
// Config.Secrets.MasterKeyEnv.
func DecodeBase64Key(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Cipher seals and opens secret values with AES-256-GCM, a random nonce
// prepended to each ciphertext.
type Cipher struct {
	provider MasterKeyProvider
}

// NewCipher builds a Cipher over provider.
func NewCipher(provider MasterKeyProvider) *Cipher {
	return &Cipher{provider: provider}
}

// Encrypt seals plaintext, returning nonce||ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	key, err := c.provider.Key()
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	key, err := c.provider.Key()
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
