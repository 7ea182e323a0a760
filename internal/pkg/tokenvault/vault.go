// Package tokenvault encrypts third-party OAuth tokens at rest.
//
// The stored form is base64(nonce || ciphertext) using AES-256-GCM with a
// 12 byte random nonce. The key is derived from a server-side secret and never
// leaves the process.
package tokenvault

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

	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
)

const (
	NonceSize = 12
	keySize   = 32
	hkdfInfo  = "mockupsuite/token-vault/v1"
)

var (
	ErrEmptySecret      = errors.New("token vault secret is empty")
	ErrCiphertextShort  = errors.New("ciphertext too short")
	ErrDecryptionFailed = errors.New("token decryption failed")
)

type Vault struct {
	aead cipher.AEAD
}

// New derives the AES key from secret with HKDF-SHA256.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return NewWithKey(key)
}

// NewWithKey uses a raw 32 byte key.
func NewWithKey(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// NewFromEnv reads TOKEN_VAULT_SECRET.
func NewFromEnv() (*Vault, error) {
	return New(env.GetEnv("TOKEN_VAULT_SECRET", ""))
}

func (v *Vault) Encrypt(plain string) (string, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt fails closed on malformed, truncated, tampered or foreign-key input.
func (v *Vault) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid encoding", ErrDecryptionFailed)
	}
	if len(data) < NonceSize+v.aead.Overhead() {
		return "", ErrCiphertextShort
	}
	nonce, ciphertext := data[:NonceSize], data[NonceSize:]
	plain, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// EncryptOptional maps "" to "" so nullable refresh tokens stay empty.
func (v *Vault) EncryptOptional(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	return v.Encrypt(plain)
}

func (v *Vault) DecryptOptional(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	return v.Decrypt(encoded)
}
