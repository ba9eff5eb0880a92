// Package secrets seals the upstream API token before it is written to the
// settings table, so a copied database file does not leak live credentials.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the required AES-256 key size.
	KeySize = 32

	sealedPrefix = "SEALED:"
)

var (
	ErrInvalidKey    = errors.New("secrets: key must be 32 bytes")
	ErrNotSealed     = errors.New("secrets: value is not sealed")
	ErrUnsealFailed  = errors.New("secrets: unseal failed")
	ErrMalformedData = errors.New("secrets: malformed sealed value")
)

// Box seals and unseals short secret strings with AES-256-GCM.
type Box struct {
	key []byte
}

// NewBox builds a Box from a base64-encoded 32-byte key.
func NewBox(encodedKey string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("secrets: decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	return &Box{key: key}, nil
}

// Seal encrypts plaintext and returns "SEALED:base64(nonce+ciphertext)".
func (b *Box) Seal(plaintext string) (string, error) {
	gcm, err := b.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Unseal reverses Seal. Values without the sealed prefix are returned as-is
// so databases written before a master key was configured keep working.
func (b *Box) Unseal(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", ErrMalformedData
	}

	gcm, err := b.gcm()
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrMalformedData
	}

	plaintext, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", ErrUnsealFailed
	}
	return string(plaintext), nil
}

// IsSealed reports whether value carries the sealed prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

func (b *Box) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
