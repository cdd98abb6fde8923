// Package hipaa protects sensitive column values at rest. Payer and
// clearinghouse credentials are stored sealed with AES-256-GCM and opened
// when an organization's configuration is loaded.
package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// SealedPrefix marks a value produced by Seal.
const SealedPrefix = "enc:"

// ErrNoKey is returned when a sealed value is opened without a key.
var ErrNoKey = errors.New("hipaa: sealed value but no encryption key configured")

// Vault seals and opens field values. A Vault built without a key is
// disabled: Seal returns values unchanged and Open rejects sealed input.
type Vault struct {
	aead cipher.AEAD
}

// NewVault builds a vault from a 64 character hex key. An empty key yields
// a disabled vault and a warning.
func NewVault(hexKey string, logger zerolog.Logger) (*Vault, error) {
	if hexKey == "" {
		logger.Warn().Msg("credential encryption disabled: HIPAA_ENCRYPTION_KEY is not set")
		return &Vault{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("HIPAA_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	return NewVaultFromKey(key)
}

// NewVaultFromKey builds an enabled vault from a raw 32-byte key.
func NewVaultFromKey(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("hipaa: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("hipaa: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("hipaa: create GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Enabled reports whether the vault holds a key.
func (v *Vault) Enabled() bool { return v != nil && v.aead != nil }

// Seal encrypts value and returns SealedPrefix followed by base64 of
// nonce+ciphertext. Empty values stay empty.
func (v *Vault) Seal(value string) (string, error) {
	if !v.Enabled() || value == "" {
		return value, nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("hipaa: generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(value), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed value. Values without SealedPrefix are returned
// as-is so plaintext rows keep working until they are re-sealed.
func (v *Vault) Open(value string) (string, error) {
	encoded, sealed := strings.CutPrefix(value, SealedPrefix)
	if !sealed {
		return value, nil
	}
	if !v.Enabled() {
		return "", ErrNoKey
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("hipaa: decode sealed value: %w", err)
	}
	n := v.aead.NonceSize()
	if len(data) < n {
		return "", errors.New("hipaa: sealed value too short")
	}
	plain, err := v.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("hipaa: open sealed value: %w", err)
	}
	return string(plain), nil
}
