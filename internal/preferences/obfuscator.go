// Package preferences persists policy state as obfuscated key/value strings.
package preferences

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// ErrValidation is returned when a stored value was tampered with, was
// written for another key or installation, or is not obfuscated at all.
var ErrValidation = errors.New("preference value failed validation")

// Obfuscator transforms values before they are written to a Backend.
type Obfuscator interface {
	Obfuscate(original, key string) (string, error)
	Unobfuscate(obfuscated, key string) (string, error)
}

const obfuscationVersion byte = 1

// ObfuscatorConfig defines key derivation parameters
type ObfuscatorConfig struct {
	SCryptN int
	SCryptR int
	SCryptP int
}

// DefaultObfuscatorConfig returns the scrypt parameters used in production.
func DefaultObfuscatorConfig() ObfuscatorConfig {
	return ObfuscatorConfig{
		SCryptN: 32768,
		SCryptR: 8,
		SCryptP: 1,
	}
}

// AESObfuscator seals values with AES-256-GCM under a key derived from the
// application salt, the package id and the device id. The preference key is
// bound as additional data.
type AESObfuscator struct {
	aead cipher.AEAD
}

// NewAESObfuscator derives the sealing key once. salt must be at least 16 bytes.
func NewAESObfuscator(salt []byte, packageID, deviceID string, cfg ObfuscatorConfig) (*AESObfuscator, error) {
	if len(salt) < 16 {
		return nil, errors.New("application salt must be at least 16 bytes")
	}
	if cfg.SCryptN == 0 {
		cfg = DefaultObfuscatorConfig()
	}

	password := []byte(packageID + "\x00" + deviceID)
	key, err := scrypt.Key(password, salt, cfg.SCryptN, cfg.SCryptR, cfg.SCryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer zeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &AESObfuscator{aead: aead}, nil
}

// Obfuscate returns base64(version || nonce || ciphertext).
func (o *AESObfuscator) Obfuscate(original, key string) (string, error) {
	nonce := make([]byte, o.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(original)+o.aead.Overhead())
	out = append(out, obfuscationVersion)
	out = append(out, nonce...)
	out = o.aead.Seal(out, nonce, []byte(original), []byte(key))
	return base64.StdEncoding.EncodeToString(out), nil
}

// Unobfuscate reverses Obfuscate. Any mismatch yields ErrValidation.
func (o *AESObfuscator) Unobfuscate(obfuscated, key string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(obfuscated)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", ErrValidation)
	}
	nonceSize := o.aead.NonceSize()
	if len(raw) < 1+nonceSize+o.aead.Overhead() || raw[0] != obfuscationVersion {
		return "", fmt.Errorf("%w: malformed envelope", ErrValidation)
	}

	nonce := raw[1 : 1+nonceSize]
	plaintext, err := o.aead.Open(nil, nonce, raw[1+nonceSize:], []byte(key))
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrValidation)
	}
	return string(plaintext), nil
}

// NullObfuscator stores values as they are. Intended for tests and debugging.
type NullObfuscator struct{}

func (NullObfuscator) Obfuscate(original, _ string) (string, error)     { return original, nil }
func (NullObfuscator) Unobfuscate(obfuscated, _ string) (string, error) { return obfuscated, nil }

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
