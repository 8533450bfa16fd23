package verifier

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoPrivateKey = errors.New("no private key configured")
	ErrInvalidKey   = errors.New("invalid key type, expected ECDSA P-256")
)

// ParsePublicKey decodes a base64 PKIX (SPKI) DER ECDSA P-256 public key.
func ParsePublicKey(encoded string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok || ecdsaPub.Curve != elliptic.P256() {
		return nil, ErrInvalidKey
	}
	return ecdsaPub, nil
}

// ParsePrivateKey decodes a base64 DER ECDSA P-256 private key in PKCS#8 or
// SEC 1 form.
func ParsePrivateKey(encoded string) (*ecdsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}

	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		ecdsaKey, ok := key.(*ecdsa.PrivateKey)
		if !ok || ecdsaKey.Curve != elliptic.P256() {
			return nil, ErrInvalidKey
		}
		return ecdsaKey, nil
	}

	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// GenerateKey creates a new P-256 signing key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// EncodePublicKey renders pub in the form accepted by ParsePublicKey.
func EncodePublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// EncodePrivateKey renders key as base64 PKCS#8 DER.
func EncodePrivateKey(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}
