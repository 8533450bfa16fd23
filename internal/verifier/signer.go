package verifier

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"licensecheck/internal/license"
)

// Signer produces signed responses the way a licensing authority does.
type Signer struct {
	privateKey *ecdsa.PrivateKey
}

// NewSigner creates a signer from an existing ECDSA private key
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, ErrNoPrivateKey
	}
	return &Signer{privateKey: key}, nil
}

// PublicKey returns the key responses must be verified with.
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.privateKey.PublicKey
}

// Sign encodes data and signs it with ECDSA-SHA256. The returned signature
// is base64 ASN.1 DER.
func (s *Signer) Sign(data ResponseData) (license.ServerResponse, error) {
	signed := data.String()
	hash := sha256.Sum256([]byte(signed))
	sig, err := ecdsa.SignASN1(rand.Reader, s.privateKey, hash[:])
	if err != nil {
		return license.ServerResponse{}, fmt.Errorf("signature generation failed: %w", err)
	}
	return license.ServerResponse{
		Code:       int(data.ResponseCode),
		SignedData: signed,
		Signature:  base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// Unsigned builds a response for codes that carry no signed data.
func Unsigned(code ResponseCode) license.ServerResponse {
	return license.ServerResponse{Code: int(code)}
}
