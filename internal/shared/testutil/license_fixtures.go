// Package testutil provides license fixtures shared by package tests: a
// signing key pair, signed responses and entitlement files.
package testutil

import (
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"licensecheck/internal/license"
	"licensecheck/internal/verifier"
)

// Package ids used by DefaultEntitlements
const (
	LicensedPackage = "com.example.pro"
	SeatPackage     = "com.example.seats"
	RevokedPackage  = "com.example.revoked"
	UnknownPackage  = "com.example.unknown"
	SeatHolder      = "alice"
)

// DefaultEntitlements licenses LicensedPackage for a day with three days of
// grace and five retries, SeatPackage for SeatHolder only, and revokes
// RevokedPackage.
const DefaultEntitlements = `
packages:
  - package_id: ` + LicensedPackage + `
    licensed: true
    validity: 24h
    grace: 72h
    max_retries: 5
  - package_id: ` + SeatPackage + `
    licensed: true
    users: [` + SeatHolder + `]
  - package_id: ` + RevokedPackage + `
    licensed: false
`

// LicenseFixtures holds a fresh ECDSA P-256 key pair in both parsed and
// encoded form.
type LicenseFixtures struct {
	Key        *ecdsa.PrivateKey
	Signer     *verifier.Signer
	PrivateKey string
	PublicKey  string
}

// NewLicenseFixtures generates a key pair for one test.
func NewLicenseFixtures(t testing.TB) *LicenseFixtures {
	t.Helper()

	key, err := verifier.GenerateKey()
	require.NoError(t, err)
	signer, err := verifier.NewSigner(key)
	require.NoError(t, err)
	private, err := verifier.EncodePrivateKey(key)
	require.NoError(t, err)
	public, err := verifier.EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)

	return &LicenseFixtures{
		Key:        key,
		Signer:     signer,
		PrivateKey: private,
		PublicKey:  public,
	}
}

// PublicKeyValue returns the parsed verification key.
func (f *LicenseFixtures) PublicKeyValue() *ecdsa.PublicKey {
	return &f.Key.PublicKey
}

// Sign signs data with the fixture key.
func (f *LicenseFixtures) Sign(t testing.TB, data verifier.ResponseData) license.ServerResponse {
	t.Helper()
	resp, err := f.Signer.Sign(data)
	require.NoError(t, err)
	return resp
}

// WriteEntitlements writes content to a fresh entitlements file and returns
// its path.
func WriteEntitlements(t testing.TB, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entitlements.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
