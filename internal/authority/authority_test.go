package authority

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensecheck/internal/license"
	"licensecheck/internal/shared/testutil"
	"licensecheck/internal/verifier"
	api "licensecheck/pkg/contracts/api/v1"
	"licensecheck/pkg/contracts/domain"
)

func newTestIssuer(t *testing.T) (*Issuer, *clock.Mock, *testutil.LicenseFixtures, *testutil.LogCapture) {
	t.Helper()
	registry, err := LoadRegistry(testutil.WriteEntitlements(t, testutil.DefaultEntitlements))
	require.NoError(t, err)

	fixtures := testutil.NewLicenseFixtures(t)
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	logger, capture := testutil.NewTestLogger()
	issuer := NewIssuer(registry, fixtures.Signer, WithIssuerClock(clk), WithIssuerLogger(logger))
	return issuer, clk, fixtures, capture
}

func TestLoadRegistry(t *testing.T) {
	registry, err := LoadRegistry(testutil.WriteEntitlements(t, testutil.DefaultEntitlements))
	require.NoError(t, err)
	assert.Equal(t, 3, registry.Len())

	pro, ok := registry.Lookup(testutil.LicensedPackage)
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, pro.Validity)
	assert.Equal(t, 72*time.Hour, pro.Grace)
	assert.Equal(t, 5, pro.MaxRetries)

	_, ok = registry.Lookup(testutil.UnknownPackage)
	assert.False(t, ok)
}

func TestLoadRegistryRejectsInvalidDocuments(t *testing.T) {
	tests := map[string]string{
		"missing package id": "packages:\n  - licensed: true\n",
		"negative retries":   "packages:\n  - package_id: a\n    max_retries: -1\n",
		"duplicate package":  "packages:\n  - package_id: a\n  - package_id: a\n",
		"not yaml":           "packages: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadRegistry(testutil.WriteEntitlements(t, content))
			assert.Error(t, err)
		})
	}

	_, err := LoadRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRegistryReplaceKeepsCurrentSetOnError(t *testing.T) {
	registry, err := NewRegistry(domain.EntitlementSet{Packages: []domain.Entitlement{{PackageID: "a"}}})
	require.NoError(t, err)

	err = registry.Replace(domain.EntitlementSet{Packages: []domain.Entitlement{{PackageID: "b"}, {PackageID: "b"}}})
	assert.ErrorIs(t, err, ErrDuplicatePackage)
	_, ok := registry.Lookup("a")
	assert.True(t, ok)
}

func TestIssueLicensedCarriesExtras(t *testing.T) {
	issuer, clk, fixtures, capture := newTestIssuer(t)

	resp, err := issuer.Issue(context.Background(), api.CheckRequest{
		Nonce:        42,
		PackageID:    testutil.LicensedPackage,
		VersionLabel: "1.2.0",
		UserID:       "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, int(verifier.Licensed), resp.Code)

	data, err := verifier.ParseResponseData(resp.SignedData)
	require.NoError(t, err)
	assert.Equal(t, int32(42), data.Nonce)
	assert.Equal(t, "alice", data.UserID)
	assert.Equal(t, clk.Now().UnixMilli(), data.Timestamp)
	assert.Equal(t, strconv.FormatInt(clk.Now().Add(24*time.Hour).UnixMilli(), 10), data.Extras.Get(license.ExtraValidityTimestamp))
	assert.Equal(t, strconv.FormatInt(clk.Now().Add(72*time.Hour).UnixMilli(), 10), data.Extras.Get(license.ExtraRetryUntil))
	assert.Equal(t, "5", data.Extras.Get(license.ExtraMaxRetries))

	verdict, extras := verifier.NewSignatureVerifier(slog.Default()).Verify(license.VerifyRequest{
		Response:     resp,
		Nonce:        42,
		PackageID:    testutil.LicensedPackage,
		VersionLabel: "1.2.0",
		PublicKey:    fixtures.PublicKeyValue(),
	})
	assert.Equal(t, license.Licensed, verdict)
	assert.Equal(t, "5", extras.Get(license.ExtraMaxRetries))

	answered := capture.AssertLogged(t, slog.LevelInfo, "check answered")
	assert.Equal(t, "license_issuer", answered.Attrs["component"])
	capture.AssertNoErrors(t)
}

func TestIssueDecisions(t *testing.T) {
	issuer, _, _, capture := newTestIssuer(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		req      api.CheckRequest
		wantCode verifier.ResponseCode
		signed   bool
		wantUser string
	}{
		{"unknown package", api.CheckRequest{PackageID: testutil.UnknownPackage}, verifier.InvalidPackageName, false, ""},
		{"revoked package", api.CheckRequest{PackageID: testutil.RevokedPackage, UserID: "bob"}, verifier.NotLicensed, true, "bob"},
		{"seat holder", api.CheckRequest{PackageID: testutil.SeatPackage, UserID: testutil.SeatHolder}, verifier.Licensed, true, testutil.SeatHolder},
		{"not a seat holder", api.CheckRequest{PackageID: testutil.SeatPackage, UserID: "mallory"}, verifier.NotLicensed, true, "mallory"},
		{"anonymous", api.CheckRequest{PackageID: testutil.LicensedPackage}, verifier.Licensed, true, AnonymousUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := issuer.Issue(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, int(tt.wantCode), resp.Code)
			if !tt.signed {
				assert.Empty(t, resp.SignedData)
				assert.Empty(t, resp.Signature)
				return
			}
			data, err := verifier.ParseResponseData(resp.SignedData)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, data.UserID)
		})
	}

	unknown := capture.AssertLogged(t, slog.LevelWarn, "unknown package")
	assert.Equal(t, testutil.UnknownPackage, unknown.Attrs["package_id"])
}

func TestIssueOmitsZeroExtras(t *testing.T) {
	issuer, _, _, _ := newTestIssuer(t)

	resp, err := issuer.Issue(context.Background(), api.CheckRequest{PackageID: testutil.SeatPackage, UserID: "alice"})
	require.NoError(t, err)
	data, err := verifier.ParseResponseData(resp.SignedData)
	require.NoError(t, err)
	assert.Empty(t, data.Extras)
}
