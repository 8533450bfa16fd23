package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensecheck/internal/config"
	"licensecheck/internal/license"
	"licensecheck/internal/shared/testutil"
	api "licensecheck/pkg/contracts/api/v1"
)

const testEntitlements = `
packages:
  - package_id: com.example.pro
    licensed: true
    validity: 1h
    grace: 24h
    max_retries: 3
  - package_id: com.example.revoked
    licensed: false
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.RateLimit.Enabled = false
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Telemetry.MetricsEnabled = true
	return cfg
}

func listenLocal(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

// serveInBackground runs serveFn until the test ends.
func serveInBackground(t *testing.T, serveFn func(context.Context, net.Listener) error) string {
	t.Helper()
	ln := listenLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveFn(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return "http://" + ln.Addr().String()
}

// startAuthority runs an authority and returns its base URL and public key.
func startAuthority(t *testing.T) (*AuthorityApp, string, string) {
	t.Helper()
	fixtures := testutil.NewLicenseFixtures(t)

	cfg := testConfig(t)
	cfg.Issuer.PrivateKey = fixtures.PrivateKey
	cfg.Issuer.EntitlementsFile = testutil.WriteEntitlements(t, testEntitlements)

	authorityApp, err := NewAuthorityApp(cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = authorityApp.Close(context.Background()) })

	return authorityApp, serveInBackground(t, authorityApp.Serve), fixtures.PublicKey
}

func newChecker(t *testing.T, baseURL, publicKey, packageID, policy string) *CheckerApp {
	t.Helper()
	cfg := testConfig(t)
	cfg.Checker.PackageID = packageID
	cfg.Checker.VersionLabel = "1.0.0"
	cfg.Checker.PublicKey = publicKey
	cfg.Checker.Policy = policy
	cfg.Authority.BaseURL = baseURL

	checkerApp, err := NewCheckerApp(cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = checkerApp.Close(context.Background()) })
	return checkerApp
}

func TestCheckerAgainstAuthority(t *testing.T) {
	_, baseURL, publicKey := startAuthority(t)

	tests := []struct {
		name        string
		packageID   string
		policy      string
		wantKind    license.ResultKind
		wantVerdict license.Verdict
	}{
		{"licensed server managed", "com.example.pro", config.PolicyServerManaged, license.Allowed, license.Licensed},
		{"licensed strict", "com.example.pro", config.PolicyStrict, license.Allowed, license.Licensed},
		{"revoked", "com.example.revoked", config.PolicyServerManaged, license.Denied, license.NotLicensed},
		{"unknown package", "com.example.unknown", config.PolicyStrict, license.Denied, license.NotLicensed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkerApp := newChecker(t, baseURL, publicKey, tt.packageID, tt.policy)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			result, err := checkerApp.Check(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, result.Kind)
			assert.Equal(t, tt.wantVerdict, result.Verdict)
		})
	}
}

func TestCheckerWithWrongKeyIsDenied(t *testing.T) {
	_, baseURL, _ := startAuthority(t)
	other := testutil.NewLicenseFixtures(t)

	checkerApp := newChecker(t, baseURL, other.PublicKey, "com.example.pro", config.PolicyStrict)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := checkerApp.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.Denied, result.Kind)
}

func TestCheckerWithoutAuthorityRetries(t *testing.T) {
	ln := listenLocal(t)
	unreachable := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	checkerApp := newChecker(t, unreachable, testutil.NewLicenseFixtures(t).PublicKey, "com.example.pro", config.PolicyStrict)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := checkerApp.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.Retry, result.Verdict)
}

func TestGatedServer(t *testing.T) {
	_, baseURL, publicKey := startAuthority(t)

	licensed := newChecker(t, baseURL, publicKey, "com.example.pro", config.PolicyServerManaged)
	licensedURL := serveInBackground(t, licensed.Serve)

	revoked := newChecker(t, baseURL, publicKey, "com.example.revoked", config.PolicyServerManaged)
	revokedURL := serveInBackground(t, revoked.Serve)

	resp, err := http.Get(licensedURL + "/app")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, licensed.Checker.AllowAccess(), "a licensed verdict is cached by the policy")

	resp, err = http.Get(revokedURL + "/app")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = http.Get(licensedURL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	policy := status["policy"].(map[string]any)
	assert.Equal(t, "server_managed", policy["kind"])
	assert.Equal(t, license.Licensed.String(), policy["last_response"])
	assert.Equal(t, float64(3), policy["max_retries"])

	resp, err = http.Get(licensedURL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "process_goroutines")
}

func TestAuthorityEndpoints(t *testing.T) {
	authorityApp, baseURL, _ := startAuthority(t)

	resp, err := http.Get(baseURL + api.HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, err = http.Get(baseURL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, os.WriteFile(authorityApp.Config.Issuer.EntitlementsFile, []byte("packages:\n  - package_id: com.example.new\n    licensed: true\n"), 0o600))
	require.NoError(t, authorityApp.Reload())
	_, ok := authorityApp.Registry.Lookup("com.example.new")
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(authorityApp.Config.Issuer.EntitlementsFile, []byte("packages: ["), 0o600))
	assert.Error(t, authorityApp.Reload())
	assert.Equal(t, 1, authorityApp.Registry.Len(), "a bad file keeps the current entitlements")
}

func TestNewAuthorityAppRequiresKey(t *testing.T) {
	_, err := NewAuthorityApp(testConfig(t), quietLogger())
	assert.Error(t, err)
}

func TestNewCheckerAppRejectsBadPublicKey(t *testing.T) {
	for name, key := range map[string]string{
		"missing": "",
		"garbage": "not-a-key",
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Checker.PackageID = "com.example.pro"
			cfg.Checker.Policy = config.PolicyServerManaged
			cfg.Checker.PublicKey = key
			_, err := NewCheckerApp(cfg, quietLogger())
			assert.ErrorContains(t, err, "public key")
		})
	}
}
