package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPrefix = "LCTEST"

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(testPrefix+"_CONFIG_FILE", path)
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv(testPrefix+"_STORE_BACKEND", BackendMemory)

		cfg, err := Load(testPrefix)
		require.NoError(t, err)

		assert.Equal(t, PolicyServerManaged, cfg.Checker.Policy)
		assert.Equal(t, DefaultCheckTimeout, cfg.Checker.Timeout)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
		assert.True(t, cfg.RateLimit.Enabled)
		assert.Equal(t, "console", cfg.Logging.Output)
	})

	t.Run("authority defaults", func(t *testing.T) {
		t.Setenv(AuthorityEnvPrefix+"_STORE_BACKEND", BackendMemory)

		cfg, err := Load(AuthorityEnvPrefix)
		require.NoError(t, err)

		assert.Equal(t, DefaultAuthorityPort, cfg.Server.Port)
		assert.Equal(t, AppName+"-authority", cfg.Telemetry.ServiceName)
		assert.True(t, filepath.IsAbs(cfg.Issuer.EntitlementsFile))
	})

	t.Run("yaml overlays defaults", func(t *testing.T) {
		storePath := filepath.Join(t.TempDir(), "prefs.db")
		writeConfigFile(t, `
checker:
  package_id: com.example.app
  version_label: "7"
  policy: strict
store:
  backend: sqlite
  path: `+storePath+`
  salt: 0123456789abcdef0123
server:
  port: 9091
`)

		cfg, err := Load(testPrefix)
		require.NoError(t, err)

		assert.Equal(t, "com.example.app", cfg.Checker.PackageID)
		assert.Equal(t, "7", cfg.Checker.VersionLabel)
		assert.Equal(t, PolicyStrict, cfg.Checker.Policy)
		assert.Equal(t, BackendSQLite, cfg.Store.Backend)
		assert.Equal(t, storePath, cfg.Store.Path)
		assert.Equal(t, 9091, cfg.Server.Port)
		assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "keys absent from the file keep defaults")
	})

	t.Run("environment wins over yaml", func(t *testing.T) {
		writeConfigFile(t, `
checker:
  package_id: from.file
store:
  backend: memory
`)
		t.Setenv(testPrefix+"_CHECKER_PACKAGE_ID", "from.env")
		t.Setenv(testPrefix+"_CHECKER_TIMEOUT", "3s")
		t.Setenv(testPrefix+"_RATE_LIMIT_RPS", "2.5")

		cfg, err := Load(testPrefix)
		require.NoError(t, err)

		assert.Equal(t, "from.env", cfg.Checker.PackageID)
		assert.Equal(t, 3*time.Second, cfg.Checker.Timeout)
		assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		writeConfigFile(t, "checker: [unterminated")

		_, err := Load(testPrefix)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) { c.Store.Backend = BackendMemory }, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"bad policy", func(c *Config) { c.Checker.Policy = "lenient" }, "unknown checker policy"},
		{"zero timeout", func(c *Config) { c.Checker.Timeout = 0 }, "checker timeout"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "unknown store backend"},
		{"missing path", func(c *Config) { c.Store.Backend = BackendSQLite; c.Store.Path = "" }, "store path is required"},
		{"short salt", func(c *Config) { c.Store.Salt = "short" }, "store salt"},
		{"bad rate limit", func(c *Config) { c.RateLimit.RPS = 0 }, "rate limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNormalizesLoggingOutput(t *testing.T) {
	cfg := Default()
	cfg.Logging.Output = "syslog"
	require.NoError(t, cfg.validate())
	assert.Equal(t, "console", cfg.Logging.Output)
}

func TestResolvePath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "a", "..", "b.json")
	got, err := ResolvePath(abs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(abs), got)

	rel, err := ResolvePath("data/prefs.json")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(rel))
	assert.Equal(t, "prefs.json", filepath.Base(rel))
}
