package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Checker   CheckerConfig   `yaml:"checker" envconfig:"CHECKER"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Authority AuthorityConfig `yaml:"authority" envconfig:"AUTHORITY"`
	Issuer    IssuerConfig    `yaml:"issuer" envconfig:"ISSUER"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// Policy kinds accepted by CheckerConfig.Policy
const (
	PolicyStrict        = "strict"
	PolicyServerManaged = "server_managed"
)

// Store backends accepted by StoreConfig.Backend
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// CheckerConfig identifies the installation being checked
type CheckerConfig struct {
	PackageID    string        `yaml:"package_id" envconfig:"PACKAGE_ID"`
	VersionLabel string        `yaml:"version_label" envconfig:"VERSION_LABEL"`
	UserID       string        `yaml:"user_id" envconfig:"USER_ID"`
	PublicKey    string        `yaml:"public_key" envconfig:"PUBLIC_KEY"`
	Policy       string        `yaml:"policy" envconfig:"POLICY"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// StoreConfig selects where policy state is persisted
type StoreConfig struct {
	Backend  string `yaml:"backend" envconfig:"BACKEND"`
	Path     string `yaml:"path" envconfig:"FILE"`
	Salt     string `yaml:"salt" envconfig:"SALT"`
	DeviceID string `yaml:"device_id" envconfig:"DEVICE_ID"`
}

// AuthorityConfig locates the licensing authority
type AuthorityConfig struct {
	BaseURL        string        `yaml:"base_url" envconfig:"BASE_URL"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// IssuerConfig configures the reference licensing authority
type IssuerConfig struct {
	PrivateKey       string `yaml:"private_key" envconfig:"PRIVATE_KEY"`
	EntitlementsFile string `yaml:"entitlements_file" envconfig:"ENTITLEMENTS_FILE"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// TelemetryConfig controls OpenTelemetry exporters
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version" envconfig:"SERVICE_VERSION"`
	TracesEnabled  bool   `yaml:"traces_enabled" envconfig:"TRACES_ENABLED"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// Load builds the configuration for the binary whose environment prefix is
// given. Values come from Default, then the YAML file named by
// <PREFIX>_CONFIG_FILE or found in a well-known location, then environment
// variables. Later sources win.
func Load(prefix string) (*Config, error) {
	cfg := Default()
	if strings.EqualFold(prefix, AuthorityEnvPrefix) {
		cfg.Server.Port = DefaultAuthorityPort
		cfg.Telemetry.ServiceName = AppName + "-authority"
	}

	configFile := os.Getenv(strings.ToUpper(prefix) + "_CONFIG_FILE")
	if configFile == "" {
		configFile = getConfigFilePath(prefix)
	}
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file at filePath onto cfg. Keys absent from
// the file keep their current value.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// resolvePaths anchors relative file locations at the executable directory
func (c *Config) resolvePaths() error {
	if c.Store.Backend != BackendMemory && c.Store.Path != "" {
		path, err := ResolvePath(c.Store.Path)
		if err != nil {
			return err
		}
		c.Store.Path = path
	}
	if c.Issuer.EntitlementsFile != "" {
		path, err := ResolvePath(c.Issuer.EntitlementsFile)
		if err != nil {
			return err
		}
		c.Issuer.EntitlementsFile = path
	}
	if c.Logging.Output != "console" && c.Logging.FilePath != "" {
		path, err := ResolvePath(c.Logging.FilePath)
		if err != nil {
			return err
		}
		c.Logging.FilePath = path
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	switch c.Checker.Policy {
	case PolicyStrict, PolicyServerManaged:
	default:
		return fmt.Errorf("unknown checker policy %q", c.Checker.Policy)
	}

	if c.Checker.Timeout <= 0 {
		return fmt.Errorf("checker timeout must be positive")
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the %s backend", c.Store.Backend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if len(c.Store.Salt) < MinSaltLength {
		return fmt.Errorf("store salt must be at least %d bytes", MinSaltLength)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive when enabled")
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath(prefix string) string {
	name := strings.ToLower(prefix) + ".yaml"
	locations := []string{
		name,
		"configs/" + name,
		"../configs/" + name,
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Checker: CheckerConfig{
			Policy:  PolicyServerManaged,
			Timeout: DefaultCheckTimeout,
		},
		Store: StoreConfig{
			Backend: BackendFile,
			Path:    "data/preferences.json",
			Salt:    DefaultStoreSalt,
		},
		Authority: AuthorityConfig{
			BaseURL:        fmt.Sprintf("http://localhost:%d", DefaultAuthorityPort),
			RequestTimeout: DefaultHTTPTimeout,
		},
		Issuer: IssuerConfig{
			EntitlementsFile: "entitlements.yaml",
		},
		Server: ServerConfig{
			Port:            DefaultCheckerPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/app.log",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			ServiceVersion: AppVersion,
			MetricsEnabled: true,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     DefaultRateLimit,
			Burst:   DefaultBurstSize,
		},
	}
}
