package config

import "time"

// Application constants
const (
	AppName    = "licensecheck"
	AppVersion = "1.0.0"

	// Environment prefixes of the two binaries
	CheckerEnvPrefix   = "LICENSECHECK"
	AuthorityEnvPrefix = "LICENSED"

	// Ports
	DefaultCheckerPort   = 8080
	DefaultAuthorityPort = 8090

	// Store
	MinSaltLength    = 16
	DefaultStoreSalt = "licensecheck-default-salt"

	// Timeouts
	DefaultCheckTimeout = 10 * time.Second
	DefaultHTTPTimeout  = 30 * time.Second

	// Rate limiting
	DefaultRateLimit = 10 // requests per second per client
	DefaultBurstSize = 20
)
