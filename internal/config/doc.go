// Package config provides centralized configuration management for the
// license checker and the reference licensing authority.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// Each binary namespaces its variables with its own prefix:
//
//	LICENSECHECK_CHECKER_PACKAGE_ID=com.example.app
//	LICENSECHECK_CHECKER_PUBLIC_KEY=MFkwEwYHKoZIzj0CAQYIKoZIzj0DAQcDQgAE...
//	LICENSECHECK_STORE_BACKEND=sqlite
//	LICENSECHECK_AUTHORITY_BASE_URL=https://licensing.example.com
//	LICENSED_ISSUER_PRIVATE_KEY=MIGHAgEAMBMGByqGSM49AgEGCCqGSM49AwEHBG0wawIBAQQg...
//	LICENSED_RATE_LIMIT_RPS=5
//
// <PREFIX>_CONFIG_FILE names the YAML file explicitly; otherwise
// <prefix>.yaml is looked up in the working directory and in configs/.
//
// # Paths
//
// Relative store and log file paths are resolved against the executable
// directory, never the current working directory.
package config
