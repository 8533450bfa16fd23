// Package app wires the licensecheck binaries together: configuration,
// logging, OpenTelemetry, the license checker or the reference authority,
// the chi router and the HTTP server lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, YAML and environment
//	2. Initialize logging and observability
//	3. Open the preference store and build the policy
//	4. Build the checker (or the issuer for the authority)
//	5. Set up HTTP handlers and middleware
//	6. Serve until the context is cancelled, then shut down gracefully
//
// # Usage
//
//	application, err := app.NewCheckerApp(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer application.Close(context.Background())
//	return application.Run(ctx)
package app
