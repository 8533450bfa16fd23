// Command licensed runs the reference licensing authority.
//
//	licensed serve    serve /v1/health, /v1/checks and /metrics (SIGHUP reloads entitlements)
//	licensed keygen   print a new ECDSA P-256 key pair for the issuer and checkers
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"licensecheck/internal/app"
	"licensecheck/internal/config"
	"licensecheck/internal/infrastructure"
	"licensecheck/internal/verifier"
	"licensecheck/pkg/contracts"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "serve":
		if err := serve(); err != nil {
			slog.Error("Application error", slog.String("error", err.Error()))
			return 1
		}
		return 0
	case "keygen":
		if err := keygen(stdout); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	case "version":
		fmt.Fprintln(stdout, contracts.CurrentBuild())
		return 0
	default:
		fmt.Fprintln(stderr, "usage: licensed <serve|keygen|version>")
		return 1
	}
}

func serve() error {
	cfg, err := config.Load(config.AuthorityEnvPrefix)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	application, err := app.NewAuthorityApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	closeErr := application.Close(shutdownCtx)

	logger.Info("Application shutdown complete")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return closeErr
}

// keygen prints the issuer's private key and the matching public key in the
// form the configuration expects.
func keygen(w io.Writer) error {
	key, err := verifier.GenerateKey()
	if err != nil {
		return err
	}
	private, err := verifier.EncodePrivateKey(key)
	if err != nil {
		return err
	}
	public, err := verifier.EncodePublicKey(&key.PublicKey)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s_ISSUER_PRIVATE_KEY=%s\n", config.AuthorityEnvPrefix, private)
	fmt.Fprintf(w, "%s_CHECKER_PUBLIC_KEY=%s\n", config.CheckerEnvPrefix, public)
	return nil
}
