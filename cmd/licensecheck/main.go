// Command licensecheck runs license checks against a licensing authority.
//
//	licensecheck check [-timeout 30s]   perform one check; exit 0 allowed, 2 denied, 3 application error
//	licensecheck serve                  run the gated demo server (/app, /status, /healthz, /metrics)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"licensecheck/internal/app"
	"licensecheck/internal/config"
	"licensecheck/internal/infrastructure"
	"licensecheck/internal/license"
	"licensecheck/pkg/contracts"
)

// Exit codes of the check command
const (
	exitAllowed          = 0
	exitFailure          = 1
	exitDenied           = 2
	exitApplicationError = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitFailure
	}

	switch args[0] {
	case "check":
		return runCheck(args[1:], stdout, stderr)
	case "serve":
		return runServe(args[1:], stderr)
	case "version":
		fmt.Fprintln(stdout, contracts.CurrentBuild())
		return exitAllowed
	default:
		usage(stderr)
		return exitFailure
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: licensecheck <check|serve|version> [flags]")
}

// setup loads configuration and builds the checker application.
func setup() (*app.CheckerApp, error) {
	cfg, err := config.Load(config.CheckerEnvPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version))

	return app.NewCheckerApp(cfg, logger)
}

func runCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	timeout := fs.Duration("timeout", 30*time.Second, "maximum time to wait for a verdict")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	application, err := setup()
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		return exitFailure
	}
	defer closeApp(application)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(infrastructure.EnsureTraceID(ctx), *timeout)
	defer cancel()

	result, err := application.Check(ctx)
	if err != nil {
		slog.Error("License check did not complete", slog.String("error", err.Error()))
	} else {
		fmt.Fprintln(stdout, result.String())
	}
	return exitCode(result, err)
}

// exitCode maps a check outcome to the process exit status.
func exitCode(result license.Result, err error) int {
	if err != nil {
		return exitFailure
	}
	switch result.Kind {
	case license.Allowed:
		return exitAllowed
	case license.Denied:
		return exitDenied
	default:
		return exitApplicationError
	}
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	application, err := setup()
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		return exitFailure
	}
	defer closeApp(application)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Application error", slog.String("error", err.Error()))
		return exitFailure
	}
	return exitAllowed
}

func closeApp(application *app.CheckerApp) {
	ctx, cancel := context.WithTimeout(context.Background(), application.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Close(ctx); err != nil {
		slog.Error("Shutdown error", slog.String("error", err.Error()))
	}
	slog.Info("Application shutdown complete")
	_ = infrastructure.CloseLogFile()
}
