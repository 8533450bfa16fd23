package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"licensecheck/internal/authority"
	"licensecheck/internal/config"
	apierrors "licensecheck/internal/errors"
	"licensecheck/internal/infrastructure"
	handlers "licensecheck/internal/transport/http"
	"licensecheck/internal/verifier"
)

// AuthorityApp is the reference licensing authority server.
type AuthorityApp struct {
	Config   *config.Config
	Logger   *slog.Logger
	OTel     *infrastructure.OTelProviders
	Registry *authority.Registry
	Issuer   *authority.Issuer
	Signer   *verifier.Signer
	Router   *chi.Mux
	Server   *http.Server

	runtime *infrastructure.RuntimeMetrics
}

// NewAuthorityApp loads the signing key and entitlements and builds the
// authority's HTTP surface.
func NewAuthorityApp(cfg *config.Config, logger *slog.Logger) (*AuthorityApp, error) {
	if cfg.Issuer.PrivateKey == "" {
		return nil, errors.New("issuer private key is required (generate one with the keygen command)")
	}
	key, err := verifier.ParsePrivateKey(cfg.Issuer.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer private key: %w", err)
	}
	signer, err := verifier.NewSigner(key)
	if err != nil {
		return nil, err
	}

	registry, err := authority.LoadRegistry(cfg.Issuer.EntitlementsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlements: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &AuthorityApp{
		Config:   cfg,
		Logger:   logger,
		OTel:     otelProviders,
		Registry: registry,
		Signer:   signer,
	}
	if err := a.initialize(); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}

	logger.Info("Entitlements loaded",
		slog.String("file", cfg.Issuer.EntitlementsFile),
		slog.Int("packages", registry.Len()))
	return a, nil
}

func (a *AuthorityApp) initialize() error {
	runtimeMetrics, err := infrastructure.RegisterRuntimeMetrics(a.OTel.Meter, time.Now())
	if err != nil {
		return fmt.Errorf("failed to register runtime metrics: %w", err)
	}
	a.runtime = runtimeMetrics

	issuerMetrics, err := authority.NewIssuerMetrics(a.OTel.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize issuer metrics: %w", err)
	}
	a.Issuer = authority.NewIssuer(a.Registry, a.Signer,
		authority.WithIssuerLogger(a.Logger),
		authority.WithIssuerMetrics(issuerMetrics))

	errHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)
	checks := handlers.NewCheckHandler(a.Issuer, errHandler, a.Logger)

	router, err := newRouter(routerDeps{
		Logger:    a.Logger,
		OTel:      a.OTel,
		RateLimit: a.Config.RateLimit,
		Errors:    errHandler,
	}, checks.RegisterRoutes)
	if err != nil {
		return err
	}

	a.Router = router
	a.Server = newServer(a.Config.Server, router)
	return nil
}

// Reload re-reads the entitlements file. The current set stays in effect
// when the file is invalid.
func (a *AuthorityApp) Reload() error {
	set, err := authority.ReadEntitlements(a.Config.Issuer.EntitlementsFile)
	if err != nil {
		return err
	}
	if err := a.Registry.Replace(set); err != nil {
		return err
	}
	a.Logger.Info("Entitlements reloaded", slog.Int("packages", a.Registry.Len()))
	return nil
}

// Run serves the authority on the configured port until ctx is done.
func (a *AuthorityApp) Run(ctx context.Context) error {
	ln, err := listen(a.Server)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves the authority on ln until ctx is done. SIGHUP reloads the
// entitlements.
func (a *AuthorityApp) Serve(ctx context.Context, ln net.Listener) error {
	a.Logger.InfoContext(ctx, "Starting licensing authority",
		slog.String("entitlements", a.Config.Issuer.EntitlementsFile))
	return serve(ctx, a.Server, ln, a.Config.Server.ShutdownTimeout, a.Logger, a.reloadOnHangup)
}

func (a *AuthorityApp) reloadOnHangup(ctx context.Context) error {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hangup:
			if err := a.Reload(); err != nil {
				a.Logger.Error("Entitlements reload failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close releases telemetry.
func (a *AuthorityApp) Close(ctx context.Context) error {
	var errs []error
	if a.runtime != nil {
		if err := a.runtime.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("runtime metrics: %w", err))
		}
	}
	if a.OTel != nil {
		if err := a.OTel.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
