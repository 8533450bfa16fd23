package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licensecheck/internal/config"
	apierrors "licensecheck/internal/errors"
	"licensecheck/internal/infrastructure"
	"licensecheck/internal/license"
	custom "licensecheck/internal/middleware"
	"licensecheck/internal/preferences"
	handlers "licensecheck/internal/transport/http"
	"licensecheck/internal/transport/httpchannel"
	"licensecheck/internal/verifier"
)

// statefulPolicy is a policy whose last verdict can be reported.
type statefulPolicy interface {
	license.Policy
	handlers.PolicyState
}

// CheckerApp is a licensed application: a Checker plus the gated demo server.
type CheckerApp struct {
	Config  *config.Config
	Logger  *slog.Logger
	OTel    *infrastructure.OTelProviders
	Store   *preferences.Store
	Policy  license.Policy
	Channel *httpchannel.Channel
	Checker *license.Checker
	Health  *license.CheckerHealth
	Router  *chi.Mux
	Server  *http.Server

	policyState handlers.PolicyState
	runtime     *infrastructure.RuntimeMetrics
}

// NewCheckerApp builds the checker and its HTTP surface from cfg.
func NewCheckerApp(cfg *config.Config, logger *slog.Logger) (*CheckerApp, error) {
	if cfg.Checker.PackageID == "" {
		return nil, errors.New("checker package id is required")
	}

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &CheckerApp{
		Config: cfg,
		Logger: logger,
		OTel:   otelProviders,
	}
	if err := a.initialize(); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *CheckerApp) initialize() error {
	cfg := a.Config

	runtimeMetrics, err := infrastructure.RegisterRuntimeMetrics(a.OTel.Meter, time.Now())
	if err != nil {
		return fmt.Errorf("failed to register runtime metrics: %w", err)
	}
	a.runtime = runtimeMetrics

	// before the store opens: a bad key leaves persisted state untouched
	publicKey, err := a.publicKey()
	if err != nil {
		return err
	}

	policy, err := a.buildPolicy()
	if err != nil {
		return err
	}
	a.Policy = policy
	a.policyState = policy

	a.Channel = httpchannel.New(httpchannel.Config{
		BaseURL:        cfg.Authority.BaseURL,
		RequestTimeout: cfg.Authority.RequestTimeout,
		VersionLabel:   cfg.Checker.VersionLabel,
		UserID:         cfg.Checker.UserID,
	}, httpchannel.WithLogger(a.Logger))

	checkMetrics, err := license.InitializeCheckMetrics(a.OTel.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize check metrics: %w", err)
	}

	checkerCfg := license.CheckerConfig{
		Policy:       policy,
		Channel:      a.Channel,
		Verifier:     verifier.NewSignatureVerifier(a.Logger),
		PublicKey:    publicKey,
		PackageID:    cfg.Checker.PackageID,
		VersionLabel: cfg.Checker.VersionLabel,
		Timeout:      cfg.Checker.Timeout,
	}

	checker, err := license.NewChecker(checkerCfg,
		license.WithLogger(a.Logger),
		license.WithMetrics(checkMetrics),
		license.WithTracer(a.OTel.Tracer),
	)
	if err != nil {
		return fmt.Errorf("failed to create license checker: %w", err)
	}
	a.Checker = checker
	a.Health = license.NewCheckerHealth(checker, license.DefaultHealthCheckConfig())

	return a.setupRouter()
}

// buildPolicy opens the preference store for the server-managed policy.
// The strict policy keeps nothing on disk.
func (a *CheckerApp) buildPolicy() (statefulPolicy, error) {
	cfg := a.Config
	if cfg.Checker.Policy == config.PolicyStrict {
		return license.NewStrictPolicy(), nil
	}

	store, err := preferences.Open(cfg.Store, cfg.Checker.PackageID, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open preference store: %w", err)
	}
	a.Store = store

	return license.NewServerManagedPolicy(store, license.WithPolicyLogger(a.Logger)), nil
}

func (a *CheckerApp) publicKey() (*ecdsa.PublicKey, error) {
	encoded := a.Config.Checker.PublicKey
	if encoded == "" {
		return nil, errors.New("checker public key is required (print one with licensed keygen)")
	}
	key, err := verifier.ParsePublicKey(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid checker public key: %w", err)
	}
	return key, nil
}

func (a *CheckerApp) setupRouter() error {
	errHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)

	gateMetrics, err := custom.NewGateMetrics(a.OTel.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize gate metrics: %w", err)
	}
	gate := custom.NewLicenseGate(a.Checker, a.Logger, custom.WithGateMetrics(gateMetrics))

	status := handlers.NewStatusHandler(a.Checker, a.policyState, a.Config.Checker.PackageID, errHandler, a.Logger)

	router, err := newRouter(routerDeps{
		Logger:    a.Logger,
		OTel:      a.OTel,
		RateLimit: a.Config.RateLimit,
		Errors:    errHandler,
	}, func(r chi.Router) {
		r.Get("/status", status.Status)
		r.Get("/healthz", a.Health.HTTPHandler())

		r.Group(func(r chi.Router) {
			r.Use(gate.Handler)
			r.Get("/app", a.serveApp)
		})
	})
	if err != nil {
		return err
	}

	a.Router = router
	a.Server = newServer(a.Config.Server, router)
	return nil
}

// serveApp stands in for the licensed application content.
func (a *CheckerApp) serveApp(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"package_id": a.Config.Checker.PackageID,
		"message":    "access granted",
	})
}

// Check performs one license check and waits for its outcome.
func (a *CheckerApp) Check(ctx context.Context) (license.Result, error) {
	return a.Checker.Check(ctx)
}

// Run serves the gated demo server on the configured port until ctx is done.
func (a *CheckerApp) Run(ctx context.Context) error {
	ln, err := listen(a.Server)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves the gated demo server on ln until ctx is done.
func (a *CheckerApp) Serve(ctx context.Context, ln net.Listener) error {
	a.Logger.InfoContext(ctx, "Starting license checker",
		slog.String("package_id", a.Config.Checker.PackageID),
		slog.String("policy", a.Config.Checker.Policy),
		slog.String("authority", a.Config.Authority.BaseURL))
	return serve(ctx, a.Server, ln, a.Config.Server.ShutdownTimeout, a.Logger)
}

// Close stops the checker, resolving outstanding checks with Retry, and
// releases the store and telemetry.
func (a *CheckerApp) Close(ctx context.Context) error {
	var errs []error
	if a.Checker != nil {
		if err := a.Checker.Close(ctx); err != nil && !errors.Is(err, license.ErrCheckerClosed) {
			errs = append(errs, fmt.Errorf("checker close: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
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
