package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"licensecheck/internal/config"
	apierrors "licensecheck/internal/errors"
	"licensecheck/internal/infrastructure"
	custom "licensecheck/internal/middleware"
)

// routerDeps are the shared pieces every router is built from.
type routerDeps struct {
	Logger    *slog.Logger
	OTel      *infrastructure.OTelProviders
	RateLimit config.RateLimitConfig
	Errors    *apierrors.ErrorHandler
}

// newRouter builds the common middleware stack and lets routes register the
// application endpoints inside it. /metrics stays outside the group.
// Ordering: RequestID → RealIP → OTel → Logger → Recoverer → SecurityHeaders → RateLimit
func newRouter(deps routerDeps, routes func(r chi.Router)) (*chi.Mux, error) {
	r := chi.NewRouter()
	r.NotFound(deps.Errors.NotFound)
	r.MethodNotAllowed(deps.Errors.MethodNotAllowed)

	r.Use(custom.RequestID)
	r.Use(chimw.RealIP)

	otelMiddleware, err := custom.NewOTelMiddleware(deps.OTel)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenTelemetry middleware: %w", err)
	}

	r.Group(func(r chi.Router) {
		r.Use(otelMiddleware.Handler)
		r.Use(apierrors.RequestLogger(deps.Logger))
		r.Use(apierrors.RecoveryMiddleware(deps.Errors))
		r.Use(custom.SecurityHeaders)
		if deps.RateLimit.Enabled {
			r.Use(custom.NewClientRateLimiter(deps.RateLimit.RPS, deps.RateLimit.Burst, deps.Logger).Handler)
		}
		routes(r)
	})

	r.Handle("/metrics", deps.OTel.PrometheusHTTP)
	return r, nil
}

func newServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Port),
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
}

// listen opens the server's configured address.
func listen(server *http.Server) (net.Listener, error) {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}
	return ln, nil
}

// serve runs server on ln until ctx is cancelled and then shuts it down,
// waiting at most shutdownTimeout for in-flight requests. Extra tasks run in
// the same group and stop with it.
func serve(ctx context.Context, server *http.Server, ln net.Listener, shutdownTimeout time.Duration, logger *slog.Logger, tasks ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "HTTP server listening", slog.String("address", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	for _, task := range tasks {
		g.Go(func() error { return task(gctx) })
	}

	return g.Wait()
}
