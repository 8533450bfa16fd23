package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apierrors "licensecheck/internal/errors"
	"licensecheck/internal/license"
)

// LicenseGate only lets requests through while the installation is licensed.
// A request arriving while the policy denies access triggers a fresh check.
type LicenseGate struct {
	checker         LicenseChecker
	logger          *slog.Logger
	excludePaths    map[string]struct{}
	excludePrefixes []string
	checkTimeout    time.Duration
	metrics         *GateMetrics
	tracer          trace.Tracer
}

// GateMetrics holds OpenTelemetry instruments for the gate
type GateMetrics struct {
	Requests      metric.Int64Counter
	Checks        metric.Int64Counter
	CheckDuration metric.Float64Histogram
}

// NewGateMetrics creates the gate instruments on meter.
func NewGateMetrics(meter metric.Meter) (*GateMetrics, error) {
	requests, err := meter.Int64Counter(
		"license_gate_requests_total",
		metric.WithDescription("Requests seen by the license gate, by decision"),
	)
	if err != nil {
		return nil, err
	}

	checks, err := meter.Int64Counter(
		"license_gate_checks_total",
		metric.WithDescription("License checks triggered by gated requests, by result"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"license_gate_check_duration_seconds",
		metric.WithDescription("Time a gated request waited for a license check"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &GateMetrics{Requests: requests, Checks: checks, CheckDuration: duration}, nil
}

// GateOption customises a LicenseGate.
type GateOption func(*LicenseGate)

// WithExcludedPaths lets the given exact paths bypass the gate.
func WithExcludedPaths(paths ...string) GateOption {
	return func(g *LicenseGate) {
		for _, p := range paths {
			g.excludePaths[p] = struct{}{}
		}
	}
}

// WithExcludedPrefixes lets every path under the given prefixes bypass the gate.
func WithExcludedPrefixes(prefixes ...string) GateOption {
	return func(g *LicenseGate) {
		g.excludePrefixes = append(g.excludePrefixes, prefixes...)
	}
}

// WithCheckTimeout bounds how long a request waits for a check.
func WithCheckTimeout(d time.Duration) GateOption {
	return func(g *LicenseGate) {
		if d > 0 {
			g.checkTimeout = d
		}
	}
}

// WithGateMetrics records gate decisions.
func WithGateMetrics(m *GateMetrics) GateOption {
	return func(g *LicenseGate) { g.metrics = m }
}

// NewLicenseGate creates the gate. Health and metrics endpoints are excluded
// by default.
func NewLicenseGate(checker LicenseChecker, logger *slog.Logger, opts ...GateOption) *LicenseGate {
	g := &LicenseGate{
		checker: checker,
		logger:  logger.With(slog.String("component", "license_gate")),
		excludePaths: map[string]struct{}{
			"/status":      {},
			"/metrics":     {},
			"/healthz":     {},
			"/favicon.ico": {},
		},
		checkTimeout: 15 * time.Second,
		tracer:       otel.Tracer("license-gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler returns the middleware handler function
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if g.excluded(r.URL.Path) {
			g.recordRequest(ctx, "excluded")
			next.ServeHTTP(w, r)
			return
		}

		if g.checker.AllowAccess() {
			g.recordRequest(ctx, "cached")
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := g.tracer.Start(ctx, "license_gate.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.path", r.URL.Path),
			))
		defer span.End()

		result, err := g.check(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			g.recordRequest(ctx, "check_failed")
			g.logger.WarnContext(ctx, "license check did not complete",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			g.reject(w, r, apierrors.ErrLicenseCheckFailed)
			return
		}

		span.SetAttributes(attribute.String("license.result", result.Kind.String()))

		switch result.Kind {
		case license.Allowed:
			g.recordRequest(ctx, "allowed")
			next.ServeHTTP(w, r.WithContext(ctx))
		case license.Denied:
			g.recordRequest(ctx, "denied")
			g.logger.InfoContext(ctx, "request denied by license policy",
				slog.String("path", r.URL.Path),
				slog.String("verdict", result.Verdict.String()))
			g.reject(w, r, apierrors.NewWithDetails(
				http.StatusForbidden,
				apierrors.CodeLicenseRequired,
				apierrors.ErrLicenseRequired.Message,
				map[string]string{"verdict": result.Verdict.String()},
			))
		default:
			g.recordRequest(ctx, "errored")
			g.logger.ErrorContext(ctx, "license check reported an application error",
				slog.String("path", r.URL.Path),
				slog.String("error_code", result.Error.String()))
			g.reject(w, r, apierrors.NewWithDetails(
				http.StatusServiceUnavailable,
				apierrors.CodeLicenseCheckFailed,
				apierrors.ErrLicenseCheckFailed.Message,
				map[string]string{"error_code": result.Error.String()},
			))
		}
	})
}

func (g *LicenseGate) check(ctx context.Context) (license.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.checkTimeout)
	defer cancel()

	start := time.Now()
	result, err := g.checker.Check(ctx)

	if g.metrics != nil {
		outcome := result.Kind.String()
		if err != nil {
			outcome = "incomplete"
			if errors.Is(err, context.DeadlineExceeded) {
				outcome = "timeout"
			}
		}
		attrs := metric.WithAttributes(attribute.String("result", outcome))
		g.metrics.Checks.Add(ctx, 1, attrs)
		g.metrics.CheckDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	return result, err
}

func (g *LicenseGate) excluded(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *LicenseGate) reject(w http.ResponseWriter, r *http.Request, apiErr *apierrors.APIError) {
	_ = render.Render(w, r, apierrors.NewErrorResponse(apiErr))
}

func (g *LicenseGate) recordRequest(ctx context.Context, decision string) {
	if g.metrics == nil {
		return
	}
	g.metrics.Requests.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}
