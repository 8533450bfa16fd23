// Package authority implements a reference licensing authority: it decides
// verdicts from configured entitlements and signs them the way license
// checkers expect.
package authority

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"licensecheck/internal/license"
	"licensecheck/internal/verifier"
	api "licensecheck/pkg/contracts/api/v1"
	"licensecheck/pkg/contracts/domain"
)

// AnonymousUser is signed into responses for requests that carry no user id.
const AnonymousUser = "anonymous"

// Issuer turns check requests into signed responses.
type Issuer struct {
	registry *Registry
	signer   *verifier.Signer
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *IssuerMetrics
}

// IssuerOption customises an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock sets the clock used for timestamps and extras.
func WithIssuerClock(c clock.Clock) IssuerOption {
	return func(i *Issuer) {
		if c != nil {
			i.clock = c
		}
	}
}

// WithIssuerLogger sets the structured logger.
func WithIssuerLogger(l *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithIssuerMetrics records every decision.
func WithIssuerMetrics(m *IssuerMetrics) IssuerOption {
	return func(i *Issuer) { i.metrics = m }
}

// NewIssuer creates an Issuer.
func NewIssuer(registry *Registry, signer *verifier.Signer, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		registry: registry,
		signer:   signer,
		clock:    clock.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(slog.String("component", "license_issuer"))
	return i
}

// Issue decides the response for req. Unknown packages get an unsigned
// InvalidPackageName; known packages get a signed Licensed or NotLicensed.
func (i *Issuer) Issue(ctx context.Context, req api.CheckRequest) (license.ServerResponse, error) {
	entitlement, ok := i.registry.Lookup(req.PackageID)
	if !ok {
		i.logger.WarnContext(ctx, "check for unknown package",
			slog.String("package_id", req.PackageID))
		i.metrics.record(ctx, verifier.InvalidPackageName)
		return verifier.Unsigned(verifier.InvalidPackageName), nil
	}

	userID := req.UserID
	if userID == "" {
		userID = AnonymousUser
	}

	now := i.clock.Now()
	data := verifier.ResponseData{
		ResponseCode: verifier.NotLicensed,
		Nonce:        req.Nonce,
		PackageName:  req.PackageID,
		VersionCode:  req.VersionLabel,
		UserID:       userID,
		Timestamp:    now.UnixMilli(),
	}
	if entitlement.Licensed && entitlement.AllowsUser(req.UserID) {
		data.ResponseCode = verifier.Licensed
		data.Extras = extrasFor(entitlement, now)
	}

	resp, err := i.signer.Sign(data)
	if err != nil {
		return license.ServerResponse{}, fmt.Errorf("sign response: %w", err)
	}

	i.logger.InfoContext(ctx, "check answered",
		slog.String("package_id", req.PackageID),
		slog.String("response_code", data.ResponseCode.String()),
		slog.Int("extras", len(data.Extras)))
	i.metrics.record(ctx, data.ResponseCode)
	return resp, nil
}

// extrasFor derives VT, GT and GR from an entitlement. Zero settings are
// omitted so the checker falls back to its own defaults.
func extrasFor(e domain.Entitlement, now time.Time) license.Extras {
	extras := license.Extras{}
	if e.Validity > 0 {
		extras[license.ExtraValidityTimestamp] = strconv.FormatInt(now.Add(e.Validity).UnixMilli(), 10)
	}
	if e.Grace > 0 {
		extras[license.ExtraRetryUntil] = strconv.FormatInt(now.Add(e.Grace).UnixMilli(), 10)
	}
	if e.MaxRetries > 0 {
		extras[license.ExtraMaxRetries] = strconv.Itoa(e.MaxRetries)
	}
	return extras
}

// IssuerMetrics counts issued responses by code
type IssuerMetrics struct {
	Responses metric.Int64Counter
}

// NewIssuerMetrics creates the issuer instruments on meter.
func NewIssuerMetrics(meter metric.Meter) (*IssuerMetrics, error) {
	responses, err := meter.Int64Counter(
		"license_authority_responses_total",
		metric.WithDescription("Responses issued by the licensing authority, by response code"),
	)
	if err != nil {
		return nil, err
	}
	return &IssuerMetrics{Responses: responses}, nil
}

func (m *IssuerMetrics) record(ctx context.Context, code verifier.ResponseCode) {
	if m == nil {
		return
	}
	m.Responses.Add(ctx, 1, metric.WithAttributes(attribute.String("response_code", code.String())))
}
