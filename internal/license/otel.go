package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	TracerName = "license-checker"
	MeterName  = "license-checker"
)

// CheckMetrics holds the checker's OpenTelemetry instruments.
// A nil *CheckMetrics records nothing.
type CheckMetrics struct {
	ChecksRequested   metric.Int64Counter
	CacheHits         metric.Int64Counter
	ChecksDispatched  metric.Int64Counter
	ChecksResolved    metric.Int64Counter
	Timeouts          metric.Int64Counter
	DispatchFailures  metric.Int64Counter
	LateResponses     metric.Int64Counter
	CheckDuration     metric.Float64Histogram
	OutstandingChecks metric.Int64UpDownCounter
}

// InitializeCheckMetrics creates all checker metrics on meter.
func InitializeCheckMetrics(meter metric.Meter) (*CheckMetrics, error) {
	m := &CheckMetrics{}
	var err error

	m.ChecksRequested, err = meter.Int64Counter(
		"license_checks_requested_total",
		metric.WithDescription("Total number of license checks requested"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checks requested counter: %w", err)
	}

	m.CacheHits, err = meter.Int64Counter(
		"license_check_cache_hits_total",
		metric.WithDescription("Checks answered from the policy without contacting the server"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.ChecksDispatched, err = meter.Int64Counter(
		"license_checks_dispatched_total",
		metric.WithDescription("Checks sent to the licensing service"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checks dispatched counter: %w", err)
	}

	m.ChecksResolved, err = meter.Int64Counter(
		"license_checks_resolved_total",
		metric.WithDescription("Checks resolved, by outcome and result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checks resolved counter: %w", err)
	}

	m.Timeouts, err = meter.Int64Counter(
		"license_check_timeouts_total",
		metric.WithDescription("Dispatched checks that timed out"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create timeouts counter: %w", err)
	}

	m.DispatchFailures, err = meter.Int64Counter(
		"license_check_dispatch_failures_total",
		metric.WithDescription("Checks whose dispatch call failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch failures counter: %w", err)
	}

	m.LateResponses, err = meter.Int64Counter(
		"license_check_late_responses_total",
		metric.WithDescription("Responses that arrived after their check was resolved"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create late responses counter: %w", err)
	}

	m.CheckDuration, err = meter.Float64Histogram(
		"license_check_duration_seconds",
		metric.WithDescription("Time from check request to resolution"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check duration histogram: %w", err)
	}

	m.OutstandingChecks, err = meter.Int64UpDownCounter(
		"license_checks_outstanding",
		metric.WithDescription("Checks queued or in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outstanding checks counter: %w", err)
	}

	return m, nil
}

func (m *CheckMetrics) recordRequested(ctx context.Context) {
	if m == nil {
		return
	}
	m.ChecksRequested.Add(ctx, 1)
}

func (m *CheckMetrics) recordCacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1)
}

func (m *CheckMetrics) recordDispatched(ctx context.Context) {
	if m == nil {
		return
	}
	m.ChecksDispatched.Add(ctx, 1)
}

func (m *CheckMetrics) recordDispatchFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.DispatchFailures.Add(ctx, 1)
}

func (m *CheckMetrics) recordTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.Timeouts.Add(ctx, 1)
}

func (m *CheckMetrics) recordLateResponse(ctx context.Context) {
	if m == nil {
		return
	}
	m.LateResponses.Add(ctx, 1)
}

func (m *CheckMetrics) recordOutstanding(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.OutstandingChecks.Add(ctx, delta)
}

func (m *CheckMetrics) recordResolved(ctx context.Context, outcome string, kind ResultKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("result", kind.String()),
	)
	m.ChecksResolved.Add(ctx, 1, attrs)
	m.CheckDuration.Record(ctx, elapsed.Seconds(), attrs)
}
