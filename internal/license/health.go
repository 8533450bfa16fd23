package license

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health of a specific component
type ComponentHealth struct {
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheckConfig configures health check behavior
type HealthCheckConfig struct {
	StatsTimeout time.Duration
	// MaxOutstanding marks the checker degraded once this many checks are queued or in flight.
	MaxOutstanding int
}

// DefaultHealthCheckConfig returns sensible defaults
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		StatsTimeout:   2 * time.Second,
		MaxOutstanding: 64,
	}
}

// HealthCheckResult is the payload served by HTTPHandler.
type HealthCheckResult struct {
	OverallStatus HealthStatus                `json:"overall_status"`
	Message       string                      `json:"message"`
	Timestamp     time.Time                   `json:"timestamp"`
	Components    map[string]*ComponentHealth `json:"components"`
	TraceID       string                      `json:"trace_id,omitempty"`
}

// CheckerHealth reports on the checker's worker and on the policy's current decision.
type CheckerHealth struct {
	checker *Checker
	config  HealthCheckConfig
}

// NewCheckerHealth creates a health check for checker.
func NewCheckerHealth(checker *Checker, config HealthCheckConfig) *CheckerHealth {
	if config.StatsTimeout <= 0 {
		config.StatsTimeout = DefaultHealthCheckConfig().StatsTimeout
	}
	return &CheckerHealth{checker: checker, config: config}
}

// PerformHealthCheck inspects the checker and the policy.
func (hc *CheckerHealth) PerformHealthCheck(ctx context.Context) *HealthCheckResult {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "license.health_check")
	defer span.End()

	components := map[string]*ComponentHealth{
		"worker": hc.checkWorker(ctx),
		"policy": hc.checkPolicy(),
	}

	status := HealthStatusHealthy
	for _, c := range components {
		switch {
		case c.Status == HealthStatusUnhealthy:
			status = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && status == HealthStatusHealthy:
			status = HealthStatusDegraded
		}
	}
	span.SetAttributes(attribute.String("license.health", string(status)))

	return &HealthCheckResult{
		OverallStatus: status,
		Message:       fmt.Sprintf("license checker is %s", status),
		Timestamp:     hc.checker.clock.Now(),
		Components:    components,
		TraceID:       traceIDFromContext(ctx),
	}
}

func (hc *CheckerHealth) checkWorker(ctx context.Context) *ComponentHealth {
	health := &ComponentHealth{Timestamp: hc.checker.clock.Now()}

	ctx, cancel := context.WithTimeout(ctx, hc.config.StatsTimeout)
	defer cancel()

	stats, err := hc.checker.Stats(ctx)
	if err != nil {
		health.Status = HealthStatusUnhealthy
		health.Message = "Checker worker not responding"
		health.Error = err.Error()
		return health
	}

	health.Metadata = map[string]interface{}{
		"pending":    stats.Pending,
		"in_flight":  stats.InFlight,
		"connected":  stats.Connected,
		"connecting": stats.Connecting,
	}
	if hc.config.MaxOutstanding > 0 && stats.Pending+stats.InFlight >= hc.config.MaxOutstanding {
		health.Status = HealthStatusDegraded
		health.Message = "Check backlog is growing"
		return health
	}
	health.Status = HealthStatusHealthy
	health.Message = "Checker worker responsive"
	return health
}

func (hc *CheckerHealth) checkPolicy() *ComponentHealth {
	health := &ComponentHealth{Timestamp: hc.checker.clock.Now()}
	allowed := hc.checker.AllowAccess()
	health.Metadata = map[string]interface{}{"allow_access": allowed}
	if allowed {
		health.Status = HealthStatusHealthy
		health.Message = "Access currently allowed"
	} else {
		// a fresh check may still grant access
		health.Status = HealthStatusDegraded
		health.Message = "Access requires a server check"
	}
	return health
}

// HTTPHandler creates an HTTP handler for health checks
func (hc *CheckerHealth) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := hc.PerformHealthCheck(r.Context())

		statusCode := http.StatusOK
		if result.OverallStatus == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(result)
	}
}
