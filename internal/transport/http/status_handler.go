package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	apierrors "licensecheck/internal/errors"
	"licensecheck/internal/license"
)

// statusTimeout bounds how long the status endpoint waits on the checker.
const statusTimeout = 2 * time.Second

// PolicyStatus describes the policy's current decision.
type PolicyStatus struct {
	Kind              string `json:"kind"`
	AllowAccess       bool   `json:"allow_access"`
	LastResponse      string `json:"last_response"`
	ValidityTimestamp *int64 `json:"validity_timestamp,omitempty"`
	RetryUntil        *int64 `json:"retry_until,omitempty"`
	MaxRetries        *int64 `json:"max_retries,omitempty"`
	RetryCount        *int64 `json:"retry_count,omitempty"`
}

// StatusResponse is served by GET /status.
type StatusResponse struct {
	PackageID string        `json:"package_id"`
	Policy    PolicyStatus  `json:"policy"`
	Checker   license.Stats `json:"checker"`
	Timestamp time.Time     `json:"timestamp"`
}

// StatusHandler reports the checker's bookkeeping and policy state.
type StatusHandler struct {
	checker   CheckerStatus
	policy    PolicyState
	packageID string
	errors    *apierrors.ErrorHandler
	logger    *slog.Logger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(checker CheckerStatus, policy PolicyState, packageID string, errHandler *apierrors.ErrorHandler, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		checker:   checker,
		policy:    policy,
		packageID: packageID,
		errors:    errHandler,
		logger:    logger.With(slog.String("handler", "status")),
	}
}

// Status handles GET /status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	stats, err := h.checker.Stats(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "checker stats unavailable", slog.String("error", err.Error()))
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, StatusResponse{
		PackageID: h.packageID,
		Policy:    describePolicy(h.policy, h.checker.AllowAccess()),
		Checker:   stats,
		Timestamp: time.Now().UTC(),
	})
}

func describePolicy(p PolicyState, allow bool) PolicyStatus {
	status := PolicyStatus{
		Kind:         "strict",
		AllowAccess:  allow,
		LastResponse: p.LastResponse().String(),
	}
	if sm, ok := p.(ServerManagedState); ok {
		validity, retryUntil := sm.ValidityTimestamp(), sm.RetryUntil()
		maxRetries, retryCount := sm.MaxRetries(), sm.RetryCount()
		status.Kind = "server_managed"
		status.ValidityTimestamp = &validity
		status.RetryUntil = &retryUntil
		status.MaxRetries = &maxRetries
		status.RetryCount = &retryCount
	}
	return status
}
