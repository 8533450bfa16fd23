package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apierrors "licensecheck/internal/errors"
	"licensecheck/internal/infrastructure"
	"licensecheck/pkg/contracts"
	api "licensecheck/pkg/contracts/api/v1"
)

// maxCheckBody caps the size of a decoded check request.
const maxCheckBody = 16 << 10

// CheckHandler serves the licensing authority API.
type CheckHandler struct {
	issuer   CheckIssuer
	errors   *apierrors.ErrorHandler
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewCheckHandler creates a new check handler
func NewCheckHandler(issuer CheckIssuer, errHandler *apierrors.ErrorHandler, logger *slog.Logger) *CheckHandler {
	return &CheckHandler{
		issuer:   issuer,
		errors:   errHandler,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "checks")),
		now:      time.Now,
	}
}

// RegisterRoutes registers the v1 authority endpoints on r.
func (h *CheckHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get(api.HealthPath, h.Health)
		r.Post(api.ChecksPath, h.Check)
	})
}

// Health handles GET /v1/health
func (h *CheckHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.HealthResponse{
		Status:    "healthy",
		Version:   contracts.Version,
		Timestamp: h.now().UTC(),
	})
}

// Check handles POST /v1/checks
func (h *CheckHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("licensecheck/authority").Start(r.Context(), "authority.check")
	defer span.End()

	var req api.CheckRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxCheckBody)
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errors.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.errors.HandleError(w, r, apierrors.FromValidation(err))
		return
	}

	span.SetAttributes(
		attribute.String("license.package_id", req.PackageID),
		attribute.Int("license.nonce", int(req.Nonce)),
	)

	resp, err := h.issuer.Issue(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.Int("license.response_code", resp.Code))
	h.logger.DebugContext(ctx, "check request served",
		slog.String("package_id", req.PackageID),
		slog.Int("response_code", resp.Code),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)))

	render.JSON(w, r, api.CheckResponse{
		ResponseCode: resp.Code,
		SignedData:   resp.SignedData,
		Signature:    resp.Signature,
	})
}
