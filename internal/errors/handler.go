package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"licensecheck/internal/license"
)

// ErrorHandler writes failures of the authority and checker endpoints as
// problem documents and logs them.
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler returns a handler; includeStack exposes panic details in
// responses and is meant for development only.
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError logs err and writes the matching problem response.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	problem := h.ErrorToProblem(err, r)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.LogAttrs(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("error_code", problem.ErrorCode),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	h.write(w, r, problem)
}

// ErrorToProblem classifies err. Context expiry is a timeout, an APIError
// keeps its status and code, a closed checker is a temporary outage and
// anything else is internal.
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *Problem {
	var apiErr *APIError
	switch {
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, context.Canceled):
		return newProblem(http.StatusGatewayTimeout, TypeTimeout,
			"the request did not finish in time", r)

	case stderrors.As(err, &apiErr):
		problemType, ok := problemTypeFor[apiErr.ErrorCode]
		if !ok {
			problemType = TypeInternal
		}
		problem := newProblem(apiErr.StatusCode, problemType, apiErr.Message, r)
		problem.ErrorCode = apiErr.ErrorCode
		problem.Details = apiErr.Details
		return problem

	case stderrors.Is(err, license.ErrCheckerClosed):
		problem := newProblem(http.StatusServiceUnavailable, TypeServiceDown,
			"the license checker is shutting down", r)
		problem.ErrorCode = CodeServiceUnavailable
		return problem
	}

	return newProblem(http.StatusInternalServerError, TypeInternal,
		"unexpected error while processing the request", r)
}

// HandlePanic logs a recovered panic and answers 500.
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	stack := string(debug.Stack())
	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("stack", stack),
	)

	problem := newProblem(http.StatusInternalServerError, TypeInternal, "unexpected error", r)
	if h.includeStack {
		problem.Panic = fmt.Sprint(recovered)
		problem.Stack = stack
	}
	h.write(w, r, problem)
}

// NotFound answers unknown routes.
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, newProblem(http.StatusNotFound, TypeNotFound, "no such endpoint", r))
}

// MethodNotAllowed answers known routes called with the wrong method.
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, newProblem(http.StatusMethodNotAllowed, TypeMethod,
		fmt.Sprintf("%s is not supported on %s", r.Method, r.URL.Path), r))
}

func (h *ErrorHandler) write(w http.ResponseWriter, r *http.Request, problem *Problem) {
	problem.TraceID = middleware.GetReqID(r.Context())
	_ = render.Render(w, r, problem)
}

// RecoveryMiddleware turns panics into problem responses. http.ErrAbortHandler
// is re-raised so net/http can abort the connection.
func RecoveryMiddleware(handler *ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					handler.HandlePanic(w, r, rec)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
