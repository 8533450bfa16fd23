package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "licensecheck/internal/errors"
	"licensecheck/internal/license"
	api "licensecheck/pkg/contracts/api/v1"
)

type mockIssuer struct {
	mock.Mock
}

func (m *mockIssuer) Issue(ctx context.Context, req api.CheckRequest) (license.ServerResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(license.ServerResponse), args.Error(1)
}

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) AllowAccess() bool {
	return m.Called().Bool(0)
}

func (m *mockChecker) Stats(ctx context.Context) (license.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(license.Stats), args.Error(1)
}

type managedState struct{}

func (managedState) LastResponse() license.Verdict { return license.Retry }
func (managedState) ValidityTimestamp() int64      { return 100 }
func (managedState) RetryUntil() int64             { return 200 }
func (managedState) MaxRetries() int64             { return 10 }
func (managedState) RetryCount() int64             { return 3 }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCheckHandler(issuer CheckIssuer) http.Handler {
	logger := quietLogger()
	r := chi.NewRouter()
	NewCheckHandler(issuer, apierrors.NewErrorHandler(logger, false), logger).RegisterRoutes(r)
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCheckHandlerHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newCheckHandler(&mockIssuer{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, api.HealthPath, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.NotEmpty(t, body.Version)
}

func TestCheckHandlerIssues(t *testing.T) {
	issuer := &mockIssuer{}
	want := api.CheckRequest{Nonce: 7, PackageID: "com.example.pro", VersionLabel: "1.0", UserID: "alice"}
	issuer.On("Issue", mock.Anything, want).Return(license.ServerResponse{Code: 0, SignedData: "0|7|...", Signature: "sig"}, nil)

	rec := httptest.NewRecorder()
	body := `{"nonce":7,"package_id":"com.example.pro","version_label":"1.0","user_id":"alice"}`
	newCheckHandler(issuer).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, api.ChecksPath, strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp api.CheckResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, api.CheckResponse{ResponseCode: 0, SignedData: "0|7|...", Signature: "sig"}, resp)
	issuer.AssertExpectations(t)
}

func TestCheckHandlerRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed json", `{"nonce":`, apierrors.CodeInvalidRequest},
		{"missing package", `{"nonce":1}`, apierrors.CodeValidationFailed},
		{"oversized user", `{"package_id":"a","user_id":"` + strings.Repeat("u", 129) + `"}`, apierrors.CodeValidationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := &mockIssuer{}
			rec := httptest.NewRecorder()
			newCheckHandler(issuer).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, api.ChecksPath, strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, decodeBody(t, rec)["error_code"])
			issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
		})
	}
}

func TestCheckHandlerIssuerFailure(t *testing.T) {
	issuer := &mockIssuer{}
	issuer.On("Issue", mock.Anything, mock.Anything).Return(license.ServerResponse{}, errors.New("sign failed"))

	rec := httptest.NewRecorder()
	newCheckHandler(issuer).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, api.ChecksPath, strings.NewReader(`{"package_id":"a"}`)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusHandler(t *testing.T) {
	logger := quietLogger()
	errHandler := apierrors.NewErrorHandler(logger, false)

	t.Run("server managed", func(t *testing.T) {
		checker := &mockChecker{}
		checker.On("Stats", mock.Anything).Return(license.Stats{Pending: 1, Connecting: true}, nil)
		checker.On("AllowAccess").Return(true)

		rec := httptest.NewRecorder()
		NewStatusHandler(checker, managedState{}, "com.example.pro", errHandler, logger).
			Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "com.example.pro", body.PackageID)
		assert.Equal(t, "server_managed", body.Policy.Kind)
		assert.True(t, body.Policy.AllowAccess)
		assert.Equal(t, license.Retry.String(), body.Policy.LastResponse)
		require.NotNil(t, body.Policy.RetryCount)
		assert.Equal(t, int64(3), *body.Policy.RetryCount)
		assert.Equal(t, 1, body.Checker.Pending)
		assert.True(t, body.Checker.Connecting)
	})

	t.Run("strict", func(t *testing.T) {
		checker := &mockChecker{}
		checker.On("Stats", mock.Anything).Return(license.Stats{}, nil)
		checker.On("AllowAccess").Return(false)

		rec := httptest.NewRecorder()
		NewStatusHandler(checker, license.NewStrictPolicy(), "com.example.pro", errHandler, logger).
			Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		body := decodeBody(t, rec)
		policy := body["policy"].(map[string]any)
		assert.Equal(t, "strict", policy["kind"])
		assert.NotContains(t, policy, "retry_count")
	})

	t.Run("closed checker", func(t *testing.T) {
		checker := &mockChecker{}
		checker.On("Stats", mock.Anything).Return(license.Stats{}, license.ErrCheckerClosed)

		rec := httptest.NewRecorder()
		NewStatusHandler(checker, license.NewStrictPolicy(), "p", errHandler, logger).
			Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
