package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apierrors "keyportal/internal/errors"
	"keyportal/internal/gateway"
	"keyportal/internal/middleware"
	"keyportal/internal/shared/testutil"
)

// MockGatewayService implements the GatewayService interface for testing
type MockGatewayService struct {
	mock.Mock
}

func (m *MockGatewayService) ResolveFingerprintByUser(ctx context.Context, key, email string) (string, *apierrors.List) {
	args := m.Called(ctx, key, email)
	var list *apierrors.List
	if v := args.Get(1); v != nil {
		list = v.(*apierrors.List)
	}
	return args.String(0), list
}

func (m *MockGatewayService) ListLicensesForUser(ctx context.Context, email string) ([]gateway.LicenseSummary, *apierrors.List) {
	args := m.Called(ctx, email)
	var summaries []gateway.LicenseSummary
	if v := args.Get(0); v != nil {
		summaries = v.([]gateway.LicenseSummary)
	}
	var list *apierrors.List
	if v := args.Get(1); v != nil {
		list = v.(*apierrors.List)
	}
	return summaries, list
}

func newGatewayRouter(service GatewayService, allowedDomain string) chi.Router {
	handler := NewGatewayHandler(service, testutil.Logger())
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.OriginGuard(allowedDomain, testutil.Logger()))
		r.Mount("/", handler.Routes())
	})
	return r
}

func postJSON(t *testing.T, router chi.Router, path, origin string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestValidateLicense_Success(t *testing.T) {
	service := new(MockGatewayService)
	service.On("ResolveFingerprintByUser", mock.Anything, "ABC-123", "user@example.com").
		Return("fp-1", nil).Once()

	router := newGatewayRouter(service, "portal.example.com")
	w := postJSON(t, router, "/api/validateLicense", "https://portal.example.com",
		map[string]string{"key": "ABC-123", "userEmail": "user@example.com"})

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "fp-1", body["fingerprint"])
	service.AssertExpectations(t)
}

func TestValidateLicense_LicenseNotFound(t *testing.T) {
	service := new(MockGatewayService)
	service.On("ResolveFingerprintByUser", mock.Anything, "UNKNOWN", "user@example.com").
		Return("", apierrors.NewList(http.StatusOK, apierrors.LicenseNotFound())).Once()

	router := newGatewayRouter(service, "portal.example.com")
	w := postJSON(t, router, "/api/validateLicense", "https://portal.example.com",
		map[string]string{"key": "UNKNOWN", "userEmail": "user@example.com"})

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Errors []apierrors.APIError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, apierrors.TitleLicenseNotFound, body.Errors[0].Title)
}

func TestValidateLicense_UpstreamFailureStatus(t *testing.T) {
	service := new(MockGatewayService)
	service.On("ResolveFingerprintByUser", mock.Anything, "ABC-123", "user@example.com").
		Return("", apierrors.NewList(http.StatusNotFound, apierrors.LicenseCheckError())).Once()

	router := newGatewayRouter(service, "portal.example.com")
	w := postJSON(t, router, "/api/validateLicense", "https://portal.example.com",
		map[string]string{"key": "ABC-123", "userEmail": "user@example.com"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), apierrors.TitleLicenseCheckError)
}

func TestValidateLicense_OriginMismatchBeatsValidPayload(t *testing.T) {
	service := new(MockGatewayService)

	router := newGatewayRouter(service, "portal.example.com")
	w := postJSON(t, router, "/api/validateLicense", "https://evil.example.com",
		map[string]string{"key": "ABC-123", "userEmail": "user@example.com"})

	assert.Equal(t, http.StatusForbidden, w.Code)
	service.AssertNotCalled(t, "ResolveFingerprintByUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidateLicense_MissingOriginRejected(t *testing.T) {
	service := new(MockGatewayService)

	router := newGatewayRouter(service, "portal.example.com")
	w := postJSON(t, router, "/api/validateLicense", "",
		map[string]string{"key": "ABC-123", "userEmail": "user@example.com"})

	assert.Equal(t, http.StatusForbidden, w.Code)
	service.AssertNotCalled(t, "ResolveFingerprintByUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidateLicense_BadRequestBody(t *testing.T) {
	service := new(MockGatewayService)
	router := newGatewayRouter(service, "portal.example.com")

	t.Run("missing key", func(t *testing.T) {
		w := postJSON(t, router, "/api/validateLicense", "https://portal.example.com",
			map[string]string{"userEmail": "user@example.com"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid email", func(t *testing.T) {
		w := postJSON(t, router, "/api/validateLicense", "https://portal.example.com",
			map[string]string{"key": "ABC-123", "userEmail": "not-an-email"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed json", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/validateLicense", bytes.NewReader([]byte("{")))
		r.Header.Set("Origin", "https://portal.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	service.AssertNotCalled(t, "ResolveFingerprintByUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetKeys_Success(t *testing.T) {
	service := new(MockGatewayService)
	service.On("ListLicensesForUser", mock.Anything, "user@example.com").
		Return([]gateway.LicenseSummary{
			{Name: "Team", Key: "ABC-123"},
			{Name: "Solo", Key: "DEF-456"},
		}, nil).Once()

	router := newGatewayRouter(service, "portal.example.com")
	w := postJSON(t, router, "/api/getKeys", "http://portal.example.com",
		map[string]string{"userEmail": "user@example.com"})

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Licenses []gateway.LicenseSummary `json:"licenses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Licenses, 2)
	assert.Equal(t, "ABC-123", body.Licenses[0].Key)
}

func TestGetKeys_NoLicenses(t *testing.T) {
	service := new(MockGatewayService)
	service.On("ListLicensesForUser", mock.Anything, "user@example.com").
		Return(nil, apierrors.NewList(http.StatusOK, apierrors.NoLicenses())).Once()

	router := newGatewayRouter(service, "portal.example.com")
	w := postJSON(t, router, "/api/getKeys", "https://portal.example.com",
		map[string]string{"userEmail": "user@example.com"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), apierrors.TitleNoLicenses)
}

func TestHealthHandler(t *testing.T) {
	handler := NewHealthHandler("1.0.0")
	r := chi.NewRouter()
	r.Mount("/api/health", handler.Routes())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
}
