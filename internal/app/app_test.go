package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApplication(t *testing.T) *Application {
	t.Helper()
	t.Setenv("KEYPORTAL_UPSTREAM_ACCOUNT_ID", "acct-1")
	t.Setenv("KEYPORTAL_UPSTREAM_TOKEN", "token-1")
	t.Setenv("KEYPORTAL_SECURITY_ALLOWED_DOMAIN", "portal.example.com")
	t.Setenv("KEYPORTAL_PORTAL_USER_EMAIL", "user@example.com")
	t.Setenv("KEYPORTAL_PORTAL_USER_NAME", "Test User")
	t.Setenv("KEYPORTAL_LOGGING_LEVEL", "error")

	app, err := NewApplication()
	require.NoError(t, err)
	t.Cleanup(app.Hub.Stop)
	return app
}

func TestNewApplication_WiresEverything(t *testing.T) {
	app := newTestApplication(t)

	assert.NotNil(t, app.Config)
	assert.NotNil(t, app.Logger)
	assert.NotNil(t, app.Router)
	assert.NotNil(t, app.Server)
	assert.NotNil(t, app.Gateway)
	assert.NotNil(t, app.Store)
	assert.NotNil(t, app.Hub)
	assert.Equal(t, ":3001", app.Server.Addr)
}

func TestRouter_HealthEndpoint(t *testing.T) {
	app := newTestApplication(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	app := newTestApplication(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RelayRequiresOrigin(t *testing.T) {
	app := newTestApplication(t)

	body := strings.NewReader(`{"key":"ABC-123","userEmail":"user@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/validateLicense", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not allowed")
}

func TestRouter_RelayRejectsForeignOrigin(t *testing.T) {
	app := newTestApplication(t)

	body := strings.NewReader(`{"userEmail":"user@example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/getKeys", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_HealthIgnoresOrigin(t *testing.T) {
	// The origin guard scopes the credential-bearing relay only; health
	// stays reachable for probes that send no Origin header.
	app := newTestApplication(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RequestIDHeader(t *testing.T) {
	app := newTestApplication(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
