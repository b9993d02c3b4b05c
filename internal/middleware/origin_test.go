package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "keyportal/internal/errors"
	"keyportal/internal/shared/testutil"
)

func TestOriginGuard(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		wantStatus int
		wantNext   bool
	}{
		{"http form admitted", "http://portal.example.com", http.StatusOK, true},
		{"https form admitted", "https://portal.example.com", http.StatusOK, true},
		{"missing origin rejected", "", http.StatusForbidden, false},
		{"wrong host rejected", "https://evil.example.com", http.StatusForbidden, false},
		{"subdomain rejected", "https://sub.portal.example.com", http.StatusForbidden, false},
		{"port mismatch rejected", "https://portal.example.com:8443", http.StatusForbidden, false},
		{"path suffix rejected", "https://portal.example.com/app", http.StatusForbidden, false},
		{"scheme only prefix rejected", "portal.example.com", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nextCalled := false
			guard := OriginGuard("portal.example.com", testutil.Logger())
			handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			r := httptest.NewRequest(http.MethodPost, "/api/validateLicense", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantNext, nextCalled)

			if !tt.wantNext {
				var body struct {
					Errors []apierrors.APIError `json:"errors"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				require.Len(t, body.Errors, 1)
				assert.Equal(t, apierrors.TitleNotAllowed, body.Errors[0].Title)
			}
		})
	}
}

func TestOriginGuard_RejectsRegardlessOfPayload(t *testing.T) {
	guard := OriginGuard("portal.example.com", testutil.Logger())
	handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a rejected origin")
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/validateLicense", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
