package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "keyportal/internal/errors"
	"keyportal/internal/gateway"
	"keyportal/internal/middleware"
)

// GatewayService is the relay surface the handler exposes over HTTP
type GatewayService interface {
	ResolveFingerprintByUser(ctx context.Context, key, email string) (string, *apierrors.List)
	ListLicensesForUser(ctx context.Context, email string) ([]gateway.LicenseSummary, *apierrors.List)
}

var relayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "keyportal_relay_requests_total",
	Help: "Relay requests by endpoint and outcome.",
}, []string{"endpoint", "outcome"})

// GatewayHandler exposes the relay endpoints consumed by the browser
type GatewayHandler struct {
	service  GatewayService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewGatewayHandler creates a new gateway handler
func NewGatewayHandler(service GatewayService, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "gateway")),
	}
}

// Routes returns a chi router for the relay endpoints. The origin guard is
// applied by the caller so it provably wraps every route mounted here.
func (h *GatewayHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validateLicense", h.ValidateLicense)
	r.Post("/getKeys", h.GetKeys)
	return r
}

// ValidateLicenseRequest is the body of POST /api/validateLicense
type ValidateLicenseRequest struct {
	Key       string `json:"key" validate:"required"`
	UserEmail string `json:"userEmail" validate:"required,email"`
}

// GetKeysRequest is the body of POST /api/getKeys
type GetKeysRequest struct {
	UserEmail string `json:"userEmail" validate:"required,email"`
}

// ValidateLicense handles POST /api/validateLicense. It resolves the
// fingerprint for a key owned by the calling user, or returns the error
// list produced by the ownership walk.
func (h *GatewayHandler) ValidateLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("gateway-handler")

	ctx, span := tracer.Start(ctx, "gateway_handler.validate_license",
		trace.WithAttributes(
			attribute.String("http.route", "/api/validateLicense"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	var req ValidateLicenseRequest
	if !h.decode(w, r, &req) {
		relayRequests.WithLabelValues("validateLicense", "bad_request").Inc()
		return
	}

	fingerprint, errList := h.service.ResolveFingerprintByUser(ctx, req.Key, req.UserEmail)
	if errList != nil {
		span.SetAttributes(attribute.String("relay.outcome", "errors"))
		relayRequests.WithLabelValues("validateLicense", "errors").Inc()

		h.logger.InfoContext(ctx, "fingerprint resolution returned errors",
			slog.String("request_id", reqID),
			slog.String("first_error", errList.Errors[0].Title))

		render.Render(w, r, errList)
		return
	}

	span.SetAttributes(attribute.String("relay.outcome", "success"))
	relayRequests.WithLabelValues("validateLicense", "success").Inc()

	render.JSON(w, r, map[string]string{"fingerprint": fingerprint})
}

// GetKeys handles POST /api/getKeys, returning the caller's license
// name/key pairs after draining the upstream collection.
func (h *GatewayHandler) GetKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("gateway-handler")

	ctx, span := tracer.Start(ctx, "gateway_handler.get_keys",
		trace.WithAttributes(
			attribute.String("http.route", "/api/getKeys"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	var req GetKeysRequest
	if !h.decode(w, r, &req) {
		relayRequests.WithLabelValues("getKeys", "bad_request").Inc()
		return
	}

	licenses, errList := h.service.ListLicensesForUser(ctx, req.UserEmail)
	if errList != nil {
		span.SetAttributes(attribute.String("relay.outcome", "errors"))
		relayRequests.WithLabelValues("getKeys", "errors").Inc()
		render.Render(w, r, errList)
		return
	}

	span.SetAttributes(
		attribute.String("relay.outcome", "success"),
		attribute.Int("relay.license_count", len(licenses)),
	)
	relayRequests.WithLabelValues("getKeys", "success").Inc()

	render.JSON(w, r, map[string][]gateway.LicenseSummary{"licenses": licenses})
}

// decode parses and validates a JSON request body, rendering a Server
// Error list on failure. Returns false when the request was already
// answered.
func (h *GatewayHandler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := render.DecodeJSON(r.Body, req); err != nil {
		h.logger.WarnContext(r.Context(), "failed to decode request body",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path))
		render.Render(w, r, apierrors.NewList(http.StatusBadRequest,
			apierrors.ServerError("Invalid request body.")))
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		h.logger.WarnContext(r.Context(), "request validation failed",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path))
		render.Render(w, r, apierrors.NewList(http.StatusBadRequest,
			apierrors.ServerError(err.Error())))
		return false
	}
	return true
}
