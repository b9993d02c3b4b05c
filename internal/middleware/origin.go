package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "keyportal/internal/errors"
)

// OriginGuard rejects any request whose Origin header does not exactly
// match the allowed domain in either its http:// or https:// form.
// Requests without an Origin header are rejected outright; there is no
// allowance for non-browser clients. This is a hard admission gate and
// must run ahead of every handler that touches upstream credentials,
// independent of whatever CORS headers the transport layer adds.
func OriginGuard(allowedDomain string, logger *slog.Logger) func(next http.Handler) http.Handler {
	allowedHTTP := "http://" + allowedDomain
	allowedHTTPS := "https://" + allowedDomain

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin == "" {
				logger.WarnContext(r.Context(), "request without origin header rejected",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				render.Render(w, r, apierrors.NewList(http.StatusForbidden, apierrors.NotAllowed()))
				return
			}

			if origin != allowedHTTP && origin != allowedHTTPS {
				logger.WarnContext(r.Context(), "request origin rejected",
					slog.String("origin", origin),
					slog.String("allowed_domain", allowedDomain),
					slog.String("path", r.URL.Path),
				)
				render.Render(w, r, apierrors.NewList(http.StatusForbidden, apierrors.NotAllowed()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
