package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// Handler upgrades HTTP requests to websocket connections. The upgrader
// applies the same origin rule as the HTTP relay: only the configured
// portal domain, over http or https, may connect.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the upgrade handler for the given allowed domain
func NewHandler(hub *Hub, allowedDomain string, logger *slog.Logger) *Handler {
	allowed := map[string]bool{
		"http://" + allowedDomain:  true,
		"https://" + allowedDomain: true,
	}

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return allowed[r.Header.Get("Origin")]
			},
		},
		logger: logger.With(slog.String("component", "websocket.handler")),
	}
}

// ServeHTTP upgrades the request and hands the connection to the hub
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.WarnContext(r.Context(), "websocket upgrade rejected",
			slog.String("origin", r.Header.Get("Origin")),
			slog.String("error", err.Error()))
		return
	}

	client := NewClient(h.hub, conn, h.logger)
	h.hub.register <- client

	go client.WritePump()
	go client.ReadPump()
}
