// Package websocket pushes activation state snapshots to connected
// portal frontends. The hub fans every committed store mutation out to
// all clients so each open tab renders the same view.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"keyportal/internal/activation"
	"keyportal/internal/infrastructure"
)

// Message type constants
const (
	TypeConnection = "connection"
	TypeState      = "state"
)

var (
	wsConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyportal_ws_connections_total",
		Help: "Total number of accepted websocket connections.",
	})
	wsActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keyportal_ws_active_clients",
		Help: "Number of currently connected websocket clients.",
	})
	wsMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyportal_ws_messages_sent_total",
		Help: "Total number of messages written to websocket clients.",
	})
)

// envelope is the wire frame pushed to clients
type envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// statePayload pairs a store snapshot with its resolved view so the
// frontend never re-derives view selection locally.
type statePayload struct {
	State activation.State `json:"state"`
	View  activation.View  `json:"view"`
}

// Hub maintains the set of active clients and broadcasts state frames
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *slog.Logger

	// lastFrame is replayed to clients that connect between mutations
	lastFrame []byte

	quit    chan struct{}
	running bool
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		quit:       make(chan struct{}),
	}
}

// Start launches the hub loop; safe to call once
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop shuts the hub loop down and closes all client connections
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
}

// BroadcastState serializes a snapshot and its resolved view and queues
// it for all connected clients. Serialization failures are logged and
// dropped; state frames are advisory, the REST surface stays canonical.
func (h *Hub) BroadcastState(state activation.State, view activation.View) {
	frame, err := json.Marshal(envelope{
		Type:      TypeState,
		Data:      statePayload{State: state, View: view},
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("failed to serialize state frame",
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- frame:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			wsActiveClients.Set(0)
			h.logger.Info("hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			lastFrame := h.lastFrame
			h.mu.Unlock()

			wsConnections.Inc()
			wsActiveClients.Set(float64(count))
			h.logger.Info("client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			h.send(client, h.connectionFrame(client))
			// Late joiners get the current state straight away.
			if lastFrame != nil {
				h.send(client, lastFrame)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			wsActiveClients.Set(float64(count))
			h.logger.Info("client unregistered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.Duration("connection_duration", time.Since(client.connectedAt)))

		case frame := <-h.broadcast:
			h.mu.Lock()
			h.lastFrame = frame
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.Unlock()

			for _, client := range clients {
				h.send(client, frame)
			}
		}
	}
}

// send queues a frame on one client, disconnecting it if its buffer is
// full. A frontend that cannot drain its socket is not worth blocking
// the hub loop for.
func (h *Hub) send(client *Client, frame []byte) {
	if frame == nil {
		return
	}
	select {
	case client.send <- frame:
		wsMessagesSent.Inc()
	default:
		h.mu.Lock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		h.logger.Warn("client send buffer full, disconnecting",
			slog.String("client_id", client.id))
	}
}

func (h *Hub) connectionFrame(client *Client) []byte {
	frame, err := json.Marshal(envelope{
		Type: TypeConnection,
		Data: map[string]string{
			"status":    "connected",
			"client_id": client.id,
		},
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return nil
	}
	return frame
}
