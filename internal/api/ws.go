// Dashboard event stream. The hub fans schedule events out to
// connected websocket clients so open dashboards update without
// polling. Slow consumers are dropped rather than allowed to stall
// the broadcast path.

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/foliokit/rebalancer/internal/events"
	"github.com/foliokit/rebalancer/internal/schedule"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10

	// clientBuffer is the per-connection outbound queue; a client
	// that falls this far behind is disconnected.
	clientBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from its own origin; same-host checks
	// are handled by the reverse proxy in front of this service.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsMessage is the event frame sent to dashboard clients.
type wsMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Payload   any    `json:"payload"`
}

// Hub tracks connected dashboard clients and broadcasts schedule
// events to them. It implements trigger.Publisher so the evaluation
// loop can feed it directly.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger.With(slog.String("component", "ws")),
		clients: make(map[chan []byte]struct{}),
	}
}

// PublishFired broadcasts a firing to connected dashboards.
func (h *Hub) PublishFired(ev events.FiredPayload) error {
	h.broadcast("schedule_fired", ev)
	return nil
}

// PublishError broadcasts an evaluation failure.
func (h *Hub) PublishError(ev events.ErrorPayload) error {
	h.broadcast("schedule_error", ev)
	return nil
}

// NotifyChanged broadcasts a CRUD change (created, updated, deleted).
func (h *Hub) NotifyChanged(action string, s *schedule.Schedule) {
	h.broadcast("schedule_"+action, s)
}

func (h *Hub) broadcast(eventType string, payload any) {
	data, err := json.Marshal(wsMessage{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal ws message",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			// Buffer full: the writer goroutine sees the closed
			// channel and tears the connection down.
			delete(h.clients, ch)
			close(ch)
			h.logger.Warn("dropping slow websocket client")
		}
	}
}

func (h *Hub) register() chan []byte {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected dashboard clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleWS upgrades the connection and pumps hub broadcasts to the
// client with ping/pong keepalive.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("error", err.Error()),
		)
		return
	}

	ch := h.register()
	h.logger.Debug("dashboard client connected",
		slog.String("remote", r.RemoteAddr),
	)

	// Reader: consume control frames, refresh the pong deadline, and
	// unregister on close.
	go func() {
		defer h.unregister(ch)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Writer: forward broadcasts and keep the connection alive.
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer func() {
			ticker.Stop()
			conn.Close()
		}()
		for {
			select {
			case data, ok := <-ch:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					h.unregister(ch)
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					h.unregister(ch)
					return
				}
			}
		}
	}()
}
