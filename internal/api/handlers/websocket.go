// Package handlers provides HTTP request handlers for the scancache API.
// This file implements the WebSocket endpoint streaming cache events
// (inserts, merges, evictions and age-outs) to connected clients.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/scancache/internal/metrics"
	"github.com/anstrom/scancache/internal/scancache"
)

const (
	// WebSocket configuration constants.
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer

	// DefaultEventBuffer is the per-client queue length used when none is configured.
	DefaultEventBuffer = 256
)

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      scancache.Event `json:"data"`
}

// eventClient is one subscribed connection.
type eventClient struct {
	conn  *websocket.Conn
	send  chan []byte
	iface string // empty subscribes to every interface
}

// EventHub fans cache events out to WebSocket subscribers. Publish is
// non-blocking and can be installed as a scancache.EventSink; events are
// dropped when the hub or a client falls behind.
type EventHub struct {
	logger     *slog.Logger
	metrics    metrics.MetricsRegistry
	upgrader   websocket.Upgrader
	bufferSize int

	clients    map[*eventClient]bool
	register   chan *eventClient
	unregister chan *eventClient
	broadcast  chan scancache.Event
	done       chan struct{}
	mutex      sync.RWMutex
}

// NewEventHub creates a hub. bufferSize bounds both the publish queue and
// each client's send queue.
func NewEventHub(bufferSize int, logger *slog.Logger, metricsRegistry metrics.MetricsRegistry) *EventHub {
	base := NewBaseHandler(logger, metricsRegistry, 0)
	if bufferSize <= 0 {
		bufferSize = DefaultEventBuffer
	}
	return &EventHub{
		logger:  base.logger.With("handler", "websocket"),
		metrics: base.metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// CORS is enforced by the router
				return true
			},
		},
		bufferSize: bufferSize,
		clients:    make(map[*eventClient]bool),
		register:   make(chan *eventClient),
		unregister: make(chan *eventClient),
		broadcast:  make(chan scancache.Event, bufferSize),
		done:       make(chan struct{}),
	}
}

// Run dispatches events until ctx is canceled, then closes all clients.
func (h *EventHub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("Event hub shutting down")
			return
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			h.logger.Debug("Client registered", "interface", client.iface, "total_clients", total)

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			h.dispatch(event)
		}
	}
}

// Publish queues an event for delivery.
func (h *EventHub) Publish(event scancache.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.metrics.Counter("websocket_events_dropped_total", metrics.Labels{"reason": "hub_full"})
	}
}

// ServeWS upgrades the request and streams events to the client. The
// optional iface query parameter restricts the stream to one interface.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	reqID := requestID(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", reqID, "error", err)
		return
	}
	h.logger.Info("New event WebSocket connection", "request_id", reqID, "remote_addr", r.RemoteAddr)

	client := &eventClient{
		conn:  conn,
		send:  make(chan []byte, h.bufferSize),
		iface: r.URL.Query().Get("iface"),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go h.writePump(client, reqID)
	h.readPump(client, reqID)
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *EventHub) dispatch(event scancache.Event) {
	data, err := json.Marshal(WebSocketMessage{
		Type:      "cache_event",
		Timestamp: time.Now().UTC(),
		Data:      event,
	})
	if err != nil {
		h.logger.Error("Failed to marshal cache event", "error", err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		if client.iface != "" && client.iface != event.Interface {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Warn("Client too slow, closing connection", "interface", client.iface)
			close(client.send)
			delete(h.clients, client)
			h.metrics.Counter("websocket_events_dropped_total", metrics.Labels{"reason": "client_full"})
		}
	}

	h.metrics.Counter("websocket_messages_sent_total", metrics.Labels{"type": string(event.Type)})
}

func (h *EventHub) remove(client *eventClient) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mutex.Unlock()
	h.logger.Debug("Client unregistered", "total_clients", total)
}

func (h *EventHub) closeAll() {
	close(h.done)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// readPump drains the connection so control frames are processed. Client
// messages are ignored.
func (h *EventHub) readPump(client *eventClient, reqID string) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		_ = client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	if err := client.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("Failed to set read deadline", "request_id", reqID, "error", err)
		return
	}
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket unexpected close", "request_id", reqID, "error", err)
			}
			return
		}
	}
}

// writePump sends queued events and keepalive pings.
func (h *EventHub) writePump(client *eventClient, reqID string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			if err := client.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", reqID, "error", err)
				return
			}
		case <-ticker.C:
			if err := client.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", reqID, "error", err)
				return
			}
		}
	}
}
