package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is the envelope pushed to every connected UI client.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub tracks connected WebSocket clients and broadcasts events to all of
// them. Slow or dead clients are pruned rather than allowed to stall the
// stream.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	// writeMu serializes all writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// Add registers a client connection.
func (h *Hub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

// Remove unregisters and closes a client connection.
func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends event to every client. Writes that miss the deadline mark
// the client failed; failed clients are removed after the fan-out.
func (h *Hub) Broadcast(event Event) {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	h.writeMu.Lock()
	var failed []*websocket.Conn
	for _, conn := range clients {
		conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
		if err := conn.WriteJSON(event); err != nil {
			failed = append(failed, conn)
		}
	}
	h.writeMu.Unlock()

	for _, conn := range failed {
		slog.Debug("[WS] dropping unresponsive client")
		h.Remove(conn)
	}
}

// Send writes one event to a single client, serialized with broadcasts.
func (h *Hub) Send(conn *websocket.Conn, event Event) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
	return conn.WriteJSON(event)
}
