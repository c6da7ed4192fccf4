package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Hub fans messages out to the connected websocket clients. Writes
// are serialized under the mutex; a client whose write fails is
// closed and forgotten.
type Hub struct {
	log     *zap.Logger
	clients prometheus.Gauge

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(log *zap.Logger, clients prometheus.Gauge) *Hub {
	return &Hub{
		log:     log,
		clients: clients,
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.clients.Set(float64(n))
	h.log.Info("client connected", zap.String("remote", conn.RemoteAddr().String()))
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	_, known := h.conns[conn]
	delete(h.conns, conn)
	n := len(h.conns)
	h.mu.Unlock()
	if known {
		conn.Close()
		h.clients.Set(float64(n))
		h.log.Info("client disconnected", zap.String("remote", conn.RemoteAddr().String()))
	}
}

// Broadcast writes payload to every client as one text message.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(h.conns, conn)
		}
	}
	h.clients.Set(float64(len(h.conns)))
}

// CloseAll drops every client, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
		delete(h.conns, conn)
	}
	h.clients.Set(0)
}
