package stream

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/napsa-zm/erm-platform/internal/aml"
)

// Hub fans generated alerts out to websocket subscribers. Slow clients are
// disconnected rather than allowed to block the broadcast loop.
type Hub struct {
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	logger     *zap.Logger
	done       chan struct{}
}

// NewHub creates a hub; call Run in a goroutine.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 256),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run owns the client set until Close is called.
func (h *Hub) Run() {
	clients := make(map[*websocket.Conn]struct{})
	for {
		select {
		case conn := <-h.register:
			clients[conn] = struct{}{}
			h.logger.Debug("websocket client connected", zap.Int("clients", len(clients)))
		case conn := <-h.unregister:
			if _, ok := clients[conn]; ok {
				delete(clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					delete(clients, conn)
					conn.Close()
				}
			}
		case <-h.done:
			for conn := range clients {
				conn.Close()
			}
			return
		}
	}
}

// Register hands a connection to the hub. After Close the connection is
// dropped instead of blocking on the stopped run loop.
func (h *Hub) Register(conn *websocket.Conn) {
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
	}
}

// Unregister removes and closes a connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
		conn.Close()
	}
}

// BroadcastAlert implements Broadcaster.
func (h *Hub) BroadcastAlert(alert *aml.TransactionAlert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		h.logger.Error("failed to marshal alert for broadcast", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("websocket broadcast buffer full, dropping alert")
	}
}

// Close shuts the hub down and disconnects all clients.
func (h *Hub) Close() { close(h.done) }
