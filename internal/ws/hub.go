// Package ws pushes camera state updates to websocket observers.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lauritssn/yolo-llm-vision/internal/vision"
)

const writeWait = 10 * time.Second

// StateMessage is the wire form of a pushed camera state update.
type StateMessage struct {
	Type      string      `json:"type"` // "state"
	Timestamp time.Time   `json:"timestamp"`
	State     vision.View `json:"state"`
}

// Hub fans camera state updates out to connected websocket clients. A client
// subscribed with an entity filter receives only that camera's updates.
type Hub struct {
	clients map[*websocket.Conn]string // conn -> entity filter ("" = all)
	mu      sync.RWMutex
	log     zerolog.Logger
	unsub   func()
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]string),
		log:     log.With().Str("component", "ws").Logger(),
	}
}

// Attach subscribes the hub to a state bus. Call Detach to stop.
func (h *Hub) Attach(bus *vision.Bus) {
	h.unsub = bus.Subscribe(h)
}

// Detach unsubscribes from the bus and closes all client connections.
func (h *Hub) Detach() {
	if h.unsub != nil {
		h.unsub()
		h.unsub = nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// OnStateUpdate implements vision.StateObserver.
func (h *Hub) OnStateUpdate(update vision.StateUpdate) {
	msg := StateMessage{
		Type:      "state",
		Timestamp: time.Now().UTC(),
		State:     update.View,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal state message")
		return
	}
	h.broadcast(update.EntityID, data)
}

func (h *Hub) register(conn *websocket.Conn, entityFilter string) {
	h.mu.Lock()
	h.clients[conn] = entityFilter
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Str("filter", entityFilter).Int("clients", total).Msg("client connected")
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	total := len(h.clients)
	h.mu.Unlock()

	h.log.Debug().Int("clients", total).Msg("client disconnected")
}

func (h *Hub) broadcast(entityID string, data []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn, filter := range h.clients {
		if filter == "" || filter == entityID {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.log.Debug().Err(err).Msg("write failed, dropping client")
			h.unregister(conn)
			conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
