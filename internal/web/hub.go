package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"missionforge/internal/logging"
	"missionforge/internal/swarm"
)

// writeWait bounds a single write to a client.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub broadcasts mission events to websocket clients. It is a swarm.EventSink.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan swarm.Event
	writeWait time.Duration
	mu        sync.Mutex
}

// NewHub creates a hub with a 256-event buffer.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan swarm.Event, 256),
		writeWait: writeWait,
	}
}

// Run delivers queued events until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}

			h.mu.Lock()
			// A stalled client is dropped once its deadline passes.
			for client := range h.clients {
				err := client.SetWriteDeadline(time.Now().Add(h.writeWait))
				if err == nil {
					err = client.WriteMessage(websocket.TextMessage, data)
				}
				if err != nil {
					logging.EventsWarn("Dropping websocket client %s: %v", client.RemoteAddr(), err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues e, dropping it if the buffer is full.
func (h *Hub) Publish(e swarm.Event) {
	select {
	case h.broadcast <- e:
	default:
		logging.EventsWarn("Websocket broadcast channel full, dropping %s", e.Type)
	}
}

// Register adds a client.
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

// Unregister removes a client.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.APIWarn("Websocket upgrade failed: %v", err)
		return
	}

	s.hub.Register(conn)
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

var _ swarm.EventSink = (*Hub)(nil)
