// internal/websocket/hub.go
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	wstypes "qrlogin-service/internal/domain/websocket"
	domain "qrlogin-service/internal/domain/qrsession"

	"go.uber.org/zap"
)

// Hub fans login-session transitions out to the browsers watching them.
// Clients subscribe by session id; a session usually has exactly one
// watcher, but a reconnecting browser can briefly hold two.
type Hub struct {
	// Registered clients by session ID
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client

	broadcast chan *sessionBroadcast

	logger *zap.Logger
}

type sessionBroadcast struct {
	sessionID string
	payload   []byte
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *sessionBroadcast, 256),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.sessionID] == nil {
				h.clients[client.sessionID] = make(map[*Client]bool)
			}
			h.clients[client.sessionID][client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client registered",
				zap.String("session_id", client.sessionID),
			)

		case client := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.clients[client.sessionID]; ok {
				if _, ok := set[client]; ok {
					delete(set, client)
					close(client.send)
					if len(set) == 0 {
						delete(h.clients, client.sessionID)
					}
				}
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients[msg.sessionID] {
				select {
				case client.send <- msg.payload:
				default:
					// Slow consumer; drop it rather than block the hub
					go client.Close()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// SessionUpdated implements the service's notifier hook.
func (h *Hub) SessionUpdated(sessionID string, status domain.Status, message string) {
	payload, err := json.Marshal(&wstypes.WSMessage{
		Type: wstypes.MessageTypeSessionUpdate,
		Data: &wstypes.SessionUpdate{
			SessionID: sessionID,
			Status:    string(status),
			Message:   message,
		},
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("failed to encode session update", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- &sessionBroadcast{sessionID: sessionID, payload: payload}:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping update",
			zap.String("session_id", sessionID),
		)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, set := range h.clients {
		for client := range set {
			close(client.send)
		}
		delete(h.clients, sessionID)
	}
}
