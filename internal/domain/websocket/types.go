// internal/domain/websocket/types.go
package websocket

import "time"

type MessageType string

const (
	// Server -> client
	MessageTypeSessionUpdate MessageType = "session_update"
	MessageTypePong          MessageType = "pong"
	MessageTypeError         MessageType = "error"

	// Client -> server
	MessageTypePing MessageType = "ping"
)

// WSMessage is the wire envelope for all websocket traffic.
type WSMessage struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionUpdate pushes a login-session transition to the subscribed
// browser, sparing it one poll round-trip. The poll loop stays the
// source of truth; this is advisory.
type SessionUpdate struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}
