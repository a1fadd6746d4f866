package ws

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of WebSocket message
type MessageType string

// Client → Server message types
const (
	MsgRead        MessageType = "read"
	MsgWrite       MessageType = "write"
	MsgUpdate      MessageType = "update"
	MsgSubscribe   MessageType = "subscribe"
	MsgUnsubscribe MessageType = "unsubscribe"
	MsgPing        MessageType = "ping"
)

// Server → Client message types
const (
	MsgConnected MessageType = "connected"
	MsgResult    MessageType = "result"
	MsgSnapshot  MessageType = "snapshot"
	MsgError     MessageType = "error"
	MsgPong      MessageType = "pong"
)

// ClientMessage represents a message from client to server.
// ID correlates the reply; for subscribe and unsubscribe it names the subscription.
type ClientMessage struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage represents a message from server to client
type ServerMessage struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// NewServerMessage creates a new server message with current timestamp
func NewServerMessage(msgType MessageType, id string, payload interface{}) (*ServerMessage, error) {
	msg := &ServerMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return msg, nil
}

// Client message payloads

// PathPayload is the payload for read and subscribe messages
type PathPayload struct {
	Path string `json:"path"`
}

// WritePayload is the payload for write messages; a null value deletes
type WritePayload struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

// UpdatePayload is the payload for update messages
type UpdatePayload struct {
	Values map[string]json.RawMessage `json:"values"`
}

// Server message payloads

// ConnectedPayload is the payload for connected message
type ConnectedPayload struct {
	PlayerID  string `json:"playerId"`
	LobbyCode string `json:"lobbyCode"`
}

// SnapshotPayload carries a value at a path, for results and snapshots
type SnapshotPayload struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// ErrorPayload is the payload for error message
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeInvalidPath    = "INVALID_PATH"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeLobbyNotFound  = "LOBBY_NOT_FOUND"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)
