package rooms

import (
	"encoding/json"
	"time"
)

const (
	EventStreamStatus = "stream:status"
	EventGlobalUpdate = "stream:global_update"
	EventGift         = "gift"
	EventChat         = "chat"
)

// Envelope is the frame delivered to clients for every published event.
// RoomID is empty for global events.
type Envelope struct {
	Event  string          `json:"event"`
	RoomID string          `json:"roomId,omitempty"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sentAt"`
}

// ChatMessage is the payload of a chat event.
type ChatMessage struct {
	Message   string    `json:"message"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// inboundFrame is what clients send over the socket.
type inboundFrame struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// replyFrame acknowledges or rejects an inbound frame.
type replyFrame struct {
	Type   string `json:"type"`
	For    string `json:"for,omitempty"`
	RoomID string `json:"roomId,omitempty"`
	Error  string `json:"error,omitempty"`
}
