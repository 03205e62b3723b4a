package messagequeue

import "encoding/json"

// EventPayload is the schema for habitat.events.> messages.
type EventPayload struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Type      string          `json:"type"`
	Scope     string          `json:"scope"`
	RoomID    string          `json:"roomId,omitempty"`
	AgentID   string          `json:"agentId,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	Category  string          `json:"category"`
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp"`
}

// CommandPayload is the schema for habitat.commands messages. It mirrors the
// observer wire format.
type CommandPayload struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	AgentID   string          `json:"agentId,omitempty"`
	Message   string          `json:"message,omitempty"`
	Target    string          `json:"target,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}
