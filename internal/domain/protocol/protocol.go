// Package protocol defines the JSON messages exchanged with observers over
// the synchronization channel.
package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/domain/snapshot"
)

// MessageType is the "type" discriminator of every message.
type MessageType string

// Outbound message types.
const (
	TypeWorldUpdate      MessageType = "WORLD_UPDATE"
	TypeRoomUpdate       MessageType = "ROOM_UPDATE"
	TypeAgentUpdate      MessageType = "AGENT_UPDATE"
	TypeConnectionUpdate MessageType = "CONNECTION_UPDATE"
	TypeError            MessageType = "ERROR"
	TypeAck              MessageType = "ACK"
)

// Inbound command types. CHAT is also echoed outbound.
const (
	TypeChat             MessageType = "CHAT"
	TypeStart            MessageType = "START"
	TypeStop             MessageType = "STOP"
	TypeReset            MessageType = "RESET"
	TypeSubscribeRoom    MessageType = "SUBSCRIBE_ROOM"
	TypeUnsubscribeRoom  MessageType = "UNSUBSCRIBE_ROOM"
	TypeSubscribeAgent   MessageType = "SUBSCRIBE_AGENT"
	TypeUnsubscribeAgent MessageType = "UNSUBSCRIBE_AGENT"
	TypeDeleteMemory     MessageType = "DELETE_MEMORY"
	TypeDeleteContext    MessageType = "DELETE_CONTEXT"
	TypeSpawnAgent       MessageType = "SPAWN_AGENT"
)

// Inbound is a command sent by an observer. Data carries the type-specific
// body for DELETE_MEMORY, DELETE_CONTEXT and SPAWN_AGENT.
type Inbound struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	AgentID   string          `json:"agentId,omitempty"`
	Message   string          `json:"message,omitempty"`
	Target    string          `json:"target,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// SpawnAgentData is the body of SPAWN_AGENT.
type SpawnAgentData struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	SystemPrompt string   `json:"systemPrompt"`
	Appearance   string   `json:"appearance,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	Platform     string   `json:"platform,omitempty"`
	InitialGoals []string `json:"initialGoals,omitempty"`
	RoomID       string   `json:"roomId,omitempty"`
}

// DeleteMemoryData is the body of DELETE_MEMORY. ExpectedContent, when set,
// guards against deleting an entry that shifted since the observer's snapshot.
type DeleteMemoryData struct {
	AgentID         string  `json:"agentId"`
	MemoryIndex     int     `json:"memoryIndex"`
	MemoryType      string  `json:"memoryType"`
	ExpectedContent *string `json:"expectedContent,omitempty"`
}

// DeleteContextData is the body of DELETE_CONTEXT.
type DeleteContextData struct {
	AgentID      string `json:"agentId"`
	ContextIndex int    `json:"contextIndex"`
	ExpectedID   string `json:"expectedId,omitempty"`
}

// DecodeData unmarshals the Data body of msg into T.
func DecodeData[T any](msg Inbound) (T, error) {
	var v T
	if len(msg.Data) == 0 {
		return v, errors.Join(domain.ErrValidation, errors.New(string(msg.Type)+": data is required"))
	}
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		return v, errors.Join(domain.ErrValidation, err)
	}
	return v, nil
}

// Channel addresses an AGENT_UPDATE.
type Channel struct {
	Room  string `json:"room,omitempty"`
	Agent string `json:"agent"`
}

// AgentUpdate is the data of an AGENT_UPDATE.
type AgentUpdate struct {
	Type      string `json:"type"`
	AgentID   string `json:"agentId"`
	Category  string `json:"category"`
	Content   any    `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Outbound is a message sent to observers. Only the fields relevant to Type
// are populated.
type Outbound struct {
	Type       MessageType `json:"type"`
	Timestamp  int64       `json:"timestamp"`
	Channel    *Channel    `json:"channel,omitempty"`
	Data       any         `json:"data,omitempty"`
	Connected  *bool       `json:"connected,omitempty"`
	ObserverID string      `json:"observerId,omitempty"`
	Command    MessageType `json:"command,omitempty"`
	RequestID  string      `json:"requestId,omitempty"`
	Error      string      `json:"error,omitempty"`
	Code       Code        `json:"code,omitempty"`
}

func now() int64 { return time.Now().UnixMilli() }

// WorldUpdate wraps a full world snapshot. Data is either a
// snapshot.WorldState or its pre-encoded JSON.
func WorldUpdate(state any) Outbound {
	return Outbound{Type: TypeWorldUpdate, Timestamp: now(), Data: state}
}

// RoomUpdate forwards one room-scoped bus event.
func RoomUpdate(ev *event.Event) Outbound {
	return Outbound{Type: TypeRoomUpdate, Timestamp: ev.Timestamp, Data: ev}
}

// AgentEvent forwards one event about an agent to that agent's observers.
func AgentEvent(ev *event.Event, roomID string) Outbound {
	return Outbound{
		Type:      TypeAgentUpdate,
		Timestamp: ev.Timestamp,
		Channel:   &Channel{Room: roomID, Agent: ev.AgentID},
		Data: AgentUpdate{
			Type:      string(ev.Type),
			AgentID:   ev.AgentID,
			Category:  string(ev.Category),
			Content:   ev.Payload,
			Timestamp: ev.Timestamp,
		},
	}
}

// AgentState pushes a fresh projection of one agent.
func AgentState(st snapshot.AgentState) Outbound {
	ts := now()
	return Outbound{
		Type:      TypeAgentUpdate,
		Timestamp: ts,
		Channel:   &Channel{Room: st.Location, Agent: st.ID},
		Data: AgentUpdate{
			Type:      "state",
			AgentID:   st.ID,
			Category:  string(event.CategorySystem),
			Content:   st,
			Timestamp: ts,
		},
	}
}

// ChatMessage is the data of an outbound CHAT.
type ChatMessage struct {
	RoomID    string `json:"roomId"`
	AgentName string `json:"agentName"`
	Message   string `json:"message"`
	Target    string `json:"target,omitempty"`
}

// Chat relays a line spoken through CHAT to the observers of roomID.
func Chat(roomID string, speech event.SpeechPayload, ts int64) Outbound {
	return Outbound{
		Type:      TypeChat,
		Timestamp: ts,
		Data: ChatMessage{
			RoomID:    roomID,
			AgentName: speech.AgentName,
			Message:   speech.Message,
			Target:    speech.Target,
		},
	}
}

// ConnectionUpdate tells a new observer its id.
func ConnectionUpdate(observerID string, connected bool) Outbound {
	return Outbound{Type: TypeConnectionUpdate, Timestamp: now(), Connected: &connected, ObserverID: observerID}
}

// Ack acknowledges a handled command.
func Ack(cmd MessageType, requestID string) Outbound {
	return Outbound{Type: TypeAck, Timestamp: now(), Command: cmd, RequestID: requestID}
}

// ActionAck acknowledges a CHAT with the speak result.
func ActionAck(cmd MessageType, requestID string, res action.Result) Outbound {
	o := Ack(cmd, requestID)
	o.Data = res
	return o
}

// Error reports a failed command to the observer that sent it.
func Error(cmd MessageType, requestID string, err error) Outbound {
	return Outbound{
		Type:      TypeError,
		Timestamp: now(),
		Command:   cmd,
		RequestID: requestID,
		Error:     err.Error(),
		Code:      CodeOf(err),
	}
}

// Code classifies an ERROR message.
type Code string

const (
	CodeNotFound       Code = "NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
	CodeValidation     Code = "VALIDATION"
	CodePrecondition   Code = "PRECONDITION"
	CodeRejected       Code = "REJECTED"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeUnknownCommand Code = "UNKNOWN_COMMAND"
	CodeInternal       Code = "INTERNAL"
)

// ErrUnknownCommand is returned for an unrecognized message type.
var ErrUnknownCommand = errors.New("unknown command")

// ErrRateLimited is returned when an observer exceeds its command budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// CodeOf maps an error onto the shared error taxonomy.
func CodeOf(err error) Code {
	var rej *action.Rejected
	switch {
	case errors.As(err, &rej):
		return CodeRejected
	case errors.Is(err, ErrUnknownCommand):
		return CodeUnknownCommand
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrConflict):
		return CodeConflict
	case errors.Is(err, domain.ErrValidation):
		return CodeValidation
	case errors.Is(err, domain.ErrPrecondition):
		return CodePrecondition
	default:
		return CodeInternal
	}
}
