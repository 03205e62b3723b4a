// Package event defines the structured events routed by the simulation event bus.
package event

import "encoding/json"

// Type identifies the kind of event.
type Type string

const (
	// Any matches every event type when used in a subscription.
	Any Type = "*"

	TypeAction   Type = "action"
	TypeSpeech   Type = "speech"
	TypeThought  Type = "thought"
	TypeGoal     Type = "goal"

	TypeRoomCreated    Type = "room.created"
	TypeRoomRemoved    Type = "room.removed"
	TypeAgentSpawned   Type = "agent.spawned"
	TypeAgentRemoved   Type = "agent.removed"
	TypeAgentEntered   Type = "agent.entered"
	TypeAgentLeft      Type = "agent.left"
	TypeContextCreated Type = "context.created"
	TypeContextDeleted Type = "context.deleted"
	TypeMemoryDeleted  Type = "memory.deleted"

	TypeSimulationStarted Type = "simulation.started"
	TypeSimulationStopped Type = "simulation.stopped"
	TypeSimulationReset   Type = "simulation.reset"

	// TypeDeliveryFailed reports a bus handler that errored, panicked or
	// overran its deadline.
	TypeDeliveryFailed Type = "delivery.failed"
)

// Scope is the channel an event was published on.
type Scope string

const (
	ScopeRoom   Scope = "room"
	ScopeAgent  Scope = "agent"
	ScopeGlobal Scope = "global"
)

// Category groups event types for observers.
type Category string

const (
	CategoryAction        Category = "action"
	CategoryCommunication Category = "communication"
	CategoryCognition     Category = "cognition"
	CategoryMovement      Category = "movement"
	CategorySystem        Category = "system"
)

// CategoryOf returns the observer-facing category for an event type.
func CategoryOf(t Type) Category {
	switch t {
	case TypeSpeech:
		return CategoryCommunication
	case TypeThought:
		return CategoryCognition
	case TypeAction, TypeGoal:
		return CategoryAction
	case TypeAgentEntered, TypeAgentLeft:
		return CategoryMovement
	default:
		return CategorySystem
	}
}

// Event is a single immutable bus event. Seq increases monotonically per bus,
// so events from one origin reach every subscriber in emission order.
type Event struct {
	ID        string   `json:"id"`
	Seq       uint64   `json:"seq"`
	Type      Type     `json:"type"`
	Scope     Scope    `json:"scope"`
	RoomID    string   `json:"roomId,omitempty"`
	AgentID   string   `json:"agentId,omitempty"`
	Origin    string   `json:"origin,omitempty"`
	Category  Category `json:"category"`
	Payload   any      `json:"content"`
	Timestamp int64    `json:"timestamp"`
}

// RawPayload returns the payload encoded as JSON.
func (e *Event) RawPayload() (json.RawMessage, error) {
	if raw, ok := e.Payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(e.Payload)
}

// ActionPayload is carried by "action" room events.
type ActionPayload struct {
	Action     string `json:"action"`
	Reason     string `json:"reason,omitempty"`
	Parameters any    `json:"parameters,omitempty"`
	AgentName  string `json:"agentName"`
}

// SpeechPayload is carried by "speech" room events.
type SpeechPayload struct {
	Message   string `json:"message"`
	Tone      string `json:"tone"`
	Target    string `json:"target,omitempty"`
	AgentName string `json:"agentName"`
}

// MovementPayload is carried by agent.entered / agent.left room events.
type MovementPayload struct {
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

// DeliveryFailedPayload is carried by delivery.failed system events.
type DeliveryFailedPayload struct {
	Subscription uint64 `json:"subscription"`
	EventType    string `json:"eventType"`
	Error        string `json:"error"`
	Dropped      bool   `json:"dropped,omitempty"`
}

// LifecyclePayload is carried by system lifecycle events.
type LifecyclePayload struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Kind string `json:"kind,omitempty"`
}
