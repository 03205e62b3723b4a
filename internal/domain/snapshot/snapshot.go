// Package snapshot defines the read-only projections exposed to observers.
package snapshot

import (
	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
)

// Memories is the flattened memory section of an agent snapshot.
type Memories struct {
	Thoughts    []string                 `json:"thoughts"`
	Experiences []entity.Experience      `json:"experiences"`
	Perceptions []entity.PerceptionEntry `json:"perceptions"`
}

// ContextRef is a context as seen from an agent, in the agent's index order.
type ContextRef struct {
	Index    int    `json:"index"`
	EntityID string `json:"entityId"`
	entity.Context
}

// AgentStatus reflects the executor state machine.
type AgentStatus string

const (
	StatusIdle     AgentStatus = "idle"
	StatusPending  AgentStatus = "pending"
	StatusInactive AgentStatus = "inactive"
)

// AgentState is the flattened view of one agent.
type AgentState struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Role             string            `json:"role"`
	Description      string            `json:"description"`
	SystemPrompt     string            `json:"systemPrompt"`
	Platform         string            `json:"platform"`
	Active           bool              `json:"active"`
	Location         string            `json:"location"`
	Appearance       entity.Appearance `json:"appearance"`
	Memories         Memories          `json:"memories"`
	LastThought      string            `json:"lastThought"`
	Emotion          string            `json:"emotion,omitempty"`
	Attention        string            `json:"attention,omitempty"`
	Context          []ContextRef      `json:"context"`
	Goals            []entity.Goal     `json:"goals"`
	Plans            []entity.Plan     `json:"plans"`
	Status           AgentStatus       `json:"status"`
	CurrentAction    *action.Pending   `json:"currentAction"`
	LastActionResult *action.Result    `json:"lastActionResult"`
	LastActionTime   int64             `json:"lastActionTime"`
	AvailableTools   []string          `json:"availableTools"`
	LastUpdate       int64             `json:"lastUpdate"`
}

// Occupant is an id/name pair in a room snapshot.
type Occupant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomState is a room and its current occupants.
type RoomState struct {
	ID          string     `json:"id"`
	EntityID    string     `json:"entityId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	Occupants   []Occupant `json:"occupants"`
	LastUpdate  int64      `json:"lastUpdate"`
}

// Relationship is an edge between two agents.
type Relationship struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// WorldState is the whole-world projection.
type WorldState struct {
	Agents        []AgentState   `json:"agents"`
	Rooms         []RoomState    `json:"rooms"`
	Relationships []Relationship `json:"relationships"`
	IsRunning     bool           `json:"isRunning"`
	Timestamp     int64          `json:"timestamp"`
	Version       uint64         `json:"version"`
}
