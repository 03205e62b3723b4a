package sim

import (
	"context"
	"fmt"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/world"
)

// RoomConfig describes a room to create.
type RoomConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// Rooms owns the membership relation. It is the only writer of agent/room
// placement, and therefore of room-scoped broadcast scope.
type Rooms struct {
	bus *Bus
}

// NewRooms creates a room manager publishing on bus.
func NewRooms(bus *Bus) *Rooms {
	return &Rooms{bus: bus}
}

// CreateRoom allocates a room entity. Fails with ErrValidation on an empty
// id and ErrConflict when the id is taken.
func (r *Rooms) CreateRoom(ctx context.Context, w *world.World, cfg RoomConfig) (entity.ID, error) {
	if cfg.ID == "" {
		return entity.None, fmt.Errorf("create room: id is required: %w", domain.ErrValidation)
	}
	if _, taken := w.RoomByID(cfg.ID); taken {
		return entity.None, fmt.Errorf("create room %q: %w", cfg.ID, domain.ErrConflict)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	id := w.CreateEntity()
	w.RegisterRoom(cfg.ID, id)
	w.Rooms.Set(id, entity.Room{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Description: cfg.Description,
		Type:        cfg.Type,
	})

	r.bus.EmitSystemEvent(ctx, event.TypeRoomCreated, event.LifecyclePayload{
		ID: cfg.ID, Name: cfg.Name, Kind: "room",
	})
	return id, nil
}

// MoveAgentToRoom places agent in room in a single step. Moving an agent to
// the room it already occupies is a no-op and emits nothing. Otherwise
// agent.left goes to the old room and agent.entered to the new one.
func (r *Rooms) MoveAgentToRoom(ctx context.Context, w *world.World, agent, room entity.ID) error {
	a, ok := w.Agents.Get(agent)
	if !ok {
		return fmt.Errorf("move agent %s: %w", agent, domain.ErrNotFound)
	}
	dst, ok := w.Rooms.Get(room)
	if !ok {
		return fmt.Errorf("move agent %s to room entity %s: %w", agent, room, domain.ErrNotFound)
	}
	if cur, in := w.RoomOf(agent); in && cur == room {
		return nil
	}

	prev, hadPrev := w.PlaceAgent(agent, room)

	payload := event.MovementPayload{AgentID: agent.String(), AgentName: a.Name, To: dst.ID}
	if hadPrev {
		if src, ok := w.Rooms.Get(prev); ok {
			payload.From = src.ID
			r.bus.EmitRoomEvent(ctx, src.ID, event.TypeAgentLeft, payload, agent)
		}
	}
	r.bus.EmitRoomEvent(ctx, dst.ID, event.TypeAgentEntered, payload, agent)
	return nil
}

// MoveAgentToRoomID resolves roomID and moves agent there.
func (r *Rooms) MoveAgentToRoomID(ctx context.Context, w *world.World, agent entity.ID, roomID string) error {
	room, ok := w.RoomByID(roomID)
	if !ok {
		return fmt.Errorf("room %q: %w", roomID, domain.ErrNotFound)
	}
	return r.MoveAgentToRoom(ctx, w, agent, room)
}

// RemoveAgentFromRoom evicts agent from its room, emitting agent.left.
// Returns false if the agent was in no room.
func (r *Rooms) RemoveAgentFromRoom(ctx context.Context, w *world.World, agent entity.ID) bool {
	prev, ok := w.EvictAgent(agent)
	if !ok {
		return false
	}
	src, ok := w.Rooms.Get(prev)
	if !ok {
		return true
	}
	a, _ := w.Agents.Get(agent)
	r.bus.EmitRoomEvent(ctx, src.ID, event.TypeAgentLeft, event.MovementPayload{
		AgentID: agent.String(), AgentName: a.Name, From: src.ID,
	}, agent)
	return true
}

// Occupants returns the agents in the room with the given id, ascending.
func (r *Rooms) Occupants(w *world.World, roomID string) ([]entity.ID, error) {
	room, ok := w.RoomByID(roomID)
	if !ok {
		return nil, fmt.Errorf("room %q: %w", roomID, domain.ErrNotFound)
	}
	return w.Occupants(room), nil
}

// RoomOf returns the room entity agent occupies.
func (r *Rooms) RoomOf(w *world.World, agent entity.ID) (entity.ID, bool) {
	return w.RoomOf(agent)
}

// RoomIDOf returns the id of the room agent occupies.
func (r *Rooms) RoomIDOf(w *world.World, agent entity.ID) (string, bool) {
	room, ok := w.RoomOf(agent)
	if !ok {
		return "", false
	}
	rc, ok := w.Rooms.Get(room)
	return rc.ID, ok
}

// RemoveRoom evicts every occupant, drops the room, and unsubscribes the room
// scope before returning so no later event can reach a room subscriber.
func (r *Rooms) RemoveRoom(ctx context.Context, w *world.World, roomID string) error {
	room, ok := w.RoomByID(roomID)
	if !ok {
		return fmt.Errorf("room %q: %w", roomID, domain.ErrNotFound)
	}
	for _, agent := range w.Occupants(room) {
		r.RemoveAgentFromRoom(ctx, w, agent)
	}
	r.bus.UnsubscribeRoom(roomID)
	w.DestroyEntity(room)

	r.bus.EmitSystemEvent(ctx, event.TypeRoomRemoved, event.LifecyclePayload{ID: roomID, Kind: "room"})
	return nil
}
