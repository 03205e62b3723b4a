package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/domain/snapshot"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/world"
)

// Chat user identity.
const (
	UserName = "User"
	UserRole = "Human Observer"
)

// CreateRoom creates a room and returns its projection.
func (s *SimulationService) CreateRoom(ctx context.Context, cfg sim.RoomConfig) (snapshot.RoomState, error) {
	var st snapshot.RoomState
	err := s.submit(ctx, "create_room", func(ctx context.Context) error {
		return s.world.Update(func(w *world.World) error {
			if _, err := s.rooms.CreateRoom(ctx, w, cfg); err != nil {
				return err
			}
			var err error
			st, err = s.projector.RoomState(w, cfg.ID)
			return err
		})
	})
	if err == nil {
		slog.InfoContext(ctx, "room created", "room_id", cfg.ID)
	}
	return st, err
}

// RemoveRoom evicts the room's occupants and deletes it.
func (s *SimulationService) RemoveRoom(ctx context.Context, roomID string) error {
	return s.submit(ctx, "remove_room", func(ctx context.Context) error {
		return s.world.Update(func(w *world.World) error {
			return s.rooms.RemoveRoom(ctx, w, roomID)
		})
	})
}

// SpawnAgent creates an agent and places it in roomID. With an empty roomID
// the agent stays in no room until it is moved.
func (s *SimulationService) SpawnAgent(ctx context.Context, spec sim.AgentSpec, roomID string) (snapshot.AgentState, error) {
	var st snapshot.AgentState
	err := s.submit(ctx, "spawn_agent", func(ctx context.Context) error {
		return s.world.Update(func(w *world.World) error {
			room, err := s.placement(w, roomID)
			if err != nil {
				return err
			}
			id, err := sim.SpawnAgent(ctx, w, s.bus, spec, s.now())
			if err != nil {
				return err
			}
			if room != entity.None {
				if err := s.rooms.MoveAgentToRoom(ctx, w, id, room); err != nil {
					return err
				}
			}
			st, err = s.projector.AgentState(w, id)
			return err
		})
	})
	if err == nil {
		slog.InfoContext(ctx, "agent spawned", "agent_id", st.ID, "name", st.Name, "room_id", st.Location)
	}
	return st, err
}

// placement resolves the room a new agent joins.
func (s *SimulationService) placement(w *world.World, roomID string) (entity.ID, error) {
	if roomID == "" {
		return entity.None, nil
	}
	room, ok := w.RoomByID(roomID)
	if !ok {
		return entity.None, fmt.Errorf("room %q: %w", roomID, domain.ErrNotFound)
	}
	return room, nil
}

// RemoveAgent deactivates an agent and evicts it from its room.
func (s *SimulationService) RemoveAgent(ctx context.Context, agentID string) error {
	id, err := parseAgent(agentID)
	if err != nil {
		return err
	}
	return s.submit(ctx, "remove_agent", func(ctx context.Context) error {
		return s.world.Update(func(w *world.World) error {
			return sim.DeactivateAgent(ctx, w, s.bus, s.rooms, id)
		})
	})
}

// MoveAgent moves an agent to roomID outside the action pipeline.
func (s *SimulationService) MoveAgent(ctx context.Context, agentID, roomID string) error {
	id, err := parseAgent(agentID)
	if err != nil {
		return err
	}
	return s.submit(ctx, "move_agent", func(ctx context.Context) error {
		return s.world.Update(func(w *world.World) error {
			return s.rooms.MoveAgentToRoomID(ctx, w, id, roomID)
		})
	})
}

// RequestAction runs one tool invocation for agentID. See sim.Executor.
func (s *SimulationService) RequestAction(ctx context.Context, agentID, tool string, params json.RawMessage) (action.Result, error) {
	id, err := parseAgent(agentID)
	if err != nil {
		return action.Result{}, err
	}
	return s.executor.RequestAction(ctx, s.world, id, tool, params)
}

// Tools lists the registered tools.
func (s *SimulationService) Tools() []sim.Tool { return s.executor.Tools() }

// CreateContext creates a shared context known to the listed agents.
func (s *SimulationService) CreateContext(ctx context.Context, spec sim.ContextSpec, agentIDs []string) (entity.Context, error) {
	aware := make([]entity.ID, 0, len(agentIDs))
	for _, raw := range agentIDs {
		id, err := parseAgent(raw)
		if err != nil {
			return entity.Context{}, err
		}
		aware = append(aware, id)
	}

	var c entity.Context
	err := s.submit(ctx, "create_context", func(ctx context.Context) error {
		return s.world.Update(func(w *world.World) error {
			for _, id := range aware {
				if !w.Perceptions.Has(id) {
					return fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
				}
			}
			var err error
			_, c, err = sim.CreateContext(ctx, w, s.bus, spec, s.now(), aware...)
			return err
		})
	})
	return c, err
}

// MemoryDeleted is the payload of memory.deleted agent events.
type MemoryDeleted struct {
	MemoryType  string `json:"memoryType"`
	MemoryIndex int    `json:"memoryIndex"`
	Content     string `json:"content"`
}

// DeleteMemory removes one experience or perception entry by index.
func (s *SimulationService) DeleteMemory(ctx context.Context, agentID, kind string, index int, expected *string) error {
	id, err := parseAgent(agentID)
	if err != nil {
		return err
	}
	return s.submit(ctx, "delete_memory", func(ctx context.Context) error {
		return s.world.Update(func(w *world.World) error {
			removed, err := sim.DeleteMemory(w, id, kind, index, expected, s.now())
			if err != nil {
				return err
			}
			if kind == "" {
				kind = sim.MemoryExperience
			}
			s.bus.EmitAgentEvent(ctx, id, event.TypeMemoryDeleted, MemoryDeleted{
				MemoryType: kind, MemoryIndex: index, Content: removed,
			}, entity.None)
			return nil
		})
	})
}

// ContextDeleted is the payload of context.deleted agent events.
type ContextDeleted struct {
	ContextIndex int    `json:"contextIndex"`
	ContextID    string `json:"contextId"`
	Name         string `json:"name"`
}

// DeleteContext deactivates the context at index in the agent's list.
func (s *SimulationService) DeleteContext(ctx context.Context, agentID string, index int, expectedID string) (entity.Context, error) {
	id, err := parseAgent(agentID)
	if err != nil {
		return entity.Context{}, err
	}
	var c entity.Context
	err = s.submit(ctx, "delete_context", func(ctx context.Context) error {
		return s.world.Update(func(w *world.World) error {
			var err error
			c, err = sim.DeactivateContext(w, id, index, expectedID)
			if err != nil {
				return err
			}
			s.bus.EmitAgentEvent(ctx, id, event.TypeContextDeleted, ContextDeleted{
				ContextIndex: index, ContextID: c.ID, Name: c.Name,
			}, entity.None)
			return nil
		})
	})
	return c, err
}

// ErrNoRoom is returned when chat has no room to speak in.
var ErrNoRoom = errors.New("no room available for the chat user")

// Chat speaks message as the User entity. The user is spawned on first use
// and joins the room of the named target, or the default room.
func (s *SimulationService) Chat(ctx context.Context, message, target string) (action.Result, error) {
	var user entity.ID
	err := s.submit(ctx, "chat", func(ctx context.Context) error {
		return s.world.Update(func(w *world.World) error {
			var err error
			user, err = s.ensureUser(ctx, w, target)
			return err
		})
	})
	if err != nil {
		return action.Result{}, err
	}

	params, err := json.Marshal(struct {
		Message string `json:"message"`
		Target  string `json:"target,omitempty"`
	}{message, target})
	if err != nil {
		return action.Result{}, err
	}
	return s.executor.RequestAction(ctx, s.world, user, "speak", params)
}

// ensureUser returns the chat entity placed where target can hear it.
// Runs on the command loop inside a world step.
func (s *SimulationService) ensureUser(ctx context.Context, w *world.World, target string) (entity.ID, error) {
	room, ok := entity.None, false
	if target != "" {
		if tid, found := w.AgentByName(target); found {
			room, ok = w.RoomOf(tid)
		}
	}
	if !ok {
		if cur, in := w.RoomOf(s.user); s.user != entity.None && in {
			room, ok = cur, true
		} else {
			room, ok = w.RoomByID(s.cfg.DefaultRoom)
		}
	}
	if !ok {
		return entity.None, fmt.Errorf("chat: %w: %w", ErrNoRoom, domain.ErrPrecondition)
	}

	if a, exists := w.Agents.Get(s.user); s.user == entity.None || !exists || !a.Active {
		id, err := sim.SpawnAgent(ctx, w, s.bus, sim.AgentSpec{
			Name:         UserName,
			Role:         UserRole,
			SystemPrompt: "A human observing and talking to the agents.",
			Tools:        sim.DefaultTools,
		}, s.now())
		if err != nil {
			return entity.None, err
		}
		s.setUser(id)
	}
	if err := s.rooms.MoveAgentToRoom(ctx, w, s.user, room); err != nil {
		return entity.None, err
	}
	return s.user, nil
}
