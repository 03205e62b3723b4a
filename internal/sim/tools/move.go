package tools

import (
	"context"
	"errors"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/domain/stimulus"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/world"
)

// MoveParams is the move schema.
type MoveParams struct {
	RoomID string `json:"roomId" validate:"required" desc:"Id of the room to go to"`
	Reason string `json:"reason,omitempty" desc:"Why you are leaving"`
}

// Move walks the agent into another room through the room manager.
func Move(d Deps) sim.Tool {
	return sim.NewTool("move", "Use this to go to another room.",
		func(ctx context.Context, w *world.World, agent entity.ID, p MoveParams, bus sim.Emitter) (action.Result, error) {
			now := d.Clock.Millis()
			target, ok := w.RoomByID(p.RoomID)
			if !ok {
				return action.Failure("move", "Cannot move - room "+p.RoomID+" does not exist", now, action.Data{
					Metadata: map[string]string{"error": "Room not found"},
				}), nil
			}
			if cur, in := w.RoomOf(agent); in && cur == target {
				return action.Result{Action: "move", Success: true, Result: "I am already here", Timestamp: now}, nil
			}

			a, _ := w.Agents.Get(agent)
			if _, in := w.RoomOf(agent); in {
				d.Stimuli.Visual(w, agent, a.Name+" left the room", stimulus.Options{
					Source:   stimulus.SourceAgent,
					Metadata: stimulus.Metadata{AgentNames: []string{a.Name}, Tags: map[string]string{"type": "movement"}},
				})
			}
			if err := d.Rooms.MoveAgentToRoom(ctx, w, agent, target); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return action.Failure("move", "Cannot move - "+err.Error(), now, action.Data{}), nil
				}
				return action.Result{}, err
			}
			d.Stimuli.Visual(w, agent, a.Name+" entered the room", stimulus.Options{
				Source:   stimulus.SourceAgent,
				Metadata: stimulus.Metadata{AgentNames: []string{a.Name}, Tags: map[string]string{"type": "movement"}},
			})

			room, _ := w.Rooms.Get(target)
			bus.EmitRoomEvent(ctx, room.ID, event.TypeAction, event.ActionPayload{
				Action: "move", Reason: p.Reason, Parameters: map[string]string{"roomId": p.RoomID}, AgentName: a.Name,
			}, agent)

			return action.Result{
				Action:    "move",
				Success:   true,
				Result:    "I moved to " + room.Name,
				Timestamp: now,
				Data:      action.Data{Metadata: map[string]string{"roomId": room.ID}},
			}, nil
		})
}
