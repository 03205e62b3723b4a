package tools

import (
	"context"

	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/domain/stimulus"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/world"
)

// SpeakParams is the speak schema.
type SpeakParams struct {
	Message string `json:"message" validate:"required" desc:"What to say"`
	Tone    string `json:"tone,omitempty" validate:"omitempty,oneof=neutral gentle firm concerned excited nervous thoughtful curious worried confident hesitant urgent" desc:"Tone of voice"`
	Target  string `json:"target,omitempty" desc:"Name of the agent addressed"`
	Reason  string `json:"reason,omitempty" desc:"Why you are speaking"`
}

// Speak says something aloud to everyone in the speaker's room.
func Speak(d Deps) sim.Tool {
	return sim.NewTool("speak", "Use this to communicate with others.",
		func(ctx context.Context, w *world.World, agent entity.ID, p SpeakParams, bus sim.Emitter) (action.Result, error) {
			now := d.Clock.Millis()
			roomEnt, ok := w.RoomOf(agent)
			room, found := w.Rooms.Get(roomEnt)
			if !ok || !found {
				return action.Failure("speak", "Cannot speak - agent not in a room", now, action.Data{
					Content:  p.Message,
					Metadata: map[string]string{"error": "No room found"},
				}), nil
			}

			tone := p.Tone
			if tone == "" {
				tone = "neutral"
			}
			reason := p.Reason
			if reason == "" {
				reason = "Communicating with others"
			}
			a, _ := w.Agents.Get(agent)

			d.Stimuli.Auditory(w, agent, p.Message, stimulus.Options{
				Source: stimulus.SourceAgent,
				Decay:  1,
				Metadata: stimulus.Metadata{
					RoomID:     room.ID,
					AgentNames: []string{a.Name},
					Tags:       map[string]string{"type": "speech", "tone": tone, "target": p.Target},
				},
			})

			bus.EmitRoomEvent(ctx, room.ID, event.TypeAction, event.ActionPayload{
				Action:     "speak",
				Reason:     reason,
				Parameters: map[string]string{"message": p.Message, "tone": tone, "target": p.Target},
				AgentName:  a.Name,
			}, agent)
			bus.EmitRoomEvent(ctx, room.ID, event.TypeSpeech, event.SpeechPayload{
				Message:   p.Message,
				Tone:      tone,
				Target:    p.Target,
				AgentName: a.Name,
			}, agent)

			experience := `I said: "` + p.Message + `"`
			if p.Target != "" {
				experience += " to " + p.Target
			}
			w.Memories.Modify(agent, func(m *entity.Memory) {
				m.AddExperience(entity.Experience{Type: "speech", Content: experience, Timestamp: now}, now)
			})

			meta := map[string]string{"tone": tone}
			if p.Target != "" {
				meta["target"] = p.Target
			}
			return action.Result{
				Action:    "speak",
				Success:   true,
				Result:    experience,
				Timestamp: now,
				Data:      action.Data{Content: p.Message, Metadata: meta},
			}, nil
		})
}
