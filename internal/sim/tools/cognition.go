package tools

import (
	"context"

	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/world"
)

// WaitParams is the wait schema.
type WaitParams struct {
	Reason string `json:"reason,omitempty" desc:"Why you are waiting"`
}

// Wait passes the turn. Co-located agents see the action event.
func Wait(d Deps) sim.Tool {
	return sim.NewTool("wait", "Use this to pause and observe without acting.",
		func(ctx context.Context, w *world.World, agent entity.ID, p WaitParams, bus sim.Emitter) (action.Result, error) {
			now := d.Clock.Millis()
			a, _ := w.Agents.Get(agent)
			if roomID, ok := d.Rooms.RoomIDOf(w, agent); ok {
				bus.EmitRoomEvent(ctx, roomID, event.TypeAction, event.ActionPayload{
					Action: "wait", Reason: p.Reason, AgentName: a.Name,
				}, agent)
			}
			result := "I waited"
			if p.Reason != "" {
				result += ": " + p.Reason
			}
			return action.Result{Action: "wait", Success: true, Result: result, Timestamp: now}, nil
		})
}

// ThinkParams is the think schema.
type ThinkParams struct {
	Thought string `json:"thought" validate:"required" desc:"The thought to record"`
	Emotion string `json:"emotion,omitempty" desc:"How the thought makes you feel"`
}

// Think records a private thought. It is published on the agent's own scope,
// never to the room.
func Think(d Deps) sim.Tool {
	return sim.NewTool("think", "Use this to reason privately before acting.",
		func(ctx context.Context, w *world.World, agent entity.ID, p ThinkParams, bus sim.Emitter) (action.Result, error) {
			now := d.Clock.Millis()
			w.Memories.Modify(agent, func(m *entity.Memory) {
				m.AddThought(p.Thought, d.ThoughtWindow, now)
			})
			w.Thoughts.Set(agent, entity.Thought{Current: p.Thought, Emotion: p.Emotion})

			bus.EmitAgentEvent(ctx, agent, event.TypeThought, map[string]string{
				"thought": p.Thought, "emotion": p.Emotion,
			}, agent)
			return action.Result{
				Action:    "think",
				Success:   true,
				Result:    "I thought: " + p.Thought,
				Timestamp: now,
				Data:      action.Data{Content: p.Thought},
			}, nil
		})
}

// ReflectParams is the reflect schema.
type ReflectParams struct {
	Reflection string `json:"reflection" validate:"required" desc:"What you learned or realized"`
	Topic      string `json:"topic,omitempty" desc:"What the reflection is about"`
}

// Reflect turns a realization into a lasting experience.
func Reflect(d Deps) sim.Tool {
	return sim.NewTool("reflect", "Use this to reflect on recent experiences and remember the insight.",
		func(ctx context.Context, w *world.World, agent entity.ID, p ReflectParams, bus sim.Emitter) (action.Result, error) {
			now := d.Clock.Millis()
			w.Memories.Modify(agent, func(m *entity.Memory) {
				m.AddExperience(entity.Experience{Type: "reflection", Content: p.Reflection, Timestamp: now}, now)
			})
			bus.EmitAgentEvent(ctx, agent, event.TypeThought, map[string]string{
				"reflection": p.Reflection, "topic": p.Topic,
			}, agent)

			meta := map[string]string{}
			if p.Topic != "" {
				meta["topic"] = p.Topic
			}
			return action.Result{
				Action:    "reflect",
				Success:   true,
				Result:    "I reflected: " + p.Reflection,
				Timestamp: now,
				Data:      action.Data{Content: p.Reflection, Metadata: meta},
			}, nil
		})
}
