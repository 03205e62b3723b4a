package tools

import (
	"context"

	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/stimulus"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/world"
)

// CreateContextParams is the createContext schema.
type CreateContextParams struct {
	Name        string            `json:"name" validate:"required" desc:"Short name of the shared context"`
	Description string            `json:"description,omitempty" desc:"What the context is about"`
	Type        string            `json:"type,omitempty" desc:"Kind of context, e.g. topic or object"`
	Metadata    map[string]string `json:"metadata,omitempty" desc:"Additional key/value details"`
}

// CreateContext introduces a shared context that everyone in the agent's
// room becomes aware of.
func CreateContext(d Deps) sim.Tool {
	return sim.NewTool("createContext", "Use this to introduce something everyone present should be aware of.",
		func(ctx context.Context, w *world.World, agent entity.ID, p CreateContextParams, bus sim.Emitter) (action.Result, error) {
			now := d.Clock.Millis()
			a, _ := w.Agents.Get(agent)

			aware := []entity.ID{agent}
			if room, ok := w.RoomOf(agent); ok {
				aware = w.Occupants(room)
			}
			_, c, err := sim.CreateContext(ctx, w, d.Bus, sim.ContextSpec{
				Name:        p.Name,
				Description: p.Description,
				Type:        p.Type,
				Metadata:    p.Metadata,
				Creator:     a.Name,
			}, now, aware...)
			if err != nil {
				return action.Result{}, err
			}

			d.Stimuli.Social(w, agent, a.Name+" drew attention to "+p.Name, stimulus.Options{
				Source:   stimulus.SourceAgent,
				Metadata: stimulus.Metadata{AgentNames: []string{a.Name}, Tags: map[string]string{"type": "context", "contextId": c.ID}},
			})
			return action.Result{
				Action:    "createContext",
				Success:   true,
				Result:    "I created the context " + c.Name,
				Timestamp: now,
				Data:      action.Data{Content: c.Description, Metadata: map[string]string{"contextId": c.ID}},
			}, nil
		})
}
