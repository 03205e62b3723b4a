package tools

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/world"
)

// UpdateGoalParams is the updateGoal schema. Without goalId a new goal is
// created from description.
type UpdateGoalParams struct {
	GoalID      string   `json:"goalId,omitempty" desc:"Id of the goal to update; omit to create one"`
	Description string   `json:"description,omitempty" validate:"required_without=GoalID" desc:"What you want to achieve"`
	Progress    *float64 `json:"progress,omitempty" validate:"omitempty,gte=0,lte=1" desc:"Progress between 0 and 1"`
	Status      string   `json:"status,omitempty" validate:"omitempty,oneof=active completed abandoned" desc:"Goal status"`
	Priority    *int     `json:"priority,omitempty" desc:"Higher is more important"`
}

// UpdateGoal creates or updates one of the agent's goals.
func UpdateGoal(d Deps) sim.Tool {
	return sim.NewTool("updateGoal", "Use this to set a new goal or record progress on an existing one.",
		func(ctx context.Context, w *world.World, agent entity.ID, p UpdateGoalParams, bus sim.Emitter) (action.Result, error) {
			now := d.Clock.Millis()
			goals, _ := w.Goals.Get(agent)

			idx := -1
			if p.GoalID != "" {
				for i, g := range goals {
					if g.ID == p.GoalID {
						idx = i
						break
					}
				}
				if idx < 0 {
					return action.Failure("updateGoal", "No goal with id "+p.GoalID, now, action.Data{
						Metadata: map[string]string{"error": "Goal not found"},
					}), nil
				}
			}

			var g entity.Goal
			verb := "updated"
			if idx < 0 {
				g = entity.Goal{ID: uuid.NewString(), Status: entity.GoalActive}
				verb = "set"
			} else {
				g = goals[idx]
			}
			if p.Description != "" {
				g.Description = p.Description
			}
			if p.Priority != nil {
				g.Priority = *p.Priority
			}
			if p.Status != "" {
				g.Status = entity.GoalStatus(p.Status)
			}
			if p.Progress != nil {
				g.Progress = *p.Progress
				if g.Progress >= 1 {
					g.Status = entity.GoalCompleted
				}
			}
			if g.Status == entity.GoalCompleted {
				g.Progress = 1
			}

			if idx < 0 {
				goals = append(goals, g)
			} else {
				goals[idx] = g
			}
			w.Goals.Set(agent, goals)

			bus.EmitAgentEvent(ctx, agent, event.TypeGoal, g, agent)
			return action.Result{
				Action:    "updateGoal",
				Success:   true,
				Result:    fmt.Sprintf("I %s my goal: %s (%s)", verb, g.Description, g.Status),
				Timestamp: now,
				Data: action.Data{Content: g.Description, Metadata: map[string]string{
					"goalId":   g.ID,
					"status":   string(g.Status),
					"progress": strconv.FormatFloat(g.Progress, 'f', -1, 64),
				}},
			}, nil
		})
}
