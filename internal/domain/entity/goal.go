package entity

import "slices"

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// Goal is an agent-owned objective. Progress is in [0, 1].
type Goal struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Progress    float64    `json:"progress"`
	Status      GoalStatus `json:"status"`
}

// Plan is a sequence of steps toward a goal.
type Plan struct {
	ID          string   `json:"id"`
	GoalID      string   `json:"goalId,omitempty"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
	Progress    float64  `json:"progress"`
}

// CloneGoals returns a copy of the goal list; never nil.
func CloneGoals(goals []Goal) []Goal {
	if goals == nil {
		return []Goal{}
	}
	return slices.Clone(goals)
}

// ClonePlans returns a deep copy of the plan list; never nil.
func ClonePlans(plans []Plan) []Plan {
	out := make([]Plan, len(plans))
	for i, p := range plans {
		p.Steps = cloneStrings(p.Steps)
		out[i] = p
	}
	return out
}
