package entity

import (
	"slices"

	"github.com/Strob0t/Habitat/internal/domain/action"
)

// Action tracks an agent's action lifecycle. Pending and LastResult are the
// nullable fields of the component; the component itself is never absent for
// an agent that can act.
type Action struct {
	Pending        *action.Pending `json:"pendingAction"`
	LastActionTime int64           `json:"lastActionTime"`
	LastResult     *action.Result  `json:"lastActionResult"`
	AvailableTools []string        `json:"availableTools"`
}

// NewAction returns an idle Action component for the given tool set.
func NewAction(tools []string) Action {
	return Action{AvailableTools: cloneStrings(tools)}
}

// Clone returns a deep copy.
func (a Action) Clone() Action {
	if a.Pending != nil {
		p := *a.Pending
		p.Parameters = slices.Clone(p.Parameters)
		a.Pending = &p
	}
	if a.LastResult != nil {
		r := a.LastResult.Clone()
		a.LastResult = &r
	}
	a.AvailableTools = cloneStrings(a.AvailableTools)
	return a
}

// CanUse reports whether tool is in the available set.
func (a Action) CanUse(tool string) bool {
	return slices.Contains(a.AvailableTools, tool)
}
