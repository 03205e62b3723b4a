// Package tools provides the builtin agent tools registered with the executor.
package tools

import (
	"github.com/Strob0t/Habitat/internal/sim"
)

// Deps are the collaborators builtin effects close over.
type Deps struct {
	Bus           *sim.Bus
	Stimuli       *sim.Stimuli
	Rooms         *sim.Rooms
	Clock         sim.Clock
	ThoughtWindow int
}

// Builtins returns every builtin tool.
func Builtins(d Deps) []sim.Tool {
	return []sim.Tool{
		Speak(d),
		Wait(d),
		Think(d),
		Reflect(d),
		Move(d),
		UpdateGoal(d),
		CreateContext(d),
	}
}

// Register adds every builtin to ex.
func Register(ex *sim.Executor, d Deps) error {
	for _, t := range Builtins(d) {
		if err := ex.Register(t); err != nil {
			return err
		}
	}
	return nil
}
