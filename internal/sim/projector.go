package sim

import (
	"fmt"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/snapshot"
	"github.com/Strob0t/Habitat/internal/world"
)

// Relationship edge types.
const (
	RelationCoLocated = "co-located"
	RelationSpokeTo   = "spoke_to"
)

// Projector derives read-only snapshots. It never mutates the world; callers
// hold at least the read lock.
type Projector struct {
	clock Clock
}

// NewProjector creates a projector stamping snapshots with clock.
func NewProjector(clock Clock) *Projector {
	return &Projector{clock: clock}
}

// AgentState flattens one agent's components.
func (p *Projector) AgentState(w *world.World, id entity.ID) (snapshot.AgentState, error) {
	a, ok := w.Agents.Get(id)
	if !ok {
		return snapshot.AgentState{}, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}

	st := snapshot.AgentState{
		ID:             id.String(),
		Name:           a.Name,
		Role:           a.Role,
		SystemPrompt:   a.SystemPrompt,
		Platform:       a.Platform,
		Active:         a.Active,
		Memories:       snapshot.Memories{Thoughts: []string{}, Experiences: []entity.Experience{}, Perceptions: []entity.PerceptionEntry{}},
		Context:        []snapshot.ContextRef{},
		Goals:          []entity.Goal{},
		Plans:          []entity.Plan{},
		AvailableTools: []string{},
		Appearance:     entity.Appearance{SocialCues: []string{}},
		Status:         snapshot.StatusIdle,
	}
	if !a.Active {
		st.Status = snapshot.StatusInactive
	}

	if room, ok := w.RoomOf(id); ok {
		if r, ok := w.Rooms.Get(room); ok {
			st.Location = r.ID
		}
	}
	if app, ok := w.Appearances.Get(id); ok {
		st.Appearance = app
		st.Description = app.Description
	}
	if m, ok := w.Memories.Get(id); ok {
		st.Memories = snapshot.Memories{Thoughts: m.Thoughts, Experiences: m.Experiences, Perceptions: m.Perceptions}
		st.LastThought = m.LastThought
		st.LastUpdate = m.LastUpdate
	}
	if th, ok := w.Thoughts.Get(id); ok {
		st.Emotion = th.Emotion
		if st.LastThought == "" {
			st.LastThought = th.Current
		}
	}
	if per, ok := w.Perceptions.Get(id); ok {
		st.Attention = per.Attention
	}
	if goals, ok := w.Goals.Get(id); ok {
		st.Goals = goals
	}
	if plans, ok := w.Plans.Get(id); ok {
		st.Plans = plans
	}
	if act, ok := w.Actions.Get(id); ok {
		st.CurrentAction = act.Pending
		st.LastActionResult = act.LastResult
		st.LastActionTime = act.LastActionTime
		st.AvailableTools = act.AvailableTools
		if act.Pending != nil && a.Active {
			st.Status = snapshot.StatusPending
		}
	}
	st.Context = ContextRefs(w, id)
	return st, nil
}

// ContextRefs lists the contexts agent is aware of, in the agent's index order.
// Deactivated contexts are kept so indexes stay stable.
func ContextRefs(w *world.World, agent entity.ID) []snapshot.ContextRef {
	refs := []snapshot.ContextRef{}
	per, ok := w.Perceptions.Get(agent)
	if !ok {
		return refs
	}
	for i, cid := range per.Contexts {
		c, ok := w.Contexts.Get(cid)
		if !ok {
			continue
		}
		refs = append(refs, snapshot.ContextRef{Index: i, EntityID: cid.String(), Context: c})
	}
	return refs
}

// RoomState returns a room and its occupants sorted by entity id.
func (p *Projector) RoomState(w *world.World, roomID string) (snapshot.RoomState, error) {
	id, ok := w.RoomByID(roomID)
	if !ok {
		return snapshot.RoomState{}, fmt.Errorf("room %q: %w", roomID, domain.ErrNotFound)
	}
	return p.roomState(w, id), nil
}

func (p *Projector) roomState(w *world.World, id entity.ID) snapshot.RoomState {
	r, _ := w.Rooms.Get(id)
	occupants := make([]snapshot.Occupant, 0, w.OccupantCount(id))
	for _, aid := range w.Occupants(id) {
		a, _ := w.Agents.Get(aid)
		occupants = append(occupants, snapshot.Occupant{ID: aid.String(), Name: a.Name})
	}
	return snapshot.RoomState{
		ID:          r.ID,
		EntityID:    id.String(),
		Name:        r.Name,
		Description: r.Description,
		Type:        r.Type,
		Occupants:   occupants,
		LastUpdate:  p.clock.Millis(),
	}
}

// WorldState projects every agent and room plus relationship edges.
func (p *Projector) WorldState(w *world.World, running bool) snapshot.WorldState {
	ws := snapshot.WorldState{
		Agents:        []snapshot.AgentState{},
		Rooms:         []snapshot.RoomState{},
		Relationships: Relationships(w),
		IsRunning:     running,
		Timestamp:     p.clock.Millis(),
		Version:       w.Version(),
	}
	for _, id := range w.Agents.IDs() {
		st, err := p.AgentState(w, id)
		if err == nil {
			ws.Agents = append(ws.Agents, st)
		}
	}
	for _, id := range w.Rooms.IDs() {
		ws.Rooms = append(ws.Rooms, p.roomState(w, id))
	}
	return ws
}

// Relationships derives agent edges: one co-located edge per pair of agents
// sharing a room, and one spoke_to edge per speaker/target pair found in
// perception metadata, weighted by how often it was heard.
func Relationships(w *world.World) []snapshot.Relationship {
	edges := []snapshot.Relationship{}

	for _, room := range w.Rooms.IDs() {
		occ := w.Occupants(room)
		for i := 0; i < len(occ); i++ {
			for j := i + 1; j < len(occ); j++ {
				edges = append(edges, snapshot.Relationship{
					Source: occ[i].String(), Target: occ[j].String(), Type: RelationCoLocated, Strength: 1,
				})
			}
		}
	}

	// First agent by id wins a shared name, as in World.AgentByName.
	byName := map[string]entity.ID{}
	for _, id := range w.Agents.IDs() {
		a, _ := w.Agents.Get(id)
		if _, dup := byName[a.Name]; !dup {
			byName[a.Name] = id
		}
	}

	type pair struct{ from, to entity.ID }
	counts := map[pair]float64{}
	var order []pair
	for _, listener := range w.Memories.IDs() {
		m, _ := w.Memories.Get(listener)
		for _, e := range m.Perceptions {
			from, ok := byName[e.Metadata["agentName"]]
			if !ok {
				continue
			}
			to, ok := byName[e.Metadata["target"]]
			if !ok || to == from {
				continue
			}
			k := pair{from, to}
			if _, seen := counts[k]; !seen {
				order = append(order, k)
			}
			counts[k]++
		}
	}
	for _, k := range order {
		edges = append(edges, snapshot.Relationship{
			Source: k.from.String(), Target: k.to.String(), Type: RelationSpokeTo, Strength: counts[k],
		})
	}
	return edges
}
