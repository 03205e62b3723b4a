// Package world implements the entity/component store shared by every
// simulation operation.
//
// A World is constructed once at startup, cleared with Reset and dropped at
// shutdown. All mutations run inside Update, one non-preemptible step at a
// time; readers use View and always observe a fully applied step. Component
// tables and relation accessors do no locking of their own: callers must be
// inside Update or View.
package world

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Strob0t/Habitat/internal/domain/entity"
)

// World holds every component table and the room membership relation.
type World struct {
	mu      sync.RWMutex
	version atomic.Uint64
	lastID  entity.ID

	Agents      *Table[entity.Agent]
	Rooms       *Table[entity.Room]
	Memories    *Table[entity.Memory]
	Perceptions *Table[entity.Perception]
	Thoughts    *Table[entity.Thought]
	Goals       *Table[[]entity.Goal]
	Plans       *Table[[]entity.Plan]
	Actions     *Table[entity.Action]
	Appearances *Table[entity.Appearance]
	Contexts    *Table[entity.Context]

	// membership: agent -> room, room -> occupant set, room id -> room entity
	roomOf    map[entity.ID]entity.ID
	occupants map[entity.ID]map[entity.ID]struct{}
	roomIndex map[string]entity.ID
}

// New creates an empty World.
func New() *World {
	w := &World{
		Agents:      newTable[entity.Agent](nil),
		Rooms:       newTable[entity.Room](nil),
		Memories:    newTable(entity.Memory.Clone),
		Perceptions: newTable(entity.Perception.Clone),
		Thoughts:    newTable[entity.Thought](nil),
		Goals:       newTable(entity.CloneGoals),
		Plans:       newTable(entity.ClonePlans),
		Actions:     newTable(entity.Action.Clone),
		Appearances: newTable(entity.Appearance.Clone),
		Contexts:    newTable(entity.Context.Clone),
	}
	w.resetRelations()
	return w
}

func (w *World) resetRelations() {
	w.roomOf = make(map[entity.ID]entity.ID)
	w.occupants = make(map[entity.ID]map[entity.ID]struct{})
	w.roomIndex = make(map[string]entity.ID)
}

// Update runs fn as one exclusive mutation step and bumps the version.
func (w *World) Update(fn func(w *World) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.version.Add(1)
	return fn(w)
}

// View runs fn with shared access. fn must not mutate the World.
func (w *World) View(fn func(w *World)) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	fn(w)
}

// Version increases after every Update. Useful as a cache key for projections.
func (w *World) Version() uint64 {
	return w.version.Load()
}

// CreateEntity allocates a new entity id. Ids are never reused, not even
// across Reset, so a stale id held by an observer can never alias a new entity.
func (w *World) CreateEntity() entity.ID {
	w.lastID++
	return w.lastID
}

// Exists reports whether any component table holds id.
func (w *World) Exists(id entity.ID) bool {
	return w.Agents.Has(id) || w.Rooms.Has(id) || w.Memories.Has(id) ||
		w.Perceptions.Has(id) || w.Thoughts.Has(id) || w.Goals.Has(id) ||
		w.Plans.Has(id) || w.Actions.Has(id) || w.Appearances.Has(id) ||
		w.Contexts.Has(id)
}

// DestroyEntity detaches every component and relation of id.
func (w *World) DestroyEntity(id entity.ID) {
	w.EvictAgent(id)
	if room, ok := w.Rooms.Get(id); ok {
		w.UnregisterRoom(room.ID)
	}
	for _, t := range w.tables() {
		t.Remove(id)
	}
}

// Reset clears all tables and relations. Nothing is re-seeded.
func (w *World) Reset() {
	for _, t := range w.tables() {
		t.clear()
	}
	w.resetRelations()
}

type clearable interface {
	Remove(entity.ID)
	clear()
}

func (w *World) tables() []clearable {
	return []clearable{
		w.Agents, w.Rooms, w.Memories, w.Perceptions, w.Thoughts,
		w.Goals, w.Plans, w.Actions, w.Appearances, w.Contexts,
	}
}

// --- Membership relation ---

// RegisterRoom indexes a room entity under its unique id.
// Returns false when the id is already taken.
func (w *World) RegisterRoom(roomID string, id entity.ID) bool {
	if _, taken := w.roomIndex[roomID]; taken {
		return false
	}
	w.roomIndex[roomID] = id
	w.occupants[id] = make(map[entity.ID]struct{})
	return true
}

// UnregisterRoom drops the room index entry and its occupant set.
// Occupants must have been evicted first.
func (w *World) UnregisterRoom(roomID string) {
	id, ok := w.roomIndex[roomID]
	if !ok {
		return
	}
	for agent := range w.occupants[id] {
		delete(w.roomOf, agent)
	}
	delete(w.occupants, id)
	delete(w.roomIndex, roomID)
}

// RoomByID resolves a room id to its entity.
func (w *World) RoomByID(roomID string) (entity.ID, bool) {
	id, ok := w.roomIndex[roomID]
	return id, ok
}

// RoomOf returns the room entity an agent occupies.
func (w *World) RoomOf(agent entity.ID) (entity.ID, bool) {
	room, ok := w.roomOf[agent]
	return room, ok
}

// PlaceAgent moves agent into room in one step: the agent leaves its previous
// occupant set and joins the new one, never being in zero or two rooms.
// Returns the previous room, if any.
func (w *World) PlaceAgent(agent, room entity.ID) (prev entity.ID, hadPrev bool) {
	prev, hadPrev = w.roomOf[agent]
	if hadPrev {
		delete(w.occupants[prev], agent)
	}
	set, ok := w.occupants[room]
	if !ok {
		set = make(map[entity.ID]struct{})
		w.occupants[room] = set
	}
	set[agent] = struct{}{}
	w.roomOf[agent] = room
	return prev, hadPrev
}

// EvictAgent removes agent from its room. Returns the room it left, if any.
func (w *World) EvictAgent(agent entity.ID) (entity.ID, bool) {
	room, ok := w.roomOf[agent]
	if !ok {
		return entity.None, false
	}
	delete(w.occupants[room], agent)
	delete(w.roomOf, agent)
	return room, true
}

// Occupants returns the agents in room, ascending by id.
func (w *World) Occupants(room entity.ID) []entity.ID {
	set := w.occupants[room]
	ids := make([]entity.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// OccupantCount returns the number of agents in room.
func (w *World) OccupantCount(room entity.ID) int {
	return len(w.occupants[room])
}

// AgentByName finds a live agent by name. Ties resolve to the lowest id.
func (w *World) AgentByName(name string) (entity.ID, bool) {
	for _, id := range w.Agents.IDs() {
		if a, _ := w.Agents.Get(id); a.Name == name {
			return id, true
		}
	}
	return entity.None, false
}
