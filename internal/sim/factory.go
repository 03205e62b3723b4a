package sim

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/world"
)

// DefaultTools is granted to agents spawned without an explicit tool list.
var DefaultTools = []string{"speak", "wait", "think", "reflect"}

// AgentSpec describes an agent to spawn.
type AgentSpec struct {
	Name         string   `json:"name" validate:"required"`
	Role         string   `json:"role"`
	SystemPrompt string   `json:"systemPrompt"`
	Appearance   string   `json:"appearance,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	Platform     string   `json:"platform,omitempty"`
	InitialGoals []string `json:"initialGoals,omitempty"`
}

// SpawnAgent creates an agent entity with every component an acting agent
// needs. The agent is placed in no room. Emits system agent.spawned.
func SpawnAgent(ctx context.Context, w *world.World, bus *Bus, spec AgentSpec, now int64) (entity.ID, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if spec.Name == "" {
		return entity.None, fmt.Errorf("spawn agent: name is required: %w", domain.ErrValidation)
	}
	tools := spec.Tools
	if len(tools) == 0 {
		tools = DefaultTools
	}

	id := w.CreateEntity()
	w.Agents.Set(id, entity.Agent{
		Name:         spec.Name,
		Role:         spec.Role,
		Active:       true,
		SystemPrompt: spec.SystemPrompt,
		Platform:     spec.Platform,
	})
	w.Memories.Set(id, entity.NewMemory(now))
	w.Perceptions.Set(id, entity.Perception{Contexts: []entity.ID{}})
	w.Thoughts.Set(id, entity.Thought{})
	goals := make([]entity.Goal, 0, len(spec.InitialGoals))
	for i, g := range spec.InitialGoals {
		goals = append(goals, entity.Goal{
			ID:          uuid.NewString(),
			Description: g,
			Priority:    len(spec.InitialGoals) - i,
			Status:      entity.GoalActive,
		})
	}
	w.Goals.Set(id, goals)
	w.Plans.Set(id, []entity.Plan{})
	w.Actions.Set(id, entity.NewAction(tools))
	w.Appearances.Set(id, entity.Appearance{Description: spec.Appearance, SocialCues: []string{}})

	bus.EmitSystemEvent(ctx, event.TypeAgentSpawned, event.LifecyclePayload{
		ID: id.String(), Name: spec.Name, Kind: "agent",
	})
	return id, nil
}

// DeactivateAgent marks the agent inactive, evicts it from its room and
// drops its agent-scope subscriptions before returning. Components are kept
// so the agent still appears in snapshots. Emits system agent.removed.
func DeactivateAgent(ctx context.Context, w *world.World, bus *Bus, rooms *Rooms, agent entity.ID) error {
	a, ok := w.Agents.Get(agent)
	if !ok {
		return fmt.Errorf("agent %s: %w", agent, domain.ErrNotFound)
	}
	rooms.RemoveAgentFromRoom(ctx, w, agent)
	bus.UnsubscribeAgent(agent)
	w.Agents.Modify(agent, func(a *entity.Agent) { a.Active = false })

	bus.EmitSystemEvent(ctx, event.TypeAgentRemoved, event.LifecyclePayload{
		ID: agent.String(), Name: a.Name, Kind: "agent",
	})
	return nil
}

// ContextSpec describes a shared context to create.
type ContextSpec struct {
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description"`
	Type        string            `json:"type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Creator     string            `json:"creator,omitempty"`
}

// CreateContext allocates a Context entity and makes every agent in aware
// of it. Emits system context.created.
func CreateContext(ctx context.Context, w *world.World, bus *Bus, spec ContextSpec, now int64, aware ...entity.ID) (entity.ID, entity.Context, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return entity.None, entity.Context{}, fmt.Errorf("create context: name is required: %w", domain.ErrValidation)
	}
	if spec.Creator == "" {
		spec.Creator = "system"
	}
	c := entity.Context{
		ID:          fmt.Sprintf("context_%d_%s", now, strings.ReplaceAll(uuid.NewString(), "-", "")[:9]),
		Name:        spec.Name,
		Description: spec.Description,
		Type:        spec.Type,
		Metadata:    spec.Metadata,
		CreatedAt:   now,
		Creator:     spec.Creator,
		Active:      true,
	}
	id := w.CreateEntity()
	w.Contexts.Set(id, c)
	for _, agent := range aware {
		w.Perceptions.Modify(agent, func(p *entity.Perception) {
			p.Contexts = append(p.Contexts, id)
		})
	}

	bus.EmitSystemEvent(ctx, event.TypeContextCreated, event.LifecyclePayload{ID: c.ID, Name: c.Name, Kind: "context"})
	return id, c, nil
}

// Memory kinds addressable by index.
const (
	MemoryExperience = "experience"
	MemoryPerception = "perception"
)

// DeleteMemory removes exactly the entry at index from an agent's experience
// or perception list. When expected is non-nil it must equal the content at
// index, otherwise the list changed since the caller's snapshot and the
// delete fails with ErrConflict. Returns the removed content.
func DeleteMemory(w *world.World, agent entity.ID, kind string, index int, expected *string, now int64) (string, error) {
	m, ok := w.Memories.Get(agent)
	if !ok {
		return "", fmt.Errorf("memory of agent %s: %w", agent, domain.ErrNotFound)
	}

	var n int
	var content func(int) string
	switch kind {
	case MemoryExperience, "":
		kind = MemoryExperience
		n = len(m.Experiences)
		content = func(i int) string { return m.Experiences[i].Content }
	case MemoryPerception:
		n = len(m.Perceptions)
		content = func(i int) string { return m.Perceptions[i].Content }
	default:
		return "", fmt.Errorf("memory type %q: %w", kind, domain.ErrValidation)
	}
	if index < 0 || index >= n {
		return "", fmt.Errorf("%s index %d of %d: %w", kind, index, n, domain.ErrNotFound)
	}
	removed := content(index)
	if expected != nil && *expected != removed {
		return "", fmt.Errorf("%s index %d no longer holds the expected entry: %w", kind, index, domain.ErrConflict)
	}

	w.Memories.Modify(agent, func(m *entity.Memory) {
		if kind == MemoryExperience {
			m.Experiences = append(m.Experiences[:index], m.Experiences[index+1:]...)
		} else {
			m.Perceptions = append(m.Perceptions[:index], m.Perceptions[index+1:]...)
		}
		m.LastUpdate = now
	})
	return removed, nil
}

// DeactivateContext deactivates the context at index of the agent's context
// list. The entry keeps its position so later indexes do not shift. When
// expectedID is set it must match the context id at index (ErrConflict).
func DeactivateContext(w *world.World, agent entity.ID, index int, expectedID string) (entity.Context, error) {
	per, ok := w.Perceptions.Get(agent)
	if !ok {
		return entity.Context{}, fmt.Errorf("contexts of agent %s: %w", agent, domain.ErrNotFound)
	}
	if index < 0 || index >= len(per.Contexts) {
		return entity.Context{}, fmt.Errorf("context index %d of %d: %w", index, len(per.Contexts), domain.ErrNotFound)
	}
	cid := per.Contexts[index]
	c, ok := w.Contexts.Get(cid)
	if !ok {
		return entity.Context{}, fmt.Errorf("context entity %s: %w", cid, domain.ErrNotFound)
	}
	if expectedID != "" && c.ID != expectedID {
		return entity.Context{}, fmt.Errorf("context index %d no longer holds %s: %w", index, expectedID, domain.ErrConflict)
	}
	w.Contexts.Modify(cid, func(c *entity.Context) { c.Active = false })
	c.Active = false
	return c, nil
}
