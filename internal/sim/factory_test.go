package sim_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/world"
)

func TestSpawnAgentAttachesComponents(t *testing.T) {
	w := world.New()
	bus := sim.NewBus(time.Second)
	var spawned []event.Type
	bus.Subscribe(event.Any, func(_ context.Context, ev *event.Event) error {
		spawned = append(spawned, ev.Type)
		return nil
	})

	var id entity.ID
	err := w.Update(func(w *world.World) error {
		var err error
		id, err = sim.SpawnAgent(context.Background(), w, bus, sim.AgentSpec{
			Name:         "  Seraph ",
			Role:         "Guide",
			InitialGoals: []string{"greet", "listen"},
		}, 10)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	w.View(func(w *world.World) {
		a, _ := w.Agents.Get(id)
		if a.Name != "Seraph" || !a.Active {
			t.Errorf("agent = %+v", a)
		}
		for name, has := range map[string]bool{
			"memory":     w.Memories.Has(id),
			"perception": w.Perceptions.Has(id),
			"thought":    w.Thoughts.Has(id),
			"goals":      w.Goals.Has(id),
			"plans":      w.Plans.Has(id),
			"action":     w.Actions.Has(id),
			"appearance": w.Appearances.Has(id),
		} {
			if !has {
				t.Errorf("missing %s component", name)
			}
		}
		goals, _ := w.Goals.Get(id)
		if len(goals) != 2 || goals[0].Priority <= goals[1].Priority {
			t.Errorf("goals = %+v", goals)
		}
		if _, placed := w.RoomOf(id); placed {
			t.Error("new agent should not be placed")
		}
	})
	if len(spawned) != 1 || spawned[0] != event.TypeAgentSpawned {
		t.Errorf("events = %v", spawned)
	}

	err = w.Update(func(w *world.World) error {
		_, err := sim.SpawnAgent(context.Background(), w, bus, sim.AgentSpec{Name: " "}, 10)
		return err
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("blank name err = %v", err)
	}
}

func TestDeactivateAgent(t *testing.T) {
	w, bus, ids := populate(t, []string{"a"}, map[string]string{"Tyler": "a"})
	rooms := sim.NewRooms(bus)
	agent := ids["Tyler"]
	bus.SubscribeAgent(agent, event.Any, func(context.Context, *event.Event) error { return nil })

	_ = w.Update(func(w *world.World) error {
		if err := sim.DeactivateAgent(context.Background(), w, bus, rooms, agent); err != nil {
			t.Fatal(err)
		}
		a, _ := w.Agents.Get(agent)
		if a.Active {
			t.Error("agent still active")
		}
		if _, in := w.RoomOf(agent); in {
			t.Error("agent still placed")
		}
		if err := sim.DeactivateAgent(context.Background(), w, bus, rooms, 999); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("unknown agent err = %v", err)
		}
		return nil
	})
	if bus.Len() != 0 {
		t.Errorf("agent subscriptions left: %d", bus.Len())
	}
}

func TestCreateContextID(t *testing.T) {
	w, bus, ids := populate(t, nil, map[string]string{"Seraph": ""})
	_ = w.Update(func(w *world.World) error {
		_, c, err := sim.CreateContext(context.Background(), w, bus, sim.ContextSpec{Name: "rain"}, 1234, ids["Seraph"])
		if err != nil {
			t.Fatal(err)
		}
		if !regexp.MustCompile(`^context_1234_[0-9a-f]{9}$`).MatchString(c.ID) {
			t.Errorf("id = %q", c.ID)
		}
		if c.Creator != "system" || !c.Active {
			t.Errorf("context = %+v", c)
		}

		if _, _, err := sim.CreateContext(context.Background(), w, bus, sim.ContextSpec{}, 1); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("nameless context err = %v", err)
		}
		return nil
	})
}

func seedExperiences(t *testing.T, contents ...string) (*world.World, entity.ID) {
	t.Helper()
	w, _, ids := populate(t, nil, map[string]string{"Seraph": ""})
	agent := ids["Seraph"]
	_ = w.Update(func(w *world.World) error {
		w.Memories.Modify(agent, func(m *entity.Memory) {
			for _, c := range contents {
				m.AddExperience(entity.Experience{Type: "note", Content: c}, 1)
			}
		})
		return nil
	})
	return w, agent
}

func TestDeleteMemory(t *testing.T) {
	ptr := func(s string) *string { return &s }
	tests := []struct {
		name     string
		kind     string
		index    int
		expected *string
		wantErr  error
		want     []string
	}{
		{"middle", sim.MemoryExperience, 1, nil, nil, []string{"a", "c"}},
		{"default kind", "", 0, nil, nil, []string{"b", "c"}},
		{"matching expectation", sim.MemoryExperience, 2, ptr("c"), nil, []string{"a", "b"}},
		{"stale expectation", sim.MemoryExperience, 1, ptr("c"), domain.ErrConflict, []string{"a", "b", "c"}},
		{"out of range", sim.MemoryExperience, 3, nil, domain.ErrNotFound, []string{"a", "b", "c"}},
		{"negative", sim.MemoryExperience, -1, nil, domain.ErrNotFound, []string{"a", "b", "c"}},
		{"bad kind", "dream", 0, nil, domain.ErrValidation, []string{"a", "b", "c"}},
		{"empty perceptions", sim.MemoryPerception, 0, nil, domain.ErrNotFound, []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, agent := seedExperiences(t, "a", "b", "c")
			_ = w.Update(func(w *world.World) error {
				_, err := sim.DeleteMemory(w, agent, tt.kind, tt.index, tt.expected, 2)
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return nil
			})
			var got []string
			w.View(func(w *world.World) {
				m, _ := w.Memories.Get(agent)
				for _, e := range m.Experiences {
					got = append(got, e.Content)
				}
			})
			if len(got) != len(tt.want) {
				t.Fatalf("experiences = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("experiences = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDeactivateContextConflict(t *testing.T) {
	w, bus, ids := populate(t, nil, map[string]string{"Seraph": ""})
	agent := ids["Seraph"]
	var first entity.Context
	_ = w.Update(func(w *world.World) error {
		_, first, _ = sim.CreateContext(context.Background(), w, bus, sim.ContextSpec{Name: "one"}, 1, agent)
		_, _, _ = sim.CreateContext(context.Background(), w, bus, sim.ContextSpec{Name: "two"}, 1, agent)
		return nil
	})

	_ = w.Update(func(w *world.World) error {
		if _, err := sim.DeactivateContext(w, agent, 1, first.ID); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("mismatched id err = %v", err)
		}
		if _, err := sim.DeactivateContext(w, agent, 5, ""); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("out of range err = %v", err)
		}
		c, err := sim.DeactivateContext(w, agent, 0, first.ID)
		if err != nil || c.Active {
			t.Errorf("deactivate = %+v, %v", c, err)
		}
		return nil
	})
}
