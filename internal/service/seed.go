package service

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/world"
)

//go:embed seed.yaml
var defaultSeed []byte

// Seed describes a starting world: one room and the agents placed in it.
type Seed struct {
	Room   sim.RoomConfig `yaml:"room"`
	Agents []SeedAgent    `yaml:"agents"`
}

// SeedAgent is an agent plus its starting memories.
type SeedAgent struct {
	Name         string           `yaml:"name"`
	Role         string           `yaml:"role"`
	SystemPrompt string           `yaml:"systemPrompt"`
	Appearance   string           `yaml:"appearance"`
	Platform     string           `yaml:"platform"`
	Tools        []string         `yaml:"tools"`
	Goals        []string         `yaml:"goals"`
	Thoughts     []string         `yaml:"thoughts"`
	LastThought  string           `yaml:"lastThought"`
	Experiences  []SeedExperience `yaml:"experiences"`
}

// SeedExperience is a memory dated relative to seeding time.
type SeedExperience struct {
	Ago     time.Duration `yaml:"ago"`
	Content string        `yaml:"content"`
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(data []byte) (Seed, error) {
	var sd Seed
	if err := yaml.Unmarshal(data, &sd); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}
	if sd.Room.ID == "" {
		return Seed{}, fmt.Errorf("parse seed: room id is required")
	}
	return sd, nil
}

// DefaultSeed returns the built-in demo world.
func DefaultSeed() Seed {
	sd, err := ParseSeed(defaultSeed)
	if err != nil {
		panic(err)
	}
	return sd
}

// Seed creates the seed room and agents. Entries that already exist by room
// id or agent name are left alone, so seeding twice changes nothing.
func (s *SimulationService) Seed(ctx context.Context, sd Seed) error {
	return s.submit(ctx, "seed", func(ctx context.Context) error {
		return s.seed(ctx, sd)
	})
}

func (s *SimulationService) seed(ctx context.Context, sd Seed) error {
	var created int
	err := s.world.Update(func(w *world.World) error {
		room, ok := w.RoomByID(sd.Room.ID)
		if !ok {
			var err error
			if room, err = s.rooms.CreateRoom(ctx, w, sd.Room); err != nil {
				return err
			}
		}

		now := s.now()
		for _, a := range sd.Agents {
			if _, exists := w.AgentByName(a.Name); exists {
				continue
			}
			id, err := sim.SpawnAgent(ctx, w, s.bus, sim.AgentSpec{
				Name:         a.Name,
				Role:         a.Role,
				SystemPrompt: a.SystemPrompt,
				Appearance:   a.Appearance,
				Tools:        a.Tools,
				Platform:     a.Platform,
				InitialGoals: a.Goals,
			}, now)
			if err != nil {
				return fmt.Errorf("seed agent %s: %w", a.Name, err)
			}
			w.Memories.Modify(id, func(m *entity.Memory) {
				for _, t := range a.Thoughts {
					m.AddThought(t, s.cfg.ThoughtWindow, now)
				}
				for _, e := range a.Experiences {
					m.AddExperience(entity.Experience{
						Type:      "memory",
						Content:   e.Content,
						Timestamp: now - e.Ago.Milliseconds(),
					}, now)
				}
				if a.LastThought != "" {
					m.LastThought = a.LastThought
				}
			})
			w.Thoughts.Set(id, entity.Thought{Current: a.LastThought})
			if err := s.rooms.MoveAgentToRoom(ctx, w, id, room); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "world seeded", "room_id", sd.Room.ID, "agents_created", created)
	return nil
}
