package sim

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	hbotel "github.com/Strob0t/Habitat/internal/adapter/otel"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/stimulus"
	"github.com/Strob0t/Habitat/internal/world"
)

// Stimuli materializes stimuli into perception entries and runs the
// decay/prune pipeline that bounds perception growth.
//
// Stimulus creation never publishes to the bus; callers emit the
// higher-level event themselves.
type Stimuli struct {
	maxPerceptions int
	clock          Clock
	metrics        *hbotel.Metrics
}

// NewStimuli creates a stimulus factory. maxPerceptions caps the entries kept
// per agent regardless of decay.
func NewStimuli(maxPerceptions int, clock Clock) *Stimuli {
	return &Stimuli{maxPerceptions: maxPerceptions, clock: clock}
}

// SetMetrics enables stimulus counters.
func (s *Stimuli) SetMetrics(m *hbotel.Metrics) { s.metrics = m }

// Create appends a perception entry to every agent co-located with source.
// The source never receives its own stimulus unless opts.IncludeSource is
// set or opts.Target names it. With a Target, only the named agent receives
// the entry. A source that is in no room reaches nobody.
// Returns the recipients in ascending id order. Caller holds the write lock.
func (s *Stimuli) Create(w *world.World, source entity.ID, content string, opts stimulus.Options) []entity.ID {
	if opts.Medium == "" {
		opts.Medium = entity.CategoryEnvironmental
	}
	if opts.Source == "" {
		opts.Source = stimulus.SourceAgent
	}
	room, ok := w.RoomOf(source)
	if !ok {
		return nil
	}
	if opts.Metadata.RoomID == "" {
		if r, ok := w.Rooms.Get(room); ok {
			opts.Metadata.RoomID = r.ID
		}
	}

	now := s.clock.Millis()
	st := stimulus.Stimulus{Origin: source, Content: content, Options: opts, Timestamp: now}

	var recipients []entity.ID
	for _, id := range w.Occupants(room) {
		if !s.receives(w, source, id, opts) {
			continue
		}
		entry := st.Entry()
		w.Memories.Modify(id, func(m *entity.Memory) {
			m.AddPerception(entry, s.maxPerceptions, now)
		})
		w.Perceptions.Modify(id, func(p *entity.Perception) { p.Attention = content })
		recipients = append(recipients, id)
	}

	if s.metrics != nil && len(recipients) > 0 {
		s.metrics.StimuliDelivered.Add(context.Background(), int64(len(recipients)),
			metric.WithAttributes(attribute.String("stimulus.medium", opts.Medium)))
	}
	return recipients
}

func (s *Stimuli) receives(w *world.World, source, id entity.ID, opts stimulus.Options) bool {
	if !w.Memories.Has(id) {
		return false
	}
	if opts.Target != "" {
		a, ok := w.Agents.Get(id)
		return ok && a.Name == opts.Target
	}
	return id != source || opts.IncludeSource
}

// Auditory creates a stimulus heard by co-located agents.
func (s *Stimuli) Auditory(w *world.World, source entity.ID, content string, opts stimulus.Options) []entity.ID {
	opts.Medium = entity.CategoryAuditory
	return s.Create(w, source, content, opts)
}

// Visual creates a stimulus seen by co-located agents.
func (s *Stimuli) Visual(w *world.World, source entity.ID, content string, opts stimulus.Options) []entity.ID {
	opts.Medium = entity.CategoryVisual
	return s.Create(w, source, content, opts)
}

// Social creates a social-cue stimulus.
func (s *Stimuli) Social(w *world.World, source entity.ID, content string, opts stimulus.Options) []entity.ID {
	opts.Medium = entity.CategorySocial
	return s.Create(w, source, content, opts)
}

// Environmental creates a system-originated stimulus about the surroundings.
func (s *Stimuli) Environmental(w *world.World, source entity.ID, content string, opts stimulus.Options) []entity.ID {
	opts.Medium = entity.CategoryEnvironmental
	if opts.Source == "" {
		opts.Source = stimulus.SourceSystem
	}
	return s.Create(w, source, content, opts)
}

// Decay decrements every live perception entry by one. Decay never goes
// below zero and never increases. Returns the number of entries touched.
func (s *Stimuli) Decay(w *world.World) int {
	touched := 0
	for _, id := range w.Memories.IDs() {
		w.Memories.Modify(id, func(m *entity.Memory) {
			for i := range m.Perceptions {
				if m.Perceptions[i].Decay > 0 {
					m.Perceptions[i].Decay--
					touched++
				}
			}
		})
	}
	return touched
}

// Prune removes expired (decay 0) entries and returns how many were removed.
func (s *Stimuli) Prune(w *world.World) int {
	pruned := 0
	for _, id := range w.Memories.IDs() {
		w.Memories.Modify(id, func(m *entity.Memory) {
			kept := m.Perceptions[:0]
			for _, p := range m.Perceptions {
				if p.Decay <= 0 {
					pruned++
					continue
				}
				kept = append(kept, p)
			}
			m.Perceptions = kept
		})
	}
	if s.metrics != nil && pruned > 0 {
		s.metrics.PerceptionsPruned.Add(context.Background(), int64(pruned))
	}
	return pruned
}

// Tick runs one decay step followed by pruning. Returns the pruned count.
func (s *Stimuli) Tick(w *world.World) int {
	s.Decay(w)
	return s.Prune(w)
}
