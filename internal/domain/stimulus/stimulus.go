// Package stimulus defines transient perceivable events. A Stimulus is never
// stored on its own; it is materialized into recipients' perception entries.
package stimulus

import "github.com/Strob0t/Habitat/internal/domain/entity"

// Source distinguishes agent-originated from system-originated stimuli.
type Source string

const (
	SourceAgent  Source = "agent"
	SourceSystem Source = "system"
)

// DefaultDecay expires a stimulus after one tick unless refreshed.
const DefaultDecay = 1

// Metadata travels with a stimulus into each perception entry.
type Metadata struct {
	RoomID     string
	AgentNames []string
	Tags       map[string]string
}

// Flatten renders metadata into the string map stored on perception entries.
func (m Metadata) Flatten() map[string]string {
	out := make(map[string]string, len(m.Tags)+2)
	for k, v := range m.Tags {
		if v != "" {
			out[k] = v
		}
	}
	if m.RoomID != "" {
		out["roomId"] = m.RoomID
	}
	for i, name := range m.AgentNames {
		if i == 0 {
			out["agentName"] = name
			continue
		}
		out["agentName"] += "," + name
	}
	return out
}

// Options configures stimulus creation.
type Options struct {
	Source   Source
	Medium   string // one of the entity.Category* values
	Decay    int    // zero means DefaultDecay
	Metadata Metadata
	// Target names a single recipient by agent name. When set, only that
	// agent receives the stimulus, even if it is the source.
	Target string
	// IncludeSource delivers an echo to the source agent.
	IncludeSource bool
}

// Stimulus is the resolved form used while materializing perception entries.
type Stimulus struct {
	Origin    entity.ID
	Content   string
	Options   Options
	Timestamp int64
}

// Entry builds the perception entry a recipient receives.
func (s Stimulus) Entry() entity.PerceptionEntry {
	decay := s.Options.Decay
	if decay <= 0 {
		decay = DefaultDecay
	}
	return entity.PerceptionEntry{
		Timestamp: s.Timestamp,
		Content:   s.Content,
		Category:  s.Options.Medium,
		Decay:     decay,
		Source:    string(s.Options.Source),
		Metadata:  s.Options.Metadata.Flatten(),
	}
}
