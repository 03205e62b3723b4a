package entity

import "slices"

// Perception categories. A stimulus is always materialized with one of these.
const (
	CategoryVisual        = "visual"
	CategoryAuditory      = "auditory"
	CategorySocial        = "social"
	CategoryEnvironmental = "environmental"
)

// ValidCategory reports whether c is a known perception category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryVisual, CategoryAuditory, CategorySocial, CategoryEnvironmental:
		return true
	}
	return false
}

// Experience is an append-only memory record. Entries are never edited in
// place, only appended or deleted by index.
type Experience struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// PerceptionEntry is a materialized stimulus. Decay counts down once per tick;
// zero means expired and eligible for pruning.
type PerceptionEntry struct {
	Timestamp int64             `json:"timestamp"`
	Content   string            `json:"content"`
	Category  string            `json:"category"`
	Decay     int               `json:"decay"`
	Source    string            `json:"source,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Memory is an agent's recollection: a bounded thought window, experiences,
// and the raw perception entries produced by stimuli.
type Memory struct {
	Thoughts    []string          `json:"thoughts"`
	Experiences []Experience      `json:"experiences"`
	Perceptions []PerceptionEntry `json:"perceptions"`
	LastThought string            `json:"lastThought"`
	LastUpdate  int64             `json:"lastUpdate"`
}

// NewMemory returns an empty memory with non-nil collections.
func NewMemory(now int64) Memory {
	return Memory{
		Thoughts:    []string{},
		Experiences: []Experience{},
		Perceptions: []PerceptionEntry{},
		LastUpdate:  now,
	}
}

// Clone returns a deep copy.
func (m Memory) Clone() Memory {
	m.Thoughts = cloneStrings(m.Thoughts)
	m.Experiences = slices.Clone(m.Experiences)
	if m.Experiences == nil {
		m.Experiences = []Experience{}
	}
	perceptions := make([]PerceptionEntry, len(m.Perceptions))
	for i, p := range m.Perceptions {
		if p.Metadata != nil {
			p.Metadata = cloneMap(p.Metadata)
		}
		perceptions[i] = p
	}
	m.Perceptions = perceptions
	return m
}

// AddThought appends a thought, keeps at most window entries, and records it
// as the last thought.
func (m *Memory) AddThought(thought string, window int, now int64) {
	m.Thoughts = append(m.Thoughts, thought)
	if window > 0 && len(m.Thoughts) > window {
		m.Thoughts = slices.Clone(m.Thoughts[len(m.Thoughts)-window:])
	}
	m.LastThought = thought
	m.LastUpdate = now
}

// AddExperience appends an experience.
func (m *Memory) AddExperience(exp Experience, now int64) {
	m.Experiences = append(m.Experiences, exp)
	m.LastUpdate = now
}

// AddPerception appends a perception entry, dropping the oldest entries when
// more than limit would be retained.
func (m *Memory) AddPerception(p PerceptionEntry, limit int, now int64) {
	m.Perceptions = append(m.Perceptions, p)
	if limit > 0 && len(m.Perceptions) > limit {
		m.Perceptions = slices.Clone(m.Perceptions[len(m.Perceptions)-limit:])
	}
	m.LastUpdate = now
}
