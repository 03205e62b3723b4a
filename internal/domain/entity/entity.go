// Package entity defines entity identifiers and the component types attached
// to them. An entity has no behavior of its own; it exists only through the
// component tables that hold a row for it.
package entity

import (
	"slices"
	"strconv"
)

// ID is an opaque entity identifier. Zero is never allocated.
type ID uint32

// None is the zero ID, used where "no entity" must be expressed.
const None ID = 0

// String renders the id the way it appears on the wire.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses a wire id produced by ID.String.
func ParseID(s string) (ID, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return None, false
	}
	return ID(n), true
}

// Agent identifies an autonomous participant. Every live agent has exactly one.
type Agent struct {
	Name         string `json:"name"`
	Role         string `json:"role"`
	Active       bool   `json:"active"`
	SystemPrompt string `json:"systemPrompt"`
	Platform     string `json:"platform"`
}

// Room is an opaque named container. ID is globally unique and immutable.
type Room struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// Appearance is how other agents see an agent.
type Appearance struct {
	Description      string   `json:"description"`
	FacialExpression string   `json:"facialExpression,omitempty"`
	BodyLanguage     string   `json:"bodyLanguage,omitempty"`
	CurrentAction    string   `json:"currentAction,omitempty"`
	SocialCues       []string `json:"socialCues"`
}

// Clone returns a deep copy.
func (a Appearance) Clone() Appearance {
	a.SocialCues = cloneStrings(a.SocialCues)
	return a
}

// Thought holds the agent's current line of thought.
type Thought struct {
	Current string `json:"current"`
	Emotion string `json:"emotion,omitempty"`
}

// Perception holds attention state: the content of the latest stimulus the
// agent received and the shared contexts it is aware of. Raw perception
// entries live in Memory.
type Perception struct {
	Attention string `json:"attention,omitempty"`
	Contexts  []ID   `json:"contexts"`
}

// Clone returns a deep copy.
func (p Perception) Clone() Perception {
	p.Contexts = slices.Clone(p.Contexts)
	if p.Contexts == nil {
		p.Contexts = []ID{}
	}
	return p
}

func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
