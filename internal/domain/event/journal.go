package event

// JournalFilter controls which journaled events are returned.
type JournalFilter struct {
	RoomID   string `json:"room_id,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	Types    []Type `json:"types,omitempty"`
	AfterSeq uint64 `json:"after_seq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// DefaultJournalLimit caps journal queries without an explicit limit.
const DefaultJournalLimit = 100

// EffectiveLimit returns the filter limit clamped to [1, 1000].
func (f JournalFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultJournalLimit
	case f.Limit > 1000:
		return 1000
	default:
		return f.Limit
	}
}
