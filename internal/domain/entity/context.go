package entity

// Context is a shared environmental object independent of any single agent.
// Deletion deactivates it; the row is kept.
type Context struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Type        string            `json:"type"`
	Metadata    map[string]string `json:"metadata"`
	CreatedAt   int64             `json:"created_at"`
	Creator     string            `json:"creator"`
	Active      bool              `json:"active"`
}

// Clone returns a deep copy.
func (c Context) Clone() Context {
	c.Metadata = cloneMap(c.Metadata)
	return c
}
