package world

import (
	"slices"

	"github.com/Strob0t/Habitat/internal/domain/entity"
)

// Table is a component table: a mapping from entity id to component value.
// An id missing from the map means the component is not attached.
type Table[T any] struct {
	rows  map[entity.ID]T
	clone func(T) T
}

func newTable[T any](clone func(T) T) *Table[T] {
	return &Table[T]{rows: make(map[entity.ID]T), clone: clone}
}

// Set attaches v to id, replacing any existing value entirely.
func (t *Table[T]) Set(id entity.ID, v T) {
	if t.clone != nil {
		v = t.clone(v)
	}
	t.rows[id] = v
}

// Get returns a copy of the component attached to id.
func (t *Table[T]) Get(id entity.ID) (T, bool) {
	v, ok := t.rows[id]
	if ok && t.clone != nil {
		v = t.clone(v)
	}
	return v, ok
}

// Has reports whether id has this component.
func (t *Table[T]) Has(id entity.ID) bool {
	_, ok := t.rows[id]
	return ok
}

// Remove detaches the component. Removing an absent component is a no-op.
func (t *Table[T]) Remove(id entity.ID) {
	delete(t.rows, id)
}

// Len returns the number of attached rows.
func (t *Table[T]) Len() int {
	return len(t.rows)
}

// IDs returns every id with this component, ascending.
func (t *Table[T]) IDs() []entity.ID {
	ids := make([]entity.ID, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Modify applies fn to a copy of the component and stores the result.
// Returns false without calling fn when the component is absent.
func (t *Table[T]) Modify(id entity.ID, fn func(*T)) bool {
	v, ok := t.Get(id)
	if !ok {
		return false
	}
	fn(&v)
	t.rows[id] = v
	return true
}

func (t *Table[T]) clear() {
	t.rows = make(map[entity.ID]T)
}
