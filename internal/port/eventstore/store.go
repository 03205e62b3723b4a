// Package eventstore defines the port interface for the append-only event journal.
package eventstore

import (
	"context"

	"github.com/Strob0t/Habitat/internal/domain/event"
)

// Store persists bus events for replay and inspection. Journaling is a
// side channel: it never feeds back into the simulation.
type Store interface {
	// Append persists one event. Appending the same event id twice is a no-op.
	Append(ctx context.Context, ev *event.Event) error

	// Load returns events matching filter, ordered by sequence number.
	// Loaded events carry the journal's own sequence in Seq, which keeps
	// increasing across restarts.
	Load(ctx context.Context, filter event.JournalFilter) ([]event.Event, error)
}
