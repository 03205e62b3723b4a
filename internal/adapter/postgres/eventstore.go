package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/port/eventstore"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
type EventStore struct {
	pool *pgxpool.Pool
}

var _ eventstore.Store = (*EventStore)(nil)

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts ev into habitat_events. Re-appending an id is a no-op.
func (s *EventStore) Append(ctx context.Context, ev *event.Event) error {
	payload, err := ev.RawPayload()
	if err != nil {
		return fmt.Errorf("encode payload of %s: %w", ev.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO habitat_events (id, bus_seq, event_type, scope, room_id, agent_id, origin, category, payload, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, int64(ev.Seq), string(ev.Type), string(ev.Scope), ev.RoomID, ev.AgentID, ev.Origin,
		string(ev.Category), []byte(payload), ev.Timestamp)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for habitat_events queries.
const eventColumns = `seq, id::text, event_type, scope, room_id, agent_id, origin, category, payload, occurred_at`

func scanEvent(row scannable, ev *event.Event) error {
	var (
		seq     int64
		payload []byte
	)
	if err := row.Scan(&seq, &ev.ID, &ev.Type, &ev.Scope, &ev.RoomID, &ev.AgentID, &ev.Origin,
		&ev.Category, &payload, &ev.Timestamp); err != nil {
		return err
	}
	ev.Seq = uint64(seq)
	if payload != nil {
		ev.Payload = json.RawMessage(payload)
	}
	return nil
}

// Load returns journaled events matching filter in journal order.
func (s *EventStore) Load(ctx context.Context, filter event.JournalFilter) ([]event.Event, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AfterSeq > 0 {
		conditions = append(conditions, "seq > "+arg(int64(filter.AfterSeq)))
	}
	if filter.RoomID != "" {
		conditions = append(conditions, "room_id = "+arg(filter.RoomID))
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = "+arg(filter.AgentID))
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, "event_type = ANY("+arg(types)+")")
	}

	query := "SELECT " + eventColumns + " FROM habitat_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq ASC LIMIT " + arg(filter.EffectiveLimit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var ev event.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
