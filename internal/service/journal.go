package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/port/eventstore"
	"github.com/Strob0t/Habitat/internal/port/messagequeue"
	"github.com/Strob0t/Habitat/internal/resilience"
	"github.com/Strob0t/Habitat/internal/sim"
)

// drainTimeout bounds how long Run keeps writing buffered events after its
// context is cancelled.
const drainTimeout = 5 * time.Second

// ErrJournalDisabled is returned by Events when no store is configured.
var ErrJournalDisabled = errors.New("event journal is not configured")

// Journal copies bus events to the persistent store and the NATS mirror.
// The bus handler only enqueues; a full buffer drops the event and counts it.
type Journal struct {
	store   eventstore.Store
	queue   messagequeue.Queue
	breaker *resilience.Breaker
	buf     chan *event.Event
	dropped atomic.Int64
	sub     sim.Subscription
}

// NewJournal creates a journal. store and queue are each optional; breaker
// guards store appends and defaults to 5 failures / 30s.
func NewJournal(store eventstore.Store, queue messagequeue.Queue, buffer int, breaker *resilience.Breaker) *Journal {
	if buffer <= 0 {
		buffer = 1
	}
	if breaker == nil {
		breaker = resilience.NewBreaker(5, 30*time.Second)
	}
	return &Journal{store: store, queue: queue, breaker: breaker, buf: make(chan *event.Event, buffer)}
}

// Attach subscribes the journal to every event on bus.
func (j *Journal) Attach(bus *sim.Bus) {
	j.sub = bus.Subscribe(event.Any, j.enqueue)
}

func (j *Journal) enqueue(_ context.Context, ev *event.Event) error {
	select {
	case j.buf <- ev:
	default:
		if j.dropped.Add(1) == 1 {
			slog.Warn("event journal buffer full, dropping events", "capacity", cap(j.buf))
		}
	}
	return nil
}

// Dropped returns the number of events dropped on a full buffer.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// Run writes buffered events until ctx is done, then drains what is left.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-j.buf:
			j.write(ctx, ev)
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
			defer cancel()
			for {
				select {
				case ev := <-j.buf:
					j.write(dctx, ev)
				default:
					return nil
				}
			}
		}
	}
}

func (j *Journal) write(ctx context.Context, ev *event.Event) {
	if j.store != nil {
		err := j.breaker.Execute(func() error { return j.store.Append(ctx, ev) })
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			slog.ErrorContext(ctx, "journal append failed", "event_id", ev.ID, "type", ev.Type, "error", err)
		}
	}
	if j.queue != nil {
		if err := j.mirror(ctx, ev); err != nil {
			slog.WarnContext(ctx, "event mirror failed", "event_id", ev.ID, "type", ev.Type, "error", err)
		}
	}
}

func (j *Journal) mirror(ctx context.Context, ev *event.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	key := ""
	switch ev.Scope {
	case event.ScopeRoom:
		key = ev.RoomID
	case event.ScopeAgent:
		key = ev.AgentID
	}
	return j.queue.Publish(ctx, messagequeue.EventSubject(string(ev.Scope), key, string(ev.Type)), raw)
}

// Events queries the journal.
func (j *Journal) Events(ctx context.Context, filter event.JournalFilter) ([]event.Event, error) {
	if j.store == nil {
		return nil, fmt.Errorf("%w: %w", ErrJournalDisabled, domain.ErrPrecondition)
	}
	return j.store.Load(ctx, filter)
}
