package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	hbotel "github.com/Strob0t/Habitat/internal/adapter/otel"
	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
)

// Handler receives a bus event. A returned error or a panic is isolated to
// this handler and reported as a domain.DeliveryError.
type Handler func(ctx context.Context, ev *event.Event) error

// Subscription identifies one registered handler.
type Subscription uint64

// Emitter is the publishing half of the bus, handed to tool effects.
type Emitter interface {
	EmitRoomEvent(ctx context.Context, roomID string, t event.Type, payload any, origin entity.ID) *event.Event
	EmitAgentEvent(ctx context.Context, agent entity.ID, t event.Type, payload any, origin entity.ID) *event.Event
}

var _ Emitter = (*Bus)(nil)

type subscriber struct {
	id     Subscription
	scope  event.Scope
	key    string // room id or agent id; empty for global
	typ    event.Type
	fn     Handler
	active atomic.Bool

	overruns atomic.Int32 // consecutive deadline overruns
}

func (s *subscriber) matches(t event.Type) bool {
	return s.typ == event.Any || s.typ == t
}

// MaxOverruns is how many consecutive deadline overruns a subscription may
// accumulate before the bus drops it.
const MaxOverruns = 3

// Bus routes events to room, agent and global subscribers. Handlers run one
// after another in registration order; Emit* returns once each has returned
// or run out of its deadline. A handler still running past its deadline is
// abandoned, not waited for.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	nextID Subscription
	seq    atomic.Uint64

	timeout time.Duration
	onError func(*domain.DeliveryError)
	metrics *hbotel.Metrics
	now     func() time.Time
}

// NewBus creates a bus that gives each handler invocation handlerTimeout.
func NewBus(handlerTimeout time.Duration) *Bus {
	return &Bus{timeout: handlerTimeout, now: time.Now}
}

// SetMetrics enables event counters.
func (b *Bus) SetMetrics(m *hbotel.Metrics) { b.metrics = m }

// OnDeliveryError registers a hook called for every isolated handler failure.
// The hook runs synchronously and must not emit.
func (b *Bus) OnDeliveryError(fn func(*domain.DeliveryError)) { b.onError = fn }

// Subscribe registers a global handler. Global handlers see every event.
func (b *Bus) Subscribe(t event.Type, fn Handler) Subscription {
	return b.add(event.ScopeGlobal, "", t, fn)
}

// SubscribeRoom registers a handler for events emitted to roomID.
func (b *Bus) SubscribeRoom(roomID string, t event.Type, fn Handler) Subscription {
	return b.add(event.ScopeRoom, roomID, t, fn)
}

// SubscribeAgent registers a handler for events emitted to agent.
func (b *Bus) SubscribeAgent(agent entity.ID, t event.Type, fn Handler) Subscription {
	return b.add(event.ScopeAgent, agent.String(), t, fn)
}

func (b *Bus) add(scope event.Scope, key string, t event.Type, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &subscriber{id: b.nextID, scope: scope, key: key, typ: t, fn: fn}
	s.active.Store(true)
	b.subs = append(b.subs, s)
	return s.id
}

// Unsubscribe removes one subscription. Once it returns, the handler is never
// invoked again, including by a publish already in progress.
func (b *Bus) Unsubscribe(id Subscription) {
	b.removeWhere(func(s *subscriber) bool { return s.id == id })
}

// UnsubscribeRoom drops every subscription bound to roomID.
func (b *Bus) UnsubscribeRoom(roomID string) int {
	return b.removeWhere(func(s *subscriber) bool {
		return s.scope == event.ScopeRoom && s.key == roomID
	})
}

// UnsubscribeAgent drops every subscription bound to agent.
func (b *Bus) UnsubscribeAgent(agent entity.ID) int {
	key := agent.String()
	return b.removeWhere(func(s *subscriber) bool {
		return s.scope == event.ScopeAgent && s.key == key
	})
}

func (b *Bus) removeWhere(match func(*subscriber) bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subs[:0]
	removed := 0
	for _, s := range b.subs {
		if match(s) {
			s.active.Store(false)
			removed++
			continue
		}
		kept = append(kept, s)
	}
	// Clear the tail so removed subscribers can be collected.
	for i := len(kept); i < len(b.subs); i++ {
		b.subs[i] = nil
	}
	b.subs = kept
	return removed
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// EmitRoomEvent publishes to subscribers of roomID and to global subscribers.
func (b *Bus) EmitRoomEvent(ctx context.Context, roomID string, t event.Type, payload any, origin entity.ID) *event.Event {
	ev := b.newEvent(event.ScopeRoom, t, payload, origin)
	ev.RoomID = roomID
	if origin != entity.None {
		ev.AgentID = origin.String()
	}
	b.publish(ctx, ev, roomID)
	return ev
}

// EmitAgentEvent publishes to subscribers of agent and to global subscribers.
func (b *Bus) EmitAgentEvent(ctx context.Context, agent entity.ID, t event.Type, payload any, origin entity.ID) *event.Event {
	ev := b.newEvent(event.ScopeAgent, t, payload, origin)
	ev.AgentID = agent.String()
	b.publish(ctx, ev, ev.AgentID)
	return ev
}

// EmitSystemEvent publishes to global subscribers only.
func (b *Bus) EmitSystemEvent(ctx context.Context, t event.Type, payload any) *event.Event {
	ev := b.newEvent(event.ScopeGlobal, t, payload, entity.None)
	b.publish(ctx, ev, "")
	return ev
}

func (b *Bus) newEvent(scope event.Scope, t event.Type, payload any, origin entity.ID) *event.Event {
	ev := &event.Event{
		ID:        uuid.NewString(),
		Seq:       b.seq.Add(1),
		Type:      t,
		Scope:     scope,
		Category:  event.CategoryOf(t),
		Payload:   payload,
		Timestamp: b.now().UnixMilli(),
	}
	if origin != entity.None {
		ev.Origin = origin.String()
	}
	return ev
}

func (b *Bus) publish(ctx context.Context, ev *event.Event, key string) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if !s.matches(ev.Type) {
			continue
		}
		if s.scope == event.ScopeGlobal || (s.scope == ev.Scope && s.key == key) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.EventsEmitted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event.type", string(ev.Type)),
			attribute.String("event.scope", string(ev.Scope)),
		))
	}

	for _, s := range targets {
		if !s.active.Load() {
			continue
		}
		err := b.invoke(ctx, s, ev)
		if err == nil {
			s.overruns.Store(0)
			continue
		}
		dropped := false
		if errors.Is(err, context.DeadlineExceeded) && s.overruns.Add(1) >= MaxOverruns {
			dropped = b.removeWhere(func(o *subscriber) bool { return o == s }) > 0
		}
		b.report(ctx, s, ev, err, dropped)
	}
}

// invoke runs one handler with its own deadline. The handler runs on its
// own goroutine so one that ignores ctx cannot hold the publisher past the
// deadline. Overrunning is reported even if the handler later returns nil.
func (b *Bus) invoke(ctx context.Context, s *subscriber, ev *event.Event) error {
	hctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- s.fn(hctx, ev)
	}()

	select {
	case err := <-done:
		if err == nil && errors.Is(hctx.Err(), context.DeadlineExceeded) {
			err = context.DeadlineExceeded
		}
		return err
	case <-hctx.Done():
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return context.DeadlineExceeded
		}
		return hctx.Err()
	}
}

func (b *Bus) report(ctx context.Context, s *subscriber, ev *event.Event, cause error, dropped bool) {
	derr := &domain.DeliveryError{
		Subscription: uint64(s.id),
		EventType:    string(ev.Type),
		Cause:        cause,
		Dropped:      dropped,
	}
	slog.WarnContext(ctx, "event delivery failed",
		"subscription", s.id,
		"event_type", ev.Type,
		"event_seq", ev.Seq,
		"dropped", dropped,
		"error", cause,
	)
	if b.metrics != nil {
		b.metrics.DeliveryErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event.type", string(ev.Type)),
		))
	}
	if b.onError != nil {
		b.onError(derr)
	}
}
