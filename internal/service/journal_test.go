package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/port/eventstore"
	"github.com/Strob0t/Habitat/internal/port/messagequeue"
	"github.com/Strob0t/Habitat/internal/resilience"
	"github.com/Strob0t/Habitat/internal/sim"
)

type mockStore struct {
	mu     sync.Mutex
	events []event.Event
	err    error
	filter event.JournalFilter
}

var _ eventstore.Store = (*mockStore)(nil)

func (m *mockStore) Append(_ context.Context, ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockStore) Load(_ context.Context, f event.JournalFilter) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = f
	return append([]event.Event(nil), m.events...), nil
}

type published struct {
	subject string
	data    []byte
}

type mockQueue struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]messagequeue.Handler
}

var _ messagequeue.Queue = (*mockQueue)(nil)

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{subject, data})
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = map[string]messagequeue.Handler{}
	}
	m.handlers[subject] = h
	return func() {
		m.mu.Lock()
		delete(m.handlers, subject)
		m.mu.Unlock()
	}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.published))
	for i, p := range m.published {
		out[i] = p.subject
	}
	return out
}

func emitSample(ctx context.Context, bus *sim.Bus) {
	bus.EmitRoomEvent(ctx, "main", event.TypeSpeech, map[string]string{"message": "hi"}, entity.ID(3))
	bus.EmitAgentEvent(ctx, entity.ID(3), event.TypeThought, map[string]string{"thought": "hm"}, entity.ID(3))
	bus.EmitSystemEvent(ctx, event.TypeSimulationStarted, nil)
}

func TestJournalWritesAndMirrors(t *testing.T) {
	store := &mockStore{}
	queue := &mockQueue{}
	j := NewJournal(store, queue, 16, nil)
	bus := sim.NewBus(time.Second)
	j.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	emitSample(ctx, bus)
	cancel()
	// Run drains the buffer after cancellation.
	if err := j.Run(ctx); err != nil {
		t.Fatal(err)
	}

	if len(store.events) != 3 {
		t.Fatalf("stored %d events, want 3", len(store.events))
	}
	for i := 1; i < len(store.events); i++ {
		if store.events[i].Seq <= store.events[i-1].Seq {
			t.Fatal("journal order does not follow bus order")
		}
	}

	want := []string{
		"habitat.events.room.main.speech",
		"habitat.events.agent.3.thought",
		"habitat.events.global._.simulation_started",
	}
	got := queue.subjects()
	if len(got) != len(want) {
		t.Fatalf("subjects = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("subject[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	for _, p := range queue.published {
		if err := messagequeue.Validate(p.subject, p.data); err != nil {
			t.Errorf("mirrored payload fails validation: %v", err)
		}
	}
}

func TestJournalDropsOnFullBuffer(t *testing.T) {
	j := NewJournal(&mockStore{}, nil, 1, nil)
	bus := sim.NewBus(time.Second)
	j.Attach(bus)

	emitSample(context.Background(), bus)
	if got := j.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}

func TestJournalBreakerOpensOnStoreFailure(t *testing.T) {
	store := &mockStore{err: errors.New("db down")}
	br := resilience.NewBreaker(1, time.Hour)
	j := NewJournal(store, nil, 8, br)
	bus := sim.NewBus(time.Second)
	j.Attach(bus)

	ctx, cancel := context.WithCancel(context.Background())
	emitSample(ctx, bus)
	cancel()
	_ = j.Run(ctx)

	if br.State() != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want open", br.State())
	}
}

func TestJournalEvents(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		j := NewJournal(nil, nil, 1, nil)
		_, err := j.Events(context.Background(), event.JournalFilter{})
		if !errors.Is(err, ErrJournalDisabled) || !errors.Is(err, domain.ErrPrecondition) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("passes filter", func(t *testing.T) {
		store := &mockStore{}
		j := NewJournal(store, nil, 1, nil)
		f := event.JournalFilter{RoomID: "main", Limit: 5}
		if _, err := j.Events(context.Background(), f); err != nil {
			t.Fatal(err)
		}
		if store.filter.RoomID != "main" || store.filter.Limit != 5 {
			t.Fatalf("filter = %+v", store.filter)
		}
	})
}
