package sim_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/sim"
)

func TestBusRunsHandlersInRegistrationOrder(t *testing.T) {
	bus := sim.NewBus(time.Second)
	var order []int
	for i := range 5 {
		bus.SubscribeRoom("r1", event.TypeSpeech, func(context.Context, *event.Event) error {
			order = append(order, i)
			return nil
		})
	}

	bus.EmitRoomEvent(context.Background(), "r1", event.TypeSpeech, nil, 1)

	if len(order) != 5 {
		t.Fatalf("ran %d handlers, want 5", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestBusIsolatesFailingHandlers(t *testing.T) {
	bus := sim.NewBus(time.Second)
	var failures []*domain.DeliveryError
	bus.OnDeliveryError(func(e *domain.DeliveryError) { failures = append(failures, e) })

	ran := 0
	bus.Subscribe(event.Any, func(context.Context, *event.Event) error { panic("boom") })
	bus.Subscribe(event.Any, func(context.Context, *event.Event) error { return errors.New("nope") })
	bus.Subscribe(event.Any, func(context.Context, *event.Event) error { ran++; return nil })

	bus.EmitSystemEvent(context.Background(), event.TypeRoomCreated, nil)

	if ran != 1 {
		t.Errorf("healthy handler ran %d times, want 1", ran)
	}
	if len(failures) != 2 {
		t.Fatalf("delivery errors = %d, want 2", len(failures))
	}
	for _, f := range failures {
		if !errors.Is(f, domain.ErrDelivery) {
			t.Errorf("%v does not wrap ErrDelivery", f)
		}
		if f.EventType != string(event.TypeRoomCreated) {
			t.Errorf("EventType = %q", f.EventType)
		}
	}
}

func TestBusReportsDeadlineOverrun(t *testing.T) {
	bus := sim.NewBus(10 * time.Millisecond)
	var failures []*domain.DeliveryError
	bus.OnDeliveryError(func(e *domain.DeliveryError) { failures = append(failures, e) })

	bus.Subscribe(event.Any, func(ctx context.Context, _ *event.Event) error {
		<-ctx.Done()
		return nil
	})
	bus.EmitSystemEvent(context.Background(), event.TypeSimulationStarted, nil)

	if len(failures) != 1 || !errors.Is(failures[0], context.DeadlineExceeded) {
		t.Errorf("failures = %v, want one deadline overrun", failures)
	}
}

func TestBusDoesNotWaitForHandlerIgnoringDeadline(t *testing.T) {
	bus := sim.NewBus(10 * time.Millisecond)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var failures []*domain.DeliveryError
	bus.OnDeliveryError(func(e *domain.DeliveryError) { failures = append(failures, e) })
	bus.Subscribe(event.Any, func(context.Context, *event.Event) error {
		<-release
		return nil
	})
	ran := false
	bus.Subscribe(event.Any, func(context.Context, *event.Event) error { ran = true; return nil })

	start := time.Now()
	bus.EmitSystemEvent(context.Background(), event.TypeSimulationStarted, nil)
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("emit took %v with a 10ms handler timeout", elapsed)
	}
	if !ran {
		t.Error("handler after the stuck one did not run")
	}
	if len(failures) != 1 || !errors.Is(failures[0], context.DeadlineExceeded) {
		t.Errorf("failures = %v, want one deadline overrun", failures)
	}
}

func TestBusDropsRepeatedlyOverrunningSubscription(t *testing.T) {
	bus := sim.NewBus(5 * time.Millisecond)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var failures []*domain.DeliveryError
	bus.OnDeliveryError(func(e *domain.DeliveryError) { failures = append(failures, e) })
	bus.Subscribe(event.Any, func(context.Context, *event.Event) error {
		<-release
		return nil
	})

	for range sim.MaxOverruns + 2 {
		bus.EmitSystemEvent(context.Background(), event.TypeAgentSpawned, nil)
	}

	if bus.Len() != 0 {
		t.Fatalf("Len = %d, want the overrunning subscription dropped", bus.Len())
	}
	if len(failures) != sim.MaxOverruns {
		t.Fatalf("delivery errors = %d, want %d", len(failures), sim.MaxOverruns)
	}
	for i, f := range failures {
		if want := i == sim.MaxOverruns-1; f.Dropped != want {
			t.Errorf("failure %d Dropped = %v, want %v", i, f.Dropped, want)
		}
	}
}

func TestBusOverrunCountResetsOnSuccess(t *testing.T) {
	bus := sim.NewBus(5 * time.Millisecond)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var slow atomic.Bool
	slow.Store(true)
	bus.Subscribe(event.Any, func(context.Context, *event.Event) error {
		if slow.Load() {
			<-release
		}
		return nil
	})

	emit := func() { bus.EmitSystemEvent(context.Background(), event.TypeAgentSpawned, nil) }
	for range sim.MaxOverruns - 1 {
		emit()
	}
	slow.Store(false)
	emit()
	slow.Store(true)
	for range sim.MaxOverruns - 1 {
		emit()
	}
	if bus.Len() != 1 {
		t.Errorf("Len = %d, subscription dropped despite a successful delivery in between", bus.Len())
	}
}

func TestBusScopes(t *testing.T) {
	bus := sim.NewBus(time.Second)
	counts := map[string]int{}
	count := func(key string) sim.Handler {
		return func(context.Context, *event.Event) error { counts[key]++; return nil }
	}
	bus.SubscribeRoom("r1", event.Any, count("r1"))
	bus.SubscribeRoom("r2", event.Any, count("r2"))
	bus.SubscribeAgent(7, event.Any, count("agent7"))
	bus.SubscribeAgent(8, event.Any, count("agent8"))
	bus.Subscribe(event.Any, count("global"))
	bus.Subscribe(event.TypeThought, count("thoughts"))

	ctx := context.Background()
	bus.EmitRoomEvent(ctx, "r1", event.TypeSpeech, nil, 7)
	bus.EmitAgentEvent(ctx, 7, event.TypeThought, nil, 7)
	bus.EmitSystemEvent(ctx, event.TypeAgentSpawned, nil)

	want := map[string]int{"r1": 1, "r2": 0, "agent7": 1, "agent8": 0, "global": 3, "thoughts": 1}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("%s received %d, want %d", k, counts[k], v)
		}
	}
}

func TestBusRoomEventCarriesOrigin(t *testing.T) {
	bus := sim.NewBus(time.Second)
	ev := bus.EmitRoomEvent(context.Background(), "r1", event.TypeSpeech, "hi", entity.ID(3))
	if ev.RoomID != "r1" || ev.AgentID != "3" || ev.Origin != "3" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Category != event.CategoryCommunication {
		t.Errorf("category = %s", ev.Category)
	}
	if ev.ID == "" {
		t.Error("event has no id")
	}
}

func TestBusSequenceIsMonotonic(t *testing.T) {
	bus := sim.NewBus(time.Second)
	var seqs []uint64
	bus.Subscribe(event.Any, func(_ context.Context, ev *event.Event) error {
		seqs = append(seqs, ev.Seq)
		return nil
	})
	for range 10 {
		bus.EmitRoomEvent(context.Background(), "r1", event.TypeAction, nil, 1)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("seq not increasing: %v", seqs)
		}
	}
}

func TestUnsubscribeDuringPublishSkipsLaterHandler(t *testing.T) {
	bus := sim.NewBus(time.Second)
	var second sim.Subscription
	called := false
	bus.Subscribe(event.Any, func(context.Context, *event.Event) error {
		bus.Unsubscribe(second)
		return nil
	})
	second = bus.Subscribe(event.Any, func(context.Context, *event.Event) error {
		called = true
		return nil
	})

	bus.EmitSystemEvent(context.Background(), event.TypeAgentSpawned, nil)
	if called {
		t.Error("handler ran after Unsubscribe returned")
	}
	if bus.Len() != 1 {
		t.Errorf("Len = %d, want 1", bus.Len())
	}
}

func TestUnsubscribeScopes(t *testing.T) {
	bus := sim.NewBus(time.Second)
	noop := func(context.Context, *event.Event) error { return nil }
	bus.SubscribeRoom("r1", event.Any, noop)
	bus.SubscribeRoom("r1", event.TypeSpeech, noop)
	bus.SubscribeRoom("r2", event.Any, noop)
	bus.SubscribeAgent(4, event.Any, noop)

	if n := bus.UnsubscribeRoom("r1"); n != 2 {
		t.Errorf("UnsubscribeRoom removed %d, want 2", n)
	}
	if n := bus.UnsubscribeAgent(4); n != 1 {
		t.Errorf("UnsubscribeAgent removed %d, want 1", n)
	}
	if bus.Len() != 1 {
		t.Errorf("Len = %d, want 1", bus.Len())
	}
}
