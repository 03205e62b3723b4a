package sim_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/world"
)

func TestCreateRoomValidation(t *testing.T) {
	w := world.New()
	rooms := sim.NewRooms(sim.NewBus(time.Second))
	ctx := context.Background()

	_ = w.Update(func(w *world.World) error {
		if _, err := rooms.CreateRoom(ctx, w, sim.RoomConfig{}); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("empty id err = %v", err)
		}
		if _, err := rooms.CreateRoom(ctx, w, sim.RoomConfig{ID: "main"}); err != nil {
			t.Fatal(err)
		}
		if _, err := rooms.CreateRoom(ctx, w, sim.RoomConfig{ID: "main"}); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("duplicate id err = %v", err)
		}
		id, _ := w.RoomByID("main")
		r, _ := w.Rooms.Get(id)
		if r.Name != "main" {
			t.Errorf("name defaulted to %q, want id", r.Name)
		}
		return nil
	})
}

func TestMoveEmitsLeftThenEntered(t *testing.T) {
	w, bus, ids := populate(t, []string{"a", "b"}, map[string]string{"Tyler": "a"})
	rooms := sim.NewRooms(bus)

	type seen struct {
		typ  event.Type
		room string
	}
	var got []seen
	bus.Subscribe(event.Any, func(_ context.Context, ev *event.Event) error {
		got = append(got, seen{ev.Type, ev.RoomID})
		return nil
	})

	_ = w.Update(func(w *world.World) error {
		return rooms.MoveAgentToRoomID(context.Background(), w, ids["Tyler"], "b")
	})

	want := []seen{{event.TypeAgentLeft, "a"}, {event.TypeAgentEntered, "b"}}
	if len(got) != len(want) {
		t.Fatalf("events = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	got = nil
	_ = w.Update(func(w *world.World) error {
		return rooms.MoveAgentToRoomID(context.Background(), w, ids["Tyler"], "b")
	})
	if len(got) != 0 {
		t.Errorf("no-op move emitted %+v", got)
	}
}

func TestMoveUnknownTargets(t *testing.T) {
	w, bus, ids := populate(t, []string{"a"}, map[string]string{"Tyler": "a"})
	rooms := sim.NewRooms(bus)
	_ = w.Update(func(w *world.World) error {
		ctx := context.Background()
		if err := rooms.MoveAgentToRoomID(ctx, w, ids["Tyler"], "zzz"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("unknown room err = %v", err)
		}
		if err := rooms.MoveAgentToRoomID(ctx, w, 404, "a"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("unknown agent err = %v", err)
		}
		if id, _ := rooms.RoomIDOf(w, ids["Tyler"]); id != "a" {
			t.Errorf("failed move changed placement to %q", id)
		}
		return nil
	})
}

func TestMoveIsNeverObservedHalfDone(t *testing.T) {
	w, bus, ids := populate(t, []string{"a", "b"}, map[string]string{"Tyler": "a"})
	rooms := sim.NewRooms(bus)
	agent := ids["Tyler"]

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 200 {
			dst := "a"
			if i%2 == 0 {
				dst = "b"
			}
			_ = w.Update(func(w *world.World) error {
				return rooms.MoveAgentToRoomID(context.Background(), w, agent, dst)
			})
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		w.View(func(w *world.World) {
			in := 0
			for _, rid := range []string{"a", "b"} {
				occ, _ := rooms.Occupants(w, rid)
				for _, id := range occ {
					if id == agent {
						in++
					}
				}
			}
			if in != 1 {
				t.Errorf("agent listed in %d rooms", in)
			}
		})
	}
}

func TestRemoveRoomEvictsAndUnsubscribes(t *testing.T) {
	w, bus, ids := populate(t, []string{"a"}, map[string]string{"Tyler": "a", "Madison": "a"})
	rooms := sim.NewRooms(bus)

	calls := 0
	bus.SubscribeRoom("a", event.Any, func(context.Context, *event.Event) error { calls++; return nil })

	_ = w.Update(func(w *world.World) error {
		if err := rooms.RemoveRoom(context.Background(), w, "a"); err != nil {
			t.Fatal(err)
		}
		for _, id := range ids {
			if _, in := w.RoomOf(id); in {
				t.Errorf("agent %s still placed", id)
			}
		}
		if _, ok := w.RoomByID("a"); ok {
			t.Error("room id still registered")
		}
		return nil
	})

	before := calls
	bus.EmitRoomEvent(context.Background(), "a", event.TypeSpeech, nil, 0)
	if calls != before {
		t.Error("room subscriber reached after room removal")
	}
	if before != 2 {
		t.Errorf("subscriber saw %d agent.left events, want 2", before)
	}
}
