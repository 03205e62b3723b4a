package sim_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/world"
)

type echoParams struct {
	Text string `json:"text" validate:"required"`
}

func echoTool() sim.Tool {
	return sim.NewTool("echo", "Repeats text.",
		func(_ context.Context, _ *world.World, _ entity.ID, p echoParams, _ sim.Emitter) (action.Result, error) {
			return action.Result{Success: true, Result: p.Text}, nil
		})
}

func newExecutor(t *testing.T, timeout time.Duration, extra ...sim.Tool) (*world.World, *sim.Executor, entity.ID) {
	t.Helper()
	w := world.New()
	bus := sim.NewBus(time.Second)
	ex := sim.NewExecutor(bus, timeout, testClock)
	for _, tool := range append([]sim.Tool{echoTool()}, extra...) {
		if err := ex.Register(tool); err != nil {
			t.Fatal(err)
		}
	}
	names := []string{"echo"}
	for _, tool := range extra {
		names = append(names, tool.Name)
	}
	var agent entity.ID
	_ = w.Update(func(w *world.World) error {
		var err error
		agent, err = sim.SpawnAgent(context.Background(), w, bus, sim.AgentSpec{Name: "Tyler", Tools: names}, 1)
		return err
	})
	return w, ex, agent
}

func lastResult(w *world.World, agent entity.ID) *action.Result {
	var r *action.Result
	w.View(func(w *world.World) {
		act, _ := w.Actions.Get(agent)
		r = act.LastResult
	})
	return r
}

func TestRequestActionResolves(t *testing.T) {
	w, ex, agent := newExecutor(t, time.Second)
	var hooked []action.Result
	ex.OnResolved(func(_ context.Context, _ entity.ID, res action.Result) { hooked = append(hooked, res) })

	res, err := ex.RequestAction(context.Background(), w, agent, "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Result != "hi" || res.Action != "echo" || res.Timestamp == 0 {
		t.Errorf("result = %+v", res)
	}
	if lr := lastResult(w, agent); lr == nil || lr.Result != "hi" {
		t.Errorf("lastActionResult = %+v", lr)
	}
	w.View(func(w *world.World) {
		if sim.IsPending(w, agent) {
			t.Error("agent still pending after resolution")
		}
	})
	if len(hooked) != 1 {
		t.Errorf("resolution hook ran %d times, want 1", len(hooked))
	}
}

func TestRejectionsLeaveActionUntouched(t *testing.T) {
	w, ex, agent := newExecutor(t, time.Second)
	ctx := context.Background()
	if _, err := ex.RequestAction(ctx, w, agent, "echo", json.RawMessage(`{"text":"first"}`)); err != nil {
		t.Fatal(err)
	}
	before := lastResult(w, agent)

	tests := []struct {
		name   string
		tool   string
		params string
		reason action.Reason
	}{
		{"unknown tool", "fly", `{}`, action.ReasonUnknownTool},
		{"missing field", "echo", `{}`, action.ReasonInvalidParameters},
		{"malformed", "echo", `{"text":`, action.ReasonInvalidParameters},
		{"unknown field", "echo", `{"text":"hi","bogus":1}`, action.ReasonInvalidParameters},
		{"trailing data", "echo", `{"text":"hi"} {"text":"again"}`, action.ReasonInvalidParameters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ex.RequestAction(ctx, w, agent, tt.tool, json.RawMessage(tt.params))
			var rej *action.Rejected
			if !errors.As(err, &rej) || rej.Reason != tt.reason {
				t.Fatalf("err = %v, want %s", err, tt.reason)
			}
			after := lastResult(w, agent)
			if after == nil || after.Result != before.Result || after.Timestamp != before.Timestamp {
				t.Errorf("lastActionResult changed to %+v", after)
			}
		})
	}
}

func TestRequestActionGate(t *testing.T) {
	w, ex, agent := newExecutor(t, time.Second)
	ctx := context.Background()

	if _, err := ex.RequestAction(ctx, w, 999, "echo", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown agent err = %v, want ErrNotFound", err)
	}

	_ = w.Update(func(w *world.World) error {
		w.Agents.Modify(agent, func(a *entity.Agent) { a.Active = false })
		return nil
	})
	_, err := ex.RequestAction(ctx, w, agent, "echo", json.RawMessage(`{"text":"x"}`))
	var rej *action.Rejected
	if !errors.As(err, &rej) || rej.Reason != action.ReasonInactive {
		t.Errorf("inactive err = %v", err)
	}
	if !errors.Is(err, domain.ErrPrecondition) {
		t.Error("inactive rejection should unwrap to ErrPrecondition")
	}
}

func TestEffectPanicBecomesFailureEnvelope(t *testing.T) {
	boom := sim.NewTool("boom", "Always panics.",
		func(context.Context, *world.World, entity.ID, struct{}, sim.Emitter) (action.Result, error) {
			panic("kaboom")
		})
	w, ex, agent := newExecutor(t, time.Second, boom)

	res, err := ex.RequestAction(context.Background(), w, agent, "boom", nil)
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if res.Success || !strings.Contains(res.Result, "kaboom") {
		t.Errorf("result = %+v", res)
	}
	w.View(func(w *world.World) {
		if sim.IsPending(w, agent) {
			t.Error("agent left pending after panic")
		}
	})

	if _, err := ex.RequestAction(context.Background(), w, agent, "echo", json.RawMessage(`{"text":"ok"}`)); err != nil {
		t.Errorf("agent unusable after panic: %v", err)
	}
}

func TestEffectErrorAndTimeout(t *testing.T) {
	fail := sim.NewTool("fail", "Always errors.",
		func(context.Context, *world.World, entity.ID, struct{}, sim.Emitter) (action.Result, error) {
			return action.Result{}, errors.New("disk on fire")
		})
	stall := sim.NewTool("stall", "Waits for cancellation.",
		func(ctx context.Context, _ *world.World, _ entity.ID, _ struct{}, _ sim.Emitter) (action.Result, error) {
			<-ctx.Done()
			return action.Result{Success: true}, nil
		})
	w, ex, agent := newExecutor(t, 20*time.Millisecond, fail, stall)
	ctx := context.Background()

	res, _ := ex.RequestAction(ctx, w, agent, "fail", nil)
	if res.Success || res.Result != "Action failed: disk on fire" {
		t.Errorf("fail result = %+v", res)
	}

	res, _ = ex.RequestAction(ctx, w, agent, "stall", nil)
	if res.Success || res.Result != "Action timed out" {
		t.Errorf("stall result = %+v", res)
	}
}

func TestAtMostOnePendingActionPerAgent(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	slow := sim.NewTool("slow", "Takes a while.",
		func(context.Context, *world.World, entity.ID, struct{}, sim.Emitter) (action.Result, error) {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			return action.Result{Success: true}, nil
		})
	w, ex, agent := newExecutor(t, time.Second, slow)

	var wg sync.WaitGroup
	var resolved, pending atomic.Int32
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ex.RequestAction(context.Background(), w, agent, "slow", nil)
			var rej *action.Rejected
			switch {
			case err == nil:
				resolved.Add(1)
			case errors.As(err, &rej) && rej.Reason == action.ReasonAlreadyPending:
				pending.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight.Load() > 1 {
		t.Errorf("%d effects ran concurrently for one agent", maxInFlight.Load())
	}
	if resolved.Load() == 0 {
		t.Error("no request resolved")
	}
	if resolved.Load()+pending.Load() != 50 {
		t.Errorf("resolved %d + pending %d != 50", resolved.Load(), pending.Load())
	}
	w.View(func(w *world.World) {
		if sim.IsPending(w, agent) {
			t.Error("agent left pending")
		}
	})
}

func TestPendingAgentIsRejectedAndKeepsItsPendingAction(t *testing.T) {
	w, ex, agent := newExecutor(t, time.Second)
	pending := &action.Pending{Tool: "echo", Parameters: json.RawMessage(`{"text":"first"}`)}
	_ = w.Update(func(w *world.World) error {
		w.Actions.Modify(agent, func(a *entity.Action) { a.Pending = pending })
		return nil
	})

	_, err := ex.RequestAction(context.Background(), w, agent, "echo", json.RawMessage(`{"text":"second"}`))
	var rej *action.Rejected
	if !errors.As(err, &rej) || rej.Reason != action.ReasonAlreadyPending {
		t.Fatalf("err = %v, want AlreadyPending", err)
	}
	w.View(func(w *world.World) {
		act, _ := w.Actions.Get(agent)
		if act.Pending == nil || string(act.Pending.Parameters) != `{"text":"first"}` {
			t.Errorf("pending = %+v, want the first request untouched", act.Pending)
		}
	})
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	ex := sim.NewExecutor(sim.NewBus(time.Second), time.Second, testClock)
	if err := ex.Register(echoTool()); err != nil {
		t.Fatal(err)
	}
	if err := ex.Register(echoTool()); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate err = %v, want ErrConflict", err)
	}
	if err := ex.Register(sim.Tool{Name: "empty"}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("no effect err = %v, want ErrValidation", err)
	}
	if got := ex.Tools(); len(got) != 1 || got[0].Name != "echo" {
		t.Errorf("Tools = %+v", got)
	}
}
