package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	hbotel "github.com/Strob0t/Habitat/internal/adapter/otel"
	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/world"
)

// ResolvedFunc observes every action that reached a terminal result.
// It runs inside the world write lock and must not block.
type ResolvedFunc func(ctx context.Context, agent entity.ID, res action.Result)

// Executor drives the per-agent action state machine:
// Idle -> Pending -> Resolved -> Idle.
//
// Acceptance (gate, validation, pending) and resolution (effect, result)
// are two separate world steps. Between them the agent is Pending and any
// further request is rejected, so at most one effect per agent is in flight.
type Executor struct {
	bus     *Bus
	clock   Clock
	timeout time.Duration
	metrics *hbotel.Metrics

	mu       sync.RWMutex
	tools    map[string]Tool
	resolved ResolvedFunc
}

// NewExecutor creates an executor whose effects run with actionTimeout.
func NewExecutor(bus *Bus, actionTimeout time.Duration, clock Clock) *Executor {
	return &Executor{
		bus:     bus,
		clock:   clock,
		timeout: actionTimeout,
		tools:   make(map[string]Tool),
	}
}

// SetMetrics enables action counters and duration histograms.
func (e *Executor) SetMetrics(m *hbotel.Metrics) { e.metrics = m }

// OnResolved registers the resolution observer.
func (e *Executor) OnResolved(fn ResolvedFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolved = fn
}

// Register adds a tool to the registry.
func (e *Executor) Register(t Tool) error {
	if t.Name == "" || t.Effect == nil {
		return fmt.Errorf("register tool %q: name and effect are required: %w", t.Name, domain.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.tools[t.Name]; dup {
		return fmt.Errorf("register tool %q: %w", t.Name, domain.ErrConflict)
	}
	e.tools[t.Name] = t
	return nil
}

// Tool returns a registered tool.
func (e *Executor) Tool(name string) (Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tools[name]
	return t, ok
}

// Tools returns every registered tool sorted by name.
func (e *Executor) Tools() []Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Tool, 0, len(e.tools))
	for _, t := range e.tools {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Tool) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out
}

// RequestAction runs one action for agent. A gate failure returns an
// *action.Rejected and leaves the Action component untouched. Once accepted,
// the call always returns a result envelope and a nil error, even when the
// effect fails or panics.
func (e *Executor) RequestAction(ctx context.Context, w *world.World, agent entity.ID, tool string, params json.RawMessage) (action.Result, error) {
	ctx, span := hbotel.StartActionSpan(ctx, agent.String(), tool)
	defer span.End()
	toolAttr := metric.WithAttributes(attribute.String("action.tool", tool))
	if e.metrics != nil {
		e.metrics.ActionsRequested.Add(ctx, 1, toolAttr)
	}

	var (
		def       Tool
		validated any
	)
	err := w.Update(func(w *world.World) error {
		var err error
		def, validated, err = e.accept(w, agent, tool, params)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rejected")
		if e.metrics != nil {
			e.metrics.ActionsRejected.Add(ctx, 1, toolAttr)
		}
		slog.DebugContext(ctx, "action rejected", "agent_id", agent, "tool", tool, "error", err)
		return action.Result{}, err
	}

	start := time.Now()
	var res action.Result
	_ = w.Update(func(w *world.World) error {
		res = e.resolve(ctx, w, agent, def, validated)
		return nil
	})

	if e.metrics != nil {
		e.metrics.ActionDuration.Record(ctx, time.Since(start).Seconds(), toolAttr)
		if res.Success {
			e.metrics.ActionsResolved.Add(ctx, 1, toolAttr)
		} else {
			e.metrics.ActionsFailed.Add(ctx, 1, toolAttr)
		}
	}
	span.SetAttributes(attribute.Bool("action.success", res.Success))
	return res, nil
}

// accept is step A: gate, validate, mark pending.
func (e *Executor) accept(w *world.World, agent entity.ID, tool string, params json.RawMessage) (Tool, any, error) {
	a, ok := w.Agents.Get(agent)
	if !ok {
		return Tool{}, nil, fmt.Errorf("agent %s: %w", agent, domain.ErrNotFound)
	}
	act, ok := w.Actions.Get(agent)
	if !ok {
		return Tool{}, nil, &action.Rejected{Reason: action.ReasonUnknownTool, Tool: tool, Detail: "agent has no tools"}
	}
	if act.Pending != nil {
		return Tool{}, nil, &action.Rejected{Reason: action.ReasonAlreadyPending, Tool: tool, Detail: "pending: " + act.Pending.Tool}
	}
	if !a.Active {
		return Tool{}, nil, &action.Rejected{Reason: action.ReasonInactive, Tool: tool}
	}
	def, registered := e.Tool(tool)
	if !act.CanUse(tool) || !registered {
		return Tool{}, nil, &action.Rejected{Reason: action.ReasonUnknownTool, Tool: tool}
	}
	validated, err := def.Validate(params)
	if err != nil {
		return Tool{}, nil, err
	}

	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	now := e.clock.Millis()
	w.Actions.Modify(agent, func(act *entity.Action) {
		act.Pending = &action.Pending{Tool: tool, Parameters: params}
		act.LastActionTime = now
	})
	return def, validated, nil
}

// resolve is step B: run the effect, then clear pending and store the result.
func (e *Executor) resolve(ctx context.Context, w *world.World, agent entity.ID, def Tool, params any) action.Result {
	if !w.Actions.Has(agent) {
		// Removed or reset while pending; nothing left to record on.
		return action.Failure(def.Name, "Agent was removed before the action resolved", e.clock.Millis(), action.Data{})
	}

	ectx, cancel := context.WithTimeout(ctx, e.timeout)
	res, err := e.runEffect(ectx, w, agent, def, params)
	cancel()

	now := e.clock.Millis()
	if err != nil {
		msg := "Action failed: " + err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "Action timed out"
		}
		slog.WarnContext(ctx, "action effect failed", "agent_id", agent, "tool", def.Name, "error", err)
		res = action.Failure(def.Name, msg, now, action.Data{Metadata: map[string]string{"error": err.Error()}})
	}
	if res.Action == "" {
		res.Action = def.Name
	}
	if res.Timestamp == 0 {
		res.Timestamp = now
	}

	w.Actions.Modify(agent, func(act *entity.Action) {
		act.Pending = nil
		r := res.Clone()
		act.LastResult = &r
	})

	e.mu.RLock()
	hook := e.resolved
	e.mu.RUnlock()
	if hook != nil {
		hook(ctx, agent, res)
	}
	return res
}

func (e *Executor) runEffect(ctx context.Context, w *world.World, agent entity.ID, def Tool, params any) (res action.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	res, err = def.Effect(ctx, w, agent, params, e.bus)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = context.DeadlineExceeded
	}
	return res, err
}

// IsPending reports whether agent has an unresolved action. Caller holds a lock.
func IsPending(w *world.World, agent entity.ID) bool {
	act, ok := w.Actions.Get(agent)
	return ok && act.Pending != nil
}
