// Package service implements the simulation runtime and observer
// synchronization on top of the sim core and the ports.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	hbotel "github.com/Strob0t/Habitat/internal/adapter/otel"
	"github.com/Strob0t/Habitat/internal/config"
	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/sim"
	"github.com/Strob0t/Habitat/internal/sim/tools"
	"github.com/Strob0t/Habitat/internal/world"
)

// SnapshotCache memoizes encoded projections.
type SnapshotCache interface {
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) ([]byte, error)) ([]byte, error)
}

// SimulationService owns the world and every sim component. Control
// commands (lifecycle, spawn, rooms, memory edits) are serialized through a
// single command loop; action requests go straight to the executor, which
// gates them per agent.
type SimulationService struct {
	world     *world.World
	bus       *sim.Bus
	stimuli   *sim.Stimuli
	rooms     *sim.Rooms
	executor  *sim.Executor
	projector *sim.Projector
	clock     sim.Clock
	cfg       config.Simulation
	metrics   *hbotel.Metrics

	snapshots   SnapshotCache
	snapshotTTL time.Duration

	running  atomic.Bool
	ticks    atomic.Uint64
	cmds     chan command
	failures chan *domain.DeliveryError

	// user is the chat entity. Only touched from the command loop;
	// chatUser mirrors it for bus handlers.
	user     entity.ID
	chatUser atomic.Uint32
}

type command struct {
	ctx  context.Context
	name string
	fn   func(ctx context.Context) error
	done chan error
}

// NewSimulationService wires a fresh world with the builtin tools.
func NewSimulationService(cfg config.Simulation, clock sim.Clock) (*SimulationService, error) {
	bus := sim.NewBus(cfg.HandlerTimeout)
	rooms := sim.NewRooms(bus)
	stimuli := sim.NewStimuli(cfg.MaxPerceptions, clock)
	executor := sim.NewExecutor(bus, cfg.ActionTimeout, clock)

	err := tools.Register(executor, tools.Deps{
		Bus:           bus,
		Stimuli:       stimuli,
		Rooms:         rooms,
		Clock:         clock,
		ThoughtWindow: cfg.ThoughtWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	buf := cfg.CommandBuffer
	if buf <= 0 {
		buf = 1
	}
	s := &SimulationService{
		world:     world.New(),
		bus:       bus,
		stimuli:   stimuli,
		rooms:     rooms,
		executor:  executor,
		projector: sim.NewProjector(clock),
		clock:     clock,
		cfg:       cfg,
		cmds:      make(chan command, buf),
		failures:  make(chan *domain.DeliveryError, deliveryFailureBuffer),
	}
	bus.OnDeliveryError(s.queueDeliveryFailure)
	return s, nil
}

// deliveryFailureBuffer caps delivery failures waiting to be reported;
// extra failures are only logged.
const deliveryFailureBuffer = 64

// queueDeliveryFailure runs inside publish, so it only enqueues. Failures
// delivering delivery.failed itself are not re-reported.
func (s *SimulationService) queueDeliveryFailure(e *domain.DeliveryError) {
	if e.EventType == string(event.TypeDeliveryFailed) {
		return
	}
	select {
	case s.failures <- e:
	default:
	}
}

func (s *SimulationService) reportDeliveryFailure(ctx context.Context, e *domain.DeliveryError) {
	s.bus.EmitSystemEvent(ctx, event.TypeDeliveryFailed, event.DeliveryFailedPayload{
		Subscription: e.Subscription,
		EventType:    e.EventType,
		Error:        e.Cause.Error(),
		Dropped:      e.Dropped,
	})
}

// SetMetrics enables instrumentation on every component.
func (s *SimulationService) SetMetrics(m *hbotel.Metrics) {
	s.metrics = m
	s.bus.SetMetrics(m)
	s.stimuli.SetMetrics(m)
	s.executor.SetMetrics(m)
}

// SetSnapshotCache enables cached world snapshots.
func (s *SimulationService) SetSnapshotCache(c SnapshotCache, ttl time.Duration) {
	s.snapshots = c
	s.snapshotTTL = ttl
}

// Bus returns the event bus for subscribers outside the simulation.
func (s *SimulationService) Bus() *sim.Bus { return s.bus }

// OnActionResolved registers the executor's resolution observer.
func (s *SimulationService) OnActionResolved(fn sim.ResolvedFunc) { s.executor.OnResolved(fn) }

// IsChatUser reports whether agentID is the entity speaking for CHAT.
func (s *SimulationService) IsChatUser(agentID string) bool {
	id, ok := entity.ParseID(agentID)
	return ok && id != entity.None && uint32(id) == s.chatUser.Load()
}

func (s *SimulationService) setUser(id entity.ID) {
	s.user = id
	s.chatUser.Store(uint32(id))
}

// IsRunning reports whether the clock is ticking.
func (s *SimulationService) IsRunning() bool { return s.running.Load() }

// Version returns the world version.
func (s *SimulationService) Version() uint64 { return s.world.Version() }

// Run executes queued commands one at a time until ctx is done.
func (s *SimulationService) Run(ctx context.Context) error {
	slog.Info("simulation command loop started", "buffer", cap(s.cmds))
	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation command loop stopped")
			return nil
		case cmd := <-s.cmds:
			cmd.done <- s.exec(cmd)
		case f := <-s.failures:
			s.reportDeliveryFailure(ctx, f)
		}
	}
}

func (s *SimulationService) exec(cmd command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command %s panicked: %v", cmd.name, r)
			slog.ErrorContext(cmd.ctx, "command panicked", "command", cmd.name, "panic", r)
		}
	}()
	return cmd.fn(cmd.ctx)
}

// submit queues fn on the command loop and waits for its result.
func (s *SimulationService) submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	cmd := command{ctx: ctx, name: name, fn: fn, done: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return fmt.Errorf("queue %s: %w", name, ctx.Err())
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("await %s: %w", name, ctx.Err())
	}
}

// RunClock ticks perception decay every TickInterval while running.
func (s *SimulationService) RunClock(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.running.Load() {
				s.Tick(ctx)
			}
		}
	}
}

// Tick runs one decay-and-prune step and returns the number of pruned entries.
func (s *SimulationService) Tick(ctx context.Context) int {
	n := s.ticks.Add(1)
	_, span := hbotel.StartTickSpan(ctx, n)
	defer span.End()

	var pruned int
	_ = s.world.Update(func(w *world.World) error {
		pruned = s.stimuli.Tick(w)
		return nil
	})
	if pruned > 0 {
		slog.Debug("perceptions pruned", "tick", n, "pruned", pruned)
	}
	return pruned
}

// Start starts the clock. Starting a running simulation is a no-op.
func (s *SimulationService) Start(ctx context.Context) error {
	return s.submit(ctx, "start", func(ctx context.Context) error {
		if s.running.Swap(true) {
			return nil
		}
		s.lifecycle(ctx, event.TypeSimulationStarted)
		slog.InfoContext(ctx, "simulation started")
		return nil
	})
}

// Stop pauses the clock. In-flight actions still resolve.
func (s *SimulationService) Stop(ctx context.Context) error {
	return s.submit(ctx, "stop", func(ctx context.Context) error {
		if !s.running.Swap(false) {
			return nil
		}
		s.lifecycle(ctx, event.TypeSimulationStopped)
		slog.InfoContext(ctx, "simulation stopped")
		return nil
	})
}

// Reset stops the clock, drops every entity and room subscription, and
// reseeds the demo world when seeding is enabled.
func (s *SimulationService) Reset(ctx context.Context) error {
	return s.submit(ctx, "reset", func(ctx context.Context) error {
		s.running.Store(false)
		_ = s.world.Update(func(w *world.World) error {
			for _, id := range w.Rooms.IDs() {
				if r, ok := w.Rooms.Get(id); ok {
					s.bus.UnsubscribeRoom(r.ID)
				}
			}
			for _, id := range w.Agents.IDs() {
				s.bus.UnsubscribeAgent(id)
			}
			w.Reset()
			s.setUser(entity.None)
			s.bus.EmitSystemEvent(ctx, event.TypeSimulationReset, event.LifecyclePayload{Kind: "simulation"})
			return nil
		})
		slog.InfoContext(ctx, "simulation reset", "reseed", s.cfg.Seed)
		if s.cfg.Seed {
			return s.seed(ctx, DefaultSeed())
		}
		return nil
	})
}

// lifecycle emits a simulation event inside a world step so the version
// moves with the running flag.
func (s *SimulationService) lifecycle(ctx context.Context, t event.Type) {
	_ = s.world.Update(func(*world.World) error {
		s.bus.EmitSystemEvent(ctx, t, event.LifecyclePayload{Kind: "simulation"})
		return nil
	})
}

// parseAgent resolves a wire agent id.
func parseAgent(id string) (entity.ID, error) {
	aid, ok := entity.ParseID(id)
	if !ok {
		return entity.None, fmt.Errorf("agent %q: %w", id, domain.ErrNotFound)
	}
	return aid, nil
}

func (s *SimulationService) now() int64 { return s.clock.Millis() }
