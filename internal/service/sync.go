package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	hbotel "github.com/Strob0t/Habitat/internal/adapter/otel"
	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/domain/protocol"
	"github.com/Strob0t/Habitat/internal/logger"
	"github.com/Strob0t/Habitat/internal/port/broadcast"
	"github.com/Strob0t/Habitat/internal/sim"
)

// agentFlushInterval bounds how long a changed agent waits for its
// AGENT_UPDATE state push.
const agentFlushInterval = 100 * time.Millisecond

// CommandLimiter throttles commands per observer.
type CommandLimiter interface {
	Allow(key string) bool
	Forget(key string)
}

// SyncService bridges the simulation and connected observers: it forwards
// bus events, pushes periodic world snapshots and executes observer commands.
//
// Bus handlers run inside world steps, so they only enqueue and record
// which agents changed. Projections happen later on the flush loop.
type SyncService struct {
	sim       *SimulationService
	observers broadcast.Observers
	limiter   CommandLimiter
	metrics   *hbotel.Metrics
	interval  time.Duration

	mu        sync.Mutex
	agentRoom map[string]string
	dirty     map[string]struct{}

	worldDirty atomic.Bool
	lastPushed atomic.Uint64
	sub        sim.Subscription
}

var _ broadcast.CommandHandler = (*SyncService)(nil)

// NewSyncService creates a sync service pushing world snapshots every interval.
func NewSyncService(simSvc *SimulationService, observers broadcast.Observers, interval time.Duration) *SyncService {
	return &SyncService{
		sim:       simSvc,
		observers: observers,
		interval:  interval,
		agentRoom: make(map[string]string),
		dirty:     make(map[string]struct{}),
	}
}

// SetLimiter enables per-observer command rate limiting.
func (s *SyncService) SetLimiter(l CommandLimiter) { s.limiter = l }

// SetMetrics enables command counters.
func (s *SyncService) SetMetrics(m *hbotel.Metrics) { s.metrics = m }

// Attach subscribes to every bus event and to action resolutions.
func (s *SyncService) Attach() {
	s.sub = s.sim.Bus().Subscribe(event.Any, s.onEvent)
	s.sim.OnActionResolved(s.onResolved)
}

// Detach drops the bus subscription.
func (s *SyncService) Detach() {
	s.sim.Bus().Unsubscribe(s.sub)
	s.sim.OnActionResolved(nil)
}

func (s *SyncService) onEvent(_ context.Context, ev *event.Event) error {
	switch ev.Scope {
	case event.ScopeRoom:
		s.trackMovement(ev)
		s.observers.PublishRoom(ev.RoomID, protocol.RoomUpdate(ev))
		if ev.Type == event.TypeSpeech && s.sim.IsChatUser(ev.AgentID) {
			if p, ok := ev.Payload.(event.SpeechPayload); ok {
				s.observers.PublishRoom(ev.RoomID, protocol.Chat(ev.RoomID, p, ev.Timestamp))
			}
		}
		if ev.AgentID != "" {
			// Room subscribers already got the ROOM_UPDATE.
			s.observers.PublishAgent(ev.AgentID, "", protocol.AgentEvent(ev, ev.RoomID))
		}
	case event.ScopeAgent:
		room := s.roomOf(ev.AgentID)
		s.observers.PublishAgent(ev.AgentID, room, protocol.AgentEvent(ev, room))
		s.markDirty(ev.AgentID)
	case event.ScopeGlobal:
		if ev.Type == event.TypeDeliveryFailed {
			return nil
		}
		s.trackLifecycle(ev)
		s.worldDirty.Store(true)
	}
	return nil
}

func (s *SyncService) onResolved(_ context.Context, agent entity.ID, _ action.Result) {
	s.markDirty(agent.String())
}

func (s *SyncService) trackMovement(ev *event.Event) {
	if ev.AgentID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case event.TypeAgentEntered:
		s.agentRoom[ev.AgentID] = ev.RoomID
	case event.TypeAgentLeft:
		if s.agentRoom[ev.AgentID] == ev.RoomID {
			delete(s.agentRoom, ev.AgentID)
		}
	default:
		return
	}
	s.dirty[ev.AgentID] = struct{}{}
}

func (s *SyncService) trackLifecycle(ev *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case event.TypeSimulationReset:
		clear(s.agentRoom)
		clear(s.dirty)
	case event.TypeAgentRemoved:
		if p, ok := ev.Payload.(event.LifecyclePayload); ok {
			delete(s.agentRoom, p.ID)
		}
	}
}

func (s *SyncService) roomOf(agentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentRoom[agentID]
}

func (s *SyncService) markDirty(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[agentID] = struct{}{}
}

// Run pushes changed agent states and periodic world snapshots until ctx
// is done.
func (s *SyncService) Run(ctx context.Context) error {
	flush := time.NewTicker(agentFlushInterval)
	defer flush.Stop()
	snap := time.NewTicker(s.interval)
	defer snap.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-flush.C:
			s.FlushAgents(ctx)
		case <-snap.C:
			s.PushWorld(ctx, false)
		}
	}
}

// FlushAgents sends a fresh AGENT_UPDATE for every agent changed since the
// last flush.
func (s *SyncService) FlushAgents(ctx context.Context) int {
	s.mu.Lock()
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	clear(s.dirty)
	s.mu.Unlock()

	sent := 0
	for _, id := range ids {
		st, err := s.sim.AgentState(ctx, id)
		if err != nil {
			continue
		}
		s.observers.PublishAgent(id, st.Location, protocol.AgentState(st))
		sent++
	}
	return sent
}

// PushWorld broadcasts a WORLD_UPDATE when the world changed since the last
// push, or unconditionally when force is set.
func (s *SyncService) PushWorld(ctx context.Context, force bool) {
	if s.observers.Count() == 0 {
		return
	}
	version := s.sim.Version()
	if !force && version == s.lastPushed.Load() && !s.worldDirty.Load() {
		return
	}
	raw, err := s.sim.WorldSnapshot(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "world snapshot failed", "error", err)
		return
	}
	s.worldDirty.Store(false)
	s.lastPushed.Store(version)
	s.observers.Broadcast(protocol.WorldUpdate(json.RawMessage(raw)))
}

// Connected greets a new observer with its id and a full snapshot.
func (s *SyncService) Connected(ctx context.Context, observerID string) {
	_ = s.observers.Send(observerID, protocol.ConnectionUpdate(observerID, true))
	raw, err := s.sim.WorldSnapshot(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "initial snapshot failed", "observer_id", observerID, "error", err)
		return
	}
	_ = s.observers.Send(observerID, protocol.WorldUpdate(json.RawMessage(raw)))
}

// Disconnected forgets the observer's rate limit bucket.
func (s *SyncService) Disconnected(_ context.Context, observerID string) {
	if s.limiter != nil {
		s.limiter.Forget(observerID)
	}
}

// HandleCommand executes msg and replies to the observer with ACK or ERROR.
func (s *SyncService) HandleCommand(ctx context.Context, observerID string, msg protocol.Inbound) {
	reply := s.Execute(ctx, observerID, msg)
	if err := s.observers.Send(observerID, reply); err != nil {
		slog.DebugContext(ctx, "reply not delivered", "observer_id", observerID, "error", err)
	}
}

// Execute runs one command and returns the reply.
func (s *SyncService) Execute(ctx context.Context, observerID string, msg protocol.Inbound) protocol.Outbound {
	ctx = logger.WithObserverID(ctx, observerID)
	ctx, span := hbotel.StartCommandSpan(ctx, observerID, string(msg.Type))
	defer span.End()

	if s.limiter != nil && !s.limiter.Allow(observerID) {
		span.SetStatus(codes.Error, "rate limited")
		return protocol.Error(msg.Type, msg.RequestID, protocol.ErrRateLimited)
	}

	reply, err := s.dispatch(ctx, observerID, msg)
	if s.metrics != nil {
		s.metrics.CommandsHandled.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command.type", string(msg.Type)),
			attribute.Bool("command.ok", err == nil),
		))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "command failed", "command", msg.Type, "error", err)
		return protocol.Error(msg.Type, msg.RequestID, err)
	}
	return reply
}

func (s *SyncService) dispatch(ctx context.Context, observerID string, msg protocol.Inbound) (protocol.Outbound, error) {
	ack := protocol.Ack(msg.Type, msg.RequestID)

	switch msg.Type {
	case protocol.TypeChat:
		if strings.TrimSpace(msg.Message) == "" {
			return ack, fmt.Errorf("chat: message is required: %w", domain.ErrValidation)
		}
		res, err := s.sim.Chat(ctx, msg.Message, msg.Target)
		if err != nil {
			return ack, err
		}
		return protocol.ActionAck(msg.Type, msg.RequestID, res), nil

	case protocol.TypeStart:
		return ack, s.sim.Start(ctx)
	case protocol.TypeStop:
		return ack, s.sim.Stop(ctx)
	case protocol.TypeReset:
		return ack, s.sim.Reset(ctx)

	case protocol.TypeSubscribeRoom:
		st, err := s.sim.RoomState(ctx, msg.RoomID)
		if err != nil {
			return ack, err
		}
		if err := s.observers.SubscribeRoom(observerID, msg.RoomID); err != nil {
			return ack, err
		}
		ack.Data = st
		return ack, nil
	case protocol.TypeUnsubscribeRoom:
		return ack, s.observers.UnsubscribeRoom(observerID, msg.RoomID)

	case protocol.TypeSubscribeAgent:
		st, err := s.sim.AgentState(ctx, msg.AgentID)
		if err != nil {
			return ack, err
		}
		if err := s.observers.SubscribeAgent(observerID, msg.AgentID); err != nil {
			return ack, err
		}
		ack.Data = st
		return ack, nil
	case protocol.TypeUnsubscribeAgent:
		return ack, s.observers.UnsubscribeAgent(observerID, msg.AgentID)

	case protocol.TypeDeleteMemory:
		d, err := protocol.DecodeData[protocol.DeleteMemoryData](msg)
		if err != nil {
			return ack, err
		}
		return ack, s.sim.DeleteMemory(ctx, d.AgentID, d.MemoryType, d.MemoryIndex, d.ExpectedContent)

	case protocol.TypeDeleteContext:
		d, err := protocol.DecodeData[protocol.DeleteContextData](msg)
		if err != nil {
			return ack, err
		}
		c, err := s.sim.DeleteContext(ctx, d.AgentID, d.ContextIndex, d.ExpectedID)
		ack.Data = c
		return ack, err

	case protocol.TypeSpawnAgent:
		d, err := protocol.DecodeData[protocol.SpawnAgentData](msg)
		if err != nil {
			return ack, err
		}
		st, err := s.sim.SpawnAgent(ctx, sim.AgentSpec{
			Name:         d.Name,
			Role:         d.Role,
			SystemPrompt: d.SystemPrompt,
			Appearance:   d.Appearance,
			Tools:        d.Tools,
			Platform:     d.Platform,
			InitialGoals: d.InitialGoals,
		}, d.RoomID)
		ack.Data = st
		return ack, err

	default:
		return ack, fmt.Errorf("%q: %w", msg.Type, protocol.ErrUnknownCommand)
	}
}
