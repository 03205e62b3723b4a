package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Strob0t/Habitat/internal/domain/entity"
	"github.com/Strob0t/Habitat/internal/domain/event"
	"github.com/Strob0t/Habitat/internal/domain/protocol"
	"github.com/Strob0t/Habitat/internal/domain/snapshot"
	"github.com/Strob0t/Habitat/internal/port/messagequeue"
	"github.com/Strob0t/Habitat/internal/service"
	"github.com/Strob0t/Habitat/internal/sim"
)

// Handlers serves the REST surface of the simulation.
type Handlers struct {
	Sim     *service.SimulationService
	Journal *service.Journal   // optional
	Queue   messagequeue.Queue // optional, reported by /health
	// Observers reports connected WebSocket observers.
	Observers interface{ Count() int }
}

// Health reports liveness and the state of optional dependencies.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"running": h.Sim.IsRunning(),
		"version": h.Sim.Version(),
	}
	if h.Observers != nil {
		resp["observers"] = h.Observers.Count()
	}
	if h.Queue != nil {
		resp["nats"] = h.Queue.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetWorld returns the full world snapshot.
func (h *Handlers) GetWorld(w http.ResponseWriter, r *http.Request) {
	raw, err := h.Sim.WorldSnapshot(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

// --- Rooms ---

func (h *Handlers) ListRooms() http.HandlerFunc {
	return handleList(func(ctx context.Context) []snapshot.RoomState { return h.Sim.WorldState(ctx).Rooms })
}

func (h *Handlers) GetRoom() http.HandlerFunc {
	return handleGet(h.Sim.RoomState, "room not found")
}

func (h *Handlers) CreateRoom() http.HandlerFunc {
	return handleCreate(func(ctx context.Context, cfg sim.RoomConfig) (snapshot.RoomState, error) {
		return h.Sim.CreateRoom(ctx, cfg)
	})
}

func (h *Handlers) DeleteRoom() http.HandlerFunc {
	return handleDelete(h.Sim.RemoveRoom, "room not found")
}

// --- Agents ---

func (h *Handlers) ListAgents() http.HandlerFunc {
	return handleList(func(ctx context.Context) []snapshot.AgentState { return h.Sim.WorldState(ctx).Agents })
}

func (h *Handlers) GetAgent() http.HandlerFunc {
	return handleGet(h.Sim.AgentState, "agent not found")
}

// SpawnAgent creates an agent from a protocol.SpawnAgentData body.
func (h *Handlers) SpawnAgent() http.HandlerFunc {
	return handleCreate(func(ctx context.Context, d protocol.SpawnAgentData) (snapshot.AgentState, error) {
		return h.Sim.SpawnAgent(ctx, sim.AgentSpec{
			Name:         d.Name,
			Role:         d.Role,
			SystemPrompt: d.SystemPrompt,
			Appearance:   d.Appearance,
			Tools:        d.Tools,
			Platform:     d.Platform,
			InitialGoals: d.InitialGoals,
		}, d.RoomID)
	})
}

func (h *Handlers) DeleteAgent() http.HandlerFunc {
	return handleDelete(h.Sim.RemoveAgent, "agent not found")
}

// MoveAgent moves an agent into the room named in the body.
func (h *Handlers) MoveAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[struct {
		RoomID string `json:"roomId"`
	}](w, r)
	if !ok || !requireField(w, req.RoomID, "roomId") {
		return
	}
	id := urlParam(r, "id")
	if err := h.Sim.MoveAgent(r.Context(), id, req.RoomID); err != nil {
		writeDomainError(w, err, "agent or room not found")
		return
	}
	st, err := h.Sim.AgentState(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type actionRequest struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

// RequestAction runs one tool for the agent. Gate failures return 422 with
// the rejection reason; accepted actions always return the result envelope.
func (h *Handlers) RequestAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[actionRequest](w, r)
	if !ok || !requireField(w, req.Tool, "tool") {
		return
	}
	res, err := h.Sim.RequestAction(r.Context(), urlParam(r, "id"), req.Tool, req.Parameters)
	if err != nil {
		writeDomainError(w, err, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteMemory removes one memory entry. The optional expected query
// parameter guards against deleting a shifted entry.
func (h *Handlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	index, ok := intParam(w, r, "index")
	if !ok {
		return
	}
	q := r.URL.Query()
	var expected *string
	if q.Has("expected") {
		v := q.Get("expected")
		expected = &v
	}
	if err := h.Sim.DeleteMemory(r.Context(), urlParam(r, "id"), q.Get("type"), index, expected); err != nil {
		writeDomainError(w, err, "memory not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteContext deactivates one context in the agent's list.
func (h *Handlers) DeleteContext(w http.ResponseWriter, r *http.Request) {
	index, ok := intParam(w, r, "index")
	if !ok {
		return
	}
	c, err := h.Sim.DeleteContext(r.Context(), urlParam(r, "id"), index, r.URL.Query().Get("expected"))
	if err != nil {
		writeDomainError(w, err, "context not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// --- Contexts, tools, chat ---

type contextRequest struct {
	sim.ContextSpec
	Agents []string `json:"agents"`
}

func (h *Handlers) CreateContext() http.HandlerFunc {
	return handleCreate(func(ctx context.Context, req contextRequest) (entity.Context, error) {
		return h.Sim.CreateContext(ctx, req.ContextSpec, req.Agents)
	})
}

func (h *Handlers) ListTools() http.HandlerFunc {
	return handleList(func(context.Context) []sim.Tool { return h.Sim.Tools() })
}

type chatRequest struct {
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

// Chat speaks as the human observer.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[chatRequest](w, r)
	if !ok || !requireField(w, req.Message, "message") {
		return
	}
	res, err := h.Sim.Chat(r.Context(), req.Message, req.Target)
	if err != nil {
		writeDomainError(w, err, "target not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Simulation lifecycle ---

// SimulationStatus reports whether the clock is running.
func (h *Handlers) SimulationStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"isRunning": h.Sim.IsRunning(), "version": h.Sim.Version()})
}

func (h *Handlers) Start() http.HandlerFunc { return handleCommand(h.Sim.Start) }
func (h *Handlers) Stop() http.HandlerFunc  { return handleCommand(h.Sim.Stop) }
func (h *Handlers) Reset() http.HandlerFunc { return handleCommand(h.Sim.Reset) }

// --- Journal ---

// ListEvents queries the event journal.
// Query: room, agent, type (repeatable), after, limit.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "event journal is not configured")
		return
	}
	q := r.URL.Query()
	f := event.JournalFilter{
		RoomID:   q.Get("room"),
		AgentID:  q.Get("agent"),
		AfterSeq: uint64(max(queryInt(r, "after", 0), 0)),
		Limit:    queryInt(r, "limit", 0),
	}
	for _, t := range q["type"] {
		f.Types = append(f.Types, event.Type(t))
	}
	events, err := h.Journal.Events(r.Context(), f)
	if err != nil {
		writeDomainError(w, err, "not found")
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
