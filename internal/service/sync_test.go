package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/protocol"
	"github.com/Strob0t/Habitat/internal/port/broadcast"
	"github.com/Strob0t/Habitat/internal/sim"
)

type delivery struct {
	via string // send, room, agent, broadcast
	key string
	msg protocol.Outbound
}

// mockObservers records every outbound message instead of writing to sockets.
type mockObservers struct {
	mu     sync.Mutex
	known  map[string]bool
	rooms  map[string]map[string]bool
	agents map[string]map[string]bool
	out    []delivery
}

var _ broadcast.Observers = (*mockObservers)(nil)

func newMockObservers(ids ...string) *mockObservers {
	m := &mockObservers{known: map[string]bool{}, rooms: map[string]map[string]bool{}, agents: map[string]map[string]bool{}}
	for _, id := range ids {
		m.known[id] = true
	}
	return m
}

func (m *mockObservers) sub(set map[string]map[string]bool, obs, key string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.known[obs] {
		return fmt.Errorf("observer %s: %w", obs, domain.ErrNotFound)
	}
	if set[obs] == nil {
		set[obs] = map[string]bool{}
	}
	if on {
		set[obs][key] = true
	} else {
		delete(set[obs], key)
	}
	return nil
}

func (m *mockObservers) SubscribeRoom(o, r string) error    { return m.sub(m.rooms, o, r, true) }
func (m *mockObservers) UnsubscribeRoom(o, r string) error  { return m.sub(m.rooms, o, r, false) }
func (m *mockObservers) SubscribeAgent(o, a string) error   { return m.sub(m.agents, o, a, true) }
func (m *mockObservers) UnsubscribeAgent(o, a string) error { return m.sub(m.agents, o, a, false) }

func (m *mockObservers) record(via, key string, msg protocol.Outbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = append(m.out, delivery{via, key, msg})
}

func (m *mockObservers) Send(id string, msg protocol.Outbound) error {
	m.record("send", id, msg)
	return nil
}
func (m *mockObservers) PublishRoom(room string, msg protocol.Outbound) int {
	m.record("room", room, msg)
	return 1
}
func (m *mockObservers) PublishAgent(agent, _ string, msg protocol.Outbound) int {
	m.record("agent", agent, msg)
	return 1
}
func (m *mockObservers) Broadcast(msg protocol.Outbound) int {
	m.record("broadcast", "", msg)
	return 1
}
func (m *mockObservers) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.known)
}

func (m *mockObservers) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.out = nil
}

func (m *mockObservers) find(via string, typ protocol.MessageType) []delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	var got []delivery
	for _, d := range m.out {
		if d.via == via && d.msg.Type == typ {
			got = append(got, d)
		}
	}
	return got
}

func (m *mockObservers) last(via string) protocol.Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.out) - 1; i >= 0; i-- {
		if m.out[i].via == via {
			return m.out[i].msg
		}
	}
	return protocol.Outbound{}
}

type denyAll struct{ forgotten []string }

func (d *denyAll) Allow(string) bool { return false }
func (d *denyAll) Forget(key string) { d.forgotten = append(d.forgotten, key) }

var _ CommandLimiter = (*denyAll)(nil)

func newSync(t *testing.T) (*SyncService, *SimulationService, *mockObservers) {
	t.Helper()
	s := seeded(t)
	obs := newMockObservers("obs-1")
	ss := NewSyncService(s, obs, time.Hour)
	ss.Attach()
	t.Cleanup(ss.Detach)
	return ss, s, obs
}

func TestExecuteReplies(t *testing.T) {
	ss, s, _ := newSync(t)
	ctx := context.Background()
	madison := agentID(t, s, "Madison")

	tests := []struct {
		name     string
		msg      protocol.Inbound
		wantType protocol.MessageType
		wantCode protocol.Code
	}{
		{"unknown command", protocol.Inbound{Type: "FLY"}, protocol.TypeError, protocol.CodeUnknownCommand},
		{"chat without message", protocol.Inbound{Type: protocol.TypeChat, Message: "  "}, protocol.TypeError, protocol.CodeValidation},
		{"chat", protocol.Inbound{Type: protocol.TypeChat, Message: "hi all"}, protocol.TypeAck, ""},
		{"subscribe unknown room", protocol.Inbound{Type: protocol.TypeSubscribeRoom, RoomID: "attic"}, protocol.TypeError, protocol.CodeNotFound},
		{"subscribe room", protocol.Inbound{Type: protocol.TypeSubscribeRoom, RoomID: "main"}, protocol.TypeAck, ""},
		{"subscribe agent", protocol.Inbound{Type: protocol.TypeSubscribeAgent, AgentID: madison}, protocol.TypeAck, ""},
		{"delete memory without data", protocol.Inbound{Type: protocol.TypeDeleteMemory}, protocol.TypeError, protocol.CodeValidation},
		{"delete memory out of range", protocol.Inbound{
			Type: protocol.TypeDeleteMemory,
			Data: json.RawMessage(fmt.Sprintf(`{"agentId":%q,"memoryIndex":99,"memoryType":"experience"}`, madison)),
		}, protocol.TypeError, protocol.CodeNotFound},
		{"delete context on empty list", protocol.Inbound{
			Type: protocol.TypeDeleteContext,
			Data: json.RawMessage(fmt.Sprintf(`{"agentId":%q,"contextIndex":0}`, madison)),
		}, protocol.TypeError, protocol.CodeNotFound},
		{"spawn agent", protocol.Inbound{
			Type: protocol.TypeSpawnAgent,
			Data: json.RawMessage(`{"name":"Dana","role":"Barista","systemPrompt":"You are Dana."}`),
		}, protocol.TypeAck, ""},
		{"spawn agent without name", protocol.Inbound{
			Type: protocol.TypeSpawnAgent,
			Data: json.RawMessage(`{"role":"Ghost"}`),
		}, protocol.TypeError, protocol.CodeValidation},
		{"start", protocol.Inbound{Type: protocol.TypeStart, RequestID: "r-1"}, protocol.TypeAck, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ss.Execute(ctx, "obs-1", tt.msg)
			if got.Type != tt.wantType || got.Code != tt.wantCode {
				t.Fatalf("reply = %s/%s (%s), want %s/%s", got.Type, got.Code, got.Error, tt.wantType, tt.wantCode)
			}
			if got.Command != tt.msg.Type || got.RequestID != tt.msg.RequestID {
				t.Fatalf("reply not correlated: %+v", got)
			}
		})
	}
	if !s.IsRunning() {
		t.Error("START did not start the simulation")
	}
}

func TestHandleCommandRateLimited(t *testing.T) {
	ss, s, obs := newSync(t)
	lim := &denyAll{}
	ss.SetLimiter(lim)

	ss.HandleCommand(context.Background(), "obs-1", protocol.Inbound{Type: protocol.TypeStart})
	if s.IsRunning() {
		t.Fatal("rate-limited command ran")
	}
	reply := obs.last("send")
	if reply.Type != protocol.TypeError || reply.Code != protocol.CodeRateLimited {
		t.Fatalf("reply = %+v", reply)
	}

	ss.Disconnected(context.Background(), "obs-1")
	if len(lim.forgotten) != 1 || lim.forgotten[0] != "obs-1" {
		t.Fatalf("forgotten = %v", lim.forgotten)
	}
}

func TestConnectedSendsIdentityThenSnapshot(t *testing.T) {
	ss, _, obs := newSync(t)
	ss.Connected(context.Background(), "obs-1")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.out) != 2 {
		t.Fatalf("messages = %d", len(obs.out))
	}
	if obs.out[0].msg.Type != protocol.TypeConnectionUpdate || obs.out[0].msg.ObserverID != "obs-1" {
		t.Fatalf("first = %+v", obs.out[0].msg)
	}
	if obs.out[1].msg.Type != protocol.TypeWorldUpdate {
		t.Fatalf("second = %+v", obs.out[1].msg)
	}
}

func TestSpeechIsForwardedToRoomAndAgentObservers(t *testing.T) {
	ss, s, obs := newSync(t)
	ctx := context.Background()
	tyler := agentID(t, s, "Tyler")
	obs.reset()

	if _, err := s.RequestAction(ctx, tyler, "speak", json.RawMessage(`{"message":"game tonight?"}`)); err != nil {
		t.Fatal(err)
	}

	rooms := obs.find("room", protocol.TypeRoomUpdate)
	if len(rooms) != 2 {
		t.Fatalf("room updates = %d, want action+speech", len(rooms))
	}
	for _, d := range rooms {
		if d.key != "main" {
			t.Errorf("room update routed to %q", d.key)
		}
	}
	agents := obs.find("agent", protocol.TypeAgentUpdate)
	if len(agents) != 2 || agents[0].key != tyler {
		t.Fatalf("agent updates = %+v", agents)
	}

	// The resolution marks Tyler dirty; the flush pushes his fresh state.
	obs.reset()
	if n := ss.FlushAgents(ctx); n != 1 {
		t.Fatalf("flushed %d agents, want 1", n)
	}
	pushed := obs.find("agent", protocol.TypeAgentUpdate)
	if len(pushed) != 1 {
		t.Fatalf("state pushes = %d", len(pushed))
	}
	au, ok := pushed[0].msg.Data.(protocol.AgentUpdate)
	if !ok || au.Type != "state" || pushed[0].msg.Channel.Room != "main" {
		t.Fatalf("push = %+v", pushed[0].msg)
	}
	if n := ss.FlushAgents(ctx); n != 0 {
		t.Fatalf("second flush sent %d", n)
	}
}

func TestChatIsRelayedToRoomObservers(t *testing.T) {
	ss, s, obs := newSync(t)
	ctx := context.Background()
	tyler := agentID(t, s, "Tyler")

	// An agent speaking on its own is not a chat line.
	if _, err := s.RequestAction(ctx, tyler, "speak", json.RawMessage(`{"message":"warming up"}`)); err != nil {
		t.Fatal(err)
	}
	if got := obs.find("room", protocol.TypeChat); len(got) != 0 {
		t.Fatalf("agent speech relayed as CHAT: %+v", got)
	}

	reply := ss.Execute(ctx, "obs-1", protocol.Inbound{Type: protocol.TypeChat, Message: "go team", Target: "Tyler"})
	if reply.Type != protocol.TypeAck {
		t.Fatalf("reply = %+v", reply)
	}

	chats := obs.find("room", protocol.TypeChat)
	if len(chats) != 1 || chats[0].key != "main" {
		t.Fatalf("chat deliveries = %+v", chats)
	}
	msg, ok := chats[0].msg.Data.(protocol.ChatMessage)
	if !ok {
		t.Fatalf("data = %T", chats[0].msg.Data)
	}
	want := protocol.ChatMessage{RoomID: "main", AgentName: UserName, Message: "go team", Target: "Tyler"}
	if msg != want {
		t.Errorf("chat = %+v, want %+v", msg, want)
	}
}

func TestSpawnAgentCommandLeavesAgentOutsideRooms(t *testing.T) {
	ss, s, _ := newSync(t)
	ctx := context.Background()

	reply := ss.Execute(ctx, "obs-1", protocol.Inbound{
		Type: protocol.TypeSpawnAgent,
		Data: json.RawMessage(`{"name":"Nova","role":"Scout"}`),
	})
	if reply.Type != protocol.TypeAck {
		t.Fatalf("reply = %+v", reply)
	}
	st, err := s.AgentState(ctx, agentID(t, s, "Nova"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Location != "" {
		t.Errorf("spawned agent placed in %q, want no room until moved", st.Location)
	}
	room, err := s.RoomState(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	for _, occ := range room.Occupants {
		if occ.Name == "Nova" {
			t.Error("spawned agent listed as occupant of main")
		}
	}
}

func TestAgentEventsCarryTrackedRoom(t *testing.T) {
	ss, s, obs := newSync(t)
	ctx := context.Background()
	madison := agentID(t, s, "Madison")
	if ss.roomOf(madison) != "" {
		t.Fatal("room tracked before any movement")
	}

	// Room tracking starts from movement seen after Attach.
	if _, err := s.CreateRoom(ctx, sim.RoomConfig{ID: "patio", Name: "Patio"}); err != nil {
		t.Fatal(err)
	}
	if err := s.MoveAgent(ctx, madison, "patio"); err != nil {
		t.Fatal(err)
	}
	obs.reset()

	if _, err := s.RequestAction(ctx, madison, "think", json.RawMessage(`{"thought":"nice breeze"}`)); err != nil {
		t.Fatal(err)
	}
	got := obs.find("agent", protocol.TypeAgentUpdate)
	if len(got) != 1 {
		t.Fatalf("agent updates = %d", len(got))
	}
	if got[0].msg.Channel.Room != "patio" {
		t.Fatalf("channel = %+v", got[0].msg.Channel)
	}
	if rooms := obs.find("room", protocol.TypeRoomUpdate); len(rooms) != 0 {
		t.Fatalf("private thought reached room observers: %+v", rooms)
	}
}

func TestPushWorldOnlyOnChange(t *testing.T) {
	ss, s, obs := newSync(t)
	ctx := context.Background()
	obs.reset()

	ss.PushWorld(ctx, false)
	ss.PushWorld(ctx, false)
	if n := len(obs.find("broadcast", protocol.TypeWorldUpdate)); n != 1 {
		t.Fatalf("pushes = %d, want 1", n)
	}

	ss.PushWorld(ctx, true)
	if n := len(obs.find("broadcast", protocol.TypeWorldUpdate)); n != 2 {
		t.Fatalf("forced push skipped: %d", n)
	}

	_ = s.Start(ctx)
	ss.PushWorld(ctx, false)
	if n := len(obs.find("broadcast", protocol.TypeWorldUpdate)); n != 3 {
		t.Fatalf("change not pushed: %d", n)
	}
}
