package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Strob0t/Habitat/internal/domain"
	"github.com/Strob0t/Habitat/internal/domain/action"
	"github.com/Strob0t/Habitat/internal/domain/event"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"not found", fmt.Errorf("agent 3: %w", domain.ErrNotFound), CodeNotFound},
		{"conflict", fmt.Errorf("index: %w", domain.ErrConflict), CodeConflict},
		{"validation", domain.ErrValidation, CodeValidation},
		{"precondition", domain.ErrPrecondition, CodePrecondition},
		{"rejected wins over its unwrap", &action.Rejected{Reason: action.ReasonAlreadyPending, Tool: "speak"}, CodeRejected},
		{"unknown command", fmt.Errorf("FLY: %w", ErrUnknownCommand), CodeUnknownCommand},
		{"rate limited", ErrRateLimited, CodeRateLimited},
		{"other", errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDecodeData(t *testing.T) {
	msg := Inbound{Type: TypeDeleteMemory, Data: json.RawMessage(`{"agentId":"4","memoryIndex":2,"memoryType":"perception"}`)}
	d, err := DecodeData[DeleteMemoryData](msg)
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if d.AgentID != "4" || d.MemoryIndex != 2 || d.MemoryType != "perception" || d.ExpectedContent != nil {
		t.Errorf("decoded %+v", d)
	}

	if _, err := DecodeData[DeleteMemoryData](Inbound{Type: TypeDeleteMemory}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("missing data: err = %v, want ErrValidation", err)
	}
	bad := Inbound{Type: TypeDeleteContext, Data: json.RawMessage(`{"contextIndex":"x"}`)}
	if _, err := DecodeData[DeleteContextData](bad); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("bad data: err = %v, want ErrValidation", err)
	}
}

func TestAgentEventWireShape(t *testing.T) {
	ev := &event.Event{
		Type:      event.TypeThought,
		Scope:     event.ScopeAgent,
		AgentID:   "7",
		Category:  event.CategoryCognition,
		Payload:   map[string]string{"thought": "hmm"},
		Timestamp: 1234,
	}
	raw, err := json.Marshal(AgentEvent(ev, "main"))
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Type    string `json:"type"`
		Channel struct {
			Room  string `json:"room"`
			Agent string `json:"agent"`
		} `json:"channel"`
		Data struct {
			Type     string            `json:"type"`
			AgentID  string            `json:"agentId"`
			Category string            `json:"category"`
			Content  map[string]string `json:"content"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != "AGENT_UPDATE" || got.Channel.Room != "main" || got.Channel.Agent != "7" {
		t.Errorf("envelope = %s", raw)
	}
	if got.Data.Type != "thought" || got.Data.Category != "cognition" || got.Data.Content["thought"] != "hmm" {
		t.Errorf("data = %s", raw)
	}
}

func TestErrorMessage(t *testing.T) {
	o := Error(TypeDeleteMemory, "req-1", fmt.Errorf("experience index 9 of 2: %w", domain.ErrNotFound))
	raw, _ := json.Marshal(o)
	s := string(raw)
	for _, want := range []string{`"type":"ERROR"`, `"command":"DELETE_MEMORY"`, `"requestId":"req-1"`, `"code":"NOT_FOUND"`} {
		if !strings.Contains(s, want) {
			t.Errorf("%s missing %s", s, want)
		}
	}
}

func TestConnectionUpdateCarriesFalse(t *testing.T) {
	raw, _ := json.Marshal(ConnectionUpdate("obs-1", false))
	if !strings.Contains(string(raw), `"connected":false`) {
		t.Errorf("connected flag dropped: %s", raw)
	}
}
