// Package action defines the action contract between agents, the executor and
// tool implementations: pending requests, result envelopes and rejections.
package action

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/Strob0t/Habitat/internal/domain"
)

// Pending is an accepted request that has not resolved yet.
type Pending struct {
	Tool       string          `json:"tool"`
	Parameters json.RawMessage `json:"parameters"`
}

// Data is the free-form part of a result envelope.
type Data struct {
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Result is the envelope every tool invocation resolves to.
type Result struct {
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Result    string `json:"result"`
	Timestamp int64  `json:"timestamp"`
	Data      Data   `json:"data"`
}

// Clone returns a deep copy.
func (r Result) Clone() Result {
	if r.Data.Metadata != nil {
		r.Data.Metadata = maps.Clone(r.Data.Metadata)
	}
	return r
}

// Failure builds a success:false envelope.
func Failure(tool, message string, now int64, data Data) Result {
	return Result{Action: tool, Success: false, Result: message, Timestamp: now, Data: data}
}

// Reason classifies why a request was rejected before any effect ran.
type Reason string

const (
	ReasonAlreadyPending    Reason = "AlreadyPending"
	ReasonUnknownTool       Reason = "UnknownTool"
	ReasonInvalidParameters Reason = "InvalidParameters"
	ReasonInactive          Reason = "Inactive"
)

// Rejected is returned when a request fails the executor's gate. The agent's
// Action component is left untouched.
type Rejected struct {
	Reason Reason `json:"reason"`
	Tool   string `json:"tool"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (e *Rejected) Error() string {
	msg := fmt.Sprintf("action rejected (%s): %s", e.Reason, e.Tool)
	if e.Field != "" {
		msg += ": field " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap maps the rejection onto the shared error taxonomy.
func (e *Rejected) Unwrap() error {
	if e.Reason == ReasonInvalidParameters {
		return domain.ErrValidation
	}
	return domain.ErrPrecondition
}
