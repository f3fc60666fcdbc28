// Package bankchat provides the core types and interfaces shared by the
// pipeline, stages, session store, and chat service.
package bankchat

import (
	"context"
	"time"
)

// Message represents a single message sent to or received from a model
// provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a message with the given role and content.
func NewMessage(role, content string) *Message {
	return &Message{Role: role, Content: content}
}

// Fields is a free-form keyed result map. Stages do not share a fixed schema;
// each stage reads only the keys its declared predecessor is known to emit,
// so access goes through typed accessors that tolerate missing or mistyped
// values instead of panicking.
type Fields map[string]any

// String returns the string value for key, or "" when absent or not a string.
func (f Fields) String(key string) string {
	if f == nil {
		return ""
	}
	s, _ := f[key].(string)
	return s
}

// Bool returns the bool value for key, or false when absent or not a bool.
func (f Fields) Bool(key string) bool {
	if f == nil {
		return false
	}
	b, _ := f[key].(bool)
	return b
}

// Strings returns the string-slice value for key. Both []string and []any
// holding strings are accepted; JSON decoding produces the latter.
func (f Fields) Strings(key string) []string {
	if f == nil {
		return nil
	}
	switch v := f[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Map returns the nested map value for key, or nil when absent.
func (f Fields) Map(key string) Fields {
	if f == nil {
		return nil
	}
	switch v := f[key].(type) {
	case Fields:
		return v
	case map[string]any:
		return Fields(v)
	}
	return nil
}

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge copies every key of other into f, overwriting existing keys.
func (f Fields) Merge(other Fields) {
	for k, v := range other {
		f[k] = v
	}
}

// Well-known result field keys. These are the conventional handoff keys
// between the shipped stages; stages wired through configuration may declare
// their own.
const (
	FieldRewrittenText  = "rewritten_text"
	FieldTopic          = "topic"
	FieldNormalizedText = "normalized_text"
	FieldIntent         = "intent"
	FieldSlot           = "slot"
	FieldTargetDomain   = "target_domain"
	FieldToolName       = "tool_name"
	FieldToolInput      = "tool_input"
	FieldToolOutput     = "tool_output"
	FieldDirectResponse = "direct_response"
)

// StageResult is the keyed output of one stage execution.
type StageResult struct {
	// Stage is the identifier of the stage that produced this result.
	Stage string `json:"stage"`

	// Fields holds the stage-specific output keys.
	Fields Fields `json:"fields"`

	// ShortCircuit marks the turn complete: the orchestrator must skip all
	// remaining stages and use Fields[FieldDirectResponse] as the answer.
	ShortCircuit bool `json:"short_circuit,omitempty"`

	// Fallback is set when the result is the stage's configured default,
	// produced after a parse failure or an exhausted retry budget.
	Fallback bool `json:"fallback,omitempty"`
}

// Turn is one completed chat exchange: the user's text, the ordered stage
// results the pipeline produced for it, and the final answer.
type Turn struct {
	ID        string        `json:"id"`
	UserText  string        `json:"user_text"`
	Answer    string        `json:"answer"`
	Stages    []StageResult `json:"stages"`
	CreatedAt time.Time     `json:"created_at"`
}

// StageOutput returns the result the named stage produced in this turn, or
// false when the stage did not run (e.g. the turn short-circuited).
func (t *Turn) StageOutput(stage string) (StageResult, bool) {
	for _, r := range t.Stages {
		if r.Stage == stage {
			return r, true
		}
	}
	return StageResult{}, false
}

// PipelineContext carries the per-turn view every stage receives alongside
// its predecessor's output: the original query, bounded prior history, the
// session's current-state map, and the optional customer profile.
//
// The orchestrator owns the context exclusively for the duration of a turn;
// it is built from a session snapshot and discarded when the turn ends.
type PipelineContext struct {
	SessionID string
	Query     string
	History   []Turn
	State     Fields
	Customer  Fields
}

// Stage is one step of the pipeline, typically backed by one model call.
//
// Execute receives the predecessor's declared output fields (the entry stage
// receives the seed input built by the orchestrator) together with the shared
// turn context. A stage must not fail the turn: transient errors are retried
// and then degraded to the stage's configured fallback by the executor
// wrapping it, so an error returned here means "this attempt failed", not
// "abort the pipeline".
type Stage interface {
	// Name returns the stage's registered identifier.
	Name() string

	// Execute runs the stage against the given input and turn context.
	Execute(ctx context.Context, in Fields, pctx *PipelineContext) (StageResult, error)
}
