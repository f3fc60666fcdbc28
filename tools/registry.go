// Package tools implements the banking tool layer: a registry of executable
// capabilities invoked by the domain stage with a tool id and extracted slot
// values.
package tools

import (
	"context"
	"fmt"

	"github.com/bankchat/bankchat-go/bankchat"
)

// Tool is one executable capability.
type Tool interface {
	// Name returns the unique tool identifier.
	Name() string

	// Description returns a human-readable summary used in stage prompts.
	Description() string

	// RequiredSlots lists the slot names that must be present.
	RequiredSlots() []string

	// Execute runs the tool. Slot validation happens in the registry, so
	// implementations may assume required slots are present.
	Execute(ctx context.Context, slots bankchat.Fields) (bankchat.Fields, error)
}

// Registry maps tool identifiers to implementations. It is populated at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate name is a programming error
// and panics, matching startup-only usage.
func (r *Registry) Register(t Tool) {
	if _, dup := r.tools[t.Name()]; dup {
		panic(fmt.Sprintf("tools: duplicate registration of %q", t.Name()))
	}
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool identifiers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Descriptions returns name -> description for prompt building.
func (r *Registry) Descriptions() map[string]string {
	out := make(map[string]string, len(r.tools))
	for name, t := range r.tools {
		out[name] = t.Description()
	}
	return out
}

// Execute validates and runs the named tool.
//
// Errors are structured, never fatal: an unregistered id yields
// bankchat.ErrUnknownTool, an absent required slot yields
// bankchat.ErrMissingSlot (wrapped with the slot name). The domain stage
// converts either into a degraded tool result.
func (r *Registry) Execute(ctx context.Context, toolID string, slots bankchat.Fields) (bankchat.Fields, error) {
	t, ok := r.tools[toolID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", bankchat.ErrUnknownTool, toolID)
	}
	for _, slot := range t.RequiredSlots() {
		if _, present := slots[slot]; !present {
			return nil, fmt.Errorf("%w: %s (tool %s)", bankchat.ErrMissingSlot, slot, toolID)
		}
	}
	return t.Execute(ctx, slots)
}
