package tools

import (
	"context"

	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
)

// SampleTool simulates one bank operation by returning its configured sample
// payload verbatim. There is no real account system behind the service; the
// tools document supplies the canned records.
type SampleTool struct {
	name          string
	description   string
	requiredSlots []string
	sample        bankchat.Fields
}

var _ Tool = (*SampleTool)(nil)

// NewSampleTool creates a canned tool from its configuration entry.
func NewSampleTool(name string, tc *config.ToolConfig) *SampleTool {
	return &SampleTool{
		name:          name,
		description:   tc.Description,
		requiredSlots: tc.RequiredSlots,
		sample:        bankchat.Fields(tc.SampleResponse),
	}
}

// Name returns the tool identifier.
func (t *SampleTool) Name() string { return t.name }

// Description returns the configured description.
func (t *SampleTool) Description() string { return t.description }

// RequiredSlots returns the configured required slot names.
func (t *SampleTool) RequiredSlots() []string { return t.requiredSlots }

// Execute returns a copy of the sample payload.
func (t *SampleTool) Execute(_ context.Context, _ bankchat.Fields) (bankchat.Fields, error) {
	return t.sample.Clone(), nil
}

// NewBankingRegistry builds a registry holding every tool the configuration
// declares.
func NewBankingRegistry(cfg *config.Config) *Registry {
	registry := NewRegistry()
	for name, tc := range cfg.Tools {
		registry.Register(NewSampleTool(name, tc))
	}
	return registry
}
