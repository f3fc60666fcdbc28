// Package config loads and validates the JSON documents that describe the
// pipeline: one document per stage, a tools document, and a shared document.
// Everything is read once at process start and immutable afterwards;
// malformed entries fail the load, never a request.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/bankchat/bankchat-go/bankchat"
)

// RoutingRule is one declarative short-circuit rule for a stage: when the
// stage's own output field equals the constant, the stage asks the model for
// a direct answer and the turn completes without running downstream stages.
// Only equality conditions exist; there is no expression language.
type RoutingRule struct {
	Field          string `koanf:"field"`
	Equals         string `koanf:"equals"`
	ResponsePrompt string `koanf:"response_prompt"`
}

// StageConfig is the static per-stage configuration.
type StageConfig struct {
	ID          string  `koanf:"id"`
	Provider    string  `koanf:"provider"`
	Model       string  `koanf:"model"`
	Temperature float64 `koanf:"temperature"`

	MaxRetries      int `koanf:"max_retries"`
	RetryDelayMs    int `koanf:"retry_delay_ms"`
	RetryDelayMaxMs int `koanf:"retry_delay_max_ms"`
	TimeoutMs       int `koanf:"timeout_ms"`

	// Next lists successor stage identifiers; empty means terminal stage.
	Next []string `koanf:"next"`

	SystemPrompt string `koanf:"system_prompt"`

	// Prompt is an ordered list of template fragments joined by newlines.
	// Fragments contain {placeholder} references resolved against the
	// stage input and turn context at execution time.
	Prompt []string `koanf:"prompt"`

	// Defaults is the fallback result used after a parse failure or an
	// exhausted retry budget.
	Defaults map[string]any `koanf:"defaults"`

	RoutingRules []RoutingRule `koanf:"routing_rules"`

	// Stage-specific mapping tables. Unused tables stay empty.
	Topics       map[string]string   `koanf:"topics"`
	IntentDomain map[string]string   `koanf:"intent_domain_mapping"`
	IntentTool   map[string]string   `koanf:"intent_tool_mapping"`
	IntentSlots  map[string][]string `koanf:"intent_slots"`

	DefaultTopic  string `koanf:"default_topic"`
	DefaultIntent string `koanf:"default_intent"`
	DefaultDomain string `koanf:"default_domain"`
	DefaultTool   string `koanf:"default_tool"`
}

// RetryDelay returns the initial backoff for transient call failures.
func (s *StageConfig) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// RetryDelayMax returns the backoff cap.
func (s *StageConfig) RetryDelayMax() time.Duration {
	return time.Duration(s.RetryDelayMaxMs) * time.Millisecond
}

// Timeout returns the per-call timeout for this stage, independent of the
// overall turn deadline.
func (s *StageConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// DefaultFields returns the fallback result fields as a fresh copy.
func (s *StageConfig) DefaultFields() bankchat.Fields {
	return bankchat.Fields(s.Defaults).Clone()
}

// ToolConfig describes one simulated banking tool.
type ToolConfig struct {
	Description    string         `koanf:"description"`
	RequiredSlots  []string       `koanf:"required_slots"`
	SampleResponse map[string]any `koanf:"sample_response"`
}

// Shared holds the cross-stage settings from shared.json.
type Shared struct {
	EntryStage        string `koanf:"entry_stage"`
	SessionCapacity   int    `koanf:"session_capacity"`
	HistoryLimit      int    `koanf:"history_limit"`
	MaxContextEntries int    `koanf:"max_conversation_entries"`

	// FallbackAnswer is returned when every stage degraded to its default.
	FallbackAnswer string `koanf:"fallback_answer"`

	// ToolErrorAnswer is rendered for UnknownTool/MissingSlot results.
	ToolErrorAnswer string `koanf:"tool_error_answer"`
}

// Config is the immutable process-wide configuration.
type Config struct {
	Stages map[string]*StageConfig
	Tools  map[string]*ToolConfig
	Shared Shared
}

const (
	defaultSessionCapacity = 100
	defaultHistoryLimit    = 10
	defaultContextEntries  = 3
	defaultMaxRetries      = 3
	defaultRetryDelayMs    = 200
	defaultRetryDelayMaxMs = 5000
	defaultTimeoutMs       = 15000
)

// Load reads the configuration tree rooted at dir:
//
//	dir/shared.json
//	dir/tools.json
//	dir/stages/<id>.json
//
// Every malformed or dangling entry is a *bankchat.ConfigError; the caller
// is expected to abort startup on any error.
func Load(dir string) (*Config, error) {
	cfg := &Config{
		Stages: make(map[string]*StageConfig),
		Tools:  make(map[string]*ToolConfig),
	}

	if err := loadDocument(filepath.Join(dir, "shared.json"), &cfg.Shared); err != nil {
		return nil, err
	}
	applySharedDefaults(&cfg.Shared)

	if err := loadTools(filepath.Join(dir, "tools.json"), cfg); err != nil {
		return nil, err
	}

	stageDir := filepath.Join(dir, "stages")
	entries, err := os.ReadDir(stageDir)
	if err != nil {
		return nil, bankchat.NewConfigError(stageDir, "cannot read stage directory", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(stageDir, entry.Name())
		sc := &StageConfig{}
		if err := loadDocument(path, sc); err != nil {
			return nil, err
		}
		applyStageDefaults(sc)
		if err := validateStage(path, sc); err != nil {
			return nil, err
		}
		if _, dup := cfg.Stages[sc.ID]; dup {
			return nil, bankchat.NewConfigError(path, fmt.Sprintf("duplicate stage id %q", sc.ID), nil)
		}
		cfg.Stages[sc.ID] = sc
	}

	if err := cfg.validate(dir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDocument(path string, out any) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return bankchat.NewConfigError(path, "cannot load document", err)
	}
	if err := k.Unmarshal("", out); err != nil {
		return bankchat.NewConfigError(path, "cannot decode document", err)
	}
	return nil
}

type toolsDocument struct {
	Tools map[string]*ToolConfig `koanf:"tools"`
}

func loadTools(path string, cfg *Config) error {
	var doc toolsDocument
	if err := loadDocument(path, &doc); err != nil {
		return err
	}
	if len(doc.Tools) == 0 {
		return bankchat.NewConfigError(path, "no tools declared", nil)
	}
	for id, tc := range doc.Tools {
		if tc.SampleResponse == nil {
			return bankchat.NewConfigError(path, fmt.Sprintf("tool %q has no sample_response", id), nil)
		}
		cfg.Tools[id] = tc
	}
	return nil
}

func applySharedDefaults(s *Shared) {
	if s.SessionCapacity <= 0 {
		s.SessionCapacity = defaultSessionCapacity
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = defaultHistoryLimit
	}
	if s.MaxContextEntries <= 0 {
		s.MaxContextEntries = defaultContextEntries
	}
}

func applyStageDefaults(sc *StageConfig) {
	if sc.MaxRetries <= 0 {
		sc.MaxRetries = defaultMaxRetries
	}
	if sc.RetryDelayMs <= 0 {
		sc.RetryDelayMs = defaultRetryDelayMs
	}
	if sc.RetryDelayMaxMs <= 0 {
		sc.RetryDelayMaxMs = defaultRetryDelayMaxMs
	}
	if sc.TimeoutMs <= 0 {
		sc.TimeoutMs = defaultTimeoutMs
	}
}

func validateStage(path string, sc *StageConfig) error {
	if sc.ID == "" {
		return bankchat.NewConfigError(path, "stage id is empty", nil)
	}
	if sc.Provider == "" {
		return bankchat.NewConfigError(path, fmt.Sprintf("stage %q declares no provider", sc.ID), nil)
	}
	if sc.Model == "" {
		return bankchat.NewConfigError(path, fmt.Sprintf("stage %q declares no model", sc.ID), nil)
	}
	if len(sc.Prompt) == 0 {
		return bankchat.NewConfigError(path, fmt.Sprintf("stage %q has an empty prompt template", sc.ID), nil)
	}
	if sc.RetryDelayMaxMs < sc.RetryDelayMs {
		return bankchat.NewConfigError(path, fmt.Sprintf("stage %q: retry_delay_max_ms below retry_delay_ms", sc.ID), nil)
	}
	for i, rule := range sc.RoutingRules {
		if rule.Field == "" {
			return bankchat.NewConfigError(path, fmt.Sprintf("stage %q: routing rule %d has no field", sc.ID, i), nil)
		}
	}
	return nil
}

// validate checks the cross-document invariants: the entry stage exists and
// every declared successor resolves to a registered stage.
func (c *Config) validate(dir string) error {
	if len(c.Stages) == 0 {
		return bankchat.NewConfigError(dir, "no stages configured", nil)
	}
	if c.Shared.EntryStage == "" {
		return bankchat.NewConfigError(dir, "shared.json declares no entry_stage", nil)
	}
	if _, ok := c.Stages[c.Shared.EntryStage]; !ok {
		return bankchat.NewConfigError(dir, fmt.Sprintf("entry stage %q is not a registered stage", c.Shared.EntryStage), nil)
	}
	for id, sc := range c.Stages {
		for _, next := range sc.Next {
			if _, ok := c.Stages[next]; !ok {
				return bankchat.NewConfigError(dir, fmt.Sprintf("stage %q declares unknown successor %q", id, next), nil)
			}
		}
	}
	return nil
}

// Stage returns the configuration for the given stage id.
func (c *Config) Stage(id string) (*StageConfig, bool) {
	sc, ok := c.Stages[id]
	return sc, ok
}
