package stage

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bankchat/bankchat-go/adapter/llm"
	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
	"github.com/bankchat/bankchat-go/tools"
)

// Domain is the terminal stage: it selects the banking tool for the turn,
// assembles the tool input from the extracted slots and session state, and
// executes the tool.
//
// Tool failures never fail the stage. An unknown tool id or a missing
// required slot becomes a structured error payload in the tool output, which
// the answer renderer turns into a degraded reply.
type Domain struct {
	base
	registry *tools.Registry
}

var _ bankchat.Stage = (*Domain)(nil)

// NewDomain creates the domain stage.
func NewDomain(cfg *config.StageConfig, shared config.Shared, model llm.LLM, registry *tools.Registry, logger *slog.Logger) *Domain {
	return &Domain{base: newBase(cfg, shared, model, logger), registry: registry}
}

// Execute selects and runs the tool for the turn.
func (s *Domain) Execute(ctx context.Context, in bankchat.Fields, pctx *bankchat.PipelineContext) (bankchat.StageResult, error) {
	slots := enhanceSlots(in.Strings(bankchat.FieldSlot), pctx)

	values := s.commonValues(pctx)
	values["normalized_text"] = in.String(bankchat.FieldNormalizedText)
	values["intent"] = in.String(bankchat.FieldIntent)
	values["slot"] = strings.Join(slots, ", ")
	values["target_domain"] = in.String(bankchat.FieldTargetDomain)
	values["tools_list"] = formatCatalog(s.registry.Descriptions())
	values["intent_tool_mapping_list"] = formatMapping(s.cfg.IntentTool)

	raw, err := s.callModel(ctx, values)
	if err != nil {
		return bankchat.StageResult{}, err
	}

	toolName, toolInput := s.selection(raw, in, pctx, slots)
	output := s.runTool(ctx, toolName, toolInput)

	return s.result(bankchat.Fields{
		bankchat.FieldIntent:     in.String(bankchat.FieldIntent),
		bankchat.FieldToolName:   toolName,
		bankchat.FieldToolInput:  toolInput,
		bankchat.FieldToolOutput: output,
	}), nil
}

// selection reads the model's tool choice, or falls back to the static
// intent-to-tool mapping when the reply is unusable.
func (s *Domain) selection(raw string, in bankchat.Fields, pctx *bankchat.PipelineContext, slots []string) (string, bankchat.Fields) {
	fields, err := parseReply(s.name, raw)
	if err != nil {
		s.logger.Warn("falling back to mapped tool", "error", err)
		return s.defaultSelection(in, pctx, slots)
	}
	toolName := fields.String(bankchat.FieldToolName)
	if toolName == "" {
		return s.defaultSelection(in, pctx, slots)
	}
	toolInput := fields.Map(bankchat.FieldToolInput)
	if toolInput == nil {
		toolInput = bankchat.Fields{}
	}
	s.fillKnownSlots(toolName, toolInput, pctx)
	return toolName, toolInput
}

// defaultSelection picks the tool from the intent mapping and fills its
// input from what the session already knows.
func (s *Domain) defaultSelection(in bankchat.Fields, pctx *bankchat.PipelineContext, slots []string) (string, bankchat.Fields) {
	intent := in.String(bankchat.FieldIntent)
	toolName := s.cfg.DefaultTool
	if mapped, ok := s.cfg.IntentTool[intent]; ok {
		toolName = mapped
	}

	toolInput := bankchat.Fields{}
	for i, name := range s.cfg.IntentSlots[intent] {
		if i < len(slots) {
			toolInput[name] = slots[i]
		}
	}
	s.fillKnownSlots(toolName, toolInput, pctx)
	return toolName, toolInput
}

// fillKnownSlots supplies the account number from the session when the tool
// requires one and the model did not extract it.
func (s *Domain) fillKnownSlots(toolName string, toolInput bankchat.Fields, pctx *bankchat.PipelineContext) {
	tool, ok := s.registry.Get(toolName)
	if !ok {
		return
	}
	for _, slot := range tool.RequiredSlots() {
		if slot != "account_number" {
			continue
		}
		if _, present := toolInput[slot]; present {
			continue
		}
		if account := knownAccount(pctx); account != "" {
			toolInput[slot] = account
		}
	}
}

func knownAccount(pctx *bankchat.PipelineContext) string {
	if account := pctx.State.String("selected_account"); account != "" {
		return account
	}
	if accounts := accountsFromHistory(pctx.History); len(accounts) > 0 {
		return accounts[len(accounts)-1]
	}
	return ""
}

// runTool executes the tool and converts registry errors into a structured
// error payload.
func (s *Domain) runTool(ctx context.Context, toolName string, toolInput bankchat.Fields) bankchat.Fields {
	output, err := s.registry.Execute(ctx, toolName, toolInput)
	if err == nil {
		return output
	}

	kind := "tool_failure"
	switch {
	case errors.Is(err, bankchat.ErrUnknownTool):
		kind = "unknown_tool"
	case errors.Is(err, bankchat.ErrMissingSlot):
		kind = "missing_slot"
	}
	s.logger.Warn("tool execution degraded", "tool", toolName, "kind", kind, "error", err)
	return bankchat.Fields{
		"status":     "error",
		"error_kind": kind,
		"error":      err.Error(),
	}
}

// Fallback reports the mapped default tool with a failure payload. The stage
// only falls back after the model call budget is exhausted, so no tool input
// could be assembled and nothing is executed.
func (s *Domain) Fallback(in bankchat.Fields, _ *bankchat.PipelineContext) bankchat.StageResult {
	intent := in.String(bankchat.FieldIntent)
	toolName := s.cfg.DefaultTool
	if mapped, ok := s.cfg.IntentTool[intent]; ok {
		toolName = mapped
	}
	return s.fallbackResult(bankchat.Fields{
		bankchat.FieldIntent:   intent,
		bankchat.FieldToolName: toolName,
		bankchat.FieldToolOutput: bankchat.Fields{
			"status":     "error",
			"error_kind": "stage_failure",
		},
	})
}
