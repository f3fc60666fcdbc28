package stage

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bankchat/bankchat-go/adapter/llm"
	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
)

// Preprocessing normalizes the rewritten query and extracts the intent and
// slot values downstream stages act on.
type Preprocessing struct {
	base
}

var _ bankchat.Stage = (*Preprocessing)(nil)

// NewPreprocessing creates the preprocessing stage.
func NewPreprocessing(cfg *config.StageConfig, shared config.Shared, model llm.LLM, logger *slog.Logger) *Preprocessing {
	return &Preprocessing{base: newBase(cfg, shared, model, logger)}
}

// Execute extracts normalized text, intent, and slots from the predecessor's
// rewritten query.
func (s *Preprocessing) Execute(ctx context.Context, in bankchat.Fields, pctx *bankchat.PipelineContext) (bankchat.StageResult, error) {
	rewritten := inputText(in, pctx)

	values := s.commonValues(pctx)
	values["rewritten_text"] = rewritten

	raw, err := s.callModel(ctx, values)
	if err != nil {
		return bankchat.StageResult{}, err
	}

	fields, err := parseReply(s.name, raw)
	if err != nil {
		s.logger.Warn("falling back to defaults", "error", err)
		return s.Fallback(in, pctx), nil
	}

	normalized := fields.String(bankchat.FieldNormalizedText)
	if normalized == "" {
		normalized = rewritten
	}
	intent := firstIntent(fields)
	if intent == "" {
		intent = s.cfg.DefaultIntent
	}
	slots := enhanceSlots(fields.Strings(bankchat.FieldSlot), pctx)

	return s.result(bankchat.Fields{
		bankchat.FieldNormalizedText: normalized,
		bankchat.FieldIntent:         intent,
		bankchat.FieldSlot:           slots,
	}), nil
}

// Fallback passes the rewritten text through with the default intent.
func (s *Preprocessing) Fallback(in bankchat.Fields, pctx *bankchat.PipelineContext) bankchat.StageResult {
	return s.fallbackResult(bankchat.Fields{
		bankchat.FieldNormalizedText: inputText(in, pctx),
		bankchat.FieldIntent:         s.cfg.DefaultIntent,
		bankchat.FieldSlot:           enhanceSlots(nil, pctx),
	})
}

// inputText picks the text this stage should work on: the predecessor's
// rewrite, or the raw query when the rewrite is absent.
func inputText(in bankchat.Fields, pctx *bankchat.PipelineContext) string {
	if text := in.String(bankchat.FieldRewrittenText); text != "" {
		return text
	}
	return pctx.Query
}

// firstIntent reads the intent field, accepting both a plain string and a
// list. Models sometimes emit a ranked list; the head wins.
func firstIntent(fields bankchat.Fields) string {
	if list := fields.Strings(bankchat.FieldIntent); len(list) > 0 {
		return list[0]
	}
	return fields.String(bankchat.FieldIntent)
}

// enhanceSlots supplements the extracted slots with account numbers known
// from the session: the currently selected account first, then accounts that
// surfaced in earlier tool outputs.
func enhanceSlots(slots []string, pctx *bankchat.PipelineContext) []string {
	seen := make(map[string]bool, len(slots))
	out := make([]string, 0, len(slots)+2)
	for _, slot := range slots {
		slot = strings.TrimSpace(slot)
		if slot == "" || seen[slot] {
			continue
		}
		seen[slot] = true
		out = append(out, slot)
	}

	if account := pctx.State.String("selected_account"); account != "" && !seen[account] {
		seen[account] = true
		out = append(out, account)
	}
	for _, account := range accountsFromHistory(pctx.History) {
		if !seen[account] {
			seen[account] = true
			out = append(out, account)
		}
	}
	return out
}
