package stage

import (
	"context"
	"log/slog"

	"github.com/bankchat/bankchat-go/adapter/llm"
	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
)

// directAnswerFallback is returned when a routing rule matched but the
// direct-answer call itself failed.
const directAnswerFallback = "죄송합니다. 지금은 답변을 드릴 수 없습니다. 잠시 후 다시 시도해 주세요."

// Rewriting is the entry stage. It resolves references against the session
// history ("그 계좌" and the like), produces a self-contained rewrite of the
// user query, and classifies its topic.
//
// When a routing rule matches the classified topic the stage answers the
// query directly with a second model call and short-circuits the turn, so
// chit-chat never reaches the banking stages.
type Rewriting struct {
	base
}

var _ bankchat.Stage = (*Rewriting)(nil)

// NewRewriting creates the rewriting stage.
func NewRewriting(cfg *config.StageConfig, shared config.Shared, model llm.LLM, logger *slog.Logger) *Rewriting {
	return &Rewriting{base: newBase(cfg, shared, model, logger)}
}

// Execute rewrites and classifies the query.
func (s *Rewriting) Execute(ctx context.Context, in bankchat.Fields, pctx *bankchat.PipelineContext) (bankchat.StageResult, error) {
	values := s.commonValues(pctx)
	values["topics_list"] = formatCatalog(s.cfg.Topics)

	raw, err := s.callModel(ctx, values)
	if err != nil {
		return bankchat.StageResult{}, err
	}

	fields, err := parseReply(s.name, raw)
	if err != nil {
		s.logger.Warn("falling back to defaults", "error", err)
		return s.Fallback(in, pctx), nil
	}
	if fields.String(bankchat.FieldRewrittenText) == "" {
		s.logger.Warn("reply carries no rewritten text, falling back to defaults")
		return s.Fallback(in, pctx), nil
	}
	if fields.String(bankchat.FieldTopic) == "" {
		fields[bankchat.FieldTopic] = s.cfg.DefaultTopic
	}

	for _, rule := range s.cfg.RoutingRules {
		if fields.String(rule.Field) != rule.Equals {
			continue
		}
		s.logger.Info("routing rule matched, answering directly",
			"field", rule.Field, "value", rule.Equals)
		fields[bankchat.FieldDirectResponse] = s.directAnswer(ctx, rule, pctx)
		result := s.result(fields)
		result.ShortCircuit = true
		return result, nil
	}

	return s.result(fields), nil
}

// directAnswer asks the model to answer the query itself, outside the
// banking pipeline. A failure here must not fail the turn, so it degrades to
// a canned apology.
func (s *Rewriting) directAnswer(ctx context.Context, rule config.RoutingRule, pctx *bankchat.PipelineContext) string {
	if rule.ResponsePrompt == "" {
		return directAnswerFallback
	}

	messages := []*bankchat.Message{
		bankchat.NewMessage("system", rule.ResponsePrompt),
		bankchat.NewMessage("user", pctx.Query),
	}
	answer, err := s.model.Complete(ctx, messages, llm.WithTemperature(s.cfg.Temperature))
	if err != nil {
		s.logger.Warn("direct answer call failed", "error", err)
		return directAnswerFallback
	}
	return answer
}

// Fallback returns the degraded result: the query passes through unrewritten
// with the default topic, and the turn continues downstream.
func (s *Rewriting) Fallback(_ bankchat.Fields, pctx *bankchat.PipelineContext) bankchat.StageResult {
	return s.fallbackResult(bankchat.Fields{
		bankchat.FieldRewrittenText: pctx.Query,
		bankchat.FieldTopic:         s.cfg.DefaultTopic,
	})
}
