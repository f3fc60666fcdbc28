// Package stage implements the pipeline stages: rewriting, preprocessing,
// supervisor, and domain. Each stage wraps one model call, parses the JSON
// reply, and degrades to its configured defaults when the reply cannot be
// parsed. Transient call failures bubble up as errors for the executor
// middleware to retry.
package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bankchat/bankchat-go/adapter/llm"
	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
	"github.com/bankchat/bankchat-go/tools"
)

// base carries what every stage needs: its configuration, the bound model
// adapter, shared settings, and a logger.
type base struct {
	name   string
	cfg    *config.StageConfig
	shared config.Shared
	model  llm.LLM
	logger *slog.Logger
}

func newBase(cfg *config.StageConfig, shared config.Shared, model llm.LLM, logger *slog.Logger) base {
	return base{
		name:   cfg.ID,
		cfg:    cfg,
		shared: shared,
		model:  model,
		logger: logger.With("stage", cfg.ID, "model", model.Model()),
	}
}

// Name returns the stage identifier.
func (b *base) Name() string { return b.name }

// callModel renders the prompt template with the given values and performs
// one completion. Errors are returned as-is; retry classification happens in
// the executor middleware.
func (b *base) callModel(ctx context.Context, values map[string]string) (string, error) {
	prompt := renderTemplate(b.cfg.Prompt, values)

	var messages []*bankchat.Message
	if b.cfg.SystemPrompt != "" {
		messages = append(messages, bankchat.NewMessage("system", b.cfg.SystemPrompt))
	}
	messages = append(messages, bankchat.NewMessage("user", prompt))

	reply, err := b.model.Complete(ctx, messages, llm.WithTemperature(b.cfg.Temperature))
	if err != nil {
		return "", err
	}
	b.logger.Debug("model reply", "chars", len(reply))
	return reply, nil
}

// commonValues returns the placeholder values every stage template may use.
func (b *base) commonValues(pctx *bankchat.PipelineContext) map[string]string {
	return map[string]string{
		"query":              pctx.Query,
		"context_summary":    summarizeHistory(pctx.History, b.shared.MaxContextEntries),
		"current_state_info": formatState(pctx.State),
		"reference_guide":    referenceGuide(pctx.History, pctx.State),
	}
}

// result wraps fields into a StageResult for this stage.
func (b *base) result(fields bankchat.Fields) bankchat.StageResult {
	return bankchat.StageResult{Stage: b.name, Fields: fields}
}

// fallbackResult builds the degraded result from the configured defaults.
func (b *base) fallbackResult(extra bankchat.Fields) bankchat.StageResult {
	fields := b.cfg.DefaultFields()
	fields.Merge(extra)
	return bankchat.StageResult{Stage: b.name, Fields: fields, Fallback: true}
}

// New constructs the stage implementation registered for the given
// configuration. Stage identifiers bind to implementations by name; an
// identifier without an implementation is a configuration mistake.
func New(cfg *config.StageConfig, shared config.Shared, model llm.LLM, registry *tools.Registry, logger *slog.Logger) (bankchat.Stage, error) {
	switch cfg.ID {
	case "rewriting":
		return NewRewriting(cfg, shared, model, logger), nil
	case "preprocessing":
		return NewPreprocessing(cfg, shared, model, logger), nil
	case "supervisor":
		return NewSupervisor(cfg, shared, model, logger), nil
	case "domain":
		return NewDomain(cfg, shared, model, registry, logger), nil
	default:
		return nil, fmt.Errorf("no stage implementation registered for id %q", cfg.ID)
	}
}
