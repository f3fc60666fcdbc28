package pipeline

import (
	"context"
	"log/slog"

	"github.com/bankchat/bankchat-go/adapter/llm"
	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/config"
	"github.com/bankchat/bankchat-go/middleware"
	"github.com/bankchat/bankchat-go/stage"
	"github.com/bankchat/bankchat-go/tools"
)

// Build assembles the full pipeline from validated configuration: one model
// adapter and one decorated stage per stage document.
func Build(ctx context.Context, cfg *config.Config, registry *tools.Registry, creds llm.Credentials, logger *slog.Logger) (*Pipeline, error) {
	stages := make(map[string]bankchat.Stage, len(cfg.Stages))
	next := make(map[string][]string, len(cfg.Stages))

	for id, sc := range cfg.Stages {
		model, err := llm.New(ctx, sc.Provider, sc.Model, creds)
		if err != nil {
			return nil, bankchat.NewConfigError(id, "cannot create model adapter", err)
		}
		s, err := stage.New(sc, cfg.Shared, model, registry, logger)
		if err != nil {
			return nil, bankchat.NewConfigError(id, "cannot create stage", err)
		}
		stages[id] = Decorate(s, sc, logger)
		next[id] = sc.Next
	}

	return New(cfg.Shared.EntryStage, stages, next, logger), nil
}

// Decorate wraps a stage with the standard execution policy: per-attempt
// timeout, retry with capped exponential backoff, and degradation to the
// stage's fallback result once the budget is spent.
func Decorate(s bankchat.Stage, sc *config.StageConfig, logger *slog.Logger) bankchat.Stage {
	var wrapped bankchat.Stage = middleware.NewTimeoutDecorator(s, sc.Timeout())
	wrapped = middleware.NewRetryDecorator(wrapped, middleware.RetryConfig{
		MaxAttempts:    sc.MaxRetries,
		InitialBackoff: sc.RetryDelay(),
		MaxBackoff:     sc.RetryDelayMax(),
	})
	if fb, ok := s.(middleware.Fallbacker); ok {
		wrapped = middleware.NewFallbackDecorator(wrapped, fb, logger)
	}
	return wrapped
}
