package middleware

import (
	"context"
	"log/slog"

	"github.com/bankchat/bankchat-go/bankchat"
)

// Fallbacker is implemented by stages that can produce a degraded result
// from their configured defaults when every attempt failed.
type Fallbacker interface {
	Fallback(in bankchat.Fields, pctx *bankchat.PipelineContext) bankchat.StageResult
}

// FallbackDecorator converts an exhausted stage into its fallback result, so
// a stage failure degrades the answer instead of failing the turn.
type FallbackDecorator struct {
	stage    bankchat.Stage
	fallback Fallbacker
	logger   *slog.Logger
}

var _ bankchat.Stage = (*FallbackDecorator)(nil)

// NewFallbackDecorator wraps stage; fallback supplies the degraded result.
func NewFallbackDecorator(stage bankchat.Stage, fallback Fallbacker, logger *slog.Logger) *FallbackDecorator {
	return &FallbackDecorator{stage: stage, fallback: fallback, logger: logger}
}

// Name returns the name of the underlying stage.
func (f *FallbackDecorator) Name() string {
	return f.stage.Name()
}

// Execute runs the stage and absorbs its error. Parent-context cancellation
// is the one error passed through: the caller is gone, a degraded answer
// helps nobody.
func (f *FallbackDecorator) Execute(ctx context.Context, in bankchat.Fields, pctx *bankchat.PipelineContext) (bankchat.StageResult, error) {
	result, err := f.stage.Execute(ctx, in, pctx)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return bankchat.StageResult{}, ctx.Err()
	}

	f.logger.Error("stage exhausted, using fallback result",
		"stage", f.stage.Name(), "error", err)
	return f.fallback.Fallback(in, pctx), nil
}
