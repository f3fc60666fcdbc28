// Package middleware provides stage decorators for the execution policies
// every stage shares: per-call timeout, retry with exponential backoff, and
// degradation to the stage's configured fallback result.
package middleware

import (
	"context"
	"time"

	"github.com/bankchat/bankchat-go/bankchat"
)

// RetryConfig configures retry behavior for transient stage failures.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Each retry
	// doubles it. Default: 200ms
	InitialBackoff time.Duration

	// MaxBackoff caps the doubled delay. Default: 5s
	MaxBackoff time.Duration
}

// RetryDecorator retries a stage on transient failures.
//
// Only call errors reach the decorator: stages absorb parse failures
// themselves, because re-asking the model for the same reply would not make
// it parseable, while a failed call is usually a provider hiccup worth
// retrying.
type RetryDecorator struct {
	stage  bankchat.Stage
	config RetryConfig
}

var _ bankchat.Stage = (*RetryDecorator)(nil)

// NewRetryDecorator wraps stage with retry logic.
func NewRetryDecorator(stage bankchat.Stage, config RetryConfig) *RetryDecorator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 200 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 5 * time.Second
	}
	return &RetryDecorator{stage: stage, config: config}
}

// Name returns the name of the underlying stage.
func (r *RetryDecorator) Name() string {
	return r.stage.Name()
}

// Execute runs the stage, retrying failed attempts with capped exponential
// backoff. When the budget is exhausted the last error is returned wrapped
// in a *bankchat.StageCallError.
func (r *RetryDecorator) Execute(ctx context.Context, in bankchat.Fields, pctx *bankchat.PipelineContext) (bankchat.StageResult, error) {
	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		result, err := r.stage.Execute(ctx, in, pctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == r.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return bankchat.StageResult{}, &bankchat.StageCallError{
				Stage:   r.stage.Name(),
				Attempt: attempt,
				Err:     ctx.Err(),
			}
		case <-time.After(backoff):
			backoff *= 2
			if backoff > r.config.MaxBackoff {
				backoff = r.config.MaxBackoff
			}
		}
	}

	return bankchat.StageResult{}, &bankchat.StageCallError{
		Stage:   r.stage.Name(),
		Attempt: r.config.MaxAttempts,
		Err:     lastErr,
	}
}
