package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/bankchat/bankchat-go/bankchat"
)

// TimeoutError is returned when a stage attempt exceeds its configured
// timeout. The retry decorator treats it like any other transient failure.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %v", e.Stage, e.Timeout)
}

// TimeoutDecorator bounds each stage attempt independently of the overall
// turn deadline, so one slow provider cannot eat the whole turn budget.
type TimeoutDecorator struct {
	stage   bankchat.Stage
	timeout time.Duration
}

var _ bankchat.Stage = (*TimeoutDecorator)(nil)

// NewTimeoutDecorator wraps stage with a per-attempt timeout.
func NewTimeoutDecorator(stage bankchat.Stage, timeout time.Duration) *TimeoutDecorator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TimeoutDecorator{stage: stage, timeout: timeout}
}

// Name returns the name of the underlying stage.
func (t *TimeoutDecorator) Name() string {
	return t.stage.Name()
}

// Execute runs the stage attempt under a deadline. The stage runs in its own
// goroutine so a provider call that ignores context cancellation still
// cannot hold the attempt open past the deadline.
func (t *TimeoutDecorator) Execute(ctx context.Context, in bankchat.Fields, pctx *bankchat.PipelineContext) (bankchat.StageResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type outcome struct {
		result bankchat.StageResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := t.stage.Execute(attemptCtx, in, pctx)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && attemptCtx.Err() == context.DeadlineExceeded {
			return bankchat.StageResult{}, &TimeoutError{Stage: t.stage.Name(), Timeout: t.timeout}
		}
		return out.result, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return bankchat.StageResult{}, ctx.Err()
		}
		return bankchat.StageResult{}, &TimeoutError{Stage: t.stage.Name(), Timeout: t.timeout}
	}
}
