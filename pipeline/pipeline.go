// Package pipeline runs the configured stage graph for one chat turn.
//
// Stages chain through their declared successors starting from the entry
// stage. Each stage receives the merged fields of everything that ran before
// it, so a successor sees both its direct predecessor's output and the
// output of earlier stages. A turn never aborts on a stage failure; the
// decorators in the middleware package guarantee every stage yields a
// result, degraded or not.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bankchat/bankchat-go/bankchat"
	"github.com/bankchat/bankchat-go/observability"
)

// Result is the outcome of one pipeline run.
type Result struct {
	// Stages holds the stage results in execution order.
	Stages []bankchat.StageResult

	// Answer is set when a stage short-circuited the turn with a direct
	// response. Otherwise the answer is rendered from the terminal stage's
	// fields by the chat service.
	Answer string

	// ShortCircuit reports whether a stage completed the turn early.
	ShortCircuit bool

	// AllFallback reports that every executed stage degraded to its
	// defaults, meaning no model contributed anything to this turn.
	AllFallback bool
}

// Pipeline executes the stage graph.
type Pipeline struct {
	entry  string
	stages map[string]bankchat.Stage
	next   map[string][]string
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a pipeline over already-decorated stages. next declares the
// successor lists and entry the starting stage; both come from validated
// configuration, so every referenced stage is present in stages.
func New(entry string, stages map[string]bankchat.Stage, next map[string][]string, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		entry:  entry,
		stages: stages,
		next:   next,
		logger: logger,
		tracer: otel.Tracer("bankchat/pipeline"),
	}
}

// Run executes the graph for one turn. The only error it returns is
// context cancellation; every stage-level failure has already been degraded
// into a fallback result by the time it reaches the pipeline.
func (p *Pipeline) Run(ctx context.Context, pctx *bankchat.PipelineContext) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("session.id", pctx.SessionID)))
	defer span.End()

	result := &Result{AllFallback: true}
	carried := bankchat.Fields{"query": pctx.Query}
	visited := make(map[string]bool)

	queue := []string{p.entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			p.logger.Warn("stage already executed this turn, skipping", "stage", id)
			continue
		}
		visited[id] = true

		stageResult, err := p.runStage(ctx, id, carried, pctx)
		if err != nil {
			return nil, err
		}

		result.Stages = append(result.Stages, stageResult)
		if !stageResult.Fallback {
			result.AllFallback = false
		}
		carried = carried.Clone()
		carried.Merge(stageResult.Fields)

		if stageResult.ShortCircuit {
			result.ShortCircuit = true
			result.Answer = stageResult.Fields.String(bankchat.FieldDirectResponse)
			break
		}
		queue = append(queue, p.next[id]...)
	}

	return result, nil
}

func (p *Pipeline) runStage(ctx context.Context, id string, in bankchat.Fields, pctx *bankchat.PipelineContext) (bankchat.StageResult, error) {
	stage := p.stages[id]

	ctx, span := p.tracer.Start(ctx, "stage."+id)
	defer span.End()

	p.logger.Debug("stage input", "stage", id, "fields", in)
	start := time.Now()
	stageResult, err := stage.Execute(ctx, in, pctx)
	elapsed := time.Since(start)
	if err != nil {
		observability.ObserveStage(id, "cancelled", elapsed)
		return bankchat.StageResult{}, err
	}

	outcome := "ok"
	if stageResult.Fallback {
		outcome = "fallback"
	}
	observability.ObserveStage(id, outcome, elapsed)
	span.SetAttributes(
		attribute.Bool("stage.fallback", stageResult.Fallback),
		attribute.Bool("stage.short_circuit", stageResult.ShortCircuit),
	)
	p.logger.Info("stage completed",
		"stage", id,
		"outcome", outcome,
		"duration_ms", elapsed.Milliseconds())
	return stageResult, nil
}
