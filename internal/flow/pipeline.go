package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/DMPipe/internal/genai"
)

// Stage identifies one node of the pipeline state machine.
type Stage string

// Pipeline stages
const (
	StageStart    Stage = "start"
	StageClassify Stage = "classify"
	StageTools    Stage = "tools"
	StageGenerate Stage = "generate"
	StageError    Stage = "error"
	StageEnd      Stage = "end"
)

// ToolAdapter defines the e-commerce lookups available to the tool stage.
// Implementations must return customer-safe text and never fail.
type ToolAdapter interface {
	GetProductInfo(ctx context.Context, productName string) string
	CheckOrderStatus(ctx context.Context, orderID string) string
}

// stageFunc executes one unit of pipeline work against an immutable state.
type stageFunc func(ctx context.Context, s State) Update

// Pipeline is the compiled stage graph. It is read-only after construction
// and safe for concurrent reuse across runs.
type Pipeline struct {
	llm    genai.ClientInterface
	tools  ToolAdapter
	stages map[Stage]stageFunc
}

// NewPipeline compiles the stage graph with the given node bindings.
func NewPipeline(llm genai.ClientInterface, tools ToolAdapter) *Pipeline {
	p := &Pipeline{llm: llm, tools: tools}
	p.stages = map[Stage]stageFunc{
		StageClassify: p.classifyIntent,
		StageTools:    p.callTools,
		StageGenerate: p.generateResponse,
		StageError:    p.handleError,
	}
	slog.Debug("flow.NewPipeline: pipeline compiled")
	return p
}

// nextStage is the transition table of the state machine. Routing inspects
// only the error field and the classified intent.
func nextStage(current Stage, s State) Stage {
	switch current {
	case StageStart:
		return StageClassify
	case StageClassify:
		if s.Error != "" {
			return StageError
		}
		if s.Intent.RequiresTools() {
			return StageTools
		}
		return StageGenerate
	case StageTools:
		if s.Error != "" {
			return StageError
		}
		return StageGenerate
	case StageGenerate, StageError:
		return StageEnd
	default:
		return StageEnd
	}
}

// Run executes the pipeline to completion for one inbound message. Stage
// execution is strictly ordered; each stage's partial update is merged
// before routing decides the next stage.
func (p *Pipeline) Run(ctx context.Context, s State) State {
	current := nextStage(StageStart, s)
	for current != StageEnd {
		fn, ok := p.stages[current]
		if !ok {
			slog.Error("flow.Run: no stage bound for node", "stage", current)
			break
		}
		slog.Debug("flow.Run: executing stage", "stage", current, "senderID", s.SenderID)
		s = s.Apply(fn(ctx, s))
		current = nextStage(current, s)
	}
	return s
}
