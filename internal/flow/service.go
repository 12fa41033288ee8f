package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/DMPipe/internal/genai"
	"github.com/BTreeMap/DMPipe/internal/models"
)

// unableToGenerate is the last-resort response text when a terminal state
// somehow carries no response. The stages guarantee one, so this is defensive.
const unableToGenerate = "Unable to generate response"

// ProcessingError wraps a failure that escaped the pipeline stages. Callers
// can use it to choose a last-resort behavior (e.g., a generic handoff
// message) instead of leaving the customer unanswered.
type ProcessingError struct {
	Cause error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("failed to process message: %v", e.Cause)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Service is the entry point to the message pipeline. It owns the compiled
// pipeline, building it lazily on first use and caching it; Reset discards
// the cached build so the next run recompiles from current node bindings.
type Service struct {
	llm   genai.ClientInterface
	tools ToolAdapter

	mu       sync.Mutex
	pipeline *Pipeline
}

// NewService creates a pipeline entry service with the given dependencies.
func NewService(llm genai.ClientInterface, tools ToolAdapter) *Service {
	slog.Debug("flow.NewService: creating service")
	return &Service{llm: llm, tools: tools}
}

// getPipeline returns the cached compiled pipeline, building it on first use.
func (s *Service) getPipeline() *Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline == nil {
		slog.Info("flow.Service: compiling pipeline")
		s.pipeline = NewPipeline(s.llm, s.tools)
	}
	return s.pipeline
}

// Reset discards the cached pipeline so the next invocation rebuilds it.
// In-flight runs keep the reference they already hold.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipeline = nil
	slog.Info("flow.Service: pipeline reset")
}

// Process runs one inbound message through the pipeline and maps the
// terminal state to a response. history carries prior turns for multi-turn
// conversations; pass nil for first contact.
//
// The stages recover their own failures, so Process normally succeeds even
// when every external call fails; anything that still escapes is returned
// as a *ProcessingError.
func (s *Service) Process(ctx context.Context, req models.ProcessRequest, history []models.ConversationMessage) (resp models.ProcessResponse, err error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("flow.Service.Process: pipeline panicked", "panic", r, "senderID", req.SenderID)
			err = &ProcessingError{Cause: fmt.Errorf("pipeline panic: %v", r)}
		}
	}()

	if verr := req.Validate(); verr != nil {
		return models.ProcessResponse{}, &ProcessingError{Cause: verr}
	}

	initial := State{
		SenderID:       req.SenderID,
		RecipientID:    req.RecipientID,
		CurrentMessage: req.MessageText,
		History:        history,
	}

	result := s.getPipeline().Run(ctx, initial)

	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	responseText := result.Response
	if responseText == "" {
		responseText = unableToGenerate
	}
	intent := result.Intent
	if intent == "" {
		intent = models.IntentUnknown
	}

	slog.Info("flow.Service.Process: processed message",
		"senderID", req.SenderID,
		"messageID", req.MessageID,
		"intent", intent,
		"historyLen", len(history),
		"durationMs", elapsed,
		"pipelineError", result.Error)

	return models.ProcessResponse{
		ResponseText:     responseText,
		Intent:           intent,
		Confidence:       result.Confidence,
		ProcessingTimeMs: elapsed,
	}, nil
}
