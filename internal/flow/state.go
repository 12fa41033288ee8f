// Package flow implements the message-processing pipeline that turns one
// inbound DM into one outbound reply: intent classification, conditional
// e-commerce tool invocation, response generation, and error handling.
package flow

import (
	"github.com/BTreeMap/DMPipe/internal/models"
)

// State is the pipeline state threaded through the stages of one run.
//
// A State is created fresh per inbound message and never mutated in place:
// each stage returns an Update and the orchestrator merges it into a new
// State value.
type State struct {
	SenderID    string
	RecipientID string

	// CurrentMessage is the inbound text being processed this run.
	CurrentMessage string

	// Intent and Confidence are set together by the classification stage.
	Intent     models.MessageIntent
	Confidence float64

	// History holds prior turns, supplied by the caller. The generation
	// stage appends the new user/assistant exchange.
	History []models.ConversationMessage

	// ToolResults holds textual results from tool invocation; empty when
	// no tool ran.
	ToolResults []string

	// Response is the generated reply text.
	Response string

	// Error is a diagnostic set by a failing stage; a non-empty value
	// routes the run to the error-handling stage.
	Error string
}

// Update is a partial state update returned by a pipeline stage. Nil fields
// leave the corresponding State field unchanged; for Error, a pointer to the
// empty string explicitly clears a prior diagnostic.
type Update struct {
	Intent      *models.MessageIntent
	Confidence  *float64
	History     []models.ConversationMessage
	ToolResults []string
	Response    *string
	Error       *string
}

// Apply merges an Update into the State, returning a new State value.
// Unset update fields retain their previous value.
func (s State) Apply(u Update) State {
	if u.Intent != nil {
		s.Intent = *u.Intent
	}
	if u.Confidence != nil {
		s.Confidence = *u.Confidence
	}
	if u.History != nil {
		s.History = u.History
	}
	if u.ToolResults != nil {
		s.ToolResults = u.ToolResults
	}
	if u.Response != nil {
		s.Response = *u.Response
	}
	if u.Error != nil {
		s.Error = *u.Error
	}
	return s
}

func intentPtr(i models.MessageIntent) *models.MessageIntent { return &i }
func floatPtr(f float64) *float64                            { return &f }
func strPtr(s string) *string                                { return &s }

// clearedError marks a stage result as error-free so downstream routing does
// not mistake a prior diagnostic for a current one.
func clearedError() *string { return strPtr("") }
