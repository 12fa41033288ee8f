package flow

import (
	"testing"

	"github.com/BTreeMap/DMPipe/internal/models"
)

func TestApply_UnsetFieldsRetainValues(t *testing.T) {
	s := State{
		SenderID:       "user1",
		CurrentMessage: "hi",
		Intent:         models.IntentGreeting,
		Confidence:     0.9,
		Response:       "hello",
		Error:          "old",
	}

	merged := s.Apply(Update{})

	if merged.SenderID != "user1" || merged.CurrentMessage != "hi" {
		t.Errorf("expected identity fields retained, got %+v", merged)
	}
	if merged.Intent != models.IntentGreeting || merged.Confidence != 0.9 || merged.Response != "hello" || merged.Error != "old" {
		t.Errorf("expected all fields retained, got %+v", merged)
	}
}

func TestApply_SetFieldsReplaceValues(t *testing.T) {
	s := State{Intent: models.IntentUnknown, Error: "old"}

	merged := s.Apply(Update{
		Intent:      intentPtr(models.IntentOrderStatus),
		Confidence:  floatPtr(0.8),
		ToolResults: []string{"result"},
		Response:    strPtr("done"),
		Error:       clearedError(),
	})

	if merged.Intent != models.IntentOrderStatus || merged.Confidence != 0.8 {
		t.Errorf("expected classification fields replaced, got %+v", merged)
	}
	if len(merged.ToolResults) != 1 || merged.ToolResults[0] != "result" {
		t.Errorf("expected tool results replaced, got %v", merged.ToolResults)
	}
	if merged.Response != "done" {
		t.Errorf("expected response replaced, got %q", merged.Response)
	}
	if merged.Error != "" {
		t.Errorf("expected error cleared, got %q", merged.Error)
	}
}

func TestApply_DoesNotMutateOriginal(t *testing.T) {
	s := State{Response: "before"}
	_ = s.Apply(Update{Response: strPtr("after")})
	if s.Response != "before" {
		t.Errorf("expected original state untouched, got %q", s.Response)
	}
}

func TestApply_EmptyToolResultsReplace(t *testing.T) {
	s := State{ToolResults: []string{"stale"}}
	merged := s.Apply(Update{ToolResults: []string{}})
	if len(merged.ToolResults) != 0 {
		t.Errorf("expected empty replacement, got %v", merged.ToolResults)
	}
}
