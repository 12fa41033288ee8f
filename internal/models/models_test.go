package models

import (
	"errors"
	"strings"
	"testing"
)

func TestParseIntent(t *testing.T) {
	valid := []string{"product_inquiry", "order_status", "general_question", "greeting", "unknown"}
	for _, name := range valid {
		intent, err := ParseIntent(name)
		if err != nil {
			t.Errorf("ParseIntent(%q) returned error: %v", name, err)
		}
		if string(intent) != name {
			t.Errorf("ParseIntent(%q) = %q", name, intent)
		}
	}

	for _, name := range []string{"", "refund", "PRODUCT_INQUIRY", "order status"} {
		intent, err := ParseIntent(name)
		if !errors.Is(err, ErrInvalidIntent) {
			t.Errorf("ParseIntent(%q) expected ErrInvalidIntent, got %v", name, err)
		}
		if intent != IntentUnknown {
			t.Errorf("ParseIntent(%q) expected unknown fallback, got %q", name, intent)
		}
	}
}

func TestRequiresTools(t *testing.T) {
	cases := map[MessageIntent]bool{
		IntentProductInquiry:  true,
		IntentOrderStatus:     true,
		IntentGeneralQuestion: false,
		IntentGreeting:        false,
		IntentUnknown:         false,
	}
	for intent, want := range cases {
		if got := intent.RequiresTools(); got != want {
			t.Errorf("%s.RequiresTools() = %v, want %v", intent, got, want)
		}
	}
}

func TestProcessRequestValidate(t *testing.T) {
	valid := ProcessRequest{SenderID: "user1", RecipientID: "page1", MessageText: "hi"}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}

	cases := []struct {
		name string
		req  ProcessRequest
		want error
	}{
		{"missing sender", ProcessRequest{RecipientID: "page1", MessageText: "hi"}, ErrEmptySenderID},
		{"missing recipient", ProcessRequest{SenderID: "user1", MessageText: "hi"}, ErrEmptyRecipientID},
		{"missing text", ProcessRequest{SenderID: "user1", RecipientID: "page1"}, ErrEmptyMessageText},
		{"text too long", ProcessRequest{SenderID: "user1", RecipientID: "page1", MessageText: strings.Repeat("x", MaxMessageTextLength+1)}, ErrMessageTooLong},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if err := c.req.Validate(); !errors.Is(err, c.want) {
				t.Errorf("expected %v, got %v", c.want, err)
			}
		})
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	ok := Success(map[string]int{"n": 1})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success envelope: %+v", ok)
	}

	withMsg := SuccessWithMessage("done", nil)
	if withMsg.Status != string(APIStatusOK) || withMsg.Message != "done" {
		t.Errorf("unexpected envelope: %+v", withMsg)
	}

	fail := Error("bad input")
	if fail.Status != string(APIStatusError) || fail.Message != "bad input" {
		t.Errorf("unexpected error envelope: %+v", fail)
	}
}
