package assistant

import (
	"encoding/json"
	"testing"
)

func validAssistant() Assistant {
	return Assistant{
		ID:           "asst-1",
		SystemPrompt: "You are helpful.",
		Model:        ModelConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Voice:        VoiceConfig{Provider: "elevenlabs", VoiceID: "v1"},
		Transcriber:  TranscriberConfig{Provider: "deepgram"},
	}
}

func TestAssistantValidate(t *testing.T) {
	a := validAssistant()
	if err := a.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missing := a
	missing.ID = ""
	if err := missing.Validate(); err == nil {
		t.Fatalf("expected error for missing id")
	}

	badSens := a
	badSens.EndpointingSensitivity = 1.5
	if err := badSens.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range sensitivity")
	}
}

func TestSpeaksFirst(t *testing.T) {
	a := validAssistant()
	a.FirstMessage = "Hi."
	if !a.SpeaksFirst() {
		t.Fatalf("expected assistant-speaks-first default")
	}
	a.FirstMessageMode = ModeAssistantWaitsForUser
	if a.SpeaksFirst() {
		t.Fatalf("expected waits-for-user to suppress first message")
	}
	a.FirstMessage = ""
	a.FirstMessageMode = ModeAssistantSpeaksFirst
	if a.SpeaksFirst() {
		t.Fatalf("expected empty first message to suppress")
	}
}

func TestToolValidate(t *testing.T) {
	fn := Tool{
		Kind:       ToolFunction,
		Name:       "lookup_order",
		ServerURL:  "https://tools.example.com/hook",
		Parameters: json.RawMessage(`{"type":"object","properties":{"order_id":{"type":"string"}}}`),
	}
	if err := fn.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	badSchema := fn
	badSchema.Parameters = json.RawMessage(`{"type":"array"}`)
	if err := badSchema.Validate(); err == nil {
		t.Fatalf("expected error for non-object schema")
	}

	noURL := fn
	noURL.ServerURL = ""
	if err := noURL.Validate(); err == nil {
		t.Fatalf("expected error for missing server_url")
	}

	transfer := Tool{Kind: ToolTransfer, Destinations: []string{"+15551234"}}
	if err := transfer.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	transfer.Destinations = nil
	if err := transfer.Validate(); err == nil {
		t.Fatalf("expected error for transfer without destinations")
	}

	query := Tool{Kind: ToolQuery}
	if err := query.Validate(); err == nil {
		t.Fatalf("expected error for query without knowledge base")
	}

	if err := (&Tool{Kind: ToolEndCall}).Validate(); err != nil {
		t.Fatalf("unexpected error for endCall: %v", err)
	}
}
