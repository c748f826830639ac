package assistant

import (
	"fmt"
	"strings"
)

// FirstMessageMode controls who speaks first on a new call.
type FirstMessageMode string

const (
	ModeAssistantSpeaksFirst  FirstMessageMode = "assistant-speaks-first"
	ModeAssistantWaitsForUser FirstMessageMode = "assistant-waits-for-user"
)

// ModelConfig selects the LLM provider for an assistant.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// VoiceConfig selects the TTS provider and voice.
type VoiceConfig struct {
	Provider string         `mapstructure:"provider"`
	VoiceID  string         `mapstructure:"voice_id"`
	Settings map[string]any `mapstructure:"settings"`
}

// TranscriberConfig selects the STT provider.
type TranscriberConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

// Assistant is the resolved, read-only configuration the engine receives for
// a call. The control surface owns CRUD; the engine only consumes.
type Assistant struct {
	ID                     string            `mapstructure:"id"`
	Name                   string            `mapstructure:"name"`
	SystemPrompt           string            `mapstructure:"system_prompt"`
	FirstMessage           string            `mapstructure:"first_message"`
	FirstMessageMode       FirstMessageMode  `mapstructure:"first_message_mode"`
	Model                  ModelConfig       `mapstructure:"model"`
	Voice                  VoiceConfig       `mapstructure:"voice"`
	Transcriber            TranscriberConfig `mapstructure:"transcriber"`
	InterruptionEnabled    bool              `mapstructure:"interruption_enabled"`
	SilenceTimeoutMS       int               `mapstructure:"silence_timeout_ms"`
	MaxCallDurationSec     int               `mapstructure:"max_call_duration_sec"`
	EndpointingSensitivity float64           `mapstructure:"endpointing_sensitivity"`
	EndCallEnabled         bool              `mapstructure:"end_call_enabled"`
	Tools                  []Tool            `mapstructure:"tools"`
}

// Validate checks the invariants the engine relies on.
func (a *Assistant) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("assistant id is required")
	}
	if a.Model.Provider == "" {
		return fmt.Errorf("assistant %s: model.provider is required", a.ID)
	}
	if a.Voice.Provider == "" {
		return fmt.Errorf("assistant %s: voice.provider is required", a.ID)
	}
	if a.Transcriber.Provider == "" {
		return fmt.Errorf("assistant %s: transcriber.provider is required", a.ID)
	}
	if a.EndpointingSensitivity < 0 || a.EndpointingSensitivity > 1 {
		return fmt.Errorf("assistant %s: endpointing_sensitivity must be in [0,1]", a.ID)
	}
	switch a.FirstMessageMode {
	case "", ModeAssistantSpeaksFirst, ModeAssistantWaitsForUser:
	default:
		return fmt.Errorf("assistant %s: unknown first_message_mode %q", a.ID, a.FirstMessageMode)
	}
	for i := range a.Tools {
		if err := a.Tools[i].Validate(); err != nil {
			return fmt.Errorf("assistant %s: %w", a.ID, err)
		}
	}
	return nil
}

// SpeaksFirst reports whether the assistant opens the call.
func (a *Assistant) SpeaksFirst() bool {
	return a.FirstMessage != "" && a.FirstMessageMode != ModeAssistantWaitsForUser
}
