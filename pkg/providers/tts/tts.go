package tts

import (
	"context"
	"fmt"
	"strings"

	"github.com/adiwarsito/svara/pkg/assistant"
)

// Synthesizer is the TTS provider contract. Output is linear PCM, 16-bit
// little-endian mono at the engine egress rate (24kHz); adapters whose vendor
// synthesizes at another rate resample before returning.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config carries per-assistant voice settings plus credentials.
type Config struct {
	APIKey     string
	VoiceID    string
	ModelID    string
	SampleRate int
	Settings   map[string]any
}

// New builds a synthesizer for the named provider.
func New(provider string, cfg Config) (Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "elevenlabs":
		return NewElevenLabs(cfg), nil
	case "cartesia":
		return NewCartesia(cfg), nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", provider)
	}
}

// FromAssistant resolves the synthesizer for an assistant's voice config.
func FromAssistant(a *assistant.Assistant, apiKey string, sampleRate int) (Synthesizer, error) {
	return New(a.Voice.Provider, Config{
		APIKey:     apiKey,
		VoiceID:    a.Voice.VoiceID,
		SampleRate: sampleRate,
		Settings:   a.Voice.Settings,
	})
}
