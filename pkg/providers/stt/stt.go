package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/adiwarsito/svara/pkg/assistant"
)

// Transcriber is the STT provider contract. Audio is linear PCM, 16-bit
// little-endian mono at the engine ingress rate (16kHz).
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Config carries per-assistant transcriber settings plus credentials.
type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
}

// New builds a transcriber for the named provider.
func New(provider string, cfg Config) (Transcriber, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "deepgram":
		return NewDeepgram(cfg), nil
	case "openai", "whisper":
		return NewWhisper(cfg), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", provider)
	}
}

// FromAssistant resolves the transcriber for an assistant's config.
func FromAssistant(a *assistant.Assistant, apiKey string, sampleRate int) (Transcriber, error) {
	return New(a.Transcriber.Provider, Config{
		APIKey:     apiKey,
		Model:      a.Transcriber.Model,
		Language:   a.Transcriber.Language,
		SampleRate: sampleRate,
	})
}
