// Package mock provides scripted provider fakes for tests and local runs
// without vendor credentials.
package mock

import (
	"context"
	"sync"

	"github.com/adiwarsito/svara/pkg/providers/llm"
)

// STT returns scripted transcripts in order, then the final one forever.
type STT struct {
	mu          sync.Mutex
	Transcripts []string
	Err         error
	Calls       int
}

func (s *STT) Name() string { return "mock_stt" }

func (s *STT) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Transcripts) == 0 {
		return "", nil
	}
	idx := s.Calls - 1
	if idx >= len(s.Transcripts) {
		idx = len(s.Transcripts) - 1
	}
	return s.Transcripts[idx], nil
}

// LLM returns scripted responses in order, then the final one forever.
type LLM struct {
	mu        sync.Mutex
	Responses []llm.Response
	Err       error
	Calls     int
	Seen      [][]llm.Message
}

func (l *LLM) Name() string { return "mock_llm" }

func (l *LLM) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Response, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Calls++
	history := make([]llm.Message, len(messages))
	copy(history, messages)
	l.Seen = append(l.Seen, history)
	if l.Err != nil {
		return llm.Response{}, l.Err
	}
	if len(l.Responses) == 0 {
		return llm.Response{}, nil
	}
	idx := l.Calls - 1
	if idx >= len(l.Responses) {
		idx = len(l.Responses) - 1
	}
	return l.Responses[idx], nil
}

// TTS returns a fixed audio payload for every synthesis.
type TTS struct {
	mu    sync.Mutex
	Audio []byte
	Err   error
	Calls int
	Texts []string
}

func (t *TTS) Name() string { return "mock_tts" }

func (t *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls++
	t.Texts = append(t.Texts, text)
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Audio != nil {
		return t.Audio, nil
	}
	return make([]byte, 480), nil
}
