package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adiwarsito/svara/pkg/errorsx"
)

func TestElevenLabsSynthesize(t *testing.T) {
	pcm := make([]byte, 4800)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key-1" {
			t.Errorf("missing api key header")
		}
		if r.URL.Query().Get("output_format") != "pcm_24000" {
			t.Errorf("expected pcm_24000 output format, got %q", r.URL.Query().Get("output_format"))
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if payload["text"] != "hello there" {
			t.Errorf("unexpected text %v", payload["text"])
		}
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	s := NewElevenLabs(Config{APIKey: "key-1", VoiceID: "v1"})
	s.BaseURL = srv.URL
	out, err := s.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("synthesize error: %v", err)
	}
	if len(out) != len(pcm) {
		t.Fatalf("expected %d bytes, got %d", len(pcm), len(out))
	}
}

func TestElevenLabsNon2xxIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewElevenLabs(Config{APIKey: "k", VoiceID: "v"})
	s.BaseURL = srv.URL
	_, err := s.Synthesize(context.Background(), "hi")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errorsx.HasKind(err, errorsx.KindProvider) {
		t.Fatalf("expected provider kind, got %v", errorsx.KindOf(err))
	}
}

func TestCartesiaResamplesToEgressRate(t *testing.T) {
	native := make([]byte, 3200) // 100ms at 16kHz
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "key-2" {
			t.Errorf("missing api key header")
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		format, _ := payload["output_format"].(map[string]any)
		if format["encoding"] != "pcm_s16le" {
			t.Errorf("unexpected encoding %v", format["encoding"])
		}
		_, _ = w.Write(native)
	}))
	defer srv.Close()

	s := NewCartesia(Config{APIKey: "key-2", VoiceID: "v2"})
	s.BaseURL = srv.URL
	out, err := s.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize error: %v", err)
	}
	wantBytes := len(native) * 24000 / 16000
	if len(out) != wantBytes {
		t.Fatalf("expected %d bytes after resample, got %d", wantBytes, len(out))
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	s := NewElevenLabs(Config{APIKey: "k", VoiceID: "v"})
	s.BaseURL = "http://127.0.0.1:1" // must not be reached
	out, err := s.Synthesize(context.Background(), "")
	if err != nil || out != nil {
		t.Fatalf("expected no-op for empty text")
	}
}

func TestFactoryUnknownProvider(t *testing.T) {
	if _, err := New("speakeasy", Config{}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
