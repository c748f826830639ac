package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/adiwarsito/svara/pkg/configutil"
	"github.com/adiwarsito/svara/pkg/errorsx"
)

type elevenLabsSettings struct {
	Stability       float64 `mapstructure:"stability"`
	SimilarityBoost float64 `mapstructure:"similarity_boost"`
	ModelID         string  `mapstructure:"model_id"`
}

// ElevenLabs synthesizes through the streaming HTTP endpoint with a raw PCM
// output format matching the engine egress rate.
type ElevenLabs struct {
	cfg      Config
	settings elevenLabsSettings
	BaseURL  string
	Client   *http.Client
}

func NewElevenLabs(cfg Config) *ElevenLabs {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	settings := elevenLabsSettings{Stability: 0.5, SimilarityBoost: 0.8, ModelID: "eleven_turbo_v2_5"}
	if err := configutil.DecodeSettings(cfg.Settings, &settings); err != nil {
		slog.Warn("elevenlabs_settings_decode_failed", "error", err.Error())
	}
	if cfg.ModelID != "" {
		settings.ModelID = cfg.ModelID
	}
	return &ElevenLabs{
		cfg:      cfg,
		settings: settings,
		BaseURL:  "https://api.elevenlabs.io/v1",
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	payload := map[string]any{
		"text":     text,
		"model_id": e.settings.ModelID,
		"voice_settings": map[string]any{
			"stability":        e.settings.Stability,
			"similarity_boost": e.settings.SimilarityBoost,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := e.BaseURL + "/text-to-speech/" + e.cfg.VoiceID + "/stream?output_format=pcm_24000"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, errorsx.Provider(err, errorsx.ReasonTTSRequest)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errorsx.Provider(errors.New(string(raw)), errorsx.ReasonTTSRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errorsx.Provider(errors.New(string(raw)), errorsx.ReasonTTSRequest)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Provider(err, errorsx.ReasonTTSRequest)
	}
	return audio, nil
}

var _ Synthesizer = (*ElevenLabs)(nil)
