package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/adiwarsito/svara/pkg/audio"
	"github.com/adiwarsito/svara/pkg/errorsx"
)

const cartesiaNativeRate = 16000

// Cartesia synthesizes through the bytes endpoint. Its PCM path runs at
// 16kHz, so output is resampled to the engine egress rate here rather than
// pushing a second sample rate onto clients.
type Cartesia struct {
	cfg     Config
	BaseURL string
	Client  *http.Client
}

func NewCartesia(cfg Config) *Cartesia {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "sonic-english"
	}
	return &Cartesia{
		cfg:     cfg,
		BaseURL: "https://api.cartesia.ai",
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Cartesia) Name() string { return "cartesia" }

func (c *Cartesia) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	payload := map[string]any{
		"model_id":   c.cfg.ModelID,
		"transcript": text,
		"voice":      map[string]any{"mode": "id", "id": c.cfg.VoiceID},
		"output_format": map[string]any{
			"container":   "raw",
			"encoding":    "pcm_s16le",
			"sample_rate": cartesiaNativeRate,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	req.Header.Set("Cartesia-Version", "2024-06-10")
	resp, err := c.Client.Do(req)
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
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorsx.Provider(err, errorsx.ReasonTTSRequest)
	}
	return audio.Resample(raw, cartesiaNativeRate, c.cfg.SampleRate), nil
}

var _ Synthesizer = (*Cartesia)(nil)
