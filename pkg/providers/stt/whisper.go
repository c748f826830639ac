package stt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/adiwarsito/svara/pkg/errorsx"
)

// Whisper transcribes through OpenAI's audio transcriptions endpoint. The raw
// PCM is wrapped in a minimal WAV container because the endpoint requires one.
type Whisper struct {
	cfg     Config
	BaseURL string
	Client  *http.Client
}

func NewWhisper(cfg Config) *Whisper {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	return &Whisper{
		cfg:     cfg,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *Whisper) Name() string { return "whisper" }

func (w *Whisper) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wavContainer(pcm, w.cfg.SampleRate)); err != nil {
		return "", err
	}
	_ = mw.WriteField("model", w.cfg.Model)
	if w.cfg.Language != "" {
		_ = mw.WriteField("language", w.cfg.Language)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	resp, err := w.Client.Do(req)
	if err != nil {
		return "", errorsx.Provider(err, errorsx.ReasonSTTRequest)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(resp.Body)
		return "", errorsx.Provider(errors.New(string(raw)), errorsx.ReasonSTTRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", errorsx.Provider(errors.New(string(raw)), errorsx.ReasonSTTRequest)
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errorsx.Provider(err, errorsx.ReasonSTTRequest)
	}
	return payload.Text, nil
}

// wavContainer prepends a 44-byte RIFF header for 16-bit mono PCM.
func wavContainer(pcm []byte, sampleRate int) []byte {
	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:], 1) // mono
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(out[32:], 2)
	binary.LittleEndian.PutUint16(out[34:], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

var _ Transcriber = (*Whisper)(nil)
