package stt

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/adiwarsito/svara/pkg/errorsx"
	"github.com/adiwarsito/svara/pkg/logging"

	listenapi "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Deepgram transcribes buffered utterances through the prerecorded REST API.
type Deepgram struct {
	cfg    Config
	api    *listenapi.Client
	logger *slog.Logger
}

func NewDeepgram(cfg Config) *Deepgram {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	rest := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Deepgram{
		cfg:    cfg,
		api:    listenapi.New(rest),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (d *Deepgram) Name() string { return "deepgram" }

func (d *Deepgram) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.cfg.Model,
		Language:    d.cfg.Language,
		Encoding:    "linear16",
		SampleRate:  d.cfg.SampleRate,
		SmartFormat: true,
		Punctuate:   true,
	}
	res, err := d.api.FromStream(ctx, bytes.NewReader(pcm), options)
	if err != nil {
		d.logger.Error("deepgram_transcribe_failed", slog.String("error", err.Error()))
		return "", errorsx.Provider(err, errorsx.ReasonSTTRequest)
	}
	if res == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return "", errorsx.Provider(errors.New("empty deepgram response"), errorsx.ReasonSTTRequest)
	}
	transcript := res.Results.Channels[0].Alternatives[0].Transcript
	d.logger.Debug("transcript_received",
		slog.Int("audio_bytes", len(pcm)),
		slog.String("transcript", transcript))
	return transcript, nil
}

var _ Transcriber = (*Deepgram)(nil)
