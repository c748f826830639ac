package svara

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adiwarsito/svara/pkg/audio"
	"github.com/adiwarsito/svara/pkg/errorsx"
	"github.com/adiwarsito/svara/pkg/knowledge"
	"github.com/adiwarsito/svara/pkg/logging"
	"github.com/adiwarsito/svara/pkg/providers/llm"
	"github.com/adiwarsito/svara/pkg/providers/stt"
	"github.com/adiwarsito/svara/pkg/providers/tts"
	"github.com/adiwarsito/svara/pkg/session"
	"github.com/adiwarsito/svara/pkg/store"
	twilioadapter "github.com/adiwarsito/svara/pkg/telephony/twilio"
	"github.com/adiwarsito/svara/pkg/tools"
	"github.com/adiwarsito/svara/pkg/transport"
)

// Engine assembles the per-call session machinery behind one HTTP server:
// the media WebSocket, the telephony webhooks, and the call lifecycle API.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	store    store.Store
	rdb      *redis.Client
	tokens   *transport.TokenManager
	registry *session.Registry
	twilio   *twilioadapter.Adapter
	retrieve knowledge.Retriever
	server   *http.Server
}

func New(cfg Config) (*Engine, error) {
	logger := logging.Init(cfg.LogLevel)

	var st store.Store
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect store: %w", err)
		}
		st = pg
	} else {
		logger.Warn("no_database_url", "note", "using in-memory store; calls will not persist")
		st = store.NewMemory()
	}
	return NewWithStore(cfg, st)
}

// NewWithStore wires an engine around an existing store (tests inject the
// in-memory store here).
func NewWithStore(cfg Config, st store.Store) (*Engine, error) {
	logger := logging.NewComponentLogger(slog.Default(), "engine")

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
	}

	var retriever knowledge.Retriever
	if cfg.Knowledge.QdrantURL != "" && cfg.Credentials.OpenAI != "" {
		q, err := knowledge.NewQdrant(knowledge.QdrantConfig{
			URL:    cfg.Knowledge.QdrantURL,
			APIKey: cfg.Knowledge.QdrantAPIKey,
		}, knowledge.NewOpenAIEmbedder(cfg.Credentials.OpenAI))
		if err != nil {
			logger.Warn("knowledge_unavailable", "error", err.Error())
		} else {
			retriever = q
		}
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		rdb:      rdb,
		tokens:   transport.NewTokenManager([]byte(cfg.Secrets.JWTSecret), transport.DefaultTokenTTL, rdb),
		registry: session.NewRegistry(),
		retrieve: retriever,
	}
	e.twilio = twilioadapter.NewAdapter(cfg.Twilio, st, e.tokens, e.registry, &e.cfg)
	return e, nil
}

// Handler builds the full route table.
func (e *Engine) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws/", transport.NewMediaServer(e.tokens, e, e.cfg.Server.CORSOrigin))
	e.twilio.Mount(mux, e)
	e.mountAPI(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return e.cors(mux)
}

// Run serves until ctx is cancelled, then drains live sessions.
func (e *Engine) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", e.cfg.Server.Host, e.cfg.Server.Port)
	e.server = &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           e.Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	e.logger.Info("engine_ready",
		slog.String("addr", addr),
		slog.Int("assistants", len(e.cfg.Assistants)))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	e.Shutdown(shutdownCtx)
	return nil
}

// Shutdown ends every live session, then closes the transport and the store.
func (e *Engine) Shutdown(ctx context.Context) {
	e.logger.Info("shutdown_started", slog.Int64("active_calls", e.registry.Count()))
	e.registry.Shutdown(ctx)
	if e.server != nil {
		_ = e.server.Shutdown(ctx)
	}
	e.store.Close()
	if e.rdb != nil {
		_ = e.rdb.Close()
	}
	e.logger.Info("shutdown_complete")
}

// Launch implements transport.Launcher: resolve the call and assistant,
// build the provider adapters, and start the session. Called once per
// accepted media connection.
func (e *Engine) Launch(callID string, sock session.Socket) (*session.Session, error) {
	call, err := e.store.GetCall(context.Background(), callID)
	if err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("call %s not found", callID), errorsx.KindNotFound, errorsx.ReasonUnknown)
	}
	switch call.Status {
	case store.StatusQueued, store.StatusRinging, store.StatusInProgress:
	default:
		return nil, errorsx.Wrap(fmt.Errorf("call %s already %s", callID, call.Status), errorsx.KindConflict, errorsx.ReasonUnknown)
	}
	asst, ok := e.cfg.AssistantByID(call.AssistantID)
	if !ok {
		return nil, errorsx.Wrap(fmt.Errorf("assistant %s not found", call.AssistantID), errorsx.KindNotFound, errorsx.ReasonUnknown)
	}

	transcriber, err := stt.FromAssistant(asst, e.cfg.Credentials.ForSTT(asst.Transcriber.Provider), audio.IngressSampleRate)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.KindValidation, errorsx.ReasonUnknown)
	}
	generator, err := llm.FromAssistant(asst, e.cfg.Credentials.ForLLM(asst.Model.Provider))
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.KindValidation, errorsx.ReasonUnknown)
	}
	synthesizer, err := tts.FromAssistant(asst, e.cfg.Credentials.ForTTS(asst.Voice.Provider), audio.EgressSampleRate)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.KindValidation, errorsx.ReasonUnknown)
	}

	opts := session.Options{
		CallID:        callID,
		OrgID:         call.OrgID,
		Assistant:     asst,
		Socket:        sock,
		Store:         e.store,
		STT:           transcriber,
		LLM:           generator,
		TTS:           synthesizer,
		Tools:         tools.NewExecutor(asst.Tools, tools.WithRetriever(e.retrieve)),
		RecordingsDir: e.cfg.RecordingsDir,
		OnEnd:         e.registry.Deregister,
	}
	if call.Kind != store.CallWeb {
		opts.Transfer = e.twilio.Transfer
		opts.DTMF = e.twilio.SendDTMF
	}

	sess := session.New(opts)
	if !e.registry.Register(sess) {
		return nil, errorsx.Wrap(fmt.Errorf("call %s already has a session", callID), errorsx.KindConflict, errorsx.ReasonUnknown)
	}
	if err := sess.Start(); err != nil {
		e.registry.Deregister(callID)
		return nil, err
	}
	return sess, nil
}

// Registry exposes the live-session map (tests and management).
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

func (e *Engine) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := e.cfg.Server.CORSOrigin; origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
