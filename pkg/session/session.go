package session

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adiwarsito/svara/pkg/assistant"
	"github.com/adiwarsito/svara/pkg/audio"
	"github.com/adiwarsito/svara/pkg/events"
	"github.com/adiwarsito/svara/pkg/logging"
	"github.com/adiwarsito/svara/pkg/providers/llm"
	"github.com/adiwarsito/svara/pkg/providers/stt"
	"github.com/adiwarsito/svara/pkg/providers/tts"
	"github.com/adiwarsito/svara/pkg/store"
	"github.com/adiwarsito/svara/pkg/tools"
)

// Socket is the media channel the session owns: JSON events out, PCM audio
// out, with close driven by teardown. Implementations wrap a WebSocket or a
// carrier media bridge.
type Socket interface {
	SendEvent(env events.Envelope) error
	SendAudio(pcm []byte) error
	Close() error
}

// End reasons surfaced on call.ended and persisted to the call row.
const (
	ReasonClientRequest    = "client-request"
	ReasonClientDisconnect = "client-disconnect"
	ReasonAssistantEnded   = "assistant-ended"
	ReasonMaxDuration      = "max-duration"
	ReasonAPIRequest       = "api-request"
	ReasonServerShutdown   = "server-shutdown"
	ReasonFatalError       = "fatal-error"
)

const (
	// silenceTimeoutCap bounds conversational latency regardless of the
	// configured value; configured values below the cap are honored directly.
	silenceTimeoutCap     = 1200 * time.Millisecond
	defaultSilenceTimeout = 800 * time.Millisecond

	minPlaybackDelay  = 500 * time.Millisecond
	playbackTailDelay = 200 * time.Millisecond

	maxToolRounds = 4
	commandBuffer = 512
)

type cmdKind int

const (
	cmdAudio cmdKind = iota
	cmdControl
	cmdPlaybackDone
	cmdEnd
)

type command struct {
	kind    cmdKind
	audio   []byte
	control string
	sid     int64
	reason  string
}

// Options are the construction inputs for one call's session.
type Options struct {
	CallID    string
	OrgID     string
	Assistant *assistant.Assistant
	Socket    Socket
	Store     store.Store
	STT       stt.Transcriber
	LLM       llm.Generator
	TTS       tts.Synthesizer
	Tools     *tools.Executor
	// RecordingsDir receives the per-call PCM blobs on teardown.
	RecordingsDir string
	// OnEnd fires as the last step of teardown (registry deregistration).
	OnEnd func(callID string)
	// Transfer and DTMF are side channels into the telephony adapter; nil on
	// pure web calls.
	Transfer func(ctx context.Context, callID, destination string) error
	DTMF     func(ctx context.Context, callID, digits string) error
}

// Session orchestrates one call: VAD and endpointing over inbound frames,
// the STT, LLM, tool-loop, and TTS pipeline, event emission, persistence,
// recording, and teardown. All handlers run on a single actor goroutine; at most one of
// (audio frame | control | timer tick | end) is in flight at a time.
type Session struct {
	opts   Options
	asst   *assistant.Assistant
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan command
	done   chan struct{}

	fsm *stateMachine
	vad audio.VAD
	rec *Recorder

	// Actor-local turn state.
	history      []llm.Message
	inputBuf     bytes.Buffer
	isSpeaking   bool
	silenceStart time.Time
	synthID      int64
	ended        bool

	startTime time.Time
	maxTimer  *time.Timer

	// endReason keeps the first requested reason; later requests lose.
	endMu     sync.Mutex
	endReason string

	statsMu   sync.Mutex
	msgCount  int
	latSTT    []time.Duration
	latLLM    []time.Duration
	latTTS    []time.Duration
}

// New builds a session. The message history is seeded with the assistant's
// system prompt; providers are owned by the session and not shared.
func New(opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:   opts,
		asst:   opts.Assistant,
		logger: logging.NewComponentLogger(slog.Default(), "session").With(slog.String("call_id", opts.CallID)),
		ctx:    ctx,
		cancel: cancel,
		cmds:   make(chan command, commandBuffer),
		done:   make(chan struct{}),
		fsm:    newStateMachine(),
		vad:    audio.NewVAD(opts.Assistant.EndpointingSensitivity),
		rec:    NewRecorder(opts.RecordingsDir, opts.CallID),
	}
	s.history = append(s.history, llm.Message{Role: llm.RoleSystem, Content: opts.Assistant.SystemPrompt})
	return s
}

// Start marks the call in progress, launches the actor, and returns. Use
// Wait to block until the session-end signal fires.
func (s *Session) Start() error {
	s.startTime = time.Now()
	if err := s.opts.Store.MarkInProgress(s.ctx, s.opts.CallID, s.startTime); err != nil {
		s.logger.Error("call_mark_in_progress_failed", slog.String("error", err.Error()))
	}
	if s.asst.MaxCallDurationSec > 0 {
		s.maxTimer = time.AfterFunc(time.Duration(s.asst.MaxCallDurationSec)*time.Second, func() {
			s.End(ReasonMaxDuration)
		})
	}
	go s.run()
	return nil
}

// Wait blocks until teardown completes.
func (s *Session) Wait() {
	<-s.done
}

// Done exposes the completion signal.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// HandleAudio enqueues one inbound PCM frame. Frames are processed in
// arrival order; a full queue drops the frame rather than blocking the
// transport reader.
func (s *Session) HandleAudio(frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	s.enqueue(command{kind: cmdAudio, audio: buf})
}

// HandleControl enqueues a client control message ("end", "interrupt",
// "config").
func (s *Session) HandleControl(typ string) {
	s.enqueue(command{kind: cmdControl, control: typ})
}

// End requests teardown with the given reason. Idempotent: the first reason
// wins and exactly one call.ended is emitted.
func (s *Session) End(reason string) {
	s.endMu.Lock()
	if s.endReason == "" {
		s.endReason = reason
	}
	s.endMu.Unlock()
	// Abort in-flight provider calls so a blocked turn cannot delay teardown.
	s.cancel()
	select {
	case s.cmds <- command{kind: cmdEnd, reason: reason}:
	case <-s.done:
	default:
	}
}

func (s *Session) enqueue(cmd command) {
	select {
	case s.cmds <- cmd:
	case <-s.done:
	default:
		s.logger.Warn("session_queue_full", slog.Int("kind", int(cmd.kind)))
	}
}

// run is the actor loop. Startup effects happen first so call.started always
// precedes every other event.
func (s *Session) run() {
	s.emit(events.TypeCallStarted, map[string]any{
		"callId":    s.opts.CallID,
		"assistant": map[string]any{"id": s.asst.ID, "name": s.asst.Name},
	})
	s.logger.Info("session_started", slog.String("assistant_id", s.asst.ID))

	if s.asst.SpeaksFirst() {
		s.deliverFirstMessage()
	} else {
		_ = s.fsm.Transition(StateListening, "session start")
	}

	for {
		select {
		case cmd := <-s.cmds:
			switch cmd.kind {
			case cmdAudio:
				s.handleAudio(cmd.audio)
			case cmdControl:
				s.handleControl(cmd.control)
			case cmdPlaybackDone:
				s.handlePlaybackDone(cmd.sid)
			case cmdEnd:
				s.finalize(s.requestedReason())
				return
			}
		case <-s.ctx.Done():
			s.finalize(s.requestedReason())
			return
		}
	}
}

func (s *Session) deliverFirstMessage() {
	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: s.asst.FirstMessage})
	s.emit(events.TypeAssistantMessage, map[string]any{"text": s.asst.FirstMessage})
	s.persistMessage(&store.Message{
		Role:        llm.RoleAssistant,
		Content:     s.asst.FirstMessage,
		TimestampMS: 0,
	})
	s.synthesizeAndPlay(s.asst.FirstMessage, 0)
}

func (s *Session) handleControl(typ string) {
	if s.fsm.State() == StateTerminated {
		return
	}
	switch typ {
	case events.ControlEnd:
		s.finalizeFromActor(ReasonClientRequest)
	case events.ControlInterrupt:
		s.handleInterrupt()
	case events.ControlConfig:
		// Reserved; accepted and ignored.
	default:
		s.logger.Debug("unknown_control_message", slog.String("type", typ))
	}
}

func (s *Session) handleAudio(frame []byte) {
	state := s.fsm.State()
	if state == StateTerminated {
		return
	}
	s.rec.AppendUser(frame)

	if state == StateSpeaking {
		if !s.asst.InterruptionEnabled {
			return
		}
		if s.vad.HasVoice(frame) {
			s.handleInterrupt()
			s.inputBuf.Write(frame)
			s.isSpeaking = true
			s.silenceStart = time.Time{}
			s.emit(events.TypeSpeechStarted, nil)
		}
		return
	}

	s.inputBuf.Write(frame)
	if s.vad.HasVoice(frame) {
		if !s.isSpeaking {
			s.emit(events.TypeSpeechStarted, nil)
		}
		s.isSpeaking = true
		s.silenceStart = time.Time{}
		if s.fsm.State() == StateIdle {
			_ = s.fsm.Transition(StateListening, "user speech")
		}
		return
	}

	if !s.isSpeaking {
		return
	}
	if s.silenceStart.IsZero() {
		s.silenceStart = time.Now()
		s.logger.Debug("endpointing_started",
			slog.Duration("timeout", s.silenceTimeout()))
		return
	}
	if time.Since(s.silenceStart) > s.silenceTimeout() && s.fsm.State() == StateListening {
		s.isSpeaking = false
		s.silenceStart = time.Time{}
		s.emit(events.TypeSpeechEnded, nil)
		s.processUserSpeech()
	}
}

func (s *Session) silenceTimeout() time.Duration {
	return silenceTimeoutFor(s.asst.SilenceTimeoutMS)
}

// silenceTimeoutFor applies the hard cap so conversational latency stays
// bounded irrespective of the configured value.
func silenceTimeoutFor(configuredMS int) time.Duration {
	configured := time.Duration(configuredMS) * time.Millisecond
	if configured <= 0 {
		configured = defaultSilenceTimeout
	}
	if configured > silenceTimeoutCap {
		return silenceTimeoutCap
	}
	return configured
}

func (s *Session) processUserSpeech() {
	pcm := make([]byte, s.inputBuf.Len())
	copy(pcm, s.inputBuf.Bytes())
	s.inputBuf.Reset()

	s.emit(events.TypeAssistantThinking, nil)
	_ = s.fsm.Transition(StateThinking, "endpointing fired")

	sttStart := time.Now()
	text, err := s.opts.STT.Transcribe(s.ctx, pcm)
	sttLatency := time.Since(sttStart)
	s.recordLatency(&s.latSTT, sttLatency)
	if err != nil {
		s.logger.Warn("stt_failed", slog.String("error", err.Error()))
		s.emit(events.TypeAssistantAudioDone, nil)
		_ = s.fsm.Transition(StateListening, "stt failure")
		return
	}
	if text == "" {
		_ = s.fsm.Transition(StateListening, "empty transcript")
		return
	}

	s.emit(events.TypeTranscriptFinal, map[string]any{"text": text})
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: text})
	s.persistMessage(&store.Message{
		Role:         llm.RoleUser,
		Content:      text,
		TimestampMS:  s.sinceStartMS(),
		STTLatencyMS: sttLatency.Milliseconds(),
	})
	s.generateResponse(0)
}

func (s *Session) generateResponse(depth int) {
	if depth > maxToolRounds {
		s.logger.Warn("tool_loop_limit_reached")
		s.emit(events.TypeAssistantAudioDone, nil)
		_ = s.fsm.Transition(StateListening, "tool loop limit")
		return
	}

	llmStart := time.Now()
	resp, err := s.opts.LLM.Generate(s.ctx, s.history, s.opts.Tools.Definitions())
	llmLatency := time.Since(llmStart)
	s.recordLatency(&s.latLLM, llmLatency)
	if err != nil {
		s.logger.Warn("llm_failed", slog.String("error", err.Error()))
		s.emit(events.TypeAssistantAudioDone, nil)
		_ = s.fsm.Transition(StateListening, "llm failure")
		return
	}

	if len(resp.ToolCalls) > 0 {
		s.history = append(s.history, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			s.emit(events.TypeToolCalled, map[string]any{
				"name":      call.Name,
				"arguments": call.Arguments,
			})
			switch call.Name {
			case tools.NameEndCall:
				s.finalizeFromActor(ReasonAssistantEnded)
				return
			case tools.NameTransferCall:
				destination, _ := call.Arguments["destination"].(string)
				s.emit(events.TypeTransferStarted, map[string]any{"destination": destination})
				s.startTransfer(destination)
				_ = s.fsm.Transition(StateListening, "transfer started")
				return
			}
			result := s.opts.Tools.Execute(s.ctx, call.Name, call.Arguments)
			s.emit(events.TypeToolResult, map[string]any{"name": call.Name, "result": result})
			if action, _ := result["action"].(string); action == tools.ActionDTMF {
				s.startDTMF(result)
			}
			resultJSON, _ := json.Marshal(result)
			argsJSON, _ := json.Marshal(call.Arguments)
			s.history = append(s.history, llm.Message{
				Role:       llm.RoleTool,
				Content:    string(resultJSON),
				ToolCallID: call.ID,
			})
			s.persistMessage(&store.Message{
				Role:          llm.RoleTool,
				Content:       string(resultJSON),
				ToolName:      call.Name,
				ToolArguments: string(argsJSON),
				ToolResult:    string(resultJSON),
				TimestampMS:   s.sinceStartMS(),
			})
		}
		// Re-invoke so the model sees the tool outputs.
		s.generateResponse(depth + 1)
		return
	}

	if resp.Content == "" {
		_ = s.fsm.Transition(StateListening, "empty response")
		return
	}

	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
	s.emit(events.TypeAssistantMessage, map[string]any{"text": resp.Content})
	s.persistMessage(&store.Message{
		Role:         llm.RoleAssistant,
		Content:      resp.Content,
		TimestampMS:  s.sinceStartMS(),
		LLMLatencyMS: llmLatency.Milliseconds(),
	})
	s.synthesizeAndPlay(resp.Content, llmLatency)
}

func (s *Session) synthesizeAndPlay(text string, llmLatency time.Duration) {
	_ = s.fsm.Transition(StateSpeaking, "synthesis begins")
	s.synthID++
	sid := s.synthID

	ttsStart := time.Now()
	pcm, err := s.opts.TTS.Synthesize(s.ctx, text)
	ttsLatency := time.Since(ttsStart)
	s.recordLatency(&s.latTTS, ttsLatency)
	if err != nil {
		s.logger.Warn("tts_failed", slog.String("error", err.Error()))
		s.emit(events.TypeAssistantAudioDone, nil)
		if s.fsm.State() == StateSpeaking {
			_ = s.fsm.Transition(StateListening, "tts failure")
		}
		return
	}
	if s.fsm.State() != StateSpeaking || s.synthID != sid {
		s.logger.Debug("synthesis_discarded", slog.Int64("sid", sid))
		return
	}

	s.emit(events.TypeAssistantSpeaking, nil)
	if err := s.opts.Socket.SendAudio(pcm); err != nil {
		s.logger.Warn("audio_send_failed", slog.String("error", err.Error()))
	}
	s.rec.AppendAssistant(pcm)

	playback := audio.Duration(len(pcm), audio.EgressSampleRate)
	delay := playback + playbackTailDelay
	if delay < minPlaybackDelay {
		delay = minPlaybackDelay
	}
	time.AfterFunc(delay, func() {
		s.enqueue(command{kind: cmdPlaybackDone, sid: sid})
	})
	s.logger.Debug("assistant_audio_sent",
		slog.Int("bytes", len(pcm)),
		slog.Duration("playback", playback),
		slog.Duration("llm_latency", llmLatency),
		slog.Duration("tts_latency", ttsLatency))
}

func (s *Session) handlePlaybackDone(sid int64) {
	if s.fsm.State() != StateSpeaking || s.synthID != sid {
		return
	}
	_ = s.fsm.Transition(StateListening, "playback complete")
	s.isSpeaking = false
	s.silenceStart = time.Time{}
	s.inputBuf.Reset()
	s.emit(events.TypeAssistantAudioDone, nil)
}

// handleInterrupt invalidates the current synthesis and tells the client to
// flush its playback queue. The TTS HTTP call is not cancelled; the bumped
// generation counter makes its audio stale instead.
func (s *Session) handleInterrupt() {
	if s.fsm.State() != StateSpeaking {
		return
	}
	s.synthID++
	_ = s.fsm.Transition(StateListening, "barge-in")
	s.emit(events.TypeAssistantInterrupted, map[string]any{
		"clearAudio": true,
		"reason":     "user-speech",
	})
	s.inputBuf.Reset()
	s.logger.Info("barge_in", slog.Int64("invalidated_sid", s.synthID))
}

func (s *Session) startTransfer(destination string) {
	if s.opts.Transfer == nil {
		return
	}
	callID := s.opts.CallID
	transfer := s.opts.Transfer
	go func() {
		if err := transfer(context.Background(), callID, destination); err != nil {
			slog.Warn("transfer_failed", "call_id", callID, "error", err.Error())
		}
	}()
}

func (s *Session) startDTMF(result map[string]any) {
	if s.opts.DTMF == nil {
		return
	}
	digits, _ := result["digits"].(string)
	if digits == "" {
		return
	}
	callID := s.opts.CallID
	dtmf := s.opts.DTMF
	go func() {
		if err := dtmf(context.Background(), callID, digits); err != nil {
			slog.Warn("dtmf_failed", "call_id", callID, "error", err.Error())
		}
	}()
}

// finalizeFromActor ends the call from inside a handler.
func (s *Session) finalizeFromActor(reason string) {
	s.endMu.Lock()
	if s.endReason == "" {
		s.endReason = reason
	}
	reason = s.endReason
	s.endMu.Unlock()
	s.finalize(reason)
}

func (s *Session) requestedReason() string {
	s.endMu.Lock()
	defer s.endMu.Unlock()
	if s.endReason == "" {
		s.endReason = ReasonFatalError
	}
	return s.endReason
}

// finalize is the only terminator. Guarded by the actor-local ended flag so N
// end requests produce exactly one call.ended, one persistence write, and one
// recording flush.
func (s *Session) finalize(reason string) {
	if s.ended {
		return
	}
	s.ended = true
	if s.maxTimer != nil {
		s.maxTimer.Stop()
	}
	_ = s.fsm.Transition(StateTerminated, reason)

	endedAt := time.Now()
	duration := endedAt.Sub(s.startTime)
	if duration < 0 {
		duration = 0
	}
	durationSeconds := int(duration / time.Second)
	costs := Costs(duration)

	// The session context is cancelled by this point; teardown writes get
	// their own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Store.CompleteCall(ctx, s.opts.CallID, reason, endedAt, durationSeconds, costs); err != nil {
		s.logger.Error("call_complete_failed", slog.String("error", err.Error()))
	}

	s.emit(events.TypeCallEnded, map[string]any{
		"reason":   reason,
		"duration": durationSeconds,
		"costs":    costs,
	})

	userURI, agentURI, err := s.rec.Flush()
	if err != nil {
		s.logger.Error("recording_flush_failed", slog.String("error", err.Error()))
	} else if err := s.opts.Store.UpdateCallRecordings(ctx, s.opts.CallID, userURI, agentURI); err != nil {
		s.logger.Error("recording_update_failed", slog.String("error", err.Error()))
	}

	if err := s.opts.Socket.Close(); err != nil {
		s.logger.Debug("socket_close_failed", slog.String("error", err.Error()))
	}
	s.cancel()
	close(s.done)
	s.logger.Info("session_ended",
		slog.String("reason", reason),
		slog.Int("duration_seconds", durationSeconds),
		slog.Int("cost_total_cents", costs.Total))

	// Deregistration is the last step of teardown.
	if s.opts.OnEnd != nil {
		s.opts.OnEnd(s.opts.CallID)
	}
}

func (s *Session) emit(typ events.Type, data any) {
	if err := s.opts.Socket.SendEvent(events.New(typ, data)); err != nil {
		s.logger.Debug("event_send_failed",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()))
	}
}

func (s *Session) persistMessage(msg *store.Message) {
	msg.ID = uuid.NewString()
	msg.CallID = s.opts.CallID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Store.AppendMessage(ctx, msg); err != nil {
		s.logger.Error("message_persist_failed", slog.String("error", err.Error()))
	}
	s.statsMu.Lock()
	s.msgCount++
	s.statsMu.Unlock()
}

func (s *Session) sinceStartMS() int64 {
	return time.Since(s.startTime).Milliseconds()
}

func (s *Session) recordLatency(bucket *[]time.Duration, d time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	*bucket = append(*bucket, d)
	if len(*bucket) > 32 {
		*bucket = (*bucket)[1:]
	}
}

// Info is the management snapshot served by the lifecycle endpoints.
type Info struct {
	CallID          string  `json:"callId"`
	State           string  `json:"state"`
	DurationSeconds int     `json:"durationSeconds"`
	MessageCount    int     `json:"messageCount"`
	AvgSTTMS        float64 `json:"avgSttMs"`
	AvgLLMMS        float64 `json:"avgLlmMs"`
	AvgTTSMS        float64 `json:"avgTtsMs"`
}

// Info returns a point-in-time snapshot; safe from any goroutine.
func (s *Session) Info() Info {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Info{
		CallID:          s.opts.CallID,
		State:           s.fsm.State().String(),
		DurationSeconds: int(time.Since(s.startTime) / time.Second),
		MessageCount:    s.msgCount,
		AvgSTTMS:        avgMS(s.latSTT),
		AvgLLMMS:        avgMS(s.latLLM),
		AvgTTSMS:        avgMS(s.latTTS),
	}
}

// CallID identifies the session in the registry.
func (s *Session) CallID() string { return s.opts.CallID }

// State exposes the current turn-taking state.
func (s *Session) State() State { return s.fsm.State() }

func avgMS(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return float64(total.Milliseconds()) / float64(len(samples))
}
