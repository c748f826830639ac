package session

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/adiwarsito/svara/pkg/assistant"
	"github.com/adiwarsito/svara/pkg/events"
	"github.com/adiwarsito/svara/pkg/providers/llm"
	"github.com/adiwarsito/svara/pkg/providers/mock"
	"github.com/adiwarsito/svara/pkg/store"
	"github.com/adiwarsito/svara/pkg/tools"
)

type fakeSocket struct {
	mu     sync.Mutex
	events []events.Envelope
	audio  [][]byte
	closed bool
}

func (f *fakeSocket) SendEvent(env events.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, env)
	return nil
}

func (f *fakeSocket) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	f.audio = append(f.audio, buf)
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSocket) eventTypes() []events.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Type, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

func (f *fakeSocket) count(typ events.Type) int {
	n := 0
	for _, got := range f.eventTypes() {
		if got == typ {
			n++
		}
	}
	return n
}

func (f *fakeSocket) waitFor(t *testing.T, typ events.Type, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.count(typ) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; saw %v", typ, f.eventTypes())
}

func testAssistant() *assistant.Assistant {
	return &assistant.Assistant{
		ID:                  "asst-1",
		Name:                "Test",
		SystemPrompt:        "You are helpful.",
		Model:               assistant.ModelConfig{Provider: "openai", Model: "gpt-4o-mini"},
		Voice:               assistant.VoiceConfig{Provider: "elevenlabs", VoiceID: "v1"},
		Transcriber:         assistant.TranscriberConfig{Provider: "deepgram"},
		InterruptionEnabled: true,
		SilenceTimeoutMS:    100,
	}
}

type harness struct {
	sock  *fakeSocket
	sess  *Session
	mem   *store.Memory
	sttM  *mock.STT
	llmM  *mock.LLM
	ttsM  *mock.TTS
	dereg chan string
}

func newHarness(t *testing.T, asst *assistant.Assistant, sttM *mock.STT, llmM *mock.LLM, ttsM *mock.TTS) *harness {
	t.Helper()
	h := &harness{
		sock:  &fakeSocket{},
		mem:   store.NewMemory(),
		sttM:  sttM,
		llmM:  llmM,
		ttsM:  ttsM,
		dereg: make(chan string, 1),
	}
	_ = h.mem.UpsertCall(context.Background(), &store.Call{
		ID: "call-1", Kind: store.CallWeb, Status: store.StatusQueued, AssistantID: asst.ID,
	})
	h.sess = New(Options{
		CallID:        "call-1",
		Assistant:     asst,
		Socket:        h.sock,
		Store:         h.mem,
		STT:           sttM,
		LLM:           llmM,
		TTS:           ttsM,
		Tools:         tools.NewExecutor(asst.Tools),
		RecordingsDir: t.TempDir(),
		OnEnd:         func(callID string) { h.dereg <- callID },
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.sess.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func (h *harness) endAndWait(t *testing.T, reason string) {
	t.Helper()
	h.sess.End(reason)
	select {
	case <-h.sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end")
	}
}

// voiceFrame is ~100ms of loud 16kHz PCM.
func voiceFrame() []byte {
	buf := make([]byte, 3200)
	for i := 0; i < len(buf); i += 2 {
		v := int16(2000)
		if (i/2)%2 == 1 {
			v = -2000
		}
		binary.LittleEndian.PutUint16(buf[i:], uint16(v))
	}
	return buf
}

func silenceFrame() []byte {
	return make([]byte, 3200)
}

// speakUtterance streams voice then silence until endpointing fires.
func (h *harness) speakUtterance(t *testing.T) {
	t.Helper()
	for i := 0; i < 3; i++ {
		h.sess.HandleAudio(voiceFrame())
		time.Sleep(20 * time.Millisecond)
	}
	for i := 0; i < 10; i++ {
		h.sess.HandleAudio(silenceFrame())
		time.Sleep(40 * time.Millisecond)
	}
}

func TestHappyPathWithFirstMessage(t *testing.T) {
	asst := testAssistant()
	asst.FirstMessage = "Hi."
	h := newHarness(t, asst,
		&mock.STT{Transcripts: []string{"what time is it"}},
		&mock.LLM{Responses: []llm.Response{{Content: "It is 3 pm."}}},
		&mock.TTS{Audio: make([]byte, 480)},
	)
	h.start(t)

	h.sock.waitFor(t, events.TypeCallStarted, time.Second)
	h.sock.waitFor(t, events.TypeAssistantMessage, time.Second)
	// Playback of the first message completes (min 500ms delay).
	h.sock.waitFor(t, events.TypeAssistantAudioDone, 2*time.Second)

	h.speakUtterance(t)
	h.sock.waitFor(t, events.TypeSpeechStarted, time.Second)
	h.sock.waitFor(t, events.TypeSpeechEnded, time.Second)
	h.sock.waitFor(t, events.TypeAssistantThinking, time.Second)
	h.sock.waitFor(t, events.TypeTranscriptFinal, time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && h.sock.count(events.TypeAssistantMessage) < 2 {
		time.Sleep(10 * time.Millisecond)
	}
	if h.sock.count(events.TypeAssistantMessage) != 2 {
		t.Fatalf("expected second assistant.message, saw %v", h.sock.eventTypes())
	}

	h.endAndWait(t, ReasonClientRequest)

	types := h.sock.eventTypes()
	if types[0] != events.TypeCallStarted {
		t.Fatalf("expected call.started first, got %s", types[0])
	}
	if types[len(types)-1] != events.TypeCallEnded {
		t.Fatalf("expected call.ended last, got %s", types[len(types)-1])
	}

	// First message is persisted exactly once with timestamp 0.
	msgs, _ := h.mem.Messages(context.Background(), "call-1")
	var first int
	for _, m := range msgs {
		if m.Role == "assistant" && m.Content == "Hi." {
			first++
			if m.TimestampMS != 0 {
				t.Fatalf("expected first message at timestamp 0, got %d", m.TimestampMS)
			}
		}
	}
	if first != 1 {
		t.Fatalf("expected exactly one persisted first message, got %d", first)
	}
}

func TestZeroTranscriptSkipsLLM(t *testing.T) {
	h := newHarness(t, testAssistant(),
		&mock.STT{Transcripts: []string{""}},
		&mock.LLM{Responses: []llm.Response{{Content: "should not happen"}}},
		&mock.TTS{},
	)
	h.start(t)
	h.speakUtterance(t)
	h.sock.waitFor(t, events.TypeSpeechEnded, time.Second)
	time.Sleep(100 * time.Millisecond)

	if h.llmM.Calls != 0 {
		t.Fatalf("expected no LLM call for empty transcript")
	}
	if h.sock.count(events.TypeTranscriptFinal) != 0 {
		t.Fatalf("expected no transcript.final for empty transcript")
	}
	if h.sess.State() != StateListening {
		t.Fatalf("expected return to listening, got %s", h.sess.State())
	}
	h.endAndWait(t, ReasonClientRequest)
}

func TestSTTFailureIsRecoverable(t *testing.T) {
	h := newHarness(t, testAssistant(),
		&mock.STT{Err: errors.New("500 upstream")},
		&mock.LLM{},
		&mock.TTS{},
	)
	h.start(t)
	h.speakUtterance(t)
	h.sock.waitFor(t, events.TypeAssistantAudioDone, time.Second)
	time.Sleep(50 * time.Millisecond)

	if h.sock.count(events.TypeAssistantMessage) != 0 {
		t.Fatalf("expected no assistant.message after STT failure")
	}
	if h.sess.State() != StateListening {
		t.Fatalf("expected call to continue in listening, got %s", h.sess.State())
	}
	if h.sock.count(events.TypeCallEnded) != 0 {
		t.Fatalf("provider failure must not end the call")
	}
	h.endAndWait(t, ReasonClientRequest)
}

func TestInterruptionInvalidatesSynthesis(t *testing.T) {
	// 1s of audio at 24kHz keeps the session speaking long enough to barge in.
	h := newHarness(t, testAssistant(),
		&mock.STT{Transcripts: []string{"tell me a story"}},
		&mock.LLM{Responses: []llm.Response{{Content: "Once upon a time, in a faraway land..."}}},
		&mock.TTS{Audio: make([]byte, 48000)},
	)
	h.start(t)
	h.speakUtterance(t)
	h.sock.waitFor(t, events.TypeAssistantSpeaking, 2*time.Second)

	h.sess.HandleAudio(voiceFrame())
	h.sock.waitFor(t, events.TypeAssistantInterrupted, time.Second)

	if h.sess.State() != StateListening {
		t.Fatalf("expected listening after interruption, got %s", h.sess.State())
	}
	// The interrupted synthesis must not complete: its playback timer fires
	// against a stale generation id.
	time.Sleep(1500 * time.Millisecond)
	if h.sock.count(events.TypeAssistantAudioDone) != 0 {
		t.Fatalf("expected no audio.done for interrupted synthesis, saw %v", h.sock.eventTypes())
	}
	h.endAndWait(t, ReasonClientRequest)
}

func TestTransferToolEmitsAndStops(t *testing.T) {
	var transferMu sync.Mutex
	var transferred string
	asst := testAssistant()
	asst.Tools = []assistant.Tool{{Kind: assistant.ToolTransfer, Destinations: []string{"+15551234"}}}
	h := newHarness(t, asst,
		&mock.STT{Transcripts: []string{"transfer me to sales"}},
		&mock.LLM{Responses: []llm.Response{{ToolCalls: []llm.ToolCall{{
			ID: "tc1", Name: "transferCall",
			Arguments: map[string]any{"destination": "+15551234"},
		}}}}},
		&mock.TTS{},
	)
	h.sess.opts.Transfer = func(ctx context.Context, callID, destination string) error {
		transferMu.Lock()
		transferred = destination
		transferMu.Unlock()
		return nil
	}
	h.start(t)
	h.speakUtterance(t)
	h.sock.waitFor(t, events.TypeToolCalled, time.Second)
	h.sock.waitFor(t, events.TypeTransferStarted, time.Second)

	time.Sleep(100 * time.Millisecond)
	if h.ttsM.Calls != 0 {
		t.Fatalf("expected no synthesis on transfer turn")
	}
	transferMu.Lock()
	dest := transferred
	transferMu.Unlock()
	if dest != "+15551234" {
		t.Fatalf("expected side-channel transfer, got %q", dest)
	}
	h.endAndWait(t, ReasonClientRequest)
}

func TestEndCallTool(t *testing.T) {
	asst := testAssistant()
	asst.EndCallEnabled = true
	asst.Tools = []assistant.Tool{{Kind: assistant.ToolEndCall}}
	h := newHarness(t, asst,
		&mock.STT{Transcripts: []string{"goodbye"}},
		&mock.LLM{Responses: []llm.Response{{ToolCalls: []llm.ToolCall{{
			ID: "tc1", Name: "endCall", Arguments: map[string]any{"reason": "done"},
		}}}}},
		&mock.TTS{},
	)
	h.start(t)
	h.speakUtterance(t)

	select {
	case <-h.sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected session to end via endCall tool")
	}
	if h.sock.count(events.TypeToolCalled) != 1 {
		t.Fatalf("expected tool.called")
	}
	call, err := h.mem.GetCall(context.Background(), "call-1")
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if call.EndedReason != ReasonAssistantEnded {
		t.Fatalf("expected assistant-ended, got %q", call.EndedReason)
	}
	if !h.sock.closed {
		t.Fatalf("expected socket closed")
	}
}

func TestToolOnlyResponseReinvokesGeneration(t *testing.T) {
	asst := testAssistant()
	asst.Tools = []assistant.Tool{{Kind: assistant.ToolQuery, KnowledgeBase: "kb1"}}
	h := newHarness(t, asst,
		&mock.STT{Transcripts: []string{"what are your hours"}},
		&mock.LLM{Responses: []llm.Response{
			{ToolCalls: []llm.ToolCall{{ID: "tc1", Name: "queryKnowledge_kb1",
				Arguments: map[string]any{"query": "hours"}}}},
			{Content: "We are open 9 to 5."},
		}},
		&mock.TTS{Audio: make([]byte, 480)},
	)
	h.start(t)
	h.speakUtterance(t)
	h.sock.waitFor(t, events.TypeToolResult, time.Second)
	h.sock.waitFor(t, events.TypeAssistantMessage, time.Second)

	if h.llmM.Calls != 2 {
		t.Fatalf("expected generation re-invoked after tool, got %d calls", h.llmM.Calls)
	}
	// Second generation must have seen the tool output.
	second := h.llmM.Seen[1]
	foundTool := false
	for _, m := range second {
		if m.Role == llm.RoleTool && m.ToolCallID == "tc1" {
			foundTool = true
		}
	}
	if !foundTool {
		t.Fatalf("expected tool message in second generation history")
	}
	h.endAndWait(t, ReasonClientRequest)
}

func TestEndIsIdempotent(t *testing.T) {
	h := newHarness(t, testAssistant(), &mock.STT{}, &mock.LLM{}, &mock.TTS{})
	h.start(t)
	h.sock.waitFor(t, events.TypeCallStarted, time.Second)

	h.sess.End(ReasonAPIRequest)
	h.sess.End(ReasonClientDisconnect)
	h.sess.End(ReasonServerShutdown)
	select {
	case <-h.sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end")
	}
	time.Sleep(50 * time.Millisecond)

	if n := h.sock.count(events.TypeCallEnded); n != 1 {
		t.Fatalf("expected exactly one call.ended, got %d", n)
	}
	call, _ := h.mem.GetCall(context.Background(), "call-1")
	if call.EndedReason != ReasonAPIRequest {
		t.Fatalf("expected first reason to win, got %q", call.EndedReason)
	}
	select {
	case id := <-h.dereg:
		if id != "call-1" {
			t.Fatalf("unexpected deregistration %q", id)
		}
	default:
		t.Fatalf("expected deregistration callback")
	}
	if len(h.dereg) != 0 {
		t.Fatalf("expected exactly one deregistration")
	}
}

func TestMaxDurationEndsCall(t *testing.T) {
	asst := testAssistant()
	asst.MaxCallDurationSec = 1
	h := newHarness(t, asst, &mock.STT{}, &mock.LLM{}, &mock.TTS{})
	h.start(t)

	select {
	case <-h.sess.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("expected max-duration end")
	}
	call, _ := h.mem.GetCall(context.Background(), "call-1")
	if call.EndedReason != ReasonMaxDuration {
		t.Fatalf("expected max-duration, got %q", call.EndedReason)
	}
	if call.DurationSeconds < 1 || call.DurationSeconds > 2 {
		t.Fatalf("expected ~1s duration, got %d", call.DurationSeconds)
	}
}

func TestDurationFloor(t *testing.T) {
	h := newHarness(t, testAssistant(), &mock.STT{}, &mock.LLM{}, &mock.TTS{})
	h.start(t)
	h.sock.waitFor(t, events.TypeCallStarted, time.Second)
	time.Sleep(300 * time.Millisecond)
	h.endAndWait(t, ReasonClientRequest)

	call, _ := h.mem.GetCall(context.Background(), "call-1")
	if call.DurationSeconds != 0 {
		t.Fatalf("expected floored duration 0 for sub-second call, got %d", call.DurationSeconds)
	}
	if call.EndedAt == nil || call.StartedAt == nil {
		t.Fatalf("expected timestamps set")
	}
	want := int(call.EndedAt.Sub(*call.StartedAt) / time.Second)
	if call.DurationSeconds != want {
		t.Fatalf("duration %d != floor(ended-started) %d", call.DurationSeconds, want)
	}
}

func TestRecordingsFlushedOnEnd(t *testing.T) {
	h := newHarness(t, testAssistant(), &mock.STT{}, &mock.LLM{}, &mock.TTS{})
	h.start(t)
	h.sock.waitFor(t, events.TypeCallStarted, time.Second)
	h.sess.HandleAudio(voiceFrame())
	time.Sleep(50 * time.Millisecond)
	h.endAndWait(t, ReasonClientRequest)
	time.Sleep(50 * time.Millisecond)

	call, _ := h.mem.GetCall(context.Background(), "call-1")
	if call.UserRecording == "" || call.AgentRecording == "" {
		t.Fatalf("expected recording URIs on call row, got %+v", call)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	h := newHarness(t, testAssistant(), &mock.STT{}, &mock.LLM{}, &mock.TTS{})
	if !r.Register(h.sess) {
		t.Fatalf("expected registration")
	}
	if r.Register(h.sess) {
		t.Fatalf("expected duplicate registration rejected")
	}
	if _, ok := r.Lookup("call-1"); !ok {
		t.Fatalf("expected lookup hit")
	}
	if r.Count() != 1 {
		t.Fatalf("expected count 1, got %d", r.Count())
	}
	r.Deregister("call-1")
	if _, ok := r.Lookup("call-1"); ok {
		t.Fatalf("expected lookup miss after deregister")
	}
}

func TestRegistryShutdownEndsSessions(t *testing.T) {
	r := NewRegistry()
	h := newHarness(t, testAssistant(), &mock.STT{}, &mock.LLM{}, &mock.TTS{})
	h.sess.opts.OnEnd = func(callID string) { r.Deregister(callID) }
	r.Register(h.sess)
	h.start(t)
	h.sock.waitFor(t, events.TypeCallStarted, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Shutdown(ctx)

	if r.Count() != 0 {
		t.Fatalf("expected empty registry after shutdown, got %d", r.Count())
	}
	call, _ := h.mem.GetCall(context.Background(), "call-1")
	if call.EndedReason != ReasonServerShutdown {
		t.Fatalf("expected server-shutdown, got %q", call.EndedReason)
	}
}
