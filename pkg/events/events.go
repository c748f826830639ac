package events

import (
	"encoding/json"
	"time"
)

// Type names the server-to-client events carried on the media WebSocket.
type Type string

const (
	TypeTest                 Type = "test"
	TypeCallStarted          Type = "call.started"
	TypeCallEnded            Type = "call.ended"
	TypeSpeechStarted        Type = "speech.started"
	TypeSpeechEnded          Type = "speech.ended"
	TypeTranscriptPartial    Type = "transcript.partial"
	TypeTranscriptFinal      Type = "transcript.final"
	TypeAssistantThinking    Type = "assistant.thinking"
	TypeAssistantMessage     Type = "assistant.message"
	TypeAssistantSpeaking    Type = "assistant.speaking"
	TypeAssistantAudioDone   Type = "assistant.audio.done"
	TypeAssistantInterrupted Type = "assistant.interrupted"
	TypeToolCalled           Type = "tool.called"
	TypeToolResult           Type = "tool.result"
	TypeTransferStarted      Type = "transfer.started"
	TypeError                Type = "error"
)

// Client-to-server control message types.
const (
	ControlEnd       = "end"
	ControlInterrupt = "interrupt"
	ControlConfig    = "config"
)

// MaxFrameBytes bounds a single WebSocket frame in either direction.
const MaxFrameBytes = 1 << 20

// Envelope is the JSON shape of every server-to-client event.
type Envelope struct {
	Type      Type  `json:"type"`
	Data      any   `json:"data,omitempty"`
	Timestamp int64 `json:"timestamp"`
}

// New stamps an envelope with the current wall clock in milliseconds.
func New(typ Type, data any) Envelope {
	return Envelope{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()}
}

// ControlMessage is the decoded form of a client text frame.
type ControlMessage struct {
	Type string `json:"type"`
}

// ParseControl decodes a client text frame; unknown types pass through so the
// session can log and ignore them.
func ParseControl(raw []byte) (ControlMessage, error) {
	var msg ControlMessage
	err := json.Unmarshal(raw, &msg)
	return msg, err
}
