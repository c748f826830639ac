package store

import "time"

// CallKind distinguishes how a call reached the engine.
type CallKind string

const (
	CallWeb      CallKind = "web"
	CallInbound  CallKind = "inbound"
	CallOutbound CallKind = "outbound"
)

// CallStatus mirrors carrier call states plus the engine's own lifecycle.
type CallStatus string

const (
	StatusQueued     CallStatus = "queued"
	StatusRinging    CallStatus = "ringing"
	StatusInProgress CallStatus = "in-progress"
	StatusCompleted  CallStatus = "completed"
	StatusFailed     CallStatus = "failed"
	StatusNoAnswer   CallStatus = "no-answer"
	StatusBusy       CallStatus = "busy"
)

// CostBreakdown is the per-call cost attribution in cents.
type CostBreakdown struct {
	STT   int `json:"stt"`
	LLM   int `json:"llm"`
	TTS   int `json:"tts"`
	Total int `json:"total"`
}

// Call is the persisted row for one call.
type Call struct {
	ID              string
	OrgID           string
	Kind            CallKind
	Status          CallStatus
	FromNumber      string
	ToNumber        string
	AssistantID     string
	CarrierMetadata map[string]string
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds int
	EndedReason     string
	Costs           CostBreakdown
	UserRecording   string
	AgentRecording  string
}

// Message is one appended entry of a call's conversation log.
type Message struct {
	ID            string
	CallID        string
	Role          string
	Content       string
	ToolName      string
	ToolArguments string
	ToolResult    string
	TimestampMS   int64
	STTLatencyMS  int64
	LLMLatencyMS  int64
	TTSLatencyMS  int64
}
