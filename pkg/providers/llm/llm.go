package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adiwarsito/svara/pkg/assistant"
)

// Role values carried in the message history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation history handed to a generator.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a vendor-reported request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition is the vendor-agnostic schema descriptor for one tool.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Usage reports token counts when the vendor returns them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a single generation result.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Generator is the LLM provider contract. Implementations translate the
// message history and tool schemas to the vendor-native shape.
type Generator interface {
	Name() string
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error)
}

// Config carries the per-assistant model settings plus credentials.
type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// New builds a generator for the named provider.
func New(provider string, cfg Config) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// FromAssistant resolves the generator for an assistant's model config.
func FromAssistant(a *assistant.Assistant, apiKey string) (Generator, error) {
	return New(a.Model.Provider, Config{
		APIKey:      apiKey,
		Model:       a.Model.Model,
		Temperature: a.Model.Temperature,
		MaxTokens:   a.Model.MaxTokens,
	})
}
