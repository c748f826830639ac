package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/adiwarsito/svara/pkg/errorsx"
)

// Anthropic speaks the messages API. The system prompt is hoisted out of the
// message list, and tool results become tool_result content blocks on a user
// turn, which is the vendor's representation of the tool role.
type Anthropic struct {
	cfg     Config
	BaseURL string
	Client  *http.Client
}

func NewAnthropic(cfg Config) *Anthropic {
	return &Anthropic{
		cfg:     cfg,
		BaseURL: "https://api.anthropic.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error) {
	system, converted := a.mapMessages(messages)
	maxTokens := a.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	req := map[string]any{
		"model":      a.cfg.Model,
		"max_tokens": maxTokens,
		"messages":   converted,
	}
	if system != "" {
		req["system"] = system
	}
	if a.cfg.Temperature > 0 {
		req["temperature"] = a.cfg.Temperature
	}
	if len(tools) > 0 {
		req["tools"] = a.mapTools(tools)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, errorsx.Provider(err, errorsx.ReasonLLMGenerate)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(resp.Body)
		return Response{}, errorsx.Provider(errors.New(string(raw)), errorsx.ReasonLLMRateLimit)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return Response{}, errorsx.Provider(errors.New(string(raw)), errorsx.ReasonLLMGenerate)
	}
	var payload struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Response{}, errorsx.Provider(err, errorsx.ReasonLLMGenerate)
	}
	out := Response{
		Usage: Usage{
			PromptTokens:     payload.Usage.InputTokens,
			CompletionTokens: payload.Usage.OutputTokens,
			TotalTokens:      payload.Usage.InputTokens + payload.Usage.OutputTokens,
		},
	}
	for _, block := range payload.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			args := map[string]any{}
			_ = json.Unmarshal(block.Input, &args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

func (a *Anthropic) mapMessages(messages []Message) (string, []map[string]any) {
	system := ""
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system == "" {
				system = m.Content
			}
		case RoleTool:
			out = append(out, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Content,
				}},
			})
		case RoleAssistant:
			if len(m.ToolCalls) > 0 {
				blocks := []map[string]any{}
				if m.Content != "" {
					blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
				}
				for _, tc := range m.ToolCalls {
					blocks = append(blocks, map[string]any{
						"type":  "tool_use",
						"id":    tc.ID,
						"name":  tc.Name,
						"input": tc.Arguments,
					})
				}
				out = append(out, map[string]any{"role": "assistant", "content": blocks})
				continue
			}
			out = append(out, map[string]any{"role": "assistant", "content": m.Content})
		default:
			out = append(out, map[string]any{"role": "user", "content": m.Content})
		}
	}
	return system, out
}

func (a *Anthropic) mapTools(tools []ToolDefinition) []map[string]any {
	var out []map[string]any
	for _, t := range tools {
		schema := any(map[string]any{"type": "object", "properties": map[string]any{}})
		if len(t.Parameters) > 0 {
			schema = json.RawMessage(t.Parameters)
		}
		out = append(out, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"input_schema": schema,
		})
	}
	return out
}

var _ Generator = (*Anthropic)(nil)
