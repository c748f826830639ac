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

// OpenAI speaks the chat-completions API. Tool results map natively to the
// vendor's tool role.
type OpenAI struct {
	cfg     Config
	BaseURL string
	Client  *http.Client
}

func NewOpenAI(cfg Config) *OpenAI {
	return &OpenAI{
		cfg:     cfg,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *OpenAI) Name() string { return "openai" }

func (a *OpenAI) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error) {
	req := map[string]any{
		"model":    a.cfg.Model,
		"messages": a.mapMessages(messages),
	}
	if a.cfg.Temperature > 0 {
		req["temperature"] = a.cfg.Temperature
	}
	if a.cfg.MaxTokens > 0 {
		req["max_tokens"] = a.cfg.MaxTokens
	}
	if len(tools) > 0 {
		req["tools"] = a.mapTools(tools)
		req["tool_choice"] = "auto"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
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
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Response{}, errorsx.Provider(err, errorsx.ReasonLLMGenerate)
	}
	if len(payload.Choices) == 0 {
		return Response{}, errorsx.Provider(errors.New("no choices"), errorsx.ReasonLLMGenerate)
	}
	msg := payload.Choices[0].Message
	out := Response{
		Content: msg.Content,
		Usage: Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func (a *OpenAI) mapMessages(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		entry := map[string]any{"role": m.Role, "content": m.Content}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			var calls []map[string]any
			for _, tc := range m.ToolCalls {
				argsRaw, _ := json.Marshal(tc.Arguments)
				calls = append(calls, map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": string(argsRaw),
					},
				})
			}
			entry["tool_calls"] = calls
		}
		out = append(out, entry)
	}
	return out
}

func (a *OpenAI) mapTools(tools []ToolDefinition) []map[string]any {
	var out []map[string]any
	for _, t := range tools {
		params := any(map[string]any{"type": "object", "properties": map[string]any{}})
		if len(t.Parameters) > 0 {
			params = json.RawMessage(t.Parameters)
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return out
}

var _ Generator = (*OpenAI)(nil)
