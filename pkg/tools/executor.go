package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/adiwarsito/svara/pkg/assistant"
	"github.com/adiwarsito/svara/pkg/knowledge"
	"github.com/adiwarsito/svara/pkg/logging"
	"github.com/adiwarsito/svara/pkg/providers/llm"
)

// Built-in tool names surfaced to the LLM.
const (
	NameEndCall      = "endCall"
	NameTransferCall = "transferCall"
	NamePressDigits  = "pressDigits"
	queryPrefix      = "queryKnowledge_"
)

// Actions the orchestrator interprets from built-in results.
const (
	ActionEndCall  = "end_call"
	ActionTransfer = "transfer"
	ActionDTMF     = "dtmf"
)

const functionCallTimeout = 10 * time.Second

var digitsPattern = regexp.MustCompile(`^[0-9*#]+$`)

// Executor resolves LLM tool invocations against an assistant's configured
// tool set. Built-ins return action maps for the orchestrator; function tools
// POST to their server URL; query tools delegate to knowledge retrieval.
type Executor struct {
	tools     []assistant.Tool
	retriever knowledge.Retriever
	client    *http.Client
	logger    *slog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRetriever wires a knowledge retriever for query tools.
func WithRetriever(r knowledge.Retriever) Option {
	return func(e *Executor) { e.retriever = r }
}

// WithHTTPClient overrides the function-call client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

func NewExecutor(toolSet []assistant.Tool, opts ...Option) *Executor {
	e := &Executor{
		tools:  toolSet,
		client: &http.Client{Timeout: functionCallTimeout},
		logger: logging.NewComponentLogger(slog.Default(), "tool_executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Definitions projects the configured tools into vendor-agnostic JSON-schema
// descriptors. The projection is deterministic: the same tool set always
// yields the same definitions.
func (e *Executor) Definitions() []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, t := range e.tools {
		switch t.Kind {
		case assistant.ToolTransfer:
			defs = append(defs, llm.ToolDefinition{
				Name:        NameTransferCall,
				Description: orDefault(t.Description, "Transfer the call to another destination."),
				Parameters: objectSchema(map[string]any{
					"destination": map[string]any{"type": "string", "description": "Phone number or endpoint to transfer to."},
					"reason":      map[string]any{"type": "string"},
				}, []string{"destination"}),
			})
		case assistant.ToolEndCall:
			defs = append(defs, llm.ToolDefinition{
				Name:        NameEndCall,
				Description: orDefault(t.Description, "End the call."),
				Parameters: objectSchema(map[string]any{
					"reason": map[string]any{"type": "string"},
				}, nil),
			})
		case assistant.ToolDTMF:
			defs = append(defs, llm.ToolDefinition{
				Name:        NamePressDigits,
				Description: orDefault(t.Description, "Press DTMF digits on the call."),
				Parameters: objectSchema(map[string]any{
					"digits": map[string]any{"type": "string", "pattern": "^[0-9*#]+$"},
				}, []string{"digits"}),
			})
		case assistant.ToolQuery:
			defs = append(defs, llm.ToolDefinition{
				Name:        queryPrefix + t.KnowledgeBase,
				Description: orDefault(t.Description, "Look up information in the knowledge base."),
				Parameters: objectSchema(map[string]any{
					"query": map[string]any{"type": "string"},
				}, []string{"query"}),
			})
		case assistant.ToolFunction:
			defs = append(defs, llm.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
	}
	return defs
}

// Execute routes an invocation by name. Errors from function servers are
// returned as data results, never as session-fatal errors.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) map[string]any {
	switch {
	case name == NameEndCall:
		return map[string]any{"action": ActionEndCall, "reason": stringArg(args, "reason")}
	case name == NameTransferCall:
		return map[string]any{
			"action":      ActionTransfer,
			"destination": stringArg(args, "destination"),
			"reason":      stringArg(args, "reason"),
		}
	case name == NamePressDigits:
		digits := stringArg(args, "digits")
		if !digitsPattern.MatchString(digits) {
			return map[string]any{"error": fmt.Sprintf("invalid digits %q", digits)}
		}
		return map[string]any{"action": ActionDTMF, "digits": digits}
	case strings.HasPrefix(name, queryPrefix):
		return e.executeQuery(ctx, strings.TrimPrefix(name, queryPrefix), stringArg(args, "query"))
	default:
		return e.executeFunction(ctx, name, args)
	}
}

func (e *Executor) executeQuery(ctx context.Context, kbID, query string) map[string]any {
	if e.retriever == nil {
		return map[string]any{"result": "No relevant information found.", "knowledge_base_id": kbID}
	}
	answer, err := e.retriever.Query(ctx, kbID, query)
	if err != nil {
		e.logger.Warn("knowledge_query_failed", "kb_id", kbID, "error", err.Error())
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"result": answer, "knowledge_base_id": kbID}
}

func (e *Executor) executeFunction(ctx context.Context, name string, args map[string]any) map[string]any {
	tool := e.lookup(name)
	if tool == nil {
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", name)}
	}
	payload, err := json.Marshal(map[string]any{"tool": name, "arguments": args})
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, functionCallTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.ServerURL, bytes.NewReader(payload))
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("tool_call_failed", "tool_name", name, "error", err.Error())
		return map[string]any{"error": err.Error()}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return map[string]any{"error": fmt.Sprintf("tool server returned %d: %s", resp.StatusCode, body)}
	}
	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		// Non-JSON responses are passed through as plain text.
		return map[string]any{"result": string(body)}
	}
	return result
}

func (e *Executor) lookup(name string) *assistant.Tool {
	for i := range e.tools {
		if e.tools[i].Kind == assistant.ToolFunction && e.tools[i].Name == name {
			return &e.tools[i]
		}
	}
	return nil
}

func objectSchema(properties map[string]any, required []string) json.RawMessage {
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	raw, _ := json.Marshal(schema)
	return raw
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
