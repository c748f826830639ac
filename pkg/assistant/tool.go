package assistant

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToolKind enumerates the tool behaviors an assistant may carry.
type ToolKind string

const (
	ToolFunction ToolKind = "function"
	ToolTransfer ToolKind = "transfer"
	ToolQuery    ToolKind = "query"
	ToolDTMF     ToolKind = "dtmf"
	ToolEndCall  ToolKind = "endCall"
)

// TransferMode controls how a transfer tool hands the call off.
type TransferMode string

const (
	TransferBlind       TransferMode = "blind"
	TransferWarmSummary TransferMode = "warm-summary"
	TransferWarmMessage TransferMode = "warm-message"
)

// Tool is a single configured capability. Function tools carry an opaque
// JSON-schema parameters object that is passed through to the LLM vendor
// untouched.
type Tool struct {
	ID            string          `mapstructure:"id"`
	Name          string          `mapstructure:"name"`
	Kind          ToolKind        `mapstructure:"kind"`
	Description   string          `mapstructure:"description"`
	Parameters    json.RawMessage `mapstructure:"parameters"`
	ServerURL     string          `mapstructure:"server_url"`
	Destinations  []string        `mapstructure:"destinations"`
	TransferMode  TransferMode    `mapstructure:"transfer_mode"`
	KnowledgeBase string          `mapstructure:"knowledge_base_id"`
}

// Validate applies a schema-of-schemas check to function tools and shape
// checks to the builtins. Runs at tool-creation time, not per call.
func (t *Tool) Validate() error {
	switch t.Kind {
	case ToolFunction:
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("function tool requires a name")
		}
		if strings.TrimSpace(t.ServerURL) == "" {
			return fmt.Errorf("function tool %s requires server_url", t.Name)
		}
		return validateSchema(t.Name, t.Parameters)
	case ToolTransfer:
		if len(t.Destinations) == 0 {
			return fmt.Errorf("transfer tool requires at least one destination")
		}
		switch t.TransferMode {
		case "", TransferBlind, TransferWarmSummary, TransferWarmMessage:
		default:
			return fmt.Errorf("transfer tool: unknown mode %q", t.TransferMode)
		}
		return nil
	case ToolQuery:
		if strings.TrimSpace(t.KnowledgeBase) == "" {
			return fmt.Errorf("query tool requires knowledge_base_id")
		}
		return nil
	case ToolDTMF, ToolEndCall:
		return nil
	default:
		return fmt.Errorf("unknown tool kind %q", t.Kind)
	}
}

// validateSchema rejects parameter blobs that are not a JSON-schema object.
// The schema itself stays opaque; only the envelope is checked.
func validateSchema(name string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("tool %s: parameters must be a JSON object: %w", name, err)
	}
	if typ, ok := schema["type"]; ok {
		if s, ok := typ.(string); !ok || s != "object" {
			return fmt.Errorf("tool %s: parameters schema type must be \"object\"", name)
		}
	}
	if props, ok := schema["properties"]; ok {
		if _, ok := props.(map[string]any); !ok {
			return fmt.Errorf("tool %s: parameters properties must be an object", name)
		}
	}
	return nil
}
