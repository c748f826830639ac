package svara

import (
	"os"
	"path/filepath"
	"testing"
)

const testConfig = `
environment: test
log_level: error
server:
  port: 8090
  cors_origin: "https://dash.example.com"
media_ws_url: "wss://engine.example.com"
public_url: "https://engine.example.com"
secrets:
  jwt_secret: "${TEST_JWT_SECRET}"
default_assistant: support
assistants:
  - id: support
    name: Support
    system_prompt: "You are a support agent."
    first_message: "Hi."
    silence_timeout_ms: 800
    interruption_enabled: true
    model:
      provider: openai
      model: gpt-4o-mini
    voice:
      provider: elevenlabs
      voice_id: v1
    transcriber:
      provider: deepgram
    tools:
      - kind: function
        name: lookup_order
        server_url: "https://tools.example.com/hook"
        parameters:
          type: object
          properties:
            order_id:
              type: string
numbers:
  "+15550100": support
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "sekrit")
	cfg, err := LoadConfig(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Secrets.JWTSecret != "sekrit" {
		t.Fatalf("expected env expansion, got %q", cfg.Secrets.JWTSecret)
	}
	if cfg.Server.Port != 8090 {
		t.Fatalf("expected port 8090, got %d", cfg.Server.Port)
	}
	asst, ok := cfg.AssistantByID("support")
	if !ok {
		t.Fatalf("expected assistant resolved")
	}
	if asst.SilenceTimeoutMS != 800 || !asst.InterruptionEnabled {
		t.Fatalf("unexpected assistant %+v", asst)
	}
	if len(asst.Tools) != 1 {
		t.Fatalf("expected one tool, got %d", len(asst.Tools))
	}
	if len(asst.Tools[0].Parameters) == 0 {
		t.Fatalf("expected tool parameters decoded to raw JSON")
	}
	if id, ok := cfg.AssistantForNumber("+15550100"); !ok || id != "support" {
		t.Fatalf("expected number directory hit, got %q/%v", id, ok)
	}
	// Twilio inherits the public URLs.
	if cfg.Twilio.PublicURL != "https://engine.example.com" {
		t.Fatalf("expected twilio public url inherited, got %q", cfg.Twilio.PublicURL)
	}
}

func TestLoadConfigRejectsUnknownNumberTarget(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "sekrit")
	bad := testConfig + `  "+15550911": nonexistent
`
	if _, err := LoadConfig(writeConfig(t, bad)); err == nil {
		t.Fatalf("expected error for unknown assistant reference")
	}
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "")
	if _, err := LoadConfig(writeConfig(t, testConfig)); err == nil {
		t.Fatalf("expected error for missing jwt secret")
	}
}
