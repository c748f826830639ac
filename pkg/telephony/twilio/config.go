package twilio

import (
	"fmt"
	"strings"

	"github.com/adiwarsito/svara/pkg/store"
)

type Config struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	// PublicURL is the externally reachable base for webhooks (API_URL).
	PublicURL string `mapstructure:"public_url"`
	// MediaWSURL is the externally reachable base for the media bridge
	// (VOICE_ENGINE_WS_URL), e.g. "wss://engine.example.com".
	MediaWSURL string `mapstructure:"media_ws_url"`

	InboundPath  string `mapstructure:"inbound_path"`
	OutboundPath string `mapstructure:"outbound_path"`
	StatusPath   string `mapstructure:"status_path"`
	MediaPath    string `mapstructure:"media_path"`

	// ErrorPrompt is spoken when a dialled number has no assistant.
	ErrorPrompt string `mapstructure:"error_prompt"`
}

func (c Config) withDefaults() Config {
	if c.InboundPath == "" {
		c.InboundPath = "/telephony/twilio/inbound"
	}
	if c.OutboundPath == "" {
		c.OutboundPath = "/telephony/twilio/outbound"
	}
	if c.StatusPath == "" {
		c.StatusPath = "/telephony/twilio/status"
	}
	if c.MediaPath == "" {
		c.MediaPath = "/telephony/twilio/media/"
	}
	if c.ErrorPrompt == "" {
		c.ErrorPrompt = "This number is not configured to receive calls. Goodbye."
	}
	return c
}

func (c Config) mediaStreamURL(callID, token string) string {
	base := strings.TrimRight(c.MediaWSURL, "/")
	return fmt.Sprintf("%s%s%s?token=%s", base, c.MediaPath, callID, token)
}

func connectStreamTwiML(streamURL string) string {
	return `<Response><Connect><Stream url="` + xmlEscape(streamURL) + `"/></Connect></Response>`
}

func rejectTwiML(prompt string) string {
	return `<Response><Say>` + xmlEscape(prompt) + `</Say><Hangup/></Response>`
}

func dialTwiML(destination string) string {
	return `<Response><Dial>` + xmlEscape(destination) + `</Dial></Response>`
}

func dtmfTwiML(digits string) string {
	return `<Response><Play digits="` + xmlEscape(digits) + `"/></Response>`
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

// mapCallStatus projects Twilio call states onto the engine's call statuses.
func mapCallStatus(raw string) (store.CallStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "initiated":
		return store.StatusQueued, true
	case "ringing":
		return store.StatusRinging, true
	case "in-progress", "answered":
		return store.StatusInProgress, true
	case "completed":
		return store.StatusCompleted, true
	case "busy":
		return store.StatusBusy, true
	case "no-answer":
		return store.StatusNoAnswer, true
	case "failed", "canceled":
		return store.StatusFailed, true
	default:
		return "", false
	}
}
