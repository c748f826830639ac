package session

import (
	"testing"
	"time"
)

func TestCostsTenMinutes(t *testing.T) {
	costs := Costs(10 * time.Minute)
	if costs.STT != 6 {
		t.Fatalf("expected stt 6 cents, got %d", costs.STT)
	}
	if costs.LLM != 15 || costs.TTS != 15 {
		t.Fatalf("expected llm/tts 15 cents, got %d/%d", costs.LLM, costs.TTS)
	}
	if costs.Total != 36 {
		t.Fatalf("expected total 36, got %d", costs.Total)
	}
}

func TestCostsShortCallRoundsToZero(t *testing.T) {
	// 10s = 0.1667min: stt 0.1, llm 0.25, tts 0.25, all round to 0.
	costs := Costs(10 * time.Second)
	if costs.STT != 0 || costs.LLM != 0 || costs.TTS != 0 || costs.Total != 0 {
		t.Fatalf("expected zero costs for a 10s call, got %+v", costs)
	}
}

func TestCostsTotalIsSum(t *testing.T) {
	costs := Costs(7*time.Minute + 23*time.Second)
	if costs.Total != costs.STT+costs.LLM+costs.TTS {
		t.Fatalf("total must equal sum, got %+v", costs)
	}
}

func TestCostsNegativeDuration(t *testing.T) {
	costs := Costs(-time.Minute)
	if costs.Total != 0 {
		t.Fatalf("expected zero cost for negative duration, got %+v", costs)
	}
}

func TestSilenceTimeoutCap(t *testing.T) {
	if got := silenceTimeoutFor(5000); got != 1200*time.Millisecond {
		t.Fatalf("expected 1200ms cap, got %v", got)
	}
	if got := silenceTimeoutFor(800); got != 800*time.Millisecond {
		t.Fatalf("expected configured 800ms honored, got %v", got)
	}
	if got := silenceTimeoutFor(0); got != defaultSilenceTimeout {
		t.Fatalf("expected default, got %v", got)
	}
}
