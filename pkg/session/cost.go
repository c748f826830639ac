package session

import (
	"math"
	"time"

	"github.com/adiwarsito/svara/pkg/store"
)

// Per-minute rates in cents. The engine only attaches a breakdown to the
// call row; billing reconciliation happens elsewhere.
const (
	sttCentsPerMinute = 0.6
	llmCentsPerMinute = 1.5
	ttsCentsPerMinute = 1.5
)

// Costs computes the cost breakdown for a call of the given duration.
func Costs(duration time.Duration) store.CostBreakdown {
	if duration < 0 {
		duration = 0
	}
	minutes := duration.Minutes()
	breakdown := store.CostBreakdown{
		STT: int(math.Round(minutes * sttCentsPerMinute)),
		LLM: int(math.Round(minutes * llmCentsPerMinute)),
		TTS: int(math.Round(minutes * ttsCentsPerMinute)),
	}
	breakdown.Total = breakdown.STT + breakdown.LLM + breakdown.TTS
	return breakdown
}
