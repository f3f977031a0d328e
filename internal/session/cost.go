package session

import (
	"math"
	"time"

	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// Per-minute stage rates in cents.
const (
	sttCentsPerMinute = 0.6
	llmCentsPerMinute = 1.5
	ttsCentsPerMinute = 1.5
)

// ComputeCost derives the per-stage cost breakdown for a call of the given
// duration. Each stage rounds independently; the total is their sum.
func ComputeCost(duration time.Duration) types.CostBreakdown {
	minutes := duration.Minutes()
	cost := types.CostBreakdown{
		STTCents: int64(math.Round(minutes * sttCentsPerMinute)),
		LLMCents: int64(math.Round(minutes * llmCentsPerMinute)),
		TTSCents: int64(math.Round(minutes * ttsCentsPerMinute)),
	}
	cost.TotalCents = cost.STTCents + cost.LLMCents + cost.TTSCents
	return cost
}
