package ai

import (
	"math"
	"strings"
)

// SentimentModel scores a single headline in [-1, 1].
type SentimentModel interface {
	Score(text string) float64
	Name() string
}

// StubSentiment is the deterministic model used when no external scorer is
// configured. The same text always yields the same score.
type StubSentiment struct{}

// Name implements SentimentModel
func (StubSentiment) Name() string { return "stub" }

// Score implements SentimentModel
func (StubSentiment) Score(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	sum := 0
	for _, r := range text {
		sum += int(r)
	}
	return clamp(float64(sum%100)/50-1, -1, 1)
}

// Label buckets a sentiment score.
func Label(score float64) string {
	switch {
	case score > 0.2:
		return "bullish"
	case score < -0.2:
		return "bearish"
	default:
		return "neutral"
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
