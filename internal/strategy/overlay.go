package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/afadxb/bot4.1/pkg/types"
)

// MaxAdjustment bounds the magnitude of an overlay delta.
const MaxAdjustment = 1.0

// Adjustment is what an overlay returns for one symbol.
type Adjustment struct {
	Delta      float64
	Reason     string
	Provenance *types.Provenance
}

// Adjuster is the sentiment/regime overlay contract.
type Adjuster interface {
	Adjust(ctx context.Context, sig types.Signal, headlines []types.Headline) (Adjustment, error)
}

// NeutralAdjuster always returns a zero delta.
type NeutralAdjuster struct{}

// Adjust implements Adjuster
func (NeutralAdjuster) Adjust(context.Context, types.Signal, []types.Headline) (Adjustment, error) {
	return Adjustment{}, nil
}

// ApplyAdjustment sets ai_adj_score and final_score = clamp(base + delta).
func ApplyAdjustment(sig *types.Signal, adj Adjustment) {
	delta := adj.Delta
	if math.IsNaN(delta) {
		delta = 0
	}
	delta = math.Max(-MaxAdjustment, math.Min(MaxAdjustment, delta))

	sig.AIAdjScore = delta
	sig.FinalScore = Clamp01(sig.BaseScore + delta)
	if adj.Reason != "" {
		sig.Reasons = append(sig.Reasons, adj.Reason)
	} else if delta != 0 {
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("ai adj %+.3f", delta))
	}
}
