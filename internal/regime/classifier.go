package regime

import (
	"github.com/afadxb/bot4.1/pkg/types"
)

// RegimeType represents the volatility regime of a symbol
type RegimeType int

const (
	RegimeNormal RegimeType = iota
	RegimeCalm
	RegimeVolatile
)

func (r RegimeType) String() string {
	switch r {
	case RegimeNormal:
		return "normal"
	case RegimeCalm:
		return "calm"
	case RegimeVolatile:
		return "volatile"
	default:
		return "unknown"
	}
}

// Favorable reports whether entries are allowed under require_favorable_regime.
func (r RegimeType) Favorable() bool {
	return r != RegimeVolatile
}

// Classifier thresholds
const (
	// the last bar's spread is wider than this many ATRs
	volatileSpreadATRs = 2.0
	// ATR below this percentage of price
	calmATRPct = 0.5
)

// Classify labels a feature snapshot from its ATR and last-bar spread.
// Missing spread data never classifies as volatile.
func Classify(f types.Features) RegimeType {
	if f.Last <= 0 {
		return RegimeNormal
	}
	atrPct := f.ATR / f.Last * 100

	if f.SpreadBp != nil && *f.SpreadBp > volatileSpreadATRs*atrPct*100 {
		return RegimeVolatile
	}
	if atrPct < calmATRPct {
		return RegimeCalm
	}
	return RegimeNormal
}

// ATRPct returns ATR as a percentage of the last price.
func ATRPct(f types.Features) float64 {
	if f.Last <= 0 {
		return 0
	}
	return f.ATR / f.Last * 100
}
