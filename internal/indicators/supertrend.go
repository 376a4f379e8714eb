package indicators

import (
	"errors"

	"github.com/afadxb/bot4.1/pkg/types"
)

const (
	// DefaultSuperTrendPeriod is the default period value for ATR calculation
	DefaultSuperTrendPeriod = 10

	// DefaultSuperTrendMultiplier is the default multiplier value for bands calculation
	DefaultSuperTrendMultiplier = 3.0
)

// SuperTrendResult is the indicator state at the last bar.
type SuperTrendResult struct {
	Value     float64
	UpTrend   bool
	UpperBand float64
	LowerBand float64
}

// SuperTrend is a trend-following indicator that uses ATR to build dynamic
// support and resistance bands.
type SuperTrend struct {
	period     int     // Period for ATR calculation
	multiplier float64 // Multiplier for ATR to create bands
}

// NewSuperTrend creates a new SuperTrend indicator with default parameters
func NewSuperTrend() *SuperTrend {
	return NewSuperTrendWithParams(DefaultSuperTrendPeriod, DefaultSuperTrendMultiplier)
}

// NewSuperTrendWithParams creates a new SuperTrend indicator with custom parameters
func NewSuperTrendWithParams(period int, multiplier float64) *SuperTrend {
	return &SuperTrend{
		period:     period,
		multiplier: multiplier,
	}
}

// GetRequiredPeriods returns the minimum number of periods needed
func (st *SuperTrend) GetRequiredPeriods() int {
	return st.period + 1
}

// Calculate walks the full window and returns the state at the last bar.
func (st *SuperTrend) Calculate(data []types.OHLCV) (SuperTrendResult, error) {
	if len(data) < st.GetRequiredPeriods() {
		return SuperTrendResult{}, errors.New("insufficient data points for SuperTrend calculation")
	}

	tr := TrueRanges(data)
	var (
		res       SuperTrendResult
		prevClose float64
	)

	for i := st.period; i < len(data); i++ {
		bar := data[i]
		atr := mean(tr[i-st.period+1 : i+1])
		median := (bar.High + bar.Low) / 2.0
		basicUpper := median + st.multiplier*atr
		basicLower := median - st.multiplier*atr

		if i == st.period {
			res = SuperTrendResult{UpTrend: true, UpperBand: basicUpper, LowerBand: basicLower}
		} else {
			// FinalUpper tightens unless the previous close broke above it
			if basicUpper < res.UpperBand || prevClose > res.UpperBand {
				res.UpperBand = basicUpper
			}
			// FinalLower tightens unless the previous close broke below it
			if basicLower > res.LowerBand || prevClose < res.LowerBand {
				res.LowerBand = basicLower
			}
		}

		if res.UpTrend && bar.Close < res.LowerBand {
			res.UpTrend = false
		} else if !res.UpTrend && bar.Close > res.UpperBand {
			res.UpTrend = true
		}

		if res.UpTrend {
			res.Value = res.LowerBand
		} else {
			res.Value = res.UpperBand
		}
		prevClose = bar.Close
	}

	return res, nil
}
