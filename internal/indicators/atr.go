package indicators

import (
	"errors"
	"math"

	"github.com/afadxb/bot4.1/pkg/types"
)

// ATR is the simple mean of the last period true ranges.
type ATR struct {
	period int
}

// NewATR creates a new ATR indicator
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// Calculate returns the ATR at the last bar
func (a *ATR) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < a.GetRequiredPeriods() {
		return 0, errors.New("insufficient data points for ATR calculation")
	}
	tr := TrueRanges(data)
	return mean(tr[len(tr)-a.period:]), nil
}

// GetRequiredPeriods returns the minimum number of periods needed
func (a *ATR) GetRequiredPeriods() int {
	return a.period + 1 // true range needs a previous close
}

// TrueRanges returns the true range of every bar; the first bar uses high-low.
func TrueRanges(data []types.OHLCV) []float64 {
	out := make([]float64, len(data))
	for i, bar := range data {
		if i == 0 {
			out[i] = bar.High - bar.Low
			continue
		}
		out[i] = trueRange(bar, data[i-1].Close)
	}
	return out
}

// trueRange = max(High-Low, |High-PrevClose|, |Low-PrevClose|)
func trueRange(current types.OHLCV, prevClose float64) float64 {
	hl := current.High - current.Low
	hc := math.Abs(current.High - prevClose)
	lc := math.Abs(current.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
