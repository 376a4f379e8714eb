package indicators

import (
	"errors"

	"github.com/afadxb/bot4.1/pkg/types"
)

// EMA represents the Exponential Moving Average technical indicator.
// The average is seeded from the first value of the window.
type EMA struct {
	period      int
	alpha       float64
	lastValue   float64
	initialized bool
}

// NewEMA creates a new EMA indicator
func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
	}
}

// Calculate runs the EMA over the closes of data and returns the last value
func (e *EMA) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < e.period {
		return 0, errors.New("insufficient data for EMA calculation")
	}
	e.ResetState()
	for _, bar := range data {
		e.UpdateSingle(bar.Close)
	}
	return e.lastValue, nil
}

// UpdateSingle updates the EMA with a single data point
func (e *EMA) UpdateSingle(value float64) float64 {
	if !e.initialized {
		e.lastValue = value
		e.initialized = true
	} else {
		e.lastValue = (value * e.alpha) + (e.lastValue * (1 - e.alpha))
	}
	return e.lastValue
}

// GetLastValue returns the last calculated EMA value
func (e *EMA) GetLastValue() float64 {
	return e.lastValue
}

// GetRequiredPeriods returns the minimum number of periods needed
func (e *EMA) GetRequiredPeriods() int {
	return e.period
}

// ResetState clears the running average
func (e *EMA) ResetState() {
	e.lastValue = 0
	e.initialized = false
}

// EMASeries returns the EMA value at every close.
func EMASeries(data []types.OHLCV, period int) []float64 {
	out := make([]float64, len(data))
	ema := NewEMA(period)
	for i, bar := range data {
		out[i] = ema.UpdateSingle(bar.Close)
	}
	return out
}
