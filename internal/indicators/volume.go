package indicators

import (
	"math"

	"github.com/afadxb/bot4.1/pkg/types"
)

// VolumeSpike is the last volume over the mean of the prior window-1 volumes.
func VolumeSpike(data []types.OHLCV, window int) float64 {
	if len(data) < 2 || window < 2 {
		return 0
	}
	start := len(data) - window
	if start < 0 {
		start = 0
	}
	prior := data[start : len(data)-1]
	sum := 0.0
	for _, bar := range prior {
		sum += bar.Volume
	}
	avg := sum / float64(len(prior))
	if avg <= 0 {
		return 0
	}
	return data[len(data)-1].Volume / avg
}

// AverageVolume is the mean volume of the last window bars.
func AverageVolume(data []types.OHLCV, window int) float64 {
	if len(data) == 0 {
		return 0
	}
	start := len(data) - window
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, bar := range data[start:] {
		sum += bar.Volume
	}
	return sum / float64(len(data)-start)
}

// RangePct is (max high - min low) over the lookback divided by the last close.
func RangePct(data []types.OHLCV, lookback int) float64 {
	if len(data) == 0 {
		return 0
	}
	start := len(data) - lookback
	if start < 0 {
		start = 0
	}
	hi, lo := math.Inf(-1), math.Inf(1)
	for _, bar := range data[start:] {
		hi = math.Max(hi, bar.High)
		lo = math.Min(lo, bar.Low)
	}
	last := data[len(data)-1].Close
	if last <= 0 {
		return 0
	}
	return (hi - lo) / last
}

// SpreadBp approximates the spread from the last bar range in basis points.
// ok is false when the bar cannot support an estimate.
func SpreadBp(data []types.OHLCV) (bp float64, ok bool) {
	if len(data) == 0 {
		return 0, false
	}
	last := data[len(data)-1]
	if last.Close <= 0 || last.High < last.Low {
		return 0, false
	}
	return (last.High - last.Low) / last.Close * 10000, true
}
