package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afadxb/bot4.1/pkg/types"
)

// generateTrend builds n bars whose close moves by step each bar.
func generateTrend(n int, start, step float64) []types.OHLCV {
	base := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	data := make([]types.OHLCV, n)
	for i := 0; i < n; i++ {
		price := start + float64(i)*step
		data[i] = types.OHLCV{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price - step/2,
			High:      price + 0.5,
			Low:       price - 0.5,
			Close:     price,
			Volume:    1000,
		}
	}
	return data
}

func TestEMA_SeededFromFirstValue(t *testing.T) {
	data := []types.OHLCV{{Close: 10}, {Close: 20}}
	ema := NewEMA(2)

	value, err := ema.Calculate(data)
	require.NoError(t, err)
	assert.InDelta(t, 10+(20-10)*2.0/3.0, value, 1e-9)
	assert.Equal(t, value, ema.GetLastValue())
}

func TestEMA_InsufficientData(t *testing.T) {
	_, err := NewEMA(9).Calculate(generateTrend(5, 100, 1))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient data")
}

func TestEMA_CalculateIsRepeatable(t *testing.T) {
	data := generateTrend(30, 100, 1)
	ema := NewEMA(9)
	first, err := ema.Calculate(data)
	require.NoError(t, err)
	second, err := ema.Calculate(data)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	series := EMASeries(data, 9)
	assert.Len(t, series, len(data))
	assert.Equal(t, first, series[len(series)-1])
}

func TestATR_FlatRange(t *testing.T) {
	data := make([]types.OHLCV, 20)
	for i := range data {
		data[i] = types.OHLCV{High: 101, Low: 99, Close: 100}
	}
	atr, err := NewATR(14).Calculate(data)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, atr, 1e-9)

	_, err = NewATR(14).Calculate(data[:10])
	assert.Error(t, err)
}

func TestVWAP(t *testing.T) {
	data := []types.OHLCV{
		{Close: 10, Volume: 100},
		{Close: 20, Volume: 300},
	}
	vwap, err := VWAP(data)
	require.NoError(t, err)
	assert.InDelta(t, 17.5, vwap, 1e-9)

	_, err = VWAP([]types.OHLCV{{Close: 10}})
	assert.ErrorIs(t, err, ErrNoVolume)
}

func TestVolumeSpikeAndAverage(t *testing.T) {
	data := generateTrend(20, 100, 0)
	data[len(data)-1].Volume = 3000

	assert.InDelta(t, 3.0, VolumeSpike(data, 20), 1e-9)
	assert.InDelta(t, (19*1000.0+3000)/20, AverageVolume(data, 20), 1e-9)
	assert.Equal(t, 0.0, VolumeSpike(data[:1], 20))
}

func TestRangeAndSpread(t *testing.T) {
	data := generateTrend(10, 100, 1)
	// highs/lows span from 99.5 to 109.5, last close 109
	assert.InDelta(t, 10.0/109.0, RangePct(data, 20), 1e-9)

	bp, ok := SpreadBp(data)
	require.True(t, ok)
	assert.InDelta(t, 1.0/109.0*10000, bp, 1e-9)

	_, ok = SpreadBp(nil)
	assert.False(t, ok)
}

func TestSuperTrend_Direction(t *testing.T) {
	st := NewSuperTrendWithParams(10, 3)

	up, err := st.Calculate(generateTrend(40, 100, 1))
	require.NoError(t, err)
	assert.True(t, up.UpTrend)
	assert.Equal(t, up.LowerBand, up.Value)

	down, err := st.Calculate(generateTrend(40, 200, -1))
	require.NoError(t, err)
	assert.False(t, down.UpTrend)
	assert.Equal(t, down.UpperBand, down.Value)

	_, err = st.Calculate(generateTrend(5, 100, 1))
	assert.Error(t, err)
}
