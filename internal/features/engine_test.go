package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afadxb/bot4.1/internal/config"
	engerrors "github.com/afadxb/bot4.1/internal/errors"
	"github.com/afadxb/bot4.1/pkg/types"
)

var asOf = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func bars(n int, start, step, volume float64) []types.OHLCV {
	data := make([]types.OHLCV, n)
	for i := 0; i < n; i++ {
		price := start + float64(i)*step
		data[i] = types.OHLCV{
			Timestamp: asOf.Add(-time.Duration(n-i) * 5 * time.Minute),
			Open:      price,
			High:      price + 0.2,
			Low:       price - 0.2,
			Close:     price,
			Volume:    volume,
		}
	}
	return data
}

func TestCompute_ShortWindowIsDataGap(t *testing.T) {
	cfg := config.Default()
	engine := NewEngine(cfg.Strategy, cfg.Risk)

	_, err := engine.Compute("AAPL", bars(10, 100, 1, 1e6), nil, asOf)
	require.Error(t, err)
	assert.True(t, engerrors.IsDataGap(err))
}

func TestCompute_Uptrend(t *testing.T) {
	cfg := config.Default()
	engine := NewEngine(cfg.Strategy, cfg.Risk)

	f, err := engine.Compute("AAPL", bars(120, 100, 0.5, 1e6), nil, asOf)
	require.NoError(t, err)

	assert.Equal(t, 120, f.Bars)
	assert.Equal(t, 159.5, f.Last)
	assert.Greater(t, f.EMAFast, f.EMASlow)
	assert.Greater(t, f.EMASlow, f.EMABias)
	assert.Greater(t, f.EMABias, f.EMABiasPrev)
	assert.Greater(t, f.Last, f.VWAP)
	assert.False(t, f.Illiquid)
	require.NotNil(t, f.SpreadBp)
	assert.Equal(t, -1.0, f.CatalystAgeMin)
	assert.Equal(t, 0.0, f.Supertrend, "supertrend is not computed when disabled")
}

func TestCompute_IlliquidAndSupertrend(t *testing.T) {
	cfg := config.Default()
	cfg.Strategy.EnableSupertrend = true
	engine := NewEngine(cfg.Strategy, cfg.Risk)

	f, err := engine.Compute("TINY", bars(120, 100, 0.5, 1000), nil, asOf)
	require.NoError(t, err)
	assert.True(t, f.Illiquid)
	assert.True(t, f.SupertrendUp)
	assert.Greater(t, f.Supertrend, 0.0)
}

func TestCompute_Catalysts(t *testing.T) {
	cfg := config.Default()
	engine := NewEngine(cfg.Strategy, cfg.Risk)
	headlines := []types.Headline{
		{Symbol: "AAPL", Headline: "old news", PublishedAt: asOf.Add(-5 * time.Hour)},
		{Symbol: "AAPL", Headline: "Q1 earnings beat", PublishedAt: asOf.Add(-30 * time.Minute), Earnings: true},
	}

	f, err := engine.Compute("AAPL", bars(120, 100, 0.5, 1e6), headlines, asOf)
	require.NoError(t, err)
	assert.Equal(t, 2, f.HeadlineCount)
	assert.InDelta(t, 30.0, f.CatalystAgeMin, 1e-9)
	assert.True(t, f.CatalystFresh)
	assert.True(t, f.EarningsWindow)

	stale := []types.Headline{{Symbol: "AAPL", Headline: "earnings", PublishedAt: asOf.Add(-3 * time.Hour), Earnings: true}}
	f, err = engine.Compute("AAPL", bars(120, 100, 0.5, 1e6), stale, asOf)
	require.NoError(t, err)
	assert.False(t, f.CatalystFresh)
	assert.False(t, f.EarningsWindow)
}
