package features

import (
	"fmt"
	"sort"
	"time"

	"github.com/afadxb/bot4.1/internal/config"
	engerrors "github.com/afadxb/bot4.1/internal/errors"
	"github.com/afadxb/bot4.1/internal/indicators"
	"github.com/afadxb/bot4.1/pkg/types"
)

// Engine derives the indicator snapshot for one symbol from a bar window.
// It holds no state between calls.
type Engine struct {
	strategy config.StrategyConfig
	risk     config.RiskConfig
}

// NewEngine creates a feature engine
func NewEngine(strategy config.StrategyConfig, risk config.RiskConfig) *Engine {
	return &Engine{strategy: strategy, risk: risk}
}

// RequiredBars is the minimum window Compute accepts.
func (e *Engine) RequiredBars() int {
	need := []int{
		e.strategy.EMABias,
		e.strategy.EMASlow + 1,
		e.strategy.ATRPeriod + 1,
		e.strategy.ConsolidationLookback,
		e.strategy.VolumeWindow,
	}
	if e.strategy.EnableSupertrend {
		need = append(need, e.strategy.Supertrend.ATRPeriod+1)
	}
	max := 2
	for _, n := range need {
		if n > max {
			max = n
		}
	}
	return max
}

// Compute builds the snapshot. A short or unusable window is a DataGapError.
func (e *Engine) Compute(symbol string, bars []types.OHLCV, headlines []types.Headline, asOf time.Time) (types.Features, error) {
	var f types.Features

	if len(bars) < e.RequiredBars() {
		return f, engerrors.NewDataGapError("features", symbol,
			fmt.Sprintf("have %d bars, need %d", len(bars), e.RequiredBars()))
	}
	last := bars[len(bars)-1]
	if last.Close <= 0 {
		return f, engerrors.NewDataGapError("features", symbol, "last close is not positive")
	}

	f.Bars = len(bars)
	f.Last = last.Close

	fast := indicators.EMASeries(bars, e.strategy.EMAFast)
	slow := indicators.EMASeries(bars, e.strategy.EMASlow)
	bias := indicators.EMASeries(bars, e.strategy.EMABias)
	f.EMAFast = fast[len(fast)-1]
	f.EMASlow = slow[len(slow)-1]
	f.EMABias = bias[len(bias)-1]
	f.EMABiasPrev = bias[len(bias)-2]

	if vwap, err := indicators.VWAP(bars); err == nil {
		f.VWAP = vwap
	} else {
		f.VWAP = last.Close
	}

	atr, err := indicators.NewATR(e.strategy.ATRPeriod).Calculate(bars)
	if err != nil {
		return f, engerrors.NewDataGapError("features", symbol, err.Error())
	}
	f.ATR = atr

	f.VolSpike = indicators.VolumeSpike(bars, e.strategy.VolumeWindow)
	f.AvgVolume = indicators.AverageVolume(bars, e.strategy.VolumeWindow)
	f.ConsolidationRange = indicators.RangePct(bars, e.strategy.ConsolidationLookback)
	if bp, ok := indicators.SpreadBp(bars); ok {
		f.SpreadBp = &bp
	}
	f.Illiquid = f.AvgVolume < e.risk.MinAvgVolume

	if e.strategy.EnableSupertrend {
		st, err := indicators.NewSuperTrendWithParams(e.strategy.Supertrend.ATRPeriod, e.strategy.Supertrend.ATRMult).Calculate(bars)
		if err != nil {
			return f, engerrors.NewDataGapError("features", symbol, err.Error())
		}
		f.Supertrend = st.Value
		f.SupertrendUp = st.UpTrend
	}

	e.applyCatalysts(&f, headlines, asOf)
	return f, nil
}

func (e *Engine) applyCatalysts(f *types.Features, headlines []types.Headline, asOf time.Time) {
	f.CatalystAgeMin = -1
	if len(headlines) == 0 {
		return
	}
	sorted := make([]types.Headline, len(headlines))
	copy(sorted, headlines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PublishedAt.After(sorted[j].PublishedAt) })

	f.HeadlineCount = len(sorted)
	age := asOf.Sub(sorted[0].PublishedAt).Minutes()
	if age < 0 {
		age = 0
	}
	f.CatalystAgeMin = age
	f.CatalystFresh = age <= e.strategy.CatalystFreshMinutes

	window := e.risk.BlackoutWindow.Minutes()
	for _, h := range sorted {
		if !h.Earnings {
			continue
		}
		if a := asOf.Sub(h.PublishedAt).Minutes(); a >= 0 && a < window {
			f.EarningsWindow = true
			break
		}
	}
}
