package risk

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afadxb/bot4.1/internal/config"
	"github.com/afadxb/bot4.1/internal/logger"
	"github.com/afadxb/bot4.1/pkg/types"
)

const session = "2026-03-02"

var fixedNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func riskConfig() config.RiskConfig {
	cfg := config.Default().Risk
	cfg.AccountEquity = 10000
	return cfg
}

func newGuardrail(cfg config.RiskConfig, opts ...Option) *Guardrail {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewGuardrail(cfg, 0.5, session, logger.Nop(), opts...)
}

func equity(realized, unrealized float64) types.EquitySnapshot {
	return types.EquitySnapshot{Session: session, StartingEquity: 10000, RealizedPnL: realized, UnrealizedPnL: unrealized}
}

func entry(symbol string, notional float64) Candidate {
	return Candidate{Symbol: symbol, Side: types.SideLong, Notional: notional, Score: 0.8}
}

func eventTypes(events []types.RiskEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestGuardrail_TradeCap(t *testing.T) {
	cfg := riskConfig()
	cfg.DailyTradeCap = 2
	g := newGuardrail(cfg)

	for _, sym := range []string{"AAPL", "MSFT"} {
		d := g.Evaluate(entry(sym, 1000), equity(0, 0))
		require.True(t, d.Approved, sym)
		assert.Empty(t, d.Events)
		g.RecordEntry(sym, 1000)
	}

	d := g.Evaluate(entry("NVDA", 1000), equity(0, 0))
	assert.False(t, d.Approved)
	assert.Equal(t, types.EventTradeCap, d.Reason)
	require.Len(t, d.Events, 1)
	assert.Equal(t, types.EventTradeCap, d.Events[0].Type)
	assert.Equal(t, "NVDA", d.Events[0].Symbol)
	assert.Equal(t, session, d.Events[0].Session)

	assert.Equal(t, 2, g.Snapshot().TradesToday, "rejections never move the counter")
}

func TestGuardrail_DrawdownBehindTradeCapHalts(t *testing.T) {
	cfg := riskConfig()
	cfg.DailyTradeCap = 1
	g := newGuardrail(cfg)
	require.True(t, g.Evaluate(entry("AAPL", 1000), equity(0, 0)).Approved)
	g.RecordEntry("AAPL", 1000)

	d := g.Evaluate(entry("MSFT", 1000), equity(-600, -400))
	assert.False(t, d.Approved)
	assert.Equal(t, types.EventTradeCap, d.Reason, "cap is checked first")
	assert.Equal(t, []string{types.EventTradeCap, types.EventDrawdownHalt}, eventTypes(d.Events))
	assert.True(t, g.Halted())

	d = g.Evaluate(entry("NVDA", 1000), equity(0, 0))
	assert.Equal(t, types.EventHaltReject, d.Reason)
}

func TestGuardrail_DrawdownHalt(t *testing.T) {
	g := newGuardrail(riskConfig())

	d := g.Evaluate(entry("AAPL", 1000), equity(-600, -399))
	require.True(t, d.Approved)
	assert.False(t, g.Halted())

	d = g.Evaluate(entry("AAPL", 1000), equity(-600, -400))
	assert.False(t, d.Approved)
	assert.Equal(t, []string{types.EventDrawdownHalt}, eventTypes(d.Events))
	assert.InDelta(t, -10.0, d.Events[0].Value, 1e-9)
	assert.True(t, g.Halted())

	// equity recovered, still halted for the session
	d = g.Evaluate(entry("MSFT", 1000), equity(0, 0))
	assert.False(t, d.Approved)
	assert.Equal(t, types.EventHaltReject, d.Reason)

	for _, side := range []types.Side{types.SideExit, types.SideFlatten} {
		d = g.Evaluate(Candidate{Symbol: "AAPL", Side: side, Notional: 1000}, equity(-600, -400))
		assert.True(t, d.Approved, side)
		assert.Empty(t, d.Events)
	}
}

func TestGuardrail_ExposureReject(t *testing.T) {
	cfg := riskConfig()
	cfg.MaxPortfolioExposurePct = 30
	g := newGuardrail(cfg)

	require.True(t, g.Evaluate(entry("AAPL", 2000), equity(0, 0)).Approved)
	ev := g.RecordEntry("AAPL", 2000)
	assert.Equal(t, types.EventExposure, ev.Type)
	assert.Equal(t, 2000.0, ev.Value)

	t.Run("portfolio cap", func(t *testing.T) {
		c := entry("MSFT", 1500)
		c.Score = 1
		d := g.Evaluate(c, equity(0, 0))
		assert.False(t, d.Approved)
		assert.Equal(t, []string{types.EventExposureReject}, eventTypes(d.Events))
		assert.Equal(t, 3500.0, d.Events[0].Meta["portfolio_exposure"])
	})

	t.Run("position cap", func(t *testing.T) {
		d := g.Evaluate(entry("AAPL", 500), equity(0, 0))
		assert.False(t, d.Approved)
		assert.Equal(t, types.EventExposureReject, d.Reason)
	})

	t.Run("released exposure frees room", func(t *testing.T) {
		ev := g.RecordExit("AAPL", 2000)
		assert.Equal(t, -2000.0, ev.Value)
		assert.True(t, g.Evaluate(entry("MSFT", 1500), equity(0, 0)).Approved)
	})
}

func TestGuardrail_EarningsBlackoutCapVsVeto(t *testing.T) {
	c := entry("AAPL", 1000)
	c.Features.EarningsWindow = true

	capCfg := riskConfig()
	capCfg.EarningsBlackoutMode = BlackoutCap
	vetoCfg := riskConfig()
	vetoCfg.EarningsBlackoutMode = BlackoutVeto

	capped := newGuardrail(capCfg).Evaluate(c, equity(0, 0))
	require.True(t, capped.Approved)
	assert.InDelta(t, 0.4, capped.Score, 1e-9)
	assert.Greater(t, capped.Score, 0.0)
	assert.Less(t, capped.Score, c.Score)
	assert.Equal(t, 0.5, capped.SizeFactor)
	assert.Equal(t, []string{types.EventEarningsCap}, eventTypes(capped.Events))

	vetoed := newGuardrail(vetoCfg).Evaluate(c, equity(0, 0))
	assert.False(t, vetoed.Approved)
	assert.Equal(t, []string{types.EventEarningsVeto}, eventTypes(vetoed.Events))
}

func TestGuardrail_BlackoutSet(t *testing.T) {
	cfg := riskConfig()
	cfg.EarningsBlackoutMode = BlackoutVeto
	g := newGuardrail(cfg)

	g.SetBlackout([]string{"TSLA"})
	assert.Equal(t, []string{"TSLA"}, g.Snapshot().BlackoutSymbols())
	assert.False(t, g.Evaluate(entry("TSLA", 1000), equity(0, 0)).Approved)
	assert.True(t, g.Evaluate(entry("AAPL", 1000), equity(0, 0)).Approved)

	cfg.EarningsBlackout = false
	g = newGuardrail(cfg)
	g.SetBlackout([]string{"TSLA"})
	assert.True(t, g.Evaluate(entry("TSLA", 1000), equity(0, 0)).Approved)
}

func TestGuardrail_SpreadAndLiquidity(t *testing.T) {
	wide := 100.0
	tight := 20.0

	tests := []struct {
		name      string
		score     float64
		spread    *float64
		illiquid  bool
		approved  bool
		wantScore float64
		events    []string
	}{
		{"missing spread", 0.8, nil, false, true, 0.8, []string{}},
		{"tight spread", 0.8, &tight, false, true, 0.8, []string{}},
		{"wide spread penalized", 0.8, &wide, false, true, 0.6, []string{types.EventSpreadPenalty}},
		{"wide spread below min", 0.6, &wide, false, false, 0.6, []string{types.EventSpreadReject}},
		{"illiquid vetoed", 0.8, nil, true, false, 0.8, []string{types.EventIlliquidityVeto}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := entry("AAPL", 1000)
			c.Score = tt.score
			c.Features.SpreadBp = tt.spread
			c.Features.Illiquid = tt.illiquid

			d := newGuardrail(riskConfig()).Evaluate(c, equity(0, 0))
			assert.Equal(t, tt.approved, d.Approved)
			assert.InDelta(t, tt.wantScore, d.Score, 1e-9)
			assert.Equal(t, tt.events, eventTypes(d.Events))
		})
	}
}

func TestGuardrail_UnknownInputsFailSafe(t *testing.T) {
	g := newGuardrail(riskConfig())

	d := g.Evaluate(entry("AAPL", 1000), types.EquitySnapshot{StartingEquity: 0})
	assert.False(t, d.Approved)
	assert.Equal(t, types.EventUnknownRiskInput, d.Reason)

	d = g.Evaluate(entry("AAPL", 1000), equity(math.NaN(), 0))
	assert.Equal(t, types.EventUnknownRiskInput, d.Reason)

	d = g.Evaluate(entry("AAPL", math.NaN()), equity(0, 0))
	assert.Equal(t, types.EventUnknownRiskInput, d.Reason)
	assert.Equal(t, "exposure", d.Events[0].Meta["input"])

	d = g.Evaluate(Candidate{Symbol: "AAPL", Side: types.SideExit}, types.EquitySnapshot{})
	assert.True(t, d.Approved, "exits never depend on risk inputs")
}

func TestGuardrail_ErrorsContainedPerSymbol(t *testing.T) {
	g := newGuardrail(riskConfig(), WithCheck(func(c Candidate, _ State) error {
		switch c.Symbol {
		case "BOOM":
			panic("bad input")
		case "FAIL":
			return errors.New("lookup failed")
		}
		return nil
	}))

	d := g.Evaluate(entry("BOOM", 1000), equity(0, 0))
	assert.False(t, d.Approved)
	assert.Equal(t, []string{types.EventGuardrailError}, eventTypes(d.Events))
	assert.Equal(t, "bad input", d.Events[0].Meta["error"])

	d = g.Evaluate(entry("FAIL", 1000), equity(0, 0))
	assert.Equal(t, types.EventGuardrailError, d.Reason)

	assert.True(t, g.Evaluate(entry("AAPL", 1000), equity(0, 0)).Approved)
	assert.False(t, g.Halted())
}

func TestGuardrail_ResetAndResume(t *testing.T) {
	g := newGuardrail(riskConfig())
	g.RecordEntry("AAPL", 1000)
	g.Evaluate(entry("AAPL", 100), equity(-1000, 0))
	require.True(t, g.Halted())

	_, ok := g.Resume("operator")
	assert.True(t, ok)
	assert.False(t, g.Halted())
	_, ok = g.Resume("operator")
	assert.False(t, ok)

	g.Evaluate(entry("AAPL", 100), equity(-1000, 0))
	require.True(t, g.Halted())

	events := g.ResetSession("2026-03-03")
	assert.Equal(t, []string{types.EventHaltResumed, types.EventSessionReset}, eventTypes(events))
	assert.Equal(t, "2026-03-03", events[1].Session)

	s := g.Snapshot()
	assert.False(t, s.Halted)
	assert.Zero(t, s.TradesToday)
	assert.Zero(t, s.PortfolioExposure())
}

func TestGuardrail_LimitsDisabled(t *testing.T) {
	cfg := riskConfig()
	cfg.EnableLimits = false
	cfg.DailyTradeCap = 0
	g := newGuardrail(cfg)

	d := g.Evaluate(entry("AAPL", 50000), equity(-5000, 0))
	assert.True(t, d.Approved)
	assert.False(t, g.Halted())
}
