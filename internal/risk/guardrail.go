// Package risk holds the guardrail that gates every prospective entry
// against session caps, drawdown, exposure and blackout policy.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afadxb/bot4.1/internal/config"
	"github.com/afadxb/bot4.1/pkg/types"
)

// Blackout policies
const (
	BlackoutCap  = "cap"
	BlackoutVeto = "veto"
)

const maxSpreadPenalty = 0.25

// Candidate is a prospective intent presented to the guardrail.
type Candidate struct {
	Symbol   string
	Side     types.Side
	Notional float64
	Score    float64
	Features types.Features
}

// Decision is the guardrail outcome for one candidate. Rejections are
// normal outcomes and always carry at least one event.
type Decision struct {
	Approved   bool
	Reason     string
	Score      float64
	SizeFactor float64
	Events     []types.RiskEvent
}

// Check is an additional guardrail rule evaluated after the built-in ones.
// A returned error rejects the symbol as a guardrail error.
type Check func(c Candidate, s State) error

// Guardrail is the single writer of session risk state.
type Guardrail struct {
	mu       sync.Mutex
	cfg      config.RiskConfig
	minScore float64
	state    State
	checks   []Check
	now      func() time.Time
	log      zerolog.Logger
}

// Option customizes a Guardrail
type Option func(*Guardrail)

// WithClock sets the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Guardrail) { g.now = now }
}

// WithCheck appends an extra rule.
func WithCheck(c Check) Option {
	return func(g *Guardrail) { g.checks = append(g.checks, c) }
}

// NewGuardrail creates a guardrail for session. minScore is the entry
// threshold used by the spread penalty.
func NewGuardrail(cfg config.RiskConfig, minScore float64, session string, log zerolog.Logger, opts ...Option) *Guardrail {
	g := &Guardrail{
		cfg:      cfg,
		minScore: minScore,
		state:    newState(session, cfg.BlackoutSymbols),
		now:      time.Now,
		log:      log.With().Str("component", "risk").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate runs the checks in order against the current state. Exit and
// flatten candidates always pass. A panic inside a check is contained and
// reported as a guardrail_error rejection for that symbol.
func (g *Guardrail) Evaluate(c Candidate, equity types.EquitySnapshot) (d Decision) {
	g.mu.Lock()
	defer g.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d = g.reject(c, types.EventGuardrailError, 0, map[string]any{"error": fmt.Sprint(r)})
		}
	}()
	return g.evaluate(c, equity)
}

func (g *Guardrail) evaluate(c Candidate, equity types.EquitySnapshot) Decision {
	if !c.Side.IsEntry() {
		return Decision{Approved: true, Score: c.Score, SizeFactor: 1}
	}

	// 1. halt
	if g.state.Halted {
		return g.reject(c, types.EventHaltReject, c.Score, nil)
	}

	if !equity.Known() {
		return g.reject(c, types.EventUnknownRiskInput, 0, map[string]any{"input": "equity"})
	}
	if !g.state.Known() || math.IsNaN(c.Notional) || math.IsInf(c.Notional, 0) || c.Notional < 0 {
		return g.reject(c, types.EventUnknownRiskInput, c.Notional, map[string]any{"input": "exposure"})
	}

	if g.cfg.EnableLimits {
		// 2. trade cap
		if g.state.TradesToday >= g.cfg.DailyTradeCap {
			d := g.reject(c, types.EventTradeCap, float64(g.state.TradesToday),
				map[string]any{"cap": g.cfg.DailyTradeCap})
			// a breach behind the cap still halts the session
			if equity.HaltFlag(g.cfg.DailyDrawdownHaltPct) {
				d.Events = append(d.Events, g.halt(c, equity).Events...)
			}
			return d
		}

		// 3. drawdown
		if equity.HaltFlag(g.cfg.DailyDrawdownHaltPct) {
			return g.halt(c, equity)
		}

		// 4. exposure
		positionCap := equity.StartingEquity * g.cfg.MaxPositionValuePct / 100
		portfolioCap := equity.StartingEquity * g.cfg.MaxPortfolioExposurePct / 100
		symbolExposure := g.state.Exposure[c.Symbol] + c.Notional
		portfolioExposure := g.state.PortfolioExposure() + c.Notional
		if symbolExposure > positionCap || portfolioExposure > portfolioCap {
			return g.reject(c, types.EventExposureReject, c.Notional, map[string]any{
				"symbol_exposure":    symbolExposure,
				"position_cap":       positionCap,
				"portfolio_exposure": portfolioExposure,
				"portfolio_cap":      portfolioCap,
			})
		}
	}

	d := Decision{Approved: true, Score: c.Score, SizeFactor: 1}

	// 5. earnings blackout
	if g.cfg.EarningsBlackout && (g.state.Blackout[c.Symbol] || c.Features.EarningsWindow) {
		if g.cfg.EarningsBlackoutMode == BlackoutVeto {
			return g.reject(c, types.EventEarningsVeto, c.Score, nil)
		}
		factor := g.cfg.BlackoutCapFactor
		d.Score *= factor
		d.SizeFactor *= factor
		d.Events = append(d.Events, g.event(types.EventEarningsCap, c.Symbol, factor,
			map[string]any{"score_before": c.Score, "score_after": d.Score}))
	}

	// 6. spread and liquidity
	if g.cfg.IlliquidityVeto && c.Features.Illiquid {
		return g.reject(c, types.EventIlliquidityVeto, c.Features.AvgVolume,
			map[string]any{"min_avg_volume": g.cfg.MinAvgVolume})
	}
	if penalty := g.spreadPenalty(c.Features.SpreadBp); penalty > 0 {
		d.Score -= penalty
		meta := map[string]any{"spread_bp": *c.Features.SpreadBp, "score_after": d.Score}
		if d.Score < g.minScore {
			rej := g.reject(c, types.EventSpreadReject, penalty, meta)
			rej.Events = append(d.Events, rej.Events...)
			return rej
		}
		d.Events = append(d.Events, g.event(types.EventSpreadPenalty, c.Symbol, penalty, meta))
	}

	snapshot := g.state.clone()
	for _, check := range g.checks {
		if err := check(c, snapshot); err != nil {
			rej := g.reject(c, types.EventGuardrailError, 0, map[string]any{"error": err.Error()})
			rej.Events = append(d.Events, rej.Events...)
			return rej
		}
	}

	return d
}

// spreadPenalty is min(0.25, 0.10*spread/threshold) above the threshold.
// Missing spread data carries no penalty.
func (g *Guardrail) spreadPenalty(spreadBp *float64) float64 {
	if spreadBp == nil || g.cfg.SpreadPenaltyBp <= 0 || math.IsNaN(*spreadBp) {
		return 0
	}
	if *spreadBp <= g.cfg.SpreadPenaltyBp {
		return 0
	}
	return math.Min(maxSpreadPenalty, 0.10*(*spreadBp)/g.cfg.SpreadPenaltyBp)
}

// RecordEntry commits an accepted entry after the order went out. It is the
// only place the trade counter moves.
func (g *Guardrail) RecordEntry(symbol string, notional float64) types.RiskEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.TradesToday++
	g.state.Exposure[symbol] += notional
	return g.event(types.EventExposure, symbol, notional, map[string]any{"trades_today": g.state.TradesToday})
}

// RecordExit releases exposure for a closed or reduced position.
func (g *Guardrail) RecordExit(symbol string, notional float64) types.RiskEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	released := math.Min(notional, g.state.Exposure[symbol])
	g.state.Exposure[symbol] -= released
	if g.state.Exposure[symbol] <= 0 {
		delete(g.state.Exposure, symbol)
	}
	return g.event(types.EventExposure, symbol, -released, nil)
}

// ResetSession clears counters, exposure and the halt for a new session.
func (g *Guardrail) ResetSession(session string) []types.RiskEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	var events []types.RiskEvent
	wasHalted := g.state.Halted
	blackout := g.state.BlackoutSymbols()
	g.state = newState(session, blackout)
	if wasHalted {
		events = append(events, g.event(types.EventHaltResumed, "", 0, map[string]any{"trigger": "session_reset"}))
	}
	events = append(events, g.event(types.EventSessionReset, "", 0, nil))
	g.log.Info().Str("session", session).Bool("was_halted", wasHalted).Msg("risk session reset")
	return events
}

// Resume clears the halt within the current session.
func (g *Guardrail) Resume(reason string) (types.RiskEvent, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.Halted {
		return types.RiskEvent{}, false
	}
	g.state.Halted = false
	g.log.Warn().Str("reason", reason).Msg("halt resumed")
	return g.event(types.EventHaltResumed, "", 0, map[string]any{"trigger": reason}), true
}

// SetBlackout replaces the blackout set.
func (g *Guardrail) SetBlackout(symbols []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.Blackout = make(map[string]bool, len(symbols))
	for _, s := range symbols {
		g.state.Blackout[s] = true
	}
}

// Halted reports the current halt flag.
func (g *Guardrail) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Halted
}

// Snapshot returns a copy of the current state.
func (g *Guardrail) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.clone()
}

// halt sets the session halt and returns the drawdown_halt rejection.
func (g *Guardrail) halt(c Candidate, equity types.EquitySnapshot) Decision {
	g.state.Halted = true
	g.log.Error().
		Float64("drawdown_pct", equity.DrawdownPct()).
		Float64("pnl", equity.PnL()).
		Msg("drawdown halt, new entries suspended for the session")
	return g.reject(c, types.EventDrawdownHalt, equity.DrawdownPct(), map[string]any{
		"pnl":             equity.PnL(),
		"starting_equity": equity.StartingEquity,
		"halt_pct":        g.cfg.DailyDrawdownHaltPct,
	})
}

func (g *Guardrail) reject(c Candidate, eventType string, value float64, meta map[string]any) Decision {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["side"] = string(c.Side)
	meta["score"] = c.Score

	g.log.Warn().
		Str("symbol", c.Symbol).
		Str("reason", eventType).
		Float64("value", value).
		Msg("entry rejected")

	return Decision{
		Approved: false,
		Reason:   eventType,
		Score:    c.Score,
		Events:   []types.RiskEvent{g.event(eventType, c.Symbol, value, meta)},
	}
}

func (g *Guardrail) event(eventType, symbol string, value float64, meta map[string]any) types.RiskEvent {
	return types.RiskEvent{
		TS:      g.now().UTC(),
		Session: g.state.Session,
		Type:    eventType,
		Symbol:  symbol,
		Value:   value,
		Meta:    meta,
	}
}
