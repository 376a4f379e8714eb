package types

import (
	"encoding/json"
	"math"
	"time"
)

// Risk event types.
const (
	EventTradeCap         = "trade_cap"
	EventDrawdownHalt     = "drawdown_halt"
	EventExposureReject   = "exposure_reject"
	EventExposure         = "exposure"
	EventEarningsCap      = "earnings_cap"
	EventEarningsVeto     = "earnings_veto"
	EventSpreadPenalty    = "spread_penalty"
	EventSpreadReject     = "spread_reject"
	EventIlliquidityVeto  = "illiquidity_veto"
	EventHaltReject       = "halt_reject"
	EventUnknownRiskInput = "unknown_risk_input"
	EventGuardrailError   = "guardrail_error"
	EventHaltResumed      = "halt_resumed"
	EventSessionReset     = "session_reset"
	EventFlatten          = "flatten"
	EventExecutionFailure = "execution_failure"
)

// RiskEvent is an append-only record of a guardrail decision or state change.
type RiskEvent struct {
	ID      int64          `json:"id"`
	TS      time.Time      `json:"ts"`
	Session string         `json:"session"`
	Type    string         `json:"type"`
	Symbol  string         `json:"symbol,omitempty"`
	Value   float64        `json:"value"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// MetaJSON encodes Meta for the meta_json column, "{}" when empty.
func (e RiskEvent) MetaJSON() string {
	return EncodeMeta(e.Meta)
}

// EncodeMeta renders a metadata map as JSON text.
func EncodeMeta(meta map[string]any) string {
	if len(meta) == 0 {
		return "{}"
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodeMeta parses a meta_json column.
func DecodeMeta(raw string) map[string]any {
	if raw == "" || raw == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// DefaultHaltPct is the drawdown percentage at which the halt flag trips.
const DefaultHaltPct = 10.0

// EquitySnapshot is session-level capital state.
type EquitySnapshot struct {
	ID             int64     `json:"id"`
	TS             time.Time `json:"ts"`
	Session        string    `json:"session"`
	StartingEquity float64   `json:"starting_equity"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
}

// PnL is realized plus unrealized.
func (e EquitySnapshot) PnL() float64 {
	return e.RealizedPnL + e.UnrealizedPnL
}

// DrawdownPct is (realized+unrealized)/starting_equity*100, 0 when starting equity is 0.
func (e EquitySnapshot) DrawdownPct() float64 {
	if e.StartingEquity == 0 {
		return 0
	}
	return e.PnL() / e.StartingEquity * 100
}

// HaltFlag reports whether losses reached haltPct of starting equity.
func (e EquitySnapshot) HaltFlag(haltPct float64) bool {
	return e.PnL() <= -e.StartingEquity*haltPct/100
}

// Known reports whether every input is a usable number.
func (e EquitySnapshot) Known() bool {
	for _, v := range []float64{e.StartingEquity, e.RealizedPnL, e.UnrealizedPnL} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return e.StartingEquity > 0
}

// DailyEquity is a row of v_daily_equity.
type DailyEquity struct {
	EquitySnapshot
	DrawdownPct float64 `json:"drawdown_pct"`
	HaltFlag    bool    `json:"halt_flag"`
}
