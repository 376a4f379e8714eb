// Package execution sizes approved signals into order intents, sends them
// through a venue and manages open positions until exit or flatten.
package execution

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/afadxb/bot4.1/internal/config"
	engerrors "github.com/afadxb/bot4.1/internal/errors"
	"github.com/afadxb/bot4.1/pkg/types"
)

// Exit reasons
const (
	ReasonStop      = "stop"
	ReasonTrailStop = "trail_stop"
	ReasonScaleOut  = "scale_out"
	ReasonTarget    = "target"
	ReasonFlatten   = "flatten"
)

// Journal categories
const (
	JournalEntryCategory = "entry"
	JournalExitCategory  = "exit"
)

// Position is an open, trail-managed position.
type Position struct {
	Symbol      string          `json:"symbol"`
	CycleID     string          `json:"cycle_id"`
	Qty         float64         `json:"qty"`
	Remaining   float64         `json:"remaining"`
	Entry       float64         `json:"entry"`
	Stop        float64         `json:"stop"`
	InitialStop float64         `json:"initial_stop"`
	ScaleOut    float64         `json:"scale_out"`
	Target      float64         `json:"target"`
	TrailMode   types.TrailMode `json:"trail_mode"`
	HighWater   float64         `json:"high_water"`
	Last        float64         `json:"last"`
	ScaledOut   bool            `json:"scaled_out"`
	OpenedAt    time.Time       `json:"opened_at"`
	// LastBar is the open time of the newest bar marked against the position.
	LastBar     time.Time       `json:"last_bar"`
}

// Unrealized is the open P&L at the last marked price.
func (p Position) Unrealized() float64 {
	return (p.Last - p.Entry) * p.Remaining
}

// Manager is the trade manager. It is safe for concurrent use, but the
// orchestrator drives it from a single goroutine.
type Manager struct {
	mu        sync.Mutex
	exec      config.ExecutionConfig
	risk      config.RiskConfig
	venue     Venue
	positions map[string]*Position
	realized  float64
	journal   []types.JournalEntry
	trades    []types.TradeRecord
	now       func() time.Time
	log       zerolog.Logger
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock sets the clock used for records.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a trade manager sending through venue.
func NewManager(exec config.ExecutionConfig, risk config.RiskConfig, venue Venue, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		exec:      exec,
		risk:      risk,
		venue:     venue,
		positions: make(map[string]*Position),
		now:       time.Now,
		log:       log.With().Str("component", "execution").Str("venue", venue.Name()).Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Size turns a signal into a long intent using risk-per-trade sizing:
// qty = floor(risk_pct*equity/100 / max(|entry-stop|, min_tick)), capped at
// the per-position value limit. ok is false when the size rounds to zero.
func (m *Manager) Size(sig types.Signal, equity float64, cycleID string) (types.OrderIntent, bool) {
	entry := sig.EntryHint
	if entry <= 0 || equity <= 0 {
		return types.OrderIntent{}, false
	}
	dist := math.Max(math.Abs(entry-sig.StopHint), m.risk.MinTickBuffer)
	if dist <= 0 || math.IsNaN(dist) {
		return types.OrderIntent{}, false
	}

	qty := math.Floor(m.risk.RiskPerTradePct * equity / 100 / dist)
	if m.risk.MaxPositionValuePct > 0 {
		if limit := math.Floor(equity * m.risk.MaxPositionValuePct / 100 / entry); qty > limit {
			qty = limit
		}
	}
	if qty < 1 {
		return types.OrderIntent{}, false
	}

	return types.OrderIntent{
		ID:         uuid.NewString(),
		CycleID:    cycleID,
		Symbol:     sig.Symbol,
		Side:       types.SideLong,
		Qty:        qty,
		Entry:      entry,
		Stop:       entry - dist,
		ScaleOut:   entry + m.exec.ScaleOutAtR*dist,
		Target:     entry + m.exec.FinalTargetR*dist,
		TrailMode:  types.TrailMode(m.exec.TrailMode),
		Score:      sig.FinalScore,
		CreatedAt:  m.now().UTC(),
		SizeFactor: 1,
	}, true
}

// ScaleSize reduces an intent by factor, keeping at least one share.
func ScaleSize(intent types.OrderIntent, factor float64) types.OrderIntent {
	if factor <= 0 || factor >= 1 {
		return intent
	}
	intent.Qty = math.Max(1, math.Floor(intent.Qty*factor))
	intent.SizeFactor = factor
	return intent
}

// HasPosition reports whether symbol has an open position.
func (m *Manager) HasPosition(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[symbol]
	return ok
}

// Open sends an entry and starts managing the position. Cancellation is
// checked before the send; a venue error is an ExecutionFailure and leaves
// no position behind.
func (m *Manager) Open(ctx context.Context, intent types.OrderIntent, session string) (types.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderResult{}, engerrors.Wrap(err, engerrors.KindCancelled, "execution", "open", "cancelled before send")
	}
	if m.HasPosition(intent.Symbol) {
		return types.OrderResult{}, engerrors.New(engerrors.KindExecution, "execution", "open",
			"position already open").WithContext("symbol", intent.Symbol)
	}

	res, err := m.venue.Send(ctx, intent)
	if err != nil {
		m.log.Error().Err(err).Str("symbol", intent.Symbol).Msg("entry send failed")
		return res, engerrors.NewExecutionFailure(intent.Symbol, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	m.positions[intent.Symbol] = &Position{
		Symbol:      intent.Symbol,
		CycleID:     intent.CycleID,
		Qty:         intent.Qty,
		Remaining:   intent.Qty,
		Entry:       intent.Entry,
		Stop:        intent.Stop,
		InitialStop: intent.Stop,
		ScaleOut:    intent.ScaleOut,
		Target:      intent.Target,
		TrailMode:   intent.TrailMode,
		HighWater:   intent.Entry,
		Last:        intent.Entry,
		OpenedAt:    now,
	}
	m.record(session, intent, res, "open")
	m.note(JournalEntryCategory,
		fmt.Sprintf("entry %s qty %.0f @ %.2f stop %.2f target %.2f", intent.Symbol, intent.Qty, intent.Entry, intent.Stop, intent.Target),
		intent)

	m.log.Info().
		Str("symbol", intent.Symbol).
		Float64("qty", intent.Qty).
		Float64("entry", intent.Entry).
		Float64("stop", intent.Stop).
		Str("status", res.Status).
		Msg("position opened")
	return res, nil
}

// Mark updates a position with a new bar and returns the exits it
// triggers: stop, one-time scale-out, final target. After scale-out the
// remainder trails per the configured mode; the stop never loosens. A bar
// not newer than the last one marked is ignored.
func (m *Manager) Mark(symbol string, bar types.OHLCV, f types.Features) []types.OrderIntent {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		return nil
	}
	if !pos.LastBar.IsZero() && !bar.Timestamp.After(pos.LastBar) {
		return nil
	}
	pos.LastBar = bar.Timestamp
	pos.Last = bar.Close
	pos.HighWater = math.Max(pos.HighWater, bar.High)

	if bar.Low <= pos.Stop {
		reason := ReasonStop
		if pos.Stop > pos.InitialStop {
			reason = ReasonTrailStop
		}
		return []types.OrderIntent{m.exitIntent(pos, types.SideExit, pos.Remaining, pos.Stop, reason)}
	}

	var out []types.OrderIntent
	remaining := pos.Remaining
	trailing := pos.ScaledOut
	if !pos.ScaledOut && m.exec.ScaleOutFraction > 0 && bar.High >= pos.ScaleOut {
		q := math.Floor(pos.Qty * m.exec.ScaleOutFraction)
		if q >= 1 && q < remaining {
			out = append(out, m.exitIntent(pos, types.SideExit, q, pos.ScaleOut, ReasonScaleOut))
			remaining -= q
		} else {
			// too small to split: the whole position stays on and trails from entry
			pos.ScaledOut = true
			pos.Stop = math.Max(pos.Stop, pos.Entry)
			m.log.Info().Str("symbol", symbol).Float64("qty", remaining).Msg("scale-out level reached without a partial exit")
		}
	}
	if bar.High >= pos.Target {
		return append(out, m.exitIntent(pos, types.SideExit, remaining, pos.Target, ReasonTarget))
	}

	if trailing {
		m.trail(pos, f)
	}
	return out
}

func (m *Manager) trail(pos *Position, f types.Features) {
	var candidate float64
	switch pos.TrailMode {
	case types.TrailEMA21:
		candidate = f.EMASlow
	case types.TrailATR:
		if f.ATR > 0 {
			candidate = pos.HighWater - m.exec.ATRTrailMult*f.ATR
		}
	default:
		return
	}
	if candidate > pos.Stop && candidate < pos.Last {
		pos.Stop = candidate
	}
}

// FlattenAll returns flatten intents for every open position at its last
// marked price, in symbol order.
func (m *Manager) FlattenAll(cycleID string) []types.OrderIntent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.OrderIntent
	for _, sym := range m.symbols() {
		pos := m.positions[sym]
		intent := m.exitIntent(pos, types.SideFlatten, pos.Remaining, pos.Last, ReasonFlatten)
		intent.CycleID = cycleID
		out = append(out, intent)
	}
	return out
}

// Exit sends an exit or flatten intent and books the fill. It returns the
// entry notional released, for exposure accounting.
func (m *Manager) Exit(ctx context.Context, intent types.OrderIntent, session string) (float64, error) {
	if intent.Side.IsEntry() {
		return 0, fmt.Errorf("exit called with entry side for %s", intent.Symbol)
	}
	if !m.HasPosition(intent.Symbol) {
		return 0, nil
	}

	res, err := m.venue.Send(ctx, intent)
	if err != nil {
		m.log.Error().Err(err).Str("symbol", intent.Symbol).Str("reason", intent.Reason).Msg("exit send failed")
		return 0, engerrors.NewExecutionFailure(intent.Symbol, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[intent.Symbol]
	if !ok {
		return 0, nil
	}
	qty := math.Min(intent.Qty, pos.Remaining)
	pnl := (intent.Entry - pos.Entry) * qty
	m.realized += pnl
	pos.Remaining -= qty
	if intent.Reason == ReasonScaleOut {
		pos.ScaledOut = true
		pos.Stop = math.Max(pos.Stop, pos.Entry)
	}

	status := "partial"
	if pos.Remaining <= 0 {
		delete(m.positions, intent.Symbol)
		status = "closed"
	}
	m.record(session, intent, res, status)
	m.note(JournalExitCategory,
		fmt.Sprintf("%s %s qty %.0f @ %.2f pnl %.2f (%s)", intent.Side, intent.Symbol, qty, intent.Entry, pnl, intent.Reason),
		intent)

	m.log.Info().
		Str("symbol", intent.Symbol).
		Str("reason", intent.Reason).
		Float64("qty", qty).
		Float64("price", intent.Entry).
		Float64("pnl", pnl).
		Msg("position reduced")
	return qty * pos.Entry, nil
}

// Positions returns copies of the open positions in symbol order.
func (m *Manager) Positions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Position, 0, len(m.positions))
	for _, sym := range m.symbols() {
		out = append(out, *m.positions[sym])
	}
	return out
}

// RealizedPnL returns the booked P&L for the session.
func (m *Manager) RealizedPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realized
}

// UnrealizedPnL marks every open position to its last price.
func (m *Manager) UnrealizedPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0.0
	for _, pos := range m.positions {
		total += pos.Unrealized()
	}
	return total
}

// Equity builds the session equity snapshot.
func (m *Manager) Equity(session string, startingEquity float64) types.EquitySnapshot {
	return types.EquitySnapshot{
		TS:             m.now().UTC(),
		Session:        session,
		StartingEquity: startingEquity,
		RealizedPnL:    m.RealizedPnL(),
		UnrealizedPnL:  m.UnrealizedPnL(),
	}
}

// ResetSession clears realized P&L. Open positions are kept.
func (m *Manager) ResetSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.realized = 0
}

// DrainJournal returns and clears pending journal entries.
func (m *Manager) DrainJournal() []types.JournalEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.journal
	m.journal = nil
	return out
}

// DrainTrades returns and clears pending trade records.
func (m *Manager) DrainTrades() []types.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.trades
	m.trades = nil
	return out
}

func (m *Manager) exitIntent(pos *Position, side types.Side, qty, price float64, reason string) types.OrderIntent {
	return types.OrderIntent{
		ID:         uuid.NewString(),
		CycleID:    pos.CycleID,
		Symbol:     pos.Symbol,
		Side:       side,
		Qty:        qty,
		Entry:      price,
		Stop:       pos.Stop,
		TrailMode:  pos.TrailMode,
		Reason:     reason,
		CreatedAt:  m.now().UTC(),
		SizeFactor: 1,
	}
}

func (m *Manager) symbols() []string {
	out := make([]string, 0, len(m.positions))
	for sym := range m.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) record(session string, intent types.OrderIntent, res types.OrderResult, status string) {
	m.trades = append(m.trades, types.TradeRecord{
		TS:            m.now().UTC(),
		Session:       session,
		CycleID:       intent.CycleID,
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Qty:           intent.Qty,
		EntryPrice:    intent.Entry,
		StopPrice:     intent.Stop,
		ScaleOutPrice: intent.ScaleOut,
		TargetPrice:   intent.Target,
		TrailMode:     intent.TrailMode,
		Status:        status,
		OrderID:       res.OrderID,
		DryRun:        res.Status == types.OrderStatusDryRun,
	})
}

// note appends a journal entry. The journal never carries order ids or
// venue status.
func (m *Manager) note(category, message string, intent types.OrderIntent) {
	m.journal = append(m.journal, types.JournalEntry{
		TS:       m.now().UTC(),
		Category: category,
		Message:  message,
		Payload: types.EncodeMeta(map[string]any{
			"symbol":      intent.Symbol,
			"side":        string(intent.Side),
			"qty":         intent.Qty,
			"price":       intent.Entry,
			"stop":        intent.Stop,
			"target":      intent.Target,
			"trail_mode":  string(intent.TrailMode),
			"score":       intent.Score,
			"size_factor": intent.SizeFactor,
			"reason":      intent.Reason,
		}),
	})
}
