package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afadxb/bot4.1/internal/config"
	engerrors "github.com/afadxb/bot4.1/internal/errors"
	"github.com/afadxb/bot4.1/internal/execution"
	"github.com/afadxb/bot4.1/internal/features"
	"github.com/afadxb/bot4.1/internal/logger"
	"github.com/afadxb/bot4.1/internal/risk"
	"github.com/afadxb/bot4.1/internal/storage"
	"github.com/afadxb/bot4.1/internal/strategy"
	"github.com/afadxb/bot4.1/pkg/types"
)

// uptrendBars rises slowly in a tight range and ends on a volume spike, so
// every weighting rule passes with the default strategy block.
func uptrendBars(n int, base float64) []types.OHLCV {
	t0 := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC).Add(-time.Duration(n) * 5 * time.Minute)
	bars := make([]types.OHLCV, n)
	for i := range bars {
		c := base + 0.05*float64(i)
		bars[i] = types.OHLCV{
			Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute),
			Open:      c - 0.02,
			High:      c + 0.2,
			Low:       c - 0.2,
			Close:     c,
			Volume:    1_000_000,
		}
	}
	bars[n-1].Volume = 3_000_000
	return bars
}

func downtrendBars(n int, base float64) []types.OHLCV {
	t0 := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC).Add(-time.Duration(n) * 5 * time.Minute)
	bars := make([]types.OHLCV, n)
	for i := range bars {
		c := base - 0.05*float64(i)
		bars[i] = types.OHLCV{
			Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute),
			Open:      c + 0.02,
			High:      c + 0.2,
			Low:       c - 0.2,
			Close:     c,
			Volume:    1_000_000,
		}
	}
	return bars
}

type fakeMarket struct {
	mu   sync.Mutex
	bars map[string][]types.OHLCV
	errs map[string]error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{bars: map[string][]types.OHLCV{}, errs: map[string]error{}}
}

func (m *fakeMarket) set(symbol string, bars []types.OHLCV) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

func (m *fakeMarket) Bars(ctx context.Context, symbol string) ([]types.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, engerrors.Wrap(err, engerrors.KindCancelled, "datahub", "bars", "cancelled")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[symbol]; ok {
		return nil, err
	}
	bars, ok := m.bars[symbol]
	if !ok {
		return nil, engerrors.NewDataGapError("datahub", symbol, "no bars")
	}
	out := make([]types.OHLCV, len(bars))
	copy(out, bars)
	return out, nil
}

func (m *fakeMarket) Headlines(context.Context, string) ([]types.Headline, error) {
	return nil, nil
}

// recordingVenue accepts every order like a live venue would.
type recordingVenue struct {
	mu     sync.Mutex
	sent   []types.OrderIntent
	fail   map[string]bool
	onSend func()
}

func (v *recordingVenue) Name() string { return "paper" }

func (v *recordingVenue) Send(_ context.Context, intent types.OrderIntent) (types.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fail[intent.Symbol] {
		return types.OrderResult{}, errors.New("venue rejected order")
	}
	v.sent = append(v.sent, intent)
	if v.onSend != nil {
		v.onSend()
	}
	return types.OrderResult{
		OrderID:   fmt.Sprintf("ord-%d", len(v.sent)),
		Status:    types.OrderStatusAccepted,
		FilledQty: intent.Qty,
		AvgPrice:  intent.Entry,
	}, nil
}

func (v *recordingVenue) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.sent)
}

type harness struct {
	orch   *Orchestrator
	store  *storage.MemoryStore
	market *fakeMarket
	guard  *risk.Guardrail
	trades *execution.Manager
	now    time.Time
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) at(hour, minute int) {
	y, m, d := h.now.Date()
	h.now = time.Date(y, m, d, hour, minute, 0, 0, h.now.Location())
}

func testConfig() *config.Config {
	cfg := config.Default()
	return &cfg
}

func newHarness(t *testing.T, cfg *config.Config, venue execution.Venue, symbols ...string) *harness {
	t.Helper()
	loc, err := cfg.Location()
	require.NoError(t, err)
	clock, err := NewMarketClock(cfg.Orchestrator)
	require.NoError(t, err)

	h := &harness{market: newFakeMarket(), now: time.Date(2026, 3, 2, 10, 0, 0, 0, loc)}
	h.store = storage.NewMemoryStore(loc)
	h.store.SetClock(h.clock)

	var watch []types.WatchlistEntry
	for _, s := range symbols {
		watch = append(watch, types.WatchlistEntry{Symbol: s, Enabled: true})
	}
	require.NoError(t, h.store.UpsertWatchlist(context.Background(), watch))

	h.guard = risk.NewGuardrail(cfg.Risk, cfg.Orchestrator.MinEntryScore, clock.SessionID(h.now), logger.Nop(), risk.WithClock(h.clock))
	h.trades = execution.NewManager(cfg.Execution, cfg.Risk, venue, logger.Nop(), execution.WithClock(h.clock))

	ids := 0
	h.orch, err = New(Deps{
		Config:   cfg,
		Clock:    clock,
		Store:    h.store,
		Market:   h.market,
		Features: features.NewEngine(cfg.Strategy, cfg.Risk),
		Scorer:   strategy.NewScorer(cfg.Strategy),
		Guard:    h.guard,
		Trades:   h.trades,
		Log:      logger.Nop(),
	}, WithClock(h.clock), WithIDs(func() string {
		ids++
		return fmt.Sprintf("cycle-%d", ids)
	}))
	require.NoError(t, err)
	return h
}

func eventsOf(events []types.RiskEvent, eventType string) []types.RiskEvent {
	var out []types.RiskEvent
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// tripHalt pushes the guardrail into the drawdown halt.
func tripHalt(t *testing.T, g *risk.Guardrail) {
	t.Helper()
	d := g.Evaluate(risk.Candidate{Symbol: "ZZZ", Side: types.SideLong, Notional: 100, Score: 1},
		types.EquitySnapshot{StartingEquity: 10000, RealizedPnL: -1000})
	require.False(t, d.Approved)
	require.True(t, g.Halted())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.True(t, engerrors.IsFatal(err))

	_, err = New(Deps{Config: testConfig()})
	assert.True(t, engerrors.IsFatal(err))
}

func TestRunCycle_ScoresRanksAndOpens(t *testing.T) {
	venue := execution.NewDryRunVenue()
	h := newHarness(t, testConfig(), venue, "BBB", "AAA", "CCC")
	h.market.set("AAA", uptrendBars(120, 100))
	h.market.set("BBB", uptrendBars(120, 100))
	h.market.set("CCC", downtrendBars(120, 110))

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CycleCompleted, report.Status)
	assert.Equal(t, "2026-03-02", report.Session)
	assert.True(t, report.DryRun)
	require.Len(t, report.Signals, 3)

	order := []string{report.Signals[0].Symbol, report.Signals[1].Symbol, report.Signals[2].Symbol}
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, order)
	for i, sig := range report.Signals {
		assert.Equal(t, i+1, sig.Rank)
		assert.Equal(t, "cycle-1", sig.CycleID)
	}
	assert.Equal(t, 1.0, report.Signals[0].FinalScore)
	assert.Less(t, report.Signals[2].FinalScore, 0.5)

	assert.Equal(t, 2, report.Approved)
	assert.Len(t, venue.Sent(), 2)
	assert.True(t, h.trades.HasPosition("AAA"))
	assert.False(t, h.trades.HasPosition("CCC"))
	assert.Equal(t, 2, h.guard.Snapshot().TradesToday)
	assert.Equal(t, StateIdle.String(), report.State)

	latest, err := h.store.LatestSignals(context.Background())
	require.NoError(t, err)
	assert.Len(t, latest, 3)

	trades, err := h.store.Trades(context.Background(), "2026-03-02")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].DryRun)

	exposure, err := h.store.IntradayExposure(context.Background())
	require.NoError(t, err)
	assert.Len(t, exposure, 2)

	journal := h.store.Journal()
	require.NotEmpty(t, journal)
	assert.Equal(t, JournalCycleCategory, journal[len(journal)-1].Category)
}

func TestRunCycle_TradeCapRejectsThird(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.DailyTradeCap = 2
	venue := execution.NewDryRunVenue()
	h := newHarness(t, cfg, venue, "AAA", "BBB", "CCC")
	for _, s := range []string{"AAA", "BBB", "CCC"} {
		h.market.set(s, uptrendBars(120, 100))
	}

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Approved)
	assert.Equal(t, 1, report.Rejected)
	caps := eventsOf(report.Events, types.EventTradeCap)
	require.Len(t, caps, 1)
	assert.Equal(t, "CCC", caps[0].Symbol)
	assert.Len(t, venue.Sent(), 2)
	assert.False(t, h.trades.HasPosition("CCC"))
	assert.Len(t, eventsOf(h.store.RiskEvents(), types.EventTradeCap), 1)
}

func TestRunCycle_DataGapSkipsOnlyThatSymbol(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"gap", engerrors.NewDataGapError("datahub", "BBB", "retries exhausted")},
		{"timeout", engerrors.Wrap(context.DeadlineExceeded, engerrors.KindDataGap, "datahub", "bars", "timeout")},
		{"short window", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), execution.NewDryRunVenue(), "AAA", "BBB")
			h.market.set("AAA", uptrendBars(120, 100))
			if tt.err != nil {
				h.market.errs["BBB"] = tt.err
			} else {
				h.market.set("BBB", uptrendBars(10, 100))
			}

			report, err := h.orch.RunCycle(context.Background())
			require.NoError(t, err)

			assert.Equal(t, CycleCompleted, report.Status)
			require.Len(t, report.Signals, 1)
			assert.Equal(t, "AAA", report.Signals[0].Symbol)
			assert.Contains(t, report.Skipped, "BBB")
			assert.False(t, h.guard.Halted())
			assert.Equal(t, 1, report.Approved)
		})
	}
}

func TestRunCycle_ExecutionFailureIsContained(t *testing.T) {
	venue := &recordingVenue{fail: map[string]bool{"AAA": true}}
	cfg := testConfig()
	cfg.SetLive(true)
	h := newHarness(t, cfg, venue, "AAA", "BBB")
	h.market.set("AAA", uptrendBars(120, 100))
	h.market.set("BBB", uptrendBars(120, 100))

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	failures := eventsOf(report.Events, types.EventExecutionFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "AAA", failures[0].Symbol)
	assert.False(t, h.trades.HasPosition("AAA"))
	assert.True(t, h.trades.HasPosition("BBB"))

	snap := h.guard.Snapshot()
	assert.Equal(t, 1, snap.TradesToday)
	assert.Zero(t, snap.Exposure["AAA"])
}

func TestRunCycle_HaltBlocksEntriesButFlattenStillExits(t *testing.T) {
	h := newHarness(t, testConfig(), execution.NewDryRunVenue(), "AAA", "BBB")
	h.market.set("AAA", uptrendBars(120, 100))
	h.market.set("BBB", uptrendBars(120, 100))
	h.market.set("DDD", uptrendBars(120, 100))

	_, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, h.trades.Positions(), 2)

	tripHalt(t, h.guard)
	require.NoError(t, h.store.UpsertWatchlist(context.Background(), []types.WatchlistEntry{{Symbol: "DDD", Enabled: true}}))

	h.at(11, 0)
	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateHalted.String(), report.State)
	assert.Zero(t, report.Approved)
	rejects := eventsOf(report.Events, types.EventHaltReject)
	require.Len(t, rejects, 1)
	assert.Equal(t, "DDD", rejects[0].Symbol)
	assert.False(t, h.trades.HasPosition("DDD"))

	h.at(15, 56)
	report, err = h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleFlattened, report.Status)
	assert.Len(t, report.Exits, 2)
	for _, exit := range report.Exits {
		assert.Equal(t, types.SideFlatten, exit.Side)
	}
	assert.Len(t, eventsOf(report.Events, types.EventFlatten), 2)
	assert.Empty(t, h.trades.Positions())
	assert.True(t, h.guard.Halted())
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Empty(t, h.guard.Snapshot().Exposure)

	h.at(16, 10)
	report, err = h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleIdle, report.Status)
	assert.Empty(t, report.Exits)

	h.now = h.now.AddDate(0, 0, 1)
	h.at(9, 35)
	report, err = h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-03-03", report.Session)
	assert.False(t, h.guard.Halted())
	assert.Len(t, eventsOf(report.Events, types.EventHaltResumed), 1)
	assert.Len(t, eventsOf(report.Events, types.EventSessionReset), 1)
}

func TestRunCycle_DryRunAndLiveProduceSameArtifacts(t *testing.T) {
	run := func(live bool) *harness {
		cfg := testConfig()
		var venue execution.Venue = execution.NewDryRunVenue()
		if live {
			cfg.SetLive(true)
			venue = &recordingVenue{}
		}
		h := newHarness(t, cfg, venue, "AAA", "BBB", "CCC")
		h.market.set("AAA", uptrendBars(120, 100))
		h.market.set("BBB", uptrendBars(120, 50))
		h.market.set("CCC", downtrendBars(120, 110))

		_, err := h.orch.RunCycle(context.Background())
		require.NoError(t, err)
		h.at(15, 56)
		_, err = h.orch.RunCycle(context.Background())
		require.NoError(t, err)
		return h
	}
	dry, live := run(false), run(true)

	signals := func(h *harness) []types.Signal {
		out, err := h.store.LatestSignals(context.Background())
		require.NoError(t, err)
		for i := range out {
			out[i].ID = 0
		}
		return out
	}
	events := func(h *harness) []types.RiskEvent {
		out := h.store.RiskEvents()
		for i := range out {
			out[i].ID = 0
		}
		return out
	}
	journal := func(h *harness) []types.JournalEntry {
		out := h.store.Journal()
		for i := range out {
			out[i].ID = 0
		}
		return out
	}

	assert.Equal(t, signals(dry), signals(live))
	assert.Equal(t, events(dry), events(live))
	assert.Equal(t, journal(dry), journal(live))

	dryTrades, err := dry.store.Trades(context.Background(), "2026-03-02")
	require.NoError(t, err)
	liveTrades, err := live.store.Trades(context.Background(), "2026-03-02")
	require.NoError(t, err)
	require.Len(t, liveTrades, len(dryTrades))
	for i := range dryTrades {
		assert.True(t, dryTrades[i].DryRun)
		assert.False(t, liveTrades[i].DryRun)
		assert.Equal(t, dryTrades[i].Qty, liveTrades[i].Qty)
		assert.Equal(t, dryTrades[i].Side, liveTrades[i].Side)
	}
}

func TestRunCycle_CancelledBeforeStart(t *testing.T) {
	venue := execution.NewDryRunVenue()
	h := newHarness(t, testConfig(), venue, "AAA")
	h.market.set("AAA", uptrendBars(120, 100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.orch.RunCycle(ctx)
	require.Error(t, err)
	kind, _ := engerrors.KindOf(err)
	assert.Equal(t, engerrors.KindCancelled, kind)
	assert.Equal(t, CycleAborted, report.Status)
	assert.Empty(t, venue.Sent())
	assert.Zero(t, h.guard.Snapshot().TradesToday)
	assert.Empty(t, h.store.Journal())
}

func TestRunCycle_CancelledMidCycleStopsBeforeNextOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	venue := &recordingVenue{onSend: cancel}
	cfg := testConfig()
	cfg.SetLive(true)
	h := newHarness(t, cfg, venue, "AAA", "BBB")
	h.market.set("AAA", uptrendBars(120, 100))
	h.market.set("BBB", uptrendBars(120, 100))

	report, err := h.orch.RunCycle(ctx)
	require.Error(t, err)
	kind, _ := engerrors.KindOf(err)
	assert.Equal(t, engerrors.KindCancelled, kind)
	assert.Equal(t, CycleAborted, report.Status)

	assert.Equal(t, 1, venue.count())
	assert.Equal(t, 1, h.guard.Snapshot().TradesToday)
	assert.True(t, h.trades.HasPosition("AAA"))
	assert.False(t, h.trades.HasPosition("BBB"))

	latest, err := h.store.LatestSignals(context.Background())
	require.NoError(t, err)
	assert.Len(t, latest, 2)
	trades, err := h.store.Trades(context.Background(), "2026-03-02")
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestStartSessionAndResume(t *testing.T) {
	h := newHarness(t, testConfig(), execution.NewDryRunVenue(), "AAA")
	h.market.set("AAA", uptrendBars(120, 100))
	ctx := context.Background()

	_, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)

	tripHalt(t, h.guard)
	resumed, err := h.orch.Resume(ctx, "operator")
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.False(t, h.guard.Halted())

	resumed, err = h.orch.Resume(ctx, "operator")
	require.NoError(t, err)
	assert.False(t, resumed)

	tripHalt(t, h.guard)
	require.NoError(t, h.orch.StartSession(ctx, h.now))
	assert.True(t, h.guard.Halted(), "same session is a no-op")

	next := h.now.AddDate(0, 0, 1)
	require.NoError(t, h.orch.StartSession(ctx, next))
	assert.False(t, h.guard.Halted())
	assert.Equal(t, "2026-03-03", h.orch.Session())
	assert.Equal(t, StateIdle, h.orch.State())
	assert.Zero(t, h.guard.Snapshot().TradesToday)
}

func TestEventHook_SessionOpenAndResume(t *testing.T) {
	h := newHarness(t, testConfig(), execution.NewDryRunVenue(), "AAA")
	h.market.set("AAA", uptrendBars(120, 100))
	ctx := context.Background()

	type call struct {
		source string
		kinds  []string
	}
	var calls []call
	WithEventHook(func(_ context.Context, source string, events []types.RiskEvent) {
		c := call{source: source}
		for _, ev := range events {
			c.kinds = append(c.kinds, ev.Type)
		}
		calls = append(calls, c)
	})(h.orch)

	_, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, calls, "cycle events travel in the report")

	tripHalt(t, h.guard)
	resumed, err := h.orch.Resume(ctx, "risk desk")
	require.NoError(t, err)
	require.True(t, resumed)
	require.Len(t, calls, 1)
	assert.Equal(t, SourceResume, calls[0].source)
	assert.Equal(t, []string{types.EventHaltResumed}, calls[0].kinds)

	_, err = h.orch.Resume(ctx, "again")
	require.NoError(t, err)
	assert.Len(t, calls, 1, "nothing to resume")

	tripHalt(t, h.guard)
	require.NoError(t, h.orch.StartSession(ctx, h.now.AddDate(0, 0, 1)))
	require.Len(t, calls, 2)
	assert.Equal(t, SourceSessionOpen, calls[1].source)
	assert.Contains(t, calls[1].kinds, types.EventHaltResumed)
}

func TestRunCycle_ExposureRejectSendsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.MaxPortfolioExposurePct = 0.01
	venue := &recordingVenue{}
	h := newHarness(t, cfg, venue, "AAA", "BBB")
	h.market.set("AAA", uptrendBars(120, 100))
	h.market.set("BBB", uptrendBars(120, 100))

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Approved)
	assert.Equal(t, 2, report.Rejected)
	assert.Len(t, eventsOf(report.Events, types.EventExposureReject), 2)
	assert.Empty(t, eventsOf(report.Events, types.EventExposure))
	assert.Zero(t, venue.count())
	assert.Empty(t, h.trades.Positions())
	assert.Zero(t, h.guard.Snapshot().TradesToday)
}

func TestRunCycle_EarningsCapHalvesSize(t *testing.T) {
	run := func(t *testing.T, blackout bool) (CycleReport, *recordingVenue, *harness) {
		cfg := testConfig()
		cfg.Risk.EarningsBlackout = blackout
		cfg.Risk.BlackoutSymbols = []string{"AAA"}
		venue := &recordingVenue{}
		h := newHarness(t, cfg, venue, "AAA")
		h.market.set("AAA", uptrendBars(120, 100))
		report, err := h.orch.RunCycle(context.Background())
		require.NoError(t, err)
		return report, venue, h
	}

	base, baseVenue, _ := run(t, false)
	require.Equal(t, 1, base.Approved)
	require.Equal(t, 1, baseVenue.count())
	assert.Empty(t, eventsOf(base.Events, types.EventEarningsCap))

	capped, cappedVenue, h := run(t, true)
	require.Equal(t, 1, capped.Approved)
	require.Equal(t, 1, cappedVenue.count())

	caps := eventsOf(capped.Events, types.EventEarningsCap)
	require.Len(t, caps, 1)
	assert.Equal(t, "AAA", caps[0].Symbol)

	want := math.Max(1, math.Floor(baseVenue.sent[0].Qty*0.5))
	assert.Equal(t, want, cappedVenue.sent[0].Qty)
	assert.Less(t, cappedVenue.sent[0].Qty, baseVenue.sent[0].Qty)
	assert.Equal(t, 0.5, cappedVenue.sent[0].SizeFactor)
	assert.InDelta(t, base.Orders[0].Score*0.5, capped.Orders[0].Score, 1e-9)

	exposure := eventsOf(capped.Events, types.EventExposure)
	require.Len(t, exposure, 1)
	assert.InDelta(t, cappedVenue.sent[0].Notional(), exposure[0].Value, 1e-9, "exposure is booked at the reduced size")

	// the signal row keeps the scorer output, the entry journal carries the gated score
	assert.Equal(t, base.Signals[0].FinalScore, capped.Signals[0].FinalScore)
	var entry map[string]any
	for _, j := range h.store.Journal() {
		if j.Category == execution.JournalEntryCategory {
			entry = types.DecodeMeta(j.Payload)
		}
	}
	require.NotNil(t, entry)
	assert.InDelta(t, capped.Orders[0].Score, entry["score"], 1e-9)
	assert.Equal(t, 0.5, entry["size_factor"])
}
