// Package orchestrator drives the intraday decision cycle: watchlist, bars,
// features, scoring, overlay, ranking, guardrails, sizing and persistence,
// plus the end of day flatten guard and the session/halt transitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/afadxb/bot4.1/internal/config"
	engerrors "github.com/afadxb/bot4.1/internal/errors"
	"github.com/afadxb/bot4.1/internal/execution"
	"github.com/afadxb/bot4.1/internal/features"
	"github.com/afadxb/bot4.1/internal/monitoring"
	"github.com/afadxb/bot4.1/internal/risk"
	"github.com/afadxb/bot4.1/internal/storage"
	"github.com/afadxb/bot4.1/internal/strategy"
	"github.com/afadxb/bot4.1/pkg/types"
)

// JournalCycleCategory tags the per-cycle summary journal entry.
const JournalCycleCategory = "cycle"

// MarketData supplies bars and catalyst headlines per symbol. datahub.Hub
// is the production implementation.
type MarketData interface {
	Bars(ctx context.Context, symbol string) ([]types.OHLCV, error)
	Headlines(ctx context.Context, symbol string) ([]types.Headline, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Config   *config.Config
	Clock    *MarketClock
	Store    storage.Store
	Market   MarketData
	Features *features.Engine
	Scorer   *strategy.Scorer
	Adjuster strategy.Adjuster
	Guard    *risk.Guardrail
	Trades   *execution.Manager
	Log      zerolog.Logger
}

// CycleReport summarizes one orchestration pass.
type CycleReport struct {
	ID       string               `json:"id"`
	Session  string               `json:"session"`
	Start    time.Time            `json:"start"`
	End      time.Time            `json:"end"`
	DryRun   bool                 `json:"dry_run"`
	Status   string               `json:"status"`
	State    string               `json:"state"`
	Signals  []types.Signal       `json:"signals"`
	Orders   []types.OrderIntent  `json:"orders"`
	Exits    []types.OrderIntent  `json:"exits"`
	Events   []types.RiskEvent    `json:"events"`
	Skipped  map[string]string    `json:"skipped,omitempty"`
	Approved int                  `json:"approved"`
	Rejected int                  `json:"rejected"`
	Equity   types.EquitySnapshot `json:"equity"`
}

// Orchestrator owns the cycle pipeline. RunCycle, StartSession and Resume
// are serialized so the guardrail state has a single writer.
type Orchestrator struct {
	cfg      *config.Config
	clock    *MarketClock
	store    storage.Store
	market   MarketData
	features *features.Engine
	scorer   *strategy.Scorer
	adjuster strategy.Adjuster
	guard    *risk.Guardrail
	trades   *execution.Manager
	log      zerolog.Logger

	now     func() time.Time
	newID   func() string
	onEvent EventHook

	runMu     sync.Mutex
	mu        sync.RWMutex
	state     State
	session   string
	flattened bool
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClock sets the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// EventHook receives risk events raised outside a cycle. source is
// SourceSessionOpen or SourceResume.
type EventHook func(ctx context.Context, source string, events []types.RiskEvent)

// Sources passed to an EventHook
const (
	SourceSessionOpen = "session-open"
	SourceResume      = "resume"
)

// WithEventHook is called after the session reset and an operator resume.
func WithEventHook(h EventHook) Option {
	return func(o *Orchestrator) { o.onEvent = h }
}

// WithIDs sets the cycle id generator.
func WithIDs(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// New validates deps and builds an orchestrator in IDLE.
func New(d Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case d.Config == nil:
		return nil, engerrors.NewConfigError("orchestrator", "config is required")
	case d.Clock == nil, d.Store == nil, d.Market == nil, d.Features == nil,
		d.Scorer == nil, d.Guard == nil, d.Trades == nil:
		return nil, engerrors.NewConfigError("orchestrator", "missing collaborator")
	}
	adjuster := d.Adjuster
	if adjuster == nil {
		adjuster = strategy.NeutralAdjuster{}
	}

	o := &Orchestrator{
		cfg:      d.Config,
		clock:    d.Clock,
		store:    d.Store,
		market:   d.Market,
		features: d.Features,
		scorer:   d.Scorer,
		adjuster: adjuster,
		guard:    d.Guard,
		trades:   d.Trades,
		log:      d.Log.With().Str("component", "orchestrator").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Session returns the current session id.
func (o *Orchestrator) Session() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.session
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	if prev != s {
		o.log.Info().Str("from", prev.String()).Str("to", s.String()).Msg("state change")
	}
}

// StartSession resets the guardrail and the realized P&L for the session
// containing t, clearing any halt. Calling it twice for one session is a no-op.
func (o *Orchestrator) StartSession(ctx context.Context, t time.Time) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	session := o.clock.SessionID(t)
	if session == o.Session() {
		return nil
	}
	events := o.beginSession(session)
	err := o.persist(ctx, storage.Batch{RiskEvents: events})
	o.emit(ctx, SourceSessionOpen, events)
	return err
}

func (o *Orchestrator) emit(ctx context.Context, source string, events []types.RiskEvent) {
	if o.onEvent != nil && len(events) > 0 {
		o.onEvent(ctx, source, events)
	}
}

func (o *Orchestrator) beginSession(session string) []types.RiskEvent {
	events := o.guard.ResetSession(session)
	o.trades.ResetSession()

	o.mu.Lock()
	o.session = session
	o.flattened = false
	o.mu.Unlock()

	o.setState(StateIdle)
	monitoring.SetHalted(false)
	o.log.Info().Str("session", session).Msg("session started")
	return events
}

// Resume clears a halt within the session on operator request.
func (o *Orchestrator) Resume(ctx context.Context, reason string) (bool, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	ev, ok := o.guard.Resume(reason)
	if !ok {
		return false, nil
	}
	o.setState(StateIdle)
	monitoring.SetHalted(false)
	events := []types.RiskEvent{ev}
	err := o.persist(ctx, storage.Batch{RiskEvents: events})
	o.emit(ctx, SourceResume, events)
	return true, err
}

// RunCycle runs one pass. A cancelled context aborts the cycle at the next
// order-affecting step; whatever was already decided is still persisted.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	start := o.now()
	report := CycleReport{
		ID:      o.newID(),
		Start:   start.UTC(),
		DryRun:  o.cfg.DryRun(),
		Skipped: map[string]string{},
	}
	if err := ctx.Err(); err != nil {
		report.Status = CycleAborted
		report.End = o.now().UTC()
		monitoring.RecordCycle(CycleAborted, 0)
		return report, engerrors.Wrap(err, engerrors.KindCancelled, "orchestrator", "run_cycle", "cancelled before start")
	}

	var events []types.RiskEvent
	session := o.clock.SessionID(start)
	if session != o.Session() {
		events = append(events, o.beginSession(session)...)
	}
	report.Session = session

	log := o.log.With().Str("cycle_id", report.ID).Str("session", session).Logger()

	var err error
	if o.clock.PastFlatten(start) {
		err = o.flattenCycle(ctx, &report, events, log)
	} else {
		err = o.tradeCycle(ctx, &report, events, log)
	}

	report.End = o.now().UTC()
	report.State = o.State().String()
	monitoring.RecordCycle(report.Status, report.End.Sub(report.Start))
	monitoring.SetOpenPositions(len(o.trades.Positions()))
	monitoring.SetHalted(o.guard.Halted())
	for _, ev := range report.Events {
		monitoring.RecordRiskEvent(ev.Type)
	}

	log.Info().
		Str("status", report.Status).
		Str("state", report.State).
		Int("signals", len(report.Signals)).
		Int("approved", report.Approved).
		Int("rejected", report.Rejected).
		Int("skipped", len(report.Skipped)).
		Dur("duration", report.End.Sub(report.Start)).
		Msg("cycle finished")
	return report, err
}

// flattenCycle issues exit-only intents for every open position regardless
// of the halt flag. Once the book is flat the session stays idle.
func (o *Orchestrator) flattenCycle(ctx context.Context, report *CycleReport, events []types.RiskEvent, log zerolog.Logger) error {
	o.mu.RLock()
	done := o.flattened
	o.mu.RUnlock()
	if done {
		report.Status = CycleIdle
		report.Events = events
		if len(events) > 0 {
			return o.persist(ctx, storage.Batch{RiskEvents: events})
		}
		return nil
	}

	o.setState(StateFlattening)
	intents := o.trades.FlattenAll(report.ID)
	log.Warn().Int("positions", len(intents)).Msg("flatten guard engaged")

	var aborted error
	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			aborted = err
			break
		}
		evs, ok := o.exit(ctx, intent, report.Session)
		events = append(events, evs...)
		if ok {
			report.Exits = append(report.Exits, intent)
			events = append(events, o.event(types.EventFlatten, intent.Symbol, intent.Qty,
				map[string]any{"price": intent.Entry, "cycle_id": report.ID}))
		}
	}

	report.Equity = o.trades.Equity(report.Session, o.cfg.Risk.AccountEquity)
	report.Events = events
	monitoring.SetEquityPnL(report.Equity.RealizedPnL, report.Equity.UnrealizedPnL)

	if len(o.trades.Positions()) == 0 {
		o.mu.Lock()
		o.flattened = true
		o.mu.Unlock()
		o.setState(StateIdle)
	} else {
		o.settleState()
	}

	report.Status = CycleFlattened
	if aborted != nil {
		report.Status = CycleAborted
	}
	batch := storage.Batch{RiskEvents: events, Equity: &report.Equity}
	err := o.persistCycle(ctx, report, batch, aborted != nil)
	if aborted != nil {
		return engerrors.Wrap(aborted, engerrors.KindCancelled, "orchestrator", "flatten", "flatten interrupted")
	}
	return err
}

// symbolResult is the per-symbol output of the concurrent fetch phase.
type symbolResult struct {
	symbol     string
	bars       []types.OHLCV
	features   types.Features
	signal     types.Signal
	provenance *types.Provenance
	err        error
}

func (o *Orchestrator) tradeCycle(ctx context.Context, report *CycleReport, events []types.RiskEvent, log zerolog.Logger) error {
	if o.guard.Halted() {
		o.setState(StateHalted)
	} else {
		o.setState(StateRunning)
	}

	watch, err := o.store.Watchlist(ctx, o.cfg.Orchestrator.IntradayTopN)
	if err != nil {
		o.settleState()
		report.Status = CycleAborted
		return fmt.Errorf("load watchlist: %w", err)
	}
	watchSet := make(map[string]bool, len(watch))
	symbols := make([]string, 0, len(watch))
	for _, w := range watch {
		watchSet[w.Symbol] = true
		symbols = append(symbols, w.Symbol)
	}
	// open positions are marked even when they drop out of the top-N
	for _, pos := range o.trades.Positions() {
		if !watchSet[pos.Symbol] {
			symbols = append(symbols, pos.Symbol)
		}
	}
	if len(watch) == 0 {
		log.Warn().Msg("watchlist is empty")
	}

	results := o.collect(ctx, symbols, report.Start)

	var (
		signals    []types.Signal
		provenance []types.Provenance
		byFeature  = make(map[string]symbolResult, len(results))
	)
	for _, r := range results {
		if r.err != nil {
			report.Skipped[r.symbol] = r.err.Error()
			log.Warn().Err(r.err).Str("symbol", r.symbol).Msg("symbol skipped")
			continue
		}
		byFeature[r.symbol] = r
		if !watchSet[r.symbol] {
			continue
		}
		r.signal.CycleID = report.ID
		signals = append(signals, r.signal)
		if r.provenance != nil {
			provenance = append(provenance, *r.provenance)
		}
	}
	strategy.Rank(signals)
	report.Signals = signals
	monitoring.RecordSignals(len(signals))

	aborted := ctx.Err()

	// exits first so released exposure is available to entries
	if aborted == nil {
		for _, pos := range o.trades.Positions() {
			r, ok := byFeature[pos.Symbol]
			if !ok || len(r.bars) == 0 {
				continue
			}
			for _, intent := range o.trades.Mark(pos.Symbol, r.bars[len(r.bars)-1], r.features) {
				if err := ctx.Err(); err != nil {
					aborted = err
					break
				}
				intent.CycleID = report.ID
				evs, ok := o.exit(ctx, intent, report.Session)
				events = append(events, evs...)
				if ok {
					report.Exits = append(report.Exits, intent)
				}
			}
			if aborted != nil {
				break
			}
		}
	}

	if aborted == nil {
		aborted = o.enter(ctx, report, &events, signals, log)
	}

	report.Equity = o.trades.Equity(report.Session, o.cfg.Risk.AccountEquity)
	report.Events = events
	monitoring.SetEquityPnL(report.Equity.RealizedPnL, report.Equity.UnrealizedPnL)
	o.settleState()

	report.Status = CycleCompleted
	if aborted != nil {
		report.Status = CycleAborted
	}
	batch := storage.Batch{
		Signals:    signals,
		Provenance: provenance,
		RiskEvents: events,
		Equity:     &report.Equity,
	}
	err = o.persistCycle(ctx, report, batch, aborted != nil)
	if aborted != nil {
		return engerrors.Wrap(aborted, engerrors.KindCancelled, "orchestrator", "run_cycle", "cycle aborted")
	}
	return err
}

// collect fetches, featurizes, scores and adjusts every symbol with bounded
// parallelism. Results come back in input order once all are joined.
func (o *Orchestrator) collect(ctx context.Context, symbols []string, runTS time.Time) []symbolResult {
	results := make([]symbolResult, len(symbols))
	limit := o.cfg.Orchestrator.MaxParallel
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			results[i] = o.evaluateSymbol(gctx, symbol, runTS.UTC())
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) evaluateSymbol(ctx context.Context, symbol string, runTS time.Time) symbolResult {
	res := symbolResult{symbol: symbol}
	if timeout := o.cfg.Orchestrator.SymbolTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	bars, err := o.market.Bars(ctx, symbol)
	if err != nil {
		res.err = err
		return res
	}
	headlines, err := o.market.Headlines(ctx, symbol)
	if err != nil {
		o.log.Warn().Err(err).Str("symbol", symbol).Msg("headlines unavailable, scoring without catalysts")
		headlines = nil
	}

	f, err := o.features.Compute(symbol, bars, headlines, runTS)
	if err != nil {
		res.err = err
		return res
	}

	sig := o.scorer.Score(symbol, f)
	sig.RunTS = runTS

	adj, err := o.adjuster.Adjust(ctx, sig, headlines)
	if err != nil {
		o.log.Warn().Err(err).Str("symbol", symbol).Msg("overlay failed, using zero adjustment")
		adj = strategy.Adjustment{}
	}
	strategy.ApplyAdjustment(&sig, adj)

	res.bars = bars
	res.features = f
	res.signal = sig
	res.provenance = adj.Provenance
	return res
}

// enter walks ranked signals and opens approved entries. Evaluation, sizing
// and the counter commit run sequentially on this goroutine.
func (o *Orchestrator) enter(ctx context.Context, report *CycleReport, events *[]types.RiskEvent, signals []types.Signal, log zerolog.Logger) error {
	minScore := o.cfg.Orchestrator.MinEntryScore
	for _, sig := range signals {
		if sig.FinalScore < minScore || o.trades.HasPosition(sig.Symbol) {
			continue
		}

		equity := o.trades.Equity(report.Session, o.cfg.Risk.AccountEquity)
		intent, ok := o.trades.Size(sig, equity.StartingEquity, report.ID)
		if !ok {
			log.Debug().Str("symbol", sig.Symbol).Msg("size rounds to zero")
			continue
		}

		d := o.guard.Evaluate(risk.Candidate{
			Symbol:   sig.Symbol,
			Side:     types.SideLong,
			Notional: intent.Notional(),
			Score:    sig.FinalScore,
			Features: sig.Features,
		}, equity)
		*events = append(*events, d.Events...)
		if !d.Approved {
			report.Rejected++
			continue
		}

		intent = execution.ScaleSize(intent, d.SizeFactor)
		intent.Score = d.Score

		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := o.trades.Open(ctx, intent, report.Session)
		if err != nil {
			if kind, _ := engerrors.KindOf(err); kind == engerrors.KindCancelled {
				return ctx.Err()
			}
			*events = append(*events, o.executionFailure(intent, err))
			continue
		}

		*events = append(*events, o.guard.RecordEntry(intent.Symbol, intent.Notional()))
		report.Approved++
		report.Orders = append(report.Orders, intent)
		monitoring.RecordOrder(string(intent.Side), orderMode(res))
	}
	return nil
}

// exit sends one exit or flatten intent through the guardrail and the trade
// manager. Send failures leave the position open and become events.
func (o *Orchestrator) exit(ctx context.Context, intent types.OrderIntent, session string) ([]types.RiskEvent, bool) {
	equity := o.trades.Equity(session, o.cfg.Risk.AccountEquity)
	d := o.guard.Evaluate(risk.Candidate{
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Notional: intent.Notional(),
	}, equity)
	if !d.Approved {
		return d.Events, false
	}

	released, err := o.trades.Exit(ctx, intent, session)
	if err != nil {
		return []types.RiskEvent{o.executionFailure(intent, err)}, false
	}
	monitoring.RecordOrder(string(intent.Side), o.mode())
	return []types.RiskEvent{o.guard.RecordExit(intent.Symbol, released)}, true
}

func (o *Orchestrator) executionFailure(intent types.OrderIntent, err error) types.RiskEvent {
	return o.event(types.EventExecutionFailure, intent.Symbol, intent.Qty, map[string]any{
		"side":  string(intent.Side),
		"error": err.Error(),
	})
}

func (o *Orchestrator) event(eventType, symbol string, value float64, meta map[string]any) types.RiskEvent {
	return types.RiskEvent{
		TS:      o.now().UTC(),
		Session: o.Session(),
		Type:    eventType,
		Symbol:  symbol,
		Value:   value,
		Meta:    meta,
	}
}

func (o *Orchestrator) settleState() {
	if o.guard.Halted() {
		o.setState(StateHalted)
		return
	}
	o.setState(StateIdle)
}

func (o *Orchestrator) mode() string {
	if o.cfg.DryRun() {
		return types.OrderStatusDryRun
	}
	return "live"
}

func orderMode(res types.OrderResult) string {
	if res.Status == types.OrderStatusDryRun {
		return types.OrderStatusDryRun
	}
	return "live"
}

// persistCycle writes the cycle batch with the trade manager's pending
// trades and journal plus a cycle summary. An aborted cycle still persists.
func (o *Orchestrator) persistCycle(ctx context.Context, report *CycleReport, b storage.Batch, aborted bool) error {
	b.Trades = o.trades.DrainTrades()
	b.Journal = append(o.trades.DrainJournal(), o.summary(report))
	if aborted {
		ctx = context.WithoutCancel(ctx)
	}
	return o.persist(ctx, b)
}

func (o *Orchestrator) persist(ctx context.Context, b storage.Batch) error {
	if b.Empty() {
		return nil
	}
	if err := o.store.SaveBatch(ctx, b); err != nil {
		if errors.Is(err, context.Canceled) {
			return engerrors.Wrap(err, engerrors.KindCancelled, "orchestrator", "persist", "cancelled")
		}
		return fmt.Errorf("persist cycle: %w", err)
	}
	return nil
}

func (o *Orchestrator) summary(report *CycleReport) types.JournalEntry {
	skipped := make([]string, 0, len(report.Skipped))
	for sym := range report.Skipped {
		skipped = append(skipped, sym)
	}
	sort.Strings(skipped)

	return types.JournalEntry{
		TS:       o.now().UTC(),
		Category: JournalCycleCategory,
		Message: fmt.Sprintf("cycle %s %s: %d signals, %d entries, %d exits, %d rejected",
			report.ID, report.Status, len(report.Signals), report.Approved, len(report.Exits), report.Rejected),
		Payload: types.EncodeMeta(map[string]any{
			"cycle_id": report.ID,
			"status":   report.Status,
			"signals":  len(report.Signals),
			"approved": report.Approved,
			"rejected": report.Rejected,
			"exits":    len(report.Exits),
			"skipped":  skipped,
		}),
	}
}
