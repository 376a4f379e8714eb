package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/afadxb/bot4.1/pkg/types"
)

type barKey struct {
	symbol, tf string
	ts         int64
}

// MemoryStore keeps every table in process and evaluates the views on read.
type MemoryStore struct {
	mu         sync.RWMutex
	loc        *time.Location
	now        func() time.Time
	nextID     int64
	signals    []types.Signal
	provenance []types.Provenance
	riskEvents []types.RiskEvent
	equity     []types.EquitySnapshot
	trades     []types.TradeRecord
	journal    []types.JournalEntry
	watchlist  map[string]types.WatchlistEntry
	bars       map[barKey]types.OHLCV
}

// NewMemoryStore creates an empty store. loc decides what "today" means.
func NewMemoryStore(loc *time.Location) *MemoryStore {
	if loc == nil {
		loc = time.UTC
	}
	return &MemoryStore{
		loc:       loc,
		now:       time.Now,
		watchlist: make(map[string]types.WatchlistEntry),
		bars:      make(map[barKey]types.OHLCV),
	}
}

// SetClock replaces the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) stamp(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

// SaveBatch appends the batch.
func (s *MemoryStore) SaveBatch(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sig := range b.Signals {
		// Stored signals keep only the persisted columns.
		features, _ := sig.FeaturesJSON()
		rules, _ := sig.RulesJSON()
		row := types.Signal{
			ID: s.id(), Symbol: sig.Symbol, RunTS: sig.RunTS, BaseScore: sig.BaseScore,
			AIAdjScore: sig.AIAdjScore, FinalScore: sig.FinalScore, Rank: sig.Rank, CycleID: sig.CycleID,
		}
		if err := types.DecodeSignalColumns(&row, features, rules, sig.ReasonsText()); err != nil {
			return err
		}
		s.signals = append(s.signals, row)
	}
	for _, p := range b.Provenance {
		p.ID = s.id()
		s.provenance = append(s.provenance, p)
	}
	for _, e := range b.RiskEvents {
		e.ID = s.id()
		e.TS = s.stamp(e.TS)
		s.riskEvents = append(s.riskEvents, e)
	}
	if b.Equity != nil {
		eq := *b.Equity
		eq.ID = s.id()
		eq.TS = s.stamp(eq.TS)
		s.equity = append(s.equity, eq)
	}
	for _, t := range b.Trades {
		t.ID = s.id()
		t.TS = s.stamp(t.TS)
		s.trades = append(s.trades, t)
	}
	for _, j := range b.Journal {
		j.ID = s.id()
		j.TS = s.stamp(j.TS)
		s.journal = append(s.journal, j)
	}
	return nil
}

// Watchlist returns enabled symbols ordered by symbol.
func (s *MemoryStore) Watchlist(_ context.Context, limit int) ([]types.WatchlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.WatchlistEntry
	for _, w := range s.watchlist {
		if w.Enabled {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpsertWatchlist inserts or replaces rows by symbol.
func (s *MemoryStore) UpsertWatchlist(_ context.Context, entries []types.WatchlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range entries {
		s.watchlist[w.Symbol] = w
	}
	return nil
}

// UpsertBars writes bars keyed by (symbol, tf, ts).
func (s *MemoryStore) UpsertBars(_ context.Context, symbol, timeframe string, bars []types.OHLCV) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bars {
		s.bars[barKey{symbol, timeframe, b.Timestamp.UnixNano()}] = b
	}
	return nil
}

// PruneBars deletes bars of timeframe older than before.
func (s *MemoryStore) PruneBars(_ context.Context, timeframe string, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.bars {
		if k.tf == timeframe && k.ts < before.UnixNano() {
			delete(s.bars, k)
			n++
		}
	}
	return n, nil
}

// BarCount returns the number of stored bars for a series.
func (s *MemoryStore) BarCount(symbol, timeframe string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.bars {
		if k.symbol == symbol && k.tf == timeframe {
			n++
		}
	}
	return n
}

// LatestSignals returns the newest signal per symbol, ordered by symbol.
func (s *MemoryStore) LatestSignals(_ context.Context) ([]types.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := make(map[string]types.Signal)
	for _, sig := range s.signals {
		prev, ok := latest[sig.Symbol]
		if !ok || sig.RunTS.After(prev.RunTS) || (sig.RunTS.Equal(prev.RunTS) && sig.ID > prev.ID) {
			latest[sig.Symbol] = sig
		}
	}
	out := make([]types.Signal, 0, len(latest))
	for _, sig := range latest {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) today(t time.Time) bool {
	y1, m1, d1 := t.In(s.loc).Date()
	y2, m2, d2 := s.now().In(s.loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// RiskEventsToday returns events stamped on the local current date.
func (s *MemoryStore) RiskEventsToday(_ context.Context) ([]types.RiskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.RiskEvent
	for _, e := range s.riskEvents {
		if s.today(e.TS) {
			out = append(out, e)
		}
	}
	return out, nil
}

// IntradayExposure sums today's exposure events per session and symbol.
func (s *MemoryStore) IntradayExposure(_ context.Context) ([]Exposure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct{ session, symbol string }
	sums := make(map[key]float64)
	for _, e := range s.riskEvents {
		if e.Type == types.EventExposure && e.Symbol != "" && s.today(e.TS) {
			sums[key{e.Session, e.Symbol}] += e.Value
		}
	}
	out := make([]Exposure, 0, len(sums))
	for k, v := range sums {
		out = append(out, Exposure{Session: k.session, Symbol: k.symbol, Exposure: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Session != out[j].Session {
			return out[i].Session < out[j].Session
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

// DailyEquity returns every snapshot with the derived columns.
func (s *MemoryStore) DailyEquity(_ context.Context) ([]types.DailyEquity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.DailyEquity, 0, len(s.equity))
	for _, eq := range s.equity {
		out = append(out, types.DailyEquity{
			EquitySnapshot: eq,
			DrawdownPct:    eq.DrawdownPct(),
			HaltFlag:       eq.HaltFlag(types.DefaultHaltPct),
		})
	}
	return out, nil
}

// Trades returns trades for a session, or all when session is empty.
func (s *MemoryStore) Trades(_ context.Context, session string) ([]types.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.TradeRecord
	for _, t := range s.trades {
		if session == "" || t.Session == session {
			out = append(out, t)
		}
	}
	return out, nil
}

// Journal returns all journal rows.
func (s *MemoryStore) Journal() []types.JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.JournalEntry(nil), s.journal...)
}

// Provenance returns all ai_provenance rows.
func (s *MemoryStore) Provenance() []types.Provenance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Provenance(nil), s.provenance...)
}

// RiskEvents returns every risk event.
func (s *MemoryStore) RiskEvents() []types.RiskEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.RiskEvent(nil), s.riskEvents...)
}

// Close is a no-op
func (s *MemoryStore) Close() {}
