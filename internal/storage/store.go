// Package storage persists cycle artifacts and serves the derived views.
//
// PostgresStore is the production store. MemoryStore implements the same
// tables and views in process for tests and runs without a database.
package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/afadxb/bot4.1/internal/config"
	"github.com/afadxb/bot4.1/pkg/types"
)

// Batch holds everything one cycle persists. It is written atomically.
type Batch struct {
	Signals    []types.Signal
	Provenance []types.Provenance
	RiskEvents []types.RiskEvent
	Equity     *types.EquitySnapshot
	Trades     []types.TradeRecord
	Journal    []types.JournalEntry
}

// Empty reports whether the batch has nothing to write.
func (b Batch) Empty() bool {
	return len(b.Signals) == 0 && len(b.Provenance) == 0 && len(b.RiskEvents) == 0 &&
		b.Equity == nil && len(b.Trades) == 0 && len(b.Journal) == 0
}

// Exposure is a row of v_intraday_exposure.
type Exposure struct {
	Session  string  `json:"session"`
	Symbol   string  `json:"symbol"`
	Exposure float64 `json:"exposure"`
}

// Store is the persistence contract of the engine.
type Store interface {
	SaveBatch(ctx context.Context, b Batch) error

	Watchlist(ctx context.Context, limit int) ([]types.WatchlistEntry, error)
	UpsertWatchlist(ctx context.Context, entries []types.WatchlistEntry) error

	UpsertBars(ctx context.Context, symbol, timeframe string, bars []types.OHLCV) error
	PruneBars(ctx context.Context, timeframe string, before time.Time) (int64, error)

	LatestSignals(ctx context.Context) ([]types.Signal, error)
	RiskEventsToday(ctx context.Context) ([]types.RiskEvent, error)
	IntradayExposure(ctx context.Context) ([]Exposure, error)
	DailyEquity(ctx context.Context) ([]types.DailyEquity, error)
	Trades(ctx context.Context, session string) ([]types.TradeRecord, error)

	Close()
}

// Open returns a PostgresStore when a database URL is configured and a
// MemoryStore otherwise.
func Open(ctx context.Context, db config.DatabaseConfig, loc *time.Location, log zerolog.Logger) (Store, error) {
	if db.URL == "" {
		log.Warn().Msg("no database url configured, using in-memory store")
		return NewMemoryStore(loc), nil
	}
	return OpenPostgres(ctx, db, loc, log)
}
