package data

import (
	"context"
	"errors"
	"time"

	"github.com/afadxb/bot4.1/pkg/types"
)

// ErrNoData is returned by a source that has nothing for a symbol. Callers
// treat it as a data gap and do not retry.
var ErrNoData = errors.New("no data for symbol")

// BarSource supplies OHLCV bars for a symbol, oldest first.
type BarSource interface {
	Name() string
	Bars(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error)
}

// HeadlineSource supplies catalyst headlines for a symbol.
type HeadlineSource interface {
	Headlines(ctx context.Context, symbol string) ([]types.Headline, error)
}

// BarCache stores bars keyed by (symbol, timeframe, timestamp). Upserts are
// idempotent and reads are safe for concurrent use.
type BarCache interface {
	// Get returns the newest limit bars when the entry is fresh and holds
	// at least limit bars.
	Get(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, bool, error)
	Upsert(ctx context.Context, symbol, timeframe string, bars []types.OHLCV) error
	// Prune drops bars of timeframe older than before and returns how many went.
	Prune(ctx context.Context, timeframe string, before time.Time) (int, error)
}

// CSVColumnMapping defines the column mapping for different CSV formats
type CSVColumnMapping struct {
	TimestampCol int
	OpenCol      int
	HighCol      int
	LowCol       int
	CloseCol     int
	VolumeCol    int
	DateFormat   string
	MinColumns   int
}

// DefaultCSVFormat is timestamp,open,high,low,close,volume with a header row.
var DefaultCSVFormat = CSVColumnMapping{
	TimestampCol: 0,
	OpenCol:      1,
	HighCol:      2,
	LowCol:       3,
	CloseCol:     4,
	VolumeCol:    5,
	DateFormat:   "2006-01-02 15:04:05",
	MinColumns:   6,
}
