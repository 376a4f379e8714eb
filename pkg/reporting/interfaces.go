// Package reporting renders cycle reports to the console and exports the
// persisted views to xlsx, csv and json.
package reporting

import (
	"context"
	"time"

	"github.com/afadxb/bot4.1/internal/storage"
	"github.com/afadxb/bot4.1/pkg/types"
)

// Snapshot is everything an export writes, read from the derived views.
type Snapshot struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Session     string              `json:"session"`
	Signals     []types.Signal      `json:"latest_signals"`
	RiskEvents  []types.RiskEvent   `json:"risk_events_today"`
	Exposure    []storage.Exposure  `json:"intraday_exposure"`
	Equity      []types.DailyEquity `json:"daily_equity"`
	Trades      []types.TradeRecord `json:"trades"`
}

// ViewReader is the subset of storage.Store an export needs.
type ViewReader interface {
	LatestSignals(ctx context.Context) ([]types.Signal, error)
	RiskEventsToday(ctx context.Context) ([]types.RiskEvent, error)
	IntradayExposure(ctx context.Context) ([]storage.Exposure, error)
	DailyEquity(ctx context.Context) ([]types.DailyEquity, error)
	Trades(ctx context.Context, session string) ([]types.TradeRecord, error)
}

// Collect reads every view for session into a Snapshot.
func Collect(ctx context.Context, r ViewReader, session string, now time.Time) (Snapshot, error) {
	s := Snapshot{GeneratedAt: now.UTC(), Session: session}
	var err error
	if s.Signals, err = r.LatestSignals(ctx); err != nil {
		return s, err
	}
	if s.RiskEvents, err = r.RiskEventsToday(ctx); err != nil {
		return s, err
	}
	if s.Exposure, err = r.IntradayExposure(ctx); err != nil {
		return s, err
	}
	if s.Equity, err = r.DailyEquity(ctx); err != nil {
		return s, err
	}
	if s.Trades, err = r.Trades(ctx, session); err != nil {
		return s, err
	}
	return s, nil
}

// ExcelStyles holds Excel formatting styles
type ExcelStyles struct {
	HeaderStyle       int
	CurrencyStyle     int
	PercentStyle      int
	BaseStyle         int
	RedPercentStyle   int
	GreenPercentStyle int
	ScoreStyle        int
}
