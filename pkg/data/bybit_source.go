package data

import (
	"context"
	"fmt"
	"strings"

	"github.com/afadxb/bot4.1/pkg/types"
)

// KlineFetcher is the slice of the Bybit client the bar source needs.
type KlineFetcher interface {
	GetKlines(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error)
}

// BybitBarSource reads bars from the Bybit kline endpoint.
type BybitBarSource struct {
	client KlineFetcher
}

// NewBybitBarSource wraps a kline client
func NewBybitBarSource(client KlineFetcher) *BybitBarSource {
	return &BybitBarSource{client: client}
}

// Name returns the source name
func (s *BybitBarSource) Name() string {
	return "bybit"
}

// Bars fetches the newest limit bars. An empty response is ErrNoData.
func (s *BybitBarSource) Bars(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error) {
	bars, err := s.client.GetKlines(ctx, strings.ToUpper(symbol), timeframe, limit)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("bybit %s %s: %w", symbol, timeframe, ErrNoData)
	}
	return bars, nil
}
