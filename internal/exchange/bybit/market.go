package bybit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/afadxb/bot4.1/pkg/types"
)

const maxKlineLimit = 1000

var intervals = map[string]string{
	"1m":  "1",
	"3m":  "3",
	"5m":  "5",
	"15m": "15",
	"30m": "30",
	"1h":  "60",
	"2h":  "120",
	"4h":  "240",
	"1d":  "D",
}

// Interval maps an engine timeframe such as "5m" to a Bybit kline interval.
func Interval(timeframe string) (string, error) {
	iv, ok := intervals[timeframe]
	if !ok {
		return "", fmt.Errorf("unsupported timeframe %q", timeframe)
	}
	return iv, nil
}

// GetKlines fetches the most recent limit bars for symbol, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error) {
	interval, err := Interval(timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"interval": interval,
		"limit":    limit,
	}
	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	var klines struct {
		Symbol   string     `json:"symbol"`
		Category string     `json:"category"`
		List     [][]string `json:"list"`
	}
	if err := decodeResult(result, &klines); err != nil {
		return nil, fmt.Errorf("failed to parse kline response: %w", err)
	}
	return ParseKlines(klines.List), nil
}

// ParseKlines converts Bybit rows [start, open, high, low, close, volume,
// turnover] into bars sorted by time. Incomplete rows are skipped.
func ParseKlines(rows [][]string) []types.OHLCV {
	bars := make([]types.OHLCV, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		bars = append(bars, types.OHLCV{
			Timestamp: time.UnixMilli(parseInt64(row[0])).UTC(),
			Open:      parseFloat64(row[1]),
			High:      parseFloat64(row[2]),
			Low:       parseFloat64(row[3]),
			Close:     parseFloat64(row[4]),
			Volume:    parseFloat64(row[5]),
		})
	}
	// Bybit returns newest first
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars
}

func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	i, _ := strconv.ParseInt(s, 10, 64)
	return i
}
