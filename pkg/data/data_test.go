package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afadxb/bot4.1/pkg/types"
)

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func bar(i int, close float64) types.OHLCV {
	return types.OHLCV{
		Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute),
		Open:      close - 0.1,
		High:      close + 0.5,
		Low:       close - 0.5,
		Close:     close,
		Volume:    1000,
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestTimeframeMinutes(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"1m", 1, true},
		{"5m", 5, true},
		{"1h", 60, true},
		{"1d", 1440, true},
		{"15", 15, true},
		{"x", 0, false},
		{"5y", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := TimeframeMinutes(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindBarFile_LookupOrder(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, FindBarFile(dir, "aapl", "5m"))

	writeFile(t, filepath.Join(dir, "AAPL.csv"), "ts\n")
	assert.Equal(t, filepath.Join(dir, "AAPL.csv"), FindBarFile(dir, "aapl", "5m"))

	writeFile(t, filepath.Join(dir, "AAPL", "5", "candles.csv"), "ts\n")
	assert.Equal(t, filepath.Join(dir, "AAPL", "5", "candles.csv"), FindBarFile(dir, "aapl", "5m"))
}

func TestCSVBarSource_Bars(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "MSFT_5m.csv"), `timestamp,open,high,low,close,volume
2026-03-02 14:40:00,10.1,10.6,9.9,10.4,1200
2026-03-02 14:30:00,10.0,10.5,9.8,10.2,1000
bad-row,1,2,3
2026-03-02 14:35:00,10.2,10.7,10.0,10.3,900
2026-03-02T14:45:00Z,10.4,10.9,10.2,10.8,1500
2026-03-02 14:45:00,10.4,10.9,10.2,10.7,1600
`)

	src := NewCSVBarSource(dir, zerolog.Nop())
	assert.Equal(t, "csv", src.Name())

	bars, err := src.Bars(context.Background(), "msft", "5m", 0)
	require.NoError(t, err)
	require.Len(t, bars, 4)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].Timestamp.After(bars[i-1].Timestamp))
	}
	assert.Equal(t, 10.2, bars[0].Close)

	last2, err := src.Bars(context.Background(), "MSFT", "5m", 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, bars[3], last2[1])
}

func TestCSVBarSource_MissingIsNoData(t *testing.T) {
	src := NewCSVBarSource(t.TempDir(), zerolog.Nop())
	_, err := src.Bars(context.Background(), "NVDA", "5m", 10)
	assert.ErrorIs(t, err, ErrNoData)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Bars(ctx, "NVDA", "5m", 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryBarCache_TTLAndUpsert(t *testing.T) {
	now := t0
	c := NewMemoryBarCache(10 * time.Minute)
	c.SetClock(func() time.Time { return now })
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "AAPL", "5m", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Upsert(ctx, "AAPL", "5m", []types.OHLCV{bar(0, 10), bar(1, 11), bar(2, 12)}))
	require.NoError(t, c.Upsert(ctx, "AAPL", "5m", []types.OHLCV{bar(2, 12.5), bar(3, 13)}))
	assert.Equal(t, 4, c.Len("AAPL", "5m"))

	got, ok, err := c.Get(ctx, "AAPL", "5m", 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{12.5, 13}, []float64{got[0].Close, got[1].Close})

	got[0].Close = 999
	again, _, _ := c.Get(ctx, "AAPL", "5m", 2)
	assert.Equal(t, 12.5, again[0].Close)

	_, ok, _ = c.Get(ctx, "AAPL", "5m", 5)
	assert.False(t, ok, "short series is a miss")

	now = now.Add(11 * time.Minute)
	_, ok, _ = c.Get(ctx, "AAPL", "5m", 2)
	assert.False(t, ok, "stale series is a miss")
}

func TestMemoryBarCache_Prune(t *testing.T) {
	c := NewMemoryBarCache(0)
	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx, "AAPL", "5m", []types.OHLCV{bar(0, 10), bar(1, 11), bar(2, 12)}))
	require.NoError(t, c.Upsert(ctx, "AAPL", "1m", []types.OHLCV{bar(0, 10)}))

	n, err := c.Prune(ctx, "5m", bar(2, 0).Timestamp)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, c.Len("AAPL", "5m"))
	assert.Equal(t, 1, c.Len("AAPL", "1m"))
}

func TestJSONHeadlineSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "headlines.json")
	src := NewJSONHeadlineSource(path)

	none, err := src.Headlines(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Empty(t, none)

	writeFile(t, path, `[
 {"symbol":"aapl","headline":"old","source":"wire","published_at":"2026-03-02T12:00:00Z"},
 {"symbol":"MSFT","headline":"other","source":"wire","published_at":"2026-03-02T13:00:00Z"},
 {"symbol":"AAPL","headline":"new","source":"wire","published_at":"2026-03-02T14:00:00Z","earnings":true}
]`)
	got, err := src.Headlines(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Headline)
	assert.True(t, got[0].Earnings)
	assert.Equal(t, "AAPL", got[1].Symbol)

	writeFile(t, path, `{not json`)
	_, err = src.Headlines(context.Background(), "AAPL")
	assert.Error(t, err)
}

type fakeKlines struct {
	bars []types.OHLCV
	err  error
	got  string
}

func (f *fakeKlines) GetKlines(_ context.Context, symbol, _ string, _ int) ([]types.OHLCV, error) {
	f.got = symbol
	return f.bars, f.err
}

func TestBybitBarSource(t *testing.T) {
	f := &fakeKlines{bars: []types.OHLCV{bar(0, 10)}}
	src := NewBybitBarSource(f)
	bars, err := src.Bars(context.Background(), "btcusdt", "5m", 10)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, "BTCUSDT", f.got)

	f.bars = nil
	_, err = src.Bars(context.Background(), "BTCUSDT", "5m", 10)
	assert.ErrorIs(t, err, ErrNoData)

	f.err = errors.New("rate limited")
	_, err = src.Bars(context.Background(), "BTCUSDT", "5m", 10)
	assert.EqualError(t, err, "rate limited")
}

func TestRedisBarCache(t *testing.T) {
	addr := os.Getenv("ENGINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ENGINE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := NewRedisBarCache(ctx, RedisOptions{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	symbol := "TEST" + time.Now().Format("150405")
	require.NoError(t, c.Upsert(ctx, symbol, "5m", []types.OHLCV{bar(0, 10), bar(1, 11)}))
	require.NoError(t, c.Upsert(ctx, symbol, "5m", []types.OHLCV{bar(1, 11.5), bar(2, 12)}))

	got, ok, err := c.Get(ctx, symbol, "5m", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 11.5, got[1].Close)

	n, err := c.Prune(ctx, "5m", bar(1, 0).Timestamp)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
	_, ok, _ = c.Get(ctx, symbol, "5m", 3)
	assert.False(t, ok)
}

func TestRedisKeys(t *testing.T) {
	assert.Equal(t, "engine:bars:AAPL:5m", seriesRedisKey("aapl", "5m"))
	assert.Equal(t, "engine:bars:AAPL:5m:fresh", freshRedisKey("aapl", "5m"))
}
