package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/afadxb/bot4.1/pkg/types"
)

type seriesKey struct {
	symbol    string
	timeframe string
}

type series struct {
	bars      map[int64]types.OHLCV
	fetchedAt time.Time
}

// MemoryBarCache is an in-process BarCache with a freshness TTL per series.
type MemoryBarCache struct {
	mu     sync.RWMutex
	series map[seriesKey]*series
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryBarCache creates a memory cache. A zero ttl never expires.
func NewMemoryBarCache(ttl time.Duration) *MemoryBarCache {
	return &MemoryBarCache{
		series: make(map[seriesKey]*series),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (c *MemoryBarCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns a copy of the newest limit bars.
func (c *MemoryBarCache) Get(_ context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.series[seriesKey{symbol, timeframe}]
	if !ok || len(s.bars) == 0 {
		return nil, false, nil
	}
	if c.ttl > 0 && c.now().Sub(s.fetchedAt) > c.ttl {
		return nil, false, nil
	}
	if limit > 0 && len(s.bars) < limit {
		return nil, false, nil
	}

	bars := sortedBars(s.bars)
	if limit > 0 {
		bars = bars[len(bars)-limit:]
	}
	return bars, true, nil
}

// Upsert merges bars into the series and refreshes its fetch time. Writing
// the same bar twice leaves one copy.
func (c *MemoryBarCache) Upsert(_ context.Context, symbol, timeframe string, bars []types.OHLCV) error {
	if len(bars) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := seriesKey{symbol, timeframe}
	s, ok := c.series[key]
	if !ok {
		s = &series{bars: make(map[int64]types.OHLCV, len(bars))}
		c.series[key] = s
	}
	for _, bar := range bars {
		s.bars[bar.Timestamp.UnixNano()] = bar
	}
	s.fetchedAt = c.now()
	return nil
}

// Prune drops bars older than before from every series of timeframe.
func (c *MemoryBarCache) Prune(_ context.Context, timeframe string, before time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	cutoff := before.UnixNano()
	for key, s := range c.series {
		if key.timeframe != timeframe {
			continue
		}
		for ts := range s.bars {
			if ts < cutoff {
				delete(s.bars, ts)
				removed++
			}
		}
		if len(s.bars) == 0 {
			delete(c.series, key)
		}
	}
	return removed, nil
}

// Len returns the number of cached bars for a series.
func (c *MemoryBarCache) Len(symbol, timeframe string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.series[seriesKey{symbol, timeframe}]; ok {
		return len(s.bars)
	}
	return 0
}

func sortedBars(m map[int64]types.OHLCV) []types.OHLCV {
	out := make([]types.OHLCV, 0, len(m))
	for _, bar := range m {
		out = append(out, bar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
