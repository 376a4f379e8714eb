package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/afadxb/bot4.1/pkg/types"
)

const redisKeyPrefix = "engine:bars"

// RedisOptions configures the Redis bar cache
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisBarCache keeps each (symbol, timeframe) series in a sorted set scored
// by bar time in milliseconds, plus a marker key whose TTL tracks freshness.
type RedisBarCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBarCache connects to Redis and verifies the connection.
func NewRedisBarCache(ctx context.Context, opts RedisOptions) (*RedisBarCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewRedisBarCacheFromClient(client, opts.TTL), nil
}

// NewRedisBarCacheFromClient wraps an existing client.
func NewRedisBarCacheFromClient(client *redis.Client, ttl time.Duration) *RedisBarCache {
	return &RedisBarCache{client: client, ttl: ttl}
}

// Close releases the connection pool.
func (c *RedisBarCache) Close() error {
	return c.client.Close()
}

func seriesRedisKey(symbol, timeframe string) string {
	return fmt.Sprintf("%s:%s:%s", redisKeyPrefix, strings.ToUpper(symbol), timeframe)
}

func freshRedisKey(symbol, timeframe string) string {
	return seriesRedisKey(symbol, timeframe) + ":fresh"
}

func barScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Get returns the newest limit bars when the freshness marker is alive.
func (c *RedisBarCache) Get(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, bool, error) {
	n, err := c.client.Exists(ctx, freshRedisKey(symbol, timeframe)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis exists: %w", err)
	}
	if n == 0 {
		return nil, false, nil
	}

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	members, err := c.client.ZRange(ctx, seriesRedisKey(symbol, timeframe), start, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis zrange: %w", err)
	}
	if len(members) == 0 || (limit > 0 && len(members) < limit) {
		return nil, false, nil
	}

	bars := make([]types.OHLCV, 0, len(members))
	for _, m := range members {
		var bar types.OHLCV
		if err := json.Unmarshal([]byte(m), &bar); err != nil {
			return nil, false, fmt.Errorf("decode cached bar: %w", err)
		}
		bars = append(bars, bar)
	}
	return bars, true, nil
}

// Upsert replaces any member at the same timestamp, then refreshes the marker.
func (c *RedisBarCache) Upsert(ctx context.Context, symbol, timeframe string, bars []types.OHLCV) error {
	if len(bars) == 0 {
		return nil
	}
	key := seriesRedisKey(symbol, timeframe)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, bar := range bars {
			member, err := json.Marshal(bar)
			if err != nil {
				return err
			}
			score := barScore(bar.Timestamp)
			s := strconv.FormatFloat(score, 'f', 0, 64)
			pipe.ZRemRangeByScore(ctx, key, s, s)
			pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: string(member)})
		}
		pipe.Set(ctx, freshRedisKey(symbol, timeframe), time.Now().UTC().Format(time.RFC3339), c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert %s: %w", key, err)
	}
	return nil
}

// Prune trims every series of timeframe below before.
func (c *RedisBarCache) Prune(ctx context.Context, timeframe string, before time.Time) (int, error) {
	max := "(" + strconv.FormatFloat(barScore(before), 'f', 0, 64)
	removed := 0

	iter := c.client.Scan(ctx, 0, fmt.Sprintf("%s:*:%s", redisKeyPrefix, timeframe), 100).Iterator()
	for iter.Next(ctx) {
		n, err := c.client.ZRemRangeByScore(ctx, iter.Val(), "-inf", max).Result()
		if err != nil {
			return removed, fmt.Errorf("redis prune %s: %w", iter.Val(), err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}
