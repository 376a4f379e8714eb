// Package datahub fetches bars and catalyst headlines for the orchestrator.
// Reads go cache first, then the configured source behind a throttle, a
// circuit breaker and an exponential retry. Anything short of a usable
// window is a DataGapError so the caller can skip the symbol.
package datahub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/afadxb/bot4.1/internal/config"
	engerrors "github.com/afadxb/bot4.1/internal/errors"
	"github.com/afadxb/bot4.1/internal/monitoring"
	"github.com/afadxb/bot4.1/internal/safety"
	"github.com/afadxb/bot4.1/pkg/data"
	"github.com/afadxb/bot4.1/pkg/types"
)

// BarStore persists fetched bars in the bars_cache table.
type BarStore interface {
	UpsertBars(ctx context.Context, symbol, timeframe string, bars []types.OHLCV) error
	PruneBars(ctx context.Context, timeframe string, before time.Time) (int64, error)
}

// Hub is the market data collaborator of the orchestrator.
type Hub struct {
	cfg       config.FeedsConfig
	source    data.BarSource
	headlines data.HeadlineSource
	caches    []data.BarCache
	store     BarStore
	limiter   *rate.Limiter
	breaker   *safety.CircuitBreaker
	minBars   int
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures a Hub
type Option func(*Hub)

// WithHeadlines sets the catalyst headline source.
func WithHeadlines(src data.HeadlineSource) Option {
	return func(h *Hub) { h.headlines = src }
}

// WithCache appends a cache layer. Layers are read in the order added.
func WithCache(c data.BarCache) Option {
	return func(h *Hub) {
		if c != nil {
			h.caches = append(h.caches, c)
		}
	}
}

// WithStore sets the bars_cache writer.
func WithStore(s BarStore) Option {
	return func(h *Hub) { h.store = s }
}

// WithMinBars sets the shortest window Bars returns without a gap error.
func WithMinBars(n int) Option {
	return func(h *Hub) { h.minBars = n }
}

// WithClock sets the clock used to judge cached windows stale.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

// New creates a hub over source.
func New(cfg config.FeedsConfig, source data.BarSource, log zerolog.Logger, opts ...Option) *Hub {
	limit := rate.Inf
	if cfg.ThrottleRPS > 0 {
		limit = rate.Limit(cfg.ThrottleRPS)
	}

	h := &Hub{
		cfg:     cfg,
		source:  source,
		limiter: rate.NewLimiter(limit, 1),
		breaker: safety.NewCircuitBreaker(source.Name(), safety.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Timeout:          cfg.Breaker.Timeout,
		}),
		minBars: 1,
		now:     time.Now,
		log:     log.With().Str("component", "datahub").Str("source", source.Name()).Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.breaker.SetStateChangeCallback(func(name string, from, to safety.CircuitBreakerState) {
		monitoring.SetBreakerState(name, int(to))
		h.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("feed breaker transition")
	})
	return h
}

// Breaker exposes the feed breaker for health reporting.
func (h *Hub) Breaker() *safety.CircuitBreaker {
	return h.breaker
}

// Timeframe returns the configured bar timeframe.
func (h *Hub) Timeframe() string {
	return h.cfg.Timeframe
}

// Bars returns the last lookback_bars bars for symbol.
func (h *Hub) Bars(ctx context.Context, symbol string) ([]types.OHLCV, error) {
	tf := h.cfg.Timeframe
	limit := h.cfg.LookbackBars

	for _, c := range h.caches {
		bars, ok, err := c.Get(ctx, symbol, tf, limit)
		if err != nil {
			h.log.Debug().Err(err).Str("symbol", symbol).Msg("cache read failed")
			continue
		}
		if ok && h.fresh(bars) {
			return bars, nil
		}
	}

	bars, err := h.fetch(ctx, symbol, tf, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, engerrors.Wrap(err, engerrors.KindCancelled, "datahub", "bars", symbol)
		}
		monitoring.RecordDataGap(h.source.Name())
		return nil, engerrors.Wrap(err, engerrors.KindDataGap, "datahub", "bars", symbol)
	}

	if res := safety.ValidateBars(symbol, bars); !res.Valid {
		monitoring.RecordDataGap(h.source.Name())
		return nil, engerrors.NewDataGapError("datahub", symbol, res.Message).WithContext("code", res.Code)
	}
	if len(bars) < h.minBars {
		monitoring.RecordDataGap(h.source.Name())
		return nil, engerrors.NewDataGapError("datahub", symbol,
			fmt.Sprintf("window has %d bars, need %d", len(bars), h.minBars))
	}

	h.write(ctx, symbol, tf, bars)
	return bars, nil
}

// fresh reports whether a cached window holds the last completed bar. Bar
// timestamps are open times, so the newest bar must have opened no earlier
// than one timeframe ago.
func (h *Hub) fresh(bars []types.OHLCV) bool {
	if len(bars) == 0 {
		return false
	}
	minutes, err := data.TimeframeMinutes(h.cfg.Timeframe)
	if err != nil {
		return true
	}
	cutoff := h.now().Add(-time.Duration(minutes) * time.Minute)
	return !bars[len(bars)-1].Timestamp.Before(cutoff)
}

func (h *Hub) fetch(ctx context.Context, symbol, tf string, limit int) ([]types.OHLCV, error) {
	var bars []types.OHLCV

	op := func() error {
		if err := h.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := h.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			bars, err = h.source.Bars(ctx, symbol, tf, limit)
			return err
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, data.ErrNoData) || errors.Is(err, safety.ErrCircuitOpen) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		h.log.Warn().Err(err).Str("symbol", symbol).Dur("retry_in", wait).Msg("bar fetch failed, retrying")
	}

	if err := backoff.RetryNotify(op, h.backoff(ctx), notify); err != nil {
		return nil, err
	}
	return bars, nil
}

func (h *Hub) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if h.cfg.Retry.InitialDelay > 0 {
		b.InitialInterval = h.cfg.Retry.InitialDelay
	}
	if h.cfg.Retry.MaxDelay > 0 {
		b.MaxInterval = h.cfg.Retry.MaxDelay
	}
	b.MaxElapsedTime = 0

	retries := h.cfg.Retry.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// write stores a fetched window. Failures are logged only: a cycle never
// fails because a cache is down.
func (h *Hub) write(ctx context.Context, symbol, tf string, bars []types.OHLCV) {
	for _, c := range h.caches {
		if err := c.Upsert(ctx, symbol, tf, bars); err != nil {
			h.log.Warn().Err(err).Str("symbol", symbol).Msg("cache upsert failed")
		}
	}
	if h.store != nil {
		if err := h.store.UpsertBars(ctx, symbol, tf, bars); err != nil {
			h.log.Warn().Err(err).Str("symbol", symbol).Msg("bars_cache upsert failed")
		}
	}
}

// Headlines returns de-duplicated catalyst headlines for symbol, newest
// first. Without a source there are none, which is not a gap.
func (h *Hub) Headlines(ctx context.Context, symbol string) ([]types.Headline, error) {
	if h.headlines == nil {
		return nil, nil
	}
	out, err := h.headlines.Headlines(ctx, symbol)
	if err != nil {
		return nil, engerrors.Wrap(err, engerrors.KindDataGap, "datahub", "headlines", symbol)
	}
	return MergeCatalysts(nil, out), nil
}

// MergeCatalysts merges two headline lists, keeping one entry per
// (symbol, headline) with the latest publish time. The result is newest first.
func MergeCatalysts(existing, incoming []types.Headline) []types.Headline {
	type key struct{ symbol, headline string }
	latest := make(map[key]types.Headline, len(existing)+len(incoming))

	for _, list := range [][]types.Headline{existing, incoming} {
		for _, h := range list {
			k := key{strings.ToUpper(h.Symbol), strings.ToLower(strings.TrimSpace(h.Headline))}
			if prev, ok := latest[k]; ok && !h.PublishedAt.After(prev.PublishedAt) {
				continue
			}
			latest[k] = h
		}
	}

	out := make([]types.Headline, 0, len(latest))
	for _, h := range latest {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Headline < out[j].Headline
	})
	return out
}

// Retention returns how long bars of timeframe are kept.
func Retention(timeframe string) time.Duration {
	switch timeframe {
	case "1m":
		return 720 * time.Minute
	case "5m":
		return 1440 * time.Minute
	case "15m":
		return 3840 * time.Minute
	default:
		return 1440 * time.Minute
	}
}

// Prune removes cached and stored bars older than the timeframe retention.
func (h *Hub) Prune(ctx context.Context, now time.Time) (int64, error) {
	tf := h.cfg.Timeframe
	before := now.Add(-Retention(tf))

	var total int64
	for _, c := range h.caches {
		n, err := c.Prune(ctx, tf, before)
		if err != nil {
			h.log.Warn().Err(err).Msg("cache prune failed")
			continue
		}
		total += int64(n)
	}
	if h.store != nil {
		n, err := h.store.PruneBars(ctx, tf, before)
		if err != nil {
			return total, fmt.Errorf("prune bars_cache: %w", err)
		}
		total += n
	}
	h.log.Info().Int64("removed", total).Time("before", before).Msg("pruned bar cache")
	return total, nil
}
