// Package ai implements the optional sentiment/regime overlay that adjusts
// base scores before ranking.
package ai

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/afadxb/bot4.1/internal/config"
	"github.com/afadxb/bot4.1/internal/regime"
	"github.com/afadxb/bot4.1/internal/strategy"
	"github.com/afadxb/bot4.1/pkg/types"
)

const (
	softVetoSentiment = -0.4
	softVetoMaxBase   = 0.55
	softVetoKeep      = 0.4
	sentimentWeight   = 0.1
)

// Overlay adjusts signals from headline sentiment and volatility regime.
type Overlay struct {
	cfg   config.AIConfig
	model SentimentModel
	now   func() time.Time
	log   zerolog.Logger
}

// Option customizes an Overlay
type Option func(*Overlay)

// WithModel swaps the sentiment model.
func WithModel(m SentimentModel) Option {
	return func(o *Overlay) { o.model = m }
}

// WithClock sets the clock used for headline ages.
func WithClock(now func() time.Time) Option {
	return func(o *Overlay) { o.now = now }
}

// NewOverlay creates an overlay backed by the stub model unless overridden.
func NewOverlay(cfg config.AIConfig, log zerolog.Logger, opts ...Option) *Overlay {
	o := &Overlay{
		cfg:   cfg,
		model: StubSentiment{},
		now:   time.Now,
		log:   log.With().Str("component", "ai").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var _ strategy.Adjuster = (*Overlay)(nil)

// Adjust implements strategy.Adjuster
func (o *Overlay) Adjust(ctx context.Context, sig types.Signal, headlines []types.Headline) (strategy.Adjustment, error) {
	if err := ctx.Err(); err != nil {
		return strategy.Adjustment{}, err
	}

	asOf := sig.RunTS
	if asOf.IsZero() {
		asOf = o.now()
	}

	raw, decayed := o.sentiment(headlines, asOf)
	reg := regime.Classify(sig.Features)
	base := sig.BaseScore

	var delta float64
	var reason string
	switch {
	case decayed < softVetoSentiment && base <= softVetoMaxBase:
		delta = base*softVetoKeep - base
		reason = fmt.Sprintf("ai soft veto: sentiment %.2f", decayed)
	default:
		delta = decayed * sentimentWeight
		if delta != 0 {
			reason = fmt.Sprintf("ai sentiment %+.2f (%s)", decayed, reg)
		}
	}
	if o.cfg.RequirePositiveSentiment && decayed <= 0 {
		delta = -base
		reason = "ai gate: sentiment not positive"
	}
	if o.cfg.RequireFavorableRegime && !reg.Favorable() {
		delta = -base
		reason = fmt.Sprintf("ai gate: %s regime", reg)
	}
	delta = clamp(delta, -strategy.MaxAdjustment, strategy.MaxAdjustment)

	prov := &types.Provenance{
		Symbol:         sig.Symbol,
		RunTS:          sig.RunTS,
		Source:         o.model.Name(),
		SentimentScore: decayed,
		SentimentLabel: Label(decayed),
		Meta: map[string]any{
			"raw_sentiment": raw,
			"headlines":     len(headlines),
			"regime":        reg.String(),
			"atr_pct":       regime.ATRPct(sig.Features),
			"base_score":    base,
			"delta":         delta,
		},
	}

	o.log.Debug().
		Str("symbol", sig.Symbol).
		Float64("sentiment", decayed).
		Str("regime", reg.String()).
		Float64("delta", delta).
		Msg("overlay applied")

	return strategy.Adjustment{Delta: delta, Reason: reason, Provenance: prov}, nil
}

// sentiment returns the plain mean and the time-decayed mean of headline
// scores. The decayed value is halved when coverage is below min_headlines.
func (o *Overlay) sentiment(headlines []types.Headline, asOf time.Time) (raw, decayed float64) {
	if len(headlines) == 0 {
		return 0, 0
	}
	decayMin := o.cfg.Sentiment.DecayHours * 60

	var sumRaw, sumDecayed float64
	for _, h := range headlines {
		s := o.model.Score(h.Headline)
		sumRaw += s
		if decayMin > 0 && !h.PublishedAt.IsZero() {
			age := math.Max(0, asOf.Sub(h.PublishedAt).Minutes())
			s *= math.Exp(-age / decayMin)
		}
		sumDecayed += s
	}
	n := float64(len(headlines))
	raw = sumRaw / n
	decayed = sumDecayed / n
	if len(headlines) < o.cfg.Sentiment.MinHeadlines {
		decayed /= 2
	}
	return clamp(raw, -1, 1), clamp(decayed, -1, 1)
}
