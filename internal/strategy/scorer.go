package strategy

import (
	"fmt"
	"math"

	"github.com/afadxb/bot4.1/internal/config"
	"github.com/afadxb/bot4.1/pkg/types"
)

// Rule names, in evaluation order.
const (
	RuleTrendBias      = "trend_bias"
	RuleTrendAlignment = "trend_alignment"
	RuleVWAP           = "vwap"
	RuleVolumeSpike    = "volume_spike"
	RuleConsolidation  = "consolidation"
	RuleCatalyst       = "catalyst"
	RuleSupertrend     = "supertrend"
)

// Rule weights
const (
	weightTrendBias         = 0.20
	weightAlignmentPass     = 0.35
	weightAlignmentFail     = -0.40
	weightVWAP              = 0.20
	weightVolumeSpikeBase   = 0.10
	weightVolumeSpikeSlope  = 0.10
	weightVolumeSpikeMax    = 0.25
	weightConsolidation     = 0.15
	weightCatalyst          = 0.15
	weightSupertrendConfirm = 0.10
)

// rule is one deterministic check. required rules zero the base score on failure.
type rule struct {
	name     string
	required bool
	eval     func(f types.Features) (passed bool, contribution float64, reason string)
}

// Scorer evaluates the fixed rule set and produces a base-scored signal.
type Scorer struct {
	cfg   config.StrategyConfig
	rules []rule
}

// NewScorer builds the rule chain for cfg. Optional rules that are switched
// off are not part of the chain at all.
func NewScorer(cfg config.StrategyConfig) *Scorer {
	s := &Scorer{cfg: cfg}

	s.rules = append(s.rules,
		rule{name: RuleTrendBias, eval: s.trendBias},
		rule{name: RuleTrendAlignment, eval: s.trendAlignment},
	)
	if cfg.VWAPRequired {
		s.rules = append(s.rules, rule{name: RuleVWAP, required: true, eval: s.vwap})
	}
	s.rules = append(s.rules,
		rule{name: RuleVolumeSpike, eval: s.volumeSpike},
		rule{name: RuleConsolidation, eval: s.consolidation},
		rule{name: RuleCatalyst, required: cfg.CatalystRequired, eval: s.catalyst},
	)
	if cfg.EnableSupertrend {
		s.rules = append(s.rules, rule{name: RuleSupertrend, eval: s.supertrend})
	}
	return s
}

// Score runs every rule in order. AIAdjScore is 0 and FinalScore equals
// BaseScore until an adjustment is applied.
func (s *Scorer) Score(symbol string, f types.Features) types.Signal {
	sig := types.Signal{
		Symbol:   symbol,
		Features: f,
		Rules:    make([]types.RuleResult, 0, len(s.rules)),
	}

	base := 0.0
	gated := false
	for _, r := range s.rules {
		passed, contribution, reason := r.eval(f)
		sig.Rules = append(sig.Rules, types.RuleResult{Name: r.name, Passed: passed, Weight: contribution})
		if reason != "" {
			sig.Reasons = append(sig.Reasons, reason)
		}
		base += contribution
		if r.required && !passed {
			gated = true
			sig.Reasons = append(sig.Reasons, fmt.Sprintf("required rule %s failed", r.name))
		}
	}
	if gated {
		base = 0
	}

	sig.BaseScore = Clamp01(base)
	sig.FinalScore = sig.BaseScore
	sig.EntryHint = f.Last
	if f.ATR > 0 {
		sig.StopHint = f.Last - f.ATR
	} else {
		sig.StopHint = f.Last * 0.99
	}
	return sig
}

func (s *Scorer) trendBias(f types.Features) (bool, float64, string) {
	if f.Last > f.EMABias && f.EMASlow > f.EMABias && f.EMABias >= f.EMABiasPrev {
		return true, weightTrendBias, fmt.Sprintf("above rising ema%d", s.cfg.EMABias)
	}
	return false, 0, ""
}

func (s *Scorer) trendAlignment(f types.Features) (bool, float64, string) {
	if f.EMAFast > f.EMASlow {
		return true, weightAlignmentPass, fmt.Sprintf("ema%d>ema%d", s.cfg.EMAFast, s.cfg.EMASlow)
	}
	return false, weightAlignmentFail, fmt.Sprintf("ema%d<=ema%d", s.cfg.EMAFast, s.cfg.EMASlow)
}

func (s *Scorer) vwap(f types.Features) (bool, float64, string) {
	if f.Last >= f.VWAP {
		return true, weightVWAP, "above vwap"
	}
	return false, 0, "below vwap"
}

func (s *Scorer) volumeSpike(f types.Features) (bool, float64, string) {
	if f.VolSpike < s.cfg.VolSpikeMultiple {
		return false, 0, ""
	}
	bonus := math.Min(weightVolumeSpikeMax, weightVolumeSpikeBase+(f.VolSpike-s.cfg.VolSpikeMultiple)*weightVolumeSpikeSlope)
	return true, bonus, fmt.Sprintf("volume spike %.2fx", f.VolSpike)
}

func (s *Scorer) consolidation(f types.Features) (bool, float64, string) {
	if f.ConsolidationRange > 0 && f.ConsolidationRange <= s.cfg.ConsolidationMaxRange {
		return true, weightConsolidation, fmt.Sprintf("tight %d-bar range %.1f%%", s.cfg.ConsolidationLookback, f.ConsolidationRange*100)
	}
	return false, 0, ""
}

func (s *Scorer) catalyst(f types.Features) (bool, float64, string) {
	if f.CatalystFresh {
		return true, weightCatalyst, fmt.Sprintf("fresh catalyst %.0fm", f.CatalystAgeMin)
	}
	return false, 0, ""
}

func (s *Scorer) supertrend(f types.Features) (bool, float64, string) {
	if f.SupertrendUp && f.Last > f.Supertrend {
		return true, weightSupertrendConfirm, "supertrend up"
	}
	return false, 0, ""
}

// Clamp01 clamps v to [0, 1]; NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
