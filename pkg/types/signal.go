package types

import (
	"encoding/json"
	"strings"
	"time"
)

// Features is the per-symbol indicator snapshot persisted with every signal.
type Features struct {
	Last               float64  `json:"last"`
	EMAFast            float64  `json:"ema_fast"`
	EMASlow            float64  `json:"ema_slow"`
	EMABias            float64  `json:"ema_bias"`
	EMABiasPrev        float64  `json:"ema_bias_prev"`
	VWAP               float64  `json:"vwap"`
	ATR                float64  `json:"atr"`
	VolSpike           float64  `json:"vol_spike"`
	AvgVolume          float64  `json:"avg_volume"`
	ConsolidationRange float64  `json:"consolidation_range"`
	SpreadBp           *float64 `json:"spread_bp,omitempty"`
	Supertrend         float64  `json:"supertrend"`
	SupertrendUp       bool     `json:"supertrend_up"`
	CatalystFresh      bool     `json:"catalyst_fresh"`
	CatalystAgeMin     float64  `json:"catalyst_age_min"`
	HeadlineCount      int      `json:"headline_count"`
	Illiquid           bool     `json:"illiquid"`
	EarningsWindow     bool     `json:"earnings_window"`
	Bars               int      `json:"bars"`
}

// RuleResult is the outcome of one scoring rule, in evaluation order.
type RuleResult struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Weight float64 `json:"weight"`
}

// Signal is the per-symbol outcome of a cycle.
type Signal struct {
	ID         int64        `json:"id"`
	Symbol     string       `json:"symbol"`
	RunTS      time.Time    `json:"run_ts"`
	Features   Features     `json:"features"`
	Rules      []RuleResult `json:"rules"`
	BaseScore  float64      `json:"base_score"`
	AIAdjScore float64      `json:"ai_adj_score"`
	FinalScore float64      `json:"final_score"`
	Rank       int          `json:"rank"`
	Reasons    []string     `json:"reasons"`
	CycleID    string       `json:"cycle_id"`

	// Hints for sizing, not persisted.
	EntryHint float64 `json:"-"`
	StopHint  float64 `json:"-"`
}

const reasonSeparator = "; "

// FeaturesJSON encodes the feature snapshot for the features_json column.
func (s Signal) FeaturesJSON() (string, error) {
	b, err := json.Marshal(s.Features)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RulesJSON encodes the ordered rule outcomes for the rules_passed_json column.
func (s Signal) RulesJSON() (string, error) {
	rules := s.Rules
	if rules == nil {
		rules = []RuleResult{}
	}
	b, err := json.Marshal(rules)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReasonsText joins the human-readable reasons.
func (s Signal) ReasonsText() string {
	return strings.Join(s.Reasons, reasonSeparator)
}

// DecodeSignalColumns fills the JSON/text backed fields from stored columns.
func DecodeSignalColumns(s *Signal, featuresJSON, rulesJSON, reasonsText string) error {
	if featuresJSON != "" {
		if err := json.Unmarshal([]byte(featuresJSON), &s.Features); err != nil {
			return err
		}
	}
	if rulesJSON != "" {
		if err := json.Unmarshal([]byte(rulesJSON), &s.Rules); err != nil {
			return err
		}
	}
	if reasonsText != "" {
		s.Reasons = strings.Split(reasonsText, reasonSeparator)
	}
	return nil
}

// PassedRules returns the names of rules that passed.
func (s Signal) PassedRules() []string {
	var out []string
	for _, r := range s.Rules {
		if r.Passed {
			out = append(out, r.Name)
		}
	}
	return out
}

// Provenance records the AI overlay input used for a symbol.
type Provenance struct {
	ID             int64          `json:"id"`
	Symbol         string         `json:"symbol"`
	RunTS          time.Time      `json:"run_ts"`
	Source         string         `json:"source"`
	SentimentScore float64        `json:"sentiment_score"`
	SentimentLabel string         `json:"sentiment_label"`
	Meta           map[string]any `json:"meta"`
}
