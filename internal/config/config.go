package config

import (
	"fmt"
	"strings"
	"time"

	engerrors "github.com/afadxb/bot4.1/internal/errors"
)

// Config is the layered engine configuration. Every block is additive over
// the defaults in setDefaults.
type Config struct {
	Orchestrator  OrchestratorConfig  `mapstructure:"orchestrator"`
	Risk          RiskConfig          `mapstructure:"risk"`
	Execution     ExecutionConfig     `mapstructure:"execution"`
	Strategy      StrategyConfig      `mapstructure:"strategy"`
	AI            AIConfig            `mapstructure:"ai"`
	Feeds         FeedsConfig         `mapstructure:"feeds"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// OrchestratorConfig drives cadence and session boundaries
type OrchestratorConfig struct {
	Timezone        string        `mapstructure:"timezone"`
	Cadence         time.Duration `mapstructure:"cadence"`
	IntradayTopN    int           `mapstructure:"intraday_top_n"`
	FlattenTime     string        `mapstructure:"flatten_time_et"` // HH:MM in Timezone
	SessionOpen     string        `mapstructure:"session_open"`
	SessionClose    string        `mapstructure:"session_close"`
	MaxParallel     int           `mapstructure:"max_parallel"`   // concurrent symbol fetches
	SymbolTimeout   time.Duration `mapstructure:"symbol_timeout"` // per symbol DataHub/AI budget
	MinEntryScore   float64       `mapstructure:"min_entry_score"`
	StartWithDryRun bool          `mapstructure:"start_with_dry_run"`
}

// RiskConfig holds guardrail limits
type RiskConfig struct {
	EnableLimits            bool          `mapstructure:"enable_limits"`
	AccountEquity           float64       `mapstructure:"account_equity"`
	RiskPerTradePct         float64       `mapstructure:"risk_per_trade_pct"`
	DailyTradeCap           int           `mapstructure:"daily_trade_cap"`
	DailyDrawdownHaltPct    float64       `mapstructure:"daily_drawdown_halt_pct"`
	MinTickBuffer           float64       `mapstructure:"min_tick_buffer"`
	MaxPositionValuePct     float64       `mapstructure:"max_position_value_pct"`
	MaxPortfolioExposurePct float64       `mapstructure:"max_portfolio_exposure_pct"`
	EarningsBlackout        bool          `mapstructure:"earnings_blackout"`
	EarningsBlackoutMode    string        `mapstructure:"earnings_blackout_mode"` // cap | veto
	BlackoutCapFactor       float64       `mapstructure:"blackout_cap_factor"`
	BlackoutWindow          time.Duration `mapstructure:"blackout_window"`
	BlackoutSymbols         []string      `mapstructure:"blackout_symbols"`
	SpreadPenaltyBp         float64       `mapstructure:"spread_penalty_bp"`
	IlliquidityVeto         bool          `mapstructure:"illiquidity_veto"`
	MinAvgVolume            float64       `mapstructure:"min_avg_volume"`
}

// ExecutionConfig holds sizing targets and trail settings
type ExecutionConfig struct {
	EnableOrders     bool    `mapstructure:"enable_orders"`
	Venue            string  `mapstructure:"venue"` // bybit
	ScaleOutFraction float64 `mapstructure:"scale_out_fraction"`
	ScaleOutAtR      float64 `mapstructure:"scale_out_at_r_multiple"`
	FinalTargetR     float64 `mapstructure:"final_target_r_multiple"`
	TrailMode        string  `mapstructure:"trail_mode"` // ema21 | atr | none
	ATRTrailMult     float64 `mapstructure:"atr_trail_mult"`
}

// SupertrendConfig holds Supertrend parameters
type SupertrendConfig struct {
	ATRPeriod int     `mapstructure:"atr_period"`
	ATRMult   float64 `mapstructure:"atr_mult"`
}

// StrategyConfig holds indicator periods and rule thresholds
type StrategyConfig struct {
	EMAFast               int              `mapstructure:"ema_fast"`
	EMASlow               int              `mapstructure:"ema_slow"`
	EMABias               int              `mapstructure:"ema_bias"`
	ATRPeriod             int              `mapstructure:"atr_period"`
	VWAPRequired          bool             `mapstructure:"vwap_required"`
	VolSpikeMultiple      float64          `mapstructure:"vol_spike_multiple"`
	VolumeWindow          int              `mapstructure:"volume_window"`
	ConsolidationLookback int              `mapstructure:"consolidation_lookback"`
	ConsolidationMaxRange float64          `mapstructure:"consolidation_max_range"`
	CatalystRequired      bool             `mapstructure:"catalyst_required"`
	CatalystFreshMinutes  float64          `mapstructure:"catalyst_fresh_minutes"`
	EnableSupertrend      bool             `mapstructure:"enable_supertrend"`
	Supertrend            SupertrendConfig `mapstructure:"supertrend"`
}

// SentimentConfig holds headline sentiment decay settings
type SentimentConfig struct {
	MinHeadlines int     `mapstructure:"min_headlines"`
	DecayHours   float64 `mapstructure:"decay_hours"`
}

// AIConfig holds the optional overlay switches
type AIConfig struct {
	EnableGating             bool            `mapstructure:"enable_gating"`
	RequirePositiveSentiment bool            `mapstructure:"require_positive_sentiment"`
	RequireFavorableRegime   bool            `mapstructure:"require_favorable_regime"`
	Sentiment                SentimentConfig `mapstructure:"sentiment"`
}

// RetryConfig holds adapter retry settings
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// BreakerConfig holds feed circuit breaker settings
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// BybitConfig selects the Bybit environment. Keys come from the environment.
type BybitConfig struct {
	Category  string `mapstructure:"category"`
	Testnet   bool   `mapstructure:"testnet"`
	Demo      bool   `mapstructure:"demo"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// FeedsConfig selects and tunes the market data adapters
type FeedsConfig struct {
	Source        string        `mapstructure:"source"` // csv | bybit
	CSVDir        string        `mapstructure:"csv_dir"`
	HeadlinesFile string        `mapstructure:"headlines_file"`
	Timeframe     string        `mapstructure:"timeframe"`
	LookbackBars  int           `mapstructure:"lookback_bars"`
	ThrottleRPS   float64       `mapstructure:"throttle_rps"`
	Retry         RetryConfig   `mapstructure:"retry"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
	Bybit         BybitConfig   `mapstructure:"bybit"`
}

// DatabaseConfig holds the Postgres connection. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// CacheConfig holds the optional Redis bar cache
type CacheConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	BarTTL        time.Duration `mapstructure:"bar_ttl"`
}

// HTTPConfig holds the status server address. Empty disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// NotificationsConfig holds the Telegram alert target. Empty disables alerts.
type NotificationsConfig struct {
	TelegramToken  string   `mapstructure:"telegram_token"`
	TelegramChatID string   `mapstructure:"telegram_chat_id"`
	Events         []string `mapstructure:"events"` // risk event types that alert
}

// LoggingConfig holds logger options
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	Dir    string `mapstructure:"dir"`
}

// DryRun reports whether order sends must be no-ops.
func (c *Config) DryRun() bool {
	return !c.Execution.EnableOrders || c.Orchestrator.StartWithDryRun
}

// SetLive switches between live and dry-run execution.
func (c *Config) SetLive(live bool) {
	c.Execution.EnableOrders = live
	c.Orchestrator.StartWithDryRun = !live
}

// Location resolves the market timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Orchestrator.Timezone)
	if err != nil {
		return nil, engerrors.NewConfigError("timezone", fmt.Sprintf("unknown timezone %q", c.Orchestrator.Timezone))
	}
	return loc, nil
}

// ParseClock parses an HH:MM wall clock value.
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, engerrors.NewConfigError("clock", fmt.Sprintf("invalid HH:MM value %q", value))
	}
	return t.Hour(), t.Minute(), nil
}

// Validate checks cross-field constraints and returns a ConfigError on the first violation.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	for _, v := range []string{c.Orchestrator.FlattenTime, c.Orchestrator.SessionOpen, c.Orchestrator.SessionClose} {
		if _, _, err := ParseClock(v); err != nil {
			return err
		}
	}
	if c.Orchestrator.Cadence <= 0 {
		return engerrors.NewConfigError("validate", "orchestrator.cadence must be positive")
	}
	if c.Orchestrator.IntradayTopN <= 0 {
		return engerrors.NewConfigError("validate", "orchestrator.intraday_top_n must be positive")
	}
	if c.Orchestrator.MaxParallel <= 0 {
		return engerrors.NewConfigError("validate", "orchestrator.max_parallel must be positive")
	}
	if c.Risk.AccountEquity <= 0 {
		return engerrors.NewConfigError("validate", "risk.account_equity must be positive")
	}
	if c.Risk.DailyTradeCap < 0 {
		return engerrors.NewConfigError("validate", "risk.daily_trade_cap must not be negative")
	}
	switch c.Risk.EarningsBlackoutMode {
	case "cap", "veto":
	default:
		return engerrors.NewConfigError("validate", fmt.Sprintf("unknown earnings_blackout_mode %q", c.Risk.EarningsBlackoutMode))
	}
	if c.Risk.BlackoutCapFactor <= 0 || c.Risk.BlackoutCapFactor >= 1 {
		return engerrors.NewConfigError("validate", "risk.blackout_cap_factor must be in (0, 1)")
	}
	switch c.Execution.TrailMode {
	case "ema21", "atr", "none":
	default:
		return engerrors.NewConfigError("validate", fmt.Sprintf("unknown trail_mode %q", c.Execution.TrailMode))
	}
	if c.Execution.FinalTargetR < c.Execution.ScaleOutAtR {
		return engerrors.NewConfigError("validate", "final_target_r_multiple must be >= scale_out_at_r_multiple")
	}
	if c.Execution.ScaleOutFraction <= 0 || c.Execution.ScaleOutFraction > 1 {
		return engerrors.NewConfigError("validate", "execution.scale_out_fraction must be in (0, 1]")
	}
	switch c.Feeds.Source {
	case "csv", "bybit":
	default:
		return engerrors.NewConfigError("validate", fmt.Sprintf("unknown feeds.source %q", c.Feeds.Source))
	}
	if c.Strategy.EMAFast <= 0 || c.Strategy.EMASlow <= 0 || c.Strategy.EMABias <= 0 {
		return engerrors.NewConfigError("validate", "strategy EMA periods must be positive")
	}
	return nil
}
