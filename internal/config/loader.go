package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	engerrors "github.com/afadxb/bot4.1/internal/errors"
)

// EnvPrefix is the prefix for environment overrides, e.g. ENGINE_RISK_DAILY_TRADE_CAP.
const EnvPrefix = "ENGINE"

// LoadOptions selects the config and .env files. Both are optional.
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
}

// Default returns the baseline configuration: EMA-only, AI off, dry-run.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic("config: defaults do not decode: " + err.Error())
	}
	return cfg
}

// Load layers defaults, the YAML file, the .env file and the process environment.
func Load(opts LoadOptions) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, engerrors.NewConfigError("load_env", err.Error())
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, engerrors.NewConfigError("read", err.Error())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, engerrors.NewConfigError("decode", err.Error())
	}
	applySecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applySecrets fills credentials that only ever come from the environment.
func applySecrets(cfg *Config) {
	if v := os.Getenv("BYBIT_API_KEY"); v != "" {
		cfg.Feeds.Bybit.APIKey = v
	}
	if v := os.Getenv("BYBIT_API_SECRET"); v != "" {
		cfg.Feeds.Bybit.APISecret = v
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if cfg.Cache.RedisPassword == "" {
		cfg.Cache.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.TelegramToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifications.TelegramChatID = v
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.timezone", "America/Toronto")
	v.SetDefault("orchestrator.cadence", "5m")
	v.SetDefault("orchestrator.intraday_top_n", 20)
	v.SetDefault("orchestrator.flatten_time_et", "15:55")
	v.SetDefault("orchestrator.session_open", "09:30")
	v.SetDefault("orchestrator.session_close", "16:00")
	v.SetDefault("orchestrator.max_parallel", 4)
	v.SetDefault("orchestrator.symbol_timeout", "10s")
	v.SetDefault("orchestrator.min_entry_score", 0.5)
	v.SetDefault("orchestrator.start_with_dry_run", true)

	v.SetDefault("risk.enable_limits", true)
	v.SetDefault("risk.account_equity", 100000.0)
	v.SetDefault("risk.risk_per_trade_pct", 1.0)
	v.SetDefault("risk.daily_trade_cap", 20)
	v.SetDefault("risk.daily_drawdown_halt_pct", 10.0)
	v.SetDefault("risk.min_tick_buffer", 0.01)
	v.SetDefault("risk.max_position_value_pct", 20.0)
	v.SetDefault("risk.max_portfolio_exposure_pct", 100.0)
	v.SetDefault("risk.earnings_blackout", true)
	v.SetDefault("risk.earnings_blackout_mode", "cap")
	v.SetDefault("risk.blackout_cap_factor", 0.5)
	v.SetDefault("risk.blackout_window", "60m")
	v.SetDefault("risk.blackout_symbols", []string{})
	v.SetDefault("risk.spread_penalty_bp", 50.0)
	v.SetDefault("risk.illiquidity_veto", true)
	v.SetDefault("risk.min_avg_volume", 250000.0)

	v.SetDefault("execution.enable_orders", false)
	v.SetDefault("execution.venue", "bybit")
	v.SetDefault("execution.scale_out_fraction", 0.5)
	v.SetDefault("execution.scale_out_at_r_multiple", 1.0)
	v.SetDefault("execution.final_target_r_multiple", 2.0)
	v.SetDefault("execution.trail_mode", "ema21")
	v.SetDefault("execution.atr_trail_mult", 2.0)

	v.SetDefault("strategy.ema_fast", 9)
	v.SetDefault("strategy.ema_slow", 21)
	v.SetDefault("strategy.ema_bias", 50)
	v.SetDefault("strategy.atr_period", 14)
	v.SetDefault("strategy.vwap_required", true)
	v.SetDefault("strategy.vol_spike_multiple", 1.5)
	v.SetDefault("strategy.volume_window", 20)
	v.SetDefault("strategy.consolidation_lookback", 20)
	v.SetDefault("strategy.consolidation_max_range", 0.03)
	v.SetDefault("strategy.catalyst_required", false)
	v.SetDefault("strategy.catalyst_fresh_minutes", 120.0)
	v.SetDefault("strategy.enable_supertrend", false)
	v.SetDefault("strategy.supertrend.atr_period", 10)
	v.SetDefault("strategy.supertrend.atr_mult", 3.0)

	v.SetDefault("ai.enable_gating", false)
	v.SetDefault("ai.require_positive_sentiment", false)
	v.SetDefault("ai.require_favorable_regime", false)
	v.SetDefault("ai.sentiment.min_headlines", 1)
	v.SetDefault("ai.sentiment.decay_hours", 12.0)

	v.SetDefault("feeds.source", "csv")
	v.SetDefault("feeds.csv_dir", "data")
	v.SetDefault("feeds.headlines_file", "")
	v.SetDefault("feeds.timeframe", "5m")
	v.SetDefault("feeds.lookback_bars", 120)
	v.SetDefault("feeds.throttle_rps", 2.0)
	v.SetDefault("feeds.retry.max_retries", 3)
	v.SetDefault("feeds.retry.initial_delay", "500ms")
	v.SetDefault("feeds.retry.max_delay", "5s")
	v.SetDefault("feeds.breaker.failure_threshold", 5)
	v.SetDefault("feeds.breaker.timeout", "30s")
	v.SetDefault("feeds.bybit.category", "spot")
	v.SetDefault("feeds.bybit.testnet", true)
	v.SetDefault("feeds.bybit.demo", false)
	v.SetDefault("feeds.bybit.api_key", "")
	v.SetDefault("feeds.bybit.api_secret", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.bar_ttl", "4m")

	v.SetDefault("http.addr", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.pretty", true)
	v.SetDefault("logging.dir", "")

	v.SetDefault("notifications.events", []string{"drawdown_halt", "halt_resumed", "flatten", "execution_failure"})
}
