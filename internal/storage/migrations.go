package storage

// migrations are applied in order on every start. Each is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS signals (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		run_ts TIMESTAMPTZ NOT NULL,
		features_json TEXT NOT NULL DEFAULT '{}',
		rules_passed_json TEXT NOT NULL DEFAULT '[]',
		base_score DOUBLE PRECISION NOT NULL,
		ai_adj_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		final_score DOUBLE PRECISION NOT NULL,
		rank INTEGER NOT NULL,
		reasons_text TEXT NOT NULL DEFAULT '',
		cycle_id TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol_run_ts ON signals(symbol, run_ts DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_cycle ON signals(cycle_id)`,

	`CREATE TABLE IF NOT EXISTS ai_provenance (
		id BIGSERIAL PRIMARY KEY,
		symbol TEXT NOT NULL,
		run_ts TIMESTAMPTZ NOT NULL,
		source TEXT NOT NULL,
		sentiment_score DOUBLE PRECISION NOT NULL,
		sentiment_label TEXT NOT NULL,
		meta_json TEXT NOT NULL DEFAULT '{}'
	)`,

	`CREATE TABLE IF NOT EXISTS bars_cache (
		symbol TEXT NOT NULL,
		tf TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (symbol, tf, ts)
	)`,

	`CREATE TABLE IF NOT EXISTS risk_events (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL DEFAULT now(),
		session TEXT NOT NULL,
		type TEXT NOT NULL,
		symbol TEXT,
		value DOUBLE PRECISION NOT NULL DEFAULT 0,
		meta_json TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_events_ts ON risk_events(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_events_type ON risk_events(type)`,

	`CREATE TABLE IF NOT EXISTS metrics_equity (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL DEFAULT now(),
		session TEXT NOT NULL,
		starting_equity DOUBLE PRECISION NOT NULL,
		realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
		unrealized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS watchlist (
		symbol TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		sector TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL DEFAULT now(),
		session TEXT NOT NULL,
		cycle_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		qty DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		stop_price DOUBLE PRECISION NOT NULL,
		scale_out_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		target_price DOUBLE PRECISION NOT NULL DEFAULT 0,
		trail_mode TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		dry_run BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session)`,

	`CREATE TABLE IF NOT EXISTS journal (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL DEFAULT now(),
		category TEXT NOT NULL,
		message TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}'
	)`,

	`CREATE OR REPLACE VIEW v_latest_signals AS
		SELECT DISTINCT ON (symbol)
			id, symbol, run_ts, features_json, rules_passed_json, base_score,
			ai_adj_score, final_score, rank, reasons_text, cycle_id
		FROM signals
		ORDER BY symbol, run_ts DESC, id DESC`,

	`CREATE OR REPLACE VIEW v_risk_events_today AS
		SELECT id, ts, session, type, symbol, value, meta_json
		FROM risk_events
		WHERE ts::date = CURRENT_DATE`,

	`CREATE OR REPLACE VIEW v_intraday_exposure AS
		SELECT session, symbol, SUM(value) AS exposure
		FROM risk_events
		WHERE type = 'exposure' AND symbol IS NOT NULL AND ts::date = CURRENT_DATE
		GROUP BY session, symbol`,

	`CREATE OR REPLACE VIEW v_daily_equity AS
		SELECT id, ts, session, starting_equity, realized_pnl, unrealized_pnl,
			CASE WHEN starting_equity = 0 THEN 0
				ELSE (realized_pnl + unrealized_pnl) / starting_equity * 100
			END AS drawdown_pct,
			(realized_pnl + unrealized_pnl) <= -starting_equity * 0.10 AS halt_flag
		FROM metrics_equity`,
}

// requiredColumns is checked after migrating. A pre-existing table with a
// different layout is a schema error.
var requiredColumns = map[string][]string{
	"signals":        {"id", "symbol", "run_ts", "features_json", "rules_passed_json", "base_score", "ai_adj_score", "final_score", "rank", "reasons_text", "cycle_id"},
	"ai_provenance":  {"id", "symbol", "run_ts", "source", "sentiment_score", "sentiment_label", "meta_json"},
	"bars_cache":     {"symbol", "tf", "ts", "open", "high", "low", "close", "volume"},
	"risk_events":    {"id", "ts", "session", "type", "symbol", "value", "meta_json"},
	"metrics_equity": {"id", "ts", "session", "starting_equity", "realized_pnl", "unrealized_pnl"},
}
