package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/afadxb/bot4.1/internal/config"
	engerrors "github.com/afadxb/bot4.1/internal/errors"
	"github.com/afadxb/bot4.1/pkg/types"
)

// PostgresStore persists to PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// OpenPostgres connects, migrates and verifies the schema. The session
// timezone is set to loc so the "today" views use market local dates.
func OpenPostgres(ctx context.Context, db config.DatabaseConfig, loc *time.Location, log zerolog.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(db.URL)
	if err != nil {
		return nil, engerrors.Wrap(err, engerrors.KindConfig, "storage", "parse_url", "invalid database url")
	}
	if db.MaxConns > 0 {
		poolConfig.MaxConns = db.MaxConns
	}
	if db.MinConns > 0 {
		poolConfig.MinConns = db.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	if loc != nil {
		poolConfig.ConnConfig.RuntimeParams["timezone"] = loc.String()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, engerrors.Wrap(err, engerrors.KindSchema, "storage", "connect", "unable to create connection pool")
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, engerrors.Wrap(err, engerrors.KindSchema, "storage", "connect", "unable to ping database")
	}

	s := &PostgresStore{pool: pool, log: log.With().Str("component", "storage").Logger()}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.log.Info().Str("database", poolConfig.ConnConfig.Database).Msg("connected to postgres")
	return s, nil
}

// Migrate applies the migrations and checks the fixed-layout tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return engerrors.NewSchemaError(fmt.Sprintf("migration %d", i), err)
		}
	}
	return s.verifySchema(ctx)
}

func (s *PostgresStore) verifySchema(ctx context.Context) error {
	tables := make([]string, 0, len(requiredColumns))
	for t := range requiredColumns {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	for _, table := range tables {
		rows, err := s.pool.Query(ctx,
			`SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1`, table)
		if err != nil {
			return engerrors.NewSchemaError("verify "+table, err)
		}
		have := make(map[string]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return engerrors.NewSchemaError("verify "+table, err)
			}
			have[name] = true
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return engerrors.NewSchemaError("verify "+table, err)
		}
		for _, col := range requiredColumns[table] {
			if !have[col] {
				return engerrors.NewSchemaError("verify "+table, fmt.Errorf("missing column %s", col))
			}
		}
	}
	return nil
}

// Close closes the pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func tsOrNow(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// SaveBatch writes a cycle's artifacts in one transaction.
func (s *PostgresStore) SaveBatch(ctx context.Context, b Batch) error {
	if b.Empty() {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, sig := range b.Signals {
		features, err := sig.FeaturesJSON()
		if err != nil {
			return fmt.Errorf("encode features %s: %w", sig.Symbol, err)
		}
		rules, err := sig.RulesJSON()
		if err != nil {
			return fmt.Errorf("encode rules %s: %w", sig.Symbol, err)
		}
		batch.Queue(`INSERT INTO signals (symbol, run_ts, features_json, rules_passed_json, base_score, ai_adj_score, final_score, rank, reasons_text, cycle_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			sig.Symbol, sig.RunTS, features, rules, sig.BaseScore, sig.AIAdjScore, sig.FinalScore, sig.Rank, sig.ReasonsText(), sig.CycleID)
	}
	for _, p := range b.Provenance {
		batch.Queue(`INSERT INTO ai_provenance (symbol, run_ts, source, sentiment_score, sentiment_label, meta_json)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			p.Symbol, p.RunTS, p.Source, p.SentimentScore, p.SentimentLabel, types.EncodeMeta(p.Meta))
	}
	for _, e := range b.RiskEvents {
		batch.Queue(`INSERT INTO risk_events (ts, session, type, symbol, value, meta_json)
			VALUES (COALESCE($1, now()), $2, $3, $4, $5, $6)`,
			tsOrNow(e.TS), e.Session, e.Type, nullable(e.Symbol), e.Value, e.MetaJSON())
	}
	if eq := b.Equity; eq != nil {
		batch.Queue(`INSERT INTO metrics_equity (ts, session, starting_equity, realized_pnl, unrealized_pnl)
			VALUES (COALESCE($1, now()), $2, $3, $4, $5)`,
			tsOrNow(eq.TS), eq.Session, eq.StartingEquity, eq.RealizedPnL, eq.UnrealizedPnL)
	}
	for _, t := range b.Trades {
		batch.Queue(`INSERT INTO trades (ts, session, cycle_id, symbol, side, qty, entry_price, stop_price, scale_out_price, target_price, trail_mode, status, order_id, dry_run)
			VALUES (COALESCE($1, now()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			tsOrNow(t.TS), t.Session, t.CycleID, t.Symbol, string(t.Side), t.Qty, t.EntryPrice, t.StopPrice,
			t.ScaleOutPrice, t.TargetPrice, string(t.TrailMode), t.Status, t.OrderID, t.DryRun)
	}
	for _, j := range b.Journal {
		payload := j.Payload
		if payload == "" {
			payload = "{}"
		}
		batch.Queue(`INSERT INTO journal (ts, category, message, payload_json) VALUES (COALESCE($1, now()), $2, $3, $4)`,
			tsOrNow(j.TS), j.Category, j.Message, payload)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	return tx.Commit(ctx)
}

// Watchlist returns enabled symbols ordered by symbol. limit <= 0 returns all.
func (s *PostgresStore) Watchlist(ctx context.Context, limit int) ([]types.WatchlistEntry, error) {
	query := `SELECT symbol, name, sector, enabled FROM watchlist WHERE enabled ORDER BY symbol`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var out []types.WatchlistEntry
	for rows.Next() {
		var w types.WatchlistEntry
		if err := rows.Scan(&w.Symbol, &w.Name, &w.Sector, &w.Enabled); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpsertWatchlist inserts or updates watchlist rows.
func (s *PostgresStore) UpsertWatchlist(ctx context.Context, entries []types.WatchlistEntry) error {
	batch := &pgx.Batch{}
	for _, w := range entries {
		batch.Queue(`INSERT INTO watchlist (symbol, name, sector, enabled) VALUES ($1, $2, $3, $4)
			ON CONFLICT (symbol) DO UPDATE SET name = EXCLUDED.name, sector = EXCLUDED.sector, enabled = EXCLUDED.enabled`,
			w.Symbol, w.Name, w.Sector, w.Enabled)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// UpsertBars writes bars keyed by (symbol, tf, ts).
func (s *PostgresStore) UpsertBars(ctx context.Context, symbol, timeframe string, bars []types.OHLCV) error {
	if len(bars) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(`INSERT INTO bars_cache (symbol, tf, ts, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (symbol, tf, ts) DO UPDATE SET open = EXCLUDED.open, high = EXCLUDED.high,
				low = EXCLUDED.low, close = EXCLUDED.close, volume = EXCLUDED.volume`,
			symbol, timeframe, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// PruneBars deletes bars of timeframe older than before.
func (s *PostgresStore) PruneBars(ctx context.Context, timeframe string, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bars_cache WHERE tf = $1 AND ts < $2`, timeframe, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LatestSignals reads v_latest_signals.
func (s *PostgresStore) LatestSignals(ctx context.Context) ([]types.Signal, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, symbol, run_ts, features_json, rules_passed_json, base_score,
		ai_adj_score, final_score, rank, reasons_text, cycle_id FROM v_latest_signals ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query v_latest_signals: %w", err)
	}
	defer rows.Close()

	var out []types.Signal
	for rows.Next() {
		var (
			sig                          types.Signal
			features, rules, reasonsText string
		)
		if err := rows.Scan(&sig.ID, &sig.Symbol, &sig.RunTS, &features, &rules, &sig.BaseScore,
			&sig.AIAdjScore, &sig.FinalScore, &sig.Rank, &reasonsText, &sig.CycleID); err != nil {
			return nil, err
		}
		if err := types.DecodeSignalColumns(&sig, features, rules, reasonsText); err != nil {
			return nil, fmt.Errorf("decode signal %d: %w", sig.ID, err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// RiskEventsToday reads v_risk_events_today.
func (s *PostgresStore) RiskEventsToday(ctx context.Context) ([]types.RiskEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, ts, session, type, symbol, value, meta_json FROM v_risk_events_today ORDER BY ts, id`)
	if err != nil {
		return nil, fmt.Errorf("query v_risk_events_today: %w", err)
	}
	defer rows.Close()

	var out []types.RiskEvent
	for rows.Next() {
		var (
			e      types.RiskEvent
			symbol *string
			meta   string
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Session, &e.Type, &symbol, &e.Value, &meta); err != nil {
			return nil, err
		}
		if symbol != nil {
			e.Symbol = *symbol
		}
		e.Meta = types.DecodeMeta(meta)
		out = append(out, e)
	}
	return out, rows.Err()
}

// IntradayExposure reads v_intraday_exposure.
func (s *PostgresStore) IntradayExposure(ctx context.Context) ([]Exposure, error) {
	rows, err := s.pool.Query(ctx, `SELECT session, symbol, exposure FROM v_intraday_exposure ORDER BY session, symbol`)
	if err != nil {
		return nil, fmt.Errorf("query v_intraday_exposure: %w", err)
	}
	defer rows.Close()

	var out []Exposure
	for rows.Next() {
		var e Exposure
		if err := rows.Scan(&e.Session, &e.Symbol, &e.Exposure); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DailyEquity reads v_daily_equity.
func (s *PostgresStore) DailyEquity(ctx context.Context) ([]types.DailyEquity, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, ts, session, starting_equity, realized_pnl, unrealized_pnl,
		drawdown_pct, halt_flag FROM v_daily_equity ORDER BY ts, id`)
	if err != nil {
		return nil, fmt.Errorf("query v_daily_equity: %w", err)
	}
	defer rows.Close()

	var out []types.DailyEquity
	for rows.Next() {
		var d types.DailyEquity
		if err := rows.Scan(&d.ID, &d.TS, &d.Session, &d.StartingEquity, &d.RealizedPnL, &d.UnrealizedPnL,
			&d.DrawdownPct, &d.HaltFlag); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Trades returns trades for a session, or all when session is empty.
func (s *PostgresStore) Trades(ctx context.Context, session string) ([]types.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, ts, session, cycle_id, symbol, side, qty, entry_price, stop_price,
		scale_out_price, target_price, trail_mode, status, order_id, dry_run
		FROM trades WHERE $1 = '' OR session = $1 ORDER BY ts, id`, session)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []types.TradeRecord
	for rows.Next() {
		var (
			t           types.TradeRecord
			side, trail string
		)
		if err := rows.Scan(&t.ID, &t.TS, &t.Session, &t.CycleID, &t.Symbol, &side, &t.Qty, &t.EntryPrice,
			&t.StopPrice, &t.ScaleOutPrice, &t.TargetPrice, &trail, &t.Status, &t.OrderID, &t.DryRun); err != nil {
			return nil, err
		}
		t.Side = types.Side(side)
		t.TrailMode = types.TrailMode(trail)
		out = append(out, t)
	}
	return out, rows.Err()
}
