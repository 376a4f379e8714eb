package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afadxb/bot4.1/cmd/common"
	"github.com/afadxb/bot4.1/internal/ai"
	"github.com/afadxb/bot4.1/internal/api"
	"github.com/afadxb/bot4.1/internal/config"
	"github.com/afadxb/bot4.1/internal/datahub"
	engerrors "github.com/afadxb/bot4.1/internal/errors"
	"github.com/afadxb/bot4.1/internal/exchange/bybit"
	"github.com/afadxb/bot4.1/internal/execution"
	"github.com/afadxb/bot4.1/internal/features"
	"github.com/afadxb/bot4.1/internal/logger"
	"github.com/afadxb/bot4.1/internal/monitoring"
	"github.com/afadxb/bot4.1/internal/notifications"
	"github.com/afadxb/bot4.1/internal/orchestrator"
	"github.com/afadxb/bot4.1/internal/risk"
	"github.com/afadxb/bot4.1/internal/storage"
	"github.com/afadxb/bot4.1/internal/strategy"
	"github.com/afadxb/bot4.1/pkg/data"
	"github.com/afadxb/bot4.1/pkg/reporting"
	"github.com/afadxb/bot4.1/pkg/types"
)

const appName = "engine"

// Exit codes
const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

type flags struct {
	common     *common.CommonFlags
	cycles     int
	topN       int
	cadence    time.Duration
	live       bool
	dryRun     bool
	ai         bool
	httpAddr   string
	at         string
	dbURL      string
	source     string
	dataDir    string
	watchlist  string
	qtyDecimal int
	pxDecimal  int
	quiet      bool
}

func parseFlags(args []string) (*flags, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	f := &flags{common: common.RegisterCommonFlags(fs)}
	fs.IntVar(&f.cycles, "cycles", 0, "Stop after N cycles (0 runs until interrupted)")
	fs.IntVar(&f.topN, "top-n", 0, "Override orchestrator.intraday_top_n")
	fs.DurationVar(&f.cadence, "cadence", 0, "Override orchestrator.cadence")
	fs.BoolVar(&f.live, "live", false, "Send orders to the venue")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Force dry-run even when execution.enable_orders is set")
	fs.BoolVar(&f.ai, "ai", false, "Enable the sentiment/regime overlay")
	fs.StringVar(&f.httpAddr, "http", "", "Override http.addr for the status server")
	fs.StringVar(&f.at, "at", "", "Replay at a fixed RFC3339 time; runs outside the session window")
	fs.StringVar(&f.dbURL, "db", "", "Override database.url")
	fs.StringVar(&f.source, "source", "", "Override feeds.source (csv, bybit)")
	fs.StringVar(&f.dataDir, "data", "", "Override feeds.csv_dir")
	fs.StringVar(&f.watchlist, "watchlist", "", "Comma-separated symbols upserted into the watchlist at start")
	fs.IntVar(&f.qtyDecimal, "qty-decimals", 6, "Venue quantity precision")
	fs.IntVar(&f.pxDecimal, "px-decimals", 2, "Venue price precision")
	fs.BoolVar(&f.quiet, "quiet", false, "Do not print cycle tables")

	common.NewUsageFormatter(appName, "intraday scoring, risk and execution loop").
		AddExample("engine -config configs/engine.yaml", "run the session loop in dry-run").
		AddExample("engine -data ./data -watchlist AAPL,MSFT -at 2026-03-02T10:00:00-05:00 -cycles 1", "replay one cycle from CSV bars").
		Install(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := common.NewFlagValidator().
		ValidateInt("cycles", f.cycles, 0, 1_000_000).
		ValidateInt("top-n", f.topN, 0, 5000).
		ValidateDuration("cadence", f.cadence).
		ValidateInt("qty-decimals", f.qtyDecimal, 0, 12).
		ValidateInt("px-decimals", f.pxDecimal, 0, 12)
	if f.source != "" {
		v.ValidateChoice("source", f.source, []string{"csv", "bybit"})
	}
	if f.live && f.dryRun {
		v.AddError("-live and -dry-run are mutually exclusive")
	}
	if *f.common.ConfigFile != "" {
		v.ValidateFile("config", *f.common.ConfigFile, true)
	}
	return f, v.GetError()
}

// apply layers the command line over the loaded configuration.
func (f *flags) apply(cfg *config.Config) {
	if f.topN > 0 {
		cfg.Orchestrator.IntradayTopN = f.topN
	}
	if f.cadence > 0 {
		cfg.Orchestrator.Cadence = f.cadence
	}
	switch {
	case f.live:
		cfg.SetLive(true)
	case f.dryRun:
		cfg.SetLive(false)
	}
	if f.ai {
		cfg.AI.EnableGating = true
	}
	if f.httpAddr != "" {
		cfg.HTTP.Addr = f.httpAddr
	}
	if f.dbURL != "" {
		cfg.Database.URL = f.dbURL
	}
	if f.source != "" {
		cfg.Feeds.Source = f.source
	}
	if f.dataDir != "" {
		cfg.Feeds.CSVDir = f.dataDir
	}
	if *f.common.LogLevel != "" {
		cfg.Logging.Level = *f.common.LogLevel
	}
	if *f.common.Pretty {
		cfg.Logging.Pretty = true
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	if *f.common.Version {
		common.PrintVersion(appName)
		return exitOK
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: *f.common.ConfigFile, EnvFile: *f.common.EnvFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	now := time.Now
	if f.at != "" {
		fixed, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -at value %q: %v\n", f.at, err)
			return exitConfig
		}
		now = func() time.Time { return fixed }
	}

	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	log, err := logger.New(logger.Options{
		Level:   cfg.Logging.Level,
		Pretty:  cfg.Logging.Pretty,
		LogDir:  cfg.Logging.Dir,
		Session: now().In(loc).Format("2006-01-02"),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfig
	}
	defer log.Close()

	a, err := build(ctx, cfg, appOptions{
		now:         now,
		qtyDecimals: int32(f.qtyDecimal),
		pxDecimals:  int32(f.pxDecimal),
		watchlist:   splitSymbols(f.watchlist),
	}, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		if engerrors.IsFatal(err) {
			return exitConfig
		}
		return exitError
	}
	defer a.close()

	var console *reporting.ConsoleReporter
	if !f.quiet {
		console = reporting.NewConsoleReporter(os.Stdout, cfg.Orchestrator.IntradayTopN)
	}
	if err := a.serve(ctx, serveOptions{cycles: f.cycles, force: f.at != "", console: console}); err != nil {
		log.Error().Err(err).Msg("engine stopped")
		if engerrors.IsFatal(err) {
			return exitConfig
		}
		return exitError
	}
	return exitOK
}

type appOptions struct {
	now         func() time.Time
	qtyDecimals int32
	pxDecimals  int32
	watchlist   []string
	venue       execution.Venue
	notifier    notifications.Notifier
}

// app holds the wired engine.
type app struct {
	cfg     *config.Config
	store   storage.Store
	hub     *datahub.Hub
	orch    *orchestrator.Orchestrator
	trades  *execution.Manager
	health  *monitoring.HealthChecker
	alerts  *notifications.Alerter
	server  *api.Server
	closers []func()
	log     zerolog.Logger
}

// build wires every collaborator from cfg. The returned app owns the store
// and caches.
func build(ctx context.Context, cfg *config.Config, opts appOptions, log zerolog.Logger) (*app, error) {
	if opts.now == nil {
		opts.now = time.Now
	}
	clock, err := orchestrator.NewMarketClock(cfg.Orchestrator)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	store, err := storage.Open(ctx, cfg.Database, clock.Location(), log)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if len(opts.watchlist) > 0 {
		entries := make([]types.WatchlistEntry, 0, len(opts.watchlist))
		for _, sym := range opts.watchlist {
			entries = append(entries, types.WatchlistEntry{Symbol: sym, Enabled: true})
		}
		if err := store.UpsertWatchlist(ctx, entries); err != nil {
			a.close()
			return nil, err
		}
	}

	var client *bybit.Client
	if cfg.Feeds.Source == "bybit" || (!cfg.DryRun() && opts.venue == nil) {
		client = bybit.NewClient(bybit.Config{
			APIKey:    cfg.Feeds.Bybit.APIKey,
			APISecret: cfg.Feeds.Bybit.APISecret,
			Category:  cfg.Feeds.Bybit.Category,
			Testnet:   cfg.Feeds.Bybit.Testnet,
			Demo:      cfg.Feeds.Bybit.Demo,
		})
	}

	var source data.BarSource
	switch cfg.Feeds.Source {
	case "bybit":
		source = data.NewBybitBarSource(client)
	default:
		source = data.NewCSVBarSource(cfg.Feeds.CSVDir, log)
	}

	engine := features.NewEngine(cfg.Strategy, cfg.Risk)
	hubOpts := []datahub.Option{
		datahub.WithCache(data.NewMemoryBarCache(cfg.Cache.BarTTL)),
		datahub.WithStore(store),
		datahub.WithMinBars(engine.RequiredBars()),
		datahub.WithClock(opts.now),
	}
	if cfg.Cache.RedisAddr != "" {
		redisCache, err := data.NewRedisBarCache(ctx, data.RedisOptions{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.BarTTL,
		})
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Cache.RedisAddr).Msg("redis cache unavailable, continuing without it")
		} else {
			hubOpts = append(hubOpts, datahub.WithCache(redisCache))
			a.closers = append(a.closers, func() { _ = redisCache.Close() })
		}
	}
	if cfg.Feeds.HeadlinesFile != "" {
		hubOpts = append(hubOpts, datahub.WithHeadlines(data.NewJSONHeadlineSource(cfg.Feeds.HeadlinesFile)))
	}
	a.hub = datahub.New(cfg.Feeds, source, log, hubOpts...)

	venue := opts.venue
	if venue == nil {
		if cfg.DryRun() {
			venue = execution.NewDryRunVenue()
		} else {
			venue = execution.NewBybitVenue(client, opts.qtyDecimals, opts.pxDecimals)
		}
	}

	var adjuster strategy.Adjuster = strategy.NeutralAdjuster{}
	if cfg.AI.EnableGating {
		adjuster = ai.NewOverlay(cfg.AI, log, ai.WithClock(opts.now))
	}

	session := clock.SessionID(opts.now())
	guard := risk.NewGuardrail(cfg.Risk, cfg.Orchestrator.MinEntryScore, session, log, risk.WithClock(opts.now))
	a.trades = execution.NewManager(cfg.Execution, cfg.Risk, venue, log, execution.WithClock(opts.now))

	a.orch, err = orchestrator.New(orchestrator.Deps{
		Config:   cfg,
		Clock:    clock,
		Store:    store,
		Market:   a.hub,
		Features: engine,
		Scorer:   strategy.NewScorer(cfg.Strategy),
		Adjuster: adjuster,
		Guard:    guard,
		Trades:   a.trades,
		Log:      log,
	}, orchestrator.WithClock(opts.now), orchestrator.WithEventHook(a.alert))
	if err != nil {
		a.close()
		return nil, err
	}

	a.health = monitoring.NewHealthChecker(cfg.Orchestrator.Cadence)
	a.health.SetClock(opts.now)
	notifier := opts.notifier
	if notifier == nil && cfg.Notifications.TelegramToken != "" {
		notifier = notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	}
	if notifier != nil {
		a.alerts = notifications.NewAlerter(notifier, cfg.Notifications.Events, log)
	}
	if cfg.HTTP.Addr != "" {
		a.server = api.NewServer(store, a.orch, a.trades, a.health, log)
	}

	log.Info().
		Str("session", session).
		Bool("dry_run", cfg.DryRun()).
		Str("venue", venue.Name()).
		Str("source", source.Name()).
		Bool("ai", cfg.AI.EnableGating).
		Msg("engine wired")
	return a, nil
}

type serveOptions struct {
	cycles  int
	force   bool
	console *reporting.ConsoleReporter
}

// serve runs the cadence loop and the optional status server until ctx is
// cancelled or the cycle limit is reached.
func (a *app) serve(ctx context.Context, opts serveOptions) error {
	if a.server != nil {
		go func() {
			if err := a.server.Start(a.cfg.HTTP.Addr); err != nil {
				a.log.Error().Err(err).Msg("status server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				a.log.Warn().Err(err).Msg("status server shutdown")
			}
		}()
	}

	svc := orchestrator.NewService(a.orch, orchestrator.ServiceOptions{
		Cadence: a.cfg.Orchestrator.Cadence,
		Cycles:  opts.cycles,
		Force:   opts.force,
		Pruner:  a.hub,
		Health:  a.health,
		OnCycle: func(r orchestrator.CycleReport) {
			if opts.console != nil {
				opts.console.PrintCycle(r)
			}
			a.alert(ctx, r.ID, r.Events)
		},
	}, a.log)
	if a.alerts != nil {
		defer a.alerts.Wait()
	}
	svc.SessionOpen(ctx)
	return svc.Run(ctx)
}

// alert hands events to the alerter without blocking the caller.
func (a *app) alert(ctx context.Context, source string, events []types.RiskEvent) {
	if a.alerts != nil {
		a.alerts.Dispatch(ctx, source, events)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func splitSymbols(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
