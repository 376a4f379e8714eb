package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/afadxb/bot4.1/cmd/common"
	"github.com/afadxb/bot4.1/internal/config"
	"github.com/afadxb/bot4.1/internal/logger"
	"github.com/afadxb/bot4.1/internal/storage"
	"github.com/afadxb/bot4.1/pkg/reporting"
)

const appName = "export"

type options struct {
	common  *common.CommonFlags
	out     string
	format  string
	session string
	dbURL   string
	timeout time.Duration
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	o := &options{common: common.RegisterCommonFlags(fs)}
	fs.StringVar(&o.out, "out", "", "Output path; defaults to reports/<session>/engine_<session>.<format>")
	fs.StringVar(&o.format, "format", "xlsx", "Output format when -out is empty (xlsx, json, csv)")
	fs.StringVar(&o.session, "session", "", "Session date YYYY-MM-DD; defaults to today in the market timezone")
	fs.StringVar(&o.dbURL, "db", "", "Override database.url")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "Overall read timeout")

	common.NewUsageFormatter(appName, "export the persisted views for a session").
		AddExample("export -format json", "today's views as JSON").
		AddExample("export -session 2026-03-02 -out march2.xlsx", "one session to a workbook").
		Install(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	v := common.NewFlagValidator().
		ValidateChoice("format", o.format, []string{"xlsx", "json", "csv"}).
		ValidateDuration("timeout", o.timeout)
	if o.session != "" {
		if _, err := time.Parse("2006-01-02", o.session); err != nil {
			v.AddError(fmt.Sprintf("session must be YYYY-MM-DD, got: %s", o.session))
		}
	}
	return o, v.GetError()
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *o.common.Version {
		common.PrintVersion(appName)
		return
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: *o.common.ConfigFile, EnvFile: *o.common.EnvFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if o.dbURL != "" {
		cfg.Database.URL = o.dbURL
	}
	level := cfg.Logging.Level
	if *o.common.LogLevel != "" {
		level = *o.common.LogLevel
	}
	log, err := logger.New(logger.Options{Level: level, Pretty: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	path, err := export(ctx, cfg, o, time.Now(), log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("export failed")
		os.Exit(1)
	}
	fmt.Printf("report written to %s\n", path)
}

// export opens the store, collects the views and writes them. It returns the
// written path.
func export(ctx context.Context, cfg *config.Config, o *options, now time.Time, log zerolog.Logger) (string, error) {
	loc, err := cfg.Location()
	if err != nil {
		return "", err
	}
	store, err := storage.Open(ctx, cfg.Database, loc, log)
	if err != nil {
		return "", err
	}
	defer store.Close()
	return exportFrom(ctx, store, o, now.In(loc))
}

func exportFrom(ctx context.Context, r reporting.ViewReader, o *options, now time.Time) (string, error) {
	session := o.session
	if session == "" {
		session = now.Format("2006-01-02")
	}
	path := o.out
	if path == "" {
		path = reporting.DefaultOutputPath(session, o.format)
	}

	snap, err := reporting.Collect(ctx, r, session, now)
	if err != nil {
		return "", err
	}
	if err := reporting.Export(snap, path); err != nil {
		return "", err
	}
	return path, nil
}
