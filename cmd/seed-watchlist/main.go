package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/afadxb/bot4.1/cmd/common"
	"github.com/afadxb/bot4.1/internal/config"
	"github.com/afadxb/bot4.1/internal/logger"
	"github.com/afadxb/bot4.1/internal/storage"
	"github.com/afadxb/bot4.1/pkg/types"
)

const appName = "seed-watchlist"

func main() {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cf := common.RegisterCommonFlags(fs)
	file := fs.String("file", "", "CSV with symbol[,name,sector,enabled] rows and a header")
	symbols := fs.String("symbols", "", "Comma-separated symbols to enable")
	disable := fs.Bool("disable", false, "Upsert -symbols as disabled")
	dbURL := fs.String("db", "", "Override database.url")

	common.NewUsageFormatter(appName, "load the intraday watchlist").
		AddExample("seed-watchlist -file watchlist.csv", "upsert from a file").
		AddExample("seed-watchlist -symbols TSLA -disable", "take a symbol off the list").
		Install(fs)

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if *cf.Version {
		common.PrintVersion(appName)
		return
	}
	if *file == "" && *symbols == "" {
		fmt.Fprintln(os.Stderr, "one of -file or -symbols is required")
		os.Exit(2)
	}

	cfg, err := config.Load(config.LoadOptions{ConfigFile: *cf.ConfigFile, EnvFile: *cf.EnvFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *dbURL != "" {
		cfg.Database.URL = *dbURL
	}
	log, err := logger.New(logger.Options{Level: cfg.Logging.Level, Pretty: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	var entries []types.WatchlistEntry
	if *file != "" {
		f, err := os.Open(*file)
		if err != nil {
			log.Fatal().Err(err).Msg("open watchlist file")
		}
		entries, err = readWatchlist(f)
		f.Close()
		if err != nil {
			log.Fatal().Err(err).Str("file", *file).Msg("parse watchlist file")
		}
	}
	entries = append(entries, parseSymbols(*symbols, !*disable)...)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("timezone")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := storage.Open(ctx, cfg.Database, loc, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer store.Close()

	if err := store.UpsertWatchlist(ctx, entries); err != nil {
		log.Error().Err(err).Msg("upsert watchlist")
		return
	}
	log.Info().Int("entries", len(entries)).Msg("watchlist updated")
}

func parseSymbols(raw string, enabled bool) []types.WatchlistEntry {
	var out []types.WatchlistEntry
	for _, part := range strings.Split(raw, ",") {
		if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
			out = append(out, types.WatchlistEntry{Symbol: sym, Enabled: enabled})
		}
	}
	return out
}

// readWatchlist parses symbol[,name,sector,enabled] rows after a header.
// A missing enabled column means enabled.
func readWatchlist(r io.Reader) ([]types.WatchlistEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []types.WatchlistEntry
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		sym := strings.ToUpper(strings.TrimSpace(record[0]))
		if sym == "" {
			continue
		}
		e := types.WatchlistEntry{Symbol: sym, Enabled: true}
		if len(record) > 1 {
			e.Name = strings.TrimSpace(record[1])
		}
		if len(record) > 2 {
			e.Sector = strings.TrimSpace(record[2])
		}
		if len(record) > 3 && strings.TrimSpace(record[3]) != "" {
			enabled, err := strconv.ParseBool(strings.TrimSpace(record[3]))
			if err != nil {
				return nil, fmt.Errorf("line %d: enabled: %w", line, err)
			}
			e.Enabled = enabled
		}
		out = append(out, e)
	}
	return out, nil
}
