package data

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/afadxb/bot4.1/pkg/types"
)

// CSVBarSource reads bars from per-symbol CSV files under a directory.
type CSVBarSource struct {
	dir    string
	format CSVColumnMapping
	log    zerolog.Logger
}

// NewCSVBarSource creates a CSV source with the default column layout.
func NewCSVBarSource(dir string, log zerolog.Logger) *CSVBarSource {
	return NewCSVBarSourceWithFormat(dir, DefaultCSVFormat, log)
}

// NewCSVBarSourceWithFormat creates a CSV source with a custom column layout.
func NewCSVBarSourceWithFormat(dir string, format CSVColumnMapping, log zerolog.Logger) *CSVBarSource {
	return &CSVBarSource{
		dir:    dir,
		format: format,
		log:    log.With().Str("component", "csv_source").Logger(),
	}
}

// Name returns the source name
func (s *CSVBarSource) Name() string {
	return "csv"
}

// Bars returns the newest limit bars for symbol. A missing file is ErrNoData.
func (s *CSVBarSource) Bars(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := FindBarFile(s.dir, symbol, timeframe)
	if path == "" {
		return nil, fmt.Errorf("%s %s in %s: %w", symbol, timeframe, s.dir, ErrNoData)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	bars, err := s.read(file, path)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoData)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (s *CSVBarSource) read(r io.Reader, path string) ([]types.OHLCV, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	// Skip header
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read header %s: %w", path, err)
	}

	var bars []types.OHLCV
	lineNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s line %d: %w", path, lineNum, err)
		}
		lineNum++

		bar, err := s.parseRecord(record)
		if err != nil {
			s.log.Warn().Str("file", path).Int("line", lineNum).Err(err).Msg("skipping bar row")
			continue
		}
		bars = append(bars, bar)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return dedupeByTimestamp(bars), nil
}

func (s *CSVBarSource) parseRecord(record []string) (types.OHLCV, error) {
	f := s.format
	if len(record) < f.MinColumns {
		return types.OHLCV{}, fmt.Errorf("expected %d columns, got %d", f.MinColumns, len(record))
	}

	ts, err := parseTimestamp(record[f.TimestampCol], f.DateFormat)
	if err != nil {
		return types.OHLCV{}, err
	}

	values := make([]float64, 5)
	for i, col := range []int{f.OpenCol, f.HighCol, f.LowCol, f.CloseCol, f.VolumeCol} {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
		if err != nil {
			return types.OHLCV{}, fmt.Errorf("column %d: %w", col, err)
		}
		values[i] = v
	}

	return types.OHLCV{
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// parseTimestamp accepts the configured layout, RFC3339 or unix seconds/millis.
func parseTimestamp(raw, layout string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(layout, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
}

// dedupeByTimestamp keeps the last bar for each timestamp of a sorted slice.
func dedupeByTimestamp(bars []types.OHLCV) []types.OHLCV {
	if len(bars) < 2 {
		return bars
	}
	out := bars[:0]
	for i, bar := range bars {
		if i+1 < len(bars) && bars[i+1].Timestamp.Equal(bar.Timestamp) {
			continue
		}
		out = append(out, bar)
	}
	return out
}
