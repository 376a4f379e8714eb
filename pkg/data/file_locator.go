package data

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TimeframeMinutes converts "1m", "5m", "1h", "1d" or a bare minute count.
func TimeframeMinutes(timeframe string) (int, error) {
	tf := strings.ToLower(strings.TrimSpace(timeframe))
	if n, err := strconv.Atoi(tf); err == nil && n > 0 {
		return n, nil
	}
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}

	num, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || num <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}

	switch tf[len(tf)-1:] {
	case "m":
		return num, nil
	case "h":
		return num * 60, nil
	case "d":
		return num * 24 * 60, nil
	case "w":
		return num * 7 * 24 * 60, nil
	default:
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}
}

// CandidatePaths lists where a bar file for symbol may live under dir, in
// lookup order:
//
//	dir/SYMBOL/<minutes>/candles.csv
//	dir/SYMBOL_<tf>.csv
//	dir/SYMBOL.csv
func CandidatePaths(dir, symbol, timeframe string) []string {
	symbol = strings.ToUpper(symbol)
	var paths []string
	if minutes, err := TimeframeMinutes(timeframe); err == nil {
		paths = append(paths, filepath.Join(dir, symbol, strconv.Itoa(minutes), "candles.csv"))
	}
	paths = append(paths,
		filepath.Join(dir, fmt.Sprintf("%s_%s.csv", symbol, strings.ToLower(timeframe))),
		filepath.Join(dir, symbol+".csv"),
	)
	return paths
}

// FindBarFile returns the first existing candidate path, or "".
func FindBarFile(dir, symbol, timeframe string) string {
	for _, path := range CandidatePaths(dir, symbol, timeframe) {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
