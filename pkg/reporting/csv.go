package reporting

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"
)

// WriteSignalsCSV writes the latest signals to path.
func WriteSignalsCSV(s Snapshot, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"rank", "symbol", "run_ts", "base_score", "ai_adj_score", "final_score", "rules_passed", "reasons", "cycle_id"}); err != nil {
		return err
	}
	for _, sig := range s.Signals {
		if err := w.Write([]string{
			strconv.Itoa(sig.Rank),
			sig.Symbol,
			sig.RunTS.Format("2006-01-02 15:04:05"),
			strconv.FormatFloat(sig.BaseScore, 'f', 4, 64),
			strconv.FormatFloat(sig.AIAdjScore, 'f', 4, 64),
			strconv.FormatFloat(sig.FinalScore, 'f', 4, 64),
			strings.Join(sig.PassedRules(), "|"),
			sig.ReasonsText(),
			sig.CycleID,
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
