package strategy

import (
	"sort"

	"github.com/afadxb/bot4.1/pkg/types"
)

// Rank orders signals by final score descending, symbol ascending on ties,
// and assigns 1-based ranks in place.
func Rank(signals []types.Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].FinalScore != signals[j].FinalScore {
			return signals[i].FinalScore > signals[j].FinalScore
		}
		return signals[i].Symbol < signals[j].Symbol
	})
	for i := range signals {
		signals[i].Rank = i + 1
	}
}
