package safety

import (
	"fmt"
	"math"

	"github.com/afadxb/bot4.1/pkg/types"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

func invalid(code, format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Code: code, Message: fmt.Sprintf(format, args...)}
}

// ValidateBar checks a single bar for unusable prices and an inconsistent
// high/low envelope.
func ValidateBar(symbol string, bar types.OHLCV) ValidationResult {
	for _, p := range []float64{bar.Open, bar.High, bar.Low, bar.Close} {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return invalid("INVALID_PRICE_NAN", "%s bar at %s has a non-finite price", symbol, bar.Timestamp.Format("15:04"))
		}
		if p <= 0 {
			return invalid("INVALID_PRICE_NEGATIVE", "%s bar at %s has non-positive price %.4f", symbol, bar.Timestamp.Format("15:04"), p)
		}
	}
	if bar.High < bar.Low || bar.High < math.Max(bar.Open, bar.Close) || bar.Low > math.Min(bar.Open, bar.Close) {
		return invalid("INVALID_RANGE", "%s bar at %s has high %.4f below low %.4f or body", symbol, bar.Timestamp.Format("15:04"), bar.High, bar.Low)
	}
	if bar.Volume < 0 || math.IsNaN(bar.Volume) {
		return invalid("INVALID_VOLUME", "%s bar at %s has invalid volume", symbol, bar.Timestamp.Format("15:04"))
	}
	return ValidationResult{Valid: true}
}

// ValidateBars checks every bar and that timestamps strictly increase.
func ValidateBars(symbol string, bars []types.OHLCV) ValidationResult {
	for i, bar := range bars {
		if r := ValidateBar(symbol, bar); !r.Valid {
			return r
		}
		if i > 0 && !bar.Timestamp.After(bars[i-1].Timestamp) {
			return invalid("OUT_OF_ORDER", "%s bars out of order at index %d", symbol, i)
		}
	}
	return ValidationResult{Valid: true}
}
