package indicators

import (
	"errors"

	"github.com/afadxb/bot4.1/pkg/types"
)

// ErrNoVolume is returned when a window traded no volume.
var ErrNoVolume = errors.New("window has no volume")

// VWAP returns sum(close*volume)/sum(volume) over data.
func VWAP(data []types.OHLCV) (float64, error) {
	var pv, vol float64
	for _, bar := range data {
		pv += bar.Close * bar.Volume
		vol += bar.Volume
	}
	if vol <= 0 {
		return 0, ErrNoVolume
	}
	return pv / vol, nil
}
