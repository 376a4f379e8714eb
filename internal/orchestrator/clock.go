package orchestrator

import (
	"time"

	"github.com/afadxb/bot4.1/internal/config"
)

// MarketClock answers session questions in the market timezone. Weekends
// are closed; holidays are not modelled.
type MarketClock struct {
	loc     *time.Location
	open    wallClock
	close   wallClock
	flatten wallClock
}

type wallClock struct{ hour, minute int }

func (w wallClock) on(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, w.hour, w.minute, 0, 0, loc)
}

func parseWall(v string) (wallClock, error) {
	h, m, err := config.ParseClock(v)
	return wallClock{h, m}, err
}

// NewMarketClock builds a clock from the orchestrator block.
func NewMarketClock(cfg config.OrchestratorConfig) (*MarketClock, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	c := &MarketClock{loc: loc}
	if c.open, err = parseWall(cfg.SessionOpen); err != nil {
		return nil, err
	}
	if c.close, err = parseWall(cfg.SessionClose); err != nil {
		return nil, err
	}
	if c.flatten, err = parseWall(cfg.FlattenTime); err != nil {
		return nil, err
	}
	return c, nil
}

// Location returns the market timezone
func (c *MarketClock) Location() *time.Location {
	return c.loc
}

func tradingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// InSession reports whether t falls in [open, close) on a weekday.
func (c *MarketClock) InSession(t time.Time) bool {
	local := t.In(c.loc)
	if !tradingDay(local) {
		return false
	}
	return !local.Before(c.open.on(local, c.loc)) && local.Before(c.close.on(local, c.loc))
}

// SessionID is the local market date, YYYY-MM-DD.
func (c *MarketClock) SessionID(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// FlattenAt returns the flatten time on t's local date.
func (c *MarketClock) FlattenAt(t time.Time) time.Time {
	return c.flatten.on(t, c.loc)
}

// PastFlatten reports whether t is at or after the flatten time of a trading day.
func (c *MarketClock) PastFlatten(t time.Time) bool {
	local := t.In(c.loc)
	return tradingDay(local) && !local.Before(c.FlattenAt(local))
}

// NextOpen returns the first session open strictly after t.
func (c *MarketClock) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		open := c.open.on(day, c.loc)
		if tradingDay(open) && open.After(t) {
			return open
		}
	}
	return c.open.on(local.AddDate(0, 0, 1), c.loc)
}
