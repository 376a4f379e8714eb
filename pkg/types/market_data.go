package types

import "time"

// OHLCV is a single bar of market data.
type OHLCV struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"ts"`
}

// Headline is a catalyst/news fact for a symbol.
type Headline struct {
	Symbol      string    `json:"symbol"`
	Headline    string    `json:"headline"`
	Source      string    `json:"source"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Earnings    bool      `json:"earnings"`
}

// WatchlistEntry is one row of the watchlist table.
type WatchlistEntry struct {
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
	Sector  string `json:"sector"`
	Enabled bool   `json:"enabled"`
}
