package types

import "time"

// Side tags an order intent.
type Side string

const (
	SideLong    Side = "long"
	SideExit    Side = "exit"
	SideFlatten Side = "flatten"
)

// IsEntry reports whether the side opens new risk.
func (s Side) IsEntry() bool {
	return s == SideLong
}

// TrailMode selects how the remainder of a position is trailed.
type TrailMode string

const (
	TrailEMA21 TrailMode = "ema21"
	TrailATR   TrailMode = "atr"
	TrailNone  TrailMode = "none"
)

// OrderIntent is a sized, direction-tagged trade request.
type OrderIntent struct {
	ID         string    `json:"id"`
	CycleID    string    `json:"cycle_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Qty        float64   `json:"qty"`
	Entry      float64   `json:"entry"`
	Stop       float64   `json:"stop"`
	ScaleOut   float64   `json:"scale_out"`
	Target     float64   `json:"target"`
	TrailMode  TrailMode `json:"trail_mode"`
	Score      float64   `json:"score"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	SizeFactor float64   `json:"size_factor"`
}

// Notional is qty times entry price.
func (o OrderIntent) Notional() float64 {
	return o.Qty * o.Entry
}

// RiskPerShare is the entry-to-stop distance.
func (o OrderIntent) RiskPerShare() float64 {
	d := o.Entry - o.Stop
	if d < 0 {
		return -d
	}
	return d
}

// OrderResult is what a venue returns for a sent intent.
type OrderResult struct {
	OrderID   string  `json:"order_id"`
	Status    string  `json:"status"`
	FilledQty float64 `json:"filled_qty"`
	AvgPrice  float64 `json:"avg_price"`
}

// Order statuses.
const (
	OrderStatusDryRun   = "dry_run"
	OrderStatusAccepted = "accepted"
	OrderStatusFilled   = "filled"
)

// TradeRecord is one row of the trades table.
type TradeRecord struct {
	ID            int64     `json:"id"`
	TS            time.Time `json:"ts"`
	Session       string    `json:"session"`
	CycleID       string    `json:"cycle_id"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Qty           float64   `json:"qty"`
	EntryPrice    float64   `json:"entry_price"`
	StopPrice     float64   `json:"stop_price"`
	ScaleOutPrice float64   `json:"scale_out_price"`
	TargetPrice   float64   `json:"target_price"`
	TrailMode     TrailMode `json:"trail_mode"`
	Status        string    `json:"status"`
	OrderID       string    `json:"order_id"`
	DryRun        bool      `json:"dry_run"`
}

// JournalEntry is one row of the journal table.
type JournalEntry struct {
	ID       int64     `json:"id"`
	TS       time.Time `json:"ts"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
	Payload  string    `json:"payload_json"`
}
