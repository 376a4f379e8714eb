package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/afadxb/bot4.1/internal/exchange/bybit"
	"github.com/afadxb/bot4.1/pkg/types"
)

// orderPlacer is the part of the Bybit client the venue needs.
type orderPlacer interface {
	PlaceOrder(ctx context.Context, params bybit.PlaceOrderParams) (*bybit.OrderAck, error)
	Category() string
}

// BybitVenue sends market orders through the Bybit v5 API.
type BybitVenue struct {
	client      orderPlacer
	qtyDecimals int32
	pxDecimals  int32
}

// NewBybitVenue creates a live venue. Quantities are truncated to
// qtyDecimals and prices rounded to pxDecimals.
func NewBybitVenue(client orderPlacer, qtyDecimals, pxDecimals int32) *BybitVenue {
	return &BybitVenue{client: client, qtyDecimals: qtyDecimals, pxDecimals: pxDecimals}
}

// Name implements Venue
func (v *BybitVenue) Name() string { return "bybit" }

// Send implements Venue. Entries buy with a protective stop; exits and
// flattens sell the given quantity.
func (v *BybitVenue) Send(ctx context.Context, intent types.OrderIntent) (types.OrderResult, error) {
	qty := decimal.NewFromFloat(intent.Qty).Truncate(v.qtyDecimals)
	if !qty.IsPositive() {
		return types.OrderResult{}, fmt.Errorf("quantity %v rounds to zero", intent.Qty)
	}

	params := bybit.PlaceOrderParams{
		Symbol:      intent.Symbol,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         qty.String(),
		OrderLinkID: intent.ID,
	}
	if intent.Side.IsEntry() {
		params.Side = bybit.OrderSideBuy
		if intent.Stop > 0 {
			params.StopLoss = decimal.NewFromFloat(intent.Stop).Round(v.pxDecimals).String()
		}
	} else {
		params.Side = bybit.OrderSideSell
		params.ReduceOnly = v.client.Category() != "spot"
	}

	ack, err := v.client.PlaceOrder(ctx, params)
	if err != nil {
		return types.OrderResult{}, err
	}

	filled, _ := qty.Float64()
	return types.OrderResult{
		OrderID:   ack.OrderID,
		Status:    types.OrderStatusAccepted,
		FilledQty: filled,
		AvgPrice:  intent.Entry,
	}, nil
}
