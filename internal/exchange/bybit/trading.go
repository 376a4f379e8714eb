package bybit

import (
	"context"
	"fmt"
)

// OrderSide represents the side of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// OrderType represents the type of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "Market"
	OrderTypeLimit  OrderType = "Limit"
)

// PlaceOrderParams holds parameters for placing an order. Quantities and
// prices are decimal strings already rounded by the caller.
type PlaceOrderParams struct {
	Symbol      string
	Side        OrderSide
	OrderType   OrderType
	Qty         string
	Price       string // limit orders only
	OrderLinkID string
	StopLoss    string
	ReduceOnly  bool
}

// OrderAck is the create-order response
type OrderAck struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

// PlaceOrder sends a single order. It is not retried.
func (c *Client) PlaceOrder(ctx context.Context, params PlaceOrderParams) (*OrderAck, error) {
	if params.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if params.Side == "" {
		return nil, fmt.Errorf("side is required")
	}
	if params.Qty == "" {
		return nil, fmt.Errorf("qty is required")
	}
	if params.OrderType == "" {
		params.OrderType = OrderTypeMarket
	}
	if params.OrderType == OrderTypeLimit && params.Price == "" {
		return nil, fmt.Errorf("price is required for limit orders")
	}

	apiParams := map[string]interface{}{
		"category":  c.category,
		"symbol":    params.Symbol,
		"side":      string(params.Side),
		"orderType": string(params.OrderType),
		"qty":       params.Qty,
	}
	if params.Price != "" {
		apiParams["price"] = params.Price
		apiParams["timeInForce"] = "GTC"
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}
	if params.StopLoss != "" {
		apiParams["stopLoss"] = params.StopLoss
	}
	if params.ReduceOnly {
		apiParams["reduceOnly"] = true
	}
	if c.category == "spot" && params.OrderType == OrderTypeMarket {
		apiParams["marketUnit"] = "baseCoin"
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	var ack OrderAck
	if err := decodeResult(result, &ack); err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	return &ack, nil
}

// CancelAllOrders cancels all open orders for a symbol
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelAllOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel all orders: %w", err)
	}
	return decodeResult(result, nil)
}
