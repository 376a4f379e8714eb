package execution

import (
	"context"
	"sync"

	"github.com/afadxb/bot4.1/pkg/types"
)

// Venue places orders for intents.
type Venue interface {
	Name() string
	Send(ctx context.Context, intent types.OrderIntent) (types.OrderResult, error)
}

// DryRunVenue accepts every intent without sending anything and keeps a
// copy of what it was given.
type DryRunVenue struct {
	mu   sync.Mutex
	sent []types.OrderIntent
}

// NewDryRunVenue creates a dry-run venue
func NewDryRunVenue() *DryRunVenue {
	return &DryRunVenue{}
}

// Name implements Venue
func (v *DryRunVenue) Name() string { return "dry_run" }

// Send implements Venue
func (v *DryRunVenue) Send(ctx context.Context, intent types.OrderIntent) (types.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderResult{}, err
	}
	v.mu.Lock()
	v.sent = append(v.sent, intent)
	v.mu.Unlock()

	return types.OrderResult{
		OrderID:   "dry-" + intent.ID,
		Status:    types.OrderStatusDryRun,
		FilledQty: intent.Qty,
		AvgPrice:  intent.Entry,
	}, nil
}

// Sent returns the intents seen so far.
func (v *DryRunVenue) Sent() []types.OrderIntent {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]types.OrderIntent, len(v.sent))
	copy(out, v.sent)
	return out
}
