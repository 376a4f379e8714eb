package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afadxb/bot4.1/pkg/types"
)

// DefaultSendTimeout bounds one background dispatch.
const DefaultSendTimeout = 15 * time.Second

// Alerter forwards selected risk events to a Notifier.
type Alerter struct {
	notifier Notifier
	events   map[string]bool
	timeout  time.Duration
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// AlerterOption customizes an Alerter
type AlerterOption func(*Alerter)

// WithSendTimeout bounds each background dispatch.
func WithSendTimeout(d time.Duration) AlerterOption {
	return func(a *Alerter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAlerter alerts on the given risk event types.
func NewAlerter(n Notifier, eventTypes []string, log zerolog.Logger, opts ...AlerterOption) *Alerter {
	events := make(map[string]bool, len(eventTypes))
	for _, e := range eventTypes {
		events[strings.TrimSpace(e)] = true
	}
	a := &Alerter{
		notifier: n,
		events:   events,
		timeout:  DefaultSendTimeout,
		log:      log.With().Str("component", "alerts").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dispatch sends matching events from a background goroutine and returns at
// once. The send outlives ctx cancellation but not the send timeout.
func (a *Alerter) Dispatch(ctx context.Context, cycleID string, events []types.RiskEvent) {
	var matched []types.RiskEvent
	for _, e := range events {
		if a.events[e.Type] {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		a.Notify(sendCtx, cycleID, matched)
	}()
}

// Wait blocks until every dispatched send has finished.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

// Notify sends one alert per matching event and returns how many were sent.
// Send failures are logged and never reach the cycle.
func (a *Alerter) Notify(ctx context.Context, cycleID string, events []types.RiskEvent) int {
	sent := 0
	for _, e := range events {
		if !a.events[e.Type] {
			continue
		}
		if err := a.notifier.SendAlert(ctx, levelFor(e.Type), Format(cycleID, e)); err != nil {
			a.log.Warn().Err(err).Str("type", e.Type).Str("symbol", e.Symbol).Msg("alert failed")
			continue
		}
		sent++
	}
	return sent
}

func levelFor(eventType string) string {
	switch eventType {
	case types.EventDrawdownHalt, types.EventExecutionFailure:
		return LevelError
	case types.EventFlatten, types.EventHaltResumed:
		return LevelInfo
	default:
		return LevelWarning
	}
}

// Format renders an event as a short alert body.
func Format(cycleID string, e types.RiskEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", strings.ToUpper(strings.ReplaceAll(e.Type, "_", " ")))
	if e.Symbol != "" {
		fmt.Fprintf(&b, " %s", e.Symbol)
	}
	fmt.Fprintf(&b, "\nvalue: %.2f\nsession: %s", e.Value, e.Session)
	if cycleID != "" {
		fmt.Fprintf(&b, "\ncycle: %s", cycleID)
	}
	for _, key := range []string{"reason", "trigger"} {
		if v, ok := e.Meta[key]; ok {
			fmt.Fprintf(&b, "\n%s: %v", key, v)
		}
	}
	return b.String()
}
