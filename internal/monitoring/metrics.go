package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cycle metrics
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_cycles_total",
			Help: "Total number of orchestration cycles by terminal status",
		},
		[]string{"status"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_cycle_duration_seconds",
			Help:    "Wall time of one orchestration cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	signalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Total number of signals scored",
		},
	)

	// Risk metrics
	riskEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_risk_events_total",
			Help: "Total number of risk events by type",
		},
		[]string{"type"},
	)

	halted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_halted",
			Help: "1 while new entries are halted for the session",
		},
	)

	// Execution metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Total number of order intents sent by side and mode",
		},
		[]string{"side", "mode"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Number of open positions",
		},
	)

	equityPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_equity_pnl",
			Help: "Session P&L by kind",
		},
		[]string{"kind"},
	)

	// Data metrics
	dataGapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_data_gaps_total",
			Help: "Total number of symbols skipped for missing data",
		},
		[]string{"source"},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_feed_breaker_state",
			Help: "Feed circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"feed"},
	)
)

func init() {
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(cycleDuration)
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(riskEventsTotal)
	prometheus.MustRegister(halted)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(equityPnL)
	prometheus.MustRegister(dataGapsTotal)
	prometheus.MustRegister(breakerState)
}

// Handler serves the Prometheus metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle records a finished cycle
func RecordCycle(status string, d time.Duration) {
	cyclesTotal.WithLabelValues(status).Inc()
	cycleDuration.Observe(d.Seconds())
}

// RecordSignals adds scored signals
func RecordSignals(n int) {
	signalsTotal.Add(float64(n))
}

// RecordRiskEvent counts a persisted risk event
func RecordRiskEvent(eventType string) {
	riskEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordOrder counts a sent intent. mode is "live" or "dry_run".
func RecordOrder(side, mode string) {
	ordersTotal.WithLabelValues(side, mode).Inc()
}

// RecordDataGap counts a skipped symbol
func RecordDataGap(source string) {
	dataGapsTotal.WithLabelValues(source).Inc()
}

// SetHalted updates the halt gauge
func SetHalted(v bool) {
	if v {
		halted.Set(1)
		return
	}
	halted.Set(0)
}

// SetOpenPositions updates the open position gauge
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// SetEquityPnL updates the realized and unrealized P&L gauges
func SetEquityPnL(realized, unrealized float64) {
	equityPnL.WithLabelValues("realized").Set(realized)
	equityPnL.WithLabelValues("unrealized").Set(unrealized)
}

// SetBreakerState records a feed breaker transition
func SetBreakerState(feed string, state int) {
	breakerState.WithLabelValues(feed).Set(float64(state))
}
