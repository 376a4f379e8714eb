package monitoring

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Status(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	h := NewHealthChecker(5 * time.Minute)
	h.SetClock(func() time.Time { return now })

	assert.Equal(t, StatusHealthy, h.Status().Status)

	h.RecordCycle(now, nil)
	assert.Equal(t, StatusHealthy, h.Status().Status)

	h.SetState("HALTED")
	assert.Equal(t, StatusDegraded, h.Status().Status)
	h.SetState("RUNNING")

	now = now.Add(16 * time.Minute)
	assert.Equal(t, StatusDegraded, h.Status().Status)

	for i := 0; i < 3; i++ {
		h.RecordCycle(now, errors.New("store down"))
	}
	st := h.Status()
	assert.Equal(t, StatusUnhealthy, st.Status)
	assert.Equal(t, "store down", st.LastError)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)

	h.RecordCycle(now, nil)
	assert.Equal(t, StatusHealthy, h.Status().Status)
}

func TestMetricsHandler(t *testing.T) {
	RecordRiskEvent("trade_cap")
	RecordOrder("long", "dry_run")
	SetHalted(true)
	SetEquityPnL(-25, 10)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `engine_risk_events_total{type="trade_cap"}`)
	assert.Contains(t, body, `engine_orders_total{mode="dry_run",side="long"}`)
	assert.Contains(t, body, "engine_halted 1")
	assert.Contains(t, body, `engine_equity_pnl{kind="realized"} -25`)
}
