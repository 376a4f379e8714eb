package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// Health states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker tracks the service loop's last cycle.
type HealthChecker struct {
	mu        sync.RWMutex
	cadence   time.Duration
	lastCycle time.Time
	lastError string
	failures  int
	state     string
	now       func() time.Time
}

// HealthStatus is the /health payload
type HealthStatus struct {
	Status    string    `json:"status"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	LastCycle time.Time `json:"last_cycle"`
	LastError string    `json:"last_error,omitempty"`
	Uptime    string    `json:"uptime"`
}

// NewHealthChecker creates a checker. A cycle older than three cadences is degraded.
func NewHealthChecker(cadence time.Duration) *HealthChecker {
	return &HealthChecker{cadence: cadence, state: "IDLE", now: time.Now}
}

// SetClock replaces the time source.
func (h *HealthChecker) SetClock(now func() time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = now
}

// RecordCycle stores the outcome of a cycle.
func (h *HealthChecker) RecordCycle(at time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCycle = at
	if err != nil {
		h.lastError = err.Error()
		h.failures++
		return
	}
	h.lastError = ""
	h.failures = 0
}

// SetState records the orchestrator state name.
func (h *HealthChecker) SetState(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
}

// Status computes the current health.
func (h *HealthChecker) Status() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := h.now()
	status := StatusHealthy
	switch {
	case h.failures >= 3:
		status = StatusUnhealthy
	case h.failures > 0 || h.state == "HALTED":
		status = StatusDegraded
	case !h.lastCycle.IsZero() && h.cadence > 0 && now.Sub(h.lastCycle) > 3*h.cadence:
		status = StatusDegraded
	}

	return HealthStatus{
		Status:    status,
		State:     h.state,
		Timestamp: now,
		LastCycle: h.lastCycle,
		LastError: h.lastError,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health := h.Status()

	w.Header().Set("Content-Type", "application/json")
	switch health.Status {
	case StatusDegraded:
		w.WriteHeader(http.StatusOK)
	case StatusUnhealthy:
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(health)
}
