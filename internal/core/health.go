package core

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus represents the health state of the bridge
type HealthStatus struct {
	Status          string `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds   int64  `json:"uptime_seconds"`
	BrokerConnected bool   `json:"broker_connected"`
	Phase           string `json:"phase"`
	Periods         uint64 `json:"periods"`
	WriteFailures   uint64 `json:"write_failures"`
}

// HealthCheck returns the current health status of the bridge
func (b *Bridge) HealthCheck() HealthStatus {
	b.mu.RLock()
	running := b.isRunning
	started := b.started
	b.mu.RUnlock()

	st := b.state.Stats()
	status := HealthStatus{
		Status:          "healthy",
		BrokerConnected: b.broker.Stats().Connected,
		Phase:           st.Phase,
		Periods:         st.Periods,
		WriteFailures:   st.WriteFailures,
	}

	switch {
	case !running:
		status.Status = "unhealthy"
	case !status.BrokerConnected:
		status.Status = "degraded"
	}

	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}

	return status
}

// Handler returns the health and metrics endpoints
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", b.LivenessHandler)
	mux.HandleFunc("/readiness", b.ReadinessHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	return mux
}

// LivenessHandler handles /health (the process answers)
func (b *Bridge) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": b.HealthCheck().UptimeSeconds,
	})
}

// ReadinessHandler handles /readiness; 503 unless the bridge is running
func (b *Bridge) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := b.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(health)
}
