package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
	healthStatusDisabled     = "disabled"
)

// ReadinessProbe reports whether a component can do its work.
type ReadinessProbe interface {
	Running() bool
}

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	shuttingDown atomic.Bool
	disabled     atomic.Bool

	// probe is usually the bridge service; nil means not started yet
	probe atomic.Pointer[ReadinessProbe]

	startTime time.Time
}

// NewHealthChecker creates a HealthChecker that reports not ready until a
// probe is attached.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{startTime: time.Now()}
}

// SetProbe attaches the readiness probe.
func (h *HealthChecker) SetProbe(p ReadinessProbe) {
	h.probe.Store(&p)
}

// SetDisabled marks the bridge as disabled because no credentials exist.
// A disabled bridge is reported live but not ready.
func (h *HealthChecker) SetDisabled(disabled bool) {
	h.disabled.Store(disabled)
}

// SetShuttingDown flips readiness off during graceful shutdown.
func (h *HealthChecker) SetShuttingDown() {
	h.shuttingDown.Store(true)
}

// IsReady returns whether the bridge loop is running and not shutting down.
func (h *HealthChecker) IsReady() bool {
	return h.bridgeStatus() == healthStatusOK && !h.shuttingDown.Load()
}

func (h *HealthChecker) bridgeStatus() string {
	if h.disabled.Load() {
		return healthStatusDisabled
	}
	p := h.probe.Load()
	if p == nil || !(*p).Running() {
		return healthStatusNotReady
	}
	return healthStatusOK
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status string `json:"status"`
	Bridge string `json:"bridge"`
	Uptime string `json:"uptime"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		checks := map[string]string{
			"bridge":   h.bridgeStatus(),
			"shutdown": healthStatusOK,
		}
		if h.shuttingDown.Load() {
			checks["shutdown"] = healthStatusShuttingDown
		}

		if h.IsReady() {
			writeJSON(w, http.StatusOK, HealthResponse{Status: healthStatusOK, Checks: checks})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: healthStatusNotReady, Checks: checks})
	})
}

// DetailedHealthHandler returns an HTTP handler for the /healthz/detailed endpoint.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response := DetailedHealthResponse{
			Status: healthStatusOK,
			Bridge: h.bridgeStatus(),
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		}

		code := http.StatusOK
		switch {
		case h.shuttingDown.Load():
			response.Status = healthStatusShuttingDown
			code = http.StatusServiceUnavailable
		case !h.IsReady():
			response.Status = healthStatusNotReady
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, response)
	})
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
