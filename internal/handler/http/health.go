package http

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/windfall/pronunciation_service/pkg/response"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	service string
	ready   atomic.Bool
	checks  map[string]ReadinessCheck
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(service string, checks map[string]ReadinessCheck) *HealthHandler {
	h := &HealthHandler{service: service, checks: checks}
	h.ready.Store(true)
	return h
}

// SetReady sets the ready state.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Health checks if the service is healthy.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]interface{}{
		"status":  "healthy",
		"service": h.service,
	})
}

// Ready checks if the service and its dependencies can take traffic.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		response.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		response.JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"checks": failed,
		})
		return
	}

	response.OK(w, map[string]interface{}{
		"status": "ready",
	})
}

// Live checks if the service is alive (Kubernetes liveness check).
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]interface{}{
		"status": "alive",
	})
}
