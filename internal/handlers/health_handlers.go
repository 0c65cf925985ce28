package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthCheckFunc probes one dependency.
type HealthCheckFunc func(ctx context.Context) error

// HealthHandlers handles health check and monitoring endpoints
type HealthHandlers struct {
	checks    map[string]HealthCheckFunc
	critical  map[string]bool
	version   string
	startedAt time.Time
	timeout   time.Duration
}

func NewHealthHandlers(version string) *HealthHandlers {
	return &HealthHandlers{
		checks:    make(map[string]HealthCheckFunc),
		critical:  make(map[string]bool),
		version:   version,
		startedAt: time.Now(),
		timeout:   2 * time.Second,
	}
}

// AddCheck registers a dependency probe. Failing critical checks make the
// instance not ready; other failures only degrade /health.
func (h *HealthHandlers) AddCheck(name string, critical bool, check HealthCheckFunc) *HealthHandlers {
	h.checks[name] = check
	h.critical[name] = critical
	return h
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
}

func (h *HealthHandlers) run(ctx context.Context) (map[string]string, bool, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	services := make(map[string]string, len(names))
	healthy, ready := true, true
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			services[name] = "unhealthy"
			healthy = false
			if h.critical[name] {
				ready = false
			}
			continue
		}
		services[name] = "healthy"
	}
	return services, healthy, ready
}

// HealthCheck handles GET /health
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	services, healthy, _ := h.run(c.Request().Context())
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Version:   h.version,
	}
	if !healthy {
		health.Status = "degraded"
	}
	return c.JSON(http.StatusOK, health)
}

// ReadinessCheck handles GET /health/ready
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	_, _, ready := h.run(c.Request().Context())
	if !ready {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": "Critical services unavailable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ready",
		"message": "All systems operational",
	})
}

// LivenessCheck handles GET /health/live
func (h *HealthHandlers) LivenessCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
