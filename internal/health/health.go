// Package health provides liveness and readiness endpoints for both services.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/devrev/dbrouter/internal/metrics"
	"go.uber.org/zap"
)

// Checker reports whether one dependency is usable.
type Checker func(ctx context.Context) error

// HealthCheck manages health check functionality.
type HealthCheck struct {
	checks        map[string]Checker
	metrics       *metrics.Metrics
	logger        *zap.Logger
	mu            sync.RWMutex
	ready         bool
	lastCheck     time.Time
	checkInterval time.Duration
	checkTimeout  time.Duration
}

// NewHealthCheck creates a new HealthCheck over the named dependency checks.
func NewHealthCheck(checks map[string]Checker, m *metrics.Metrics, logger *zap.Logger) *HealthCheck {
	return &HealthCheck{
		checks:        checks,
		metrics:       m,
		logger:        logger,
		checkInterval: 5 * time.Second,
		checkTimeout:  5 * time.Second,
	}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// RootHandler handles GET / with the plain text liveness probe used by load balancers.
func (hc *HealthCheck) RootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Healthy!"))
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if hc.IsReady() {
		writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: hc.healthyChecks()})
		return
	}

	// Perform a fresh check if not ready
	ctx, cancel := context.WithTimeout(r.Context(), hc.checkTimeout)
	defer cancel()

	results, err := hc.CheckNow(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
			Status: "not_ready",
			Checks: results,
			Error:  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: results})
}

// CheckNow runs every dependency check and updates the cached readiness.
// The returned error is the first failure in name order.
func (hc *HealthCheck) CheckNow(ctx context.Context) (map[string]string, error) {
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	var firstErr error
	for _, name := range names {
		if err := hc.checks[name](ctx); err != nil {
			results[name] = "unhealthy"
			if firstErr == nil {
				firstErr = err
			}
			hc.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			continue
		}
		results[name] = "healthy"
	}

	hc.SetReady(firstErr == nil)
	return results, firstErr
}

// Run performs periodic health checks until ctx is done.
func (hc *HealthCheck) Run(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
		hc.CheckNow(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

// SetReady sets the readiness status.
func (hc *HealthCheck) SetReady(ready bool) {
	hc.mu.Lock()
	hc.ready = ready
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	hc.metrics.SetHealthStatus(ready)
}

func (hc *HealthCheck) healthyChecks() map[string]string {
	out := make(map[string]string, len(hc.checks))
	for name := range hc.checks {
		out[name] = "healthy"
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
