// Package handlers implements the status server's HTTP handlers.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	apperrors "github.com/hina0118/mailbatch/internal/errors"
)

// HealthChecker probes one dependency. Implementations must respect the
// context deadline.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// checkTimeout bounds each individual dependency probe.
const checkTimeout = 3 * time.Second

// HealthResponse is the body returned for a healthy /health request.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager runs registered checkers and serves the health probes.
type HealthManager struct {
	version string

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds a named dependency probe. Re-registering a name
// replaces the previous checker.
func (m *HealthManager) RegisterChecker(name string, c HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make(map[string]HealthChecker, len(names))
	for _, name := range names {
		checkers[name] = m.checkers[name]
	}
	m.mu.RUnlock()

	results := make(map[string]string, len(names))
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checkers[name].CheckHealth(checkCtx)
		cancel()

		switch {
		case err == nil:
			results[name] = "healthy"
		case checkCtx.Err() == context.DeadlineExceeded:
			results[name] = "timeout"
		default:
			results[name] = "unhealthy"
		}
	}
	return results
}

// determineOverallStatus folds per-check results into one status.
// Any unhealthy check makes the whole service unhealthy; timeouts alone
// degrade it.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	status := "healthy"
	for _, s := range checks {
		switch s {
		case "unhealthy":
			return "unhealthy"
		case "timeout":
			status = "degraded"
		}
	}
	return status
}

// HealthHandler serves GET /health with the full dependency report.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	status := m.determineOverallStatus(checks)

	if status == "unhealthy" {
		details := map[string]any{"checks": checks}
		apperrors.WriteError(w, http.StatusServiceUnavailable,
			apperrors.CodeServiceUnavailable, "one or more health checks failed",
			apperrors.RequestIDFrom(r), details)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// LivenessHandler serves GET /health/live. It only asserts the process
// is responsive, never dependency state.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// ReadinessHandler serves GET /health/ready, gated on dependency checks.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.runChecks(r.Context())
	if m.determineOverallStatus(checks) == "unhealthy" {
		details := map[string]any{"checks": checks}
		apperrors.WriteError(w, http.StatusServiceUnavailable,
			apperrors.CodeServiceUnavailable, "not ready",
			apperrors.RequestIDFrom(r), details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// StartupHandler serves GET /health/startup.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

var globalHealthManager *HealthManager

// InitHealthManager installs the process-wide health manager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil before init.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

// Global handler wrappers for route registration. Each returns 503 if
// the manager was never initialized.

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		writeUninitialized(w, r)
		return
	}
	globalHealthManager.HealthHandler(w, r)
}

func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		writeUninitialized(w, r)
		return
	}
	globalHealthManager.LivenessHandler(w, r)
}

func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		writeUninitialized(w, r)
		return
	}
	globalHealthManager.ReadinessHandler(w, r)
}

func StartupHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		writeUninitialized(w, r)
		return
	}
	globalHealthManager.StartupHandler(w, r)
}

func writeUninitialized(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteError(w, http.StatusServiceUnavailable,
		apperrors.CodeServiceUnavailable, "health manager not initialized",
		apperrors.RequestIDFrom(r), nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
