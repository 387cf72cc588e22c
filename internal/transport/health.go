package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthCheck is one named readiness dependency.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthHandler serves liveness/readiness/version endpoints.
type HealthHandler struct {
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex

	version   string
	buildTime string
	gitCommit string
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(logger *zap.Logger, version, buildTime, gitCommit string) *HealthHandler {
	return &HealthHandler{logger: logger, version: version, buildTime: buildTime, gitCommit: gitCommit}
}

// RegisterCheck adds a readiness dependency, checked by HandleReady.
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

type healthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HandleHealth and HandleHealthz both serve a liveness probe: the
// process is running, full stop.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleReady runs every registered readiness check under a 5s deadline
// and reports 503 if any fails.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := healthStatus{Status: "healthy", Timestamp: time.Now(), Checks: make(map[string]checkResult)}
	allHealthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := checkResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false
			h.logger.Warn("readiness check failed", zap.String("check", check.Name()), zap.Error(err))
		}
		status.Checks[check.Name()] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleVersion reports build identity.
func (h *HealthHandler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{
		"version":    h.version,
		"build_time": h.buildTime,
		"git_commit": h.gitCommit,
	})
}
