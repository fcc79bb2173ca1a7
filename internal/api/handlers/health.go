package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

var startTime = time.Now()

// HealthChecker is implemented by the Postgres and Redis connections.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthHandler struct {
	checks  map[string]HealthChecker
	version string
	// storage is reported when no database is configured ("memory").
	storage string
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Storage   string            `json:"storage"`
}

// NewHealthHandler creates a health handler. Nil checkers are skipped, so a server running
// on the in-memory store without Redis is still healthy.
func NewHealthHandler(version string, checks map[string]HealthChecker) *HealthHandler {
	active := make(map[string]HealthChecker, len(checks))
	for name, check := range checks {
		if check != nil {
			active[name] = check
		}
	}
	storage := "memory"
	if _, ok := active["database"]; ok {
		storage = "postgres"
	}
	return &HealthHandler{checks: active, version: version, storage: storage}
}

func (h *HealthHandler) check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	services := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		services[name] = "healthy"
	}
	return services, healthy
}

func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	services, healthy := h.check(r.Context())

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
		Storage:   h.storage,
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		response.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ReadinessCheck fails as soon as any configured dependency is down.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	services, healthy := h.check(r.Context())
	notReady := make([]string, 0)
	for name, status := range services {
		if status != "healthy" {
			notReady = append(notReady, name)
		}
	}
	sort.Strings(notReady)

	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":     healthy,
		"not_ready": notReady,
	}); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// Liveness check for container restarts
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	}); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
