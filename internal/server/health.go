package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   any             `json:"details,omitempty"`
}

// StorageDetails describes the local session store.
type StorageDetails struct {
	Root           string `json:"root"`
	ActiveSessions int    `json:"active_sessions"`
}

const healthCheckTimeout = 5 * time.Second

// HandleHealth reports every component. Only the local store is critical;
// the optional mirror and audit database can at most degrade the result.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	statusCode := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, health)
}

// HandleReady is the readiness probe: the sessions root must be writable.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.probeStore(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": "session store unavailable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleLive provides a liveness probe (is the process running?)
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  time.Now(),
		Version:    s.cfg.Version,
		Components: make(map[string]ComponentHealth),
	}

	health.Components["storage"] = s.checkStorageHealth()
	if s.auditor != nil {
		health.Components["database"] = s.checkDatabaseHealth(ctx)
	}
	if s.mirror != nil {
		health.Components["minio"] = s.checkMinIOHealth(ctx)
	}
	if stats := s.breakers.GetAllStats(); len(stats) > 0 {
		health.Components["circuit_breakers"] = ComponentHealth{
			Status:  breakerStatus(stats),
			Details: stats,
		}
	}

	health.Status = determineOverallHealth(health.Components)
	return health
}

// probeStore creates and removes a file in the sessions root.
func (s *Server) probeStore() error {
	path := filepath.Join(s.store.Root(), ".probe-"+uuid.NewString())
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		return err
	}
	return os.Remove(path)
}

func (s *Server) checkStorageHealth() ComponentHealth {
	start := time.Now()
	if err := s.probeStore(); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "session store not writable",
		}
	}
	latency := time.Since(start)

	count, err := s.countSessions()
	if err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDegraded,
			Message: "could not list sessions",
		}
	}

	return ComponentHealth{
		Status:    ComponentStatusUp,
		Message:   "storage healthy",
		LatencyMs: float64(latency.Microseconds()) / 1000,
		Details: StorageDetails{
			Root:           s.store.Root(),
			ActiveSessions: count,
		},
	}
}

func (s *Server) checkDatabaseHealth(ctx context.Context) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	if err := s.auditor.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDegraded,
			Message: "database ping failed: " + err.Error(),
		}
	}
	latency := time.Since(start).Milliseconds()

	status := ComponentStatusUp
	message := "database healthy"
	if latency > 1000 {
		status = ComponentStatusDegraded
		message = "database latency high"
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency),
	}
}

func (s *Server) checkMinIOHealth(ctx context.Context) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	if err := s.mirror.Ping(ctx); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDegraded,
			Message: "minio check failed: " + err.Error(),
		}
	}
	latency := time.Since(start).Milliseconds()

	status := ComponentStatusUp
	message := "minio healthy"
	if latency > 2000 {
		status = ComponentStatusDegraded
		message = "minio latency high"
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency),
		Details:   map[string]string{"bucket": s.mirror.Bucket()},
	}
}

func breakerStatus(stats map[string]CircuitBreakerStats) ComponentStatus {
	for _, st := range stats {
		if st.State != StateClosed {
			return ComponentStatusDegraded
		}
	}
	return ComponentStatusUp
}

// determineOverallHealth calculates overall health from component statuses
func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var (
		downCount     int
		degradedCount int
	)

	for _, component := range components {
		switch component.Status {
		case ComponentStatusDown:
			downCount++
		case ComponentStatusDegraded:
			degradedCount++
		}
	}

	if downCount > 0 {
		return HealthStatusUnhealthy
	}
	if degradedCount > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
