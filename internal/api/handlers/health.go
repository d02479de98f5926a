// Package handlers provides HTTP request handlers for the scancache API.
// This file implements health check and system status endpoints.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/anstrom/scancache/internal/metrics"
	"github.com/anstrom/scancache/internal/scancache"
)

// DatabasePinger defines the interface for database health checking.
// *db.DB implements it.
type DatabasePinger interface {
	PingContext(ctx context.Context) error
}

// Timeout constants.
const (
	healthCheckTimeout = 5 * time.Second
	dependencyTimeout  = 3 * time.Second
)

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusDegraded      = "degraded"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// HealthHandler handles health check and status endpoints.
type HealthHandler struct {
	database  DatabasePinger
	manager   *scancache.Manager
	logger    *slog.Logger
	metrics   metrics.MetricsRegistry
	startTime time.Time
}

// NewHealthHandler creates a new health handler. database may be nil when
// no telemetry store is configured.
func NewHealthHandler(
	database DatabasePinger,
	manager *scancache.Manager,
	logger *slog.Logger,
	metricsRegistry metrics.MetricsRegistry,
) *HealthHandler {
	base := NewBaseHandler(logger, metricsRegistry, 0)
	return &HealthHandler{
		database:  database,
		manager:   manager,
		logger:    base.logger.With("handler", "health"),
		metrics:   base.metrics,
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// LivenessResponse represents a simple liveness check response.
type LivenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// StatusResponse represents a detailed status response.
type StatusResponse struct {
	Service   ServiceInfo     `json:"service"`
	System    SystemInfo      `json:"system"`
	Caches    []InterfaceView `json:"caches"`
	Scoring   ScoringSummary  `json:"scoring"`
	Health    HealthResponse  `json:"health"`
	Timestamp time.Time       `json:"timestamp"`
}

// ServiceInfo contains service-related information.
type ServiceInfo struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	StartTime time.Time `json:"start_time"`
	Uptime    string    `json:"uptime"`
	PID       int       `json:"pid"`
}

// SystemInfo contains system-related information.
type SystemInfo struct {
	OS           string     `json:"os"`
	Architecture string     `json:"architecture"`
	CPUs         int        `json:"cpus"`
	GoVersion    string     `json:"go_version"`
	Memory       MemoryInfo `json:"memory"`
	Goroutines   int        `json:"goroutines"`
}

// MemoryInfo contains memory usage information.
type MemoryInfo struct {
	Allocated   uint64 `json:"allocated_bytes"`
	System      uint64 `json:"system_bytes"`
	GCCycles    uint32 `json:"gc_cycles"`
	HeapObjects uint64 `json:"heap_objects"`
}

// ScoringSummary highlights the active scoring configuration.
type ScoringSummary struct {
	WeightSum     int `json:"weight_sum"`
	RSSIWeight    int `json:"rssi_weight"`
	BestThreshold int `json:"best_rssi_threshold"`
}

// VersionResponse represents version information.
type VersionResponse struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Timestamp time.Time `json:"timestamp"`
}

// Health performs a basic health check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := h.check(ctx)
	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, response)

	h.metrics.Counter("api_health_checks_total", metrics.Labels{"status": response.Status})
}

// Liveness performs a simple liveness check without dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
	})
}

// Status provides detailed service status information.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout)
	defer cancel()

	response := StatusResponse{
		Service: ServiceInfo{
			Name:      "scancache",
			Version:   version,
			StartTime: h.startTime,
			Uptime:    time.Since(h.startTime).String(),
			PID:       os.Getpid(),
		},
		System:    systemInfo(),
		Caches:    []InterfaceView{},
		Health:    h.check(ctx),
		Timestamp: time.Now().UTC(),
	}
	if h.manager != nil {
		for _, c := range h.manager.Contexts() {
			response.Caches = append(response.Caches, NewInterfaceView(c))
		}
		cfg := h.manager.ScoringConfig()
		response.Scoring = ScoringSummary{
			WeightSum:     cfg.Weights.Sum(),
			RSSIWeight:    cfg.Weights.RSSI,
			BestThreshold: cfg.RSSI.BestThreshold,
		}
	}

	writeJSON(w, r, http.StatusOK, response)
}

// Version provides version information.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC(),
	})
}

// check runs the dependency checks. A failing database makes the service
// unhealthy; an empty manager only degrades it.
func (h *HealthHandler) check(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]string),
	}

	if h.database != nil {
		if err := h.database.PingContext(ctx); err != nil {
			response.Status = StatusUnhealthy
			response.Checks["database"] = "failed: " + err.Error()
			h.logger.Warn("Database health check failed", "error", err)
		} else {
			response.Checks["database"] = "ok"
		}
	} else {
		response.Checks["database"] = StatusNotConfigured
	}

	switch {
	case h.manager == nil:
		response.Checks["cache"] = StatusNotConfigured
	case len(h.manager.Interfaces()) == 0:
		response.Checks["cache"] = "no interfaces"
		if response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	default:
		response.Checks["cache"] = "ok"
	}

	return response
}

func systemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUs:         runtime.NumCPU(),
		GoVersion:    runtime.Version(),
		Memory: MemoryInfo{
			Allocated:   memStats.Alloc,
			System:      memStats.Sys,
			GCCycles:    memStats.NumGC,
			HeapObjects: memStats.HeapObjects,
		},
		Goroutines: runtime.NumGoroutine(),
	}
}

// Build information, set via SetBuildInfo from ldflags values.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// SetBuildInfo sets build information (called by main package).
func SetBuildInfo(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}
