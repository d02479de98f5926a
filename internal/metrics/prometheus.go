package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all scancache metrics
	namespace = "scancache"

	// Subsystems
	subsystemCache     = "cache"
	subsystemCandidate = "candidate"
	subsystemDatabase  = "database"
	subsystemSystem    = "system"
	subsystemAPI       = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Cache metrics
	cacheEntries   *prometheus.GaugeVec
	cacheInserts   *prometheus.CounterVec
	cacheMerges    *prometheus.CounterVec
	cacheRemovals  *prometheus.CounterVec
	malformedIEs   *prometheus.CounterVec
	allocFailures  *prometheus.CounterVec
	interfaceCount prometheus.Gauge

	// Candidate metrics
	candidateQueries  *prometheus.CounterVec
	candidateCount    *prometheus.HistogramVec
	candidateDuration *prometheus.HistogramVec

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initCacheMetrics()
	pm.initCandidateMetrics()
	pm.initDatabaseMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initCacheMetrics initializes scan cache metrics
func (pm *PrometheusMetrics) initCacheMetrics() {
	pm.cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemCache,
			Name:      "entries",
			Help:      "Number of live scan entries per interface",
		},
		[]string{"interface"},
	)

	pm.cacheInserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCache,
			Name:      "inserts_total",
			Help:      "Total number of scan entries inserted",
		},
		[]string{"interface"},
	)

	pm.cacheMerges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCache,
			Name:      "merges_total",
			Help:      "Total number of observations merged into an existing entry",
		},
		[]string{"interface"},
	)

	pm.cacheRemovals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCache,
			Name:      "removals_total",
			Help:      "Total number of entries removed by reason (aged, evicted, flushed)",
		},
		[]string{"interface", "reason"},
	)

	pm.malformedIEs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCache,
			Name:      "malformed_ies_total",
			Help:      "Total number of security elements rejected as malformed",
		},
		[]string{"element"},
	)

	pm.allocFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCache,
			Name:      "alloc_failures_total",
			Help:      "Total number of refused entry allocations",
		},
		[]string{"interface"},
	)

	pm.interfaceCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemCache,
			Name:      "interfaces",
			Help:      "Number of interfaces with an active scan cache",
		},
	)
}

// initCandidateMetrics initializes candidate selection metrics
func (pm *PrometheusMetrics) initCandidateMetrics() {
	pm.candidateQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCandidate,
			Name:      "queries_total",
			Help:      "Total number of candidate list queries",
		},
		[]string{"interface"},
	)

	pm.candidateCount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemCandidate,
			Name:      "list_size",
			Help:      "Number of candidates returned per query",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100, 300},
		},
		[]string{"interface"},
	)

	pm.candidateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemCandidate,
			Name:      "query_duration_seconds",
			Help:      "Duration of candidate list assembly in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
		[]string{"interface"},
	)
}

// initDatabaseMetrics initializes telemetry store metrics
func (pm *PrometheusMetrics) initDatabaseMetrics() {
	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of telemetry database queries",
		},
		[]string{"operation", "status"},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of telemetry database queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
}

// initAPIMetrics initializes HTTP API metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
}

// initSystemMetrics initializes process level metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Number of active goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.cacheEntries,
		pm.cacheInserts,
		pm.cacheMerges,
		pm.cacheRemovals,
		pm.malformedIEs,
		pm.allocFailures,
		pm.interfaceCount,
		pm.candidateQueries,
		pm.candidateCount,
		pm.candidateDuration,
		pm.dbQueries,
		pm.dbQueryDuration,
		pm.httpRequests,
		pm.httpDuration,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Cache Metrics Methods

// SetCacheEntries sets the live entry gauge for an interface
func (pm *PrometheusMetrics) SetCacheEntries(iface string, count int) {
	pm.cacheEntries.WithLabelValues(iface).Set(float64(count))
}

// IncrementInserts increments the insert counter
func (pm *PrometheusMetrics) IncrementInserts(iface string) {
	pm.cacheInserts.WithLabelValues(iface).Inc()
}

// IncrementMerges increments the merge counter
func (pm *PrometheusMetrics) IncrementMerges(iface string) {
	pm.cacheMerges.WithLabelValues(iface).Inc()
}

// AddRemovals adds removed entries for a reason
func (pm *PrometheusMetrics) AddRemovals(iface, reason string, count int) {
	pm.cacheRemovals.WithLabelValues(iface, reason).Add(float64(count))
}

// IncrementMalformedIEs increments the malformed element counter
func (pm *PrometheusMetrics) IncrementMalformedIEs(element string) {
	pm.malformedIEs.WithLabelValues(element).Inc()
}

// IncrementAllocFailures increments the refused allocation counter
func (pm *PrometheusMetrics) IncrementAllocFailures(iface string) {
	pm.allocFailures.WithLabelValues(iface).Inc()
}

// SetInterfaceCount sets the number of managed interfaces
func (pm *PrometheusMetrics) SetInterfaceCount(count int) {
	pm.interfaceCount.Set(float64(count))
}

// RecordCandidateQuery records one candidate list assembly
func (pm *PrometheusMetrics) RecordCandidateQuery(iface string, count int, duration time.Duration) {
	pm.candidateQueries.WithLabelValues(iface).Inc()
	pm.candidateCount.WithLabelValues(iface).Observe(float64(count))
	pm.candidateDuration.WithLabelValues(iface).Observe(duration.Seconds())
}

// Database Metrics Methods

// RecordDatabaseQuery records a telemetry store query
func (pm *PrometheusMetrics) RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pm.dbQueries.WithLabelValues(operation, status).Inc()
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// API Metrics Methods

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
