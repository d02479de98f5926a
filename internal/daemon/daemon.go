// Package daemon runs the scancache service. It owns the per-interface scan
// caches, the periodic maintenance jobs, the optional snapshot database and
// the HTTP API, and ties their lifecycles to process signals.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anstrom/scancache/internal/api"
	apihandlers "github.com/anstrom/scancache/internal/api/handlers"
	"github.com/anstrom/scancache/internal/config"
	"github.com/anstrom/scancache/internal/db"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/metrics"
	"github.com/anstrom/scancache/internal/scancache"
	"github.com/anstrom/scancache/internal/scheduler"
	"github.com/anstrom/scancache/internal/workers"
)

const (
	healthCheckInterval   = 10 * time.Second
	systemMetricsInterval = 15 * time.Second
)

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Daemon represents the main daemon process.
type Daemon struct {
	config     *config.Config
	configPath string
	pidFile    string
	logger     *logging.Logger

	registry   metrics.MetricsRegistry
	prometheus *metrics.PrometheusMetrics
	hub        *apihandlers.EventHub
	manager    *scancache.Manager

	database  *db.DB
	snapshots *db.SnapshotRepository
	pool      *workers.Pool
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	cleanupOnce sync.Once
	debugMode   bool
	mu          sync.RWMutex
}

// New creates a new daemon instance. configPath is reread on SIGHUP and
// watched for changes; it may be empty.
func New(cfg *config.Config, configPath string) (*Daemon, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		config:     cfg,
		configPath: configPath,
		pidFile:    cfg.Daemon.PIDFile,
		logger:     logger.WithComponent("daemon"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Start starts the daemon and blocks until it is stopped.
func (d *Daemon) Start() error {
	d.logger.Info("Starting scancache daemon")

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	if err := d.initCaches(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize scan caches: %w", err)
	}

	if err := d.initDatabase(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := d.initMaintenance(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize maintenance jobs: %w", err)
	}

	if err := d.initAPIServer(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	d.logger.Info("Daemon started successfully", "interfaces", d.manager.Interfaces())
	return d.run()
}

// Stop stops the daemon gracefully.
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")
	d.cancel()

	select {
	case <-d.done:
		d.logger.Info("Daemon stopped gracefully")
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Warn("Shutdown timeout reached, forcing exit")
		d.cleanup()
	}
	return nil
}

func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.pidFile)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// setupSignalHandlers sets up signal handling for graceful shutdown.
func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)

	signal.Notify(sigChan,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,  // reload configuration
		syscall.SIGUSR1, // dump status
		syscall.SIGUSR2, // toggle debug logging
	)

	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-d.ctx.Done():
				return
			case sig := <-sigChan:
				d.logger.Info("Received signal", "signal", sig.String())

				switch sig {
				case syscall.SIGTERM, syscall.SIGINT:
					d.logger.Info("Initiating graceful shutdown")
					d.cancel()
					return
				case syscall.SIGHUP:
					if err := d.reloadConfiguration(); err != nil {
						d.logger.Error("Configuration reload failed", "error", err)
					}
				case syscall.SIGUSR1:
					d.dumpStatus()
				case syscall.SIGUSR2:
					d.toggleDebugMode()
				}
			}
		}
	}()
}

// initCaches builds the metrics, the event hub and the cache manager, and
// creates the configured interfaces.
func (d *Daemon) initCaches() error {
	d.registry = metrics.Default()
	d.prometheus = metrics.NewPrometheusMetrics()
	d.hub = apihandlers.NewEventHub(d.config.API.EventBuffer, d.logger.Logger, d.registry)

	d.manager = scancache.NewManager(scancache.Options{
		MaxEntries: d.config.Cache.MaxEntries,
		AgingTime:  d.config.Cache.AgingTime,
		Logger:     logging.Default(),
		Metrics:    d.registry,
		Collector:  d.prometheus,
		Events:     d.hub.Publish,
	})
	d.manager.SetScoringConfig(d.config.Scoring)

	for _, iface := range d.config.Cache.Interfaces {
		if _, err := d.manager.Add(iface); err != nil {
			return err
		}
	}
	d.prometheus.SetInterfaceCount(len(d.manager.Interfaces()))
	return nil
}

// initDatabase connects the snapshot store when a database is configured.
func (d *Daemon) initDatabase() error {
	if !d.config.Database.Enabled() {
		d.logger.Info("Snapshot database not configured, snapshots disabled")
		return nil
	}

	d.logger.Info("Connecting to database", "host", d.config.Database.Host, "database", d.config.Database.Database)
	database, err := db.ConnectAndMigrate(d.ctx, &d.config.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	d.database = database
	d.snapshots = db.NewSnapshotRepository(database, d.prometheus)
	d.logger.Info("Database connection established")
	return nil
}

// initMaintenance creates the worker pool and registers the periodic jobs.
// Jobs with an empty schedule are skipped; snapshot jobs need the database.
func (d *Daemon) initMaintenance() error {
	poolCfg := workers.DefaultConfig()
	poolCfg.Size = d.config.Maintenance.WorkerPoolSize
	d.pool = workers.New(poolCfg)
	d.scheduler = scheduler.NewScheduler(d.pool)

	m := d.config.Maintenance
	type job struct {
		name     string
		jobType  string
		schedule string
		fn       scheduler.JobFunc
	}
	jobs := []job{
		{"cache-age-out", scheduler.JobTypeAgeOut, m.AgeOutSchedule, scheduler.AgeOutJob(d.manager)},
	}
	if d.snapshots != nil {
		jobs = append(jobs,
			job{"cache-snapshot", scheduler.JobTypeSnapshot, m.SnapshotSchedule,
				scheduler.SnapshotJob(d.manager, d.snapshots)},
			job{"snapshot-prune", scheduler.JobTypePrune, m.PruneSchedule,
				scheduler.PruneJob(d.snapshots, m.SnapshotRetention)},
		)
	}

	for _, j := range jobs {
		if j.schedule == "" {
			d.logger.Info("Maintenance job disabled", "job", j.name)
			continue
		}
		if _, err := d.scheduler.AddJob(j.name, j.jobType, j.schedule, j.fn); err != nil {
			return err
		}
	}
	return nil
}

// initAPIServer initializes the API server.
func (d *Daemon) initAPIServer() error {
	if !d.config.API.Enabled {
		d.logger.Info("API server disabled, skipping initialization")
		return nil
	}

	apiServer, err := d.newAPIServer(d.config)
	if err != nil {
		return fmt.Errorf("API server creation failed: %w", err)
	}

	d.apiServer = apiServer
	d.logger.Info("API server initialized", "address", d.config.GetAPIAddress())
	return nil
}

func (d *Daemon) newAPIServer(cfg *config.Config) (*api.Server, error) {
	deps := api.Dependencies{
		Manager:         d.manager,
		Events:          d.hub,
		Scheduler:       d.scheduler,
		Prometheus:      d.prometheus,
		Metrics:         d.registry,
		Logger:          d.logger.Logger,
		ScoringRequired: cfg.Cache.ScoringRequired,
	}
	// Leave the interfaces nil rather than holding a nil *db.DB.
	if d.database != nil {
		deps.Database = d.database
		deps.Snapshots = d.snapshots
	}
	return api.New(cfg.API, deps)
}

// checkExistingPID checks if a PID file exists and if the process is still running.
func (d *Daemon) checkExistingPID() error {
	if _, err := os.Stat(d.pidFile); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		_ = os.Remove(d.pidFile)
		return nil
	}

	if pid != os.Getpid() && isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	// stale
	_ = os.Remove(d.pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// run executes the main daemon loop.
func (d *Daemon) run() error {
	go d.hub.Run(d.ctx)
	go d.prometheus.StartPeriodicUpdates(d.ctx, systemMetricsInterval)

	d.pool.Start()
	if err := d.scheduler.Start(); err != nil {
		d.logger.Error("Failed to start scheduler", "error", err)
	}

	if d.configPath != "" {
		if err := config.Watch(d.ctx, d.configPath, d.applyConfiguration); err != nil {
			d.logger.Warn("Configuration file watch unavailable", "path", d.configPath, "error", err)
		}
	}

	d.mu.RLock()
	if d.apiServer != nil {
		d.startAPIServer(d.apiServer)
	}
	d.mu.RUnlock()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Shutdown signal received")
			d.cleanup()
			close(d.done)
			return nil

		case <-ticker.C:
			d.performHealthCheck()
		}
	}
}

func (d *Daemon) startAPIServer(srv *api.Server) {
	go func() {
		d.logger.Info("Starting API server", "address", d.GetConfig().GetAPIAddress())
		if err := srv.Start(d.ctx); err != nil {
			d.logger.Error("API server error", "error", err)
		}
	}()
}

// performHealthCheck performs periodic health checks.
func (d *Daemon) performHealthCheck() {
	d.prometheus.SetInterfaceCount(len(d.manager.Interfaces()))

	if d.database == nil {
		return
	}
	if err := d.database.PingContext(d.ctx); err != nil {
		d.logger.Warn("Database health check failed", "error", err)
		if err := d.reconnectDatabase(); err != nil {
			d.logger.Error("Database reconnection failed", "error", err)
		}
	}
}

// cleanup releases every component in reverse start order. It runs once.
func (d *Daemon) cleanup() {
	d.cleanupOnce.Do(func() {
		d.logger.Info("Performing cleanup")
		d.cancel()

		d.mu.RLock()
		apiServer := d.apiServer
		d.mu.RUnlock()

		if apiServer != nil {
			if err := apiServer.Stop(); err != nil {
				d.logger.Error("Error stopping API server", "error", err)
			}
		}

		if d.scheduler != nil {
			d.scheduler.Stop()
		}
		if d.pool != nil {
			if err := d.pool.Shutdown(); err != nil {
				d.logger.Warn("Worker pool shutdown incomplete", "error", err)
			}
		}

		if d.database != nil {
			if err := d.database.Close(); err != nil {
				d.logger.Error("Error closing database", "error", err)
			}
		}

		if d.pidFile != "" {
			if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
				d.logger.Error("Error removing PID file", "error", err)
			} else {
				d.logger.Info("Removed PID file", "path", d.pidFile)
			}
		}

		d.logger.Info("Cleanup completed")
	})
}

// GetPID returns the daemon's PID.
func (d *Daemon) GetPID() int {
	return os.Getpid()
}

// IsRunning checks if the daemon is running.
func (d *Daemon) IsRunning() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
		return true
	}
}

// reloadConfiguration rereads the configuration file and applies it.
func (d *Daemon) reloadConfiguration() error {
	if d.configPath == "" {
		return fmt.Errorf("no configuration file to reload")
	}
	d.logger.Info("Reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	d.applyConfiguration(newConfig)
	return nil
}

// applyConfiguration installs the parts of newConfig that can change at
// runtime: scoring, additional interfaces and the API server. Cache sizes
// only apply to interfaces created afterwards.
func (d *Daemon) applyConfiguration(newConfig *config.Config) {
	if d.manager.SetScoringConfig(newConfig.Scoring) {
		d.logger.Warn("Reloaded scoring configuration was adjusted")
	}

	for _, iface := range newConfig.Cache.Interfaces {
		if _, err := d.manager.Get(iface); err == nil {
			continue
		}
		if _, err := d.manager.Add(iface); err != nil {
			d.logger.Error("Failed to add interface", "interface", iface, "error", err)
		}
	}

	d.mu.Lock()
	oldConfig := d.config
	d.config = newConfig
	d.mu.Unlock()

	if hasAPIConfigChanged(oldConfig, newConfig) {
		d.restartAPIServer(newConfig)
	}
	d.logger.Info("Configuration applied", "interfaces", len(d.manager.Interfaces()))
}

// dumpStatus dumps the current daemon status to the log.
func (d *Daemon) dumpStatus() {
	d.mu.RLock()
	debugMode := d.debugMode
	apiServer := d.apiServer
	d.mu.RUnlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	d.logger.Info("Daemon status",
		"pid", os.Getpid(),
		"debug", debugMode,
		"alloc_kb", m.Alloc/1024,
		"sys_kb", m.Sys/1024,
		"num_gc", m.NumGC,
		"goroutines", runtime.NumGoroutine(),
		"uptime", d.prometheus.GetUptime().Round(time.Second),
	)

	for _, c := range d.manager.Contexts() {
		d.logger.Info("Cache status",
			"interface", c.Interface(),
			"entries", c.NumEntries(),
			"max_entries", c.MaxEntries(),
			"aging_time", c.AgingTime())
	}

	switch {
	case d.database == nil:
		d.logger.Info("Database status", "state", "not configured")
	case d.database.PingContext(d.ctx) != nil:
		d.logger.Info("Database status", "state", "disconnected")
	default:
		d.logger.Info("Database status", "state", "connected")
	}

	if apiServer != nil {
		d.logger.Info("API server status", "address", apiServer.GetAddress(), "ws_clients", d.hub.ClientCount())
	} else {
		d.logger.Info("API server status", "state", "disabled")
	}

	for _, job := range d.scheduler.GetJobs() {
		d.logger.Info("Job status", "name", job.Name, "enabled", job.Enabled,
			"runs", job.RunCount, "next_run", job.NextRun, "last_error", job.LastError)
	}
}

// toggleDebugMode switches the default logger between debug and the
// configured level.
func (d *Daemon) toggleDebugMode() {
	d.mu.Lock()
	d.debugMode = !d.debugMode
	enabled := d.debugMode
	cfg := d.config.Logging
	d.mu.Unlock()

	if enabled {
		cfg.Level = logging.LevelDebug
	}
	logger, err := logging.New(cfg)
	if err != nil {
		d.logger.Error("Failed to switch log level", "error", err)
		return
	}
	logging.SetDefault(logger)
	d.logger.Info("Debug mode toggled", "enabled", enabled, "level", cfg.Level)
}

// IsDebugMode returns the current debug mode state.
func (d *Daemon) IsDebugMode() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.debugMode
}

// reconnectDatabase waits for the database to come back with exponential
// backoff. The connection pool redials on its own, so a successful ping is
// all that is needed.
func (d *Daemon) reconnectDatabase() error {
	const maxRetries = 5
	const baseDelay = 2 * time.Second
	const maxDelay = 30 * time.Second

	d.logger.Info("Attempting database reconnection")

	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		delay := baseDelay << (attempt - 1)
		if delay > maxDelay {
			delay = maxDelay
		}

		select {
		case <-d.ctx.Done():
			return fmt.Errorf("reconnection cancelled due to shutdown")
		case <-time.After(delay):
		}

		if err = d.database.PingContext(d.ctx); err != nil {
			d.logger.Warn("Reconnection attempt failed", "attempt", attempt, "max_attempts", maxRetries, "error", err)
			continue
		}
		d.logger.Info("Database reconnection successful", "attempt", attempt)
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts: %w", maxRetries, err)
}

func hasAPIConfigChanged(oldConfig, newConfig *config.Config) bool {
	return oldConfig.API.Enabled != newConfig.API.Enabled ||
		oldConfig.API.ListenAddr != newConfig.API.ListenAddr ||
		oldConfig.API.Port != newConfig.API.Port
}

// GetContext returns the daemon's context.
func (d *Daemon) GetContext() context.Context {
	return d.ctx
}

// GetManager returns the scan cache manager.
func (d *Daemon) GetManager() *scancache.Manager {
	return d.manager
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// restartAPIServer stops the running API server and starts one with the new
// listen settings.
func (d *Daemon) restartAPIServer(newConfig *config.Config) {
	d.logger.Info("API configuration changed, restarting API server")

	d.mu.Lock()
	old := d.apiServer
	d.apiServer = nil
	d.mu.Unlock()

	if old != nil {
		if err := old.Stop(); err != nil {
			d.logger.Error("Failed to stop API server", "error", err)
		}
	}

	if !newConfig.API.Enabled {
		return
	}

	apiServer, err := d.newAPIServer(newConfig)
	if err != nil {
		d.logger.Error("Failed to create API server with new config", "error", err)
		return
	}

	d.mu.Lock()
	d.apiServer = apiServer
	d.mu.Unlock()
	d.startAPIServer(apiServer)
}
