// Package api provides the HTTP REST API of the scancache daemon.
// It exposes the interface caches, candidate selection, scoring
// configuration, snapshot history, maintenance jobs and a cache event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/scancache/internal/api/handlers"
	"github.com/anstrom/scancache/internal/api/middleware"
	"github.com/anstrom/scancache/internal/auth"
	"github.com/anstrom/scancache/internal/config"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/metrics"
	"github.com/anstrom/scancache/internal/scancache"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	defaultRequestTimeout = 30 * time.Second
	rateLimiterCleanup    = 10 * time.Minute
	maxHeaderBytes        = 1 << 20
)

// Dependencies are the components served by the API. Only Manager is
// required; the snapshot, job and event endpoints are registered when their
// component is present.
type Dependencies struct {
	Manager    *scancache.Manager
	Events     *apihandlers.EventHub
	Database   apihandlers.DatabasePinger
	Snapshots  apihandlers.SnapshotReader
	Scheduler  apihandlers.JobScheduler
	Prometheus *metrics.PrometheusMetrics
	Metrics    metrics.MetricsRegistry
	Logger     *slog.Logger

	// ScoringRequired is the default for candidate requests that do not
	// say whether to score.
	ScoringRequired bool
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	config     config.APIConfig
	deps       Dependencies
	logger     *slog.Logger
	limiter    *middleware.RateLimiter
	keys       *auth.KeyRing

	mu      sync.Mutex
	address string
}

// New creates a new API server instance.
func New(cfg config.APIConfig, deps Dependencies) (*Server, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("api server requires a cache manager")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default().Logger
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}

	keys := make([]auth.Key, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, auth.Key{Name: k.Name, Hash: k.Hash, ReadOnly: k.ReadOnly})
	}

	s := &Server{
		router: mux.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "api"),
		keys:   auth.NewKeyRing(keys),
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerSecond > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}

	s.setupMiddleware()
	s.setupRoutes()
	s.handler = s.wrapOuter(s.router)

	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.Port)),
		Handler:        s.handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}
	s.address = s.httpServer.Addr

	return s, nil
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("API server failed to listen: %w", err)
	}
	s.mu.Lock()
	s.address = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("Starting API server",
		"address", listener.Addr().String(),
		"tls", s.config.TLS.Enabled,
		"auth", s.keys.Len() > 0,
		"rate_limit", s.limiter != nil)

	if s.limiter != nil {
		go s.limiter.Run(ctx, rateLimiterCleanup)
	}

	errChan := make(chan error, 1)
	go func() {
		var serveErr error
		if s.config.TLS.Enabled {
			serveErr = s.httpServer.ServeTLS(listener, s.config.TLS.CertFile, s.config.TLS.KeyFile)
		} else {
			serveErr = s.httpServer.Serve(listener)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server failed: %w", serveErr)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address. After Start it is the bound
// listener address.
func (s *Server) GetAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// setupMiddleware installs the per-route middleware chain.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.Metrics(s.deps.Metrics, recorderOrNil(s.deps.Prometheus)))
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.Authentication(s.keys, s.logger))
	if s.limiter != nil {
		s.router.Use(middleware.RateLimit(s.limiter, s.logger))
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// wrapOuter adds the handlers that must see every request, matched or not.
func (s *Server) wrapOuter(next http.Handler) http.Handler {
	h := next
	if s.config.CORS.Enabled {
		h = handlers.CORS(
			handlers.AllowedOrigins(s.config.CORS.AllowedOrigins),
			handlers.AllowedMethods(s.config.CORS.AllowedMethods),
			handlers.AllowedHeaders(s.config.CORS.AllowedHeaders),
			handlers.ExposedHeaders([]string{middleware.RequestIDHeader}),
		)(h)
	}
	return handlers.ProxyHeaders(h)
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	d := s.deps
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// The event stream is long lived and carries no body, so it sits
	// outside the request timeout.
	if d.Events != nil {
		api.HandleFunc("/events", d.Events.ServeWS).Methods(http.MethodGet)
	}

	rest := api.NewRoute().Subrouter()
	rest.Use(middleware.ContentType())
	rest.Use(middleware.RequestTimeout(s.requestTimeout()))

	health := apihandlers.NewHealthHandler(d.Database, d.Manager, s.logger, d.Metrics)
	rest.HandleFunc("/liveness", health.Liveness).Methods(http.MethodGet)
	rest.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	rest.HandleFunc("/status", health.Status).Methods(http.MethodGet)
	rest.HandleFunc("/version", health.Version).Methods(http.MethodGet)

	cache := apihandlers.NewCacheHandler(d.Manager, d.ScoringRequired, s.logger, d.Metrics, s.config.MaxRequestSize)
	rest.HandleFunc("/interfaces", cache.ListInterfaces).Methods(http.MethodGet)
	rest.HandleFunc("/interfaces", cache.AddInterface).Methods(http.MethodPost)
	rest.HandleFunc("/interfaces/{iface}", cache.GetInterface).Methods(http.MethodGet)
	rest.HandleFunc("/interfaces/{iface}", cache.RemoveInterface).Methods(http.MethodDelete)
	rest.HandleFunc("/interfaces/{iface}/observations", cache.Ingest).Methods(http.MethodPost)
	rest.HandleFunc("/interfaces/{iface}/entries", cache.ListEntries).Methods(http.MethodGet)
	rest.HandleFunc("/interfaces/{iface}/candidates", cache.GetCandidates).Methods(http.MethodGet, http.MethodPost)
	rest.HandleFunc("/interfaces/{iface}/flush", cache.Flush).Methods(http.MethodPost)
	rest.HandleFunc("/interfaces/{iface}/prune", cache.PruneChannels).Methods(http.MethodPost)
	rest.HandleFunc("/scoring", cache.GetScoring).Methods(http.MethodGet)
	rest.HandleFunc("/scoring", cache.UpdateScoring).Methods(http.MethodPut)

	snapshots := apihandlers.NewSnapshotHandler(d.Snapshots, s.logger, d.Metrics)
	rest.HandleFunc("/snapshots", snapshots.ListSnapshots).Methods(http.MethodGet)
	rest.HandleFunc("/snapshots/{id}", snapshots.GetSnapshot).Methods(http.MethodGet)

	if d.Scheduler != nil {
		jobs := apihandlers.NewJobHandler(d.Scheduler, s.logger, d.Metrics)
		rest.HandleFunc("/jobs", jobs.ListJobs).Methods(http.MethodGet)
		rest.HandleFunc("/jobs/{id}", jobs.GetJob).Methods(http.MethodGet)
		rest.HandleFunc("/jobs/{id}/run", jobs.RunJob).Methods(http.MethodPost)
		rest.HandleFunc("/jobs/{id}/enable", jobs.EnableJob).Methods(http.MethodPost)
		rest.HandleFunc("/jobs/{id}/disable", jobs.DisableJob).Methods(http.MethodPost)
	}

	if d.Prometheus != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(d.Prometheus.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)
}

func (s *Server) requestTimeout() time.Duration {
	if s.config.WriteTimeout > 0 {
		return s.config.WriteTimeout
	}
	return defaultRequestTimeout
}

// index returns API information for root requests.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "scancache",
		"version": "v1",
		"endpoints": map[string]string{
			"liveness":   "/api/v1/liveness",
			"health":     "/api/v1/health",
			"status":     "/api/v1/status",
			"interfaces": "/api/v1/interfaces",
			"scoring":    "/api/v1/scoring",
			"events":     "/api/v1/events",
		},
		"timestamp": time.Now().UTC(),
	})
}

// recorderOrNil avoids handing the middleware a typed nil.
func recorderOrNil(pm *metrics.PrometheusMetrics) middleware.HTTPRecorder {
	if pm == nil {
		return nil
	}
	return pm
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":     http.StatusText(status),
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
