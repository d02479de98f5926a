// Package middleware provides HTTP middleware functions for the scancache API server.
// This package implements request IDs, logging, metrics, authentication, rate limiting
// and other cross-cutting concerns for API requests.
package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/anstrom/scancache/internal/auth"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/metrics"
)

// ContextKey represents a context key type.
type ContextKey string

const (
	// APIKeyNameKey is the context key for the authenticated key name.
	APIKeyNameKey ContextKey = "api_key_name"

	// RequestIDHeader carries the request ID in both directions.
	RequestIDHeader = "X-Request-ID"

	// httpErrorThreshold is the status code threshold for HTTP errors.
	httpErrorThreshold = 400
)

// publicPaths never require authentication.
var publicPaths = map[string]bool{
	"/api/v1/health":   true,
	"/api/v1/liveness": true,
	"/api/v1/version":  true,
}

// HTTPRecorder records finished HTTP requests. *metrics.PrometheusMetrics
// implements it.
type HTTPRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
}

// RequestID assigns every request an ID. A well-formed UUID supplied by the
// client in X-Request-ID is kept.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), requestID)))
		})
	}
}

// Logging creates a logging middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			logger.Debug("HTTP request started",
				"request_id", GetRequestID(r),
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", getClientIP(r),
				"user_agent", r.UserAgent(),
				"content_length", r.ContentLength)

			next.ServeHTTP(wrapped, r)

			level := slog.LevelInfo
			if wrapped.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "HTTP request completed",
				"request_id", GetRequestID(r),
				"method", r.Method,
				"path", r.URL.Path,
				"status_code", wrapped.statusCode,
				"response_size", wrapped.size,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", getClientIP(r))
		})
	}
}

// Metrics creates a metrics middleware that collects HTTP request metrics.
// Requests are labeled by route template so path parameters do not create
// new series. Either sink may be nil.
func Metrics(registry metrics.MetricsRegistry, recorder HTTPRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrap(w)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			path := routePath(r)
			status := strconv.Itoa(wrapped.statusCode)

			if recorder != nil {
				recorder.RecordHTTPRequest(r.Method, path, status, duration)
			}
			if registry == nil {
				return
			}
			labels := metrics.Labels{
				"method": r.Method,
				"path":   path,
				"status": status,
			}
			registry.Counter("http_requests_total", labels)
			registry.Histogram("http_request_duration_seconds", duration.Seconds(), labels)
			registry.Histogram("http_response_size_bytes", float64(wrapped.size), labels)
			if wrapped.statusCode >= httpErrorThreshold {
				registry.Counter("http_errors_total", labels)
			}
		})
	}
}

// Recovery creates a recovery middleware that catches panics.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("HTTP request panic recovered",
						"request_id", GetRequestID(r),
						"method", r.Method,
						"path", r.URL.Path,
						"panic", err,
						"stack", string(debug.Stack()),
						"remote_addr", getClientIP(r))

					writeError(w, r, http.StatusInternalServerError, "Internal server error", "")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Authentication checks the API key presented in X-API-Key or as a bearer
// token. Read-only keys may only use safe methods. With an empty key ring
// every request passes.
func Authentication(ring *auth.KeyRing, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if ring.Len() == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					apiKey = strings.TrimSpace(bearer)
				}
			}

			if apiKey == "" {
				logger.Warn("API request without authentication",
					"request_id", GetRequestID(r),
					"path", r.URL.Path,
					"remote_addr", getClientIP(r))
				writeError(w, r, http.StatusUnauthorized, "Authentication required",
					"Provide API key in X-API-Key header or Authorization: Bearer <key>")
				return
			}

			key, ok := ring.Authenticate(apiKey)
			if !ok {
				logger.Warn("API request with invalid key",
					"request_id", GetRequestID(r),
					"path", r.URL.Path,
					"key_prefix", auth.CreateDisplayPrefix(apiKey),
					"remote_addr", getClientIP(r))
				writeError(w, r, http.StatusUnauthorized, "Authentication failed: Invalid API key", "")
				return
			}

			if key.ReadOnly && !isSafeMethod(r.Method) {
				logger.Warn("Read-only API key used for write request",
					"request_id", GetRequestID(r),
					"key_name", key.Name,
					"method", r.Method,
					"path", r.URL.Path)
				writeError(w, r, http.StatusForbidden, "Forbidden",
					fmt.Sprintf("API key %q is read-only", key.Name))
				return
			}

			logger.Debug("API request authenticated",
				"request_id", GetRequestID(r),
				"key_name", key.Name,
				"path", r.URL.Path)

			ctx := context.WithValue(r.Context(), APIKeyNameKey, key.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimiter keeps one token bucket per client.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// client with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether a request from client may proceed now.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	c, ok := rl.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = c
	}
	c.lastSeen = time.Now()
	rl.mu.Unlock()

	return c.limiter.Allow()
}

// Cleanup forgets clients idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for client, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, client)
		}
	}
}

// Run calls Cleanup every interval until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup(interval)
		}
	}
}

// RateLimit creates a rate limiting middleware.
func RateLimit(rl *RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	limitHeader := strconv.FormatFloat(float64(rl.limit), 'f', -1, 64)
	retryAfter := "1"
	if rl.limit > 0 && rl.limit < 1 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / float64(rl.limit))))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Limit", limitHeader)
			w.Header().Set("X-RateLimit-Burst", strconv.Itoa(rl.burst))

			clientIP := getClientIP(r)
			if !rl.Allow(clientIP) {
				logger.Warn("Rate limit exceeded",
					"request_id", GetRequestID(r),
					"client_ip", clientIP,
					"path", r.URL.Path)

				w.Header().Set("Retry-After", retryAfter)
				writeError(w, r, http.StatusTooManyRequests, "Rate limit exceeded",
					fmt.Sprintf("Maximum %s requests per second", limitHeader))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ContentType rejects request bodies that are not JSON.
func ContentType() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
				contentType := r.Header.Get("Content-Type")
				if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
					writeError(w, r, http.StatusUnsupportedMediaType, "Unsupported media type",
						"Content-Type must be application/json")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequestTimeout creates a request timeout middleware.
func RequestTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SecurityHeaders adds common security headers.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'self'")

			next.ServeHTTP(w, r)
		})
	}
}

// GetRequestID extracts the request ID from context.
func GetRequestID(r *http.Request) string {
	if requestID := logging.RequestIDFromContext(r.Context()); requestID != "" {
		return requestID
	}
	return "unknown"
}

// GetAPIKeyName returns the name of the key that authenticated r.
func GetAPIKeyName(r *http.Request) string {
	name, _ := r.Context().Value(APIKeyNameKey).(string)
	return name
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// routePath returns the matched route template, or the raw path when the
// request did not match a route.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// getClientIP returns the client address. Proxy headers are resolved into
// RemoteAddr by handlers.ProxyHeaders in front of this chain.
func getClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// errorBody mirrors handlers.ErrorResponse.
type errorBody struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:     msg,
		Message:   detail,
		Timestamp: time.Now().UTC(),
		RequestID: GetRequestID(r),
	})
}
