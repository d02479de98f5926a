// Package handlers provides HTTP request handlers for the scancache API.
// This file contains utilities shared across all handlers.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/metrics"
)

// DefaultMaxRequestSize bounds request bodies when the server does not set
// a limit.
const DefaultMaxRequestSize = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// BaseHandler provides common functionality for all handlers.
type BaseHandler struct {
	logger         *slog.Logger
	metrics        metrics.MetricsRegistry
	maxRequestSize int64
}

// NewBaseHandler creates a new base handler.
func NewBaseHandler(logger *slog.Logger, metricsRegistry metrics.MetricsRegistry, maxRequestSize int64) BaseHandler {
	if logger == nil {
		logger = logging.Default().Logger
	}
	if metricsRegistry == nil {
		metricsRegistry = metrics.Default()
	}
	if maxRequestSize <= 0 {
		maxRequestSize = DefaultMaxRequestSize
	}
	return BaseHandler{logger: logger, metrics: metricsRegistry, maxRequestSize: maxRequestSize}
}

// parseJSON decodes the request body into dest and validates it.
func (h *BaseHandler) parseJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errors.NewCacheError(errors.CodeValidation, "request body is empty")
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.NewCacheError(errors.CodeValidation,
				fmt.Sprintf("request body too large (max %d bytes)", tooLarge.Limit))
		}
		return errors.WrapCacheError(errors.CodeValidation, "invalid JSON", err)
	}
	return validateStruct(dest)
}

// validateStruct runs the validate tags of v and reports the first failure.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errors.NewCacheError(errors.CodeValidation,
			fmt.Sprintf("field %s failed %q validation", fe.Namespace(), fe.Tag())).
			WithContext("field", fe.Field())
	}
	return errors.WrapCacheError(errors.CodeValidation, "validation failed", err)
}

// statusForError maps an error code onto an HTTP status.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeValidation, errors.CodeInvalidObservation, errors.CodeMalformedIE:
		return http.StatusBadRequest
	case errors.CodeNotFound, errors.CodeInterfaceUnknown:
		return http.StatusNotFound
	case errors.CodeConflict, errors.CodeInterfaceExists:
		return http.StatusConflict
	case errors.CodeUnauthorized:
		return http.StatusUnauthorized
	case errors.CodeRateLimited:
		return http.StatusTooManyRequests
	case errors.CodeTimeout, errors.CodeDatabaseTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeServiceUnavailable, errors.CodeOutOfMemory, errors.CodeDatabaseConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes the response for err. Server side failures are logged.
func (h *BaseHandler) handleError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Failed to "+operation,
			"request_id", requestID(r),
			"error", err)
	}
	writeError(w, r, status, err)
}

// requestID extracts the request ID from the request context.
func requestID(r *http.Request) string {
	if id := logging.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return "unknown"
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// headers are gone, nothing left to report to the client
		slog.Error("Failed to encode JSON response",
			"request_id", requestID(r),
			"error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	response := ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   errorMessage(err),
		Timestamp: time.Now().UTC(),
		RequestID: requestID(r),
	}
	if code := errors.GetCode(err); code != errors.CodeUnknown {
		response.Code = string(code)
	}
	writeJSON(w, r, statusCode, response)
}

// errorMessage returns the message of a coded error without its code prefix.
func errorMessage(err error) string {
	var cacheErr *errors.CacheError
	if stderrors.As(err, &cacheErr) {
		if cacheErr.Cause != nil && cacheErr.Code == errors.CodeValidation {
			return cacheErr.Message + ": " + cacheErr.Cause.Error()
		}
		return cacheErr.Message
	}
	var dbErr *errors.DatabaseError
	if stderrors.As(err, &dbErr) {
		return dbErr.Message
	}
	var cfgErr *errors.ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Message
	}
	return err.Error()
}

// pathInterface returns the {iface} route variable.
func pathInterface(r *http.Request) string {
	return mux.Vars(r)["iface"]
}

// extractUUIDFromPath extracts UUID from URL path parameter.
func extractUUIDFromPath(r *http.Request) (uuid.UUID, error) {
	idStr, exists := mux.Vars(r)["id"]
	if !exists {
		return uuid.Nil, errors.NewCacheError(errors.CodeValidation, "id not provided")
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, errors.NewCacheError(errors.CodeValidation, fmt.Sprintf("invalid id: %s", idStr))
	}
	return id, nil
}

// getQueryParamInt extracts an integer query parameter within [minValue, maxValue].
func getQueryParamInt(r *http.Request, key string, defaultValue, minValue, maxValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < minValue || n > maxValue {
		return 0, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("%s must be an integer between %d and %d", key, minValue, maxValue), key, value)
	}
	return n, nil
}

// recordMetric increments a handler counter.
func (h *BaseHandler) recordMetric(name string, labels metrics.Labels) {
	if h.metrics != nil {
		h.metrics.Counter(name, labels)
	}
}
