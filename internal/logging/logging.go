// Package logging provides structured logging functionality using Go's slog package.
// It supports both text and JSON output formats, configurable log levels,
// and per-interface, per-access-point logging for the scan cache.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// File permissions for directories and log files.
	logDirPerm  = 0750
	logFilePerm = 0600
)

// LogLevel represents the available log levels.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the available log formats.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// Config holds logging configuration.
type Config struct {
	Level     LogLevel  `yaml:"level" json:"level"`
	Format    LogFormat `yaml:"format" json:"format"`
	Output    string    `yaml:"output" json:"output"`
	AddSource bool      `yaml:"add_source" json:"add_source"`
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:     LevelInfo,
		Format:    FormatText,
		Output:    "stdout",
		AddSource: false,
	}
}

// Logger wraps slog.Logger with additional functionality.
type Logger struct {
	*slog.Logger
	config Config
}

// New creates a new structured logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	// Parse log level
	var level slog.Level
	switch strings.ToLower(string(cfg.Level)) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Determine output writer
	var writer io.Writer
	switch cfg.Output {
	case "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		// Assume it's a file path
		if err := os.MkdirAll(filepath.Dir(cfg.Output), logDirPerm); err != nil {
			return nil, err
		}
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePerm)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	// Create handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
	}, nil
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	logger, _ := New(DefaultConfig())
	return logger
}

type ctxKey struct{}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestIDFromContext returns the request ID stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// WithContext adds request-scoped fields found in ctx to the logger.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := RequestIDFromContext(ctx); id != "" {
		return l.WithFields("request_id", id)
	}
	return &Logger{
		Logger: l.With(),
		config: l.config,
	}
}

// WithFields adds structured fields to the logger.
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.With(fields...),
		config: l.config,
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithInterface adds the wireless interface name to the logger.
func (l *Logger) WithInterface(iface string) *Logger {
	return l.WithFields("interface", iface)
}

// WithBSSID adds an access point BSSID field to the logger.
func (l *Logger) WithBSSID(bssid string) *Logger {
	return l.WithFields("bssid", bssid)
}

// WithError adds an error field to the logger.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields("error", err)
}

// InfoCache logs scan cache information for an interface.
func (l *Logger) InfoCache(msg, iface string, fields ...any) {
	allFields := append([]any{"interface", iface}, fields...)
	l.Info(msg, allFields...)
}

// DebugCache logs scan cache details for an interface.
func (l *Logger) DebugCache(msg, iface string, fields ...any) {
	allFields := append([]any{"interface", iface}, fields...)
	l.Debug(msg, allFields...)
}

// ErrorCache logs scan cache errors for an interface.
func (l *Logger) ErrorCache(msg, iface string, err error, fields ...any) {
	allFields := append([]any{"interface", iface, "error", err}, fields...)
	l.Error(msg, allFields...)
}

// InfoAPI logs API-related information.
func (l *Logger) InfoAPI(msg string, fields ...any) {
	allFields := append([]any{"component", "api"}, fields...)
	l.Info(msg, allFields...)
}

// ErrorAPI logs API-related errors.
func (l *Logger) ErrorAPI(msg string, err error, fields ...any) {
	allFields := append([]any{"component", "api", "error", err}, fields...)
	l.Error(msg, allFields...)
}

// InfoDatabase logs database-related information.
func (l *Logger) InfoDatabase(msg string, fields ...any) {
	allFields := append([]any{"component", "database"}, fields...)
	l.Info(msg, allFields...)
}

// ErrorDatabase logs database-related errors.
func (l *Logger) ErrorDatabase(msg string, err error, fields ...any) {
	allFields := append([]any{"component", "database", "error", err}, fields...)
	l.Error(msg, allFields...)
}

// Global logger instance - can be replaced for testing.
var defaultLogger = NewDefault()

// SetDefault sets the default logger instance.
func SetDefault(logger *Logger) {
	defaultLogger = logger
}

// Default returns the default logger instance.
func Default() *Logger {
	return defaultLogger
}

// Debug logs at debug level using the default logger.
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Info logs at info level using the default logger.
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Warn logs at warn level using the default logger.
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs at error level using the default logger.
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}

// InfoCache logs scan cache information using the default logger.
func InfoCache(msg, iface string, fields ...any) {
	defaultLogger.InfoCache(msg, iface, fields...)
}

// DebugCache logs scan cache details using the default logger.
func DebugCache(msg, iface string, fields ...any) {
	defaultLogger.DebugCache(msg, iface, fields...)
}

// ErrorCache logs scan cache errors using the default logger.
func ErrorCache(msg, iface string, err error, fields ...any) {
	defaultLogger.ErrorCache(msg, iface, err, fields...)
}

// InfoDatabase logs database-related information using the default logger.
func InfoDatabase(msg string, fields ...any) {
	defaultLogger.InfoDatabase(msg, fields...)
}

// ErrorDatabase logs database-related errors using the default logger.
func ErrorDatabase(msg string, err error, fields ...any) {
	defaultLogger.ErrorDatabase(msg, err, fields...)
}
