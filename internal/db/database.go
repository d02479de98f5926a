// Package db provides the PostgreSQL telemetry store for scancache. It keeps
// periodic snapshots of every interface cache so that cache behaviour can be
// inspected after the fact.
package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/metrics"
)

// sanitizeDBError converts raw database errors into errors that do not expose
// SQL details or credentials. The original error is kept as the cause and
// the query only for server side logging.
func sanitizeDBError(operation, query string, err error) error {
	if err == nil {
		return nil
	}

	if err == sql.ErrNoRows {
		return errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
	}

	if pqErr, ok := err.(*pq.Error); ok {
		var dbErr *errors.DatabaseError
		switch pqErr.Code {
		case "23505": // unique_violation
			dbErr = errors.NewDatabaseError(errors.CodeConflict, "Resource already exists")
		case "23503": // foreign_key_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Referenced resource does not exist")
		case "23502": // not_null_violation
			dbErr = errors.NewDatabaseError(errors.CodeValidation, "Required field is missing")
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
		case "08000", "08003", "08006":
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error")
		default:
			dbErr = errors.ErrDatabaseQuery(query, err)
		}
		dbErr.Operation = operation
		dbErr.Cause = err
		return dbErr
	}

	dbErr := errors.ErrDatabaseQuery(query, err)
	dbErr.Operation = operation
	return dbErr
}

const (
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// DB wraps sqlx.DB.
type DB struct {
	*sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port" validate:"omitempty,min=1,max=65535"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode" validate:"omitempty,oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration. The telemetry
// store is disabled until a database name is configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// Enabled reports whether enough settings are present to connect.
func (c *Config) Enabled() bool {
	return c.Database != "" && c.Username != ""
}

// DSN builds a lib/pq key=value connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
	)
}

// Connect establishes a connection to PostgreSQL. Errors never carry the DSN.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", config.DSN())
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Warn("Failed to close database connection after ping failure")
		}
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to verify database connection", err)
	}

	logging.InfoDatabase("Connected to telemetry database",
		"host", config.Host, "port", config.Port, "database", config.Database)
	return &DB{DB: db}, nil
}

// QueryRecorder receives the outcome of every repository query.
// *metrics.PrometheusMetrics implements it.
type QueryRecorder interface {
	RecordDatabaseQuery(operation string, duration time.Duration, success bool)
}

func observe(rec QueryRecorder, operation string, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil && !errors.IsCode(err, errors.CodeNotFound) {
		fields := []any{"operation", operation, "duration", elapsed}
		var dbErr *errors.DatabaseError
		if stderrors.As(err, &dbErr) && dbErr.Query != "" {
			fields = append(fields, "query", strings.Join(strings.Fields(dbErr.Query), " "))
		}
		logging.ErrorDatabase("Database query failed", err, fields...)
	}
	metrics.RecordDatabaseQuery(operation, elapsed, err == nil)
	if rec != nil {
		rec.RecordDatabaseQuery(operation, elapsed, err == nil)
	}
}
