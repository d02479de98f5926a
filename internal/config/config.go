// Package config loads and validates the scancache daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/scancache/internal/db"
	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/scancache"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600
)

// Config represents the complete daemon configuration
type Config struct {
	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Scan cache configuration
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Candidate scoring configuration shared by every interface
	Scoring scancache.ScoringConfig `yaml:"scoring" json:"scoring"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Telemetry database configuration. Leave database empty to disable.
	Database db.Config `yaml:"database" json:"database"`

	// Periodic maintenance configuration
	Maintenance MaintenanceConfig `yaml:"maintenance" json:"maintenance"`

	// Logging configuration
	Logging logging.Config `yaml:"logging" json:"logging"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	// PID file location
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
}

// CacheConfig holds scan cache settings
type CacheConfig struct {
	// Interfaces created at startup. Linux limits names to 15 bytes.
	Interfaces []string `yaml:"interfaces" json:"interfaces" validate:"unique,dive,required,max=15"`

	// Maximum entries per interface cache
	MaxEntries int `yaml:"max_entries" json:"max_entries" validate:"gte=1,lte=10000"`

	// Entries older than this are aged out
	AgingTime time.Duration `yaml:"aging_time" json:"aging_time" validate:"gt=0"`

	// Default for candidate requests that do not say whether to score
	ScoringRequired bool `yaml:"scoring_required" json:"scoring_required"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"gte=0,lte=65535"`

	// Enable TLS
	TLS TLSConfig `yaml:"tls" json:"tls"`

	// Hashed API keys. Authentication is disabled when empty.
	APIKeys []APIKeyConfig `yaml:"api_keys" json:"api_keys" validate:"dive"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	// Rate limiting
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Timeouts
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout" validate:"gte=0"`

	// Maximum request size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size" validate:"gte=0"`

	// Buffered cache events per websocket client
	EventBuffer int `yaml:"event_buffer" json:"event_buffer" validate:"gte=0"`
}

// APIKeyConfig is one accepted API key, stored as a bcrypt hash.
type APIKeyConfig struct {
	Name     string `yaml:"name" json:"name" validate:"required,max=255"`
	Hash     string `yaml:"hash" json:"hash" validate:"required,startswith=$2"`
	ReadOnly bool   `yaml:"read_only" json:"read_only"`
}

// TLSConfig holds TLS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	CertFile string `yaml:"cert_file" json:"cert_file" validate:"required_if=Enabled true"`
	KeyFile  string `yaml:"key_file" json:"key_file" validate:"required_if=Enabled true"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// RateLimitConfig holds per-client token bucket settings
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" json:"burst" validate:"gte=0"`
}

// MaintenanceConfig holds the periodic job settings. Schedules use cron
// syntax including descriptors such as "@every 10s". An empty schedule
// disables the job.
type MaintenanceConfig struct {
	WorkerPoolSize int `yaml:"worker_pool_size" json:"worker_pool_size" validate:"gte=1,lte=64"`

	AgeOutSchedule   string `yaml:"age_out_schedule" json:"age_out_schedule"`
	SnapshotSchedule string `yaml:"snapshot_schedule" json:"snapshot_schedule"`
	PruneSchedule    string `yaml:"prune_schedule" json:"prune_schedule"`

	// Snapshots older than this are removed by the prune job
	SnapshotRetention time.Duration `yaml:"snapshot_retention" json:"snapshot_retention" validate:"gte=0"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:         "",
			ShutdownTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Interfaces:      []string{"wlan0"},
			MaxEntries:      scancache.DefaultMaxEntries,
			AgingTime:       scancache.DefaultAgingTime,
			ScoringRequired: true,
		},
		Scoring: scancache.DefaultScoringConfig(),
		API: APIConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1",
			Port:       8080,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 50,
				Burst:             100,
			},
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxRequestSize: 1024 * 1024, // 1MB
			EventBuffer:    64,
		},
		Database: db.DefaultConfig(),
		Maintenance: MaintenanceConfig{
			WorkerPoolSize:    2,
			AgeOutSchedule:    "@every 5s",
			SnapshotSchedule:  "@every 5m",
			PruneSchedule:     "@hourly",
			SnapshotRetention: 7 * 24 * time.Hour,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder serves both.
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse %s config", formatName(path)), err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func formatName(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "JSON"
	default:
		return "YAML"
	}
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return validationError(err)
	}

	for _, iface := range c.Cache.Interfaces {
		if strings.ContainsAny(iface, "/ \t") {
			return errors.ErrConfigInvalid("cache.interfaces", iface)
		}
	}

	if c.Scoring.Weights.Sum() > scancache.BestCandidateMaxWeight {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("scoring weights sum to %d, maximum is %d",
				c.Scoring.Weights.Sum(), scancache.BestCandidateMaxWeight),
			"scoring.weights", c.Scoring.Weights.Sum())
	}

	if c.API.Enabled {
		if c.API.Port == 0 {
			return errors.ErrConfigMissing("api.port")
		}
		if c.API.ListenAddr == "" {
			return errors.ErrConfigMissing("api.listen_addr")
		}
	}

	schedules := map[string]string{
		"maintenance.age_out_schedule":  c.Maintenance.AgeOutSchedule,
		"maintenance.snapshot_schedule": c.Maintenance.SnapshotSchedule,
		"maintenance.prune_schedule":    c.Maintenance.PruneSchedule,
	}
	for field, spec := range schedules {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("invalid cron schedule: %v", err), field, spec)
		}
	}

	switch c.Logging.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case logging.FormatText, logging.FormatJSON:
	default:
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

// validationError reports the first failing field of a validator error.
func validationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return errors.WrapConfigError(errors.CodeValidation, "invalid configuration", err)
	}
	fe := verrs[0]
	return errors.NewConfigFieldError(errors.CodeValidation,
		fmt.Sprintf("failed on the '%s' rule", fe.Tag()), fe.Namespace(), fe.Value())
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}

// IsAPIEnabled returns true if API server is enabled
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}

// CacheOptions returns the scancache options derived from the cache section.
func (c *Config) CacheOptions() scancache.Options {
	return scancache.Options{
		MaxEntries: c.Cache.MaxEntries,
		AgingTime:  c.Cache.AgingTime,
	}
}
