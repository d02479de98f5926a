// Package cli provides command-line interface commands for scancache.
// This package implements the Cobra-based CLI structure with commands for
// running the daemon, querying candidates and managing cached entries.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/scancache/internal/config"
	"github.com/anstrom/scancache/internal/logging"
)

const envPrefix = "SCANCACHE"

// envKeyReplacer maps keys such as "api-key" and "api.port" onto
// SCANCACHE_API_KEY and SCANCACHE_API_PORT.
var envKeyReplacer = strings.NewReplacer(".", "_", "-", "_")

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scancache",
	Short: "WLAN scan result cache and candidate selection",
	Long: `scancache keeps per-interface caches of WLAN scan results, merges repeated
observations of the same BSS, ages out stale entries and ranks connection
candidates with a configurable scoring model.

Run 'scancache serve' to start the daemon, or use 'scancache candidates'
to rank a capture file offline.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("server", "", "base URL of a running daemon (e.g. http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().String("api-key", "", "API key for the daemon (prefer SCANCACHE_API_KEY)")

	for _, name := range []string{"verbose", "server", "api-key"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	setConfigDefaults()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}

	initLogging()
}

// setConfigDefaults mirrors the config package defaults for the keys the
// CLI reads through viper.
func setConfigDefaults() {
	def := config.Default()

	viper.SetDefault("api.listen_addr", def.API.ListenAddr)
	viper.SetDefault("api.port", def.API.Port)
	viper.SetDefault("api.tls.enabled", def.API.TLS.Enabled)

	viper.SetDefault("cache.max_entries", def.Cache.MaxEntries)
	viper.SetDefault("cache.aging_time", def.Cache.AgingTime)

	viper.SetDefault("logging.level", string(def.Logging.Level))
	viper.SetDefault("logging.format", string(def.Logging.Format))
	viper.SetDefault("logging.output", def.Logging.Output)
}

// getConfigFilePath returns the configuration file in use, or the default
// location when none was found.
func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return "config.yaml"
}

// loadConfig loads the full configuration file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration. CLI
// commands log to stderr so that tables and JSON on stdout stay clean.
func initLogging() {
	logConfig := logging.Config{
		Level:  logging.LogLevel(viper.GetString("logging.level")),
		Format: logging.LogFormat(viper.GetString("logging.format")),
		Output: "stderr",
	}
	if verbose {
		logConfig.Level = logging.LevelDebug
		logConfig.AddSource = true
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}
