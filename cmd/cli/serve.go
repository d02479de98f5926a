package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anstrom/scancache/internal/config"
	"github.com/anstrom/scancache/internal/daemon"
)

var (
	servePIDFile string
	serveListen  string
	servePort    int
	serveNoAPI   bool
)

// serveCmd runs the cache daemon in the foreground.
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"daemon", "run"},
	Short:   "Run the scan cache daemon",
	Long: `Run the scan cache daemon in the foreground.

The daemon keeps one scan cache per configured interface, ages entries out
on the maintenance schedule and serves the REST API. SIGHUP reloads the
configuration file, SIGUSR1 logs a status dump and SIGUSR2 toggles debug
logging. Flag overrides apply at startup only; a reload uses the file.`,
	Example: `  scancache serve --config /etc/scancache/config.yaml
  scancache serve --listen 0.0.0.0 --port 9090
  scancache serve --no-api --pid-file /run/scancache.pid`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePIDFile, "pid-file", "", "write the daemon PID to this file")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "API listen address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "API port (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoAPI, "no-api", false, "disable the REST API")
}

func runServe(cmd *cobra.Command, _ []string) error {
	path := getConfigFilePath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	applyServeOverrides(cmd, cfg)

	// Only watch and reload a file that actually exists.
	watchPath := ""
	if _, err := os.Stat(path); err == nil {
		watchPath = path
	}

	d, err := daemon.New(cfg, watchPath)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	return d.Start()
}

func applyServeOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("pid-file") {
		cfg.Daemon.PIDFile = servePIDFile
	}
	if flags.Changed("listen") {
		cfg.API.ListenAddr = serveListen
	}
	if flags.Changed("port") {
		cfg.API.Port = servePort
	}
	if serveNoAPI {
		cfg.API.Enabled = false
	}
}
