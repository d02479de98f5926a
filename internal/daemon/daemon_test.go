package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scancache/internal/config"
	"github.com/anstrom/scancache/internal/scheduler"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Daemon.PIDFile = filepath.Join(t.TempDir(), "scancache.pid")
	cfg.Daemon.ShutdownTimeout = 5 * time.Second
	cfg.Cache.Interfaces = []string{"wlan0", "wlan1"}
	cfg.API.Enabled = false
	cfg.Logging.Output = "stderr"
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	d, err := New(cfg, "")
	require.NoError(t, err)
	t.Cleanup(d.cancel)
	return d
}

func TestNewDaemon(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)

	assert.Same(t, cfg, d.config)
	assert.Equal(t, cfg.Daemon.PIDFile, d.pidFile)
	assert.NotNil(t, d.logger)
	assert.True(t, d.IsRunning())
	assert.Equal(t, os.Getpid(), d.GetPID())
}

func TestNewDaemon_BadLogOutput(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))
	cfg.Logging.Output = filepath.Join(blocker, "sub", "daemon.log")

	_, err := New(cfg, "")
	assert.Error(t, err)
}

func TestPIDFileHandling(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))

	require.NoError(t, d.createPIDFile())

	content, err := os.ReadFile(d.pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	d.cleanup()
	_, err = os.Stat(d.pidFile)
	assert.True(t, os.IsNotExist(err), "PID file was not removed")
}

func TestCheckExistingPID(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"garbage", "not-a-pid", false},
		{"stale", "2147483646", false},
		{"own pid", strconv.Itoa(os.Getpid()), false},
		{"running process", strconv.Itoa(os.Getppid()), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.wantErr && !isProcessRunning(os.Getppid()) {
				t.Skip("parent process is not signalable")
			}
			d := newTestDaemon(t, testConfig(t))
			require.NoError(t, os.WriteFile(d.pidFile, []byte(tt.content), DefaultFilePermissions))

			err := d.checkExistingPID()
			if tt.wantErr {
				assert.Error(t, err)
				assert.FileExists(t, d.pidFile)
				return
			}
			assert.NoError(t, err)
			assert.NoFileExists(t, d.pidFile)
		})
	}
}

func TestInitCaches(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.MaxEntries = 12
	cfg.Scoring.Weights.RSSI--
	d := newTestDaemon(t, cfg)

	require.NoError(t, d.initCaches())
	assert.ElementsMatch(t, []string{"wlan0", "wlan1"}, d.manager.Interfaces())
	assert.Equal(t, cfg.Scoring.Weights.RSSI, d.manager.ScoringConfig().Weights.RSSI)

	c, err := d.manager.Get("wlan1")
	require.NoError(t, err)
	assert.Equal(t, 12, c.MaxEntries())
	assert.Equal(t, cfg.Cache.AgingTime, c.AgingTime())
}

func TestInitMaintenance(t *testing.T) {
	t.Run("age out only without database", func(t *testing.T) {
		d := newTestDaemon(t, testConfig(t))
		require.NoError(t, d.initCaches())
		require.NoError(t, d.initMaintenance())
		t.Cleanup(func() { _ = d.pool.Shutdown() })

		jobs := d.scheduler.GetJobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, scheduler.JobTypeAgeOut, jobs[0].Type)
		assert.Equal(t, d.config.Maintenance.AgeOutSchedule, jobs[0].Schedule)
	})

	t.Run("empty schedule disables job", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Maintenance.AgeOutSchedule = ""
		d := newTestDaemon(t, cfg)
		require.NoError(t, d.initCaches())
		require.NoError(t, d.initMaintenance())
		t.Cleanup(func() { _ = d.pool.Shutdown() })

		assert.Empty(t, d.scheduler.GetJobs())
	})
}

func TestStartStop(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start() }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(cfg.Daemon.PIDFile)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, d.Stop())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}

	assert.False(t, d.IsRunning())
	assert.NoFileExists(t, cfg.Daemon.PIDFile)
	assert.ElementsMatch(t, []string{"wlan0", "wlan1"}, d.GetManager().Interfaces())
}

func TestStart_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance.WorkerPoolSize = 0
	d := newTestDaemon(t, cfg)

	assert.Error(t, d.Start())
	assert.NoFileExists(t, cfg.Daemon.PIDFile)
}

func TestApplyConfiguration(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	require.NoError(t, d.initCaches())

	next := testConfig(t)
	next.Cache.Interfaces = []string{"wlan0", "wlan2"}
	next.Scoring.Weights.RSSI -= 2
	d.applyConfiguration(next)

	assert.ElementsMatch(t, []string{"wlan0", "wlan1", "wlan2"}, d.manager.Interfaces())
	assert.Equal(t, next.Scoring.Weights.RSSI, d.manager.ScoringConfig().Weights.RSSI)
	assert.Same(t, next, d.GetConfig())
}

func TestReloadConfiguration(t *testing.T) {
	t.Run("no config file", func(t *testing.T) {
		d := newTestDaemon(t, testConfig(t))
		assert.Error(t, d.reloadConfiguration())
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scancache.yaml")
		onDisk := testConfig(t)
		onDisk.Cache.Interfaces = []string{"wlp3s0"}
		require.NoError(t, onDisk.Save(path))

		d, err := New(testConfig(t), path)
		require.NoError(t, err)
		t.Cleanup(d.cancel)
		require.NoError(t, d.initCaches())

		require.NoError(t, d.reloadConfiguration())
		assert.Contains(t, d.manager.Interfaces(), "wlp3s0")
	})

	t.Run("invalid file keeps running config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "scancache.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cache: [not a map"), 0o600))

		cfg := testConfig(t)
		d, err := New(cfg, path)
		require.NoError(t, err)
		t.Cleanup(d.cancel)

		assert.Error(t, d.reloadConfiguration())
		assert.Same(t, cfg, d.GetConfig())
	})
}

func TestToggleDebugMode(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	assert.False(t, d.IsDebugMode())

	d.toggleDebugMode()
	assert.True(t, d.IsDebugMode())

	d.toggleDebugMode()
	assert.False(t, d.IsDebugMode())
}

func TestHasAPIConfigChanged(t *testing.T) {
	base := config.Default()

	tests := []struct {
		name   string
		modify func(*config.Config)
		want   bool
	}{
		{"unchanged", func(*config.Config) {}, false},
		{"port", func(c *config.Config) { c.API.Port = 9090 }, true},
		{"address", func(c *config.Config) { c.API.ListenAddr = "0.0.0.0" }, true},
		{"disabled", func(c *config.Config) { c.API.Enabled = false }, true},
		{"timeouts only", func(c *config.Config) { c.API.ReadTimeout = time.Minute }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := config.Default()
			tt.modify(next)
			assert.Equal(t, tt.want, hasAPIConfigChanged(base, next))
		})
	}
}

func TestSignalHandling(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	d.setupSignalHandlers()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-d.GetContext().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("SIGTERM did not cancel the daemon context")
	}
}
