package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scancache/internal/config"
	"github.com/anstrom/scancache/internal/scancache"
)

const captureJSON = `[
  {"bssid": "02:00:00:00:00:02", "channel": 6, "frequency": 2437, "capability": 1, "rssi": -80, "ies": "00036c6162030106"},
  {"bssid": "02:00:00:00:00:03", "channel": 36, "frequency": 5180, "capability": 1, "rssi": -60, "ies": "00056775657374"},
  {"bssid": "02:00:00:00:00:01", "channel": 1, "frequency": 2412, "capability": 1, "rssi": -40, "ies": "00036c6162030101"}
]`

func mustBSSID(t *testing.T, s string) scancache.BSSID {
	t.Helper()
	b, err := scancache.ParseBSSID(s)
	require.NoError(t, err)
	return b
}

func TestReadObservations(t *testing.T) {
	dir := t.TempDir()

	t.Run("array", func(t *testing.T) {
		path := filepath.Join(dir, "array.json")
		require.NoError(t, os.WriteFile(path, []byte(captureJSON), 0o600))

		obs, err := readObservations(path, nil)
		require.NoError(t, err)
		require.Len(t, obs, 3)
		assert.Equal(t, "02:00:00:00:00:02", obs[0].BSSID.String())
		assert.Equal(t, -80, obs[0].RSSI)
	})

	t.Run("wrapped", func(t *testing.T) {
		path := filepath.Join(dir, "wrapped.json")
		body := `{"observations": ` + captureJSON + `}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		obs, err := readObservations(path, nil)
		require.NoError(t, err)
		assert.Len(t, obs, 3)
	})

	t.Run("stdin", func(t *testing.T) {
		obs, err := readObservations("-", strings.NewReader(captureJSON))
		require.NoError(t, err)
		assert.Len(t, obs, 3)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readObservations(filepath.Join(dir, "missing.json"), nil)
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := readObservations("-", strings.NewReader("not json"))
		assert.Error(t, err)
	})
}

func TestRankOffline(t *testing.T) {
	obs, err := readObservations("-", strings.NewReader(captureJSON))
	require.NoError(t, err)
	cfg := config.Default()

	t.Run("scored by ssid", func(t *testing.T) {
		f := scancache.Filter{SSIDs: []string{"lab"}}
		resp, rejected, err := rankOffline(cfg, "wlan0", obs, f, 0, false)
		require.NoError(t, err)
		assert.Empty(t, rejected)

		assert.Equal(t, "wlan0", resp.Interface)
		assert.True(t, resp.Scored)
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, "02:00:00:00:00:01", resp.Candidates[0].BSSID)
		assert.Equal(t, "02:00:00:00:00:02", resp.Candidates[1].BSSID)
		assert.GreaterOrEqual(t, resp.Candidates[0].Score, resp.Candidates[1].Score)
	})

	t.Run("limit", func(t *testing.T) {
		f := scancache.Filter{}
		resp, _, err := rankOffline(cfg, "wlan0", obs, f, 1, false)
		require.NoError(t, err)
		require.Equal(t, 1, resp.Count)
		assert.Len(t, resp.Candidates, 1)
	})

	t.Run("unscored channel filter", func(t *testing.T) {
		f := scancache.Filter{Channels: []uint8{36}, SkipScoring: true}
		resp, _, err := rankOffline(cfg, "wlan0", obs, f, 0, false)
		require.NoError(t, err)
		assert.False(t, resp.Scored)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "guest", resp.Candidates[0].SSID)
	})

	t.Run("rejections", func(t *testing.T) {
		bad := []scancache.Observation{
			{BSSID: mustBSSID(t, "02:00:00:00:00:0a"), RSSI: 10, IEs: "00036c6162"},
			{BSSID: mustBSSID(t, "02:00:00:00:00:0b"), RSSI: -50, IEs: "zz"},
			{RSSI: -50, IEs: "00036c6162"},
			obs[2],
		}
		resp, rejected, err := rankOffline(cfg, "wlan0", bad, scancache.Filter{}, 0, false)
		require.NoError(t, err)
		require.Len(t, rejected, 3)
		assert.Equal(t, 0, rejected[0].Index)
		assert.Equal(t, "02:00:00:00:00:0a", rejected[0].BSSID)
		assert.Equal(t, 1, rejected[1].Index)
		assert.Equal(t, 2, rejected[2].Index)
		assert.NotEmpty(t, rejected[2].Error)
		assert.Equal(t, 1, resp.Count)
	})

	t.Run("timestamps", func(t *testing.T) {
		old := obs[2]
		old.ObservedAt = time.Now().Add(-time.Hour)
		f := scancache.Filter{AgeThreshold: time.Minute}

		resp, _, err := rankOffline(cfg, "wlan0", []scancache.Observation{old}, f, 0, false)
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Count, "fresh by default")

		resp, _, err = rankOffline(cfg, "wlan0", []scancache.Observation{old}, f, 0, true)
		require.NoError(t, err)
		assert.Zero(t, resp.Count)
	})
}
