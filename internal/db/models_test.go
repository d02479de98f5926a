package db

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scancache/internal/ieee80211"
	"github.com/anstrom/scancache/internal/metrics"
	"github.com/anstrom/scancache/internal/scancache"
)

func TestNewSnapshot(t *testing.T) {
	cache := scancache.NewContext("wlan0", scancache.Options{Metrics: metrics.NewRegistry()})

	open := &scancache.Entry{
		BSSID:      scancache.BSSID{0x02, 0x11, 0x22, 0x33, 0x44, 0x01},
		SSID:       "cafe",
		Channel:    6,
		Capability: scancache.CapESS,
		RSSIRaw:    -61,
		IEs:        ieee80211.ElementSet{DSParams: []byte{6}},
		MLMEInfo:   scancache.MLMEInfo{Rank: 4},
	}
	require.NoError(t, cache.Ingest(open))

	now := time.Now().Add(2 * time.Second)
	snap, entries, err := NewSnapshot(cache, now)
	require.NoError(t, err)

	assert.Equal(t, "wlan0", snap.Interface)
	assert.Equal(t, 1, snap.NumEntries)
	assert.Equal(t, scancache.DefaultMaxEntries, snap.MaxEntries)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, snap.ID, e.SnapshotID)
	assert.Equal(t, "02:11:22:33:44:01", e.BSSID.String())
	assert.Equal(t, "cafe", e.SSID)
	assert.Equal(t, 6, e.Channel)
	assert.Equal(t, -61, e.RSSI)
	assert.Equal(t, -61, e.AvgRSSI)
	assert.Equal(t, []string{"open"}, []string(e.Security))
	assert.GreaterOrEqual(t, e.AgeMillis, int64(1000))

	var mlme scancache.MLMEInfo
	require.NoError(t, json.Unmarshal(e.MLMEInfo, &mlme))
	assert.Equal(t, uint32(4), mlme.Rank)
}

func TestNewSnapshotEmptyCache(t *testing.T) {
	cache := scancache.NewContext("wlan1", scancache.Options{Metrics: metrics.NewRegistry()})

	snap, entries, err := NewSnapshot(cache, time.Now())
	require.NoError(t, err)
	assert.Zero(t, snap.NumEntries)
	assert.Empty(t, entries)
}

func TestMigratorUp(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, name, applied_at, checksum FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cache_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").
		WithArgs("001_initial_schema", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, NewMigrator(db.DB).Up(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorStatus(t *testing.T) {
	db, mock := newMockDB(t)
	applied := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, name, applied_at, checksum FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_initial_schema", applied, "abc"))

	status, err := NewMigrator(db.DB).Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, "001_initial_schema", status[0].Name)
	assert.True(t, status[0].Applied)
	assert.Equal(t, applied, status[0].AppliedAt)
}
