package scancache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scancache/internal/metrics"
)

func TestAgeOut(t *testing.T) {
	registry := metrics.NewRegistry()
	c, clock := newTestContext(t, Options{AgingTime: 30 * time.Second, Metrics: registry})

	require.NoError(t, c.Ingest(apEntry(bssid(1), "old", 1, -50)))
	clock.Advance(20 * time.Second)
	require.NoError(t, c.Ingest(apEntry(bssid(2), "new", 1, -50)))
	clock.Advance(10 * time.Second)

	assert.Equal(t, 1, c.AgeOut())
	assert.Equal(t, "new", onlyEntry(t, c).SSID)
	assert.Equal(t, 0, c.AgeOut())

	// Every entry observed longer ago than the aging time is gone after a
	// candidate query.
	clock.Advance(time.Minute)
	list, err := c.GetCandidates(&Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, c.NumEntries())

	found := false
	for _, m := range registry.GetMetrics() {
		if m.Name == metrics.MetricCacheAgedOut {
			found = true
		}
	}
	assert.True(t, found, "aged out counter recorded")
}

func TestFlush(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	require.NoError(t, c.Ingest(apEntry(bssid(1), "keep", 1, -50)))
	require.NoError(t, c.Ingest(apEntry(bssid(2), "drop", 6, -50)))
	require.NoError(t, c.Ingest(apEntry(bssid(3), "drop", 11, -50)))

	assert.Equal(t, 2, c.Flush(&Filter{SSIDs: []string{"drop"}}))
	assert.Equal(t, "keep", onlyEntry(t, c).SSID)

	assert.Equal(t, 1, c.Flush(nil))
	assert.Equal(t, 0, c.NumEntries())
}

func TestPruneChannels(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	a := apEntry(bssid(1), "a", 36, -50)
	a.Frequency = 5180
	b := apEntry(bssid(2), "b", 144, -50)
	b.Frequency = 5720
	require.NoError(t, c.Ingest(a))
	require.NoError(t, c.Ingest(b))

	n := c.PruneChannels(func(freq uint32) bool { return freq < 5500 })
	assert.Equal(t, 1, n)
	assert.Equal(t, "a", onlyEntry(t, c).SSID)
}

func TestIterateStopsOnError(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	for i := byte(0); i < 5; i++ {
		require.NoError(t, c.Ingest(apEntry(bssid(i), "net", 1, -50)))
	}

	stop := errors.New("stop")
	calls := 0
	err := c.Iterate(func(*Entry) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)

	// References taken by the aborted walk are released.
	assert.Equal(t, 5, c.Flush(nil))
	assert.Equal(t, 0, c.NumEntries())
}

func TestEventsEmitted(t *testing.T) {
	var events []Event
	c, clock := newTestContext(t, Options{
		AgingTime: time.Second,
		Events:    func(e Event) { events = append(events, e) },
	})

	require.NoError(t, c.Ingest(apEntry(bssid(1), "net", 1, -50)))
	require.NoError(t, c.Ingest(apEntry(bssid(1), "net", 1, -50)))
	clock.Advance(2 * time.Second)
	c.AgeOut()

	require.Len(t, events, 3)
	assert.Equal(t, EventInserted, events[0].Type)
	assert.Equal(t, EventMerged, events[1].Type)
	assert.Equal(t, EventAgedOut, events[2].Type)
	assert.Equal(t, "wlan0", events[2].Interface)
	assert.Equal(t, bssid(1), events[2].BSSID)
}
