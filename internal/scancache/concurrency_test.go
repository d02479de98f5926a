package scancache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveBSSIDs(t *testing.T, c *Context) []BSSID {
	t.Helper()
	var out []BSSID
	require.NoError(t, c.Iterate(func(e *Entry) error {
		out = append(out, e.BSSID)
		return nil
	}))
	return out
}

func TestConcurrentIngestRespectsCapacity(t *testing.T) {
	const maxEntries = 8
	c, clock := newTestContext(t, Options{MaxEntries: maxEntries, AgingTime: time.Hour})

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 16; i++ {
				b := BSSID{0x02, 0, 0, 0, byte(g), byte(i)}
				assert.NoError(t, c.Ingest(apEntry(b, "net", 6, -50)))
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.NumEntries(), maxEntries)

	// The table never stays above capacity once the burst is over.
	for i := 0; i < 20; i++ {
		clock.Advance(time.Second)
		require.NoError(t, c.Ingest(apEntry(BSSID{0x02, 0xff, 0, 0, 0, byte(i)}, "net", 6, -50)))
		assert.LessOrEqual(t, c.NumEntries(), maxEntries)
	}
	assert.Equal(t, maxEntries, c.NumEntries())
	assert.Len(t, liveBSSIDs(t, c), maxEntries)
}

func TestConcurrentIngestQueryAgeOut(t *testing.T) {
	const maxEntries = 16
	c, clock := newTestContext(t, Options{MaxEntries: maxEntries, AgingTime: time.Minute})

	var writers, readers sync.WaitGroup
	stop := make(chan struct{})

	// Writers share the BSSID set so most ingests merge.
	for g := 0; g < 8; g++ {
		writers.Add(1)
		go func(g int) {
			defer writers.Done()
			for i := 0; i < 200; i++ {
				last := byte((g*7 + i) % 24)
				assert.NoError(t, c.Ingest(apEntry(bssid(last), "net", 6, -40-int(last))))
				if i%50 == 0 {
					clock.Advance(10 * time.Second)
				}
			}
		}(g)
	}

	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func(r int) {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if r == 0 {
					c.AgeOut()
					continue
				}
				list, err := c.GetCandidates(&Filter{SSIDs: []string{"net"}})
				if assert.NoError(t, err) {
					for _, cand := range list {
						assert.Equal(t, cand.Breakdown.Total, cand.BSSScore)
					}
				}
			}
		}(r)
	}

	writers.Wait()
	close(stop)
	readers.Wait()

	// With every reference dropped, the linked count equals the live count.
	live := liveBSSIDs(t, c)
	assert.Equal(t, len(live), c.NumEntries())
	assert.LessOrEqual(t, len(live), maxEntries)

	seen := make(map[BSSID]bool, len(live))
	for _, b := range live {
		assert.False(t, seen[b], "duplicate live entry for %s", b)
		seen[b] = true
	}
}

func TestPinnedNodeSurvivesEviction(t *testing.T) {
	c, clock := newTestContext(t, Options{MaxEntries: 2, AgingTime: time.Hour})

	require.NoError(t, c.Ingest(apEntry(bssid(0x01), "a", 1, -50)))
	clock.Advance(time.Second)
	require.NoError(t, c.Ingest(apEntry(bssid(0x02), "b", 1, -50)))
	clock.Advance(time.Second)

	pinned := c.nextValid(bucketFor(bssid(0x01)), nil)
	require.NotNil(t, pinned)

	// The pinned node is the oldest head: it is deleted but stays linked,
	// so the cache may hold one more than its capacity.
	require.NoError(t, c.Ingest(apEntry(bssid(0x03), "c", 1, -50)))
	assert.Equal(t, 3, c.NumEntries())
	assert.ElementsMatch(t, []BSSID{bssid(0x02), bssid(0x03)}, liveBSSIDs(t, c))
	assert.Equal(t, "a", pinned.entry.SSID, "a pinned entry stays readable")

	c.release(pinned, false)
	assert.Equal(t, 2, c.NumEntries())

	clock.Advance(time.Second)
	require.NoError(t, c.Ingest(apEntry(bssid(0x04), "d", 1, -50)))
	assert.Equal(t, 2, c.NumEntries())
	assert.ElementsMatch(t, []BSSID{bssid(0x03), bssid(0x04)}, liveBSSIDs(t, c))
}

func TestPinnedNodeSurvivesAgeOut(t *testing.T) {
	c, clock := newTestContext(t, Options{AgingTime: time.Minute})
	require.NoError(t, c.Ingest(apEntry(bssid(0x07), "old", 1, -50)))

	pinned := c.nextValid(7, nil)
	require.NotNil(t, pinned)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, c.AgeOut())
	assert.Equal(t, 1, c.NumEntries(), "still linked while pinned")
	assert.Nil(t, c.nextValid(7, nil), "deleted nodes are skipped")
	assert.Empty(t, liveBSSIDs(t, c))
	assert.Equal(t, 0, c.AgeOut(), "a deleted node is not removed twice")

	// Continuing the walk drops the last reference and unlinks the node.
	assert.Nil(t, c.nextValid(7, pinned))
	assert.Equal(t, 0, c.NumEntries())
}

func TestRemovalCountedOnceAcrossWalkers(t *testing.T) {
	c, clock := newTestContext(t, Options{AgingTime: time.Minute})
	require.NoError(t, c.Ingest(apEntry(bssid(0x07), "old", 1, -50)))
	clock.Advance(2 * time.Minute)

	// The age-out walk deletes the node while the prune walk holds it.
	var aged int
	pruned := c.PruneChannels(func(uint32) bool {
		aged = c.AgeOut()
		return false
	})
	assert.Equal(t, 1, aged)
	assert.Equal(t, 0, pruned)
	assert.Equal(t, 0, c.NumEntries())
}
