package scancache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scancache/internal/errors"
)

func TestBucketFor(t *testing.T) {
	assert.Equal(t, 0, bucketFor(bssid(0x00)))
	assert.Equal(t, 1, bucketFor(bssid(0x41)))
	assert.Equal(t, 63, bucketFor(bssid(0xff)))
}

func TestNextValidSkipsInactiveNodes(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	// Same bucket: last bytes differ by 64.
	for _, last := range []byte{0x01, 0x41, 0x81} {
		c.link(apEntry(bssid(last), "net", 1, -50))
	}
	require.Equal(t, 3, c.NumEntries())

	first := c.nextValid(1, nil)
	require.NotNil(t, first)
	assert.Equal(t, bssid(0x01), first.entry.BSSID)
	assert.EqualValues(t, 2, first.refcnt.Load())

	second := c.nextValid(1, first)
	require.NotNil(t, second)
	assert.EqualValues(t, 1, first.refcnt.Load())

	// Delete the middle node while pinned: still linked, skipped by walks.
	assert.True(t, c.remove(second))
	assert.Equal(t, 3, c.NumEntries())

	fresh := c.nextValid(1, nil)
	next := c.nextValid(1, fresh)
	require.NotNil(t, next)
	assert.Equal(t, bssid(0x81), next.entry.BSSID)
	c.release(next, false)

	// Dropping the last reference unlinks the deleted node.
	third := c.nextValid(1, second)
	assert.Equal(t, 2, c.NumEntries())
	require.NotNil(t, third)
	c.release(third, false)
	assert.Nil(t, c.nextValid(2, nil))
}

func TestReleaseDeleteIfLast(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	c.link(apEntry(bssid(0x05), "net", 1, -50))

	n := c.nextValid(5, nil)
	require.NotNil(t, n)
	c.release(n, true)

	assert.Equal(t, 0, c.NumEntries())
	assert.Nil(t, c.nextValid(5, nil))

	// A second delete of the same node is a no-op.
	assert.False(t, c.remove(n))
}

func TestIngestRefusedAllocation(t *testing.T) {
	c, _ := newTestContext(t, Options{AllocGuard: func() bool { return false }})

	err := c.Ingest(apEntry(bssid(1), "net", 1, -50))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeOutOfMemory))
	assert.Equal(t, 0, c.NumEntries())

	err = c.Ingest(nil)
	assert.True(t, errors.IsCode(err, errors.CodeOutOfMemory))
}

func TestCapacityNeverExceeded(t *testing.T) {
	c, clock := newTestContext(t, Options{MaxEntries: 10, AgingTime: time.Hour})

	for i := 0; i < 40; i++ {
		require.NoError(t, c.Ingest(apEntry(bssid(byte(i)), "net", 6, -50)))
		assert.LessOrEqual(t, c.NumEntries(), 10)
		clock.Advance(time.Second)
	}
	assert.Equal(t, 10, c.NumEntries())
}

func TestEvictionPrefersOldestBucketHead(t *testing.T) {
	c, clock := newTestContext(t, Options{MaxEntries: 3, AgingTime: time.Hour})

	require.NoError(t, c.Ingest(apEntry(bssid(0x01), "a", 1, -50)))
	clock.Advance(time.Second)
	require.NoError(t, c.Ingest(apEntry(bssid(0x02), "b", 1, -50)))
	clock.Advance(time.Second)
	require.NoError(t, c.Ingest(apEntry(bssid(0x03), "c", 1, -50)))
	clock.Advance(time.Second)
	require.NoError(t, c.Ingest(apEntry(bssid(0x04), "d", 1, -50)))

	var seen []BSSID
	require.NoError(t, c.Iterate(func(e *Entry) error {
		seen = append(seen, e.BSSID)
		return nil
	}))
	assert.ElementsMatch(t, []BSSID{bssid(0x02), bssid(0x03), bssid(0x04)}, seen)
}

func TestEvictionIgnoresOlderEntriesBehindBucketHead(t *testing.T) {
	c, clock := newTestContext(t, Options{MaxEntries: 3, AgingTime: time.Hour})
	base := clock.Now()

	at := func(b BSSID, ssid string, offset time.Duration) *Entry {
		e := apEntry(b, ssid, 1, -50)
		e.ScanEntryTime = base.Add(offset)
		return e
	}
	// 0x01 and 0x41 share bucket 1. 0x41 is the oldest entry overall but
	// sits behind the bucket head, so only heads compete for eviction.
	c.link(at(bssid(0x01), "head", 10*time.Second))
	c.link(at(bssid(0x41), "second", 0))
	c.link(at(bssid(0x02), "other", 5*time.Second))
	require.Equal(t, bucketFor(bssid(0x01)), bucketFor(bssid(0x41)))

	clock.Advance(time.Minute)
	require.NoError(t, c.Ingest(apEntry(bssid(0x03), "new", 1, -50)))

	assert.Equal(t, 3, c.NumEntries())
	assert.ElementsMatch(t, []BSSID{bssid(0x01), bssid(0x41), bssid(0x03)}, liveBSSIDs(t, c))
}
