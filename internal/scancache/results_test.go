package scancache

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/ieee80211"
)

func homeFilter() *Filter {
	return &Filter{
		SSIDs:     []string{"home"},
		EncTypes:  NewEncTypeSet(EncAES),
		AuthTypes: []AuthType{AuthRSNPSK},
	}
}

func TestGetCandidatesRanksBySignal(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	require.NoError(t, c.Ingest(rsnPSKEntry(bssid(2), "home", 36, -75, 0)))
	require.NoError(t, c.Ingest(rsnPSKEntry(bssid(1), "home", 36, -40, 0)))
	require.NoError(t, c.Ingest(rsnPSKEntry(bssid(3), "guest", 36, -30, 0)))

	list, err := c.GetCandidates(homeFilter())
	require.NoError(t, err)
	require.Len(t, list, 2)
	defer list.Release()

	assert.Equal(t, bssid(1), list[0].BSSID)
	assert.Equal(t, bssid(2), list[1].BSSID)
	assert.Greater(t, list[0].BSSScore, list[1].BSSScore)
	assert.Equal(t, list[0].Breakdown.Total, list[0].BSSScore)

	sec := list[0].NegSecInfo
	assert.Equal(t, AuthRSNPSK, sec.AuthType)
	assert.Equal(t, EncAES, sec.UnicastCipher)
	assert.Equal(t, EncAES, sec.MulticastCipher)
	assert.Equal(t, ieee80211.RSNSelector(ieee80211.AKMPSK), sec.AKM)
}

func TestGetCandidatesBSSIDHintPriority(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	require.NoError(t, c.Ingest(rsnPSKEntry(bssid(1), "home", 36, -40, 0)))
	require.NoError(t, c.Ingest(rsnPSKEntry(bssid(2), "home", 36, -75, 0)))

	f := homeFilter()
	f.BSSIDHint = bssid(2)
	f.BSSIDHintPriority = true

	list, err := c.GetCandidates(f)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, bssid(2), list[0].BSSID)
	assert.Equal(t, MaxBSSScore, list[0].BSSScore)

	// Without priority the hint has no effect on ordering.
	f.BSSIDHintPriority = false
	list, err = c.GetCandidates(f)
	require.NoError(t, err)
	assert.Equal(t, bssid(1), list[0].BSSID)
}

func TestGetCandidatesWithoutScoring(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	for i := byte(1); i <= 3; i++ {
		require.NoError(t, c.Ingest(apEntry(bssid(i), "net", 1, -90+int(i)*10)))
	}

	list, err := c.GetCandidates(&Filter{SkipScoring: true})
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, cand := range list {
		assert.Zero(t, cand.BSSScore)
		// Table order follows the bucket index.
		assert.Equal(t, bssid(byte(i+1)), cand.BSSID)
	}

	// A prioritized hint still goes first.
	list, err = c.GetCandidates(&Filter{SkipScoring: true, BSSIDHint: bssid(3), BSSIDHintPriority: true})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, bssid(3), list[0].BSSID)
	assert.Equal(t, MaxBSSScore, list[0].BSSScore)
	assert.Equal(t, bssid(1), list[1].BSSID)
	assert.Equal(t, bssid(2), list[2].BSSID)
}

func TestGetCandidatesScoresByDefault(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	require.NoError(t, c.Ingest(apEntry(bssid(1), "net", 1, -80)))
	require.NoError(t, c.Ingest(apEntry(bssid(2), "net", 1, -40)))

	for _, f := range []*Filter{nil, {}} {
		list, err := c.GetCandidates(f)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, bssid(2), list[0].BSSID)
		assert.Positive(t, list[0].BSSScore)
		assert.Equal(t, list[0].Breakdown.Total, list[0].BSSScore)
		assert.Greater(t, list[0].BSSScore, list[1].BSSScore)
	}
}

func TestGetCandidatesTieBreaksOnRSSI(t *testing.T) {
	a := &Candidate{Entry: Entry{BSSScore: 100, RSSIRaw: -60}}
	b := &Candidate{Entry: Entry{BSSScore: 100, RSSIRaw: -50}}
	d := &Candidate{Entry: Entry{BSSScore: 200, RSSIRaw: -90}}

	var list CandidateList
	for _, cand := range []*Candidate{a, b, d} {
		list = insertSorted(list, cand)
	}
	assert.Equal(t, CandidateList{d, b, a}, list)
	assert.True(t, better(b, a))
	assert.False(t, better(a, a))
}

func TestGetCandidatesReturnsCopies(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	require.NoError(t, c.Ingest(rsnPSKEntry(bssid(1), "home", 36, -40, 0)))

	list, err := c.GetCandidates(homeFilter())
	require.NoError(t, err)
	require.Len(t, list, 1)

	list[0].SSID = "changed"
	list[0].IEs.RSN[2] = 0xff

	e := onlyEntry(t, c)
	assert.Equal(t, "home", e.SSID)
	assert.NotEqual(t, byte(0xff), e.IEs.RSN[2])
}

func TestGetCandidatesAllocationFailure(t *testing.T) {
	var allow atomic.Int32
	allow.Store(2)
	c, _ := newTestContext(t, Options{AllocGuard: func() bool {
		return allow.Add(-1) >= 0
	}})
	require.NoError(t, c.Ingest(apEntry(bssid(1), "net", 1, -50)))
	require.NoError(t, c.Ingest(apEntry(bssid(2), "net", 1, -50)))

	list, err := c.GetCandidates(&Filter{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeOutOfMemory))
	assert.Nil(t, list)

	// A partial failure drops the affected entry only.
	allow.Store(1)
	list, err = c.GetCandidates(&Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 2, c.NumEntries())
}

func TestGetCandidatesEmptyCache(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	list, err := c.GetCandidates(homeFilter())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetCandidatesUsesPCL(t *testing.T) {
	c, _ := newTestContext(t, Options{})
	require.NoError(t, c.Ingest(rsnPSKEntry(bssid(1), "home", 36, -40, 0)))
	require.NoError(t, c.Ingest(rsnPSKEntry(bssid(2), "home", 44, -40, 0)))

	f := homeFilter()
	f.PCL = []PCLEntry{{Channel: 44, Weight: 255}}

	list, err := c.GetCandidates(f)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, bssid(2), list[0].BSSID)
	assert.Equal(t, DefaultPCLWeight*100, list[0].Breakdown.PCL)
	assert.Zero(t, list[1].Breakdown.PCL)
}
