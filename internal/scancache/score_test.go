package scancache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vhtAP(rssi int) *Entry {
	e := apEntry(bssid(1), "net", 36, rssi)
	e.PhyMode = PhyMode11ACVHT80
	e.NSS = 2
	e.IEs.HTCap = make([]byte, 26)
	e.IEs.VHTCap = []byte{0x00, 0x08, 0x00, 0x00, 0, 0, 0, 0, 0, 0, 0, 0}
	return e
}

func TestScoreDefaults(t *testing.T) {
	cfg := DefaultScoringConfig()

	tests := []struct {
		name  string
		entry *Entry
		want  ScoreBreakdown
	}{
		{
			name:  "strong legacy 5ghz",
			entry: apEntry(bssid(1), "net", 36, -40),
			want: ScoreBreakdown{
				RSSI: 2000, Bandwidth: 144, Band: 150, Congestion: 1250, NSS: 192,
				OCEWAN: 100, ProratedPcnt: 100, Total: 3836,
			},
		},
		{
			name:  "weak legacy 5ghz",
			entry: apEntry(bssid(1), "net", 36, -75),
			want:  ScoreBreakdown{RSSI: 880, Congestion: 125, OCEWAN: 100, Total: 1105},
		},
		{
			name:  "strong legacy 2ghz",
			entry: apEntry(bssid(1), "net", 6, -40),
			want: ScoreBreakdown{
				RSSI: 2000, Bandwidth: 144, Band: 100, Congestion: 1250, NSS: 192,
				OCEWAN: 100, ProratedPcnt: 100, Total: 3786,
			},
		},
		{
			name:  "strong vht80 2x2",
			entry: vhtAP(-40),
			want: ScoreBreakdown{
				RSSI: 2000, HT: 200, VHT: 100, Bandwidth: 600, Beamformee: 200,
				Band: 150, Congestion: 1250, NSS: 400, OCEWAN: 100, ProratedPcnt: 100,
				Total: 5000,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreWithBreakdown(tt.entry, &cfg, 0)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Total, Score(tt.entry, &cfg, 0))
		})
	}
}

func TestScoreIsPure(t *testing.T) {
	cfg := DefaultScoringConfig()
	e := vhtAP(-62)
	e.QBSSChanLoad = 100
	before := e.Clone()
	cfgBefore := cfg

	first := Score(e, &cfg, 200)
	second := Score(e, &cfg, 200)

	assert.Equal(t, first, second)
	assert.Equal(t, before, e)
	assert.Equal(t, cfgBefore, cfg)
}

func TestScoreTermsWithinWeights(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.Weights.OCEWAN = 5
	w := cfg.Weights

	for rssi := -100; rssi <= -20; rssi++ {
		for _, pcl := range []int{0, 100, 255} {
			e := vhtAP(rssi)
			e.QBSSChanLoad = uint8(-rssi)
			s := ScoreWithBreakdown(e, &cfg, pcl)

			assert.GreaterOrEqual(t, s.RSSI, 0)
			assert.LessOrEqual(t, s.RSSI, w.RSSI*100)
			assert.LessOrEqual(t, s.PCL, w.PCL*100)
			assert.LessOrEqual(t, s.HT, w.HTCaps*100)
			assert.LessOrEqual(t, s.VHT, w.VHTCaps*100)
			assert.LessOrEqual(t, s.HE, w.HECaps*100)
			assert.LessOrEqual(t, s.Bandwidth, w.ChanWidth*100)
			assert.LessOrEqual(t, s.Beamformee, w.Beamforming*100)
			assert.LessOrEqual(t, s.Band, w.ChanBand*100)
			assert.LessOrEqual(t, s.Congestion, w.Congestion*100)
			assert.LessOrEqual(t, s.NSS, w.NSS*100)
			assert.LessOrEqual(t, s.OCEWAN, w.OCEWAN*100)
			assert.GreaterOrEqual(t, s.Total, 0)
			assert.LessOrEqual(t, s.Total, w.Sum()*100)
		}
	}
}

func TestRSSIScoreCurve(t *testing.T) {
	cfg := DefaultScoringConfig()
	tests := []struct {
		rssi int
		want int
	}{
		{-30, 2000},
		{-56, 1900},
		{-60, 1800},
		{-71, 1240},
		{-75, 880},
		{-80, 500},
		{-95, 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rssiScore(&cfg.RSSI, tt.rssi, cfg.Weights.RSSI), "rssi %d", tt.rssi)
	}

	// Monotonic in signal strength.
	prev := 0
	for rssi := -100; rssi <= -20; rssi++ {
		s := rssiScore(&cfg.RSSI, rssi, cfg.Weights.RSSI)
		assert.GreaterOrEqual(t, s, prev)
		prev = s
	}
}

func TestPCLScore(t *testing.T) {
	assert.Equal(t, 0, pclScore(10, 0))
	assert.Equal(t, 1000, pclScore(10, 255))
	assert.Equal(t, 500, pclScore(10, 155))
	assert.Equal(t, 0, pclScore(10, 55))
}

func TestCongestionScore(t *testing.T) {
	cfg := DefaultScoringConfig()

	e := apEntry(bssid(1), "net", 36, -40)
	assert.Equal(t, 25*50, congestionScore(e, &cfg), "no load information")

	e.QBSSChanLoad = 200
	assert.Equal(t, 25*10, congestionScore(e, &cfg))

	e.AirTimeFraction = 255
	assert.Equal(t, 25*100, congestionScore(e, &cfg), "air time fraction takes precedence")

	e.RSSIRaw = -75
	assert.Equal(t, 25*5, congestionScore(e, &cfg), "weak signal uses the last slot")

	cfg.ESPQBSS.NumSlots = 0
	assert.Equal(t, 0, congestionScore(e, &cfg))
}

func TestOCEWANScore(t *testing.T) {
	cfg := DefaultScoringConfig()
	cfg.Weights.OCEWAN = 5

	e := apEntry(bssid(1), "net", 36, -40)
	assert.Equal(t, 5*50, oceWANScore(e, &cfg), "no metrics uses slot 0")

	e.IEs.MBOOCE = []byte{0x50, 0x6f, 0x9a, 0x16, 103, 1, 0x0a}
	assert.Equal(t, 5*3, oceWANScore(e, &cfg))

	e.IEs.MBOOCE = []byte{0x50, 0x6f, 0x9a, 0x16, 103, 1, 0x0f}
	assert.Equal(t, 5*100, oceWANScore(e, &cfg))

	e.IEs.MBOOCE = []byte{0x50, 0x6f, 0x9a, 0x16, 103, 1, 0x00}
	assert.Equal(t, 0, oceWANScore(e, &cfg), "zero downlink capacity")
}

func TestScoringConfigValidate(t *testing.T) {
	cfg := DefaultScoringConfig()
	assert.False(t, cfg.Validate(), "defaults are valid")
	assert.Equal(t, 94, cfg.Weights.Sum())

	cfg.Weights.RSSI = 90
	cfg.BandwidthWeightPerIndex = 0xFFFFFFFF
	cfg.OCEWAN.NumSlots = 20
	cfg.RSSI.BadBucketSize = 0

	require.True(t, cfg.Validate())
	assert.Equal(t, DefaultWeights(), cfg.Weights)
	assert.Equal(t, uint32(0x64646464), cfg.BandwidthWeightPerIndex)
	assert.Equal(t, MaxIndexPerSlotTable, cfg.OCEWAN.NumSlots)
	assert.Equal(t, 1, cfg.RSSI.BadBucketSize)
}

func TestPackedPercentages(t *testing.T) {
	assert.Equal(t, 12, pcntAt(0x6432190C, 0))
	assert.Equal(t, 100, pcntAt(0x6432190C, 3))
	assert.Equal(t, uint32(0x64326400), clampPacked(0xFF32C800))
}

func TestDefaultScoringTables(t *testing.T) {
	cfg := DefaultScoringConfig()

	assert.Equal(t, -76, cfg.RSSI.Pref5GThreshold)
	assert.Equal(t, 5, cfg.RSSI.GoodBucketSize)
	assert.Equal(t, 5, cfg.RSSI.BadBucketSize)

	assert.Equal(t, []int{12, 25, 50, 100}, []int{
		pcntAt(cfg.NSSWeightPerIndex, 0), pcntAt(cfg.NSSWeightPerIndex, 1),
		pcntAt(cfg.NSSWeightPerIndex, 2), pcntAt(cfg.NSSWeightPerIndex, 3),
	})
	assert.Equal(t, 50, pcntAt(cfg.BandWeightPerIndex, band2GHzIndex))
	assert.Equal(t, 75, pcntAt(cfg.BandWeightPerIndex, band5GHzIndex))

	esp := make([]int, 0, 9)
	for i := 0; i <= cfg.ESPQBSS.NumSlots; i++ {
		esp = append(esp, slotPcnt(&cfg.ESPQBSS, i))
	}
	assert.Equal(t, []int{50, 100, 90, 80, 70, 50, 25, 10, 5}, esp)

	assert.Equal(t, 50, slotPcnt(&cfg.OCEWAN, 0))
	assert.Equal(t, 0, slotPcnt(&cfg.OCEWAN, 5))
	assert.Equal(t, 3, slotPcnt(&cfg.OCEWAN, 10))
	assert.Equal(t, 6, slotPcnt(&cfg.OCEWAN, 11))
	assert.Equal(t, 100, slotPcnt(&cfg.OCEWAN, 15))

	assert.Equal(t, 12, cfg.Weights.ChanWidth)
	assert.Equal(t, 25, cfg.Weights.Congestion)
	assert.Equal(t, 2, cfg.Weights.OCEWAN)
}
