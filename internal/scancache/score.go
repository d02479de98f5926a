package scancache

import "github.com/anstrom/scancache/internal/ieee80211"

// ScoreBreakdown holds the individual terms of a candidate score. Each term
// lies in [0, weight*100] for its factor.
type ScoreBreakdown struct {
	RSSI         int `json:"rssi"`
	PCL          int `json:"pcl"`
	HT           int `json:"ht"`
	VHT          int `json:"vht"`
	HE           int `json:"he"`
	Bandwidth    int `json:"bandwidth"`
	Beamformee   int `json:"beamformee"`
	Band         int `json:"band"`
	Congestion   int `json:"congestion"`
	NSS          int `json:"nss"`
	OCEWAN       int `json:"oce_wan"`
	ProratedPcnt int `json:"prorated_pcnt"`
	Total        int `json:"total"`
}

// Score returns the composite score of e. It does not modify e or cfg.
func Score(e *Entry, cfg *ScoringConfig, pclWeight int) int {
	return ScoreWithBreakdown(e, cfg, pclWeight).Total
}

// ScoreWithBreakdown computes the composite score of e and its terms.
func ScoreWithBreakdown(e *Entry, cfg *ScoringConfig, pclWeight int) ScoreBreakdown {
	var s ScoreBreakdown
	w := &cfg.Weights
	rssi := e.RSSIRaw
	band := e.Band()

	s.RSSI = rssiScore(&cfg.RSSI, rssi, w.RSSI)
	s.PCL = pclScore(w.PCL, pclWeight)

	prorated := proratedPcnt(&cfg.RSSI, rssi)
	s.ProratedPcnt = prorated

	if cfg.HTCap && e.IEs.HTCap != nil {
		s.HT = prorated * w.HTCaps
	}

	isVHT := cfg.VHTCap
	if band == Band2GHz {
		isVHT = cfg.VHT24GCap
	}
	if isVHT && e.IEs.VHTCap != nil {
		s.VHT = prorated * w.VHTCaps
	}
	if cfg.HECap && e.IEs.HECap != nil {
		s.HE = prorated * w.HECaps
	}

	s.Bandwidth = bandwidthScore(e, cfg, band, prorated)

	sameBucket := false
	if rssi < cfg.RSSI.GoodThreshold {
		sameBucket = sameRSSIBucket(cfg.RSSI.GoodThreshold, rssi,
			cfg.RSSI.Pref5GThreshold, cfg.RSSI.BadBucketSize)
	}
	aboveDeadZone := rssi > cfg.RSSI.Pref5GThreshold && !sameBucket

	if isVHT && ieee80211.VHTSUBeamformer(e.IEs.VHTCap) && aboveDeadZone {
		s.Beamformee = BestCandidateMaxWeight * w.Beamforming
	}

	if aboveDeadZone && band == Band5GHz {
		s.Band = w.ChanBand * pcntAt(cfg.BandWeightPerIndex, band5GHzIndex)
	} else if band == Band2GHz {
		s.Band = w.ChanBand * pcntAt(cfg.BandWeightPerIndex, band2GHzIndex)
	}

	s.Congestion = congestionScore(e, cfg)
	s.NSS = nssScore(e, cfg, band, prorated)
	s.OCEWAN = oceWANScore(e, cfg)

	s.Total = s.RSSI + s.PCL + s.HT + s.VHT + s.HE + s.Bandwidth + s.Beamformee +
		s.Band + s.Congestion + s.NSS + s.OCEWAN
	return s
}

// rssiPcntForSlot walks from hi down to lo in bucket sized steps, losing an
// equal share of (hiPcnt - loPcnt) per step.
func rssiPcntForSlot(hi, lo, hiPcnt, loPcnt, bucket, rssi int) int {
	if bucket <= 0 {
		bucket = 1
	}
	numSlot := (hi-lo)/bucket + 1
	slotSize := ((hiPcnt - loPcnt) + numSlot/2) / numSlot
	slotIndex := (hi-rssi)/bucket + 1
	pcnt := hiPcnt - slotSize*slotIndex
	if pcnt < loPcnt {
		pcnt = loPcnt
	}
	return pcnt
}

func rssiScore(cfg *RSSIConfig, rssi, weight int) int {
	total := BestCandidateMaxWeight * weight
	switch {
	case rssi > cfg.BestThreshold:
		return total
	case rssi <= cfg.BadThreshold:
		return total * cfg.BadPcnt / 100
	case rssi > cfg.GoodThreshold:
		return total * rssiPcntForSlot(cfg.BestThreshold, cfg.GoodThreshold,
			100, cfg.GoodPcnt, cfg.GoodBucketSize, rssi) / 100
	default:
		return total * rssiPcntForSlot(cfg.GoodThreshold, cfg.BadThreshold,
			cfg.GoodPcnt, cfg.BadPcnt, cfg.BadBucketSize, rssi) / 100
	}
}

func pclScore(weight, pclWeight int) int {
	if pclWeight == 0 {
		return 0
	}
	s := weight - (255-pclWeight)/20
	if s < 0 {
		s = 0
	}
	return s * BestCandidateMaxWeight
}

// sameRSSIBucket reports whether rssi and the 5 GHz preference threshold
// fall into the same bad-zone bucket below good.
func sameRSSIBucket(good, rssi, pref5g, bucket int) bool {
	if bucket <= 0 {
		bucket = 1
	}
	return (good-rssi)/bucket == (good-pref5g)/bucket
}

// proratedPcnt scales the capability terms by signal quality. Below the 5 GHz
// preference threshold capabilities count for nothing.
func proratedPcnt(cfg *RSSIConfig, rssi int) int {
	switch {
	case rssi > cfg.GoodThreshold:
		return 100
	case sameRSSIBucket(cfg.GoodThreshold, rssi, cfg.Pref5GThreshold, cfg.BadBucketSize) ||
		rssi < cfg.Pref5GThreshold:
		return 0
	case rssi <= cfg.BadThreshold:
		return 0
	default:
		return rssiPcntForSlot(cfg.GoodThreshold, cfg.BadThreshold,
			cfg.GoodPcnt, cfg.BadPcnt, cfg.BadBucketSize, rssi)
	}
}

func bandwidthScore(e *Entry, cfg *ScoringConfig, band Band, prorated int) int {
	var cbMode, isVHT bool
	if band == Band2GHz {
		cbMode = cfg.CBMode24G
		isVHT = cfg.VHT24GCap
	} else if cfg.VHTCap {
		cbMode = cfg.CBMode5G
		isVHT = true
	}

	idx := e.PhyMode.channelWidthIndex()
	if !cfg.HTCap && idx > bw20MHzIndex {
		idx = bw20MHzIndex
	}
	if !isVHT && idx > bw40MHzIndex {
		idx = bw40MHzIndex
	}

	pcnt := pcntAt(cfg.BandwidthWeightPerIndex, bw20MHzIndex)
	if cbMode && idx > bw20MHzIndex {
		pcnt = pcntAt(cfg.BandwidthWeightPerIndex, idx)
	}
	return prorated * pcnt * cfg.Weights.ChanWidth / 100
}

// slotPcnt returns the percentage for index of a slot table.
func slotPcnt(t *SlotTable, index int) int {
	switch {
	case index <= 3:
		return pcntAt(t.Pcnt3To0, index)
	case index <= 7:
		return pcntAt(t.Pcnt7To4, index-4)
	case index <= 11:
		return pcntAt(t.Pcnt11To8, index-8)
	default:
		return pcntAt(t.Pcnt15To12, index-12)
	}
}

func congestionScore(e *Entry, cfg *ScoringConfig) int {
	t := &cfg.ESPQBSS
	weight := cfg.Weights.Congestion
	numSlot := t.NumSlots
	if numSlot <= 0 {
		return 0
	}
	if numSlot > MaxIndexPerSlotTable {
		numSlot = MaxIndexPerSlotTable
	}

	if e.RSSIRaw <= cfg.RSSI.GoodThreshold {
		return weight * slotPcnt(t, numSlot)
	}

	var congestion int
	switch {
	case e.AirTimeFraction != 0:
		estAirTime := int(e.AirTimeFraction) * MaxIndexScore / 255
		congestion = MaxIndexScore - estAirTime
	case e.QBSSChanLoad != 0:
		congestion = int(e.QBSSChanLoad) * MaxIndexScore / 255
	default:
		return weight * slotPcnt(t, 0)
	}

	window := MaxIndexScore / numSlot
	index := congestion/window + 1
	if index > numSlot {
		index = numSlot
	}
	return weight * slotPcnt(t, index)
}

func nssScore(e *Entry, cfg *ScoringConfig, band Band, prorated int) int {
	staNSS := cfg.VdevNSS5G
	if band == Band2GHz {
		staNSS = cfg.VdevNSS24G
	}
	nss := int(e.NSS)
	if staNSS < nss {
		nss = staNSS
	}

	var idx int
	switch nss {
	case 4:
		idx = 3
	case 3:
		idx = 2
	case 2:
		idx = 1
	default:
		idx = 0
	}
	return cfg.Weights.NSS * pcntAt(cfg.NSSWeightPerIndex, idx) * prorated / 100
}

func oceWANScore(e *Entry, cfg *ScoringConfig) int {
	t := &cfg.OCEWAN
	numSlot := t.NumSlots
	if numSlot <= 0 {
		return 0
	}
	if numSlot > MaxIndexPerSlotTable {
		numSlot = MaxIndexPerSlotTable
	}

	window := MaxIndexPerSlotTable / numSlot
	index := 0
	if e.IEs.MBOOCE != nil {
		if m, ok, err := ieee80211.ParseReducedWANMetrics(e.IEs.MBOOCE); err == nil && ok {
			if m.DownlinkCapacity == 0 {
				return 0
			}
			index = int(m.DownlinkCapacity) / window
		}
	}
	if index > numSlot {
		index = numSlot
	}
	return cfg.Weights.OCEWAN * slotPcnt(t, index)
}
