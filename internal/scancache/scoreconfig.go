package scancache

// Scoring limits.
const (
	BestCandidateMaxWeight = 100
	MaxIndexScore          = 100
	MaxIndexPerSlotTable   = 15

	// MaxBSSScore is the score given to a hinted BSSID when the filter asks
	// for hint priority.
	MaxBSSScore = BestCandidateMaxWeight * 100
)

// Default per-factor weights.
const (
	DefaultRSSIWeight        = 20
	DefaultHTCapsWeight      = 2
	DefaultVHTCapsWeight     = 1
	DefaultHECapsWeight      = 2
	DefaultChanWidthWeight   = 12
	DefaultChanBandWeight    = 2
	DefaultNSSWeight         = 16
	DefaultBeamformingWeight = 2
	DefaultPCLWeight         = 10
	DefaultCongestionWeight  = 25
	DefaultOCEWANWeight      = 2
)

// Channel width table slots.
const (
	bw20MHzIndex = iota
	bw40MHzIndex
	bw80MHzIndex
	bw160MHzIndex
)

// Band table slots.
const (
	band2GHzIndex = iota
	band5GHzIndex
)

// Weights holds one weight per scoring factor. Their sum must not exceed
// BestCandidateMaxWeight.
type Weights struct {
	RSSI        int `yaml:"rssi" json:"rssi" validate:"gte=0,lte=100"`
	HTCaps      int `yaml:"ht_caps" json:"ht_caps" validate:"gte=0,lte=100"`
	VHTCaps     int `yaml:"vht_caps" json:"vht_caps" validate:"gte=0,lte=100"`
	HECaps      int `yaml:"he_caps" json:"he_caps" validate:"gte=0,lte=100"`
	ChanWidth   int `yaml:"chan_width" json:"chan_width" validate:"gte=0,lte=100"`
	ChanBand    int `yaml:"chan_band" json:"chan_band" validate:"gte=0,lte=100"`
	NSS         int `yaml:"nss" json:"nss" validate:"gte=0,lte=100"`
	Beamforming int `yaml:"beamforming" json:"beamforming" validate:"gte=0,lte=100"`
	PCL         int `yaml:"pcl" json:"pcl" validate:"gte=0,lte=100"`
	Congestion  int `yaml:"congestion" json:"congestion" validate:"gte=0,lte=100"`
	OCEWAN      int `yaml:"oce_wan" json:"oce_wan" validate:"gte=0,lte=100"`
}

// DefaultWeights returns the default weight set.
func DefaultWeights() Weights {
	return Weights{
		RSSI:        DefaultRSSIWeight,
		HTCaps:      DefaultHTCapsWeight,
		VHTCaps:     DefaultVHTCapsWeight,
		HECaps:      DefaultHECapsWeight,
		ChanWidth:   DefaultChanWidthWeight,
		ChanBand:    DefaultChanBandWeight,
		NSS:         DefaultNSSWeight,
		Beamforming: DefaultBeamformingWeight,
		PCL:         DefaultPCLWeight,
		Congestion:  DefaultCongestionWeight,
		OCEWAN:      DefaultOCEWANWeight,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() int {
	return w.RSSI + w.HTCaps + w.VHTCaps + w.HECaps + w.ChanWidth + w.ChanBand +
		w.NSS + w.Beamforming + w.PCL + w.Congestion + w.OCEWAN
}

// RSSIConfig holds the RSSI scoring curve. Thresholds are in dBm and
// ordered Best > Good > Bad.
type RSSIConfig struct {
	BestThreshold   int `yaml:"best_threshold" json:"best_threshold" validate:"lte=0"`
	GoodThreshold   int `yaml:"good_threshold" json:"good_threshold" validate:"lte=0"`
	BadThreshold    int `yaml:"bad_threshold" json:"bad_threshold" validate:"lte=0"`
	GoodPcnt        int `yaml:"good_pcnt" json:"good_pcnt" validate:"gte=0,lte=100"`
	BadPcnt         int `yaml:"bad_pcnt" json:"bad_pcnt" validate:"gte=0,lte=100"`
	GoodBucketSize  int `yaml:"good_bucket_size" json:"good_bucket_size" validate:"gte=1"`
	BadBucketSize   int `yaml:"bad_bucket_size" json:"bad_bucket_size" validate:"gte=1"`
	Pref5GThreshold int `yaml:"pref_5g_threshold" json:"pref_5g_threshold" validate:"lte=0"`
}

// SlotTable maps slot indexes 0..15 to percentages. Each word packs four
// 8-bit percentages, lowest index in the lowest byte.
type SlotTable struct {
	NumSlots   int    `yaml:"num_slots" json:"num_slots" validate:"gte=0,lte=15"`
	Pcnt3To0   uint32 `yaml:"pcnt_3_to_0" json:"pcnt_3_to_0"`
	Pcnt7To4   uint32 `yaml:"pcnt_7_to_4" json:"pcnt_7_to_4"`
	Pcnt11To8  uint32 `yaml:"pcnt_11_to_8" json:"pcnt_11_to_8"`
	Pcnt15To12 uint32 `yaml:"pcnt_15_to_12" json:"pcnt_15_to_12"`
}

// ScoringConfig is the process-wide candidate scoring configuration.
type ScoringConfig struct {
	Weights Weights    `yaml:"weights" json:"weights"`
	RSSI    RSSIConfig `yaml:"rssi" json:"rssi"`

	// Packed per-index percentages: bandwidth 20/40/80/160 MHz, NSS
	// 1x1..4x4, band 2.4/5 GHz.
	BandwidthWeightPerIndex uint32 `yaml:"bandwidth_weight_per_index" json:"bandwidth_weight_per_index"`
	NSSWeightPerIndex       uint32 `yaml:"nss_weight_per_index" json:"nss_weight_per_index"`
	BandWeightPerIndex      uint32 `yaml:"band_weight_per_index" json:"band_weight_per_index"`

	ESPQBSS SlotTable `yaml:"esp_qbss" json:"esp_qbss"`
	OCEWAN  SlotTable `yaml:"oce_wan" json:"oce_wan"`

	HTCap     bool `yaml:"ht_cap" json:"ht_cap"`
	VHTCap    bool `yaml:"vht_cap" json:"vht_cap"`
	HECap     bool `yaml:"he_cap" json:"he_cap"`
	VHT24GCap bool `yaml:"vht_24g_cap" json:"vht_24g_cap"`
	CBMode24G bool `yaml:"cb_mode_24g" json:"cb_mode_24g"`
	CBMode5G  bool `yaml:"cb_mode_5g" json:"cb_mode_5g"`

	VdevNSS24G int `yaml:"vdev_nss_24g" json:"vdev_nss_24g" validate:"gte=0,lte=8"`
	VdevNSS5G  int `yaml:"vdev_nss_5g" json:"vdev_nss_5g" validate:"gte=0,lte=8"`
}

// DefaultScoringConfig returns the built-in scoring configuration.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: DefaultWeights(),
		RSSI: RSSIConfig{
			BestThreshold:   -55,
			GoodThreshold:   -70,
			BadThreshold:    -80,
			GoodPcnt:        80,
			BadPcnt:         25,
			GoodBucketSize:  5,
			BadBucketSize:   5,
			Pref5GThreshold: -76,
		},
		// Bandwidth 20MHz 12%, 40MHz 25%, 80MHz 50%, 160MHz 100%.
		// NSS 1x1 12%, 2x2 25%, 3x3 50%, 4x4 100%.
		// Band 2.4GHz 50%, 5GHz 75%, 6GHz 100%.
		BandwidthWeightPerIndex: 0x6432190C,
		NSSWeightPerIndex:       0x6432190C,
		BandWeightPerIndex:      0x00644B32,
		// Slot 0 is used when the AP advertises no load, the last slot for
		// weak signals.
		ESPQBSS: SlotTable{
			NumSlots:  8,
			Pcnt3To0:  0x505A6432,
			Pcnt7To4:  0x0A193246,
			Pcnt11To8: 0x00000005,
		},
		OCEWAN: SlotTable{
			NumSlots:   15,
			Pcnt3To0:   0x00000032,
			Pcnt11To8:  0x06030000,
			Pcnt15To12: 0x6432190C,
		},
		HTCap:      true,
		VHTCap:     true,
		HECap:      true,
		VHT24GCap:  false,
		CBMode24G:  true,
		CBMode5G:   true,
		VdevNSS24G: 2,
		VdevNSS5G:  2,
	}
}

// Validate clamps out of range values in place and reports whether anything
// was changed. Weights summing above BestCandidateMaxWeight are replaced by
// the defaults as a whole.
func (c *ScoringConfig) Validate() bool {
	changed := false
	if c.Weights.Sum() > BestCandidateMaxWeight {
		c.Weights = DefaultWeights()
		changed = true
	}

	for _, p := range []*uint32{
		&c.BandwidthWeightPerIndex, &c.NSSWeightPerIndex, &c.BandWeightPerIndex,
		&c.ESPQBSS.Pcnt3To0, &c.ESPQBSS.Pcnt7To4, &c.ESPQBSS.Pcnt11To8, &c.ESPQBSS.Pcnt15To12,
		&c.OCEWAN.Pcnt3To0, &c.OCEWAN.Pcnt7To4, &c.OCEWAN.Pcnt11To8, &c.OCEWAN.Pcnt15To12,
	} {
		if v := clampPacked(*p); v != *p {
			*p = v
			changed = true
		}
	}

	for _, n := range []*int{&c.ESPQBSS.NumSlots, &c.OCEWAN.NumSlots} {
		if *n > MaxIndexPerSlotTable {
			*n = MaxIndexPerSlotTable
			changed = true
		}
	}
	for _, n := range []*int{&c.RSSI.GoodBucketSize, &c.RSSI.BadBucketSize} {
		if *n <= 0 {
			*n = 1
			changed = true
		}
	}
	return changed
}

// clampPacked limits each byte of a packed percentage word to 100.
func clampPacked(v uint32) uint32 {
	var out uint32
	for i := 0; i < 4; i++ {
		b := (v >> (8 * i)) & 0xff
		if b > MaxIndexScore {
			b = MaxIndexScore
		}
		out |= b << (8 * i)
	}
	return out
}

// pcntAt returns the percentage at index i of a packed word.
func pcntAt(v uint32, i int) int {
	return int((v >> (8 * i)) & 0xff)
}
