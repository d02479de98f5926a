package scancache

import (
	"slices"
	"time"

	"github.com/anstrom/scancache/internal/ieee80211"
)

// Filter list limits.
const (
	MaxFilterSSIDs  = 5
	MaxFilterBSSIDs = 5
	MaxAvoidBSSIDs  = 16
)

// PCLEntry is one preferred channel with its weight.
type PCLEntry struct {
	Channel uint8 `json:"channel"`
	Weight  uint8 `json:"weight"`
}

// Filter selects candidates from a cache. Zero values mean "no constraint"
// except where noted.
type Filter struct {
	AgeThreshold   time.Duration `json:"age_threshold,omitempty"`
	P2PResults     bool          `json:"p2p_results,omitempty"`
	RRMMeasurement bool          `json:"rrm_measurement,omitempty"`

	SSIDs    []string `json:"ssids,omitempty" validate:"max=5"`
	BSSIDs   []BSSID  `json:"bssids,omitempty" validate:"max=5"`
	Channels []uint8  `json:"channels,omitempty"`

	// AvoidBSSIDs never match, whatever else the filter says.
	AvoidBSSIDs []BSSID `json:"avoid_bssids,omitempty" validate:"max=16"`

	BSSType BSSType `json:"bss_type,omitempty"`
	OnlyWMM bool    `json:"only_wmm,omitempty"`

	// IgnoreAuthEncType skips security negotiation entirely.
	IgnoreAuthEncType bool `json:"ignore_auth_enc_type,omitempty"`
	// AuthTypes lists acceptable auth types in priority order. Empty
	// accepts every auth type in enum order.
	AuthTypes []AuthType `json:"auth_types,omitempty"`
	// EncTypes lists acceptable unicast ciphers. Empty skips security
	// negotiation.
	EncTypes   EncTypeSet `json:"enc_types,omitempty"`
	MCEncTypes EncTypeSet `json:"mc_enc_types,omitempty"`
	PMF        PMFCap     `json:"pmf,omitempty"`
	IgnorePMF  bool       `json:"ignore_pmf,omitempty"`

	FILSRealmCheck bool    `json:"fils_realm_check,omitempty"`
	FILSRealm      [2]byte `json:"fils_realm,omitempty"`

	Country        string `json:"country,omitempty" validate:"omitempty,len=2"`
	MobilityDomain uint16 `json:"mobility_domain,omitempty"`

	PCL               []PCLEntry `json:"pcl,omitempty"`
	BSSIDHint         BSSID      `json:"bssid_hint,omitempty"`
	BSSIDHintPriority bool       `json:"bssid_hint_priority,omitempty"`
	// SkipScoring returns candidates in table order with zero scores. A
	// prioritized BSSID hint still goes first.
	SkipScoring       bool `json:"-"`
	EnableAdaptive11r bool       `json:"enable_adaptive_11r,omitempty"`
}

// authTypes returns the effective auth type priority list.
func (f *Filter) authTypes() []AuthType {
	if len(f.AuthTypes) == 0 {
		return AllAuthTypes()
	}
	return f.AuthTypes
}

// pclWeight returns the preferred channel weight of channel, or 0.
func (f *Filter) pclWeight(channel uint8) int {
	for _, p := range f.PCL {
		if p.Channel == channel {
			return int(p.Weight)
		}
	}
	return 0
}

// Matcher evaluates filters against entries. OnMalformed, when set, is told
// about every element that fails to parse; such elements fail the match.
type Matcher struct {
	OnMalformed func(element string, bssid BSSID, err error)
}

// Match reports whether e passes f at time now and returns the negotiated
// security parameters.
func Match(f *Filter, e *Entry, now time.Time) (SecurityInfo, bool) {
	return Matcher{}.Match(f, e, now)
}

// Match reports whether e passes f at time now. Predicates are evaluated in
// a fixed order and the first failure ends the evaluation.
func (m Matcher) Match(f *Filter, e *Entry, now time.Time) (SecurityInfo, bool) {
	var sec SecurityInfo

	if f.P2PResults && !e.IsP2P {
		return sec, false
	}
	if slices.Contains(f.AvoidBSSIDs, e.BSSID) {
		return sec, false
	}
	if f.AgeThreshold > 0 && e.Age(now) > f.AgeThreshold {
		return sec, false
	}
	if !matchSSID(f, e) {
		return sec, false
	}
	if len(f.BSSIDs) > 0 && !slices.Contains(f.BSSIDs, e.BSSID) {
		return sec, false
	}
	if !matchChannel(f.Channels, e.Channel) {
		return sec, false
	}
	if f.RRMMeasurement {
		return sec, true
	}

	if !f.IgnoreAuthEncType {
		var ok bool
		if sec, ok = m.matchSecurity(f, e); !ok {
			return sec, false
		}
	}

	if !matchBSSType(f.BSSType, e.Capability) {
		return sec, false
	}
	if f.OnlyWMM && e.IEs.WMMInfo == nil && e.IEs.WMMParam == nil {
		return sec, false
	}
	if f.FILSRealmCheck && !m.matchFILSRealm(f, e) {
		return sec, false
	}
	if !m.matchCountry(f, e) {
		return sec, false
	}
	if !m.matchMobilityDomain(f, e) {
		return sec, false
	}
	return sec, true
}

func matchSSID(f *Filter, e *Entry) bool {
	match := false
	if !e.HiddenSSID() {
		match = slices.Contains(f.SSIDs, e.SSID)
	}
	// OWE transition mode: the OWE BSS is hidden and only reachable through
	// the SSID advertised by its open companion.
	if !match && e.HiddenSSID() && slices.Contains(f.AuthTypes, AuthOWE) {
		match = true
	}
	return match || len(f.SSIDs) == 0
}

func matchChannel(channels []uint8, ch uint8) bool {
	if len(channels) == 0 {
		return true
	}
	for _, c := range channels {
		if c == 0 || c == ch {
			return true
		}
	}
	return false
}

func matchBSSType(t BSSType, caps Capability) bool {
	switch t {
	case BSSInfrastructure:
		return caps.ESS()
	case BSSIndependent:
		return caps.IBSS()
	default:
		return true
	}
}

func (m Matcher) malformed(element string, e *Entry, err error) {
	if m.OnMalformed != nil {
		m.OnMalformed(element, e.BSSID, err)
	}
}

func (m Matcher) matchFILSRealm(f *Filter, e *Entry) bool {
	if e.IEs.FILSIndication == nil {
		return false
	}
	fils, err := ieee80211.ParseFILSIndication(e.IEs.FILSIndication)
	if err != nil {
		m.malformed("fils_indication", e, err)
		return false
	}
	return fils.HasRealm(f.FILSRealm)
}

func (m Matcher) matchCountry(f *Filter, e *Entry) bool {
	if f.Country == "" {
		return true
	}
	if e.IEs.Country == nil {
		return false
	}
	cc, err := ieee80211.CountryCode(e.IEs.Country)
	if err != nil {
		m.malformed("country", e, err)
		return false
	}
	return len(cc) >= 2 && len(f.Country) >= 2 && cc[:2] == f.Country[:2]
}

func (m Matcher) matchMobilityDomain(f *Filter, e *Entry) bool {
	if f.MobilityDomain == 0 {
		return true
	}
	if e.IEs.MobilityDomain == nil {
		return false
	}
	mdid, err := ieee80211.MobilityDomain(e.IEs.MobilityDomain)
	if err != nil {
		m.malformed("mobility_domain", e, err)
		return false
	}
	return mdid == f.MobilityDomain
}
