// Package scancache implements the per-interface scan result cache and the
// candidate selection engine built on top of it.
//
// A Context owns one hash table of refcounted scan entries. Observations are
// merged into the table by Ingest, removed by AgeOut, Flush and capacity
// eviction, and read back as a scored, ordered candidate list by
// GetCandidates. Entries linked into the table are never modified in place;
// an update replaces the node, so readers holding a reference can inspect an
// entry without the table lock.
package scancache

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/anstrom/scancache/internal/ieee80211"
)

// BSSID is an access point MAC address.
type BSSID [6]byte

// ParseBSSID parses a colon or dash separated MAC address.
func ParseBSSID(s string) (BSSID, error) {
	var b BSSID
	hw, err := net.ParseMAC(s)
	if err != nil {
		return b, err
	}
	if len(hw) != len(b) {
		return b, fmt.Errorf("invalid bssid length: %s", s)
	}
	copy(b[:], hw)
	return b, nil
}

// String returns the canonical lower-case form.
func (b BSSID) String() string {
	return net.HardwareAddr(b[:]).String()
}

// IsZero reports whether the address is unset.
func (b BSSID) IsZero() bool {
	return b == BSSID{}
}

// MarshalText implements encoding.TextMarshaler.
func (b BSSID) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *BSSID) UnmarshalText(text []byte) error {
	parsed, err := ParseBSSID(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// FrameSubtype identifies the management frame an observation came from.
type FrameSubtype uint8

const (
	FrameBeacon        FrameSubtype = 8
	FrameProbeResponse FrameSubtype = 5
)

// String returns the subtype name.
func (f FrameSubtype) String() string {
	switch f {
	case FrameBeacon:
		return "beacon"
	case FrameProbeResponse:
		return "probe_response"
	default:
		return fmt.Sprintf("subtype(%d)", uint8(f))
	}
}

// Capability is the 802.11 capability information field.
type Capability uint16

const (
	CapESS     Capability = 0x0001
	CapIBSS    Capability = 0x0002
	CapPrivacy Capability = 0x0010
)

// ESS reports an infrastructure BSS.
func (c Capability) ESS() bool { return c&CapESS != 0 }

// IBSS reports an independent BSS.
func (c Capability) IBSS() bool { return c&CapIBSS != 0 }

// Privacy reports that the BSS requires encryption.
func (c Capability) Privacy() bool { return c&CapPrivacy != 0 }

// PhyMode is the operating PHY mode of a BSS.
type PhyMode uint8

const (
	PhyModeUnknown PhyMode = iota
	PhyMode11A
	PhyMode11B
	PhyMode11G
	PhyMode11NAHT20
	PhyMode11NGHT20
	PhyMode11NAHT40
	PhyMode11NAHT40Plus
	PhyMode11NAHT40Minus
	PhyMode11NGHT40
	PhyMode11NGHT40Plus
	PhyMode11NGHT40Minus
	PhyMode11ACVHT20
	PhyMode11ACVHT40
	PhyMode11ACVHT40Plus
	PhyMode11ACVHT40Minus
	PhyMode11ACVHT80
	PhyMode11ACVHT160
	PhyMode11ACVHT80Plus80
)

var phyModeNames = map[PhyMode]string{
	PhyModeUnknown:         "unknown",
	PhyMode11A:             "11a",
	PhyMode11B:             "11b",
	PhyMode11G:             "11g",
	PhyMode11NAHT20:        "11na_ht20",
	PhyMode11NGHT20:        "11ng_ht20",
	PhyMode11NAHT40:        "11na_ht40",
	PhyMode11NAHT40Plus:    "11na_ht40plus",
	PhyMode11NAHT40Minus:   "11na_ht40minus",
	PhyMode11NGHT40:        "11ng_ht40",
	PhyMode11NGHT40Plus:    "11ng_ht40plus",
	PhyMode11NGHT40Minus:   "11ng_ht40minus",
	PhyMode11ACVHT20:       "11ac_vht20",
	PhyMode11ACVHT40:       "11ac_vht40",
	PhyMode11ACVHT40Plus:   "11ac_vht40plus",
	PhyMode11ACVHT40Minus:  "11ac_vht40minus",
	PhyMode11ACVHT80:       "11ac_vht80",
	PhyMode11ACVHT160:      "11ac_vht160",
	PhyMode11ACVHT80Plus80: "11ac_vht80_80",
}

// String returns the mode name.
func (p PhyMode) String() string {
	if name, ok := phyModeNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phymode(%d)", uint8(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p PhyMode) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PhyMode) UnmarshalText(text []byte) error {
	for mode, name := range phyModeNames {
		if name == string(text) {
			*p = mode
			return nil
		}
	}
	return fmt.Errorf("unknown phy mode: %s", text)
}

// channelWidthIndex maps the PHY mode to the bandwidth table slot.
func (p PhyMode) channelWidthIndex() int {
	switch p {
	case PhyMode11ACVHT80Plus80, PhyMode11ACVHT160:
		return bw160MHzIndex
	case PhyMode11ACVHT80:
		return bw80MHzIndex
	case PhyMode11NAHT40Plus, PhyMode11NAHT40Minus,
		PhyMode11NGHT40Plus, PhyMode11NGHT40Minus,
		PhyMode11NGHT40, PhyMode11NAHT40,
		PhyMode11ACVHT40Plus, PhyMode11ACVHT40Minus, PhyMode11ACVHT40:
		return bw40MHzIndex
	default:
		return bw20MHzIndex
	}
}

// MLMEInfo is connection-manager state attached to an entry. The cache never
// interprets it; it is carried across merges.
type MLMEInfo struct {
	BadAPTime  time.Time `json:"bad_ap_time,omitempty"`
	Status     uint32    `json:"status"`
	Rank       uint32    `json:"rank"`
	Utility    uint32    `json:"utility"`
	AssocState uint32    `json:"assoc_state"`
	ChanLoad   uint32    `json:"chan_load"`
}

// SecurityType is a summary bitmap of the security schemes an AP advertises.
type SecurityType uint8

const (
	SecurityOpen SecurityType = 1 << iota
	SecurityWEP
	SecurityWPA
	SecurityRSN
	SecurityWAPI
)

var securityTypeNames = []struct {
	bit  SecurityType
	name string
}{
	{SecurityOpen, "open"},
	{SecurityWEP, "wep"},
	{SecurityWPA, "wpa"},
	{SecurityRSN, "rsn"},
	{SecurityWAPI, "wapi"},
}

// Names lists the set schemes, weakest first.
func (s SecurityType) Names() []string {
	var out []string
	for _, n := range securityTypeNames {
		if s&n.bit != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

func (s SecurityType) String() string {
	return strings.Join(s.Names(), "+")
}

// Entry is one observed BSS.
type Entry struct {
	BSSID        BSSID        `json:"bssid"`
	SSID         string       `json:"ssid"`
	IsHiddenSSID bool         `json:"is_hidden_ssid"`
	FrameSubtype FrameSubtype `json:"frame_subtype"`
	Channel      uint8        `json:"channel"`
	Frequency    uint32       `json:"frequency"`
	PhyMode      PhyMode      `json:"phy_mode"`
	Capability   Capability   `json:"capability"`
	SecurityType SecurityType `json:"security_type"`

	RSSIRaw         int    `json:"rssi"`
	AvgRSSI         int    `json:"avg_rssi"`
	SNR             uint8  `json:"snr"`
	BeaconInterval  uint16 `json:"beacon_interval"`
	NSS             uint8  `json:"nss"`
	AirTimeFraction uint8  `json:"air_time_fraction"`
	QBSSChanLoad    uint8  `json:"qbss_chan_load"`
	IsP2P           bool   `json:"is_p2p"`
	Adaptive11r     bool   `json:"adaptive_11r"`

	IEs    ieee80211.ElementSet `json:"ies"`
	AltWCN []byte               `json:"alt_wcn,omitempty"`

	ScanEntryTime       time.Time `json:"scan_entry_time"`
	RSSITimestamp       time.Time `json:"rssi_timestamp"`
	HiddenSSIDTimestamp time.Time `json:"hidden_ssid_timestamp"`
	ChannelMismatch     bool      `json:"channel_mismatch"`
	MLMEInfo            MLMEInfo  `json:"mlme_info"`

	BSSScore   int          `json:"bss_score"`
	NegSecInfo SecurityInfo `json:"neg_sec_info"`
}

// AvgRSSIdBm returns the smoothed RSSI rounded to whole dBm. AvgRSSI is kept
// in hundredths of a dBm.
func (e *Entry) AvgRSSIdBm() int {
	return roundDiv(e.AvgRSSI, rssiEPMultiplier)
}

// Age returns how long ago the entry was last refreshed.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.ScanEntryTime)
}

// HiddenSSID reports an empty or all-zero SSID.
func (e *Entry) HiddenSSID() bool {
	for i := 0; i < len(e.SSID); i++ {
		if e.SSID[i] != 0 {
			return false
		}
	}
	return true
}

// Band returns the frequency band of the entry's channel.
func (e *Entry) Band() Band {
	return bandOf(e.Channel, e.Frequency)
}

// Clone returns a deep copy. Element bodies are copied so the result shares
// no memory with the receiver.
func (e *Entry) Clone() *Entry {
	cp := *e
	cp.IEs = cloneElements(e.IEs)
	cp.AltWCN = cloneBytes(e.AltWCN)
	return &cp
}

// ApplyElements fills the fields that are derived from the advertised
// elements. Fields already set by the caller are kept.
func (e *Entry) ApplyElements(set *ieee80211.ElementSet) {
	e.IEs = *set
	if e.SSID == "" && set.SSID != nil {
		e.SSID = string(set.SSID)
	}
	if e.Channel == 0 {
		if ch, ok := ieee80211.HTPrimaryChannel(set.HTInfo); ok {
			e.Channel = ch
		} else if ch, ok := ieee80211.DSChannel(set.DSParams); ok {
			e.Channel = ch
		}
	}
	if e.AirTimeFraction == 0 {
		if atf, ok := ieee80211.AirTimeFraction(set.ESP); ok {
			e.AirTimeFraction = atf
		}
	}
	if e.QBSSChanLoad == 0 && set.QBSSLoad != nil {
		if load, err := ieee80211.QBSSChannelLoad(set.QBSSLoad); err == nil {
			e.QBSSChanLoad = load
		}
	}
	e.IsP2P = e.IsP2P || set.P2P
	e.Adaptive11r = e.Adaptive11r || set.Adaptive11r
}

// deriveSecurityType computes the security summary from the capability bits
// and the security elements present.
func deriveSecurityType(e *Entry) SecurityType {
	var st SecurityType
	if e.IEs.RSN != nil {
		st |= SecurityRSN
	}
	if e.IEs.WPA != nil {
		st |= SecurityWPA
	}
	if e.IEs.WAPI != nil {
		st |= SecurityWAPI
	}
	if st == 0 {
		if e.Capability.Privacy() {
			st = SecurityWEP
		} else {
			st = SecurityOpen
		}
	}
	return st
}

// Band is a frequency band.
type Band uint8

const (
	BandUnknown Band = iota
	Band2GHz
	Band5GHz
)

// String returns the band name.
func (b Band) String() string {
	switch b {
	case Band2GHz:
		return "2.4GHz"
	case Band5GHz:
		return "5GHz"
	default:
		return "unknown"
	}
}

func bandOf(channel uint8, freq uint32) Band {
	switch {
	case freq >= 2412 && freq <= 2484:
		return Band2GHz
	case freq >= 5150 && freq <= 5925:
		return Band5GHz
	case freq != 0:
		return BandUnknown
	case channel >= 1 && channel <= 14:
		return Band2GHz
	case channel >= 36 && channel <= 177:
		return Band5GHz
	default:
		return BandUnknown
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

func cloneElements(s ieee80211.ElementSet) ieee80211.ElementSet {
	out := s
	for _, p := range []*[]byte{
		&out.SSID, &out.DSParams, &out.Country, &out.QBSSLoad, &out.HTCap,
		&out.HTInfo, &out.RSN, &out.WPA, &out.WAPI, &out.VHTCap, &out.VHTOp,
		&out.HECap, &out.ESP, &out.ExtCaps, &out.MobilityDomain,
		&out.FILSIndication, &out.MBOOCE, &out.WMMInfo, &out.WMMParam,
		&out.WCN, &out.RRM,
	} {
		*p = cloneBytes(*p)
	}
	return out
}

// roundDiv divides rounding half away from zero.
func roundDiv(n, d int) int {
	if n < 0 {
		return -((-n + d/2) / d)
	}
	return (n + d/2) / d
}
