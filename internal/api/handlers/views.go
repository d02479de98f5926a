package handlers

import (
	"time"

	"github.com/anstrom/scancache/internal/scancache"
)

// EntryView is the API representation of a cached BSS.
type EntryView struct {
	BSSID           string    `json:"bssid"`
	SSID            string    `json:"ssid"`
	Hidden          bool      `json:"hidden"`
	Channel         uint8     `json:"channel"`
	Frequency       uint32    `json:"frequency"`
	Band            string    `json:"band"`
	PhyMode         string    `json:"phy_mode"`
	RSSI            int       `json:"rssi"`
	AvgRSSI         int       `json:"avg_rssi"`
	Security        []string  `json:"security"`
	AgeMillis       int64     `json:"age_ms"`
	ObservedAt      time.Time `json:"observed_at"`
	ChannelMismatch bool      `json:"channel_mismatch,omitempty"`
	Rank            uint32    `json:"rank,omitempty"`
}

// CandidateView is one ranked connection candidate.
type CandidateView struct {
	EntryView
	Score              int                      `json:"score"`
	Breakdown          scancache.ScoreBreakdown `json:"breakdown"`
	NegotiatedSecurity scancache.SecurityInfo   `json:"negotiated_security"`
}

// InterfaceView summarizes the cache of one interface.
type InterfaceView struct {
	Name       string `json:"name"`
	NumEntries int    `json:"num_entries"`
	MaxEntries int    `json:"max_entries"`
	AgingTime  string `json:"aging_time"`
}

// CandidateListResponse is returned by the candidates endpoint.
type CandidateListResponse struct {
	Interface  string          `json:"interface"`
	Count      int             `json:"count"`
	Scored     bool            `json:"scored"`
	Candidates []CandidateView `json:"candidates"`
}

// EntryListResponse is returned by the entries endpoint.
type EntryListResponse struct {
	Interface string      `json:"interface"`
	Count     int         `json:"count"`
	Entries   []EntryView `json:"entries"`
}

// NewEntryView converts a cache entry for output at now.
func NewEntryView(e *scancache.Entry, now time.Time) EntryView {
	security := e.SecurityType.Names()
	if security == nil {
		security = []string{}
	}
	return EntryView{
		BSSID:           e.BSSID.String(),
		SSID:            e.SSID,
		Hidden:          e.IsHiddenSSID,
		Channel:         e.Channel,
		Frequency:       e.Frequency,
		Band:            e.Band().String(),
		PhyMode:         e.PhyMode.String(),
		RSSI:            e.RSSIRaw,
		AvgRSSI:         e.AvgRSSIdBm(),
		Security:        security,
		AgeMillis:       e.Age(now).Milliseconds(),
		ObservedAt:      e.ScanEntryTime,
		ChannelMismatch: e.ChannelMismatch,
		Rank:            e.MLMEInfo.Rank,
	}
}

// NewCandidateView converts a candidate for output at now.
func NewCandidateView(c *scancache.Candidate, now time.Time) CandidateView {
	return CandidateView{
		EntryView:          NewEntryView(&c.Entry, now),
		Score:              c.BSSScore,
		Breakdown:          c.Breakdown,
		NegotiatedSecurity: c.NegSecInfo,
	}
}

// NewInterfaceView summarizes c.
func NewInterfaceView(c *scancache.Context) InterfaceView {
	return InterfaceView{
		Name:       c.Interface(),
		NumEntries: c.NumEntries(),
		MaxEntries: c.MaxEntries(),
		AgingTime:  c.AgingTime().String(),
	}
}
