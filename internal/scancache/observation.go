package scancache

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/ieee80211"
)

// Observation is the wire form of one scan result as reported by the scan
// engine. Elements are carried as the raw hex encoded TLV stream of the
// frame body.
type Observation struct {
	BSSID          BSSID      `json:"bssid"`
	SSID           string     `json:"ssid,omitempty" validate:"max=32"`
	Channel        uint8      `json:"channel,omitempty"`
	Frequency      uint32     `json:"frequency,omitempty" validate:"lte=7125"`
	PhyMode        PhyMode    `json:"phy_mode,omitempty"`
	Capability     Capability `json:"capability"`
	ProbeResponse  bool       `json:"probe_response,omitempty"`
	RSSI           int        `json:"rssi" validate:"gte=-128,lte=0"`
	SNR            uint8      `json:"snr,omitempty"`
	NSS            uint8      `json:"nss,omitempty" validate:"lte=8"`
	BeaconInterval uint16     `json:"beacon_interval,omitempty"`
	IEs            string     `json:"ies,omitempty" validate:"omitempty,hexadecimal"`
	ObservedAt     time.Time  `json:"observed_at,omitempty"`
	MLMEInfo       MLMEInfo   `json:"mlme_info,omitempty"`
}

// Entry converts the observation into a cache entry. Fields derivable from
// the elements are filled in when the observation leaves them unset.
func (o *Observation) Entry() (*Entry, error) {
	if o.BSSID.IsZero() {
		return nil, errors.NewCacheError(errors.CodeInvalidObservation, "bssid is required")
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(o.IEs, "0x"))
	if err != nil {
		return nil, errors.WrapCacheError(errors.CodeInvalidObservation, "ies is not valid hex", err).
			WithBSSID(o.BSSID.String())
	}
	set, err := ieee80211.ParseElements(raw)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		BSSID:          o.BSSID,
		SSID:           o.SSID,
		FrameSubtype:   FrameBeacon,
		Channel:        o.Channel,
		Frequency:      o.Frequency,
		PhyMode:        o.PhyMode,
		Capability:     o.Capability,
		RSSIRaw:        o.RSSI,
		SNR:            o.SNR,
		NSS:            o.NSS,
		BeaconInterval: o.BeaconInterval,
		ScanEntryTime:  o.ObservedAt,
		MLMEInfo:       o.MLMEInfo,
	}
	if o.ProbeResponse {
		e.FrameSubtype = FrameProbeResponse
	}
	e.ApplyElements(set)

	if e.Channel == 0 && e.Frequency == 0 {
		return nil, errors.NewCacheError(errors.CodeInvalidObservation,
			fmt.Sprintf("observation of %s carries neither channel nor frequency", o.BSSID)).
			WithBSSID(o.BSSID.String())
	}
	return e, nil
}
