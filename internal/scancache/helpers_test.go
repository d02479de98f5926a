package scancache

import (
	"sync"
	"testing"
	"time"

	"github.com/anstrom/scancache/internal/ieee80211"
	"github.com/anstrom/scancache/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestContext(t *testing.T, opts Options) (*Context, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	if opts.Clock == nil {
		opts.Clock = clock
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	return NewContext("wlan0", opts), clock
}

func bssid(last byte) BSSID {
	return BSSID{0x02, 0x11, 0x22, 0x33, 0x44, last}
}

func le16(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func join(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// rsnIE builds an RSN element body with one pairwise cipher.
func rsnIE(group, pairwise uint8, caps uint16, akms ...uint8) []byte {
	body := join(le16(1), le32(ieee80211.RSNSelector(group)), le16(1), le32(ieee80211.RSNSelector(pairwise)))
	body = append(body, le16(uint16(len(akms)))...)
	for _, a := range akms {
		body = append(body, le32(ieee80211.RSNSelector(a))...)
	}
	return append(body, le16(caps)...)
}

// wpaIE builds a WPA vendor element body with one unicast cipher.
func wpaIE(group, unicast uint8, akms ...uint8) []byte {
	body := join([]byte{0x00, 0x50, 0xf2, 0x01}, le16(1),
		le32(ieee80211.WPASelector(group)), le16(1), le32(ieee80211.WPASelector(unicast)))
	body = append(body, le16(uint16(len(akms)))...)
	for _, a := range akms {
		body = append(body, le32(ieee80211.WPASelector(a))...)
	}
	return body
}

func wapiIE(akm uint8) []byte {
	return join(
		le16(1),
		le16(1), le32(ieee80211.WAPISelector(akm)),
		le16(1), le32(ieee80211.WAPISelector(ieee80211.WAICertOrSMS4)),
		le32(ieee80211.WAPISelector(ieee80211.WAICertOrSMS4)),
		le16(0),
	)
}

// apEntry returns an infrastructure AP observation on channel ch.
func apEntry(b BSSID, ssid string, ch uint8, rssi int) *Entry {
	return &Entry{
		BSSID:        b,
		SSID:         ssid,
		FrameSubtype: FrameBeacon,
		Channel:      ch,
		Capability:   CapESS,
		RSSIRaw:      rssi,
		IEs:          ieee80211.ElementSet{DSParams: []byte{ch}},
	}
}

// rsnPSKEntry is a WPA2-personal AP.
func rsnPSKEntry(b BSSID, ssid string, ch uint8, rssi int, caps uint16) *Entry {
	e := apEntry(b, ssid, ch, rssi)
	e.Capability |= CapPrivacy
	e.IEs.RSN = rsnIE(ieee80211.CipherCCMP, ieee80211.CipherCCMP, caps, ieee80211.AKMPSK)
	return e
}
