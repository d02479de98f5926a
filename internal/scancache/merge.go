package scancache

import (
	"bytes"
	"time"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/metrics"
)

// Ingest adds one observation to the cache. A live entry describing the same
// BSS is merged into the observation and replaced by it. The cache keeps its
// own copy of e.
func (c *Context) Ingest(e *Entry) error {
	if e == nil || !c.allocOK() {
		c.allocFailed()
		return errors.ErrOutOfMemory(c.iface)
	}
	now := c.opts.Clock.Now()
	entry := e.Clone()
	prepareObservation(entry, now)

	c.ingestMu.Lock()
	merged := c.findAndMerge(entry, now)
	evicted := c.insert(entry, !merged)
	c.ingestMu.Unlock()
	c.recordEvictions(evicted)

	labels := metrics.Labels{metrics.LabelInterface: c.iface}
	if merged {
		c.opts.Metrics.Counter(metrics.MetricCacheMerges, labels)
		if c.opts.Collector != nil {
			c.opts.Collector.IncrementMerges(c.iface)
		}
		c.emit(EventMerged, entry)
	} else {
		c.opts.Metrics.Counter(metrics.MetricCacheInserts, labels)
		if c.opts.Collector != nil {
			c.opts.Collector.IncrementInserts(c.iface)
		}
		c.emit(EventInserted, entry)
	}
	return nil
}

// prepareObservation sets the bookkeeping fields of a fresh observation.
func prepareObservation(e *Entry, now time.Time) {
	if e.ScanEntryTime.IsZero() {
		e.ScanEntryTime = now
	}
	if e.RSSITimestamp.IsZero() {
		e.RSSITimestamp = now
	}
	e.AvgRSSI = e.RSSIRaw * rssiEPMultiplier
	e.IsHiddenSSID = e.HiddenSSID()
	if !e.IsHiddenSSID {
		e.HiddenSSIDTimestamp = e.ScanEntryTime
	}
	e.SecurityType = deriveSecurityType(e)
	e.ChannelMismatch = false
	e.BSSScore = 0
	e.NegSecInfo = SecurityInfo{}
}

// entriesMatch reports whether two observations describe the same BSS. An
// empty SSID on either side matches any SSID of the same infrastructure BSS.
func entriesMatch(a, b *Entry) bool {
	if a.Capability.ESS() != b.Capability.ESS() {
		return false
	}
	switch {
	case a.Capability.ESS():
		if a.BSSID != b.BSSID {
			return false
		}
		return a.SSID == b.SSID || a.HiddenSSID() || b.HiddenSSID()
	case a.Capability.IBSS():
		return a.Channel == b.Channel && a.SSID == b.SSID
	default:
		// P2P devices set neither ESS nor IBSS.
		return a.BSSID == b.BSSID
	}
}

// findAndMerge looks for a live entry matching e. On a match the old state
// is folded into e and the old node deleted.
func (c *Context) findAndMerge(e *Entry, now time.Time) bool {
	b := bucketFor(e.BSSID)
	for n := c.nextValid(b, nil); n != nil; n = c.nextValid(b, n) {
		if !entriesMatch(e, n.entry) {
			continue
		}
		mergeEntries(e, n.entry, now)
		c.release(n, true)
		c.log.Debug("Merged scan entry", "bssid", e.BSSID.String(), "ssid", e.SSID)
		return true
	}
	return false
}

// mergeEntries carries state from old into the new observation.
func mergeEntries(e, old *Entry, now time.Time) {
	// A probe response to a wildcard probe may come from a hidden AP whose
	// real SSID was seen recently.
	if e.IsHiddenSSID && !old.IsHiddenSSID &&
		now.Sub(old.HiddenSSIDTimestamp) <= HiddenSSIDTime {
		e.SSID = old.SSID
		e.IsHiddenSSID = false
		e.HiddenSSIDTimestamp = old.HiddenSSIDTimestamp
		if e.IEs.SSID != nil {
			e.IEs.SSID = []byte(old.SSID)
		}
	}

	// Beacons heard on an adjacent channel carry no channel information of
	// their own.
	if e.FrameSubtype == FrameBeacon &&
		e.IEs.HTInfo == nil && e.IEs.DSParams == nil &&
		e.Channel != old.Channel &&
		e.RSSIRaw < AdjacentChannelRSSIThreshold {
		e.Channel = old.Channel
		e.Frequency = old.Frequency
		e.ChannelMismatch = true
	}

	switch {
	case e.ChannelMismatch:
		e.RSSIRaw = old.RSSIRaw
		e.AvgRSSI = old.AvgRSSI
		e.RSSITimestamp = old.RSSITimestamp
	case e.RSSITimestamp.Sub(old.RSSITimestamp) > RSSIAveragingTime:
		e.AvgRSSI = e.RSSIRaw * rssiEPMultiplier
	default:
		e.AvgRSSI = lpfRSSI(old.AvgRSSI, e.RSSIRaw)
		e.RSSITimestamp = old.RSSITimestamp
	}

	if e.FrameSubtype != old.FrameSubtype {
		if wcn := old.IEs.WCN; wcn != nil && len(wcn) <= MaxWCNLen {
			e.AltWCN = bytes.Clone(wcn)
		}
	}

	e.MLMEInfo = old.MLMEInfo
}

// lpfRSSI applies one step of the RSSI low pass filter. avg is in hundredths
// of a dBm, raw in dBm.
func lpfRSSI(avg, raw int) int {
	in := raw * rssiEPMultiplier
	return avg + roundDiv(in-avg, rssiLPFLen)
}
