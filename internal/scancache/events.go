package scancache

import "time"

// EventType names a cache change.
type EventType string

const (
	EventInserted EventType = "inserted"
	EventMerged   EventType = "merged"
	EventEvicted  EventType = "evicted"
	EventAgedOut  EventType = "aged_out"
	EventFlushed  EventType = "flushed"
)

// Event describes one change to a cache. Sinks are called outside the table
// lock and must not block.
type Event struct {
	Type      EventType `json:"type"`
	Interface string    `json:"interface"`
	BSSID     BSSID     `json:"bssid"`
	SSID      string    `json:"ssid"`
	Channel   uint8     `json:"channel"`
	RSSI      int       `json:"rssi"`
	Time      time.Time `json:"time"`
}

// EventSink receives cache events.
type EventSink func(Event)

func eventForRemoval(reason string) EventType {
	switch reason {
	case ReasonAged:
		return EventAgedOut
	case ReasonEvicted:
		return EventEvicted
	default:
		return EventFlushed
	}
}

func (c *Context) emit(t EventType, e *Entry) {
	if c.opts.Events == nil {
		return
	}
	c.opts.Events(Event{
		Type:      t,
		Interface: c.iface,
		BSSID:     e.BSSID,
		SSID:      e.SSID,
		Channel:   e.Channel,
		RSSI:      e.RSSIRaw,
		Time:      c.opts.Clock.Now(),
	})
}
