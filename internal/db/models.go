package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/anstrom/scancache/internal/scancache"
)

// MACAddr wraps net.HardwareAddr to implement PostgreSQL MACADDR type.
type MACAddr struct {
	net.HardwareAddr
}

// Scan implements sql.Scanner for PostgreSQL MACADDR type.
func (mac *MACAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into MACAddr", value)
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return fmt.Errorf("failed to parse MAC address: %w", err)
	}
	mac.HardwareAddr = hw
	return nil
}

// Value implements driver.Valuer for PostgreSQL MACADDR type.
func (mac MACAddr) Value() (driver.Value, error) {
	if mac.HardwareAddr == nil {
		return nil, nil
	}
	return mac.HardwareAddr.String(), nil
}

// String returns the MAC address string.
func (mac MACAddr) String() string {
	if mac.HardwareAddr == nil {
		return ""
	}
	return mac.HardwareAddr.String()
}

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append(JSONB(nil), v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = append(JSONB(nil), data...)
	return nil
}

// Snapshot is one recorded state of an interface cache.
type Snapshot struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Interface  string    `db:"interface" json:"interface"`
	TakenAt    time.Time `db:"taken_at" json:"taken_at"`
	NumEntries int       `db:"num_entries" json:"num_entries"`
	MaxEntries int       `db:"max_entries" json:"max_entries"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SnapshotEntry is one cached BSS inside a snapshot.
type SnapshotEntry struct {
	SnapshotID      uuid.UUID      `db:"snapshot_id" json:"snapshot_id"`
	BSSID           MACAddr        `db:"bssid" json:"bssid"`
	SSID            string         `db:"ssid" json:"ssid"`
	Hidden          bool           `db:"hidden" json:"hidden"`
	Channel         int            `db:"channel" json:"channel"`
	Frequency       int            `db:"frequency" json:"frequency"`
	PhyMode         string         `db:"phy_mode" json:"phy_mode"`
	RSSI            int            `db:"rssi" json:"rssi"`
	AvgRSSI         int            `db:"avg_rssi" json:"avg_rssi"`
	Security        pq.StringArray `db:"security" json:"security"`
	AgeMillis       int64          `db:"age_ms" json:"age_ms"`
	ObservedAt      time.Time      `db:"observed_at" json:"observed_at"`
	MLMEInfo        JSONB          `db:"mlme_info" json:"mlme_info,omitempty"`
	ChannelMismatch bool           `db:"channel_mismatch" json:"channel_mismatch"`
}

// NewSnapshot walks cache and returns a snapshot of its entries at now.
func NewSnapshot(cache *scancache.Context, now time.Time) (*Snapshot, []*SnapshotEntry, error) {
	snap := &Snapshot{
		ID:         uuid.New(),
		Interface:  cache.Interface(),
		TakenAt:    now,
		MaxEntries: cache.MaxEntries(),
	}

	var entries []*SnapshotEntry
	err := cache.Iterate(func(e *scancache.Entry) error {
		se, err := snapshotEntry(snap.ID, e, now)
		if err != nil {
			return err
		}
		entries = append(entries, se)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	snap.NumEntries = len(entries)
	return snap, entries, nil
}

func snapshotEntry(id uuid.UUID, e *scancache.Entry, now time.Time) (*SnapshotEntry, error) {
	mlme, err := json.Marshal(e.MLMEInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mlme info: %w", err)
	}
	security := e.SecurityType.Names()
	if security == nil {
		security = []string{}
	}
	return &SnapshotEntry{
		SnapshotID:      id,
		BSSID:           MACAddr{HardwareAddr: net.HardwareAddr(e.BSSID[:])},
		SSID:            e.SSID,
		Hidden:          e.IsHiddenSSID,
		Channel:         int(e.Channel),
		Frequency:       int(e.Frequency),
		PhyMode:         e.PhyMode.String(),
		RSSI:            e.RSSIRaw,
		AvgRSSI:         e.AvgRSSIdBm(),
		Security:        security,
		AgeMillis:       e.Age(now).Milliseconds(),
		ObservedAt:      e.ScanEntryTime,
		MLMEInfo:        JSONB(mlme),
		ChannelMismatch: e.ChannelMismatch,
	}, nil
}
