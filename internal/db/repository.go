package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/scancache/internal/logging"
)

// DefaultListLimit bounds List when the caller passes no limit.
const DefaultListLimit = 50

// SnapshotRepository stores cache snapshots.
type SnapshotRepository struct {
	db       *DB
	recorder QueryRecorder
}

const deleteSnapshotsQuery = `DELETE FROM cache_snapshots WHERE taken_at < $1`

// NewSnapshotRepository creates a repository. recorder may be nil.
func NewSnapshotRepository(db *DB, recorder QueryRecorder) *SnapshotRepository {
	return &SnapshotRepository{db: db, recorder: recorder}
}

// Create stores a snapshot and its entries in one transaction.
func (r *SnapshotRepository) Create(ctx context.Context, snap *Snapshot, entries []*SnapshotEntry) (err error) {
	start := time.Now()
	defer func() { observe(r.recorder, "create_snapshot", start, err) }()

	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sanitizeDBError("begin snapshot transaction", "", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO cache_snapshots (id, interface, taken_at, num_entries, max_entries)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	if err = tx.QueryRowxContext(ctx, query,
		snap.ID, snap.Interface, snap.TakenAt, snap.NumEntries, snap.MaxEntries,
	).Scan(&snap.CreatedAt); err != nil {
		return sanitizeDBError("create snapshot", query, err)
	}

	if len(entries) > 0 {
		for _, e := range entries {
			e.SnapshotID = snap.ID
		}
		insert := `
			INSERT INTO snapshot_entries (
				snapshot_id, bssid, ssid, hidden, channel, frequency, phy_mode,
				rssi, avg_rssi, security, age_ms, observed_at, mlme_info, channel_mismatch
			) VALUES (
				:snapshot_id, :bssid, :ssid, :hidden, :channel, :frequency, :phy_mode,
				:rssi, :avg_rssi, :security, :age_ms, :observed_at, :mlme_info, :channel_mismatch
			)`
		if _, err = tx.NamedExecContext(ctx, insert, entries); err != nil {
			return sanitizeDBError("create snapshot entries", insert, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return sanitizeDBError("commit snapshot", "", err)
	}
	return nil
}

// Get returns one snapshot by ID.
func (r *SnapshotRepository) Get(ctx context.Context, id uuid.UUID) (snap *Snapshot, err error) {
	start := time.Now()
	defer func() { observe(r.recorder, "get_snapshot", start, err) }()

	snap = &Snapshot{}
	query := `
		SELECT id, interface, taken_at, num_entries, max_entries, created_at
		FROM cache_snapshots
		WHERE id = $1`
	if err = r.db.GetContext(ctx, snap, query, id); err != nil {
		return nil, sanitizeDBError("get snapshot", query, err)
	}
	return snap, nil
}

// List returns the newest snapshots, optionally for one interface.
func (r *SnapshotRepository) List(ctx context.Context, iface string, limit int) (snaps []*Snapshot, err error) {
	start := time.Now()
	defer func() { observe(r.recorder, "list_snapshots", start, err) }()

	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := `
		SELECT id, interface, taken_at, num_entries, max_entries, created_at
		FROM cache_snapshots
		WHERE ($1 = '' OR interface = $1)
		ORDER BY taken_at DESC
		LIMIT $2`
	if err = r.db.SelectContext(ctx, &snaps, query, iface, limit); err != nil {
		return nil, sanitizeDBError("list snapshots", query, err)
	}
	return snaps, nil
}

// Entries returns the entries of a snapshot ordered by average RSSI.
func (r *SnapshotRepository) Entries(ctx context.Context, id uuid.UUID) (entries []*SnapshotEntry, err error) {
	start := time.Now()
	defer func() { observe(r.recorder, "snapshot_entries", start, err) }()

	query := `
		SELECT snapshot_id, bssid, ssid, hidden, channel, frequency, phy_mode,
		       rssi, avg_rssi, security, age_ms, observed_at, mlme_info, channel_mismatch
		FROM snapshot_entries
		WHERE snapshot_id = $1
		ORDER BY avg_rssi DESC`
	if err = r.db.SelectContext(ctx, &entries, query, id); err != nil {
		return nil, sanitizeDBError("list snapshot entries", query, err)
	}
	return entries, nil
}

// DeleteBefore removes snapshots taken before cutoff. Entries go with them
// through the foreign key cascade.
func (r *SnapshotRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	start := time.Now()
	defer func() { observe(r.recorder, "delete_snapshots", start, err) }()

	res, err := r.db.ExecContext(ctx, deleteSnapshotsQuery, cutoff)
	if err != nil {
		return 0, sanitizeDBError("delete snapshots", deleteSnapshotsQuery, err)
	}
	if n, err = res.RowsAffected(); err != nil {
		return 0, sanitizeDBError("delete snapshots", deleteSnapshotsQuery, err)
	}
	if n > 0 {
		logging.InfoDatabase("Pruned cache snapshots", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
