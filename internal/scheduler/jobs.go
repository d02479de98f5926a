package scheduler

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/anstrom/scancache/internal/db"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/scancache"
)

// Maintenance job types.
const (
	JobTypeAgeOut   = "age_out"
	JobTypeSnapshot = "snapshot"
	JobTypePrune    = "prune"
)

// SnapshotStore persists cache snapshots. *db.SnapshotRepository
// implements it.
type SnapshotStore interface {
	Create(ctx context.Context, snap *db.Snapshot, entries []*db.SnapshotEntry) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AgeOutJob removes expired entries from every managed cache.
func AgeOutJob(m *scancache.Manager) JobFunc {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if n := m.AgeOutAll(); n > 0 {
			logging.Debug("Aged out scan entries", "count", n)
		}
		return nil
	}
}

// SnapshotJob stores a snapshot of every managed cache. A failing
// interface does not stop the others; the failures are returned joined.
func SnapshotJob(m *scancache.Manager, store SnapshotStore) JobFunc {
	return func(ctx context.Context) error {
		now := time.Now()
		var errs []error
		for _, c := range m.Contexts() {
			if err := ctx.Err(); err != nil {
				return err
			}
			snap, entries, err := db.NewSnapshot(c, now)
			if err == nil {
				err = store.Create(ctx, snap, entries)
			}
			if err != nil {
				logging.ErrorCache("Failed to store cache snapshot", c.Interface(), err)
				errs = append(errs, err)
				continue
			}
			logging.DebugCache("Stored cache snapshot", c.Interface(),
				"snapshot_id", snap.ID, "entries", len(entries))
		}
		return stderrors.Join(errs...)
	}
}

// PruneJob deletes snapshots older than retention.
func PruneJob(store SnapshotStore, retention time.Duration) JobFunc {
	return func(ctx context.Context) error {
		_, err := store.DeleteBefore(ctx, time.Now().Add(-retention))
		return err
	}
}
