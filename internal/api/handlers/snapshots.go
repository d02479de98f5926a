package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/anstrom/scancache/internal/db"
	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/metrics"
)

// SnapshotReader reads persisted cache snapshots. *db.SnapshotRepository
// implements it.
type SnapshotReader interface {
	List(ctx context.Context, iface string, limit int) ([]*db.Snapshot, error)
	Get(ctx context.Context, id uuid.UUID) (*db.Snapshot, error)
	Entries(ctx context.Context, id uuid.UUID) ([]*db.SnapshotEntry, error)
}

// SnapshotHandler serves the snapshot history endpoints.
type SnapshotHandler struct {
	BaseHandler
	reader SnapshotReader
}

// SnapshotListResponse is returned by the list endpoint.
type SnapshotListResponse struct {
	Count     int            `json:"count"`
	Snapshots []*db.Snapshot `json:"snapshots"`
}

// SnapshotDetailResponse is a snapshot together with its entries.
type SnapshotDetailResponse struct {
	*db.Snapshot
	Entries []*db.SnapshotEntry `json:"entries"`
}

// NewSnapshotHandler creates a snapshot handler. A nil reader makes every
// endpoint report that persistence is disabled.
func NewSnapshotHandler(reader SnapshotReader, logger *slog.Logger, metricsRegistry metrics.MetricsRegistry) *SnapshotHandler {
	base := NewBaseHandler(logger, metricsRegistry, 0)
	base.logger = base.logger.With("handler", "snapshots")
	return &SnapshotHandler{BaseHandler: base, reader: reader}
}

var errSnapshotsDisabled = errors.NewCacheError(errors.CodeServiceUnavailable, "snapshot persistence is not enabled")

// ListSnapshots handles GET /snapshots?iface=&limit=.
func (h *SnapshotHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, r, http.StatusServiceUnavailable, errSnapshotsDisabled)
		return
	}
	limit, err := getQueryParamInt(r, "limit", db.DefaultListLimit, 1, 500)
	if err != nil {
		h.handleError(w, r, "list snapshots", err)
		return
	}

	snaps, err := h.reader.List(r.Context(), r.URL.Query().Get("iface"), limit)
	if err != nil {
		h.handleError(w, r, "list snapshots", err)
		return
	}
	if snaps == nil {
		snaps = []*db.Snapshot{}
	}
	writeJSON(w, r, http.StatusOK, SnapshotListResponse{Count: len(snaps), Snapshots: snaps})
}

// GetSnapshot handles GET /snapshots/{id}. Entries are included unless
// entries=false is passed.
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, r, http.StatusServiceUnavailable, errSnapshotsDisabled)
		return
	}
	id, err := extractUUIDFromPath(r)
	if err != nil {
		h.handleError(w, r, "get snapshot", err)
		return
	}

	snap, err := h.reader.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, r, "get snapshot", err)
		return
	}
	response := SnapshotDetailResponse{Snapshot: snap}
	if r.URL.Query().Get("entries") != "false" {
		entries, err := h.reader.Entries(r.Context(), id)
		if err != nil {
			h.handleError(w, r, "get snapshot entries", err)
			return
		}
		if entries == nil {
			entries = []*db.SnapshotEntry{}
		}
		response.Entries = entries
	}
	writeJSON(w, r, http.StatusOK, response)
}
