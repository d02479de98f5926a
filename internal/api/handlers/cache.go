// Package handlers provides HTTP request handlers for the scancache API.
// This file implements the interface, observation, entry, candidate and
// scoring endpoints.
package handlers

import (
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/metrics"
	"github.com/anstrom/scancache/internal/scancache"
)

const maxCandidateLimit = 1000

// CacheHandler serves the scan caches of a manager.
type CacheHandler struct {
	BaseHandler
	manager                *scancache.Manager
	defaultScoringRequired bool
	now                    func() time.Time
}

// NewCacheHandler creates a cache handler. defaultScoringRequired applies to
// candidate requests that do not say whether they want scoring.
func NewCacheHandler(
	manager *scancache.Manager,
	defaultScoringRequired bool,
	logger *slog.Logger,
	metricsRegistry metrics.MetricsRegistry,
	maxRequestSize int64,
) *CacheHandler {
	base := NewBaseHandler(logger, metricsRegistry, maxRequestSize)
	base.logger = base.logger.With("handler", "cache")
	return &CacheHandler{
		BaseHandler:            base,
		manager:                manager,
		defaultScoringRequired: defaultScoringRequired,
		now:                    time.Now,
	}
}

// AddInterfaceRequest creates the cache of an interface.
type AddInterfaceRequest struct {
	Name string `json:"name" validate:"required,max=15,printascii,excludesall=/"`
}

// IngestRequest carries a batch of observations.
type IngestRequest struct {
	Observations []scancache.Observation `json:"observations" validate:"required,min=1,max=1000"`
}

// IngestRejection reports one observation that was not cached.
type IngestRejection struct {
	Index int    `json:"index"`
	BSSID string `json:"bssid,omitempty"`
	Error string `json:"error"`
}

// IngestResponse summarizes an ingest request.
type IngestResponse struct {
	Interface string            `json:"interface"`
	Accepted  int               `json:"accepted"`
	Rejected  []IngestRejection `json:"rejected,omitempty"`
	Entries   int               `json:"num_entries"`
}

// CandidateRequest selects candidates. The embedded filter is extended with
// a duration string for the age threshold, an optional scoring switch and
// a result limit.
type CandidateRequest struct {
	scancache.Filter
	AgeThreshold    string `json:"age_threshold,omitempty"`
	ScoringRequired *bool  `json:"scoring_required,omitempty"`
	Limit           int    `json:"limit,omitempty" validate:"gte=0,lte=1000"`
}

// NewCandidateRequest wraps f for transmission.
func NewCandidateRequest(f scancache.Filter, limit int) CandidateRequest {
	req := CandidateRequest{Filter: f, Limit: limit}
	if f.AgeThreshold > 0 {
		req.AgeThreshold = f.AgeThreshold.String()
	}
	scoring := !f.SkipScoring
	req.ScoringRequired = &scoring
	return req
}

func (req *CandidateRequest) filter(defaultScoring bool) (*scancache.Filter, error) {
	f := req.Filter
	f.AgeThreshold = 0
	if req.AgeThreshold != "" {
		d, err := time.ParseDuration(req.AgeThreshold)
		if err != nil || d < 0 {
			return nil, errors.NewCacheError(errors.CodeValidation,
				"age_threshold must be a non-negative duration such as 5s")
		}
		f.AgeThreshold = d
	}
	f.SkipScoring = !defaultScoring
	if req.ScoringRequired != nil {
		f.SkipScoring = !*req.ScoringRequired
	}
	return &f, nil
}

// FlushResponse reports how many entries a flush removed.
type FlushResponse struct {
	Interface string `json:"interface"`
	Removed   int    `json:"removed"`
}

// PruneRequest lists the frequencies that remain valid.
type PruneRequest struct {
	ValidFrequencies []uint32 `json:"valid_frequencies" validate:"required,min=1"`
}

// ScoringResponse carries the active scoring configuration.
type ScoringResponse struct {
	Config   scancache.ScoringConfig `json:"config"`
	Adjusted bool                    `json:"adjusted"`
}

// ListInterfaces handles GET /api/v1/interfaces.
func (h *CacheHandler) ListInterfaces(w http.ResponseWriter, r *http.Request) {
	contexts := h.manager.Contexts()
	views := make([]InterfaceView, 0, len(contexts))
	for _, c := range contexts {
		views = append(views, NewInterfaceView(c))
	}
	writeJSON(w, r, http.StatusOK, views)
}

// GetInterface handles GET /api/v1/interfaces/{iface}.
func (h *CacheHandler) GetInterface(w http.ResponseWriter, r *http.Request) {
	c, err := h.manager.Get(pathInterface(r))
	if err != nil {
		h.handleError(w, r, "get interface", err)
		return
	}
	writeJSON(w, r, http.StatusOK, NewInterfaceView(c))
}

// AddInterface handles POST /api/v1/interfaces.
func (h *CacheHandler) AddInterface(w http.ResponseWriter, r *http.Request) {
	var req AddInterfaceRequest
	if err := h.parseJSON(w, r, &req); err != nil {
		h.handleError(w, r, "add interface", err)
		return
	}
	if strings.ContainsAny(req.Name, " \t") {
		writeError(w, r, http.StatusBadRequest,
			errors.NewCacheError(errors.CodeValidation, "interface name must not contain whitespace"))
		return
	}

	c, err := h.manager.Add(req.Name)
	if err != nil {
		h.handleError(w, r, "add interface", err)
		return
	}
	h.logger.Info("Interface cache created", "request_id", requestID(r), "interface", req.Name)
	h.recordMetric("api_interfaces_added_total", nil)
	writeJSON(w, r, http.StatusCreated, NewInterfaceView(c))
}

// RemoveInterface handles DELETE /api/v1/interfaces/{iface}.
func (h *CacheHandler) RemoveInterface(w http.ResponseWriter, r *http.Request) {
	iface := pathInterface(r)
	if err := h.manager.Remove(iface); err != nil {
		h.handleError(w, r, "remove interface", err)
		return
	}
	h.logger.Info("Interface cache removed", "request_id", requestID(r), "interface", iface)
	w.WriteHeader(http.StatusNoContent)
}

// Ingest handles POST /api/v1/interfaces/{iface}/observations.
func (h *CacheHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	iface := pathInterface(r)
	c, err := h.manager.Get(iface)
	if err != nil {
		h.handleError(w, r, "ingest observations", err)
		return
	}

	var req IngestRequest
	if err := h.parseJSON(w, r, &req); err != nil {
		h.handleError(w, r, "ingest observations", err)
		return
	}

	resp := IngestResponse{Interface: iface}
	var firstErr error
	for i := range req.Observations {
		obs := &req.Observations[i]
		err := validateStruct(obs)
		if err == nil {
			var entry *scancache.Entry
			if entry, err = obs.Entry(); err == nil {
				err = c.Ingest(entry)
			}
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			resp.Rejected = append(resp.Rejected, IngestRejection{
				Index: i,
				BSSID: obs.BSSID.String(),
				Error: errorMessage(err),
			})
			continue
		}
		resp.Accepted++
	}

	h.recordMetric("api_observations_total", metrics.Labels{"interface": iface, "status": "accepted"})
	if len(resp.Rejected) > 0 {
		h.recordMetric("api_observations_total", metrics.Labels{"interface": iface, "status": "rejected"})
		h.logger.Debug("Observations rejected",
			"request_id", requestID(r),
			"interface", iface,
			"rejected", len(resp.Rejected),
			"first_error", firstErr)
	}
	if resp.Accepted == 0 && firstErr != nil {
		h.handleError(w, r, "ingest observations", firstErr)
		return
	}

	resp.Entries = c.NumEntries()
	writeJSON(w, r, http.StatusOK, resp)
}

// ListEntries handles GET /api/v1/interfaces/{iface}/entries. The optional
// ssid and bssid query parameters narrow the listing.
func (h *CacheHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	iface := pathInterface(r)
	c, err := h.manager.Get(iface)
	if err != nil {
		h.handleError(w, r, "list entries", err)
		return
	}

	query := r.URL.Query()
	ssid := query.Get("ssid")
	var bssid scancache.BSSID
	if s := query.Get("bssid"); s != "" {
		if bssid, err = scancache.ParseBSSID(s); err != nil {
			writeError(w, r, http.StatusBadRequest, errors.NewCacheError(errors.CodeValidation, "invalid bssid"))
			return
		}
	}

	now := h.now()
	resp := EntryListResponse{Interface: iface, Entries: []EntryView{}}
	_ = c.Iterate(func(e *scancache.Entry) error {
		if ssid != "" && e.SSID != ssid {
			return nil
		}
		if !bssid.IsZero() && e.BSSID != bssid {
			return nil
		}
		resp.Entries = append(resp.Entries, NewEntryView(e, now))
		return nil
	})
	slices.SortFunc(resp.Entries, func(a, b EntryView) int { return strings.Compare(a.BSSID, b.BSSID) })
	resp.Count = len(resp.Entries)
	writeJSON(w, r, http.StatusOK, resp)
}

// GetCandidates handles POST /api/v1/interfaces/{iface}/candidates with a
// JSON filter body, and GET with query parameters.
func (h *CacheHandler) GetCandidates(w http.ResponseWriter, r *http.Request) {
	iface := pathInterface(r)
	c, err := h.manager.Get(iface)
	if err != nil {
		h.handleError(w, r, "get candidates", err)
		return
	}

	var req CandidateRequest
	if r.Method == http.MethodPost {
		err = h.parseJSON(w, r, &req)
	} else {
		err = candidateRequestFromQuery(r, &req)
	}
	if err != nil {
		h.handleError(w, r, "get candidates", err)
		return
	}
	f, err := req.filter(h.defaultScoringRequired)
	if err != nil {
		h.handleError(w, r, "get candidates", err)
		return
	}

	list, err := c.GetCandidates(f)
	if err != nil {
		h.handleError(w, r, "get candidates", err)
		return
	}
	defer list.Release()

	if req.Limit > 0 && len(list) > req.Limit {
		list = list[:req.Limit]
	}
	now := h.now()
	resp := CandidateListResponse{
		Interface:  iface,
		Count:      len(list),
		Scored:     !f.SkipScoring,
		Candidates: make([]CandidateView, 0, len(list)),
	}
	for _, cand := range list {
		resp.Candidates = append(resp.Candidates, NewCandidateView(cand, now))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// candidateRequestFromQuery reads the commonly used filter fields from the
// query string.
func candidateRequestFromQuery(r *http.Request, req *CandidateRequest) error {
	query := r.URL.Query()
	invalid := func(field string) error {
		return errors.NewCacheError(errors.CodeValidation, "invalid "+field)
	}

	req.SSIDs = query["ssid"]
	for _, s := range query["bssid"] {
		b, err := scancache.ParseBSSID(s)
		if err != nil {
			return invalid("bssid")
		}
		req.BSSIDs = append(req.BSSIDs, b)
	}
	for _, s := range query["avoid_bssid"] {
		b, err := scancache.ParseBSSID(s)
		if err != nil {
			return invalid("avoid_bssid")
		}
		req.AvoidBSSIDs = append(req.AvoidBSSIDs, b)
	}
	for _, s := range query["channel"] {
		ch, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return invalid("channel")
		}
		req.Channels = append(req.Channels, uint8(ch))
	}
	for _, s := range query["auth"] {
		a, err := scancache.ParseAuthType(s)
		if err != nil {
			return invalid("auth")
		}
		req.AuthTypes = append(req.AuthTypes, a)
	}
	for _, s := range query["enc"] {
		e, err := scancache.ParseEncType(s)
		if err != nil {
			return invalid("enc")
		}
		req.EncTypes = req.EncTypes.With(e)
	}
	if s := query.Get("bss_type"); s != "" {
		bt, err := scancache.ParseBSSType(s)
		if err != nil {
			return invalid("bss_type")
		}
		req.BSSType = bt
	}
	if s := query.Get("bssid_hint"); s != "" {
		b, err := scancache.ParseBSSID(s)
		if err != nil {
			return invalid("bssid_hint")
		}
		req.BSSIDHint = b
		req.BSSIDHintPriority = true
	}
	req.AgeThreshold = query.Get("age_threshold")
	if s := query.Get("scoring_required"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return invalid("scoring_required")
		}
		req.ScoringRequired = &v
	}

	limit, err := getQueryParamInt(r, "limit", 0, 0, maxCandidateLimit)
	if err != nil {
		return err
	}
	req.Limit = limit
	return validateStruct(req)
}

// Flush handles POST /api/v1/interfaces/{iface}/flush. Without a body
// every entry is removed.
func (h *CacheHandler) Flush(w http.ResponseWriter, r *http.Request) {
	iface := pathInterface(r)
	c, err := h.manager.Get(iface)
	if err != nil {
		h.handleError(w, r, "flush entries", err)
		return
	}

	var f *scancache.Filter
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		var req CandidateRequest
		if err := h.parseJSON(w, r, &req); err != nil {
			h.handleError(w, r, "flush entries", err)
			return
		}
		if f, err = req.filter(false); err != nil {
			h.handleError(w, r, "flush entries", err)
			return
		}
	}

	removed := c.Flush(f)
	h.logger.Info("Flushed scan entries",
		"request_id", requestID(r),
		"interface", iface,
		"removed", removed,
		"filtered", f != nil)
	writeJSON(w, r, http.StatusOK, FlushResponse{Interface: iface, Removed: removed})
}

// PruneChannels handles POST /api/v1/interfaces/{iface}/prune.
func (h *CacheHandler) PruneChannels(w http.ResponseWriter, r *http.Request) {
	iface := pathInterface(r)
	c, err := h.manager.Get(iface)
	if err != nil {
		h.handleError(w, r, "prune channels", err)
		return
	}

	var req PruneRequest
	if err := h.parseJSON(w, r, &req); err != nil {
		h.handleError(w, r, "prune channels", err)
		return
	}

	removed := c.PruneChannels(func(freq uint32) bool {
		return slices.Contains(req.ValidFrequencies, freq)
	})
	writeJSON(w, r, http.StatusOK, FlushResponse{Interface: iface, Removed: removed})
}

// GetScoring handles GET /api/v1/scoring.
func (h *CacheHandler) GetScoring(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, ScoringResponse{Config: h.manager.ScoringConfig()})
}

// UpdateScoring handles PUT /api/v1/scoring. Fields missing from the body
// keep their current values. Out of range values are clamped and reported
// through the adjusted flag.
func (h *CacheHandler) UpdateScoring(w http.ResponseWriter, r *http.Request) {
	cfg := h.manager.ScoringConfig()
	if err := h.parseJSON(w, r, &cfg); err != nil {
		h.handleError(w, r, "update scoring configuration", err)
		return
	}

	adjusted := h.manager.SetScoringConfig(cfg)
	h.logger.Info("Scoring configuration updated",
		"request_id", requestID(r),
		"adjusted", adjusted,
		"weight_sum", cfg.Weights.Sum())
	h.recordMetric("api_scoring_updates_total", metrics.Labels{"adjusted": strconv.FormatBool(adjusted)})
	writeJSON(w, r, http.StatusOK, ScoringResponse{Config: h.manager.ScoringConfig(), Adjusted: adjusted})
}
