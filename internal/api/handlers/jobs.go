package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/metrics"
	"github.com/anstrom/scancache/internal/scheduler"
)

// JobScheduler exposes the maintenance scheduler to the API.
type JobScheduler interface {
	GetJobs() []scheduler.ScheduledJob
	RunNow(id uuid.UUID) error
	EnableJob(id uuid.UUID) error
	DisableJob(id uuid.UUID) error
}

// JobHandler serves the maintenance job endpoints.
type JobHandler struct {
	BaseHandler
	scheduler JobScheduler
}

// JobListResponse is returned by the list endpoint.
type JobListResponse struct {
	Count int                      `json:"count"`
	Jobs  []scheduler.ScheduledJob `json:"jobs"`
}

// NewJobHandler creates a job handler.
func NewJobHandler(s JobScheduler, logger *slog.Logger, metricsRegistry metrics.MetricsRegistry) *JobHandler {
	base := NewBaseHandler(logger, metricsRegistry, 0)
	base.logger = base.logger.With("handler", "jobs")
	return &JobHandler{BaseHandler: base, scheduler: s}
}

// ListJobs handles GET /jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.GetJobs()
	writeJSON(w, r, http.StatusOK, JobListResponse{Count: len(jobs), Jobs: jobs})
}

// GetJob handles GET /jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		h.handleError(w, r, "get job", err)
		return
	}
	job, ok := h.find(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, errJobNotFound(id))
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

// RunJob handles POST /jobs/{id}/run.
func (h *JobHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "run", h.scheduler.RunNow, http.StatusAccepted)
}

// EnableJob handles POST /jobs/{id}/enable.
func (h *JobHandler) EnableJob(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "enable", h.scheduler.EnableJob, http.StatusOK)
}

// DisableJob handles POST /jobs/{id}/disable.
func (h *JobHandler) DisableJob(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "disable", h.scheduler.DisableJob, http.StatusOK)
}

func (h *JobHandler) act(w http.ResponseWriter, r *http.Request, action string, fn func(uuid.UUID) error, status int) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		h.handleError(w, r, action+" job", err)
		return
	}
	if err := fn(id); err != nil {
		h.handleError(w, r, action+" job", err)
		return
	}
	h.logger.Info("Job "+action,
		"request_id", requestID(r),
		"job_id", id)
	h.recordMetric("api_job_actions_total", metrics.Labels{"action": action})

	job, ok := h.find(id)
	if !ok {
		// removed concurrently
		w.WriteHeader(status)
		return
	}
	writeJSON(w, r, status, job)
}

func (h *JobHandler) find(id uuid.UUID) (scheduler.ScheduledJob, bool) {
	for _, job := range h.scheduler.GetJobs() {
		if job.ID == id {
			return job, true
		}
	}
	return scheduler.ScheduledJob{}, false
}

func errJobNotFound(id uuid.UUID) error {
	return errors.NewCacheError(errors.CodeNotFound, "scheduled job not found").WithContext("job_id", id)
}
