// Package scheduler runs the periodic scancache maintenance jobs. Cron
// expressions decide when a job is due; the job itself executes on the
// worker pool so that a slow snapshot never delays an age-out pass.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/metrics"
	"github.com/anstrom/scancache/internal/workers"
)

// Submitter accepts jobs for execution. *workers.Pool implements it.
type Submitter interface {
	Submit(job workers.Job) error
}

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Scheduler manages the scheduled maintenance jobs.
type Scheduler struct {
	cron    *cron.Cron
	pool    Submitter
	logger  *logging.Logger
	jobs    map[uuid.UUID]*ScheduledJob
	mu      sync.RWMutex
	running bool
}

// ScheduledJob describes one registered job. Values returned by GetJobs are
// copies.
type ScheduledJob struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Type      string       `json:"type"`
	Schedule  string       `json:"schedule"`
	Enabled   bool         `json:"enabled"`
	Running   bool         `json:"running"`
	RunCount  int          `json:"run_count"`
	LastRun   time.Time    `json:"last_run,omitempty"`
	NextRun   time.Time    `json:"next_run,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	CronID    cron.EntryID `json:"-"`

	fn JobFunc
}

// NewScheduler creates a scheduler that submits due jobs to pool.
func NewScheduler(pool Submitter) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		pool:   pool,
		logger: logging.Default().WithComponent("scheduler"),
		jobs:   make(map[uuid.UUID]*ScheduledJob),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.NewCacheError(errors.CodeConflict, "scheduler is already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler and waits for in-flight cron callbacks.
// Jobs already handed to the pool are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// AddJob registers fn to run on schedule. Schedules use the standard five
// field cron syntax or descriptors such as "@every 30s".
func (s *Scheduler) AddJob(name, jobType, schedule string, fn JobFunc) (uuid.UUID, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return uuid.Nil, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid cron expression: %v", err), "schedule", schedule)
	}

	job := &ScheduledJob{
		ID:       uuid.New(),
		Name:     name,
		Type:     jobType,
		Schedule: schedule,
		Enabled:  true,
		fn:       fn,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := job.ID
	job.CronID = s.cron.Schedule(sched, cron.FuncJob(func() { s.trigger(id) }))
	job.NextRun = sched.Next(time.Now())
	s.jobs[id] = job

	s.logger.Info("Added scheduled job", "job_id", id, "name", name, "type", jobType, "schedule", schedule)
	return id, nil
}

// RemoveJob unregisters a job.
func (s *Scheduler) RemoveJob(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.NewCacheError(errors.CodeNotFound, "scheduled job not found").WithContext("job_id", id)
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, id)
	s.logger.Info("Removed scheduled job", "job_id", id, "name", job.Name)
	return nil
}

// EnableJob resumes a disabled job.
func (s *Scheduler) EnableJob(id uuid.UUID) error {
	return s.setJobEnabled(id, true)
}

// DisableJob keeps a job registered but skips its runs.
func (s *Scheduler) DisableJob(id uuid.UUID) error {
	return s.setJobEnabled(id, false)
}

func (s *Scheduler) setJobEnabled(id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return errors.NewCacheError(errors.CodeNotFound, "scheduled job not found").WithContext("job_id", id)
	}
	job.Enabled = enabled
	return nil
}

// RunNow submits a job immediately regardless of its schedule.
func (s *Scheduler) RunNow(id uuid.UUID) error {
	s.mu.RLock()
	_, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return errors.NewCacheError(errors.CodeNotFound, "scheduled job not found").WithContext("job_id", id)
	}
	return s.submit(id, true)
}

// GetJobs returns a snapshot of the registered jobs ordered by name.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		cp.fn = nil
		if entry := s.cron.Entry(job.CronID); entry.Valid() && !entry.Next.IsZero() {
			cp.NextRun = entry.Next
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) trigger(id uuid.UUID) {
	if err := s.submit(id, false); err != nil {
		s.logger.Warn("Failed to submit scheduled job", "job_id", id, "error", err)
	}
}

// submit hands a job to the pool. A job whose previous run has not finished
// is skipped, as is a disabled job unless forced.
func (s *Scheduler) submit(id uuid.UUID, force bool) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if !job.Enabled && !force {
		s.mu.Unlock()
		return nil
	}
	if job.Running {
		s.mu.Unlock()
		metrics.Counter("scheduled_jobs_skipped_total", metrics.Labels{"job_type": job.Type})
		s.logger.Debug("Scheduled job still running, skipping", "job_id", id, "name", job.Name)
		return nil
	}
	job.Running = true
	name, jobType, fn := job.Name, job.Type, job.fn
	s.mu.Unlock()

	runID := fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
	err := s.pool.Submit(workers.NewFuncJob(runID, jobType, func(ctx context.Context) error {
		err := fn(ctx)
		s.finish(id, err)
		return err
	}))
	if err != nil {
		s.finish(id, err)
	}
	return err
}

func (s *Scheduler) finish(id uuid.UUID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}
	job.Running = false
	job.RunCount++
	job.LastRun = time.Now()
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
}
