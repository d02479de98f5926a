// Package workers runs scancache maintenance jobs on a bounded pool of
// goroutines with retries, optional rate limiting and graceful shutdown.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/anstrom/scancache/internal/errors"
	"github.com/anstrom/scancache/internal/logging"
	"github.com/anstrom/scancache/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Retries  int
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// JobTimeout bounds a single attempt (0 = no limit).
	JobTimeout time.Duration
	// ShutdownTimeout is the maximum time to wait for workers to finish.
	ShutdownTimeout time.Duration
	// RateLimit is the maximum number of jobs per second (0 = no limit).
	RateLimit float64
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:            2,
		QueueSize:       32,
		MaxRetries:      2,
		RetryDelay:      time.Second,
		JobTimeout:      time.Minute,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a pool of worker goroutines for concurrent job execution.
type Pool struct {
	config  Config
	jobs    chan Job
	results chan Result
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex // guards jobs against close during Submit
	closed  atomic.Bool
	started atomic.Bool
	active  atomic.Int32
}

// New creates a new worker pool with the given configuration.
func New(config Config) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config:  config,
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize+config.Size),
		ctx:     ctx,
		cancel:  cancel,
	}
	if config.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return p
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	logging.Info("Starting worker pool",
		"worker_count", p.config.Size,
		"queue_size", p.config.QueueSize,
		"rate_limit", p.config.RateLimit)

	for i := 0; i < p.config.Size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	metrics.Gauge("worker_pool_size", float64(p.config.Size), metrics.Labels{"component": "workers"})
}

// Submit queues a job. It fails when the queue is full or the pool is shut
// down.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed.Load() {
		return errors.NewCacheError(errors.CodeServiceUnavailable, "worker pool is shut down")
	}

	select {
	case p.jobs <- job:
		logging.Debug("Job submitted to worker pool", "job_id", job.ID(), "job_type", job.Type())
		metrics.Counter("jobs_submitted_total", metrics.Labels{"job_type": job.Type()})
		return nil
	default:
		metrics.Counter("jobs_rejected_total", metrics.Labels{"job_type": job.Type()})
		return errors.NewCacheError(errors.CodeRateLimited,
			fmt.Sprintf("job queue is full (%d queued)", len(p.jobs)))
	}
}

// Results delivers the outcome of every job. Results that nobody reads are
// dropped once the buffer fills. The channel closes after Shutdown.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Active returns the number of jobs currently executing.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Shutdown stops accepting jobs, lets queued jobs drain and waits for the
// workers. Jobs still running after ShutdownTimeout see their context
// canceled.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.jobs)
	p.mu.Unlock()

	logging.Info("Shutting down worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	if !p.started.Load() {
		p.cancel()
	} else if p.config.ShutdownTimeout > 0 {
		select {
		case <-done:
		case <-time.After(p.config.ShutdownTimeout):
			logging.Warn("Worker pool shutdown timeout, canceling running jobs")
			err = errors.NewCacheError(errors.CodeTimeout, "worker pool shutdown timed out")
			p.cancel()
		}
	}
	<-done
	p.cancel()
	close(p.results)

	logging.Info("Worker pool shutdown completed")
	return err
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	logging.Debug("Worker started", "worker_id", id)
	defer logging.Debug("Worker stopped", "worker_id", id)

	for job := range p.jobs {
		if p.ctx.Err() != nil {
			continue
		}
		p.active.Add(1)
		p.execute(id, job)
		p.active.Add(-1)
	}
}

// execute runs one job with retries and reports its result.
func (p *Pool) execute(workerID int, job Job) {
	labels := metrics.Labels{"job_type": job.Type()}
	timer := metrics.NewTimer("job_duration_seconds", labels)
	defer timer.Stop()

	if p.limiter != nil {
		if err := p.limiter.Wait(p.ctx); err != nil {
			return
		}
	}

	start := time.Now()
	retries := 0
	err := p.attempt(job)
retry:
	for err != nil && retries < p.config.MaxRetries {
		logging.Debug("Job failed, retrying",
			"job_id", job.ID(), "job_type", job.Type(),
			"attempt", retries+1, "max_retries", p.config.MaxRetries, "error", err)
		select {
		case <-time.After(p.config.RetryDelay):
		case <-p.ctx.Done():
			break retry
		}
		retries++
		err = p.attempt(job)
	}

	res := Result{
		JobID:    job.ID(),
		JobType:  job.Type(),
		Error:    err,
		Duration: time.Since(start),
		Retries:  retries,
	}

	status := "success"
	if err != nil {
		status = "error"
		logging.Error("Job failed after retries",
			"job_id", job.ID(), "job_type", job.Type(),
			"retries", res.Retries, "error", err, "worker_id", workerID)
	} else {
		logging.Debug("Job completed",
			"job_id", job.ID(), "job_type", job.Type(),
			"duration", res.Duration, "retries", res.Retries, "worker_id", workerID)
	}
	metrics.Counter("jobs_completed_total", metrics.Labels{"job_type": job.Type(), "status": status})
	metrics.Histogram("job_retry_count", float64(res.Retries), labels)

	select {
	case p.results <- res:
	default:
	}
}

func (p *Pool) attempt(job Job) error {
	ctx := p.ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}
	return job.Execute(ctx)
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewFuncJob creates a job that runs fn.
func NewFuncJob(id, jobType string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{id: id, jobType: jobType, fn: fn}
}

// Execute implements the Job interface.
func (j *FuncJob) Execute(ctx context.Context) error { return j.fn(ctx) }

// ID implements the Job interface.
func (j *FuncJob) ID() string { return j.id }

// Type implements the Job interface.
func (j *FuncJob) Type() string { return j.jobType }
