// Package jobs runs ingestion in the background, one supervised job at a
// time per worker, and remembers recent results.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mfenderov/reg-rag/internal/events"
	"github.com/mfenderov/reg-rag/pkg/models"
)

var (
	// ErrShuttingDown is returned by Submit after Shutdown has begun.
	ErrShuttingDown = errors.New("job runner is shutting down")
	// ErrQueueFull is returned by Submit when no more jobs can be queued.
	ErrQueueFull = errors.New("job queue is full")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Done reports whether the status is terminal.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Job is a snapshot of one ingestion run.
type Job struct {
	ID          string              `json:"id"`
	Status      Status              `json:"status"`
	MaxPages    int                 `json:"max_pages"`
	Stats       *models.IngestStats `json:"stats,omitempty"`
	Error       string              `json:"error,omitempty"`
	SubmittedAt time.Time           `json:"submitted_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
}

// RunFunc performs one ingestion run.
type RunFunc func(ctx context.Context, maxPages int) (models.IngestStats, error)

// Config holds runner configuration.
type Config struct {
	Workers int // Concurrent jobs
	History int // Finished jobs remembered for lookups
	Queue   int // Jobs waiting to start

	// Events receives a message per finished job. Sends never block;
	// messages are dropped when the channel is full.
	Events chan<- events.IngestionCompleteEvent
}

// Runner executes submitted ingestion jobs on a fixed pool of workers.
type Runner struct {
	run    RunFunc
	config Config

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	draining atomic.Bool

	mu     sync.Mutex
	closed bool
	queue  chan string
	jobs   map[string]*Job
	order  []string // Submission order, oldest first
}

// New starts a Runner with config.Workers workers.
func New(run RunFunc, config Config) *Runner {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.History <= 0 {
		config.History = 50
	}
	if config.Queue <= 0 {
		config.Queue = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		run:    run,
		config: config,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan string, config.Queue),
		jobs:   make(map[string]*Job),
	}

	for range config.Workers {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Submit queues an ingestion of up to maxPages pages and returns at once.
func (r *Runner) Submit(maxPages int) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Job{}, ErrShuttingDown
	}

	job := &Job{
		ID:          uuid.NewString(),
		Status:      StatusQueued,
		MaxPages:    maxPages,
		SubmittedAt: time.Now(),
	}

	select {
	case r.queue <- job.ID:
	default:
		return Job{}, ErrQueueFull
	}

	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	slog.Info("ingestion job queued", "job_id", job.ID, "max_pages", maxPages)
	return *job, nil
}

// Get returns a snapshot of the job with the given ID.
func (r *Runner) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of known jobs, newest first.
func (r *Runner) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]Job, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		jobs = append(jobs, *r.jobs[r.order[i]])
	}
	return jobs
}

// Shutdown stops accepting jobs, cancels queued ones, and waits for running
// jobs to finish. If ctx ends first, running jobs are cancelled and
// Shutdown returns ctx.Err() once they have stopped.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.draining.Store(true)
	close(r.queue)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for id := range r.queue {
		if r.draining.Load() {
			r.finish(id, models.IngestStats{}, context.Canceled, 0)
			continue
		}
		r.execute(id)
	}
}

func (r *Runner) execute(id string) {
	r.mu.Lock()
	job := r.jobs[id]
	now := time.Now()
	job.Status = StatusRunning
	job.StartedAt = &now
	maxPages := job.MaxPages
	r.mu.Unlock()

	slog.Info("ingestion job started", "job_id", id)

	start := time.Now()
	stats, err := r.safeRun(maxPages)
	r.finish(id, stats, err, time.Since(start))
}

// safeRun calls the RunFunc, turning a panic into an error.
func (r *Runner) safeRun(maxPages int) (stats models.IngestStats, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("ingestion panicked: %v", p)
		}
	}()
	return r.run(r.ctx, maxPages)
}

func (r *Runner) finish(id string, stats models.IngestStats, err error, elapsed time.Duration) {
	r.mu.Lock()
	job := r.jobs[id]
	now := time.Now()
	job.FinishedAt = &now
	switch {
	case err == nil:
		job.Status = StatusSucceeded
	case errors.Is(err, context.Canceled):
		job.Status = StatusCancelled
		job.Error = err.Error()
	default:
		job.Status = StatusFailed
		job.Error = err.Error()
	}
	if job.StartedAt != nil {
		job.Stats = &stats
	}
	status := job.Status
	r.trim()
	r.mu.Unlock()

	if err != nil {
		slog.Error("ingestion job finished", "job_id", id, "status", status, "error", err)
	} else {
		slog.Info("ingestion job finished",
			"job_id", id,
			"status", status,
			"pages_processed", stats.PagesProcessed,
			"chunks_added", stats.ChunksAdded,
			"chunks_skipped_dedup", stats.ChunksSkippedDedup,
			"duration", elapsed)
	}

	if r.config.Events != nil {
		select {
		case r.config.Events <- events.IngestionCompleteEvent{JobID: id, Stats: stats, Duration: elapsed, Err: err}:
		default:
			slog.Warn("dropped ingestion event", "job_id", id)
		}
	}
}

// trim forgets the oldest finished jobs beyond the history limit.
// Callers hold r.mu.
func (r *Runner) trim() {
	finished := 0
	for _, id := range r.order {
		if r.jobs[id].Status.Done() {
			finished++
		}
	}

	kept := r.order[:0]
	for _, id := range r.order {
		if finished > r.config.History && r.jobs[id].Status.Done() {
			delete(r.jobs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}
