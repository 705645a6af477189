// Package worker runs background jobs from a bounded in-process queue with a
// fixed pool of goroutines. Enqueue never blocks: a full queue rejects the
// job so request paths are not slowed by slow consumers.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/fiesta/internal/metrics"
)

var (
	// ErrQueueFull is returned by Enqueue when no slot is free.
	ErrQueueFull = errors.New("job queue full")

	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("worker stopped")
)

// Job is a unit of queued work.
type Job struct {
	ID         uuid.UUID
	Type       string
	Payload    []byte
	Attempts   int
	EnqueuedAt time.Time
}

// Worker manages background job processing with concurrent workers.
type Worker struct {
	handlers map[string]JobHandler
	config   Config
	logger   *slog.Logger
	queue    chan Job

	// Synchronization
	mu       sync.RWMutex
	stopped  bool
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		handlers: make(map[string]JobHandler),
		config:   config,
		logger:   logger,
		queue:    make(chan Job, config.QueueSize),
		stopCh:   make(chan struct{}),
	}, nil
}

// Register adds a job handler to the worker.
// The handler's Type() must be unique. Call this before Start().
func (w *Worker) Register(handler JobHandler) {
	jobType := handler.Type()
	if _, exists := w.handlers[jobType]; exists {
		w.logger.Warn("Overwriting existing handler", "job_type", jobType)
	}
	w.handlers[jobType] = handler
	w.logger.Debug("Registered job handler", "job_type", jobType)
}

// Start launches the configured number of worker goroutines. Jobs run on
// contexts derived from ctx.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.runWorker(ctx, i+1)
	}

	w.logger.Info("Worker started", "concurrency", w.config.Concurrency, "queue_size", w.config.QueueSize)
}

// Enqueue marshals payload and queues a job without blocking.
func (w *Worker) Enqueue(jobType string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return ErrStopped
	}

	job := Job{
		ID:         uuid.New(),
		Type:       jobType,
		Payload:    payloadJSON,
		EnqueuedAt: time.Now(),
	}
	select {
	case w.queue <- job:
		metrics.JobEnqueued(jobType)
		return nil
	default:
		metrics.JobDropped(jobType)
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs.
func (w *Worker) Pending() int {
	return len(w.queue)
}

// Stop rejects new jobs, lets the workers drain the queue and waits for
// them, up to ShutdownTimeout. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...", "pending", w.Pending())

		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		close(w.stopCh)

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			w.logger.Info("Worker stopped gracefully")
		case <-time.After(w.config.ShutdownTimeout):
			w.logger.Warn("Worker shutdown timeout exceeded, some jobs may still be running", "pending", w.Pending())
		}
	})
}

// runWorker is the main loop for a worker goroutine. After stopCh closes it
// keeps taking jobs until the queue is empty.
func (w *Worker) runWorker(ctx context.Context, workerID int) {
	defer w.wg.Done()

	logger := w.logger.With("worker_id", workerID)
	logger.Debug("Worker started")

	for {
		select {
		case job := <-w.queue:
			w.process(ctx, job, logger)
		case <-w.stopCh:
			for {
				select {
				case job := <-w.queue:
					w.process(ctx, job, logger)
				default:
					logger.Debug("Worker stopping")
					return
				}
			}
		}
	}
}

// process runs a job until it succeeds, fails permanently or runs out of
// attempts, backing off exponentially between attempts.
func (w *Worker) process(ctx context.Context, job Job, logger *slog.Logger) {
	metrics.JobStarted(job.Type)
	started := time.Now()
	logger = logger.With("job_id", job.ID, "job_type", job.Type)

	delay := w.config.RetryDelay
	for {
		job.Attempts++
		err := w.executeJob(ctx, job)
		if err == nil {
			metrics.JobCompleted(job.Type, time.Since(started))
			logger.Debug("Job completed", "attempt", job.Attempts)
			return
		}

		if IsPermanent(err) || job.Attempts >= w.config.MaxAttempts {
			metrics.JobFailed(job.Type)
			logger.Error("Job failed", "attempt", job.Attempts, "permanent", IsPermanent(err), "error", err)
			return
		}

		logger.Warn("Job attempt failed, retrying", "attempt", job.Attempts, "retry_in", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			metrics.JobFailed(job.Type)
			logger.Error("Job abandoned", "attempt", job.Attempts, "error", ctx.Err())
			return
		}
		delay *= 2
	}
}

// executeJob runs the appropriate handler for the job with a timeout context.
func (w *Worker) executeJob(ctx context.Context, job Job) error {
	handler, ok := w.handlers[job.Type]
	if !ok {
		return NewPermanentError(fmt.Errorf("no handler registered for job type: %s", job.Type))
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	return handler.Handle(jobCtx, job.Payload)
}
