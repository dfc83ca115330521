package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// JobHandler processes one reserved job. Handlers must be idempotent:
// the queue is at-least-once and a lapsed lease redelivers the job.
type JobHandler func(ctx context.Context, res *interfaces.Reservation) error

// WorkerPool polls the queue and dispatches reserved jobs to registered
// handlers, renewing each job's lease while its handler runs
type WorkerPool struct {
	queue       interfaces.QueueService
	jobStatus   interfaces.JobStatusStorage
	handlers    map[models.JobType]JobHandler
	logger      arbor.ILogger
	concurrency int
	poll        time.Duration
	lease       time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewWorkerPool creates a worker pool over the queue
func NewWorkerPool(queue interfaces.QueueService, jobStatus interfaces.JobStatusStorage, logger arbor.ILogger, cfg *common.QueueConfig) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &WorkerPool{
		queue:       queue,
		jobStatus:   jobStatus,
		handlers:    make(map[models.JobType]JobHandler),
		logger:      logger,
		concurrency: concurrency,
		poll:        common.Duration(cfg.PollInterval, 250*time.Millisecond),
		lease:       common.Duration(cfg.VisibilityTimeout, 5*time.Minute),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// RegisterHandler registers the handler for a job type
func (wp *WorkerPool) RegisterHandler(jobType models.JobType, handler JobHandler) {
	wp.handlers[jobType] = handler
	wp.logger.Debug().
		Str("job_type", string(jobType)).
		Msg("Job handler registered")
}

// Start launches the worker goroutines
func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Dur("poll_interval", wp.poll).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}
	return nil
}

// Stop cancels the pool; running handlers observe the cancelled context
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	return nil
}

func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to reduce lock contention on the shared store
	stagger := (wp.poll / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if stagger > 0 {
		select {
		case <-wp.ctx.Done():
			return
		case <-time.After(stagger):
		}
	}

	wp.logger.Debug().Int("worker_id", workerID).Msg("Worker started")

	ticker := time.NewTicker(wp.poll)
	defer ticker.Stop()

	consumerID := fmt.Sprintf("worker-%d", workerID)
	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Int("worker_id", workerID).Msg("Worker stopped")
			return
		case <-ticker.C:
			// Keep draining until the queue is empty, then wait for the
			// next tick
			for {
				err := wp.processOne(consumerID, workerID)
				if err != nil {
					if !errors.Is(err, interfaces.ErrNoJob) {
						wp.logger.Warn().
							Err(err).
							Int("worker_id", workerID).
							Msg("Error processing job")
					}
					break
				}
				if wp.ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// processOne reserves and runs a single job
func (wp *WorkerPool) processOne(consumerID string, workerID int) error {
	res, err := wp.queue.Reserve(wp.ctx, consumerID)
	if err != nil {
		return err
	}

	wp.logger.Debug().
		Str("job_id", res.JobID).
		Str("type", string(res.Type)).
		Int("attempt", res.Attempt).
		Int("worker_id", workerID).
		Msg("Processing job")

	wp.project(res, models.JobStatusActive, "")

	handler, exists := wp.handlers[res.Type]
	if !exists {
		wp.logger.Error().
			Str("type", string(res.Type)).
			Str("job_id", res.JobID).
			Msg("No handler registered for job type")
		reason := fmt.Sprintf("no handler for job type %s", res.Type)
		wp.project(res, models.JobStatusFailed, reason)
		return wp.queue.Fail(wp.ctx, res.JobID, reason)
	}

	// Renew the lease at half the visibility timeout while the handler runs
	handlerCtx, stopRenewal := context.WithCancel(wp.ctx)
	go wp.renewLease(handlerCtx, res.JobID)

	start := time.Now()
	handlerErr := handler(handlerCtx, res)
	stopRenewal()
	duration := time.Since(start)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("job_id", res.JobID).
			Str("type", string(res.Type)).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")

		wp.project(res, models.JobStatusFailed, handlerErr.Error())
		if err := wp.queue.Fail(wp.ctx, res.JobID, handlerErr.Error()); err != nil {
			wp.logger.Warn().Err(err).Str("job_id", res.JobID).Msg("Failed to record job failure")
			return err
		}
		return nil
	}

	wp.logger.Info().
		Str("job_id", res.JobID).
		Str("type", string(res.Type)).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed")

	wp.project(res, models.JobStatusCompleted, "")
	if err := wp.queue.Complete(wp.ctx, res.JobID); err != nil {
		wp.logger.Warn().Err(err).Str("job_id", res.JobID).Msg("Failed to acknowledge job")
		return err
	}
	return nil
}

// renewLease extends the job's lease until the handler context ends
func (wp *WorkerPool) renewLease(ctx context.Context, jobID string) {
	interval := wp.lease / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wp.queue.Extend(ctx, jobID, wp.lease); err != nil {
				wp.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to extend job lease")
				return
			}
		}
	}
}

// project writes the observable job status row. Projection failures are
// logged, never fatal: the queue itself is the source of truth.
func (wp *WorkerPool) project(res *interfaces.Reservation, state models.JobStatus, errMsg string) {
	if wp.jobStatus == nil {
		return
	}
	var env models.JobEnvelope
	courseID := ""
	if err := json.Unmarshal(res.Payload, &env); err == nil {
		courseID = env.CourseID
	}
	row := &models.JobStatusRow{
		ID:           res.JobID,
		CourseID:     courseID,
		JobType:      res.Type,
		State:        state,
		Attempt:      res.Attempt,
		ErrorMessage: errMsg,
	}
	if err := wp.jobStatus.UpsertJobStatus(context.Background(), row); err != nil {
		wp.logger.Warn().Err(err).Str("job_id", res.JobID).Msg("Failed to project job status")
	}
}
