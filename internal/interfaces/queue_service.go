package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ternarybob/doceo/internal/models"
)

// ErrNoJob is returned by Reserve when no job is ready
var ErrNoJob = errors.New("no jobs ready")

// EnqueueOptions tune how a job is queued
type EnqueueOptions struct {
	Priority    int           // higher runs sooner; default models.DefaultPriority
	Delay       time.Duration // initial visibility delay
	MaxAttempts int           // retries before dead-letter; default per job type
}

// Reservation is a leased job handed to a worker. The lease is renewed by the
// worker pool while the handler runs; an expired lease returns the job to
// waiting with its attempt count unchanged.
type Reservation struct {
	JobID   string
	Type    models.JobType
	Payload json.RawMessage
	Attempt int
}

// QueueService - durable FIFO-with-priority job queue with at-least-once
// delivery, retry with exponential backoff, and a dead-letter partition.
// Handlers must be idempotent: duplicate delivery is possible.
type QueueService interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload interface{}, opts *EnqueueOptions) (string, error)
	// Reserve atomically moves one ready job from waiting to active and
	// leases it to consumerID. Returns ErrNoJob when nothing is ready.
	Reserve(ctx context.Context, consumerID string) (*Reservation, error)
	Extend(ctx context.Context, jobID string, d time.Duration) error
	Complete(ctx context.Context, jobID string) error
	// Fail reschedules the job with exponential backoff, or moves it to the
	// dead-letter partition once attempts are exhausted.
	Fail(ctx context.Context, jobID string, reason string) error

	// DiscardByCourse drops pending jobs whose payload references the course.
	// Used when a course is cancelled; at-least-one pass semantics.
	DiscardByCourse(ctx context.Context, courseID string) (int, error)

	// RequeueExpired returns expired active leases to waiting. Called by the
	// housekeeping scheduler.
	RequeueExpired(ctx context.Context) (int, error)

	DeadLetters(ctx context.Context) ([]*models.QueueJob, error)

	// PurgeDeadLetters removes dead-letter jobs older than the given age.
	// Called by the housekeeping scheduler.
	PurgeDeadLetters(ctx context.Context, olderThan time.Duration) (int, error)

	// Drain removes all waiting and delayed jobs. Obliterate removes
	// everything including active and dead-letter. Test/teardown only.
	Drain(ctx context.Context) error
	Obliterate(ctx context.Context) error
}
