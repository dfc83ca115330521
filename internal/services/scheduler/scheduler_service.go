// Housekeeping scheduler. Runs the two queue maintenance sweeps on cron
// schedules: returning expired leases to the ready index and purging old
// dead-letter jobs. Sweeps never overlap; a slow sweep skips the next tick.

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
)

// Service owns the cron runner for queue housekeeping
type Service struct {
	queue  interfaces.QueueService
	config *common.SchedulerConfig
	logger arbor.ILogger
	cron   *cron.Cron

	mu      sync.Mutex
	running bool
	sweep   sync.Mutex // serializes sweeps across schedules
}

// NewService creates the housekeeping scheduler
func NewService(queue interfaces.QueueService, config *common.SchedulerConfig, logger arbor.ILogger) *Service {
	return &Service{
		queue:  queue,
		config: config,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start registers the sweeps and starts the cron runner. A disabled scheduler
// starts nothing and returns nil.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if !s.config.Enabled {
		s.logger.Info().Msg("Scheduler disabled")
		return nil
	}

	requeueSpec := s.config.RequeueSchedule
	if requeueSpec == "" {
		requeueSpec = "*/1 * * * *"
	}
	if _, err := s.cron.AddFunc(requeueSpec, s.requeueExpired); err != nil {
		return fmt.Errorf("invalid requeue schedule %q: %w", requeueSpec, err)
	}

	cleanupSpec := s.config.CleanupSchedule
	if cleanupSpec == "" {
		cleanupSpec = "0 * * * *"
	}
	if _, err := s.cron.AddFunc(cleanupSpec, s.purgeDeadLetters); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", cleanupSpec, err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info().
		Str("requeue_schedule", requeueSpec).
		Str("cleanup_schedule", cleanupSpec).
		Msg("Housekeeping scheduler started")
	return nil
}

// Stop halts the cron runner and waits for a running sweep to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.sweep.Lock() // wait out an in-flight sweep
	s.sweep.Unlock()
	s.running = false
	s.logger.Info().Msg("Housekeeping scheduler stopped")
	return nil
}

// IsRunning reports whether the cron runner is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RequeueExpiredNow runs the lease sweep immediately
func (s *Service) RequeueExpiredNow(ctx context.Context) (int, error) {
	s.sweep.Lock()
	defer s.sweep.Unlock()
	return s.queue.RequeueExpired(ctx)
}

// PurgeDeadLettersNow runs the dead-letter sweep immediately
func (s *Service) PurgeDeadLettersNow(ctx context.Context) (int, error) {
	s.sweep.Lock()
	defer s.sweep.Unlock()
	return s.queue.PurgeDeadLetters(ctx, s.deadLetterTTL())
}

func (s *Service) requeueExpired() {
	if !s.sweep.TryLock() {
		s.logger.Debug().Msg("Previous sweep still running, skipping requeue tick")
		return
	}
	defer s.sweep.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.queue.RequeueExpired(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Expired-lease sweep failed")
	}
}

func (s *Service) purgeDeadLetters() {
	if !s.sweep.TryLock() {
		s.logger.Debug().Msg("Previous sweep still running, skipping cleanup tick")
		return
	}
	defer s.sweep.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.queue.PurgeDeadLetters(ctx, s.deadLetterTTL()); err != nil {
		s.logger.Warn().Err(err).Msg("Dead-letter sweep failed")
	}
}

func (s *Service) deadLetterTTL() time.Duration {
	return common.Duration(s.config.DeadLetterTTL, 168*time.Hour)
}
