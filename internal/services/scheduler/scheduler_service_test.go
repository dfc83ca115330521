package scheduler

import (
	"context"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/queue"
)

func openTestQueue(t *testing.T, cfg *common.QueueConfig) *queue.Manager {
	t.Helper()
	opts := badgerdb.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	mgr, err := queue.NewManager(db, arbor.NewLogger(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return mgr
}

func envelope(courseID string) models.JobEnvelope {
	return models.JobEnvelope{
		JobType:        models.JobTypeSummarization,
		OrganizationID: "org-1",
		CourseID:       courseID,
		CreatedAt:      time.Now(),
	}
}

func TestSchedulerDisabledStartsNothing(t *testing.T) {
	mgr := openTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: "5m",
		MaxAttempts:       3,
		BackoffBase:       "10ms",
		QueueName:         "test",
	})
	s := NewService(mgr, &common.SchedulerConfig{Enabled: false}, arbor.NewLogger())

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if s.IsRunning() {
		t.Error("Disabled scheduler must not report running")
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	mgr := openTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: "5m",
		MaxAttempts:       3,
		BackoffBase:       "10ms",
		QueueName:         "test",
	})
	s := NewService(mgr, &common.SchedulerConfig{
		Enabled:         true,
		RequeueSchedule: "*/1 * * * *",
		CleanupSchedule: "0 * * * *",
		DeadLetterTTL:   "168h",
	}, arbor.NewLogger())

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if !s.IsRunning() {
		t.Error("Expected running scheduler")
	}
	if err := s.Start(); err == nil {
		t.Error("Second Start must fail")
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if s.IsRunning() {
		t.Error("Expected stopped scheduler")
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	mgr := openTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: "5m",
		MaxAttempts:       3,
		BackoffBase:       "10ms",
		QueueName:         "test",
	})
	s := NewService(mgr, &common.SchedulerConfig{
		Enabled:         true,
		RequeueSchedule: "not a cron spec",
	}, arbor.NewLogger())

	if err := s.Start(); err == nil {
		t.Error("Expected invalid schedule to fail Start")
	}
}

func TestRequeueExpiredNow(t *testing.T) {
	mgr := openTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: "20ms",
		MaxAttempts:       3,
		BackoffBase:       "10ms",
		QueueName:         "test",
	})
	ctx := context.Background()
	s := NewService(mgr, &common.SchedulerConfig{Enabled: true}, arbor.NewLogger())

	if _, err := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Reserve(ctx, "w0"); err != nil {
		t.Fatal(err)
	}

	// Lease lapses while the worker is gone
	time.Sleep(30 * time.Millisecond)
	n, err := s.RequeueExpiredNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected 1 requeued job, got %d", n)
	}
}

func TestPurgeDeadLettersNow(t *testing.T) {
	mgr := openTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: "5m",
		MaxAttempts:       1,
		BackoffBase:       "10ms",
		QueueName:         "test",
	})
	ctx := context.Background()
	s := NewService(mgr, &common.SchedulerConfig{
		Enabled:       true,
		DeadLetterTTL: "1ms",
	}, arbor.NewLogger())

	id, err := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Reserve(ctx, "w0"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Fail(ctx, id, "permanent failure"); err != nil {
		t.Fatal(err)
	}

	dead, err := mgr.DeadLetters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 {
		t.Fatalf("Expected 1 dead letter before purge, got %d", len(dead))
	}

	time.Sleep(5 * time.Millisecond)
	n, err := s.PurgeDeadLettersNow(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Expected 1 purged job, got %d", n)
	}

	dead, err = mgr.DeadLetters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 0 {
		t.Errorf("Expected empty dead-letter index, got %d", len(dead))
	}
}
