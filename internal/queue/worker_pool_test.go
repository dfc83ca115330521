package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

func TestWorkerPoolDispatch(t *testing.T) {
	cfg := &common.QueueConfig{
		PollInterval:      "10ms",
		Concurrency:       2,
		VisibilityTimeout: "5m",
		MaxAttempts:       3,
		BackoffBase:       "10ms",
		BackoffMax:        "20ms",
		QueueName:         "test",
	}
	mgr := openTestQueue(t, cfg)
	pool := NewWorkerPool(mgr, nil, arbor.NewLogger(), cfg)

	var handled int64
	pool.RegisterHandler(models.JobTypeSummarization, func(ctx context.Context, res *interfaces.Reservation) error {
		atomic.AddInt64(&handled, 1)
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()

	deadline := time.After(3 * time.Second)
	for atomic.LoadInt64(&handled) < 5 {
		select {
		case <-deadline:
			t.Fatalf("Expected 5 handled jobs, got %d", atomic.LoadInt64(&handled))
		case <-time.After(20 * time.Millisecond):
		}
	}

	// All jobs acknowledged
	time.Sleep(50 * time.Millisecond)
	if _, err := mgr.Reserve(ctx, "probe"); !errors.Is(err, interfaces.ErrNoJob) {
		t.Errorf("Expected drained queue, got %v", err)
	}
}

func TestWorkerPoolRetriesFailedJob(t *testing.T) {
	cfg := &common.QueueConfig{
		PollInterval:      "10ms",
		Concurrency:       1,
		VisibilityTimeout: "5m",
		MaxAttempts:       3,
		BackoffBase:       "10ms",
		BackoffMax:        "20ms",
		QueueName:         "test",
	}
	mgr := openTestQueue(t, cfg)
	pool := NewWorkerPool(mgr, nil, arbor.NewLogger(), cfg)

	// Fail twice, then succeed. At-least-once delivery with backoff should
	// drive the job through all three attempts.
	var attempts int64
	pool.RegisterHandler(models.JobTypeSummarization, func(ctx context.Context, res *interfaces.Reservation) error {
		n := atomic.AddInt64(&attempts, 1)
		if n < 3 {
			return errors.New("transient failure")
		}
		return nil
	})

	ctx := context.Background()
	if _, err := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), nil); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer pool.Stop()

	deadline := time.After(3 * time.Second)
	for atomic.LoadInt64(&attempts) < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected 3 attempts, got %d", atomic.LoadInt64(&attempts))
		case <-time.After(20 * time.Millisecond):
		}
	}

	time.Sleep(50 * time.Millisecond)
	dead, err := mgr.DeadLetters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 0 {
		t.Errorf("Expected no dead letters after eventual success, got %d", len(dead))
	}
}
