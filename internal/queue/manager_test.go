package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

func openTestQueue(t *testing.T, cfg *common.QueueConfig) *Manager {
	t.Helper()
	opts := badgerdb.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badgerdb.Open(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if cfg == nil {
		cfg = &common.QueueConfig{
			VisibilityTimeout: "5m",
			MaxAttempts:       3,
			BackoffBase:       "10ms",
			BackoffMax:        "50ms",
			QueueName:         "test",
		}
	}
	mgr, err := NewManager(db, arbor.NewLogger(), cfg)
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

func TestReserveEmptyQueue(t *testing.T) {
	mgr := openTestQueue(t, nil)
	_, err := mgr.Reserve(context.Background(), "w0")
	if !errors.Is(err, interfaces.ErrNoJob) {
		t.Errorf("Expected ErrNoJob, got %v", err)
	}
}

func TestPriorityThenFIFO(t *testing.T) {
	mgr := openTestQueue(t, nil)
	ctx := context.Background()

	// Two low-priority jobs, then one high-priority
	lowA, err := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), &interfaces.EnqueueOptions{Priority: 5})
	if err != nil {
		t.Fatal(err)
	}
	lowB, err := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), &interfaces.EnqueueOptions{Priority: 5})
	if err != nil {
		t.Fatal(err)
	}
	high, err := mgr.Enqueue(ctx, models.JobTypeLessonContent, envelope("c1"), &interfaces.EnqueueOptions{Priority: 20})
	if err != nil {
		t.Fatal(err)
	}

	// High priority first, then FIFO within equal priority
	expected := []string{high, lowA, lowB}
	for i, want := range expected {
		res, err := mgr.Reserve(ctx, "w0")
		if err != nil {
			t.Fatalf("Reserve %d failed: %v", i, err)
		}
		if res.JobID != want {
			t.Errorf("Reserve %d: expected %s, got %s", i, want, res.JobID)
		}
	}
}

func TestDelayedJobNotVisible(t *testing.T) {
	mgr := openTestQueue(t, nil)
	ctx := context.Background()

	id, err := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), &interfaces.EnqueueOptions{Delay: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Reserve(ctx, "w0"); !errors.Is(err, interfaces.ErrNoJob) {
		t.Errorf("Expected delayed job to be invisible, got %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	res, err := mgr.Reserve(ctx, "w0")
	if err != nil {
		t.Fatalf("Expected job after delay: %v", err)
	}
	if res.JobID != id {
		t.Errorf("Expected %s, got %s", id, res.JobID)
	}
}

func TestFailBackoffThenDeadLetter(t *testing.T) {
	mgr := openTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: "5m",
		MaxAttempts:       2,
		BackoffBase:       "10ms",
		BackoffMax:        "20ms",
		QueueName:         "test",
	})
	ctx := context.Background()

	id, err := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Attempt 1 fails: job is delayed with backoff, not dead-lettered
	res, err := mgr.Reserve(ctx, "w0")
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempt != 1 {
		t.Errorf("Expected attempt 1, got %d", res.Attempt)
	}
	if err := mgr.Fail(ctx, id, "llm timeout"); err != nil {
		t.Fatal(err)
	}

	// Immediately invisible during backoff
	if _, err := mgr.Reserve(ctx, "w0"); !errors.Is(err, interfaces.ErrNoJob) {
		t.Errorf("Expected job in backoff to be invisible, got %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	res, err = mgr.Reserve(ctx, "w0")
	if err != nil {
		t.Fatalf("Expected job after backoff: %v", err)
	}
	if res.Attempt != 2 {
		t.Errorf("Expected attempt 2, got %d", res.Attempt)
	}

	// Attempt 2 (== MaxAttempts) fails: dead-letter
	if err := mgr.Fail(ctx, id, "llm timeout again"); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Reserve(ctx, "w0"); !errors.Is(err, interfaces.ErrNoJob) {
		t.Errorf("Expected dead-lettered job to be gone, got %v", err)
	}

	dead, err := mgr.DeadLetters(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 {
		t.Fatalf("Expected 1 dead letter, got %d", len(dead))
	}
	if dead[0].ID != id || dead[0].LastError != "llm timeout again" {
		t.Errorf("Unexpected dead letter: %+v", dead[0])
	}
}

func TestCompleteRemovesJob(t *testing.T) {
	mgr := openTestQueue(t, nil)
	ctx := context.Background()

	id, _ := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), nil)
	if _, err := mgr.Reserve(ctx, "w0"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Complete(ctx, id); err != nil {
		t.Fatal(err)
	}
	// Completing twice is a no-op (duplicate delivery acks the same job)
	if err := mgr.Complete(ctx, id); err != nil {
		t.Errorf("Second Complete should be a no-op, got %v", err)
	}
	if _, err := mgr.Reserve(ctx, "w0"); !errors.Is(err, interfaces.ErrNoJob) {
		t.Errorf("Expected empty queue, got %v", err)
	}
}

func TestRequeueExpiredLease(t *testing.T) {
	mgr := openTestQueue(t, &common.QueueConfig{
		VisibilityTimeout: "20ms",
		MaxAttempts:       3,
		BackoffBase:       "10ms",
		BackoffMax:        "20ms",
		QueueName:         "test",
	})
	ctx := context.Background()

	id, _ := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), nil)
	res, err := mgr.Reserve(ctx, "w0")
	if err != nil {
		t.Fatal(err)
	}
	if res.Attempt != 1 {
		t.Fatalf("Expected attempt 1, got %d", res.Attempt)
	}

	// Worker "crashes": lease lapses, sweep returns the job to waiting
	time.Sleep(30 * time.Millisecond)
	n, err := mgr.RequeueExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 requeued job, got %d", n)
	}

	res, err = mgr.Reserve(ctx, "w1")
	if err != nil {
		t.Fatalf("Expected redelivery: %v", err)
	}
	if res.JobID != id {
		t.Errorf("Expected %s, got %s", id, res.JobID)
	}
	if res.Attempt != 2 {
		t.Errorf("Expected attempt 2 on redelivery, got %d", res.Attempt)
	}
}

func TestDiscardByCourse(t *testing.T) {
	mgr := openTestQueue(t, nil)
	ctx := context.Background()

	mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), nil)
	mgr.Enqueue(ctx, models.JobTypeLessonContent, envelope("c1"), nil)
	keep, _ := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c2"), nil)

	n, err := mgr.DiscardByCourse(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Expected 2 discarded, got %d", n)
	}

	res, err := mgr.Reserve(ctx, "w0")
	if err != nil {
		t.Fatalf("Expected surviving job: %v", err)
	}
	if res.JobID != keep {
		t.Errorf("Expected %s to survive, got %s", keep, res.JobID)
	}
	if _, err := mgr.Reserve(ctx, "w0"); !errors.Is(err, interfaces.ErrNoJob) {
		t.Errorf("Expected queue drained of c1 jobs, got %v", err)
	}
}

func TestConcurrentReserveNoDoubleDelivery(t *testing.T) {
	mgr := openTestQueue(t, nil)
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		if _, err := mgr.Enqueue(ctx, models.JobTypeSummarization, envelope("c1"), nil); err != nil {
			t.Fatal(err)
		}
	}

	var delivered sync.Map
	var count int64
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				res, err := mgr.Reserve(ctx, "w")
				if errors.Is(err, interfaces.ErrNoJob) {
					return
				}
				if err != nil {
					// Badger conflicts between concurrent reservations
					// retry on the next loop
					continue
				}
				if _, loaded := delivered.LoadOrStore(res.JobID, true); loaded {
					t.Errorf("Job %s delivered twice while leased", res.JobID)
				}
				atomic.AddInt64(&count, 1)
				mgr.Complete(ctx, res.JobID)
			}
		}(w)
	}
	wg.Wait()

	if count != jobs {
		t.Errorf("Expected %d deliveries, got %d", jobs, count)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	mgr := openTestQueue(t, nil)
	ctx := context.Background()

	payload := models.ProcessPayload{
		JobEnvelope: envelope("c1"),
		FileID:      "file-1",
		MimeType:    "application/pdf",
		ChunkSize:   1500,
	}
	if _, err := mgr.Enqueue(ctx, models.JobTypeDocumentProcessing, payload, nil); err != nil {
		t.Fatal(err)
	}

	res, err := mgr.Reserve(ctx, "w0")
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != models.JobTypeDocumentProcessing {
		t.Errorf("Expected DOCUMENT_PROCESSING, got %s", res.Type)
	}
	var got models.ProcessPayload
	if err := json.Unmarshal(res.Payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.FileID != "file-1" || got.CourseID != "c1" || got.ChunkSize != 1500 {
		t.Errorf("Payload mismatch: %+v", got)
	}
}
