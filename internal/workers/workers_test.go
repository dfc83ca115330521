package workers

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/lessongraph"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
	"github.com/ternarybob/doceo/internal/queue"
	"github.com/ternarybob/doceo/internal/services/embeddings"
	"github.com/ternarybob/doceo/internal/services/metrics"
	"github.com/ternarybob/doceo/internal/services/parser"
	"github.com/ternarybob/doceo/internal/services/rag"
	badgerstore "github.com/ternarybob/doceo/internal/storage/badger"
)

type scriptStep struct {
	text string
	err  error
}

// scriptedLLM serves canned responses in order across all stages
type scriptedLLM struct {
	mu     sync.Mutex
	script []scriptStep
	calls  int
}

func (s *scriptedLLM) next() (*interfaces.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.script) {
		return nil, pipeline.Errorf(pipeline.KindUpstreamError, "script exhausted after %d calls", s.calls)
	}
	step := s.script[s.calls]
	s.calls++
	if step.err != nil {
		return nil, step.err
	}
	return &interfaces.CompletionResponse{
		Text:             step.text,
		TokensPrompt:     100,
		TokensCompletion: 200,
		CostUSD:          0.001,
		ModelUsed:        "scripted-model",
		Duration:         time.Millisecond,
	}, nil
}

func (s *scriptedLLM) Complete(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	return s.next()
}

func (s *scriptedLLM) CompleteWithEscalation(ctx context.Context, req *interfaces.CompletionRequest) (*interfaces.CompletionResponse, error) {
	return s.next()
}

func (s *scriptedLLM) HealthCheck(ctx context.Context) error { return nil }
func (s *scriptedLLM) Close() error                          { return nil }

func ok(text string) scriptStep { return scriptStep{text: text} }

const documentText = `# Go Notes

Go is a statically typed language built for simple concurrent services.
Variables are declared with var or the short assignment form.
Functions group reusable logic and may return multiple values.
The standard toolchain formats, vets and tests code without extra setup.`

const summaryResponse = `The document introduces the Go language: variable
declarations, functions with multiple return values, and the standard
toolchain. Suitable for a beginner programming course.`

const analysisResponse = `{
  "category": "Programming",
  "topic_analysis": "The material introduces the Go language at a beginner level.",
  "guidance": {"tone": "friendly", "audience": "beginners", "depth": "introductory"},
  "document_relevance": [],
  "research_flags": [],
  "projected_sections": [
    {"title": "Go Basics", "description": "Core language elements", "topics": ["Variables", "Functions"]}
  ]
}`

const structureResponse = `{
  "sections": [
    {
      "title": "Go Basics",
      "description": "Core language elements",
      "order_index": 1,
      "lessons": [
        {
          "title": "Getting Started",
          "description": "First steps with the Go language",
          "order_index": 1,
          "learning_outcomes": ["Declare variables", "Write functions"],
          "topics": ["Variables", "Functions"],
          "duration_minutes": 30
        }
      ]
    }
  ]
}`

const lessonResponse = `# Getting Started

This lesson walks through the first Go program and the language basics.

## Variables

Variables hold typed values. Declare them with the var keyword or the short
assignment form inside functions. The compiler rejects unused variables.

## Functions

Functions group reusable logic. They accept typed parameters and may return
several values, which is how Go surfaces errors to callers.`

const acceptVerdict = `{"score": 0.9, "verdict": "accept"}`

func newTestDeps(t *testing.T, llm interfaces.CompletionService) (*Deps, interfaces.QueueService) {
	t.Helper()
	logger := arbor.NewLogger()

	store, err := badgerstore.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "store"),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	qopts := badgerdb.DefaultOptions(filepath.Join(t.TempDir(), "queue"))
	qopts.Logger = nil
	qdb, err := badgerdb.Open(qopts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { qdb.Close() })

	q, err := queue.NewManager(qdb, logger, &common.QueueConfig{
		VisibilityTimeout: "1m",
		MaxAttempts:       2,
		BackoffBase:       "1ms",
		BackoffMax:        "5ms",
		QueueName:         "test",
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := common.NewDefaultConfig()
	cfg.Storage.Filesystem.Documents = filepath.Join(t.TempDir(), "docs")

	embedder := embeddings.NewOfflineEmbeddingService(32, logger)
	ledger := metrics.NewLedger(logger)

	d := &Deps{
		Storage:    store,
		Queue:      q,
		Status:     pipeline.NewStatusManager(store.CourseStorage(), q, logger),
		LLM:        llm,
		Embeddings: embedder,
		Parser:     parser.NewService(logger),
		Splitter:   parser.NewSplitter(),
		RAG:        rag.NewBuilder(store.VectorStorage(), embedder, logger),
		Graph:      lessongraph.NewGraph(llm, ledger, cfg, logger),
		Ledger:     ledger,
		Config:     cfg,
		Logger:     logger,
	}
	return d, q
}

func saveCourse(t *testing.T, d *Deps, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := d.Storage.CourseStorage().SaveCourse(context.Background(), &models.Course{
		ID:               id,
		OrganizationID:   "org-1",
		Title:            "Go for Beginners",
		Language:         "en",
		Style:            "practical",
		GenerationStatus: models.GenerationStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func uploadJob(courseID, filename, mime string, content []byte) *models.UploadPayload {
	return &models.UploadPayload{
		JobEnvelope: models.JobEnvelope{
			JobType:        models.JobTypeDocumentUpload,
			OrganizationID: "org-1",
			CourseID:       courseID,
			CreatedAt:      time.Now().UTC(),
		},
		Filename:    filename,
		MimeType:    mime,
		SizeBytes:   int64(len(content)),
		FileContent: content,
	}
}

// pump drains the queue synchronously, dispatching each job to its stage
// handler the way the worker pool would
func pump(t *testing.T, d *Deps, q interfaces.QueueService) {
	t.Helper()
	handlers := map[models.JobType]queue.JobHandler{
		models.JobTypeDocumentUpload:      NewUploadWorker(d).Handle,
		models.JobTypeDocumentProcessing:  NewProcessWorker(d).Handle,
		models.JobTypeSummarization:       NewSummarizeWorker(d).Handle,
		models.JobTypeStructureAnalysis:   NewAnalyzeWorker(d).Handle,
		models.JobTypeStructureGeneration: NewStructureWorker(d).Handle,
		models.JobTypeLessonContent:       NewLessonWorker(d).Handle,
	}
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		res, err := q.Reserve(ctx, "test-consumer")
		if errors.Is(err, interfaces.ErrNoJob) {
			return
		}
		if err != nil {
			t.Fatal(err)
		}
		handler := handlers[res.Type]
		if handler == nil {
			t.Fatalf("No handler for job type %s", res.Type)
		}
		if herr := handler(ctx, res); herr != nil {
			if ferr := q.Fail(ctx, res.JobID, herr.Error()); ferr != nil {
				t.Fatal(ferr)
			}
			time.Sleep(10 * time.Millisecond) // let the backoff delay elapse
			continue
		}
		if cerr := q.Complete(ctx, res.JobID); cerr != nil {
			t.Fatal(cerr)
		}
	}
	t.Fatal("Queue did not drain")
}

func reservation(t *testing.T, jobType models.JobType, payload interface{}) *interfaces.Reservation {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return &interfaces.Reservation{
		JobID:   "job-test",
		Type:    jobType,
		Payload: raw,
		Attempt: 1,
	}
}

func TestPipelineTwoDocuments(t *testing.T) {
	llm := &scriptedLLM{script: []scriptStep{
		ok(summaryResponse), ok(summaryResponse), // one per document
		ok(analysisResponse),
		ok(structureResponse),
		ok(lessonResponse),
		ok(acceptVerdict),
	}}
	d, q := newTestDeps(t, llm)
	ctx := context.Background()
	saveCourse(t, d, "course-1")

	for _, name := range []string{"notes-a.md", "notes-b.md"} {
		if _, err := q.Enqueue(ctx, models.JobTypeDocumentUpload,
			uploadJob("course-1", name, "text/markdown", []byte(documentText)), nil); err != nil {
			t.Fatal(err)
		}
	}
	pump(t, d, q)

	course, err := d.Storage.CourseStorage().GetCourse(ctx, "course-1")
	if err != nil {
		t.Fatal(err)
	}
	if course.GenerationStatus != models.GenerationStatusCompleted {
		t.Fatalf("Expected completed course, got %s (%+v)", course.GenerationStatus, course.GenerationMetadata)
	}
	if course.AnalysisResult == nil || course.AnalysisResult.Category != "Programming" {
		t.Error("Analysis result must be stored on the course")
	}
	if course.CourseStructure == nil || len(course.CourseStructure.Sections) != 1 {
		t.Fatal("Course structure must be stored on the course")
	}

	files, err := d.Storage.FileStorage().GetFilesByCourse(ctx, "course-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	for _, f := range files {
		if f.VectorStatus != models.VectorStatusReady {
			t.Errorf("File %s: status %s, want ready", f.Filename, f.VectorStatus)
		}
		if !f.Parsed() || f.ProcessedContent == "" {
			t.Errorf("File %s must carry markdown and a summary", f.Filename)
		}
	}

	lessons, err := d.Storage.LessonStorage().GetLessonsByCourse(ctx, "course-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(lessons) != 1 {
		t.Fatalf("Expected 1 lesson, got %d", len(lessons))
	}
	content, err := d.Storage.LessonStorage().GetLessonContent(ctx, lessons[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if content.Status != models.LessonContentCompleted {
		t.Fatalf("Expected completed lesson, got %s (%s)", content.Status, content.Error)
	}
	if len(content.Sections) != 2 || content.Sections[0].Title != "Variables" || content.Sections[1].Title != "Functions" {
		t.Errorf("Lesson sections do not match the spec: %+v", content.Sections)
	}
	if content.Metrics == nil || content.Metrics.QualityScore != 0.9 {
		t.Error("Judge score must land in the lesson metrics")
	}

	if llm.calls != 6 {
		t.Errorf("Expected 6 LLM calls, got %d", llm.calls)
	}

	cm := d.Ledger.CourseMetrics("course-1")
	if cm.TokensUsed == 0 || len(cm.StageDurations) == 0 {
		t.Error("Ledger must carry course token and stage timing totals")
	}
}

func TestPipelinePartialDocumentFailure(t *testing.T) {
	llm := &scriptedLLM{script: []scriptStep{
		ok(summaryResponse), // only the parseable document is summarized
		ok(analysisResponse),
		ok(structureResponse),
		ok(lessonResponse),
		ok(acceptVerdict),
	}}
	d, q := newTestDeps(t, llm)
	ctx := context.Background()
	saveCourse(t, d, "course-2")

	if _, err := q.Enqueue(ctx, models.JobTypeDocumentUpload,
		uploadJob("course-2", "notes.md", "text/markdown", []byte(documentText)), nil); err != nil {
		t.Fatal(err)
	}
	// valid mime type, invalid bytes: parsing fails for this file only
	if _, err := q.Enqueue(ctx, models.JobTypeDocumentUpload,
		uploadJob("course-2", "broken.pdf", "application/pdf", []byte("not a pdf")), nil); err != nil {
		t.Fatal(err)
	}
	pump(t, d, q)

	course, err := d.Storage.CourseStorage().GetCourse(ctx, "course-2")
	if err != nil {
		t.Fatal(err)
	}
	if course.GenerationStatus != models.GenerationStatusCompleted {
		t.Fatalf("One good document must carry the course, got %s (%+v)",
			course.GenerationStatus, course.GenerationMetadata)
	}

	files, err := d.Storage.FileStorage().GetFilesByCourse(ctx, "course-2")
	if err != nil {
		t.Fatal(err)
	}
	statuses := map[string]models.VectorStatus{}
	for _, f := range files {
		statuses[f.Filename] = f.VectorStatus
	}
	if statuses["notes.md"] != models.VectorStatusReady {
		t.Errorf("Good file: status %s, want ready", statuses["notes.md"])
	}
	if statuses["broken.pdf"] != models.VectorStatusFailed {
		t.Errorf("Broken file: status %s, want failed", statuses["broken.pdf"])
	}
}

func TestPipelineAllDocumentsFailed(t *testing.T) {
	llm := &scriptedLLM{}
	d, q := newTestDeps(t, llm)
	ctx := context.Background()
	saveCourse(t, d, "course-3")

	if _, err := q.Enqueue(ctx, models.JobTypeDocumentUpload,
		uploadJob("course-3", "broken.pdf", "application/pdf", []byte("not a pdf")), nil); err != nil {
		t.Fatal(err)
	}
	pump(t, d, q)

	course, err := d.Storage.CourseStorage().GetCourse(ctx, "course-3")
	if err != nil {
		t.Fatal(err)
	}
	if course.GenerationStatus != models.GenerationStatusFailed {
		t.Fatalf("Expected failed course, got %s", course.GenerationStatus)
	}
	if course.GenerationMetadata == nil || course.GenerationMetadata.ErrorMessage == "" {
		t.Error("Failed course must carry an error message")
	}
	if llm.calls != 0 {
		t.Errorf("No LLM calls expected, got %d", llm.calls)
	}
}

func TestUploadRejectsMimeType(t *testing.T) {
	llm := &scriptedLLM{}
	d, q := newTestDeps(t, llm)
	ctx := context.Background()
	saveCourse(t, d, "course-4")

	if _, err := q.Enqueue(ctx, models.JobTypeDocumentUpload,
		uploadJob("course-4", "archive.zip", "application/zip", []byte("zipzip")), nil); err != nil {
		t.Fatal(err)
	}
	pump(t, d, q)

	course, err := d.Storage.CourseStorage().GetCourse(ctx, "course-4")
	if err != nil {
		t.Fatal(err)
	}
	if course.GenerationStatus != models.GenerationStatusFailed {
		t.Fatalf("Expected failed course, got %s", course.GenerationStatus)
	}
}

func TestUploadDeduplicatesRedelivery(t *testing.T) {
	llm := &scriptedLLM{}
	d, _ := newTestDeps(t, llm)
	ctx := context.Background()
	saveCourse(t, d, "course-5")

	worker := NewUploadWorker(d)
	payload := uploadJob("course-5", "notes.md", "text/markdown", []byte(documentText))
	for i := 0; i < 2; i++ {
		if err := worker.Handle(ctx, reservation(t, models.JobTypeDocumentUpload, payload)); err != nil {
			t.Fatal(err)
		}
	}

	files, err := d.Storage.FileStorage().GetFilesByCourse(ctx, "course-5")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("Duplicate delivery must reuse the file row, got %d rows", len(files))
	}
}

func TestSummarizeIsIdempotent(t *testing.T) {
	llm := &scriptedLLM{script: []scriptStep{ok(summaryResponse), ok(summaryResponse)}}
	d, _ := newTestDeps(t, llm)
	ctx := context.Background()
	saveCourse(t, d, "course-6")

	// bring the course to the summarization entry state with two parsed files
	for _, s := range []models.GenerationStatus{
		models.GenerationStatusUploading, models.GenerationStatusParsing,
	} {
		if err := d.Status.Advance(ctx, "course-6", s); err != nil {
			t.Fatal(err)
		}
	}
	now := time.Now().UTC()
	for _, id := range []string{"file-a", "file-b"} {
		err := d.Storage.FileStorage().SaveFile(ctx, &models.File{
			ID:              id,
			CourseID:        "course-6",
			Filename:        id + ".md",
			MimeType:        "text/markdown",
			VectorStatus:    models.VectorStatusReady,
			MarkdownContent: documentText,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	worker := NewSummarizeWorker(d)
	payload := &models.SummarizePayload{JobEnvelope: models.JobEnvelope{
		JobType:  models.JobTypeSummarization,
		CourseID: "course-6",
	}}
	for i := 0; i < 2; i++ {
		if err := worker.Handle(ctx, reservation(t, models.JobTypeSummarization, payload)); err != nil {
			t.Fatal(err)
		}
	}

	if llm.calls != 2 {
		t.Errorf("Second delivery must not re-summarize, got %d calls", llm.calls)
	}
	course, err := d.Storage.CourseStorage().GetCourse(ctx, "course-6")
	if err != nil {
		t.Fatal(err)
	}
	if course.GenerationStatus != models.GenerationStatusSummarizing {
		t.Errorf("Expected summarizing, got %s", course.GenerationStatus)
	}
}
