// Application wiring. Builds the service graph in dependency order and tears
// it down in reverse: config -> logger -> storage -> queue -> gateway ->
// pipeline services -> workers -> scheduler.

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/lessongraph"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
	"github.com/ternarybob/doceo/internal/queue"
	"github.com/ternarybob/doceo/internal/services/embeddings"
	"github.com/ternarybob/doceo/internal/services/llm"
	"github.com/ternarybob/doceo/internal/services/metrics"
	"github.com/ternarybob/doceo/internal/services/parser"
	"github.com/ternarybob/doceo/internal/services/rag"
	"github.com/ternarybob/doceo/internal/services/scheduler"
	badgerstore "github.com/ternarybob/doceo/internal/storage/badger"
	"github.com/ternarybob/doceo/internal/workers"
)

// App holds the assembled service graph of the generation pipeline
type App struct {
	Config     *common.Config
	Logger     arbor.ILogger
	Storage    interfaces.StorageManager
	Queue      interfaces.QueueService
	Status     *pipeline.StatusManager
	Ledger     *metrics.Ledger
	LLM        interfaces.CompletionService
	Embeddings interfaces.EmbeddingService
	RAG        *rag.Builder
	Graph      *lessongraph.Graph
	Pool       *queue.WorkerPool
	Scheduler  *scheduler.Service
}

// New assembles the application. Nothing is running yet; call Start.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	storage, err := badgerstore.NewManager(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	// The queue keeps its own keyspace inside the shared Badger database
	store := storage.(*badgerstore.Manager)
	queueMgr, err := queue.NewManager(store.DB().Store().Badger(), logger, &cfg.Queue)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("queue: %w", err)
	}

	ledger := metrics.NewLedger(logger)
	gateway, err := llm.NewGateway(cfg, storage.KeyValueStorage(), ledger, logger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("llm gateway: %w", err)
	}

	embedder, err := embeddings.NewEmbeddingService(cfg, storage.KeyValueStorage(), logger)
	if err != nil {
		gateway.Close()
		storage.Close()
		return nil, fmt.Errorf("embeddings: %w", err)
	}

	status := pipeline.NewStatusManager(storage.CourseStorage(), queueMgr, logger)
	ragBuilder := rag.NewBuilder(storage.VectorStorage(), embedder, logger)
	graph := lessongraph.NewGraph(gateway, ledger, cfg, logger)

	pool := queue.NewWorkerPool(queueMgr, storage.JobStatusStorage(), logger, &cfg.Queue)
	workers.RegisterAll(pool, &workers.Deps{
		Storage:    storage,
		Queue:      queueMgr,
		Status:     status,
		LLM:        gateway,
		Embeddings: embedder,
		Parser:     parser.NewService(logger),
		Splitter:   parser.NewSplitter(),
		RAG:        ragBuilder,
		Graph:      graph,
		Ledger:     ledger,
		Config:     cfg,
		Logger:     logger,
	})

	return &App{
		Config:     cfg,
		Logger:     logger,
		Storage:    storage,
		Queue:      queueMgr,
		Status:     status,
		Ledger:     ledger,
		LLM:        gateway,
		Embeddings: embedder,
		RAG:        ragBuilder,
		Graph:      graph,
		Pool:       pool,
		Scheduler:  scheduler.NewService(queueMgr, &cfg.Scheduler, logger),
	}, nil
}

// Start launches the worker pool and the housekeeping scheduler
func (a *App) Start() error {
	if err := a.Pool.Start(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	if err := a.Scheduler.Start(); err != nil {
		a.Pool.Stop()
		return fmt.Errorf("scheduler: %w", err)
	}
	a.Logger.Info().
		Int("concurrency", a.Config.Queue.Concurrency).
		Str("environment", a.Config.Environment).
		Msg("Pipeline started")
	return nil
}

// Stop tears the application down in reverse dependency order
func (a *App) Stop() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(a.Scheduler.Stop())
	keep(a.Pool.Stop())
	keep(a.LLM.Close())
	keep(a.Storage.Close())
	a.Logger.Info().Msg("Pipeline stopped")
	return firstErr
}

// CancelCourse drives a course to the failed sink and discards its queued
// jobs. Cancelling an already terminal course is an error.
func (a *App) CancelCourse(ctx context.Context, courseID string) error {
	course, err := a.Storage.CourseStorage().GetCourse(ctx, courseID)
	if err != nil {
		return err
	}
	if course.GenerationStatus.IsTerminal() {
		return pipeline.Errorf(pipeline.KindStateConflict,
			"course %s is already %s", courseID, course.GenerationStatus)
	}
	return a.Status.MarkFailed(ctx, courseID, "cancelled",
		pipeline.Errorf(pipeline.KindValidationError, "cancelled by operator"))
}

// SubmitDocument enqueues a DOCUMENT_UPLOAD job for a course
func (a *App) SubmitDocument(ctx context.Context, courseID, orgID, filename, mimeType string, content []byte) (string, error) {
	payload := &models.UploadPayload{
		JobEnvelope: models.JobEnvelope{
			JobType:        models.JobTypeDocumentUpload,
			OrganizationID: orgID,
			CourseID:       courseID,
			CreatedAt:      time.Now().UTC(),
		},
		Filename:    filename,
		MimeType:    mimeType,
		SizeBytes:   int64(len(content)),
		FileContent: content,
	}
	return a.Queue.Enqueue(ctx, models.JobTypeDocumentUpload, payload, nil)
}
