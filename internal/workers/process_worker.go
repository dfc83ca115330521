// Document processing stage (DOCUMENT_PROCESSING). Parses one file to
// markdown, splits it into chunks, embeds them and upserts into the vector
// index. Failures are per-file: the file is marked failed and the course
// carries on with the rest. The last file to finish triggers summarization.

package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
)

// ProcessWorker handles DOCUMENT_PROCESSING jobs
type ProcessWorker struct {
	d *Deps
}

// NewProcessWorker creates the processing stage worker
func NewProcessWorker(d *Deps) *ProcessWorker {
	return &ProcessWorker{d: d}
}

func (w *ProcessWorker) Handle(ctx context.Context, res *interfaces.Reservation) error {
	var payload models.ProcessPayload
	if err := decode(res, &payload); err != nil {
		return err
	}
	started := time.Now()
	defer timeStage(w.d, payload.CourseID, "processing", started)

	course, err := guardStage(ctx, w.d, payload.CourseID, models.GenerationStatusParsing,
		models.GenerationStatusUploading, models.GenerationStatusParsing)
	if err != nil {
		return stageFailure(ctx, w.d, payload.CourseID, "processing", err)
	}
	if course == nil {
		return nil
	}

	if course.GenerationStatus == models.GenerationStatusUploading {
		if err := w.d.Status.Advance(ctx, payload.CourseID, models.GenerationStatusParsing); err != nil {
			return err
		}
	}

	file, err := w.d.Storage.FileStorage().GetFile(ctx, payload.FileID)
	if err != nil {
		return pipeline.NewError(pipeline.KindDependencyMissing, "file row not found for processing", err)
	}

	switch file.VectorStatus {
	case models.VectorStatusReady, models.VectorStatusIndexed, models.VectorStatusFailed:
		// earlier delivery already settled this file
		return w.checkCompletion(ctx, &payload)
	}

	if err := w.processFile(ctx, &payload, file); err != nil {
		if !pipeline.Retryable(err) || res.Attempt >= w.d.Config.Queue.MaxAttempts {
			w.d.Logger.Warn().Err(err).
				Str("course_id", common.ShortID(payload.CourseID)).
				Str("file_id", common.ShortID(file.ID)).
				Str("filename", file.Filename).
				Msg("Document processing failed, marking file failed")
			if markErr := w.d.Storage.FileStorage().UpdateVectorStatus(ctx, file.ID,
				models.VectorStatusFailed, pipeline.UserMessage(err)); markErr != nil {
				return markErr
			}
			return w.checkCompletion(ctx, &payload)
		}
		return err
	}

	w.d.Logger.Info().
		Str("course_id", common.ShortID(payload.CourseID)).
		Str("file_id", common.ShortID(file.ID)).
		Str("filename", file.Filename).
		Msg("Document processed")
	return w.checkCompletion(ctx, &payload)
}

// processFile runs parse -> split -> embed -> upsert for one file and marks it
// ready. Re-running after a partial failure re-upserts the same chunk ids.
func (w *ProcessWorker) processFile(ctx context.Context, payload *models.ProcessPayload, file *models.File) error {
	doc, err := w.d.Parser.ToMarkdown(ctx, file.StoragePath, file.MimeType)
	if err != nil {
		return pipeline.NewError(pipeline.KindValidationError,
			fmt.Sprintf("cannot parse %s", file.Filename), err)
	}
	if doc.Markdown == "" {
		return pipeline.Errorf(pipeline.KindValidationError, "document %s produced no text", file.Filename)
	}

	chunkSize := payload.ChunkSize
	if chunkSize <= 0 {
		chunkSize = w.d.Config.Pipeline.ChunkSize
	}
	overlap := payload.ChunkOverlap
	if overlap <= 0 {
		overlap = w.d.Config.Pipeline.ChunkOverlap
	}
	chunks := w.d.Splitter.Split(doc.Markdown, chunkSize, overlap)
	if len(chunks) == 0 {
		return pipeline.Errorf(pipeline.KindValidationError, "document %s produced no chunks", file.Filename)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := w.d.Embeddings.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(chunks) {
		return pipeline.Errorf(pipeline.KindDecodingError,
			"embedding batch returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	rows := make([]*models.VectorChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = &models.VectorChunk{
			// Deterministic id: re-processing overwrites instead of duplicating
			ID:        fmt.Sprintf("chunk_%s_%d", file.ID, c.Index),
			FileID:    file.ID,
			CourseID:  payload.CourseID,
			Content:   c.Content,
			Embedding: embeddings[i],
			Metadata: map[string]interface{}{
				"page":    c.Page,
				"section": c.Section,
				"index":   c.Index,
			},
		}
	}
	if err := w.d.Storage.VectorStorage().UpsertChunks(ctx, rows); err != nil {
		return err
	}

	if err := w.d.Storage.FileStorage().SetMarkdownContent(ctx, file.ID, doc.Markdown); err != nil {
		return err
	}
	return w.d.Storage.FileStorage().UpdateVectorStatus(ctx, file.ID, models.VectorStatusReady, "")
}

// checkCompletion enqueues summarization once every file of the course is
// terminal. All files failed means the course has no material to work with.
func (w *ProcessWorker) checkCompletion(ctx context.Context, payload *models.ProcessPayload) error {
	files, err := w.d.Storage.FileStorage().GetFilesByCourse(ctx, payload.CourseID)
	if err != nil {
		return err
	}

	ready, failed := 0, 0
	for _, f := range files {
		switch f.VectorStatus {
		case models.VectorStatusReady, models.VectorStatusIndexed:
			ready++
		case models.VectorStatusFailed:
			failed++
		default:
			return nil // another file is still in flight
		}
	}

	if ready == 0 {
		return stageFailure(ctx, w.d, payload.CourseID, "processing",
			pipeline.Errorf(pipeline.KindValidationError, "all %d documents failed processing", failed))
	}

	w.d.Logger.Info().
		Str("course_id", common.ShortID(payload.CourseID)).
		Int("ready", ready).
		Int("failed", failed).
		Msg("Document processing complete")

	_, err = w.d.Queue.Enqueue(ctx, models.JobTypeSummarization, &models.SummarizePayload{
		JobEnvelope: models.JobEnvelope{
			JobType:        models.JobTypeSummarization,
			OrganizationID: payload.OrganizationID,
			CourseID:       payload.CourseID,
			UserID:         payload.UserID,
			CreatedAt:      time.Now().UTC(),
		},
	}, nil)
	return err
}
