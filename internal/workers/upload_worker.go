// Document upload stage (DOCUMENT_UPLOAD). Validates the file against tier
// limits, persists the blob and the file catalog row, and enqueues processing
// for the file. One job per document.

package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
)

// UploadWorker handles DOCUMENT_UPLOAD jobs
type UploadWorker struct {
	d *Deps
}

// NewUploadWorker creates the upload stage worker
func NewUploadWorker(d *Deps) *UploadWorker {
	return &UploadWorker{d: d}
}

func (w *UploadWorker) Handle(ctx context.Context, res *interfaces.Reservation) error {
	var payload models.UploadPayload
	if err := decode(res, &payload); err != nil {
		return err
	}
	started := time.Now()
	defer timeStage(w.d, payload.CourseID, "upload", started)

	course, err := guardStage(ctx, w.d, payload.CourseID, models.GenerationStatusUploading,
		models.GenerationStatusPending, models.GenerationStatusUploading)
	if err != nil {
		return stageFailure(ctx, w.d, payload.CourseID, "upload", err)
	}
	if course == nil {
		return nil
	}

	if err := w.validate(&payload); err != nil {
		return stageFailure(ctx, w.d, payload.CourseID, "upload", err)
	}

	if course.GenerationStatus == models.GenerationStatusPending {
		if err := w.d.Status.Advance(ctx, payload.CourseID, models.GenerationStatusUploading); err != nil {
			return err
		}
	}

	file, err := w.persist(ctx, &payload)
	if err != nil {
		return stageFailure(ctx, w.d, payload.CourseID, "upload", err)
	}

	_, err = w.d.Queue.Enqueue(ctx, models.JobTypeDocumentProcessing, &models.ProcessPayload{
		JobEnvelope: models.JobEnvelope{
			JobType:        models.JobTypeDocumentProcessing,
			OrganizationID: payload.OrganizationID,
			CourseID:       payload.CourseID,
			UserID:         payload.UserID,
			CreatedAt:      time.Now().UTC(),
		},
		FileID:       file.ID,
		FilePath:     file.StoragePath,
		MimeType:     file.MimeType,
		ChunkSize:    w.d.Config.Pipeline.ChunkSize,
		ChunkOverlap: w.d.Config.Pipeline.ChunkOverlap,
	}, nil)
	if err != nil {
		return err
	}

	w.d.Logger.Info().
		Str("course_id", common.ShortID(payload.CourseID)).
		Str("file_id", common.ShortID(file.ID)).
		Str("filename", payload.Filename).
		Int64("size", payload.SizeBytes).
		Msg("Document uploaded")
	return nil
}

// validate checks the upload against the organization's tier limits
func (w *UploadWorker) validate(payload *models.UploadPayload) error {
	if payload.Filename == "" || len(payload.FileContent) == 0 {
		return pipeline.Errorf(pipeline.KindValidationError, "upload requires a filename and content")
	}
	limits := models.LimitsForTier(w.tier(payload.OrganizationID))
	if payload.SizeBytes > limits.MaxFileSizeBytes {
		return pipeline.Errorf(pipeline.KindValidationError,
			"file %s exceeds the %d MB tier limit", payload.Filename, limits.MaxFileSizeBytes>>20)
	}
	for _, mime := range limits.AllowedMimeTypes {
		if mime == payload.MimeType {
			return nil
		}
	}
	return pipeline.Errorf(pipeline.KindValidationError, "mime type %s is not accepted", payload.MimeType)
}

// tier resolves the organization tier from the KV store, defaulting to free
func (w *UploadWorker) tier(orgID string) string {
	if orgID == "" {
		return ""
	}
	tier, err := w.d.Storage.KeyValueStorage().Get(context.Background(), "org_tier:"+orgID)
	if err != nil {
		return ""
	}
	return tier
}

// persist writes the blob and the catalog row. The natural key is
// (course, filename, content hash): re-delivery of the same job reuses the
// existing row instead of duplicating the document.
func (w *UploadWorker) persist(ctx context.Context, payload *models.UploadPayload) (*models.File, error) {
	sum := sha256.Sum256(payload.FileContent)
	hash := hex.EncodeToString(sum[:])

	existing, err := w.d.Storage.FileStorage().GetFilesByCourse(ctx, payload.CourseID)
	if err != nil {
		return nil, err
	}
	for _, f := range existing {
		if f.Filename == payload.Filename && f.Hash == hash {
			return f, nil
		}
	}

	dir := filepath.Join(w.d.Config.Storage.Filesystem.Documents, payload.CourseID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create document directory: %w", err)
	}
	path := filepath.Join(dir, payload.Filename)
	if err := os.WriteFile(path, payload.FileContent, 0o644); err != nil {
		return nil, fmt.Errorf("write document blob: %w", err)
	}

	now := time.Now().UTC()
	file := &models.File{
		ID:             common.NewFileID(),
		CourseID:       payload.CourseID,
		OrganizationID: payload.OrganizationID,
		Filename:       payload.Filename,
		MimeType:       payload.MimeType,
		FileSize:       payload.SizeBytes,
		StoragePath:    path,
		Hash:           hash,
		VectorStatus:   models.VectorStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := w.d.Storage.FileStorage().SaveFile(ctx, file); err != nil {
		return nil, err
	}
	return file, nil
}
