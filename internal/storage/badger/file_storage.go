package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// FileStorage implements the FileStorage interface for Badger
type FileStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewFileStorage creates a new FileStorage instance
func NewFileStorage(db *BadgerDB, logger arbor.ILogger) interfaces.FileStorage {
	return &FileStorage{
		db:     db,
		logger: logger,
	}
}

// SaveFile upserts a file catalog row keyed by id
func (s *FileStorage) SaveFile(ctx context.Context, file *models.File) error {
	if file.ID == "" {
		return fmt.Errorf("file ID is required")
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	file.UpdatedAt = time.Now()

	return withRetry(ctx, func() error {
		if err := s.db.Store().Upsert(file.ID, file); err != nil {
			return fmt.Errorf("failed to save file: %w", err)
		}
		return nil
	})
}

// GetFile retrieves a file by id
func (s *FileStorage) GetFile(ctx context.Context, id string) (*models.File, error) {
	var file models.File
	err := withRetry(ctx, func() error {
		return s.db.Store().Get(id, &file)
	})
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &file, nil
}

// GetFilesByCourse returns all files for a course, ordered by creation time
func (s *FileStorage) GetFilesByCourse(ctx context.Context, courseID string) ([]*models.File, error) {
	var files []models.File
	err := withRetry(ctx, func() error {
		return s.db.Store().Find(&files, badgerhold.Where("CourseID").Eq(courseID).Index("CourseID"))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	result := make([]*models.File, len(files))
	for i := range files {
		result[i] = &files[i]
	}
	return result, nil
}

// UpdateVectorStatus moves a file through its indexing lifecycle
func (s *FileStorage) UpdateVectorStatus(ctx context.Context, fileID string, status models.VectorStatus, errMsg string) error {
	return s.mutate(ctx, fileID, func(file *models.File) {
		file.VectorStatus = status
		file.ErrorMessage = errMsg
	})
}

// SetMarkdownContent stores the parsed markdown for a file
func (s *FileStorage) SetMarkdownContent(ctx context.Context, fileID string, markdown string) error {
	return s.mutate(ctx, fileID, func(file *models.File) {
		file.MarkdownContent = markdown
	})
}

// SetProcessedContent stores the summarized content for a file
func (s *FileStorage) SetProcessedContent(ctx context.Context, fileID string, processed string) error {
	return s.mutate(ctx, fileID, func(file *models.File) {
		file.ProcessedContent = processed
	})
}

// CountFilesByCourse returns the number of files attached to a course
func (s *FileStorage) CountFilesByCourse(ctx context.Context, courseID string) (int, error) {
	var count uint64
	err := withRetry(ctx, func() error {
		var cErr error
		count, cErr = s.db.Store().Count(&models.File{}, badgerhold.Where("CourseID").Eq(courseID).Index("CourseID"))
		return cErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return int(count), nil
}

func (s *FileStorage) mutate(ctx context.Context, fileID string, fn func(*models.File)) error {
	return withRetry(ctx, func() error {
		txn := s.db.Store().Badger().NewTransaction(true)
		defer txn.Discard()

		var file models.File
		if err := s.db.Store().TxGet(txn, fileID, &file); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to load file: %w", err)
		}
		fn(&file)
		file.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpsert(txn, fileID, &file); err != nil {
			return fmt.Errorf("failed to update file: %w", err)
		}
		return txn.Commit()
	})
}
