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

// JobStatusStorage implements the JobStatusStorage interface for Badger
type JobStatusStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStatusStorage creates a new JobStatusStorage instance
func NewJobStatusStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStatusStorage {
	return &JobStatusStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertJobStatus writes the observable projection row for a job
func (s *JobStatusStorage) UpsertJobStatus(ctx context.Context, row *models.JobStatusRow) error {
	if row.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	row.UpdatedAt = time.Now()

	return withRetry(ctx, func() error {
		if err := s.db.Store().Upsert(row.ID, row); err != nil {
			return fmt.Errorf("failed to save job status: %w", err)
		}
		return nil
	})
}

// GetJobStatus retrieves the projection row for a job
func (s *JobStatusStorage) GetJobStatus(ctx context.Context, jobID string) (*models.JobStatusRow, error) {
	var row models.JobStatusRow
	err := withRetry(ctx, func() error {
		return s.db.Store().Get(jobID, &row)
	})
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job status: %w", err)
	}
	return &row, nil
}

// GetJobStatusByCourse returns all projection rows for a course, newest first
func (s *JobStatusStorage) GetJobStatusByCourse(ctx context.Context, courseID string) ([]*models.JobStatusRow, error) {
	var rows []models.JobStatusRow
	err := withRetry(ctx, func() error {
		return s.db.Store().Find(&rows, badgerhold.Where("CourseID").Eq(courseID).Index("CourseID"))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list job statuses: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UpdatedAt.After(rows[j].UpdatedAt) })
	result := make([]*models.JobStatusRow, len(rows))
	for i := range rows {
		result[i] = &rows[i]
	}
	return result, nil
}
