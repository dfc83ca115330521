package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// CourseStorage implements the CourseStorage interface for Badger
type CourseStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCourseStorage creates a new CourseStorage instance
func NewCourseStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CourseStorage {
	return &CourseStorage{
		db:     db,
		logger: logger,
	}
}

// SaveCourse upserts a course keyed by its id
func (s *CourseStorage) SaveCourse(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		return fmt.Errorf("course ID is required")
	}
	if course.CreatedAt.IsZero() {
		course.CreatedAt = time.Now()
	}
	course.UpdatedAt = time.Now()

	return withRetry(ctx, func() error {
		if err := s.db.Store().Upsert(course.ID, course); err != nil {
			return fmt.Errorf("failed to save course: %w", err)
		}
		return nil
	})
}

// GetCourse retrieves a course by id
func (s *CourseStorage) GetCourse(ctx context.Context, id string) (*models.Course, error) {
	var course models.Course
	err := withRetry(ctx, func() error {
		return s.db.Store().Get(id, &course)
	})
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &course, nil
}

// UpdateGenerationState applies an FSM transition atomically. The read and
// conditional write happen inside one badgerhold transaction so concurrent
// workers cannot both apply the same transition.
func (s *CourseStorage) UpdateGenerationState(ctx context.Context, courseID string, status models.GenerationStatus, meta *models.GenerationMetadata) error {
	return withRetry(ctx, func() error {
		txn := s.db.Store().Badger().NewTransaction(true)
		defer txn.Discard()

		var course models.Course
		if err := s.db.Store().TxGet(txn, courseID, &course); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to load course for transition: %w", err)
		}

		if !course.GenerationStatus.CanTransitionTo(status) {
			return fmt.Errorf("%w: %s -> %s", interfaces.ErrIllegalTransition, course.GenerationStatus, status)
		}

		course.GenerationStatus = status
		if status == models.GenerationStatusFailed {
			// Progress freezes where it was; only metadata records the failure.
			if meta != nil {
				course.GenerationMetadata = meta
			}
		} else {
			course.GenerationProgress = status.Progress()
			if meta != nil {
				if course.GenerationMetadata == nil {
					course.GenerationMetadata = &models.GenerationMetadata{}
				}
				course.GenerationMetadata.LastTransition = meta.LastTransition
			}
		}
		course.UpdatedAt = time.Now()

		if err := s.db.Store().TxUpsert(txn, courseID, &course); err != nil {
			return fmt.Errorf("failed to write course transition: %w", err)
		}
		return txn.Commit()
	})
}

// SetAnalysisResult stores the analysis stage output on the course
func (s *CourseStorage) SetAnalysisResult(ctx context.Context, courseID string, result *models.AnalysisResult) error {
	return s.mutate(ctx, courseID, func(course *models.Course) {
		course.AnalysisResult = result
	})
}

// SetCourseStructure stores the structure stage output on the course
func (s *CourseStorage) SetCourseStructure(ctx context.Context, courseID string, structure *models.CourseStructure) error {
	return s.mutate(ctx, courseID, func(course *models.Course) {
		course.CourseStructure = structure
	})
}

// ListCoursesByStatus returns all courses currently in the given state
func (s *CourseStorage) ListCoursesByStatus(ctx context.Context, status models.GenerationStatus) ([]*models.Course, error) {
	var courses []models.Course
	err := withRetry(ctx, func() error {
		return s.db.Store().Find(&courses, badgerhold.Where("GenerationStatus").Eq(status))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	result := make([]*models.Course, len(courses))
	for i := range courses {
		result[i] = &courses[i]
	}
	return result, nil
}

// mutate applies fn to a course inside a transaction
func (s *CourseStorage) mutate(ctx context.Context, courseID string, fn func(*models.Course)) error {
	return withRetry(ctx, func() error {
		txn := s.db.Store().Badger().NewTransaction(true)
		defer txn.Discard()

		var course models.Course
		if err := s.db.Store().TxGet(txn, courseID, &course); err != nil {
			if err == badgerhold.ErrNotFound {
				return interfaces.ErrNotFound
			}
			return fmt.Errorf("failed to load course: %w", err)
		}
		fn(&course)
		course.UpdatedAt = time.Now()
		if err := s.db.Store().TxUpsert(txn, courseID, &course); err != nil {
			return fmt.Errorf("failed to update course: %w", err)
		}
		return txn.Commit()
	})
}
