package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// LessonStorage implements the LessonStorage interface for Badger
type LessonStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLessonStorage creates a new LessonStorage instance
func NewLessonStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LessonStorage {
	return &LessonStorage{
		db:     db,
		logger: logger,
	}
}

// SaveStructure writes sections, lessons and pending lesson_contents rows for
// a course inside one transaction. Sections are keyed by (course_id,
// order_index) and lessons by (section_id, order_index): a re-run of the
// structure stage updates rows in place instead of duplicating them.
func (s *LessonStorage) SaveStructure(ctx context.Context, courseID string, structure *models.CourseStructure) ([]*models.Lesson, error) {
	if err := structure.Validate(); err != nil {
		return nil, fmt.Errorf("invalid course structure: %w", err)
	}

	var created []*models.Lesson
	err := withRetry(ctx, func() error {
		created = created[:0]
		txn := s.db.Store().Badger().NewTransaction(true)
		defer txn.Discard()

		// Existing rows for upsert-by-natural-key resolution
		var existingSections []models.Section
		if err := s.db.Store().TxFind(txn, &existingSections, badgerhold.Where("CourseID").Eq(courseID)); err != nil {
			return fmt.Errorf("failed to load existing sections: %w", err)
		}
		sectionByOrder := make(map[int]*models.Section, len(existingSections))
		for i := range existingSections {
			sectionByOrder[existingSections[i].OrderIndex] = &existingSections[i]
		}

		var existingLessons []models.Lesson
		if err := s.db.Store().TxFind(txn, &existingLessons, badgerhold.Where("CourseID").Eq(courseID)); err != nil {
			return fmt.Errorf("failed to load existing lessons: %w", err)
		}
		lessonByKey := make(map[string]*models.Lesson, len(existingLessons))
		for i := range existingLessons {
			l := &existingLessons[i]
			lessonByKey[fmt.Sprintf("%s:%d", l.SectionID, l.OrderIndex)] = l
		}

		now := time.Now()
		for _, ss := range structure.Sections {
			section := sectionByOrder[ss.OrderIndex]
			if section == nil {
				section = &models.Section{
					ID:        common.NewSectionID(),
					CourseID:  courseID,
					CreatedAt: now,
				}
			}
			section.Title = ss.Title
			section.Description = ss.Description
			section.OrderIndex = ss.OrderIndex
			if err := s.db.Store().TxUpsert(txn, section.ID, section); err != nil {
				return fmt.Errorf("failed to save section: %w", err)
			}

			for _, sl := range ss.Lessons {
				key := fmt.Sprintf("%s:%d", section.ID, sl.OrderIndex)
				lesson := lessonByKey[key]
				if lesson == nil {
					lesson = &models.Lesson{
						ID:        common.NewLessonID(),
						SectionID: section.ID,
						CourseID:  courseID,
						CreatedAt: now,
					}
				}
				lesson.Title = sl.Title
				lesson.OrderIndex = sl.OrderIndex
				lesson.DurationMinutes = sl.DurationMinutes
				lesson.Status = string(models.LessonContentPending)
				lesson.Objectives = sl.LearningOutcomes
				if err := s.db.Store().TxUpsert(txn, lesson.ID, lesson); err != nil {
					return fmt.Errorf("failed to save lesson: %w", err)
				}

				// One pending content row per lesson; never clobber a row a
				// generation run already populated.
				var content models.LessonContent
				if err := s.db.Store().TxGet(txn, lesson.ID, &content); err == badgerhold.ErrNotFound {
					content = models.LessonContent{
						LessonID:  lesson.ID,
						CourseID:  courseID,
						Status:    models.LessonContentPending,
						CreatedAt: now,
						UpdatedAt: now,
					}
					if err := s.db.Store().TxUpsert(txn, lesson.ID, &content); err != nil {
						return fmt.Errorf("failed to save lesson content row: %w", err)
					}
				} else if err != nil {
					return fmt.Errorf("failed to check lesson content row: %w", err)
				}

				created = append(created, lesson)
			}
		}

		return txn.Commit()
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("course_id", courseID).
		Int("lessons", len(created)).
		Msg("Course structure persisted")
	return created, nil
}

// GetSectionsByCourse returns the course's sections ordered by order_index
func (s *LessonStorage) GetSectionsByCourse(ctx context.Context, courseID string) ([]*models.Section, error) {
	var sections []models.Section
	err := withRetry(ctx, func() error {
		return s.db.Store().Find(&sections, badgerhold.Where("CourseID").Eq(courseID).Index("CourseID"))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].OrderIndex < sections[j].OrderIndex })
	result := make([]*models.Section, len(sections))
	for i := range sections {
		result[i] = &sections[i]
	}
	return result, nil
}

// GetLessonsBySection returns a section's lessons ordered by order_index
func (s *LessonStorage) GetLessonsBySection(ctx context.Context, sectionID string) ([]*models.Lesson, error) {
	var lessons []models.Lesson
	err := withRetry(ctx, func() error {
		return s.db.Store().Find(&lessons, badgerhold.Where("SectionID").Eq(sectionID).Index("SectionID"))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	sort.Slice(lessons, func(i, j int) bool { return lessons[i].OrderIndex < lessons[j].OrderIndex })
	result := make([]*models.Lesson, len(lessons))
	for i := range lessons {
		result[i] = &lessons[i]
	}
	return result, nil
}

// GetLessonsByCourse returns all lessons of a course ordered by section then lesson
func (s *LessonStorage) GetLessonsByCourse(ctx context.Context, courseID string) ([]*models.Lesson, error) {
	sections, err := s.GetSectionsByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	sectionOrder := make(map[string]int, len(sections))
	for _, sec := range sections {
		sectionOrder[sec.ID] = sec.OrderIndex
	}

	var lessons []models.Lesson
	err = withRetry(ctx, func() error {
		return s.db.Store().Find(&lessons, badgerhold.Where("CourseID").Eq(courseID).Index("CourseID"))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	sort.Slice(lessons, func(i, j int) bool {
		si, sj := sectionOrder[lessons[i].SectionID], sectionOrder[lessons[j].SectionID]
		if si != sj {
			return si < sj
		}
		return lessons[i].OrderIndex < lessons[j].OrderIndex
	})
	result := make([]*models.Lesson, len(lessons))
	for i := range lessons {
		result[i] = &lessons[i]
	}
	return result, nil
}

// GetLesson retrieves a lesson by id
func (s *LessonStorage) GetLesson(ctx context.Context, lessonID string) (*models.Lesson, error) {
	var lesson models.Lesson
	err := withRetry(ctx, func() error {
		return s.db.Store().Get(lessonID, &lesson)
	})
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return &lesson, nil
}

// SaveLessonContent upserts the content row for a lesson
func (s *LessonStorage) SaveLessonContent(ctx context.Context, content *models.LessonContent) error {
	if content.LessonID == "" {
		return fmt.Errorf("lesson ID is required")
	}
	if content.CreatedAt.IsZero() {
		content.CreatedAt = time.Now()
	}
	content.UpdatedAt = time.Now()

	return withRetry(ctx, func() error {
		if err := s.db.Store().Upsert(content.LessonID, content); err != nil {
			return fmt.Errorf("failed to save lesson content: %w", err)
		}
		return nil
	})
}

// GetLessonContent retrieves the content row for a lesson
func (s *LessonStorage) GetLessonContent(ctx context.Context, lessonID string) (*models.LessonContent, error) {
	var content models.LessonContent
	err := withRetry(ctx, func() error {
		return s.db.Store().Get(lessonID, &content)
	})
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lesson content: %w", err)
	}
	return &content, nil
}

// GetLessonContentsByCourse returns all content rows for a course
func (s *LessonStorage) GetLessonContentsByCourse(ctx context.Context, courseID string) ([]*models.LessonContent, error) {
	var contents []models.LessonContent
	err := withRetry(ctx, func() error {
		return s.db.Store().Find(&contents, badgerhold.Where("CourseID").Eq(courseID).Index("CourseID"))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list lesson contents: %w", err)
	}
	sort.Slice(contents, func(i, j int) bool { return contents[i].LessonID < contents[j].LessonID })
	result := make([]*models.LessonContent, len(contents))
	for i := range contents {
		result[i] = &contents[i]
	}
	return result, nil
}
