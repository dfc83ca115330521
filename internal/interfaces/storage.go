package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/doceo/internal/models"
)

// ErrNotFound is returned by storage implementations when a row does not exist
var ErrNotFound = errors.New("not found")

// CourseStorage - interface for course persistence
type CourseStorage interface {
	SaveCourse(ctx context.Context, course *models.Course) error
	GetCourse(ctx context.Context, id string) (*models.Course, error)
	// UpdateGenerationState applies an FSM transition atomically. The update
	// is rejected with ErrIllegalTransition when the current stored status
	// does not permit the move.
	UpdateGenerationState(ctx context.Context, courseID string, status models.GenerationStatus, meta *models.GenerationMetadata) error
	SetAnalysisResult(ctx context.Context, courseID string, result *models.AnalysisResult) error
	SetCourseStructure(ctx context.Context, courseID string, structure *models.CourseStructure) error
	ListCoursesByStatus(ctx context.Context, status models.GenerationStatus) ([]*models.Course, error)
}

// ErrIllegalTransition is returned when a requested FSM transition is not
// legal from the course's current stored state
var ErrIllegalTransition = errors.New("illegal generation status transition")

// FileStorage - interface for file catalog persistence
type FileStorage interface {
	SaveFile(ctx context.Context, file *models.File) error
	GetFile(ctx context.Context, id string) (*models.File, error)
	GetFilesByCourse(ctx context.Context, courseID string) ([]*models.File, error)
	UpdateVectorStatus(ctx context.Context, fileID string, status models.VectorStatus, errMsg string) error
	SetMarkdownContent(ctx context.Context, fileID string, markdown string) error
	SetProcessedContent(ctx context.Context, fileID string, processed string) error
	CountFilesByCourse(ctx context.Context, courseID string) (int, error)
}

// LessonStorage - interface for sections, lessons and lesson contents.
// Multi-row writes that cross entity boundaries run inside one transaction.
type LessonStorage interface {
	// SaveStructure writes sections, lessons and pending lesson_contents rows
	// for a course in a single transaction. Upserts are keyed by
	// (course_id, order_index) for sections and (section_id, order_index)
	// for lessons, so re-running the structure stage is safe.
	SaveStructure(ctx context.Context, courseID string, structure *models.CourseStructure) ([]*models.Lesson, error)

	GetSectionsByCourse(ctx context.Context, courseID string) ([]*models.Section, error)
	GetLessonsBySection(ctx context.Context, sectionID string) ([]*models.Lesson, error)
	GetLessonsByCourse(ctx context.Context, courseID string) ([]*models.Lesson, error)
	GetLesson(ctx context.Context, lessonID string) (*models.Lesson, error)

	SaveLessonContent(ctx context.Context, content *models.LessonContent) error
	GetLessonContent(ctx context.Context, lessonID string) (*models.LessonContent, error)
	GetLessonContentsByCourse(ctx context.Context, courseID string) ([]*models.LessonContent, error)
}

// JobStatusStorage - interface for the job status projection
type JobStatusStorage interface {
	UpsertJobStatus(ctx context.Context, row *models.JobStatusRow) error
	GetJobStatus(ctx context.Context, jobID string) (*models.JobStatusRow, error)
	GetJobStatusByCourse(ctx context.Context, courseID string) ([]*models.JobStatusRow, error)
}

// KeyValuePair is a stored key/value entry (API keys, runtime settings)
type KeyValuePair struct {
	Key         string    `json:"key" badgerhold:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ErrKeyNotFound is returned when a KV key does not exist
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStorage - interface for key/value persistence
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value, description string) error
	Delete(ctx context.Context, key string) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	CourseStorage() CourseStorage
	FileStorage() FileStorage
	LessonStorage() LessonStorage
	JobStatusStorage() JobStatusStorage
	KeyValueStorage() KeyValueStorage
	VectorStorage() VectorStorage
	Close() error
}
