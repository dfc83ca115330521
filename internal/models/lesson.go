package models

import "time"

// Section is an ordered child of a course, created from the course structure
type Section struct {
	ID          string                 `json:"id" badgerhold:"key"`
	CourseID    string                 `json:"course_id" badgerhold:"index"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	OrderIndex  int                    `json:"order_index"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Lesson is an ordered child of a section.
// (section_id, order_index) is unique within a section.
type Lesson struct {
	ID              string                 `json:"id" badgerhold:"key"`
	SectionID       string                 `json:"section_id" badgerhold:"index"`
	CourseID        string                 `json:"course_id" badgerhold:"index"`
	Title           string                 `json:"title"`
	OrderIndex      int                    `json:"order_index"`
	DurationMinutes int                    `json:"duration_minutes,omitempty"`
	LessonType      string                 `json:"lesson_type,omitempty"`
	Status          string                 `json:"status"`
	Objectives      []string               `json:"objectives,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// LessonContentStatus represents the state of a lesson's generated content
type LessonContentStatus string

const (
	LessonContentPending        LessonContentStatus = "pending"
	LessonContentGenerating     LessonContentStatus = "generating"
	LessonContentCompleted      LessonContentStatus = "completed"
	LessonContentFailed         LessonContentStatus = "failed"
	LessonContentReviewRequired LessonContentStatus = "review_required"
)

// IsTerminal reports whether the lesson content has reached a final state.
// The course completes only when every lesson is terminal.
func (s LessonContentStatus) IsTerminal() bool {
	switch s {
	case LessonContentCompleted, LessonContentFailed, LessonContentReviewRequired:
		return true
	}
	return false
}

// RenderedSection is one rendered section of a finished lesson
type RenderedSection struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// RenderedExercise is one exercise attached to a finished lesson
type RenderedExercise struct {
	Title       string `json:"title"`
	Instruction string `json:"instruction"`
	Solution    string `json:"solution,omitempty"`
}

// LessonContent holds the final rendered lesson, one row per lesson.
// Created with the lesson rows by the structure stage, populated by the
// lesson content stage.
type LessonContent struct {
	LessonID  string              `json:"lesson_id" badgerhold:"key"`
	CourseID  string              `json:"course_id" badgerhold:"index"`
	Status    LessonContentStatus `json:"status" badgerhold:"index"`
	Intro     string              `json:"intro,omitempty"`
	Sections  []RenderedSection   `json:"sections,omitempty"`
	Exercises []RenderedExercise  `json:"exercises,omitempty"`
	Markdown  string              `json:"markdown,omitempty"` // full source markdown as generated
	Metrics   *LessonMetrics      `json:"metrics,omitempty"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}
