package common

import (
	"github.com/google/uuid"
)

// NewCourseID generates a unique course ID with the "course_" prefix
func NewCourseID() string {
	return "course_" + uuid.New().String()
}

// NewFileID generates a unique file ID with the "file_" prefix
func NewFileID() string {
	return "file_" + uuid.New().String()
}

// NewSectionID generates a unique section row ID with the "section_" prefix
func NewSectionID() string {
	return "section_" + uuid.New().String()
}

// NewLessonID generates a unique lesson row ID with the "lesson_" prefix
func NewLessonID() string {
	return "lesson_" + uuid.New().String()
}

// NewChunkID generates a unique vector chunk ID with the "chunk_" prefix
func NewChunkID() string {
	return "chunk_" + uuid.New().String()
}

// ShortID returns the first 8 characters of an ID for log correlation
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
