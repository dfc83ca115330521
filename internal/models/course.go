package models

import (
	"fmt"
	"time"
)

// GenerationStatus represents the state of a course in the generation pipeline
type GenerationStatus string

const (
	GenerationStatusPending           GenerationStatus = "pending"
	GenerationStatusUploading         GenerationStatus = "uploading"
	GenerationStatusParsing           GenerationStatus = "parsing"
	GenerationStatusSummarizing       GenerationStatus = "summarizing"
	GenerationStatusAnalyzing         GenerationStatus = "analyzing"
	GenerationStatusStructuring       GenerationStatus = "structuring"
	GenerationStatusGeneratingLessons GenerationStatus = "generating_lessons"
	GenerationStatusCompleted         GenerationStatus = "completed"
	GenerationStatusFailed            GenerationStatus = "failed"
)

// generationOrder is the linear progression of the course state machine.
// "failed" is an absorbing sink reachable from every non-terminal state.
var generationOrder = []GenerationStatus{
	GenerationStatusPending,
	GenerationStatusUploading,
	GenerationStatusParsing,
	GenerationStatusSummarizing,
	GenerationStatusAnalyzing,
	GenerationStatusStructuring,
	GenerationStatusGeneratingLessons,
	GenerationStatusCompleted,
}

// generationProgress maps each state to its monotone progress percentage
var generationProgress = map[GenerationStatus]int{
	GenerationStatusPending:           0,
	GenerationStatusUploading:         10,
	GenerationStatusParsing:           25,
	GenerationStatusSummarizing:       40,
	GenerationStatusAnalyzing:         55,
	GenerationStatusStructuring:       70,
	GenerationStatusGeneratingLessons: 85,
	GenerationStatusCompleted:         100,
}

// Progress returns the progress percentage for the status (0 for unknown)
func (s GenerationStatus) Progress() int {
	return generationProgress[s]
}

// IsTerminal reports whether the status is completed or failed
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// Successor returns the next state in the linear progression.
// Terminal states have no successor.
func (s GenerationStatus) Successor() (GenerationStatus, bool) {
	for i, st := range generationOrder {
		if st == s && i+1 < len(generationOrder) {
			return generationOrder[i+1], true
		}
	}
	return "", false
}

// CanTransitionTo reports whether moving from s to next is a legal FSM edge.
// Only the immediate successor, or the failed sink, is legal from any
// non-terminal state.
func (s GenerationStatus) CanTransitionTo(next GenerationStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == GenerationStatusFailed {
		return true
	}
	succ, ok := s.Successor()
	return ok && succ == next
}

// GenerationMetadata carries auxiliary generation state stored on the course
type GenerationMetadata struct {
	ErrorMessage   string    `json:"error_message,omitempty"`
	FailedStage    string    `json:"failed_stage,omitempty"`
	LastTransition time.Time `json:"last_transition,omitempty"`
}

// Course is the top-level artifact produced by the pipeline.
// Created externally; the pipeline only advances its generation state and
// fills analysis_result and course_structure.
type Course struct {
	ID                 string              `json:"id" badgerhold:"key"`
	OrganizationID     string              `json:"organization_id" badgerhold:"index"`
	UserID             string              `json:"user_id"`
	Title              string              `json:"title"`
	Slug               string              `json:"slug"`
	Status             string              `json:"status"` // editorial status, not owned by the pipeline
	GenerationStatus   GenerationStatus    `json:"generation_status" badgerhold:"index"`
	GenerationProgress int                 `json:"generation_progress"`
	GenerationMetadata *GenerationMetadata `json:"generation_metadata,omitempty"`
	AnalysisResult     *AnalysisResult     `json:"analysis_result,omitempty"`
	CourseStructure    *CourseStructure    `json:"course_structure,omitempty"`
	Language           string              `json:"language"`
	Style              string              `json:"style"`
	ShareToken         string              `json:"share_token,omitempty"`
	IsPublished        bool                `json:"is_published"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// AnalysisResult is the typed output of the analysis stage.
// Stored whole on the course row; validated on read and on write.
type AnalysisResult struct {
	Category          string                `json:"category"`
	TopicAnalysis     string                `json:"topic_analysis"`
	Guidance          GenerationGuidance    `json:"guidance"`
	DocumentRelevance []SectionRelevance    `json:"document_relevance"`
	ResearchFlags     []string              `json:"research_flags,omitempty"`
	ProjectedSections []ProjectedSection    `json:"projected_sections"`
}

// GenerationGuidance captures tone/audience/depth decisions made at analysis time
type GenerationGuidance struct {
	Tone     string `json:"tone"`
	Audience string `json:"audience"`
	Depth    string `json:"depth"`
}

// ProjectedSection is a provisional section proposed during analysis,
// before the structure stage pins the real outline
type ProjectedSection struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Topics      []string `json:"topics,omitempty"`
}

// SectionRelevance maps a projected section to the documents that inform it
type SectionRelevance struct {
	SectionTitle string   `json:"section_title"`
	FileIDs      []string `json:"file_ids"`
}

// CourseStructure is the typed output of the structure stage: the concrete
// outline that lesson generation executes against
type CourseStructure struct {
	Sections []StructureSection `json:"sections"`
}

// StructureSection is one ordered section of the course outline
type StructureSection struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	OrderIndex  int               `json:"order_index"`
	Lessons     []StructureLesson `json:"lessons"`
}

// StructureLesson is one ordered lesson inside a structure section
type StructureLesson struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	OrderIndex       int      `json:"order_index"`
	LearningOutcomes []string `json:"learning_outcomes"`
	Topics           []string `json:"topics"`
	DurationMinutes  int      `json:"duration_minutes"`
}

// LessonCount returns the total number of lessons across all sections
func (cs *CourseStructure) LessonCount() int {
	n := 0
	for _, s := range cs.Sections {
		n += len(s.Lessons)
	}
	return n
}

// Validate checks the structural invariants of a course structure:
// positive order indices and unique lesson ordering within each section.
func (cs *CourseStructure) Validate() error {
	if len(cs.Sections) == 0 {
		return fmt.Errorf("course structure has no sections")
	}
	for _, s := range cs.Sections {
		if s.OrderIndex <= 0 {
			return fmt.Errorf("section %q: order_index must be positive, got %d", s.Title, s.OrderIndex)
		}
		seen := make(map[int]bool)
		for _, l := range s.Lessons {
			if l.OrderIndex <= 0 {
				return fmt.Errorf("lesson %q: order_index must be positive, got %d", l.Title, l.OrderIndex)
			}
			if seen[l.OrderIndex] {
				return fmt.Errorf("section %q: duplicate lesson order_index %d", s.Title, l.OrderIndex)
			}
			seen[l.OrderIndex] = true
			if l.DurationMinutes < 0 {
				return fmt.Errorf("lesson %q: duration_minutes must be null or positive", l.Title)
			}
		}
	}
	return nil
}
