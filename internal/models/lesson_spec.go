package models

// LessonSpec is the immutable input contract to lesson content generation.
// It is assembled by the structure stage and travels inside the LESSON_CONTENT
// job payload; workers never mutate it.
type LessonSpec struct {
	LessonID     string              `json:"lesson_id" validate:"required"`
	CourseID     string              `json:"course_id" validate:"required"`
	Title        string              `json:"title" validate:"required"`
	Metadata     LessonSpecMetadata  `json:"metadata"`
	Objectives   []LearningObjective `json:"objectives" validate:"min=1,dive"`
	Intro        IntroBlueprint      `json:"intro"`
	Sections     []SectionBreakdown  `json:"sections" validate:"min=1,dive"`
	Exercises    []ExerciseSpec      `json:"exercises,omitempty"`
	RAGContext   RAGContextSpec      `json:"rag_context"`
	Language     string              `json:"language" validate:"required"`
	Difficulty   string              `json:"difficulty,omitempty"`
	Style        string              `json:"style,omitempty"`
}

// LessonSpecMetadata carries audience and tone decisions inherited from analysis
type LessonSpecMetadata struct {
	Audience        string `json:"audience"`
	Tone            string `json:"tone"`
	ComplianceLevel string `json:"compliance_level,omitempty"`
	Archetype       string `json:"archetype,omitempty"`
}

// LearningObjective pairs an objective statement with its Bloom level
type LearningObjective struct {
	Statement  string `json:"statement" validate:"required"`
	BloomLevel string `json:"bloom_level,omitempty"`
}

// IntroBlueprint shapes the lesson introduction
type IntroBlueprint struct {
	Hook      string   `json:"hook,omitempty"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// SectionBreakdown is the per-section slice of the lesson spec
type SectionBreakdown struct {
	ID                 string   `json:"id" validate:"required"`
	Title              string   `json:"title" validate:"required"`
	Archetype          string   `json:"archetype,omitempty"`
	Depth              string   `json:"depth,omitempty"`
	RequiredKeywords   []string `json:"required_keywords,omitempty"`
	ProhibitedKeywords []string `json:"prohibited_keywords,omitempty"`
	KeyPoints          []string `json:"key_points,omitempty"`
	SearchQueries      []string `json:"search_queries,omitempty"`
	RAGContextID       string   `json:"rag_context_id,omitempty"`
	ExpectedChunks     int      `json:"expected_chunks,omitempty"`
}

// ExerciseSpec describes an exercise to generate with the lesson
type ExerciseSpec struct {
	Kind   string `json:"kind"` // quiz, reflection, practical
	Prompt string `json:"prompt,omitempty"`
}

// RAGContextSpec describes the retrieval context for the whole lesson
type RAGContextSpec struct {
	ContextID string `json:"context_id,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}
