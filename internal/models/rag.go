package models

// RAGChunk is a retrieval context fragment attached to a lesson section
type RAGChunk struct {
	ID        string  `json:"id"`
	FileID    string  `json:"file_id,omitempty"`
	ContextID string  `json:"context_id,omitempty"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
	Page      int     `json:"page,omitempty"`
	Section   string  `json:"section,omitempty"`
}

// VectorChunk is the stored form of a chunk in the vector index
type VectorChunk struct {
	ID        string                 `json:"id" badgerhold:"key"`
	FileID    string                 `json:"file_id" badgerhold:"index"`
	CourseID  string                 `json:"course_id" badgerhold:"index"`
	ContextID string                 `json:"context_id,omitempty" badgerhold:"index"`
	Content   string                 `json:"content"`
	Embedding []float32              `json:"embedding"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}
