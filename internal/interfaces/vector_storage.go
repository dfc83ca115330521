package interfaces

import (
	"context"

	"github.com/ternarybob/doceo/internal/models"
)

// VectorQuery describes one dense similarity query against the vector index
type VectorQuery struct {
	CourseID  string    // scope results to a course
	ContextID string    // optional: restrict to a stored rag context
	Embedding []float32 // dense query vector
	TopK      int
}

// VectorStorage - interface for chunk persistence and similarity search.
// Upserts are keyed by chunk id; queries return ranked results with a stable
// chunk-id tie-break so identical inputs yield identical output order.
type VectorStorage interface {
	UpsertChunks(ctx context.Context, chunks []*models.VectorChunk) error
	Query(ctx context.Context, q VectorQuery) ([]*models.RAGChunk, error)
	GetChunksByContext(ctx context.Context, contextID string) ([]*models.RAGChunk, error)
	DeleteChunksByFile(ctx context.Context, fileID string) error
	CountChunksByCourse(ctx context.Context, courseID string) (int, error)
}
