package badger

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// VectorStorage implements the VectorStorage interface on Badger. Chunks are
// stored whole with their embeddings; similarity queries scan the course's
// chunks and rank by cosine similarity. Adequate for the per-course chunk
// counts this pipeline produces (hundreds, not millions).
type VectorStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewVectorStorage creates a new VectorStorage instance
func NewVectorStorage(db *BadgerDB, logger arbor.ILogger) interfaces.VectorStorage {
	return &VectorStorage{
		db:     db,
		logger: logger,
	}
}

// UpsertChunks writes a batch of chunks keyed by chunk id
func (s *VectorStorage) UpsertChunks(ctx context.Context, chunks []*models.VectorChunk) error {
	return withRetry(ctx, func() error {
		txn := s.db.Store().Badger().NewTransaction(true)
		defer txn.Discard()

		for _, chunk := range chunks {
			if chunk.ID == "" {
				return fmt.Errorf("chunk ID is required")
			}
			if err := s.db.Store().TxUpsert(txn, chunk.ID, chunk); err != nil {
				return fmt.Errorf("failed to save chunk %s: %w", chunk.ID, err)
			}
		}
		return txn.Commit()
	})
}

// Query runs a dense similarity search scoped to a course (and optionally a
// stored context). Results are ranked by score descending; ties break on
// chunk id ascending so identical inputs always produce identical order.
func (s *VectorStorage) Query(ctx context.Context, q interfaces.VectorQuery) ([]*models.RAGChunk, error) {
	if q.TopK <= 0 {
		q.TopK = 10
	}

	query := badgerhold.Where("CourseID").Eq(q.CourseID).Index("CourseID")
	if q.ContextID != "" {
		query = query.And("ContextID").Eq(q.ContextID)
	}

	var chunks []models.VectorChunk
	err := withRetry(ctx, func() error {
		return s.db.Store().Find(&chunks, query)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan chunks: %w", err)
	}

	results := make([]*models.RAGChunk, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		results = append(results, &models.RAGChunk{
			ID:        c.ID,
			FileID:    c.FileID,
			ContextID: c.ContextID,
			Content:   c.Content,
			Score:     cosineSimilarity(q.Embedding, c.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return results, nil
}

// GetChunksByContext returns the chunks stored under a rag context id,
// ordered by chunk id
func (s *VectorStorage) GetChunksByContext(ctx context.Context, contextID string) ([]*models.RAGChunk, error) {
	var chunks []models.VectorChunk
	err := withRetry(ctx, func() error {
		return s.db.Store().Find(&chunks, badgerhold.Where("ContextID").Eq(contextID).Index("ContextID"))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get context chunks: %w", err)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })

	results := make([]*models.RAGChunk, len(chunks))
	for i := range chunks {
		results[i] = &models.RAGChunk{
			ID:        chunks[i].ID,
			FileID:    chunks[i].FileID,
			ContextID: chunks[i].ContextID,
			Content:   chunks[i].Content,
		}
	}
	return results, nil
}

// DeleteChunksByFile removes all chunks derived from a file
func (s *VectorStorage) DeleteChunksByFile(ctx context.Context, fileID string) error {
	return withRetry(ctx, func() error {
		return s.db.Store().DeleteMatching(&models.VectorChunk{}, badgerhold.Where("FileID").Eq(fileID).Index("FileID"))
	})
}

// CountChunksByCourse returns the number of indexed chunks for a course
func (s *VectorStorage) CountChunksByCourse(ctx context.Context, courseID string) (int, error) {
	var count uint64
	err := withRetry(ctx, func() error {
		var cErr error
		count, cErr = s.db.Store().Count(&models.VectorChunk{}, badgerhold.Where("CourseID").Eq(courseID).Index("CourseID"))
		return cErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(count), nil
}

// cosineSimilarity returns the cosine of the angle between two dense vectors.
// Mismatched or zero-norm vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
