package embeddings

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/ternarybob/arbor"
)

// OfflineEmbeddingService produces deterministic embeddings without any
// network dependency. Vectors are derived from token hashes, so identical
// text always embeds identically and similar texts share components. Used in
// tests and air-gapped runs; not a substitute for a real embedding model.
type OfflineEmbeddingService struct {
	dimensions int
	logger     arbor.ILogger
}

// NewOfflineEmbeddingService creates the deterministic offline embedder
func NewOfflineEmbeddingService(dimensions int, logger arbor.ILogger) *OfflineEmbeddingService {
	if dimensions <= 0 {
		dimensions = 768
	}
	logger.Debug().Int("dimensions", dimensions).Msg("Offline embedding service initialized")
	return &OfflineEmbeddingService{dimensions: dimensions, logger: logger}
}

// Embed generates a deterministic unit vector for the text
func (s *OfflineEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float64, s.dimensions)

	// Accumulate hashed word buckets
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == ' ' || text[i] == '\n' || text[i] == '\t' {
			if i > start {
				h := fnv.New32a()
				h.Write([]byte(text[start:i]))
				sum := h.Sum32()
				vec[int(sum)%s.dimensions] += 1.0
				vec[int(sum>>8)%s.dimensions] += 0.5
			}
			start = i + 1
		}
	}

	// Normalize to unit length so cosine similarity behaves
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	out := make([]float32, s.dimensions)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// EmbedBatch embeds each text independently
func (s *OfflineEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions returns the configured vector width
func (s *OfflineEmbeddingService) Dimensions() int {
	return s.dimensions
}
