package interfaces

import "context"

// EmbeddingService - interface for dense embedding generation
type EmbeddingService interface {
	// Embed generates an embedding vector for the given text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one round trip
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector width produced by this service
	Dimensions() int
}
