package embeddings

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
)

// GeminiEmbeddingService generates dense embeddings through the Gemini API
type GeminiEmbeddingService struct {
	config *common.EmbeddingsConfig
	logger arbor.ILogger
	client *genai.Client
}

// NewGeminiEmbeddingService creates the Gemini-backed embedding service
func NewGeminiEmbeddingService(cfg *common.EmbeddingsConfig, geminiCfg *common.GeminiConfig, kv interfaces.KeyValueStorage, logger arbor.ILogger) (*GeminiEmbeddingService, error) {
	ctx := context.Background()
	apiKey, err := common.ResolveAPIKey(ctx, kv, "gemini_api_key", geminiCfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("Gemini API key is required for embeddings: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	if cfg.Model == "" {
		cfg.Model = "gemini-embedding-001"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 768
	}

	logger.Debug().
		Str("model", cfg.Model).
		Int("dimensions", cfg.Dimensions).
		Msg("Gemini embedding service initialized")

	return &GeminiEmbeddingService{
		config: cfg,
		logger: logger,
		client: client,
	}, nil
}

// Embed generates an embedding vector for the given text
func (s *GeminiEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	outputDim := int32(s.config.Dimensions)
	embeddingConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	result, err := s.client.Models.EmbedContent(ctx, s.config.Model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, embeddingConfig)
	if err != nil {
		return nil, fmt.Errorf("embedding generation failed: %w", err)
	}

	var embedding []float32
	if result != nil && len(result.Embeddings) > 0 {
		embedding = result.Embeddings[0].Values
	}
	if embedding == nil {
		return nil, fmt.Errorf("no embedding returned from API")
	}
	if len(embedding) != s.config.Dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", s.config.Dimensions, len(embedding))
	}
	return embedding, nil
}

// EmbedBatch generates embeddings for multiple texts in one round trip
func (s *GeminiEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	outputDim := int32(s.config.Dimensions)
	embeddingConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &outputDim,
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := s.client.Models.EmbedContent(ctx, s.config.Model, contents, embeddingConfig)
	if err != nil {
		return nil, fmt.Errorf("batch embedding generation failed: %w", err)
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range result.Embeddings {
		if len(emb.Values) != s.config.Dimensions {
			return nil, fmt.Errorf("embedding %d dimension mismatch: expected %d, got %d", i, s.config.Dimensions, len(emb.Values))
		}
		vectors[i] = emb.Values
	}
	return vectors, nil
}

// Dimensions returns the configured vector width
func (s *GeminiEmbeddingService) Dimensions() int {
	return s.config.Dimensions
}
