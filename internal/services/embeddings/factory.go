package embeddings

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
)

// NewEmbeddingService creates the configured embedding backend
func NewEmbeddingService(cfg *common.Config, kv interfaces.KeyValueStorage, logger arbor.ILogger) (interfaces.EmbeddingService, error) {
	switch cfg.Embeddings.Provider {
	case "", "gemini":
		return NewGeminiEmbeddingService(&cfg.Embeddings, &cfg.Gemini, kv, logger)
	case "offline":
		return NewOfflineEmbeddingService(cfg.Embeddings.Dimensions, logger), nil
	default:
		return nil, fmt.Errorf("unsupported embeddings provider: %s", cfg.Embeddings.Provider)
	}
}
