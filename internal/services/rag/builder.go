// RAG context builder. Assembles the retrieval context for one lesson
// section: chunks pinned by rag_context_id come first, then secondary
// search-query results fill the remainder. Identical inputs always produce
// identical chunk lists; ordering ties break on chunk id.

package rag

import (
	"context"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// defaultTopK bounds retrieval when a section does not state expected_chunks
const defaultTopK = 8

// Builder assembles retrieval context from the vector store
type Builder struct {
	vectors   interfaces.VectorStorage
	embedding interfaces.EmbeddingService
	logger    arbor.ILogger
}

// NewBuilder creates a RAG context builder
func NewBuilder(vectors interfaces.VectorStorage, embedding interfaces.EmbeddingService, logger arbor.ILogger) *Builder {
	return &Builder{
		vectors:   vectors,
		embedding: embedding,
		logger:    logger,
	}
}

// SectionContext builds the chunk list for one section of a lesson spec.
// Resolution order:
//  1. chunks stored under the section's rag_context_id (pinned, keep order)
//  2. dense search for each search query, merged and ranked
//
// Duplicates are removed by chunk id with the pinned copy winning. The final
// list is trimmed to expected_chunks (or the lesson top_k, or the default).
func (b *Builder) SectionContext(ctx context.Context, spec *models.LessonSpec, section *models.SectionBreakdown) ([]*models.RAGChunk, error) {
	limit := section.ExpectedChunks
	if limit <= 0 {
		limit = spec.RAGContext.TopK
	}
	if limit <= 0 {
		limit = defaultTopK
	}

	seen := make(map[string]bool)
	var pinned []*models.RAGChunk

	contextID := section.RAGContextID
	if contextID == "" {
		contextID = spec.RAGContext.ContextID
	}
	if contextID != "" {
		chunks, err := b.vectors.GetChunksByContext(ctx, contextID)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			if !seen[c.ID] {
				seen[c.ID] = true
				pinned = append(pinned, c)
			}
		}
	}

	if len(pinned) >= limit {
		return pinned[:limit], nil
	}

	// Secondary retrieval: rank query hits, dedupe against pinned
	var secondary []*models.RAGChunk
	for _, query := range section.SearchQueries {
		if query == "" {
			continue
		}
		embedding, err := b.embedding.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		hits, err := b.vectors.Query(ctx, interfaces.VectorQuery{
			CourseID:  spec.CourseID,
			Embedding: embedding,
			TopK:      limit,
		})
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			if seen[hit.ID] {
				continue
			}
			seen[hit.ID] = true
			secondary = append(secondary, hit)
		}
	}

	sort.Slice(secondary, func(i, j int) bool {
		if secondary[i].Score != secondary[j].Score {
			return secondary[i].Score > secondary[j].Score
		}
		return secondary[i].ID < secondary[j].ID
	})

	result := append(pinned, secondary...)
	if len(result) > limit {
		result = result[:limit]
	}

	b.logger.Debug().
		Str("section_id", section.ID).
		Int("pinned", len(pinned)).
		Int("secondary", len(secondary)).
		Int("returned", len(result)).
		Msg("Section context assembled")
	return result, nil
}

// LessonContext builds the per-section context map for a whole lesson spec
func (b *Builder) LessonContext(ctx context.Context, spec *models.LessonSpec) (map[string][]*models.RAGChunk, error) {
	contexts := make(map[string][]*models.RAGChunk, len(spec.Sections))
	for i := range spec.Sections {
		section := &spec.Sections[i]
		chunks, err := b.SectionContext(ctx, spec, section)
		if err != nil {
			return nil, err
		}
		contexts[section.ID] = chunks
	}
	return contexts, nil
}
