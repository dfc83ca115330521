package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// fakeVectors serves scripted contexts and query results
type fakeVectors struct {
	contexts map[string][]*models.RAGChunk
	queries  []*models.RAGChunk
}

func (f *fakeVectors) UpsertChunks(ctx context.Context, chunks []*models.VectorChunk) error {
	return nil
}

func (f *fakeVectors) Query(ctx context.Context, q interfaces.VectorQuery) ([]*models.RAGChunk, error) {
	out := f.queries
	if len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

func (f *fakeVectors) GetChunksByContext(ctx context.Context, contextID string) ([]*models.RAGChunk, error) {
	return f.contexts[contextID], nil
}

func (f *fakeVectors) DeleteChunksByFile(ctx context.Context, fileID string) error { return nil }

func (f *fakeVectors) CountChunksByCourse(ctx context.Context, courseID string) (int, error) {
	return 0, nil
}

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int { return 2 }

func spec(sections ...models.SectionBreakdown) *models.LessonSpec {
	return &models.LessonSpec{
		LessonID: "l1",
		CourseID: "c1",
		Title:    "Parsing",
		Sections: sections,
		Language: "en",
	}
}

func TestPinnedContextFirst(t *testing.T) {
	vectors := &fakeVectors{
		contexts: map[string][]*models.RAGChunk{
			"ctx-1": {
				{ID: "p1", Content: "pinned one"},
				{ID: "p2", Content: "pinned two"},
			},
		},
		queries: []*models.RAGChunk{
			{ID: "q1", Content: "query hit", Score: 0.9},
			{ID: "p1", Content: "pinned one", Score: 0.8}, // duplicate of pinned
		},
	}
	b := NewBuilder(vectors, &fakeEmbedder{}, arbor.NewLogger())

	section := models.SectionBreakdown{
		ID:             "s1",
		Title:          "Grammars",
		RAGContextID:   "ctx-1",
		SearchQueries:  []string{"context free grammars"},
		ExpectedChunks: 4,
	}
	chunks, err := b.SectionContext(context.Background(), spec(section), &section)
	require.NoError(t, err)
	require.Len(t, chunks, 3, "2 pinned + 1 deduped query hit")
	assert.Equal(t, "p1", chunks[0].ID, "Pinned chunks must come first")
	assert.Equal(t, "p2", chunks[1].ID)
	assert.Equal(t, "q1", chunks[2].ID)
}

func TestTrimToExpectedChunks(t *testing.T) {
	vectors := &fakeVectors{
		contexts: map[string][]*models.RAGChunk{
			"ctx-1": {
				{ID: "p1"}, {ID: "p2"}, {ID: "p3"}, {ID: "p4"},
			},
		},
	}
	b := NewBuilder(vectors, &fakeEmbedder{}, arbor.NewLogger())

	section := models.SectionBreakdown{
		ID:             "s1",
		RAGContextID:   "ctx-1",
		ExpectedChunks: 2,
	}
	chunks, err := b.SectionContext(context.Background(), spec(section), &section)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "p1", chunks[0].ID, "Trim must preserve pinned order")
	assert.Equal(t, "p2", chunks[1].ID)
}

func TestSecondaryRankingTieBreak(t *testing.T) {
	vectors := &fakeVectors{
		queries: []*models.RAGChunk{
			{ID: "chunk-b", Score: 0.5},
			{ID: "chunk-a", Score: 0.5},
			{ID: "chunk-c", Score: 0.9},
		},
	}
	b := NewBuilder(vectors, &fakeEmbedder{}, arbor.NewLogger())

	section := models.SectionBreakdown{
		ID:             "s1",
		SearchQueries:  []string{"anything"},
		ExpectedChunks: 3,
	}
	chunks, err := b.SectionContext(context.Background(), spec(section), &section)
	require.NoError(t, err)
	want := []string{"chunk-c", "chunk-a", "chunk-b"}
	for i, id := range want {
		assert.Equal(t, id, chunks[i].ID, "position %d", i)
	}
}

func TestLessonContextCoversAllSections(t *testing.T) {
	vectors := &fakeVectors{
		queries: []*models.RAGChunk{{ID: "q1", Score: 0.5}},
	}
	b := NewBuilder(vectors, &fakeEmbedder{}, arbor.NewLogger())

	s := spec(
		models.SectionBreakdown{ID: "s1", SearchQueries: []string{"x"}},
		models.SectionBreakdown{ID: "s2", SearchQueries: []string{"y"}},
	)
	contexts, err := b.LessonContext(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, contexts, 2, "Expected contexts for 2 sections")
	assert.Len(t, contexts["s1"], 1)
	assert.Len(t, contexts["s2"], 1)
}
