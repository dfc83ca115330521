package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/ternarybob/arbor"
)

func TestOfflineEmbeddingDeterministic(t *testing.T) {
	s := NewOfflineEmbeddingService(64, arbor.NewLogger())
	ctx := context.Background()

	a1, err := s.Embed(ctx, "parsing and lexing fundamentals")
	if err != nil {
		t.Fatal(err)
	}
	a2, err := s.Embed(ctx, "parsing and lexing fundamentals")
	if err != nil {
		t.Fatal(err)
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("Identical text must embed identically")
		}
	}

	// Unit length
	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-5 {
		t.Errorf("Expected unit vector, norm %v", math.Sqrt(norm))
	}
}

func TestOfflineEmbeddingSimilarity(t *testing.T) {
	s := NewOfflineEmbeddingService(128, arbor.NewLogger())
	ctx := context.Background()

	base, _ := s.Embed(ctx, "compilers parse source code into syntax trees")
	near, _ := s.Embed(ctx, "compilers parse source code")
	far, _ := s.Embed(ctx, "gardening tips for winter tomatoes")

	cos := func(a, b []float32) float64 {
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	}
	if cos(base, near) <= cos(base, far) {
		t.Errorf("Expected overlapping text to score higher: near=%v far=%v", cos(base, near), cos(base, far))
	}
}

func TestOfflineEmbedBatch(t *testing.T) {
	s := NewOfflineEmbeddingService(32, arbor.NewLogger())
	vectors, err := s.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vectors) != 3 {
		t.Fatalf("Expected 3 vectors, got %d", len(vectors))
	}
	if s.Dimensions() != 32 || len(vectors[0]) != 32 {
		t.Error("Dimension mismatch")
	}
}
