package interfaces

import "context"

// ParsedDocument is the output of document parsing
type ParsedDocument struct {
	Markdown string
	Pages    int // 0 when the format has no page concept
}

// ParserService - converts source documents (PDF, HTML, DOCX, text) into
// markdown. Parsing failures are per-file; a failed parse never fails the
// whole course.
type ParserService interface {
	ToMarkdown(ctx context.Context, path string, mimeType string) (*ParsedDocument, error)
	SupportedMimeTypes() []string
}

// Chunk is one slice of a parsed document ready for embedding
type Chunk struct {
	Index   int
	Content string
	Page    int    // source page hint when known
	Section string // nearest heading when known
}

// SplitterService - chunks parsed markdown with configurable size/overlap.
// Late chunking: the full document is parsed first, then split, so chunk
// metadata can carry page and section hints.
type SplitterService interface {
	Split(markdown string, chunkSize, overlap int) []Chunk
}
