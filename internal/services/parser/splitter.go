package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/doceo/internal/interfaces"
)

// Splitter implements interfaces.SplitterService. The whole document is
// parsed before splitting, so each chunk can carry the nearest heading and
// page hint from the surrounding markdown.
type Splitter struct{}

var _ interfaces.SplitterService = (*Splitter)(nil)

// NewSplitter creates a markdown chunker
func NewSplitter() *Splitter {
	return &Splitter{}
}

// Split chunks markdown into overlapping windows, preferring paragraph
// boundaries. Chunk metadata records the nearest preceding heading and the
// last seen page marker.
func (s *Splitter) Split(markdown string, chunkSize, overlap int) []interfaces.Chunk {
	if chunkSize <= 0 {
		chunkSize = 1500
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 10
	}

	paragraphs := strings.Split(markdown, "\n\n")
	var chunks []interfaces.Chunk
	var current strings.Builder
	currentPage := 0
	currentSection := ""
	chunkPage := 0
	chunkSection := ""

	flush := func() {
		text := strings.TrimSpace(current.String())
		if text == "" {
			current.Reset()
			return
		}
		chunks = append(chunks, interfaces.Chunk{
			Index:   len(chunks),
			Content: text,
			Page:    chunkPage,
			Section: chunkSection,
		})

		// Seed the next chunk with the overlap tail
		if overlap > 0 && len(text) > overlap {
			cut := len(text) - overlap
			for cut < len(text) && !utf8.RuneStart(text[cut]) {
				cut++
			}
			tail := text[cut:]
			current.Reset()
			current.WriteString(tail)
			current.WriteString("\n\n")
		} else {
			current.Reset()
		}
		chunkPage = currentPage
		chunkSection = currentSection
	}

	for _, para := range paragraphs {
		trimmed := strings.TrimSpace(para)
		if trimmed == "" {
			continue
		}

		if page, ok := parsePageMarker(trimmed); ok {
			currentPage = page
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			currentSection = strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
		}
		if current.Len() == 0 {
			chunkPage = currentPage
			chunkSection = currentSection
		}

		// Oversized paragraph: hard-split on the window size. Window edges
		// never land inside a multi-byte rune
		if len(trimmed) > chunkSize {
			flush()
			start := 0
			for start < len(trimmed) {
				end := start + chunkSize
				if end >= len(trimmed) {
					end = len(trimmed)
				} else {
					for end > start && !utf8.RuneStart(trimmed[end]) {
						end--
					}
					if end == start {
						_, size := utf8.DecodeRuneInString(trimmed[start:])
						end = start + size
					}
				}
				chunks = append(chunks, interfaces.Chunk{
					Index:   len(chunks),
					Content: trimmed[start:end],
					Page:    currentPage,
					Section: currentSection,
				})
				if end == len(trimmed) {
					break
				}
				next := end - overlap
				for next < end && !utf8.RuneStart(trimmed[next]) {
					next++
				}
				if next <= start {
					next = end
				}
				start = next
			}
			current.Reset()
			continue
		}

		if current.Len()+len(trimmed) > chunkSize {
			flush()
		}
		current.WriteString(trimmed)
		current.WriteString("\n\n")
	}
	flush()

	return chunks
}

// parsePageMarker recognizes the "<!-- page N -->" markers the PDF parser
// emits between pages
func parsePageMarker(s string) (int, bool) {
	if !strings.HasPrefix(s, "<!-- page ") || !strings.HasSuffix(s, "-->") {
		return 0, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "<!-- page "), "-->")
	inner = strings.TrimSpace(inner)
	page := 0
	for _, r := range inner {
		if r < '0' || r > '9' {
			return 0, false
		}
		page = page*10 + int(r-'0')
	}
	if page == 0 {
		return 0, false
	}
	return page, true
}
