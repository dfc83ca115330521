// Document parser. Converts uploaded source documents into markdown for the
// processing stage. PDF extraction goes through pdfcpu, HTML through the
// html-to-markdown converter; markdown and plain text pass through.

package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
)

// Service implements interfaces.ParserService
type Service struct {
	logger  arbor.ILogger
	tempDir string
}

var _ interfaces.ParserService = (*Service)(nil)

// NewService creates a document parser
func NewService(logger arbor.ILogger) *Service {
	tempDir := filepath.Join(os.TempDir(), "doceo-parse")
	os.MkdirAll(tempDir, 0755)

	return &Service{
		logger:  logger,
		tempDir: tempDir,
	}
}

// SupportedMimeTypes lists the formats ToMarkdown accepts
func (s *Service) SupportedMimeTypes() []string {
	return []string{
		"application/pdf",
		"text/html",
		"text/markdown",
		"text/plain",
	}
}

// ToMarkdown converts the document at path into markdown
func (s *Service) ToMarkdown(ctx context.Context, path string, mimeType string) (*interfaces.ParsedDocument, error) {
	switch normalizeMime(mimeType, path) {
	case "application/pdf":
		return s.parsePDF(ctx, path)
	case "text/html":
		return s.parseHTML(path)
	case "text/markdown", "text/plain":
		return s.parseText(path)
	default:
		return nil, fmt.Errorf("unsupported mime type: %s", mimeType)
	}
}

// parsePDF extracts per-page text content with pdfcpu
func (s *Service) parsePDF(ctx context.Context, path string) (*interfaces.ParsedDocument, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}
	pageCount := pdfCtx.PageCount

	// Each parse extracts into its own directory; concurrent workers must not
	// see each other's page files
	outDir, err := s.extractionDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return nil, fmt.Errorf("failed to extract PDF content: %w", err)
	}

	// Extracted files are named per page; collect them in page order
	files, _ := os.ReadDir(outDir)
	pageTexts := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		} else if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var builder strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if pageNum > 1 {
			builder.WriteString(fmt.Sprintf("\n\n<!-- page %d -->\n\n", pageNum))
		}
		builder.WriteString(strings.TrimSpace(pageTexts[pageNum]))
	}

	text := builder.String()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("PDF produced no extractable text")
	}

	s.logger.Debug().
		Str("path", filepath.Base(path)).
		Int("pages", pageCount).
		Msg("PDF parsed")
	return &interfaces.ParsedDocument{Markdown: text, Pages: pageCount}, nil
}

// extractionDir allocates a unique page-extraction directory for one parse
func (s *Service) extractionDir() (string, error) {
	return os.MkdirTemp(s.tempDir, "pages_")
}

// parseHTML converts HTML to markdown
func (s *Service) parseHTML(path string) (*interfaces.ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read HTML file: %w", err)
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("HTML produced no content")
	}
	return &interfaces.ParsedDocument{Markdown: markdown}, nil
}

// parseText reads markdown or plain text as-is
func (s *Service) parseText(path string) (*interfaces.ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("file is empty")
	}
	return &interfaces.ParsedDocument{Markdown: text}, nil
}

// normalizeMime resolves an empty or generic mime type from the file extension
func normalizeMime(mimeType, path string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i > 0 {
		mimeType = mimeType[:i]
	}
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html"
	case ".md", ".markdown":
		return "text/markdown"
	default:
		return "text/plain"
	}
}
