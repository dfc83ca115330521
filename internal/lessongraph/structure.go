// Markdown structure lint backed by goldmark's AST. Classifies findings so
// self-review can decide between flags and regeneration.

package lessongraph

import (
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/ternarybob/doceo/internal/models"
)

var structureParser = goldmark.New()

// structureCheck walks the markdown AST and reports heading discipline, code
// block and image problems. A document with no level-2 headings at all cannot
// be partitioned into sections and is critical.
func structureCheck(content string) []ReviewIssue {
	source := []byte(content)
	root := structureParser.Parser().Parse(text.NewReader(source))

	var issues []ReviewIssue
	lastLevel := 0
	sawSection := false

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if node.Level == 2 {
				sawSection = true
			}
			if lastLevel > 0 && node.Level > lastLevel+1 {
				issues = append(issues, ReviewIssue{
					Type:        IssueStructure,
					Severity:    models.SeverityMajor,
					Location:    string(node.Text(source)),
					Description: fmt.Sprintf("heading level jumps from %d to %d", lastLevel, node.Level),
				})
			}
			lastLevel = node.Level
		case *ast.FencedCodeBlock:
			if len(node.Language(source)) == 0 {
				issues = append(issues, ReviewIssue{
					Type:        IssueStructure,
					Severity:    models.SeverityMinor,
					Location:    "code block",
					Description: "fenced code block without a language tag",
				})
			}
		case *ast.Image:
			if len(node.Text(source)) == 0 {
				issues = append(issues, ReviewIssue{
					Type:        IssueStructure,
					Severity:    models.SeverityMinor,
					Location:    string(node.Destination),
					Description: "image without alt text",
				})
			}
		}
		return ast.WalkContinue, nil
	})

	if !sawSection {
		issues = append(issues, ReviewIssue{
			Type:        IssueStructure,
			Severity:    models.SeverityCritical,
			Location:    "lesson",
			Description: "no level-2 section headings found",
		})
	}
	return issues
}
