// Section regeneration: replaces the body of targeted sections while leaving
// the rest of the document byte for byte intact. The merge preserves the set
// and order of "##" headings.

package lessongraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

const regenMaxTokens = 4096

// mergeSectionIntoMarkdown replaces one section body by slug id and
// re-renders. Every heading and every other section survives unchanged.
func mergeSectionIntoMarkdown(markdown, sectionID, body string) (string, error) {
	doc := parseDocument(markdown)
	if !doc.replaceBody(sectionID, body) {
		return "", fmt.Errorf("section %s not found in document", sectionID)
	}
	return doc.render(), nil
}

func (g *Graph) regenerateSections(ctx context.Context, in *Inputs, st *GraphState) event {
	spec := in.Spec.Lesson
	doc := parseDocument(st.GeneratedContent)
	refs := specRefs(spec)

	// spec section id -> document slug
	docSlug := make(map[string]string, len(doc.Sections))
	for i, section := range doc.Sections {
		docSlug[matchSpecSection(doc, i, section.Title, refs)] = section.ID
	}

	for _, specID := range st.SelfReviewResult.SectionsToRegenerate {
		if st.locked(specID) {
			continue
		}
		slug, ok := docSlug[specID]
		if !ok {
			st.Errors = append(st.Errors, fmt.Sprintf("cannot locate section %s for regeneration", specID))
			continue
		}
		breakdown := specSection(spec, specID)

		started := time.Now()
		resp, err := g.llm.CompleteWithEscalation(ctx, &interfaces.CompletionRequest{
			Model: g.lessonModel(in),
			Messages: []interfaces.Message{
				{Role: "system", Content: lessonSystemPrompt(spec)},
				{Role: "user", Content: sectionRegenPrompt(spec, breakdown, doc, slug, in.Spec.Contexts[specID])},
			},
			Temperature: st.Temperature,
			MaxTokens:   regenMaxTokens,
			Format:      interfaces.ResponseFormatMarkdown,
			Timeout:     g.lessonTimeout(),
		})
		if err != nil {
			g.recordFailure(in, st, "regenerate_section", err, started)
			return eventFailed
		}
		g.record(in, st, "regenerate_section", resp)

		body := stripLeadingHeading(resp.Text)
		merged, err := mergeSectionIntoMarkdown(st.GeneratedContent, slug, body)
		if err != nil {
			st.Errors = append(st.Errors, err.Error())
			return eventFailed
		}
		st.GeneratedContent = merged
		st.SectionProgress[specID] = "regenerate_section"
		st.SectionEditCount[specID]++
	}

	st.SectionRegenerationCount++
	return eventOK
}

// sectionRegenPrompt asks for one section body only, anchored by its
// neighbours so the rewrite joins cleanly
func sectionRegenPrompt(spec *models.LessonSpec, breakdown *models.SectionBreakdown, doc *lessonDocument, slug string, chunks []*models.RAGChunk) string {
	var b strings.Builder
	section := doc.section(slug)
	fmt.Fprintf(&b, "Rewrite only the section \"%s\" of the lesson \"%s\" in %s.\n",
		section.Title, spec.Title, languageName(spec.Language))
	b.WriteString("Return the section body only, without the '## ' heading line.\n\n")

	if breakdown != nil {
		writeSectionBrief(&b, breakdown)
		b.WriteString("\n")
	}
	for _, chunk := range chunks {
		fmt.Fprintf(&b, "Source material:\n> %s\n", excerpt(chunk.Content, chunkExcerptRunes))
	}

	if prev := previousSection(doc, slug); prev != nil {
		fmt.Fprintf(&b, "\nThe preceding section ends with:\n%s\n", tail(prev.Body, 200))
	}
	if next := nextSection(doc, slug); next != nil {
		fmt.Fprintf(&b, "\nThe following section starts with:\n%s\n", head(next.Body, 200))
	}
	fmt.Fprintf(&b, "\nCurrent (broken) section body:\n%s\n", section.Body)
	return b.String()
}

func specSection(spec *models.LessonSpec, id string) *models.SectionBreakdown {
	for i := range spec.Sections {
		if spec.Sections[i].ID == id {
			return &spec.Sections[i]
		}
	}
	return nil
}

func previousSection(doc *lessonDocument, slug string) *markdownSection {
	for i := range doc.Sections {
		if doc.Sections[i].ID == slug && i > 0 {
			return &doc.Sections[i-1]
		}
	}
	return nil
}

func nextSection(doc *lessonDocument, slug string) *markdownSection {
	for i := range doc.Sections {
		if doc.Sections[i].ID == slug && i+1 < len(doc.Sections) {
			return &doc.Sections[i+1]
		}
	}
	return nil
}

// stripLeadingHeading drops a repeated "## ..." line the model sometimes
// prepends despite instructions
func stripLeadingHeading(text string) string {
	trimmed := strings.TrimLeft(text, "\n ")
	if strings.HasPrefix(trimmed, "## ") {
		if i := strings.Index(trimmed, "\n"); i >= 0 {
			return strings.TrimLeft(trimmed[i+1:], "\n")
		}
		return ""
	}
	return text
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}

func head(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
