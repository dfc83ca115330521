// Generate node: assembles the lesson prompt from the spec and retrieval
// context and calls the gateway with escalation. Prompt text instructs the
// model to keep the exact section headings so the section partitioner can map
// output back onto the spec.

package lessongraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

const (
	generateMaxTokens = 8192
	chunkExcerptRunes = 1200
)

func (g *Graph) generate(ctx context.Context, in *Inputs, st *GraphState) event {
	started := time.Now()
	spec := in.Spec.Lesson

	resp, err := g.llm.CompleteWithEscalation(ctx, &interfaces.CompletionRequest{
		Model: g.lessonModel(in),
		Messages: []interfaces.Message{
			{Role: "system", Content: lessonSystemPrompt(spec)},
			{Role: "user", Content: lessonUserPrompt(spec, in.Spec.Contexts)},
		},
		Temperature: st.Temperature,
		MaxTokens:   generateMaxTokens,
		Format:      interfaces.ResponseFormatMarkdown,
		Timeout:     g.lessonTimeout(),
	})
	if err != nil {
		g.recordFailure(in, st, "generate", err, started)
		return eventFailed
	}

	g.record(in, st, "generate", resp)
	st.GeneratedContent = strings.TrimSpace(resp.Text)
	for _, section := range spec.Sections {
		st.SectionProgress[section.ID] = "generate"
	}
	return eventOK
}

func lessonSystemPrompt(spec *models.LessonSpec) string {
	var b strings.Builder
	b.WriteString("You are an expert course author. Write complete lesson content in ")
	b.WriteString(languageName(spec.Language))
	b.WriteString(".\n")
	if spec.Metadata.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s.\n", spec.Metadata.Audience)
	}
	if spec.Metadata.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s.\n", spec.Metadata.Tone)
	}
	if spec.Style != "" {
		fmt.Fprintf(&b, "Style: %s.\n", spec.Style)
	}
	if spec.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s.\n", spec.Difficulty)
	}
	b.WriteString("Output rules:\n")
	b.WriteString("- Markdown only. One '#' title line, then one '## ' heading per section, using the exact section titles given.\n")
	b.WriteString("- Every fenced code block declares its language.\n")
	b.WriteString("- No meta commentary, no greetings, no closing offers of help.\n")
	return b.String()
}

func lessonUserPrompt(spec *models.LessonSpec, contexts map[string][]*models.RAGChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write the lesson \"%s\".\n\n", spec.Title)

	if len(spec.Objectives) > 0 {
		b.WriteString("Learning objectives:\n")
		for _, o := range spec.Objectives {
			if o.BloomLevel != "" {
				fmt.Fprintf(&b, "- %s (Bloom: %s)\n", o.Statement, o.BloomLevel)
			} else {
				fmt.Fprintf(&b, "- %s\n", o.Statement)
			}
		}
		b.WriteString("\n")
	}

	if spec.Intro.Hook != "" || len(spec.Intro.KeyPoints) > 0 {
		b.WriteString("Introduction (before the first section):\n")
		if spec.Intro.Hook != "" {
			fmt.Fprintf(&b, "- Open with: %s\n", spec.Intro.Hook)
		}
		for _, p := range spec.Intro.KeyPoints {
			fmt.Fprintf(&b, "- Cover: %s\n", p)
		}
		b.WriteString("\n")
	}

	b.WriteString("Sections, in order:\n\n")
	for i, section := range spec.Sections {
		fmt.Fprintf(&b, "%d. ## %s\n", i+1, section.Title)
		writeSectionBrief(&b, &section)
		if chunks := contexts[section.ID]; len(chunks) > 0 {
			b.WriteString("   Source material:\n")
			for _, chunk := range chunks {
				fmt.Fprintf(&b, "   > %s\n", excerpt(chunk.Content, chunkExcerptRunes))
			}
		}
		b.WriteString("\n")
	}

	if len(spec.Exercises) > 0 {
		b.WriteString("Finish with a '## Exercises' section containing:\n")
		for _, ex := range spec.Exercises {
			if ex.Prompt != "" {
				fmt.Fprintf(&b, "- %s: %s\n", ex.Kind, ex.Prompt)
			} else {
				fmt.Fprintf(&b, "- one %s exercise\n", ex.Kind)
			}
		}
	}
	return b.String()
}

func writeSectionBrief(b *strings.Builder, section *models.SectionBreakdown) {
	if section.Archetype != "" {
		fmt.Fprintf(b, "   Archetype: %s.", section.Archetype)
	}
	if section.Depth != "" {
		fmt.Fprintf(b, " Depth: %s.", section.Depth)
	}
	if section.Archetype != "" || section.Depth != "" {
		b.WriteString("\n")
	}
	for _, p := range section.KeyPoints {
		fmt.Fprintf(b, "   - %s\n", p)
	}
	if len(section.RequiredKeywords) > 0 {
		fmt.Fprintf(b, "   Must mention: %s\n", strings.Join(section.RequiredKeywords, ", "))
	}
	if len(section.ProhibitedKeywords) > 0 {
		fmt.Fprintf(b, "   Never mention: %s\n", strings.Join(section.ProhibitedKeywords, ", "))
	}
}

func excerpt(s string, maxRunes int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\n", " ")
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "…"
}

var languageNames = map[string]string{
	"en": "English", "ru": "Russian", "de": "German", "fr": "French",
	"es": "Spanish", "it": "Italian", "pt": "Portuguese", "nl": "Dutch",
	"pl": "Polish", "uk": "Ukrainian", "zh": "Chinese", "ja": "Japanese",
	"ko": "Korean",
}

func languageName(code string) string {
	lang := strings.ToLower(code)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if name, ok := languageNames[lang]; ok {
		return name
	}
	if code == "" {
		return "English"
	}
	return code
}
