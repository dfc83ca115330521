// Finalize node: parses the accepted markdown into the LessonContent shape
// and attaches the metrics aggregated across all node calls.

package lessongraph

import (
	"strings"
	"time"

	"github.com/ternarybob/doceo/internal/models"
)

var exerciseSlugs = map[string]bool{
	"exercises": true, "practice": true, "упражнения": true, "задания": true,
}

func (g *Graph) finalize(in *Inputs, st *GraphState) event {
	spec := in.Spec.Lesson
	doc := parseDocument(st.GeneratedContent)
	if len(doc.Sections) == 0 {
		st.Errors = append(st.Errors, "accepted content has no sections to finalize")
		return eventFailed
	}
	refs := specRefs(spec)

	now := time.Now().UTC()
	content := &models.LessonContent{
		LessonID:  spec.LessonID,
		CourseID:  in.CourseID,
		Status:    models.LessonContentCompleted,
		Intro:     introText(doc.Intro),
		Markdown:  st.GeneratedContent,
		Metrics:   g.lessonMetrics(st),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for i, section := range doc.Sections {
		if exerciseSlugs[section.ID] {
			content.Exercises = parseExercises(section)
			continue
		}
		content.Sections = append(content.Sections, models.RenderedSection{
			ID:      matchSpecSection(doc, i, section.Title, refs),
			Title:   section.Title,
			Content: strings.TrimSpace(section.Body),
		})
	}

	st.LessonContent = content
	g.logger.Info().
		Str("lesson_id", spec.LessonID).
		Int("sections", len(content.Sections)).
		Int("exercises", len(content.Exercises)).
		Float64("quality_score", st.QualityScore).
		Msg("Lesson finalized")
	return eventOK
}

// introText strips the "#" title line, keeping the prose before the first
// section
func introText(intro string) string {
	lines := strings.Split(intro, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "# ") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// parseExercises splits an exercises section on "###" subheadings; a section
// without subheadings becomes a single exercise
func parseExercises(section markdownSection) []models.RenderedExercise {
	var exercises []models.RenderedExercise
	var current *models.RenderedExercise
	var buf []string

	flush := func() {
		if current == nil {
			body := strings.TrimSpace(strings.Join(buf, "\n"))
			if body != "" {
				exercises = append(exercises, models.RenderedExercise{
					Title:       section.Title,
					Instruction: body,
				})
			}
		} else {
			current.Instruction = strings.TrimSpace(strings.Join(buf, "\n"))
			exercises = append(exercises, *current)
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(section.Body, "\n") {
		if strings.HasPrefix(line, "### ") {
			if current != nil || len(strings.TrimSpace(strings.Join(buf, ""))) > 0 {
				flush()
			}
			title := strings.TrimSpace(strings.TrimPrefix(line, "### "))
			current = &models.RenderedExercise{Title: title}
			buf = buf[:0]
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return exercises
}
