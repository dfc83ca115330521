// Structure analysis stage (STRUCTURE_ANALYSIS). Feeds the document summaries
// to the analysis model and stores the typed result on the course row. The
// analysis decides category, tone, audience and a provisional section plan
// that the structure stage refines into the real outline.

package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
)

const analysisMaxTokens = 4096

// AnalyzeWorker handles STRUCTURE_ANALYSIS jobs
type AnalyzeWorker struct {
	d *Deps
}

// NewAnalyzeWorker creates the analysis stage worker
func NewAnalyzeWorker(d *Deps) *AnalyzeWorker {
	return &AnalyzeWorker{d: d}
}

func (w *AnalyzeWorker) Handle(ctx context.Context, res *interfaces.Reservation) error {
	var payload models.AnalyzePayload
	if err := decode(res, &payload); err != nil {
		return err
	}
	started := time.Now()
	defer timeStage(w.d, payload.CourseID, "analysis", started)

	course, err := guardStage(ctx, w.d, payload.CourseID, models.GenerationStatusAnalyzing,
		models.GenerationStatusSummarizing, models.GenerationStatusAnalyzing)
	if err != nil {
		return stageFailure(ctx, w.d, payload.CourseID, "analysis", err)
	}
	if course == nil {
		return nil
	}

	if course.GenerationStatus == models.GenerationStatusSummarizing {
		if err := w.d.Status.Advance(ctx, payload.CourseID, models.GenerationStatusAnalyzing); err != nil {
			return err
		}
	}

	if course.AnalysisResult == nil {
		result, err := w.analyze(ctx, course)
		if err != nil {
			return stageFailure(ctx, w.d, payload.CourseID, "analysis", err)
		}
		if err := w.d.Storage.CourseStorage().SetAnalysisResult(ctx, course.ID, result); err != nil {
			return err
		}
		w.d.Logger.Info().
			Str("course_id", common.ShortID(course.ID)).
			Str("category", result.Category).
			Int("projected_sections", len(result.ProjectedSections)).
			Msg("Course analysis stored")
	}

	_, err = w.d.Queue.Enqueue(ctx, models.JobTypeStructureGeneration, &models.StructurePayload{
		JobEnvelope: models.JobEnvelope{
			JobType:        models.JobTypeStructureGeneration,
			OrganizationID: payload.OrganizationID,
			CourseID:       payload.CourseID,
			UserID:         payload.UserID,
			CreatedAt:      time.Now().UTC(),
		},
	}, nil)
	return err
}

// analyze runs the analysis completion over the stored document summaries
func (w *AnalyzeWorker) analyze(ctx context.Context, course *models.Course) (*models.AnalysisResult, error) {
	summaries, err := w.collectSummaries(ctx, course.ID)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, pipeline.Errorf(pipeline.KindValidationError, "no document summaries available for analysis")
	}

	resp, err := w.d.LLM.CompleteWithEscalation(ctx, &interfaces.CompletionRequest{
		Model: w.d.Config.LLM.Models.Analysis,
		Messages: []interfaces.Message{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: analysisUserPrompt(course, summaries)},
		},
		Temperature: 0.4,
		MaxTokens:   analysisMaxTokens,
		Format:      interfaces.ResponseFormatJSON,
		Timeout:     common.Duration(w.d.Config.LLM.Timeouts.Analysis, 60*time.Second),
	})
	if err != nil {
		return nil, err
	}
	w.d.Ledger.RecordTokens(course.ID, "analysis", resp.TokensPrompt+resp.TokensCompletion, resp.CostUSD)

	var result models.AnalysisResult
	if err := json.Unmarshal([]byte(jsonBody(resp.Text)), &result); err != nil {
		return nil, pipeline.NewError(pipeline.KindDecodingError, "analysis response is not valid JSON", err)
	}
	if result.Category == "" || len(result.ProjectedSections) == 0 {
		return nil, pipeline.Errorf(pipeline.KindDecodingError,
			"analysis response missing category or projected sections")
	}
	return &result, nil
}

// collectSummaries gathers per-file summaries keyed for the prompt
func (w *AnalyzeWorker) collectSummaries(ctx context.Context, courseID string) ([]string, error) {
	files, err := w.d.Storage.FileStorage().GetFilesByCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range files {
		if f.ProcessedContent == "" {
			continue
		}
		out = append(out, fmt.Sprintf("### %s (file_id: %s)\n%s", f.Filename, f.ID, f.ProcessedContent))
	}
	return out, nil
}

// jsonBody strips a markdown code fence some models wrap JSON output in
func jsonBody(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
			trimmed = trimmed[i+1:]
		}
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	}
	return strings.TrimSpace(trimmed)
}

const analysisSystemPrompt = `You are a curriculum analyst. Given summaries of
source documents for a course, respond with a single JSON object:

{
  "category": "subject category of the course",
  "topic_analysis": "2-3 paragraphs on what the material covers and how deep",
  "guidance": {"tone": "...", "audience": "...", "depth": "..."},
  "document_relevance": [{"section_title": "...", "file_ids": ["..."]}],
  "research_flags": ["topics the documents cover thinly"],
  "projected_sections": [{"title": "...", "description": "...", "topics": ["..."]}]
}

Propose 3 to 8 projected sections in teaching order. Respond with the JSON
object only, no commentary.`

func analysisUserPrompt(course *models.Course, summaries []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Course title: %s\nLanguage: %s\nStyle: %s\n\nDocument summaries:\n\n",
		course.Title, course.Language, course.Style)
	b.WriteString(strings.Join(summaries, "\n\n"))
	return b.String()
}
