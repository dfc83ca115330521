// Summarization stage (SUMMARIZATION). Produces a processed summary for every
// parsed document. Summaries feed the analysis prompt; a file that failed
// parsing is skipped, a file whose summary fails is marked failed without
// taking the course down unless nothing at all summarized.

package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
)

// summaryMaxTokens bounds one document summary
const summaryMaxTokens = 1024

// summaryInputRunes bounds how much of a document the summary prompt carries
const summaryInputRunes = 24000

// SummarizeWorker handles SUMMARIZATION jobs
type SummarizeWorker struct {
	d *Deps
}

// NewSummarizeWorker creates the summarization stage worker
func NewSummarizeWorker(d *Deps) *SummarizeWorker {
	return &SummarizeWorker{d: d}
}

func (w *SummarizeWorker) Handle(ctx context.Context, res *interfaces.Reservation) error {
	var payload models.SummarizePayload
	if err := decode(res, &payload); err != nil {
		return err
	}
	started := time.Now()
	defer timeStage(w.d, payload.CourseID, "summarization", started)

	course, err := guardStage(ctx, w.d, payload.CourseID, models.GenerationStatusSummarizing,
		models.GenerationStatusParsing, models.GenerationStatusSummarizing)
	if err != nil {
		return stageFailure(ctx, w.d, payload.CourseID, "summarization", err)
	}
	if course == nil {
		return nil
	}

	if course.GenerationStatus == models.GenerationStatusParsing {
		if err := w.d.Status.Advance(ctx, payload.CourseID, models.GenerationStatusSummarizing); err != nil {
			return err
		}
	}

	files, err := w.d.Storage.FileStorage().GetFilesByCourse(ctx, payload.CourseID)
	if err != nil {
		return err
	}

	eligible, summarized, failed := 0, 0, 0
	for _, file := range files {
		if !file.Parsed() {
			continue
		}
		eligible++
		if file.ProcessedContent != "" {
			summarized++
			continue
		}
		if err := w.summarizeFile(ctx, course, file); err != nil {
			if pipeline.Retryable(err) && res.Attempt < w.d.Config.Queue.MaxAttempts {
				return err
			}
			w.d.Logger.Warn().Err(err).
				Str("course_id", common.ShortID(payload.CourseID)).
				Str("file_id", common.ShortID(file.ID)).
				Msg("Document summary failed")
			failed++
			continue
		}
		summarized++
	}

	if eligible == 0 || summarized == 0 {
		return stageFailure(ctx, w.d, payload.CourseID, "summarization",
			pipeline.Errorf(pipeline.KindValidationError,
				"no document could be summarized (%d eligible, %d failed)", eligible, failed))
	}

	w.d.Logger.Info().
		Str("course_id", common.ShortID(payload.CourseID)).
		Int("summarized", summarized).
		Int("failed", failed).
		Msg("Summarization complete")

	_, err = w.d.Queue.Enqueue(ctx, models.JobTypeStructureAnalysis, &models.AnalyzePayload{
		JobEnvelope: models.JobEnvelope{
			JobType:        models.JobTypeStructureAnalysis,
			OrganizationID: payload.OrganizationID,
			CourseID:       payload.CourseID,
			UserID:         payload.UserID,
			CreatedAt:      time.Now().UTC(),
		},
	}, nil)
	return err
}

// summarizeFile runs one summary completion and stores the result
func (w *SummarizeWorker) summarizeFile(ctx context.Context, course *models.Course, file *models.File) error {
	content := file.MarkdownContent
	if runes := []rune(content); len(runes) > summaryInputRunes {
		content = string(runes[:summaryInputRunes])
	}

	resp, err := w.d.LLM.CompleteWithEscalation(ctx, &interfaces.CompletionRequest{
		Model: w.d.Config.LLM.Models.Summarization,
		Messages: []interfaces.Message{
			{Role: "system", Content: summarySystemPrompt(course.Language)},
			{Role: "user", Content: fmt.Sprintf("Document: %s\n\n%s", file.Filename, content)},
		},
		Temperature: 0.3,
		MaxTokens:   summaryMaxTokens,
		Format:      interfaces.ResponseFormatMarkdown,
		Timeout:     common.Duration(w.d.Config.LLM.Timeouts.Summarization, 60*time.Second),
	})
	if err != nil {
		return err
	}

	w.d.Ledger.RecordTokens(course.ID, "summarization",
		resp.TokensPrompt+resp.TokensCompletion, resp.CostUSD)
	return w.d.Storage.FileStorage().SetProcessedContent(ctx, file.ID, resp.Text)
}

func summarySystemPrompt(language string) string {
	return fmt.Sprintf(`You summarize source documents for course planning.
Write a dense summary in %s covering: the main subject, the key concepts and
terms, the document's structure, and what a course built on it could teach.
Keep it under 400 words. Output plain markdown, no preamble.`, language)
}
