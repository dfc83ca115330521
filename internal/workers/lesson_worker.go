// Lesson content stage (LESSON_CONTENT). Builds the retrieval context for the
// lesson spec, runs the lesson graph, and persists whatever outcome the graph
// settled on. The last lesson to reach a terminal state closes the course.

package workers

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/lessongraph"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
)

// LessonWorker handles LESSON_CONTENT jobs
type LessonWorker struct {
	d *Deps
}

// NewLessonWorker creates the lesson content stage worker
func NewLessonWorker(d *Deps) *LessonWorker {
	return &LessonWorker{d: d}
}

func (w *LessonWorker) Handle(ctx context.Context, res *interfaces.Reservation) error {
	var payload models.LessonPayload
	if err := decode(res, &payload); err != nil {
		return err
	}
	started := time.Now()
	defer timeStage(w.d, payload.CourseID, "lesson_content", started)

	course, err := guardStage(ctx, w.d, payload.CourseID, models.GenerationStatusGeneratingLessons,
		models.GenerationStatusGeneratingLessons)
	if err != nil {
		return stageFailure(ctx, w.d, payload.CourseID, "lesson_content", err)
	}
	if course == nil {
		return nil
	}

	lessonID := payload.Spec.LessonID
	existing, err := w.d.Storage.LessonStorage().GetLessonContent(ctx, lessonID)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return err
	}
	if existing != nil && existing.Status.IsTerminal() {
		// earlier delivery finished this lesson
		return w.checkCompletion(ctx, payload.CourseID)
	}

	if err := w.markGenerating(ctx, &payload, existing); err != nil {
		return err
	}

	contexts, err := w.d.RAG.LessonContext(ctx, &payload.Spec)
	if err != nil {
		if pipeline.Retryable(err) {
			return err
		}
		return w.settle(ctx, &payload, &models.LessonContent{
			LessonID: lessonID,
			CourseID: payload.CourseID,
			Status:   models.LessonContentFailed,
			Error:    pipeline.UserMessage(err),
		})
	}

	content, err := w.d.Graph.Run(ctx, &lessongraph.Inputs{
		Spec: &lessongraph.Spec{
			Lesson:   &payload.Spec,
			Contexts: contexts,
		},
		CourseID:      payload.CourseID,
		ModelOverride: payload.ModelOverride,
	})
	if err != nil {
		// invalid inputs only; nothing a retry would change
		return stageFailure(ctx, w.d, payload.CourseID, "lesson_content", err)
	}

	return w.settle(ctx, &payload, content)
}

// markGenerating records that the lesson is in flight
func (w *LessonWorker) markGenerating(ctx context.Context, payload *models.LessonPayload, existing *models.LessonContent) error {
	now := time.Now().UTC()
	row := existing
	if row == nil {
		row = &models.LessonContent{
			LessonID:  payload.Spec.LessonID,
			CourseID:  payload.CourseID,
			CreatedAt: now,
		}
	}
	row.Status = models.LessonContentGenerating
	row.UpdatedAt = now
	return w.d.Storage.LessonStorage().SaveLessonContent(ctx, row)
}

// settle persists the lesson outcome and runs the course completion check
func (w *LessonWorker) settle(ctx context.Context, payload *models.LessonPayload, content *models.LessonContent) error {
	if content.CreatedAt.IsZero() {
		content.CreatedAt = time.Now().UTC()
	}
	content.UpdatedAt = time.Now().UTC()
	if err := w.d.Storage.LessonStorage().SaveLessonContent(ctx, content); err != nil {
		return err
	}

	w.d.Logger.Info().
		Str("course_id", common.ShortID(payload.CourseID)).
		Str("lesson_id", common.ShortID(payload.Spec.LessonID)).
		Str("status", string(content.Status)).
		Msg("Lesson content stored")

	return w.checkCompletion(ctx, payload.CourseID)
}

// checkCompletion closes the course once every lesson content row is terminal.
// At least one completed lesson makes the course completed; otherwise the
// course failed with nothing to show.
func (w *LessonWorker) checkCompletion(ctx context.Context, courseID string) error {
	lessons, err := w.d.Storage.LessonStorage().GetLessonsByCourse(ctx, courseID)
	if err != nil {
		return err
	}
	contents, err := w.d.Storage.LessonStorage().GetLessonContentsByCourse(ctx, courseID)
	if err != nil {
		return err
	}
	byLesson := make(map[string]*models.LessonContent, len(contents))
	for _, c := range contents {
		byLesson[c.LessonID] = c
	}

	completed, failed := 0, 0
	for _, lesson := range lessons {
		content := byLesson[lesson.ID]
		if content == nil || !content.Status.IsTerminal() {
			return nil // another lesson is still in flight
		}
		if content.Status == models.LessonContentCompleted {
			completed++
		} else if content.Status == models.LessonContentFailed {
			failed++
		}
	}
	if len(lessons) == 0 {
		return nil
	}

	if completed == 0 {
		return stageFailure(ctx, w.d, courseID, "lesson_content",
			pipeline.Errorf(pipeline.KindValidationError, "no lessons succeeded (%d failed)", failed))
	}

	w.d.Logger.Info().
		Str("course_id", common.ShortID(courseID)).
		Int("completed", completed).
		Int("failed", failed).
		Int("total", len(lessons)).
		Msg("All lessons terminal, completing course")
	return w.d.Status.Advance(ctx, courseID, models.GenerationStatusCompleted)
}
