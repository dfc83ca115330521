// Structure generation stage (STRUCTURE_GENERATION). Turns the analysis
// result into the concrete course outline, persists sections, lessons and
// pending content rows in one transaction, then fans out one LESSON_CONTENT
// job per lesson carrying the full lesson spec.

package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
)

const structureMaxTokens = 8192

// StructureWorker handles STRUCTURE_GENERATION jobs
type StructureWorker struct {
	d        *Deps
	validate *validator.Validate
}

// NewStructureWorker creates the structure stage worker
func NewStructureWorker(d *Deps) *StructureWorker {
	return &StructureWorker{
		d:        d,
		validate: validator.New(),
	}
}

func (w *StructureWorker) Handle(ctx context.Context, res *interfaces.Reservation) error {
	var payload models.StructurePayload
	if err := decode(res, &payload); err != nil {
		return err
	}
	started := time.Now()
	defer timeStage(w.d, payload.CourseID, "structure", started)

	course, err := guardStage(ctx, w.d, payload.CourseID, models.GenerationStatusStructuring,
		models.GenerationStatusAnalyzing, models.GenerationStatusStructuring)
	if err != nil {
		return stageFailure(ctx, w.d, payload.CourseID, "structure", err)
	}
	if course == nil {
		return nil
	}
	if course.AnalysisResult == nil {
		return pipeline.Errorf(pipeline.KindDependencyMissing,
			"course %s has no analysis result", payload.CourseID)
	}

	if course.GenerationStatus == models.GenerationStatusAnalyzing {
		if err := w.d.Status.Advance(ctx, payload.CourseID, models.GenerationStatusStructuring); err != nil {
			return err
		}
	}

	structure := course.CourseStructure
	if structure == nil {
		structure, err = w.generateStructure(ctx, course)
		if err != nil {
			return stageFailure(ctx, w.d, payload.CourseID, "structure", err)
		}
		if err := w.d.Storage.CourseStorage().SetCourseStructure(ctx, course.ID, structure); err != nil {
			return err
		}
	}

	lessons, err := w.d.Storage.LessonStorage().SaveStructure(ctx, course.ID, structure)
	if err != nil {
		return err
	}

	if err := w.d.Status.Advance(ctx, payload.CourseID, models.GenerationStatusGeneratingLessons); err != nil {
		return err
	}

	specs, err := w.buildSpecs(ctx, course, structure, lessons)
	if err != nil {
		return stageFailure(ctx, w.d, payload.CourseID, "structure", err)
	}
	for _, spec := range specs {
		_, err := w.d.Queue.Enqueue(ctx, models.JobTypeLessonContent, &models.LessonPayload{
			JobEnvelope: models.JobEnvelope{
				JobType:        models.JobTypeLessonContent,
				OrganizationID: payload.OrganizationID,
				CourseID:       payload.CourseID,
				UserID:         payload.UserID,
				CreatedAt:      time.Now().UTC(),
			},
			Spec: *spec,
		}, nil)
		if err != nil {
			return err
		}
	}

	w.d.Logger.Info().
		Str("course_id", common.ShortID(course.ID)).
		Int("sections", len(structure.Sections)).
		Int("lessons", len(lessons)).
		Msg("Course structure generated")
	return nil
}

// generateStructure runs the outline completion against the analysis result
func (w *StructureWorker) generateStructure(ctx context.Context, course *models.Course) (*models.CourseStructure, error) {
	resp, err := w.d.LLM.CompleteWithEscalation(ctx, &interfaces.CompletionRequest{
		Model: w.d.Config.LLM.Models.Structure,
		Messages: []interfaces.Message{
			{Role: "system", Content: structureSystemPrompt},
			{Role: "user", Content: structureUserPrompt(course)},
		},
		Temperature: 0.4,
		MaxTokens:   structureMaxTokens,
		Format:      interfaces.ResponseFormatJSON,
		Timeout:     common.Duration(w.d.Config.LLM.Timeouts.Analysis, 60*time.Second),
	})
	if err != nil {
		return nil, err
	}
	w.d.Ledger.RecordTokens(course.ID, "structure", resp.TokensPrompt+resp.TokensCompletion, resp.CostUSD)

	var structure models.CourseStructure
	if err := json.Unmarshal([]byte(jsonBody(resp.Text)), &structure); err != nil {
		return nil, pipeline.NewError(pipeline.KindDecodingError, "structure response is not valid JSON", err)
	}
	if err := structure.Validate(); err != nil {
		return nil, pipeline.NewError(pipeline.KindValidationError, "generated course structure is invalid", err)
	}
	return &structure, nil
}

// buildSpecs assembles one lesson spec per persisted lesson. Lessons are
// matched to their structure rows by (section order, lesson order); section
// ids inside the spec are positional (sec_0, sec_1, ...) over the lesson's
// topic list.
func (w *StructureWorker) buildSpecs(ctx context.Context, course *models.Course, structure *models.CourseStructure, lessons []*models.Lesson) ([]*models.LessonSpec, error) {
	sections, err := w.d.Storage.LessonStorage().GetSectionsByCourse(ctx, course.ID)
	if err != nil {
		return nil, err
	}
	orderToSection := make(map[int]*models.Section, len(sections))
	for _, s := range sections {
		orderToSection[s.OrderIndex] = s
	}

	byKey := make(map[string]models.StructureLesson)
	for _, ss := range structure.Sections {
		for _, sl := range ss.Lessons {
			byKey[fmt.Sprintf("%d/%d", ss.OrderIndex, sl.OrderIndex)] = sl
		}
	}
	sectionOrder := make(map[string]int, len(sections))
	for _, s := range sections {
		sectionOrder[s.ID] = s.OrderIndex
	}

	guidance := models.GenerationGuidance{}
	if course.AnalysisResult != nil {
		guidance = course.AnalysisResult.Guidance
	}

	specs := make([]*models.LessonSpec, 0, len(lessons))
	for _, lesson := range lessons {
		sl, ok := byKey[fmt.Sprintf("%d/%d", sectionOrder[lesson.SectionID], lesson.OrderIndex)]
		if !ok {
			return nil, pipeline.Errorf(pipeline.KindValidationError,
				"lesson %s has no structure row", lesson.ID)
		}

		objectives := make([]models.LearningObjective, 0, len(sl.LearningOutcomes))
		for _, o := range sl.LearningOutcomes {
			objectives = append(objectives, models.LearningObjective{Statement: o})
		}
		if len(objectives) == 0 {
			objectives = append(objectives, models.LearningObjective{
				Statement: fmt.Sprintf("Understand %s", sl.Title),
			})
		}

		topics := sl.Topics
		if len(topics) == 0 {
			topics = []string{sl.Title}
		}
		specSections := make([]models.SectionBreakdown, 0, len(topics))
		for i, topic := range topics {
			specSections = append(specSections, models.SectionBreakdown{
				ID:            fmt.Sprintf("sec_%d", i),
				Title:         topic,
				Depth:         guidance.Depth,
				SearchQueries: []string{fmt.Sprintf("%s %s", sl.Title, topic)},
			})
		}

		spec := &models.LessonSpec{
			LessonID: lesson.ID,
			CourseID: course.ID,
			Title:    sl.Title,
			Metadata: models.LessonSpecMetadata{
				Audience: guidance.Audience,
				Tone:     guidance.Tone,
			},
			Objectives: objectives,
			Intro: models.IntroBlueprint{
				Hook:      sl.Description,
				KeyPoints: sl.LearningOutcomes,
			},
			Sections: specSections,
			Exercises: []models.ExerciseSpec{
				{Kind: "practical"},
			},
			Language:   course.Language,
			Difficulty: guidance.Depth,
			Style:      course.Style,
		}
		if err := w.validate.Struct(spec); err != nil {
			return nil, pipeline.NewError(pipeline.KindValidationError, "assembled lesson spec is invalid", err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

const structureSystemPrompt = `You are a curriculum designer. Given a course
analysis, respond with a single JSON object describing the course outline:

{
  "sections": [
    {
      "title": "...",
      "description": "...",
      "order_index": 1,
      "lessons": [
        {
          "title": "...",
          "description": "...",
          "order_index": 1,
          "learning_outcomes": ["..."],
          "topics": ["..."],
          "duration_minutes": 30
        }
      ]
    }
  ]
}

Order indices start at 1 and are unique within their parent. Every lesson
carries 2 to 5 topics in teaching order. Respond with the JSON object only.`

func structureUserPrompt(course *models.Course) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Course title: %s\nLanguage: %s\nStyle: %s\n\n", course.Title, course.Language, course.Style)
	a := course.AnalysisResult
	fmt.Fprintf(&b, "Category: %s\nAudience: %s\nTone: %s\nDepth: %s\n\nTopic analysis:\n%s\n\nProjected sections:\n",
		a.Category, a.Guidance.Audience, a.Guidance.Tone, a.Guidance.Depth, a.TopicAnalysis)
	for _, s := range a.ProjectedSections {
		fmt.Fprintf(&b, "- %s: %s", s.Title, s.Description)
		if len(s.Topics) > 0 {
			fmt.Fprintf(&b, " (topics: %s)", strings.Join(s.Topics, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}
