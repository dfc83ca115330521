// Lesson content graph: the intra-lesson state machine of the generation
// pipeline. One Graph instance serves many lessons; all per-lesson state
// lives in GraphState. The graph is single threaded apart from the batcher,
// which runs non-adjacent section refinements in parallel.

package lessongraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
	"github.com/ternarybob/doceo/internal/services/metrics"
)

const defaultTemperature = 0.7

// Inputs is the immutable per-lesson input bundle
type Inputs struct {
	Spec           *Spec
	CourseID       string
	ModelOverride  string
	LockedSections []string
}

// Spec pairs the lesson spec with its prebuilt retrieval contexts
type Spec struct {
	Lesson   *models.LessonSpec
	Contexts map[string][]*models.RAGChunk // section id -> ranked chunks
}

// Graph drives one lesson through generate, review, refine and finalize
type Graph struct {
	llm      interfaces.CompletionService
	ledger   *metrics.Ledger
	reviewer *Reviewer
	config   *common.Config
	logger   arbor.ILogger
}

// NewGraph creates a lesson graph over the given gateway and ledger
func NewGraph(llm interfaces.CompletionService, ledger *metrics.Ledger, config *common.Config, logger arbor.ILogger) *Graph {
	return &Graph{
		llm:      llm,
		ledger:   ledger,
		reviewer: NewReviewer(logger),
		config:   config,
		logger:   logger,
	}
}

// Run executes the graph for one lesson. The outcome is always expressed in
// the returned LessonContent status (completed, review_required or failed);
// the error return is reserved for invalid inputs.
func (g *Graph) Run(ctx context.Context, in *Inputs) (*models.LessonContent, error) {
	if in == nil || in.Spec == nil || in.Spec.Lesson == nil {
		return nil, pipeline.Errorf(pipeline.KindValidationError, "lesson graph requires a lesson spec")
	}
	if len(in.Spec.Lesson.Sections) == 0 {
		return nil, pipeline.Errorf(pipeline.KindValidationError, "lesson spec has no sections")
	}

	st := newGraphState(defaultTemperature)
	st.LockedSections = in.LockedSections

	current := nodeGenerate
	for {
		var ev event
		switch current {
		case nodeGenerate:
			ev = g.generate(ctx, in, st)
		case nodeSelfReview:
			ev = g.selfReview(in, st)
		case nodeRegenerateSections:
			ev = g.regenerateSections(ctx, in, st)
		case nodeJudge:
			ev = g.judge(ctx, in, st)
		case nodeRefine:
			ev = g.refine(ctx, in, st)
		case nodeFinalize:
			ev = g.finalize(in, st)
		default:
			return nil, pipeline.Errorf(pipeline.KindValidationError, "lesson graph reached unknown node %s", current)
		}

		next, ok := transitions[current][ev]
		if !ok {
			st.Errors = append(st.Errors, fmt.Sprintf("no transition from %s on %s", current, ev))
			next = nodeFailed
		}

		g.logger.Debug().
			Str("lesson_id", in.Spec.Lesson.LessonID).
			Str("node", string(current)).
			Str("event", string(ev)).
			Str("next", string(next)).
			Msg("Lesson graph transition")

		switch next {
		case nodeDone:
			return st.LessonContent, nil
		case nodeReviewRequired:
			return g.terminal(in, st, models.LessonContentReviewRequired), nil
		case nodeFailed:
			return g.terminal(in, st, models.LessonContentFailed), nil
		}
		current = next
	}
}

// selfReview runs the heuristic checks and translates the result into a
// graph event
func (g *Graph) selfReview(in *Inputs, st *GraphState) event {
	result := g.reviewer.Review(st.GeneratedContent, in.Spec.Lesson)
	st.SelfReviewResult = result

	nm := models.NodeMetrics{
		NodeName:     "self_review",
		OutputTokens: result.TokensUsed,
		Duration:     result.Duration,
		OK:           true,
		Timestamp:    time.Now().UTC(),
	}
	st.recordNode(nm)
	g.ledger.RecordNode(in.CourseID, in.Spec.Lesson.LessonID, nm)

	maxAttempts := g.maxGenerationAttempts()

	switch {
	case len(result.SectionsToRegenerate) > 0:
		if st.SectionRegenerationCount >= maxAttempts {
			st.NeedsHumanReview = true
			st.Errors = append(st.Errors, "section regeneration cap reached")
			return eventReviewRequired
		}
		return eventSectionRegen

	case result.Status == ReviewFixed:
		st.GeneratedContent = result.PatchedContent
		if st.fixedOnce {
			// a second FIXED loop is disallowed; keep the patch and move on
			return eventPass
		}
		st.fixedOnce = true
		return eventFixed

	case result.Status == ReviewRegenerate:
		st.NeedsRegeneration = true
		if st.RetryCount >= maxAttempts-1 {
			st.NeedsHumanReview = true
			st.Errors = append(st.Errors, "full regeneration cap reached")
			return eventReviewRequired
		}
		st.RetryCount++
		// cool the sampling down on every retry
		if st.Temperature > 0.3 {
			st.Temperature -= 0.1
		}
		return eventFullRegen

	default:
		return eventPass
	}
}

// terminal assembles the LessonContent row for a non-completed outcome
func (g *Graph) terminal(in *Inputs, st *GraphState, status models.LessonContentStatus) *models.LessonContent {
	now := time.Now().UTC()
	content := &models.LessonContent{
		LessonID:  in.Spec.Lesson.LessonID,
		CourseID:  in.CourseID,
		Status:    status,
		Markdown:  st.GeneratedContent,
		Metrics:   g.lessonMetrics(st),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(st.Errors) > 0 {
		content.Error = strings.Join(st.Errors, "; ")
	}
	return content
}

func (g *Graph) lessonMetrics(st *GraphState) *models.LessonMetrics {
	return &models.LessonMetrics{
		TokensUsed:           st.TokensUsed,
		CostUSD:              st.TotalCostUSD,
		Duration:             st.Duration,
		ModelUsed:            st.ModelUsed,
		RegenerationAttempts: st.RetryCount,
		QualityScore:         st.QualityScore,
		RefinementIterations: st.RefinementIterationCount,
		RefinementTokens:     st.TargetedRefinementTokens,
		Nodes:                st.NodeCosts,
	}
}

// record books one successful LLM call against the ledger and graph state
func (g *Graph) record(in *Inputs, st *GraphState, nodeName string, resp *interfaces.CompletionResponse) {
	nm := models.NodeMetrics{
		NodeName:     nodeName,
		Model:        resp.ModelUsed,
		InputTokens:  resp.TokensPrompt,
		OutputTokens: resp.TokensCompletion,
		CostUSD:      resp.CostUSD,
		Duration:     resp.Duration,
		OK:           true,
		Timestamp:    time.Now().UTC(),
	}
	st.recordNode(nm)
	g.ledger.RecordNode(in.CourseID, in.Spec.Lesson.LessonID, nm)
}

// recordFailure books a failed LLM call and stores the classified error
func (g *Graph) recordFailure(in *Inputs, st *GraphState, nodeName string, err error, started time.Time) {
	nm := models.NodeMetrics{
		NodeName:   nodeName,
		Duration:   time.Since(started),
		OK:         false,
		ErrorClass: string(pipeline.KindOf(err)),
		Timestamp:  time.Now().UTC(),
	}
	st.recordNode(nm)
	st.mu.Lock()
	st.Errors = append(st.Errors, fmt.Sprintf("%s: %s", nodeName, pipeline.UserMessage(err)))
	st.mu.Unlock()
	g.ledger.RecordNode(in.CourseID, in.Spec.Lesson.LessonID, nm)
}

func (g *Graph) lessonModel(in *Inputs) string {
	if in.ModelOverride != "" {
		return in.ModelOverride
	}
	return g.config.LLM.Models.Lesson
}

func (g *Graph) judgeModel() string {
	if g.config.LLM.Models.Judge != "" {
		return g.config.LLM.Models.Judge
	}
	return g.config.LLM.Models.Lesson
}

func (g *Graph) lessonTimeout() time.Duration {
	return common.Duration(g.config.LLM.Timeouts.Lesson, 120*time.Second)
}

func (g *Graph) maxGenerationAttempts() int {
	if g.config.Pipeline.MaxGenerationAttempts > 0 {
		return g.config.Pipeline.MaxGenerationAttempts
	}
	return 3
}

// routingConfig converts the refinement settings into the router's view
func (g *Graph) routingConfig() models.RoutingConfig {
	r := g.config.Refinement
	return models.RoutingConfig{
		TokenBudget:     r.TokenBudget,
		MaxPatcherCalls: r.MaxConcurrentPatchers,
		PreferSurgical:  r.PreferSurgical,
		TokenCosts: models.TokenCosts{
			Patcher:         models.TokenCostRange{Min: r.TokenCosts.Patcher.Min, Max: r.TokenCosts.Patcher.Max},
			SectionExpander: models.TokenCostRange{Min: r.TokenCosts.SectionExpander.Min, Max: r.TokenCosts.SectionExpander.Max},
			FullRegenerate:  models.TokenCostRange{Min: r.TokenCosts.FullRegenerate.Min, Max: r.TokenCosts.FullRegenerate.Max},
		},
	}
}
