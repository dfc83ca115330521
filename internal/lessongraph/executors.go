// Refine node: routes every pending task, batches them for parallel safety
// and runs the executors. Three executors exist: the patcher applies surgical
// diffs, the section-expander regenerates one section with retrieval
// grounding, and the planner regenerates the whole lesson from the spec plus
// a memo of what went wrong.

package lessongraph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

const (
	patcherMaxTokens  = 2048
	expanderMaxTokens = 4096
	plannerMaxTokens  = 8192
)

func (g *Graph) refine(ctx context.Context, in *Inputs, st *GraphState) event {
	tasks := st.pendingTasks
	st.pendingTasks = nil
	routing := g.routingConfig()

	decisions := make(map[string]*models.RouterDecision, len(tasks))
	for _, task := range tasks {
		decision := RouteTask(task, routing)
		decisions[task.SectionID] = decision
		g.logger.Debug().
			Str("section_id", task.SectionID).
			Str("action", string(decision.Action)).
			Str("executor", string(decision.Executor)).
			Int("estimated_tokens", decision.EstimatedTokens).
			Msg("Refinement task routed")
	}

	// A full regenerate supersedes every section-level task this iteration
	for _, decision := range decisions {
		if decision.Action == models.FixActionFullRegenerate {
			return g.runPlanner(ctx, in, st, decision)
		}
	}

	refinement := g.config.Refinement
	batches := BuildBatches(tasks, refinement.MaxConcurrentPatchers, refinement.AdjacentSectionGap)

	for _, batch := range batches {
		results := g.executeBatch(ctx, in, st, batch, decisions)
		for _, r := range results {
			if r.err != nil {
				st.Errors = append(st.Errors, fmt.Sprintf("refine %s: %v", r.sectionID, r.err))
				continue
			}
			if !g.spendRefinementTokens(in, st, r.tokens) {
				st.NeedsHumanReview = true
				st.Errors = append(st.Errors, "refinement token budget exhausted")
				st.RefinementIterationCount++
				return eventReviewRequired
			}
			if err := g.applySectionResult(in, st, r.sectionID, r.body); err != nil {
				st.Errors = append(st.Errors, err.Error())
			}
		}
	}

	st.RefinementIterationCount++
	return eventOK
}

type sectionResult struct {
	sectionID string
	body      string
	tokens    int
	err       error
}

// executeBatch runs one adjacency-safe batch. Tasks inside a batch run in
// parallel; bodies are merged by the caller after the batch completes so the
// document is never written concurrently.
func (g *Graph) executeBatch(ctx context.Context, in *Inputs, st *GraphState, batch []*models.SectionRefinementTask, decisions map[string]*models.RouterDecision) []sectionResult {
	results := make([]sectionResult, len(batch))
	var wg sync.WaitGroup
	for i, task := range batch {
		decision := decisions[task.SectionID]
		wg.Add(1)
		go func(i int, task *models.SectionRefinementTask) {
			defer wg.Done()
			body, tokens, err := g.executeTask(ctx, in, st, task, decision)
			results[i] = sectionResult{sectionID: task.SectionID, body: body, tokens: tokens, err: err}
		}(i, task)
	}
	wg.Wait()
	return results
}

func (g *Graph) executeTask(ctx context.Context, in *Inputs, st *GraphState, task *models.SectionRefinementTask, decision *models.RouterDecision) (string, int, error) {
	switch decision.Executor {
	case models.ExecutorPatcher:
		return g.runPatcher(ctx, in, st, task)
	case models.ExecutorSectionExpander:
		return g.runSectionExpander(ctx, in, st, task)
	default:
		return "", 0, fmt.Errorf("no section-level handling for executor %s", decision.Executor)
	}
}

// runPatcher applies surgical diffs to one section
func (g *Graph) runPatcher(ctx context.Context, in *Inputs, st *GraphState, task *models.SectionRefinementTask) (string, int, error) {
	section, _, err := g.currentSection(in, st, task.SectionID)
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Apply minimal surgical edits to this lesson section. Keep everything not mentioned in the issues verbatim. Answer in %s with the corrected section body only, no heading.\n\n", languageName(in.Spec.Lesson.Language))
	for _, issue := range task.SourceIssues {
		fmt.Fprintf(&b, "Issue (%s, %s): %s\n", issue.Criterion, issue.Severity, issue.Description)
		if issue.Context.StartQuote != "" {
			fmt.Fprintf(&b, "  Between: %q and %q\n", issue.Context.StartQuote, issue.Context.EndQuote)
		}
		if issue.SuggestedFix != "" {
			fmt.Fprintf(&b, "  Suggested fix: %s\n", issue.SuggestedFix)
		}
		if issue.FixInstructions != "" {
			fmt.Fprintf(&b, "  Instructions: %s\n", issue.FixInstructions)
		}
	}
	fmt.Fprintf(&b, "\nSection body:\n%s\n", section.Body)

	started := time.Now()
	resp, err := g.llm.CompleteWithEscalation(ctx, &interfaces.CompletionRequest{
		Model:       g.lessonModel(in),
		Messages:    []interfaces.Message{{Role: "user", Content: b.String()}},
		Temperature: 0.3,
		MaxTokens:   patcherMaxTokens,
		Format:      interfaces.ResponseFormatMarkdown,
		Timeout:     g.lessonTimeout(),
	})
	if err != nil {
		g.recordFailure(in, st, "patcher", err, started)
		return "", 0, err
	}
	g.record(in, st, "patcher", resp)
	return stripLeadingHeading(resp.Text), resp.TokensPrompt + resp.TokensCompletion, nil
}

// runSectionExpander regenerates one section grounded on its RAG chunks
func (g *Graph) runSectionExpander(ctx context.Context, in *Inputs, st *GraphState, task *models.SectionRefinementTask) (string, int, error) {
	spec := in.Spec.Lesson
	section, _, err := g.currentSection(in, st, task.SectionID)
	if err != nil {
		return "", 0, err
	}
	breakdown := specSection(spec, task.SectionID)

	var b strings.Builder
	fmt.Fprintf(&b, "Regenerate this lesson section from scratch in %s. Return the section body only, no heading.\n\n", languageName(spec.Language))
	if breakdown != nil {
		writeSectionBrief(&b, breakdown)
		b.WriteString("\n")
	}
	for _, chunk := range in.Spec.Contexts[task.SectionID] {
		fmt.Fprintf(&b, "Source material:\n> %s\n", excerpt(chunk.Content, chunkExcerptRunes))
	}
	b.WriteString("\nProblems with the current version:\n")
	for _, issue := range task.SourceIssues {
		fmt.Fprintf(&b, "- (%s, %s) %s\n", issue.Criterion, issue.Severity, issue.Description)
	}
	if task.PrevSectionTail != "" {
		fmt.Fprintf(&b, "\nPreceding section ends with:\n%s\n", task.PrevSectionTail)
	}
	if task.NextSectionHead != "" {
		fmt.Fprintf(&b, "\nFollowing section starts with:\n%s\n", task.NextSectionHead)
	}
	fmt.Fprintf(&b, "\nCurrent section body:\n%s\n", section.Body)

	started := time.Now()
	resp, err := g.llm.CompleteWithEscalation(ctx, &interfaces.CompletionRequest{
		Model:       g.lessonModel(in),
		Messages:    []interfaces.Message{{Role: "system", Content: lessonSystemPrompt(spec)}, {Role: "user", Content: b.String()}},
		Temperature: 0.5,
		MaxTokens:   expanderMaxTokens,
		Format:      interfaces.ResponseFormatMarkdown,
		Timeout:     g.lessonTimeout(),
	})
	if err != nil {
		g.recordFailure(in, st, "section_expander", err, started)
		return "", 0, err
	}
	g.record(in, st, "section_expander", resp)
	return stripLeadingHeading(resp.Text), resp.TokensPrompt + resp.TokensCompletion, nil
}

// runPlanner regenerates the whole lesson from the spec plus a memo of what
// went wrong, then sends the graph back to self-review
func (g *Graph) runPlanner(ctx context.Context, in *Inputs, st *GraphState, decision *models.RouterDecision) event {
	spec := in.Spec.Lesson

	var memo strings.Builder
	memo.WriteString("The previous draft failed review:\n")
	for _, issue := range decision.Task.SourceIssues {
		fmt.Fprintf(&memo, "- (%s, %s) %s\n", issue.Criterion, issue.Severity, issue.Description)
	}
	if st.JudgeRecommendation != "" {
		fmt.Fprintf(&memo, "Reviewer recommendation: %s\n", st.JudgeRecommendation)
	}

	started := time.Now()
	resp, err := g.llm.CompleteWithEscalation(ctx, &interfaces.CompletionRequest{
		Model: g.lessonModel(in),
		Messages: []interfaces.Message{
			{Role: "system", Content: lessonSystemPrompt(spec)},
			{Role: "user", Content: lessonUserPrompt(spec, in.Spec.Contexts) + "\n" + memo.String()},
		},
		Temperature: st.Temperature,
		MaxTokens:   plannerMaxTokens,
		Format:      interfaces.ResponseFormatMarkdown,
		Timeout:     g.lessonTimeout(),
	})
	if err != nil {
		g.recordFailure(in, st, "planner", err, started)
		return eventFailed
	}
	g.record(in, st, "planner", resp)

	if !g.spendRefinementTokens(in, st, resp.TokensPrompt+resp.TokensCompletion) {
		st.NeedsHumanReview = true
		st.Errors = append(st.Errors, "refinement token budget exhausted")
		st.RefinementIterationCount++
		return eventReviewRequired
	}

	st.GeneratedContent = strings.TrimSpace(resp.Text)
	st.RefinementIterationCount++
	for _, section := range spec.Sections {
		st.SectionProgress[section.ID] = "planner"
	}
	return eventOK
}

// currentSection resolves a spec section id against the live document
func (g *Graph) currentSection(in *Inputs, st *GraphState, specID string) (*markdownSection, string, error) {
	doc := parseDocument(st.GeneratedContent)
	refs := specRefs(in.Spec.Lesson)
	for i := range doc.Sections {
		if matchSpecSection(doc, i, doc.Sections[i].Title, refs) == specID {
			return &doc.Sections[i], doc.Sections[i].ID, nil
		}
	}
	return nil, "", fmt.Errorf("section %s not present in generated content", specID)
}

// applySectionResult merges an executor's output back into the document
func (g *Graph) applySectionResult(in *Inputs, st *GraphState, specID, body string) error {
	_, slug, err := g.currentSection(in, st, specID)
	if err != nil {
		return err
	}
	merged, err := mergeSectionIntoMarkdown(st.GeneratedContent, slug, body)
	if err != nil {
		return err
	}
	st.GeneratedContent = merged
	st.SectionProgress[specID] = "refine"
	st.SectionEditCount[specID]++
	return nil
}

// spendRefinementTokens books refinement spend against the per-lesson budget
func (g *Graph) spendRefinementTokens(in *Inputs, st *GraphState, tokens int) bool {
	st.TargetedRefinementTokens += tokens
	return g.ledger.AddRefinementTokens(in.CourseID, in.Spec.Lesson.LessonID, tokens, g.config.Refinement.TokenBudget)
}
