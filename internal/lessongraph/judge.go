// Judge node: an LLM scores the lesson against the closed criteria set and
// either accepts it or returns targeted issues. The judge never mutates
// content; fixes belong to the executors.

package lessongraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/ternarybob/doceo/internal/pipeline"
)

const judgeMaxTokens = 2048

var judgeCriteria = []models.Criterion{
	models.CriterionPedagogicalStructure,
	models.CriterionFactualAccuracy,
	models.CriterionClarityReadability,
	models.CriterionCompleteness,
	models.CriterionLearningObjectiveAlignment,
	models.CriterionEngagementExamples,
}

func (g *Graph) judge(ctx context.Context, in *Inputs, st *GraphState) event {
	spec := in.Spec.Lesson
	started := time.Now()

	resp, err := g.llm.CompleteWithEscalation(ctx, &interfaces.CompletionRequest{
		Model: g.judgeModel(),
		Messages: []interfaces.Message{
			{Role: "system", Content: judgeSystemPrompt()},
			{Role: "user", Content: judgeUserPrompt(spec, st.GeneratedContent)},
		},
		Temperature: 0.2,
		MaxTokens:   judgeMaxTokens,
		Format:      interfaces.ResponseFormatJSON,
		Timeout:     g.lessonTimeout(),
	})
	if err != nil {
		g.recordFailure(in, st, "judge", err, started)
		if pipeline.KindOf(err) == pipeline.KindBudgetExceeded {
			st.NeedsHumanReview = true
			return eventReviewRequired
		}
		return eventFailed
	}
	g.record(in, st, "judge", resp)

	var verdict JudgeVerdict
	if err := json.Unmarshal([]byte(resp.Text), &verdict); err != nil {
		st.Errors = append(st.Errors, fmt.Sprintf("judge verdict unparseable: %v", err))
		st.NeedsHumanReview = true
		return eventReviewRequired
	}

	st.JudgeVerdict = &verdict
	st.JudgeRecommendation = verdict.Recommendation
	st.QualityScore = verdict.Score
	st.PreviousScores = append(st.PreviousScores, verdict.Score)

	threshold := g.config.Refinement.JudgeAcceptScore
	accept := verdict.Verdict == "accept" ||
		(verdict.Score >= threshold && !hasSeverity(verdict.Issues, models.SeverityCritical))
	if accept && !hasSeverity(verdict.Issues, models.SeverityCritical) {
		return eventAccept
	}

	if st.RefinementIterationCount >= g.config.Refinement.MaxIterations {
		st.NeedsHumanReview = true
		st.Errors = append(st.Errors, "refinement iteration cap reached with open issues")
		return eventReviewRequired
	}

	tasks := g.buildTasks(spec, st, verdict.Issues)
	if len(tasks) == 0 {
		// every issue targets a locked or unknown section; nothing to refine
		st.NeedsHumanReview = true
		return eventReviewRequired
	}
	st.pendingTasks = tasks
	return eventRefine
}

// buildTasks groups targeted issues by section, preserving first-seen order,
// and attaches the neighbour anchors executors need for clean seams
func (g *Graph) buildTasks(spec *models.LessonSpec, st *GraphState, issues []models.TargetedIssue) []*models.SectionRefinementTask {
	doc := parseDocument(st.GeneratedContent)
	refs := specRefs(spec)

	docIndex := make(map[string]int, len(doc.Sections))
	for i, section := range doc.Sections {
		docIndex[matchSpecSection(doc, i, section.Title, refs)] = i
	}

	bySection := make(map[string]*models.SectionRefinementTask)
	var order []string
	for _, issue := range issues {
		target := issue.TargetSectionID
		if target == "" && len(spec.Sections) > 0 {
			target = spec.Sections[0].ID
		}
		if st.locked(target) {
			continue
		}
		task := bySection[target]
		if task == nil {
			task = &models.SectionRefinementTask{SectionID: target, Priority: issue.Severity}
			if i, ok := docIndex[target]; ok {
				if i > 0 {
					task.PrevSectionTail = tail(doc.Sections[i-1].Body, 200)
				}
				if i+1 < len(doc.Sections) {
					task.NextSectionHead = head(doc.Sections[i+1].Body, 200)
				}
			}
			bySection[target] = task
			order = append(order, target)
		}
		task.SourceIssues = append(task.SourceIssues, issue)
		if issue.Severity.Rank() > task.Priority.Rank() {
			task.Priority = issue.Severity
		}
	}

	tasks := make([]*models.SectionRefinementTask, 0, len(order))
	for _, id := range order {
		tasks = append(tasks, bySection[id])
	}
	return tasks
}

func hasSeverity(issues []models.TargetedIssue, severity models.Severity) bool {
	for _, issue := range issues {
		if issue.Severity == severity {
			return true
		}
	}
	return false
}

func judgeSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a strict reviewer of educational content. Score the lesson from 0.0 to 1.0 against these criteria: ")
	names := make([]string, len(judgeCriteria))
	for i, c := range judgeCriteria {
		names[i] = string(c)
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(".\nRespond with JSON only:\n")
	b.WriteString(`{"score": 0.0, "verdict": "accept" | "targeted_refine", "recommendation": "...", "issues": [{"id": "...", "criterion": "...", "severity": "critical|major|minor", "location": "...", "description": "...", "suggested_fix": "...", "target_section_id": "...", "context": {"scope": "section", "start_quote": "...", "end_quote": "..."}, "fix_instructions": "..."}]}`)
	b.WriteString("\nUse the section ids given in the task for target_section_id. Never rewrite content yourself.")
	return b.String()
}

func judgeUserPrompt(spec *models.LessonSpec, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lesson: %s\nLanguage: %s\n", spec.Title, languageName(spec.Language))
	b.WriteString("Learning objectives:\n")
	for _, o := range spec.Objectives {
		fmt.Fprintf(&b, "- %s\n", o.Statement)
	}
	b.WriteString("Section ids:\n")
	for _, s := range spec.Sections {
		fmt.Fprintf(&b, "- %s: %s\n", s.ID, s.Title)
	}
	b.WriteString("\nLesson content:\n\n")
	b.WriteString(content)
	return b.String()
}
