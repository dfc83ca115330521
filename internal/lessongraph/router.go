// Router: deterministic mapping from a section refinement task to a fix
// action and executor. Rules are evaluated in order, first match wins, so the
// same (task, config) pair always yields the same decision.

package lessongraph

import (
	"github.com/ternarybob/doceo/internal/models"
)

// RouteTask picks the executor for one refinement task.
//
// Rule order:
//  1. critical structural issue        -> FULL_REGENERATE via planner
//  2. any factual_accuracy issue       -> REGENERATE_SECTION via section-expander
//  3. three or more issues             -> REGENERATE_SECTION via section-expander
//  4. minor priority or clarity-only   -> SURGICAL_EDIT via patcher
//  5. default per prefer_surgical
func RouteTask(task *models.SectionRefinementTask, cfg models.RoutingConfig) *models.RouterDecision {
	decision := &models.RouterDecision{Task: task}

	if hasCriticalStructural(task.SourceIssues) {
		decision.Action = models.FixActionFullRegenerate
		decision.Executor = models.ExecutorPlanner
		decision.EstimatedTokens = cfg.TokenCosts.FullRegenerate.Max
		decision.Reason = "critical structural issue requires a replan"
		return decision
	}

	if hasCriterion(task.SourceIssues, models.CriterionFactualAccuracy) {
		decision.Action = models.FixActionRegenerateSection
		decision.Executor = models.ExecutorSectionExpander
		decision.EstimatedTokens = cfg.TokenCosts.SectionExpander.Max
		decision.Reason = "factual error needs grounded re-synthesis"
		return decision
	}

	if len(task.SourceIssues) >= 3 {
		decision.Action = models.FixActionRegenerateSection
		decision.Executor = models.ExecutorSectionExpander
		decision.EstimatedTokens = cfg.TokenCosts.SectionExpander.Max
		decision.Reason = "too many issues for surgical patching"
		return decision
	}

	if task.Priority == models.SeverityMinor || onlyStylistic(task.SourceIssues) {
		decision.Action = models.FixActionSurgicalEdit
		decision.Executor = models.ExecutorPatcher
		decision.EstimatedTokens = cfg.TokenCosts.Patcher.Max
		decision.Reason = "stylistic touches are cheapest as patches"
		return decision
	}

	if cfg.PreferSurgical {
		decision.Action = models.FixActionSurgicalEdit
		decision.Executor = models.ExecutorPatcher
		decision.EstimatedTokens = cfg.TokenCosts.Patcher.Max
		decision.Reason = "default with prefer_surgical"
	} else {
		decision.Action = models.FixActionRegenerateSection
		decision.Executor = models.ExecutorSectionExpander
		decision.EstimatedTokens = cfg.TokenCosts.SectionExpander.Max
		decision.Reason = "default without prefer_surgical"
	}
	return decision
}

func hasCriticalStructural(issues []models.TargetedIssue) bool {
	for _, issue := range issues {
		if issue.Severity != models.SeverityCritical {
			continue
		}
		if issue.Criterion == models.CriterionPedagogicalStructure ||
			issue.Criterion == models.CriterionLearningObjectiveAlignment {
			return true
		}
	}
	return false
}

func hasCriterion(issues []models.TargetedIssue, criterion models.Criterion) bool {
	for _, issue := range issues {
		if issue.Criterion == criterion {
			return true
		}
	}
	return false
}

func onlyStylistic(issues []models.TargetedIssue) bool {
	if len(issues) == 0 {
		return false
	}
	for _, issue := range issues {
		if issue.Criterion != models.CriterionClarityReadability &&
			issue.Criterion != models.CriterionEngagementExamples {
			return false
		}
	}
	return true
}
