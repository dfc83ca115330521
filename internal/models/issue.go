// Targeted refinement types - issues, tasks and routing decisions produced by
// the lesson judge and consumed by the router/batcher

package models

// Criterion is the closed set of judge scoring criteria
type Criterion string

const (
	CriterionPedagogicalStructure       Criterion = "pedagogical_structure"
	CriterionFactualAccuracy            Criterion = "factual_accuracy"
	CriterionClarityReadability         Criterion = "clarity_readability"
	CriterionCompleteness               Criterion = "completeness"
	CriterionLearningObjectiveAlignment Criterion = "learning_objective_alignment"
	CriterionEngagementExamples         Criterion = "engagement_examples"
)

// Severity classifies how serious a targeted issue is
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// severityRank orders severities for priority comparison (critical > major > minor)
var severityRank = map[Severity]int{
	SeverityCritical: 3,
	SeverityMajor:    2,
	SeverityMinor:    1,
}

// Rank returns the numeric priority of the severity (higher is more urgent)
func (s Severity) Rank() int {
	return severityRank[s]
}

// FixAction is the repair strategy attached to an issue or chosen by the router
type FixAction string

const (
	FixActionSurgicalEdit      FixAction = "SURGICAL_EDIT"
	FixActionRegenerateSection FixAction = "REGENERATE_SECTION"
	FixActionFullRegenerate    FixAction = "FULL_REGENERATE"
)

// Executor names the component that applies a fix action
type Executor string

const (
	ExecutorPatcher         Executor = "patcher"
	ExecutorSectionExpander Executor = "section-expander"
	ExecutorPlanner         Executor = "planner"
)

// ContextWindow bounds the text range an issue refers to
type ContextWindow struct {
	Scope      string `json:"scope"` // "section", "paragraph", "lesson"
	StartQuote string `json:"start_quote,omitempty"`
	EndQuote   string `json:"end_quote,omitempty"`
}

// TargetedIssue is a single located, classified deficiency in rendered content
type TargetedIssue struct {
	ID              string        `json:"id"`
	Criterion       Criterion     `json:"criterion"`
	Severity        Severity      `json:"severity"`
	Location        string        `json:"location"`
	Description     string        `json:"description"`
	SuggestedFix    string        `json:"suggested_fix,omitempty"`
	TargetSectionID string        `json:"target_section_id"`
	FixAction       FixAction     `json:"fix_action,omitempty"`
	Context         ContextWindow `json:"context,omitempty"`
	FixInstructions string        `json:"fix_instructions,omitempty"`
}

// SectionRefinementTask targets one section and groups its source issues.
// Priority is the highest severity among the source issues.
type SectionRefinementTask struct {
	SectionID       string          `json:"section_id"`
	SourceIssues    []TargetedIssue `json:"source_issues"`
	Priority        Severity        `json:"priority"`
	PrevSectionTail string          `json:"prev_section_tail,omitempty"` // context anchor
	NextSectionHead string          `json:"next_section_head,omitempty"` // context anchor
}

// RouterDecision is the deterministic routing outcome for one refinement task
type RouterDecision struct {
	Task            *SectionRefinementTask `json:"task"`
	Action          FixAction              `json:"action"`
	Executor        Executor               `json:"executor"`
	EstimatedTokens int                    `json:"estimated_tokens"`
	Reason          string                 `json:"reason"`
}

// TokenCostRange bounds the estimated token spend of an executor
type TokenCostRange struct {
	Min int `json:"min" toml:"min"`
	Max int `json:"max" toml:"max"`
}

// TokenCosts holds the per-executor cost ranges used for routing estimates
type TokenCosts struct {
	Patcher         TokenCostRange `json:"patcher" toml:"patcher"`
	SectionExpander TokenCostRange `json:"section_expander" toml:"section_expander"`
	FullRegenerate  TokenCostRange `json:"full_regenerate" toml:"full_regenerate"`
}

// RoutingConfig parameterizes router decisions
type RoutingConfig struct {
	TokenBudget     int        `json:"token_budget"`
	MaxPatcherCalls int        `json:"max_patcher_calls"`
	PreferSurgical  bool       `json:"prefer_surgical"`
	TokenCosts      TokenCosts `json:"token_costs"`
}
