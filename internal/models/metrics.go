package models

import "time"

// NodeMetrics records one LLM call or graph node execution for the cost ledger
type NodeMetrics struct {
	NodeName     string        `json:"node_name"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	CostUSD      float64       `json:"cost_usd"`
	Duration     time.Duration `json:"duration_ms"`
	OK           bool          `json:"ok"`
	ErrorClass   string        `json:"error_class,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// LessonMetrics aggregates generation metrics for one lesson
type LessonMetrics struct {
	TokensUsed           int           `json:"tokens_used"`
	CostUSD              float64       `json:"cost_usd"`
	Duration             time.Duration `json:"duration_ms"`
	ModelUsed            string        `json:"model_used"`
	RegenerationAttempts int           `json:"regeneration_attempts"`
	QualityScore         float64       `json:"quality_score"`
	RefinementIterations int           `json:"refinement_iterations"`
	RefinementTokens     int           `json:"refinement_tokens"`
	Nodes                []NodeMetrics `json:"nodes,omitempty"`
}

// Add folds a node record into the lesson aggregate
func (m *LessonMetrics) Add(node NodeMetrics) {
	m.TokensUsed += node.InputTokens + node.OutputTokens
	m.CostUSD += node.CostUSD
	m.Duration += node.Duration
	if node.Model != "" {
		m.ModelUsed = node.Model
	}
	m.Nodes = append(m.Nodes, node)
}

// CourseMetrics aggregates metrics across all lessons of a course
type CourseMetrics struct {
	CourseID       string                    `json:"course_id"`
	TokensUsed     int                       `json:"tokens_used"`
	CostUSD        float64                   `json:"cost_usd"`
	StageDurations map[string]time.Duration  `json:"stage_durations,omitempty"`
	StageTokens    map[string]int            `json:"stage_tokens,omitempty"`
	Lessons        map[string]*LessonMetrics `json:"lessons,omitempty"`
}
