// Cost ledger. Collects per-call token and dollar accounting from the LLM
// gateway and the lesson graph, aggregated per lesson and per course. The
// ledger also enforces the per-lesson refinement token budget: executors ask
// before spending.

package metrics

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/models"
)

// Ledger aggregates generation cost accounting in memory. Lesson aggregates
// are flushed onto the lesson content rows by the lesson worker; the ledger
// itself is process-local.
type Ledger struct {
	mu      sync.Mutex
	logger  arbor.ILogger
	courses map[string]*models.CourseMetrics
	global  models.CourseMetrics
}

// NewLedger creates an empty cost ledger
func NewLedger(logger arbor.ILogger) *Ledger {
	return &Ledger{
		logger:  logger,
		courses: make(map[string]*models.CourseMetrics),
	}
}

// RecordCompletion implements the gateway's CostRecorder for calls that are
// not attributed to a specific lesson (summarization, analysis, structure)
func (l *Ledger) RecordCompletion(model string, tokensPrompt, tokensCompletion int, costUSD float64, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.global.TokensUsed += tokensPrompt + tokensCompletion
	l.global.CostUSD += costUSD
}

// RecordTokens attributes stage-level token spend to a course. Used by the
// document stages, which have no lesson to charge.
func (l *Ledger) RecordTokens(courseID, stage string, tokens int, costUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	course := l.course(courseID)
	course.TokensUsed += tokens
	course.CostUSD += costUSD
	if course.StageTokens == nil {
		course.StageTokens = make(map[string]int)
	}
	course.StageTokens[stage] += tokens
}

// RecordNode attributes one graph node execution to a course and lesson
func (l *Ledger) RecordNode(courseID, lessonID string, node models.NodeMetrics) {
	l.mu.Lock()
	defer l.mu.Unlock()

	course := l.course(courseID)
	course.TokensUsed += node.InputTokens + node.OutputTokens
	course.CostUSD += node.CostUSD

	lesson := course.Lessons[lessonID]
	if lesson == nil {
		lesson = &models.LessonMetrics{}
		course.Lessons[lessonID] = lesson
	}
	lesson.Add(node)
}

// RecordStage accumulates wall time for a pipeline stage of a course
func (l *Ledger) RecordStage(courseID, stage string, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	course := l.course(courseID)
	if course.StageDurations == nil {
		course.StageDurations = make(map[string]time.Duration)
	}
	course.StageDurations[stage] += duration
}

// AddRefinementTokens records refinement spend for a lesson and reports
// whether the lesson is still inside its token budget. A zero or negative
// budget disables enforcement.
func (l *Ledger) AddRefinementTokens(courseID, lessonID string, tokens, budget int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	course := l.course(courseID)
	lesson := course.Lessons[lessonID]
	if lesson == nil {
		lesson = &models.LessonMetrics{}
		course.Lessons[lessonID] = lesson
	}
	lesson.RefinementTokens += tokens
	if budget <= 0 {
		return true
	}
	if lesson.RefinementTokens > budget {
		l.logger.Warn().
			Str("lesson_id", lessonID).
			Int("spent", lesson.RefinementTokens).
			Int("budget", budget).
			Msg("Refinement token budget exhausted")
		return false
	}
	return true
}

// RefinementBudgetRemaining returns the unspent refinement tokens for a
// lesson under the given budget
func (l *Ledger) RefinementBudgetRemaining(courseID, lessonID string, budget int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if budget <= 0 {
		return int(^uint(0) >> 1)
	}
	course := l.course(courseID)
	lesson := course.Lessons[lessonID]
	if lesson == nil {
		return budget
	}
	remaining := budget - lesson.RefinementTokens
	if remaining < 0 {
		return 0
	}
	return remaining
}

// LessonMetrics returns a copy of the aggregate for one lesson
func (l *Ledger) LessonMetrics(courseID, lessonID string) *models.LessonMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()

	course := l.courses[courseID]
	if course == nil {
		return nil
	}
	lesson := course.Lessons[lessonID]
	if lesson == nil {
		return nil
	}
	copied := *lesson
	copied.Nodes = append([]models.NodeMetrics(nil), lesson.Nodes...)
	return &copied
}

// CourseMetrics returns a copy of the aggregate for one course
func (l *Ledger) CourseMetrics(courseID string) *models.CourseMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()

	course := l.courses[courseID]
	if course == nil {
		return &models.CourseMetrics{CourseID: courseID, Lessons: map[string]*models.LessonMetrics{}}
	}
	copied := models.CourseMetrics{
		CourseID:   course.CourseID,
		TokensUsed: course.TokensUsed,
		CostUSD:    course.CostUSD,
		Lessons:    make(map[string]*models.LessonMetrics, len(course.Lessons)),
	}
	if course.StageDurations != nil {
		copied.StageDurations = make(map[string]time.Duration, len(course.StageDurations))
		for k, v := range course.StageDurations {
			copied.StageDurations[k] = v
		}
	}
	if course.StageTokens != nil {
		copied.StageTokens = make(map[string]int, len(course.StageTokens))
		for k, v := range course.StageTokens {
			copied.StageTokens[k] = v
		}
	}
	for id, lesson := range course.Lessons {
		lc := *lesson
		lc.Nodes = append([]models.NodeMetrics(nil), lesson.Nodes...)
		copied.Lessons[id] = &lc
	}
	return &copied
}

// TotalCostUSD returns the all-courses dollar total including unattributed
// gateway calls
func (l *Ledger) TotalCostUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.global.CostUSD
	for _, course := range l.courses {
		total += course.CostUSD
	}
	return total
}

func (l *Ledger) course(courseID string) *models.CourseMetrics {
	course := l.courses[courseID]
	if course == nil {
		course = &models.CourseMetrics{
			CourseID: courseID,
			Lessons:  make(map[string]*models.LessonMetrics),
		}
		l.courses[courseID] = course
	}
	return course
}
