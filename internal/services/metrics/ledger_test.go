package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/models"
)

func TestLedgerAggregation(t *testing.T) {
	l := NewLedger(arbor.NewLogger())

	l.RecordNode("c1", "l1", models.NodeMetrics{
		NodeName:     "generate",
		Model:        "claude-sonnet-4-20250514",
		InputTokens:  1000,
		OutputTokens: 500,
		CostUSD:      0.01,
		Duration:     2 * time.Second,
		OK:           true,
	})
	l.RecordNode("c1", "l1", models.NodeMetrics{
		NodeName:     "judge",
		Model:        "gemini-3-flash-preview",
		InputTokens:  400,
		OutputTokens: 100,
		CostUSD:      0.001,
		OK:           true,
	})
	l.RecordNode("c1", "l2", models.NodeMetrics{
		NodeName:     "generate",
		InputTokens:  800,
		OutputTokens: 300,
		CostUSD:      0.005,
		OK:           true,
	})

	lesson := l.LessonMetrics("c1", "l1")
	require.NotNil(t, lesson, "Expected lesson metrics")
	assert.Equal(t, 2000, lesson.TokensUsed)
	assert.Len(t, lesson.Nodes, 2)

	course := l.CourseMetrics("c1")
	assert.Equal(t, 3100, course.TokensUsed)
	assert.Len(t, course.Lessons, 2)
}

func TestRefinementBudget(t *testing.T) {
	l := NewLedger(arbor.NewLogger())

	assert.True(t, l.AddRefinementTokens("c1", "l1", 500, 1000), "Under budget must be allowed")
	assert.Equal(t, 500, l.RefinementBudgetRemaining("c1", "l1", 1000))
	assert.False(t, l.AddRefinementTokens("c1", "l1", 600, 1000), "Over budget must be refused")
	assert.Equal(t, 0, l.RefinementBudgetRemaining("c1", "l1", 1000))

	// Zero budget disables enforcement
	assert.True(t, l.AddRefinementTokens("c1", "l2", 1_000_000, 0))
}

func TestLedgerCopiesAreIsolated(t *testing.T) {
	l := NewLedger(arbor.NewLogger())
	l.RecordNode("c1", "l1", models.NodeMetrics{InputTokens: 10, OutputTokens: 5})

	copied := l.LessonMetrics("c1", "l1")
	copied.TokensUsed = 99999
	copied.Nodes[0].InputTokens = 99999

	fresh := l.LessonMetrics("c1", "l1")
	assert.Equal(t, 15, fresh.TokensUsed, "Returned metrics must be copies, not live references")
	assert.Equal(t, 10, fresh.Nodes[0].InputTokens)
}

func TestTotalCost(t *testing.T) {
	l := NewLedger(arbor.NewLogger())
	l.RecordCompletion("gemini-3-flash-preview", 100, 50, 0.002, time.Second)
	l.RecordNode("c1", "l1", models.NodeMetrics{CostUSD: 0.01})

	assert.InDelta(t, 0.012, l.TotalCostUSD(), 0.0001)
}
