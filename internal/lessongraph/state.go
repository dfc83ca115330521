// Graph state and transition table for the lesson content graph. The graph is
// a single-threaded cooperative state machine: nodes run sequentially and
// return an event, the table maps (node, event) to the next node, and the
// driver loop in graph.go evaluates it until a terminal node is reached.

package lessongraph

import (
	"sync"
	"time"

	"github.com/ternarybob/doceo/internal/models"
)

type node string

const (
	nodeGenerate           node = "generate"
	nodeSelfReview         node = "self_review"
	nodeRegenerateSections node = "regenerate_sections"
	nodeJudge              node = "judge"
	nodeRefine             node = "refine" // route + batch + execute
	nodeFinalize           node = "finalize"
	nodeReviewRequired     node = "review_required"
	nodeFailed             node = "failed"
	nodeDone               node = "done"
)

type event string

const (
	eventOK             event = "ok"
	eventPass           event = "pass"            // self-review PASS / PASS_WITH_FLAGS
	eventFixed          event = "fixed"           // hygiene autofix applied, review again
	eventSectionRegen   event = "section_regen"   // localized regeneration requested
	eventFullRegen      event = "full_regen"      // full regeneration requested
	eventAccept         event = "accept"          // judge accepts
	eventRefine         event = "refine"          // judge returned targeted issues
	eventReviewRequired event = "review_required" // caps hit or unresolved majors
	eventFailed         event = "failed"          // unrecoverable error
)

// transitions is the (node, event) -> next node table. Handlers never pick
// their successor directly; the driver consults this table so the whole
// control flow is visible in one place.
var transitions = map[node]map[event]node{
	nodeGenerate: {
		eventOK:             nodeSelfReview,
		eventReviewRequired: nodeReviewRequired,
		eventFailed:         nodeFailed,
	},
	nodeSelfReview: {
		eventPass:           nodeJudge,
		eventFixed:          nodeSelfReview,
		eventSectionRegen:   nodeRegenerateSections,
		eventFullRegen:      nodeGenerate,
		eventReviewRequired: nodeReviewRequired,
		eventFailed:         nodeFailed,
	},
	nodeRegenerateSections: {
		eventOK:     nodeSelfReview,
		eventFailed: nodeFailed,
	},
	nodeJudge: {
		eventAccept:         nodeFinalize,
		eventRefine:         nodeRefine,
		eventReviewRequired: nodeReviewRequired,
		eventFailed:         nodeFailed,
	},
	nodeRefine: {
		eventOK:             nodeSelfReview,
		eventReviewRequired: nodeReviewRequired,
		eventFailed:         nodeFailed,
	},
	nodeFinalize: {
		eventOK:     nodeDone,
		eventFailed: nodeFailed,
	},
}

// RefinementMode selects who resolves flagged content
type RefinementMode string

const (
	RefinementFullAuto    RefinementMode = "full-auto"
	RefinementHumanInLoop RefinementMode = "human-in-loop"
)

// JudgeVerdict is the structured outcome of the judge node
type JudgeVerdict struct {
	Score          float64                `json:"score"`
	Verdict        string                 `json:"verdict"` // "accept" or "targeted_refine"
	Issues         []models.TargetedIssue `json:"issues,omitempty"`
	Recommendation string                 `json:"recommendation,omitempty"`
}

// GraphState is the mutable per-lesson state carried through the graph
type GraphState struct {
	GeneratedContent         string
	SectionProgress          map[string]string // section id -> last node that touched it
	SelfReviewResult         *SelfReviewResult
	SectionRegenerationCount int
	LessonContent            *models.LessonContent
	Errors                   []string
	RetryCount               int // full regenerations consumed
	ModelUsed                string
	TokensUsed               int
	Duration                 time.Duration
	TotalCostUSD             float64
	NodeCosts                []models.NodeMetrics
	Temperature              float32
	QualityScore             float64
	JudgeVerdict             *JudgeVerdict
	JudgeRecommendation      string
	NeedsRegeneration        bool
	NeedsHumanReview         bool
	PreviousScores           []float64
	RefinementIterationCount int
	TargetedRefinementMode   RefinementMode
	LockedSections           []string       // never refined
	SectionEditCount         map[string]int // section id -> executor touches
	TargetedRefinementTokens int

	fixedOnce    bool // the FIXED loop may run at most once per lesson
	pendingTasks []*models.SectionRefinementTask
	mu           sync.Mutex // guards NodeCosts, Errors and totals during batch execution
}

func newGraphState(temperature float32) *GraphState {
	return &GraphState{
		SectionProgress:        make(map[string]string),
		SectionEditCount:       make(map[string]int),
		Temperature:            temperature,
		TargetedRefinementMode: RefinementFullAuto,
	}
}

// locked reports whether a section is exempt from refinement
func (s *GraphState) locked(sectionID string) bool {
	for _, id := range s.LockedSections {
		if id == sectionID {
			return true
		}
	}
	return false
}

// recordNode folds one node execution into the running totals
func (s *GraphState) recordNode(m models.NodeMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NodeCosts = append(s.NodeCosts, m)
	s.TokensUsed += m.InputTokens + m.OutputTokens
	s.TotalCostUSD += m.CostUSD
	s.Duration += m.Duration
	if m.Model != "" {
		s.ModelUsed = m.Model
	}
}
