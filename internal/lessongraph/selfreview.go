// Self-review node: cheap deterministic heuristics that run before any LLM
// judge call. Language drift, truncation, markdown structure and chatbot
// hygiene are all detectable without spending tokens, and catching them here
// keeps the judge for genuine quality questions.

package lessongraph

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/models"
)

// ReviewStatus is the outcome of a self-review pass
type ReviewStatus string

const (
	ReviewPass          ReviewStatus = "PASS"
	ReviewPassWithFlags ReviewStatus = "PASS_WITH_FLAGS"
	ReviewFixed         ReviewStatus = "FIXED"
	ReviewRegenerate    ReviewStatus = "REGENERATE"
)

// IssueType classifies a self-review finding
type IssueType string

const (
	IssueLanguage   IssueType = "LANGUAGE"
	IssueTruncation IssueType = "TRUNCATION"
	IssueHygiene    IssueType = "HYGIENE"
	IssueStructure  IssueType = "STRUCTURE"
	IssueFacts      IssueType = "FACTS"
)

// ReviewIssue is one finding from the heuristic checks
type ReviewIssue struct {
	Type        IssueType       `json:"type"`
	Severity    models.Severity `json:"severity"`
	Location    string          `json:"location"`
	Description string          `json:"description"`
}

// SelfReviewResult is the structured outcome of the self-review node
type SelfReviewResult struct {
	Status               ReviewStatus      `json:"status"`
	Issues               []ReviewIssue     `json:"issues,omitempty"`
	SectionsToRegenerate []string          `json:"sections_to_regenerate,omitempty"`
	HeuristicsPassed     bool              `json:"heuristics_passed"`
	PatchedContent       string            `json:"patched_content,omitempty"`
	TokensUsed           int               `json:"tokens_used"`
	Duration             time.Duration     `json:"duration_ms"`
	HeuristicDetails     map[string]string `json:"heuristic_details,omitempty"`
}

// language-check thresholds
const (
	cjkCriticalCount   = 10   // absolute foreign-script count that fails the lesson
	sectionCJKMinimum  = 3    // below this a section is considered clean
	sectionForeignFrac = 0.02 // per-section foreign ratio that triggers local regen
)

// Reviewer runs the deterministic self-review heuristics
type Reviewer struct {
	logger arbor.ILogger
}

// NewReviewer creates the heuristic self-reviewer
func NewReviewer(logger arbor.ILogger) *Reviewer {
	return &Reviewer{logger: logger}
}

// Review runs all heuristics against the lesson markdown. Full-regeneration
// triggers win over localized regeneration, which wins over the hygiene
// autofix.
func (r *Reviewer) Review(content string, spec *models.LessonSpec) *SelfReviewResult {
	started := time.Now()
	result := &SelfReviewResult{
		HeuristicDetails: make(map[string]string),
	}
	doc := parseDocument(content)
	refs := specRefs(spec)

	regenerate := false

	// Language drift
	langIssues, flaggedSections, langCritical := r.languageCheck(doc, refs, spec.Language)
	result.Issues = append(result.Issues, langIssues...)
	if langCritical && len(flaggedSections) == 0 {
		regenerate = true
	}

	// Truncation
	if issue := truncationCheck(content, doc); issue != nil {
		result.Issues = append(result.Issues, *issue)
		regenerate = true
	}

	// Markdown structure
	structIssues := structureCheck(content)
	result.Issues = append(result.Issues, structIssues...)
	for _, issue := range structIssues {
		if issue.Severity == models.SeverityCritical {
			regenerate = true
		}
	}

	// Chatbot hygiene; autofixable
	patched, hygieneFindings := hygieneFix(content)
	result.Issues = append(result.Issues, hygieneFindings...)

	result.HeuristicDetails["cjk_total"] = strconv.Itoa(countCJK(content))
	result.HeuristicDetails["sections"] = strconv.Itoa(len(doc.Sections))
	result.HeuristicDetails["hygiene_patched"] = strconv.FormatBool(patched != content)

	switch {
	case regenerate:
		result.Status = ReviewRegenerate
	case len(flaggedSections) > 0:
		result.Status = ReviewRegenerate
		result.SectionsToRegenerate = flaggedSections
	case patched != content:
		result.Status = ReviewFixed
		result.PatchedContent = patched
	case hasMajor(result.Issues):
		result.Status = ReviewPassWithFlags
		result.HeuristicsPassed = true
	default:
		result.Status = ReviewPass
		result.HeuristicsPassed = len(result.Issues) == 0
	}

	result.Duration = time.Since(started)
	r.logger.Debug().
		Str("status", string(result.Status)).
		Int("issues", len(result.Issues)).
		Int("sections_flagged", len(result.SectionsToRegenerate)).
		Int64("duration_us", result.Duration.Microseconds()).
		Msg("Self-review heuristics evaluated")
	return result
}

func hasMajor(issues []ReviewIssue) bool {
	for _, issue := range issues {
		if issue.Severity == models.SeverityMajor {
			return true
		}
	}
	return false
}

func specRefs(spec *models.LessonSpec) []specSectionRef {
	refs := make([]specSectionRef, len(spec.Sections))
	for i, s := range spec.Sections {
		refs[i] = specSectionRef{ID: s.ID, Title: s.Title}
	}
	return refs
}

// languageCheck counts foreign-script characters against the target language.
// Foreign text concentrated in a few sections yields localized regeneration;
// foreign text above the absolute threshold with no localization fails the
// whole lesson.
func (r *Reviewer) languageCheck(doc *lessonDocument, refs []specSectionRef, language string) (issues []ReviewIssue, flagged []string, critical bool) {
	if isCJKLanguage(language) {
		return nil, nil, false
	}

	total := countCJK(doc.Intro)
	for i, section := range doc.Sections {
		cjk := countCJK(section.Body) + countCJK(section.Title)
		total += cjk
		if cjk < sectionCJKMinimum {
			continue
		}
		runes := len([]rune(section.Body))
		if runes == 0 {
			runes = 1
		}
		if cjk >= cjkCriticalCount || float64(cjk)/float64(runes) > sectionForeignFrac {
			id := matchSpecSection(doc, i, section.Title, refs)
			flagged = append(flagged, id)
			issues = append(issues, ReviewIssue{
				Type:        IssueLanguage,
				Severity:    models.SeverityMajor,
				Location:    section.Title,
				Description: fmt.Sprintf("%d foreign-script characters in a %s lesson", cjk, language),
			})
		}
	}

	if total >= cjkCriticalCount {
		critical = true
		issues = append(issues, ReviewIssue{
			Type:        IssueLanguage,
			Severity:    models.SeverityCritical,
			Location:    "lesson",
			Description: fmt.Sprintf("%d foreign-script characters total, target language is %s", total, language),
		})
	}
	return issues, flagged, critical
}

var cjkLanguages = map[string]bool{
	"zh": true, "ja": true, "ko": true,
	"chinese": true, "japanese": true, "korean": true,
}

func isCJKLanguage(language string) bool {
	lang := strings.ToLower(language)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return cjkLanguages[lang]
}

func countCJK(s string) int {
	n := 0
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			n++
		}
	}
	return n
}

var sentenceTerminators = ".!?:;)]}\"'`”»。"

// truncationCheck detects output cut off mid-stream: trailing ellipsis, an
// unclosed code fence, a final heading with no body, or a last line that does
// not end in a terminator.
func truncationCheck(content string, doc *lessonDocument) *ReviewIssue {
	trimmed := strings.TrimRight(content, " \t\n")
	if trimmed == "" {
		return &ReviewIssue{
			Type: IssueTruncation, Severity: models.SeverityCritical,
			Location: "lesson", Description: "empty content",
		}
	}

	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		return &ReviewIssue{
			Type: IssueTruncation, Severity: models.SeverityCritical,
			Location: "end of lesson", Description: "content ends with an ellipsis",
		}
	}

	fences := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fences++
		}
	}
	if fences%2 != 0 {
		return &ReviewIssue{
			Type: IssueTruncation, Severity: models.SeverityCritical,
			Location: "code block", Description: "unclosed code fence",
		}
	}

	if n := len(doc.Sections); n > 0 {
		last := doc.Sections[n-1]
		if strings.TrimSpace(last.Body) == "" {
			return &ReviewIssue{
				Type: IssueTruncation, Severity: models.SeverityCritical,
				Location: last.Title, Description: "final heading has no body",
			}
		}
	}

	lastRune := []rune(trimmed)[len([]rune(trimmed))-1]
	lastLine := trimmed
	if i := strings.LastIndex(trimmed, "\n"); i >= 0 {
		lastLine = strings.TrimSpace(trimmed[i+1:])
	}
	structural := strings.HasPrefix(lastLine, "#") || strings.HasPrefix(lastLine, "|") ||
		strings.HasPrefix(lastLine, "- ") || strings.HasPrefix(lastLine, "* ")
	if !structural && !strings.ContainsRune(sentenceTerminators, lastRune) {
		return &ReviewIssue{
			Type: IssueTruncation, Severity: models.SeverityCritical,
			Location: "end of lesson", Description: "final sentence has no terminator",
		}
	}
	return nil
}

// chatbot artifacts stripped by the hygiene autofix
var hygienePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(sure|certainly|of course)[,!.]?\s+(here|i('| a)?m|let).*$`),
	regexp.MustCompile(`(?i)^\s*(here is|here's)\s+(the|your|a)\s+(lesson|content|markdown|section).*$`),
	regexp.MustCompile(`(?i)as an ai( language)? model`),
	regexp.MustCompile(`(?i)^\s*i hope this (helps|is helpful).*$`),
	regexp.MustCompile(`(?i)^\s*let me know if (you|there).*$`),
	regexp.MustCompile(`(?i)^\s*feel free to (ask|reach out).*$`),
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// hygieneFix strips chatbot filler lines and tidies the damage. Applying it
// twice is a no-op.
func hygieneFix(content string) (string, []ReviewIssue) {
	var issues []ReviewIssue
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		dropped := false
		for _, re := range hygienePatterns {
			if re.MatchString(line) {
				dropped = true
				issues = append(issues, ReviewIssue{
					Type:        IssueHygiene,
					Severity:    models.SeverityMinor,
					Location:    strings.TrimSpace(line),
					Description: "chatbot artifact removed",
				})
				break
			}
		}
		if !dropped {
			kept = append(kept, line)
		}
	}
	patched := strings.Join(kept, "\n")
	patched = blankRunRe.ReplaceAllString(patched, "\n\n")
	if len(issues) == 0 {
		return content, nil
	}
	return patched, issues
}
