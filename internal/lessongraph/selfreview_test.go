package lessongraph

import (
	"strings"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/models"
)

func reviewSpec() *models.LessonSpec {
	return &models.LessonSpec{
		LessonID: "l1",
		CourseID: "c1",
		Title:    "Компиляторы",
		Language: "ru",
		Objectives: []models.LearningObjective{
			{Statement: "Понять фазы компиляции"},
		},
		Sections: []models.SectionBreakdown{
			{ID: "sec_0", Title: "Лексический анализ"},
			{ID: "sec_1", Title: "Синтаксический анализ"},
			{ID: "sec_2", Title: "Семантический анализ"},
		},
	}
}

func TestReviewPassesCleanContent(t *testing.T) {
	r := NewReviewer(arbor.NewLogger())
	result := r.Review(sampleLesson, reviewSpec())

	if result.Status != ReviewPass {
		t.Fatalf("Expected PASS, got %s with issues %v", result.Status, result.Issues)
	}
	if !result.HeuristicsPassed {
		t.Error("Clean content must pass heuristics")
	}
	if result.Duration <= 0 {
		t.Error("Review must measure its wall time")
	}
}

func TestReviewFlagsCorruptedSection(t *testing.T) {
	// 12 Chinese characters in one section, the rest valid Cyrillic
	corrupted := strings.Replace(sampleLesson,
		"Грамматики и деревья разбора.",
		"Грамматики и деревья разбора. 编译器是一种计算机程序设计", 1)

	r := NewReviewer(arbor.NewLogger())
	result := r.Review(corrupted, reviewSpec())

	if result.Status != ReviewRegenerate && len(result.SectionsToRegenerate) == 0 {
		t.Fatalf("Expected REGENERATE or flagged sections, got %s", result.Status)
	}
	if len(result.SectionsToRegenerate) != 1 || result.SectionsToRegenerate[0] != "sec_1" {
		t.Fatalf("Expected exactly sec_1 flagged, got %v", result.SectionsToRegenerate)
	}
}

func TestReviewRegeneratesOnSpreadForeignText(t *testing.T) {
	// foreign characters spread thin across sections, total over the threshold
	spread := sampleLesson
	spread = strings.Replace(spread, "Токены и сканеры.", "Токены и сканеры. 词法分析", 1)
	spread = strings.Replace(spread, "Грамматики и деревья разбора.", "Грамматики и деревья разбора. 语法分析", 1)
	spread = strings.Replace(spread, "Таблицы символов и проверка типов.", "Таблицы символов и проверка типов. 语义分析", 1)

	r := NewReviewer(arbor.NewLogger())
	result := r.Review(spread, reviewSpec())

	if result.Status != ReviewRegenerate && len(result.SectionsToRegenerate) == 0 {
		t.Fatalf("Foreign text above threshold must not pass, got %s", result.Status)
	}
}

func TestReviewSkipsLanguageCheckForCJKTargets(t *testing.T) {
	r := NewReviewer(arbor.NewLogger())
	spec := reviewSpec()
	spec.Language = "ja"

	corrupted := strings.Replace(sampleLesson,
		"Грамматики и деревья разбора.",
		"文法と構文木について学びます。これは正しい内容です。", 1)
	result := r.Review(corrupted, spec)
	for _, issue := range result.Issues {
		if issue.Type == IssueLanguage {
			t.Fatalf("Language issue raised for a CJK target language: %+v", issue)
		}
	}
}

func TestTruncationDetection(t *testing.T) {
	r := NewReviewer(arbor.NewLogger())

	cases := map[string]string{
		"ellipsis":       strings.TrimRight(sampleLesson, "\n") + " и поэтому...",
		"unclosed fence": sampleLesson + "\n```python\nprint(1)\n",
		"empty heading":  sampleLesson + "\n## Оптимизация\n",
		"no terminator":  strings.Replace(sampleLesson, "Таблицы символов и проверка типов.", "Таблицы символов и проверка", 1),
	}
	for name, content := range cases {
		result := r.Review(content, reviewSpec())
		if result.Status != ReviewRegenerate {
			t.Errorf("%s: expected REGENERATE, got %s", name, result.Status)
			continue
		}
		found := false
		for _, issue := range result.Issues {
			if issue.Type == IssueTruncation {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: expected a truncation issue, got %v", name, result.Issues)
		}
	}
}

func TestHygieneAutofixIsIdempotent(t *testing.T) {
	dirty := "Sure, here is the lesson you asked for:\n\n" + sampleLesson +
		"\nI hope this helps! Let me know if you need anything else.\n"

	once, issues := hygieneFix(dirty)
	if len(issues) == 0 {
		t.Fatal("Expected hygiene findings")
	}
	if strings.Contains(once, "Sure, here is") || strings.Contains(once, "I hope this helps") {
		t.Error("Artifacts must be stripped")
	}

	twice, again := hygieneFix(once)
	if len(again) != 0 {
		t.Errorf("Second pass must find nothing, got %v", again)
	}
	if twice != once {
		t.Error("Hygiene autofix must be idempotent")
	}
}

func TestReviewEmitsFixedForHygiene(t *testing.T) {
	dirty := "Certainly! Here is your content:\n\n" + sampleLesson
	r := NewReviewer(arbor.NewLogger())
	result := r.Review(dirty, reviewSpec())

	if result.Status != ReviewFixed {
		t.Fatalf("Expected FIXED, got %s", result.Status)
	}
	if strings.Contains(result.PatchedContent, "Certainly") {
		t.Error("Patched content still carries the artifact")
	}

	// the patched content passes on re-review
	second := r.Review(result.PatchedContent, reviewSpec())
	if second.Status != ReviewPass {
		t.Errorf("Patched content should PASS, got %s", second.Status)
	}
}

func TestStructureCheckFindings(t *testing.T) {
	noSections := "# Заголовок\n\nТекст без разделов."
	issues := structureCheck(noSections)
	critical := false
	for _, issue := range issues {
		if issue.Severity == models.SeverityCritical {
			critical = true
		}
	}
	if !critical {
		t.Error("Document without level-2 headings must be critical")
	}

	bareFence := "## Код\n\n```\nx = 1\n```\n"
	issues = structureCheck(bareFence)
	found := false
	for _, issue := range issues {
		if strings.Contains(issue.Description, "language tag") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a bare-fence finding, got %v", issues)
	}
}

func TestCountCJK(t *testing.T) {
	if got := countCJK("编译器是一种程序"); got != 8 {
		t.Errorf("Expected 8, got %d", got)
	}
	if got := countCJK("компилятор compiler"); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
	if got := countCJK("ひらがな カタカナ 한글"); got != 10 {
		t.Errorf("Expected 10, got %d", got)
	}
}
