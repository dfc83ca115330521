package lessongraph

import (
	"strings"
	"testing"
)

const sampleLesson = `# Компиляторы

Введение в устройство компиляторов.

## Лексический анализ

Токены и сканеры. Пример:

` + "```go" + `
## это не заголовок
tok := scan()
` + "```" + `

## Синтаксический анализ

Грамматики и деревья разбора.

## Семантический анализ

Таблицы символов и проверка типов.
`

func TestParseRenderRoundTrip(t *testing.T) {
	doc := parseDocument(sampleLesson)
	if len(doc.Sections) != 3 {
		t.Fatalf("Expected 3 sections, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Title != "Лексический анализ" {
		t.Errorf("Unexpected first title: %q", doc.Sections[0].Title)
	}
	if got := doc.render(); got != sampleLesson {
		t.Errorf("Round trip changed the document:\n%q\nvs\n%q", got, sampleLesson)
	}
}

func TestParseIgnoresHeadingsInCodeFences(t *testing.T) {
	doc := parseDocument(sampleLesson)
	for _, s := range doc.Sections {
		if strings.Contains(s.Title, "это не заголовок") {
			t.Fatal("Heading inside a code fence must not start a section")
		}
	}
	if !strings.Contains(doc.Sections[0].Body, "## это не заголовок") {
		t.Error("Fenced pseudo-heading must stay in the section body")
	}
}

func TestParseEmptyBodies(t *testing.T) {
	src := "## A\n## B"
	doc := parseDocument(src)
	if len(doc.Sections) != 2 {
		t.Fatalf("Expected 2 sections, got %d", len(doc.Sections))
	}
	if got := doc.render(); got != src {
		t.Errorf("Round trip with empty bodies: %q != %q", got, src)
	}
}

func TestMergePreservesEverythingElse(t *testing.T) {
	doc := parseDocument(sampleLesson)
	target := doc.Sections[1].ID

	merged, err := mergeSectionIntoMarkdown(sampleLesson, target, "Новое содержание раздела.")
	if err != nil {
		t.Fatal(err)
	}

	before := parseDocument(sampleLesson)
	after := parseDocument(merged)

	beforeHeadings := before.headingSet()
	afterHeadings := after.headingSet()
	if len(beforeHeadings) != len(afterHeadings) {
		t.Fatalf("Heading count changed: %v vs %v", beforeHeadings, afterHeadings)
	}
	for i := range beforeHeadings {
		if beforeHeadings[i] != afterHeadings[i] {
			t.Errorf("Heading %d changed: %q -> %q", i, beforeHeadings[i], afterHeadings[i])
		}
	}
	if after.Intro != before.Intro {
		t.Error("Intro must survive a section merge untouched")
	}
	for i := range before.Sections {
		if before.Sections[i].ID == target {
			if !strings.Contains(after.Sections[i].Body, "Новое содержание") {
				t.Error("Target section body was not replaced")
			}
			continue
		}
		if after.Sections[i].Body != before.Sections[i].Body {
			t.Errorf("Section %q changed during merge of %q", before.Sections[i].Title, target)
		}
	}
}

func TestMergeUnknownSection(t *testing.T) {
	if _, err := mergeSectionIntoMarkdown(sampleLesson, "no-such-section", "x"); err == nil {
		t.Fatal("Expected error for unknown section id")
	}
}

func TestSectionSlug(t *testing.T) {
	cases := map[string]string{
		"Лексический анализ":  "лексический-анализ",
		"  Intro to Parsing ": "intro-to-parsing",
		"What's Next?":        "what-s-next",
		"!!!":                 "section",
	}
	for title, want := range cases {
		if got := sectionSlug(title); got != want {
			t.Errorf("sectionSlug(%q) = %q, want %q", title, got, want)
		}
	}
}

func TestSectionIndexNumbered(t *testing.T) {
	if got := sectionIndex("sec_7"); got != 7 {
		t.Errorf("sec_7 must map to 7, got %d", got)
	}
	if got := sectionIndex("sec_0"); got != 0 {
		t.Errorf("sec_0 must map to 0, got %d", got)
	}
}

func TestSectionIndexNamedIsStable(t *testing.T) {
	a := sectionIndex("sec_introduction")
	b := sectionIndex("sec_introduction")
	if a != b {
		t.Error("Named section index must be stable")
	}
	if a < 0 {
		t.Errorf("Named section index must be non-negative, got %d", a)
	}
	if a == sectionIndex("sec_conclusion") {
		t.Error("Distinct names should hash apart")
	}
}
