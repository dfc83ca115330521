// Markdown section model for the lesson graph. A lesson document is an intro
// block followed by "##"-delimited sections. Parsing and rendering round-trip
// byte for byte so a merge that touches one section leaves every other byte of
// the document unchanged.

package lessongraph

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
)

// markdownSection is one "##" section with its raw heading line and body text
type markdownSection struct {
	ID          string // stable slug derived from the title
	Title       string
	HeadingLine string // the raw "## ..." line as it appeared
	Body        string // raw lines after the heading, up to the next section
	hasBody     bool   // false when the heading was the last line of its block
}

// lessonDocument is a parsed lesson markdown body
type lessonDocument struct {
	Intro    string // everything before the first "##" heading
	hasIntro bool
	Sections []markdownSection
}

var headingRe = regexp.MustCompile(`^##\s+(.*)$`)

// parseDocument splits markdown into intro and "##" sections. Level-2 headings
// inside fenced code blocks do not start a section. render(parseDocument(m))
// reproduces m exactly.
func parseDocument(markdown string) *lessonDocument {
	doc := &lessonDocument{}
	lines := strings.Split(markdown, "\n")

	var buf []string
	var current *markdownSection
	inFence := false

	flush := func() {
		text := strings.Join(buf, "\n")
		if current == nil {
			doc.Intro = text
			doc.hasIntro = len(buf) > 0
		} else {
			current.Body = text
			current.hasBody = len(buf) > 0
			doc.Sections = append(doc.Sections, *current)
		}
		buf = buf[:0]
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if !inFence {
			if m := headingRe.FindStringSubmatch(line); m != nil && !strings.HasPrefix(line, "###") {
				flush()
				title := strings.TrimSpace(m[1])
				current = &markdownSection{
					ID:          sectionSlug(title),
					Title:       title,
					HeadingLine: line,
				}
				continue
			}
		}
		buf = append(buf, line)
	}
	flush()
	return doc
}

// render reassembles the document, inverse of parseDocument
func (d *lessonDocument) render() string {
	var blocks []string
	if d.hasIntro {
		blocks = append(blocks, d.Intro)
	}
	for _, s := range d.Sections {
		if s.hasBody {
			blocks = append(blocks, s.HeadingLine+"\n"+s.Body)
		} else {
			blocks = append(blocks, s.HeadingLine)
		}
	}
	return strings.Join(blocks, "\n")
}

// section finds a section by slug id, nil when absent
func (d *lessonDocument) section(id string) *markdownSection {
	for i := range d.Sections {
		if d.Sections[i].ID == id {
			return &d.Sections[i]
		}
	}
	return nil
}

// replaceBody swaps the body of one section, keeping the heading line and
// every other section untouched. Returns false when the id is unknown.
func (d *lessonDocument) replaceBody(id, body string) bool {
	s := d.section(id)
	if s == nil {
		return false
	}
	if !strings.HasPrefix(body, "\n") {
		body = "\n" + body
	}
	if !strings.HasSuffix(body, "\n") {
		body = body + "\n"
	}
	s.Body = body
	s.hasBody = true
	return true
}

// headingSet returns the ordered section titles, used to verify that a merge
// preserved the document shape
func (d *lessonDocument) headingSet() []string {
	out := make([]string, len(d.Sections))
	for i, s := range d.Sections {
		out[i] = s.Title
	}
	return out
}

var slugCleanRe = regexp.MustCompile(`[^a-z0-9а-яё]+`)

// sectionSlug derives a stable id from a section title
func sectionSlug(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugCleanRe.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "section"
	}
	return slug
}

var numberedSectionRe = regexp.MustCompile(`^sec_(\d+)$`)

// sectionIndex maps a section id to a non-negative integer for adjacency
// checks. Ids of the form sec_<n> use the number directly; named ids use an
// FNV-32a hash folded to non-negative, which interleaves with numbered ids.
func sectionIndex(sectionID string) int {
	if m := numberedSectionRe.FindStringSubmatch(sectionID); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	h := fnv.New32a()
	h.Write([]byte(sectionID))
	return int(h.Sum32() & 0x7fffffff)
}

// matchSpecSection resolves a document section to its spec counterpart by
// position first, then by slug. Models drift on heading wording, so position
// is the stronger signal when counts line up.
func matchSpecSection(doc *lessonDocument, pos int, title string, sections []specSectionRef) string {
	if pos >= 0 && pos < len(sections) && len(doc.Sections) == len(sections) {
		return sections[pos].ID
	}
	slug := sectionSlug(title)
	for _, ref := range sections {
		if sectionSlug(ref.Title) == slug {
			return ref.ID
		}
	}
	return fmt.Sprintf("sec_%s", slug)
}

// specSectionRef is the minimal view of a spec section the matcher needs
type specSectionRef struct {
	ID    string
	Title string
}
