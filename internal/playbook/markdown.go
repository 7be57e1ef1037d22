package playbook

import (
	"fmt"
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// DocumentTitle is the top-level heading of a playbook file.
const DocumentTitle = "ACE Playbook"

var (
	bulletRe = regexp.MustCompile(`^- \[([^\]\s]+)\] `)
	idRe     = regexp.MustCompile(`<!-- id:(\S+) -->\s*$`)
)

// FormatBullet renders a record as a single markdown line:
//
//	- [py-00001] helpful=5 harmful=1 :: **Use TypedDict** - description (83%, 6 obs) <!-- id:py-001 -->
func FormatBullet(r *pattern.Record) string {
	label := r.BulletID
	if label == "" {
		label = r.ID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "- [%s] helpful=%d harmful=%d :: **%s**", label, r.Successes, r.Failures, oneLine(r.Name))
	if r.Description != "" {
		b.WriteString(" - ")
		b.WriteString(oneLine(r.Description))
	}
	fmt.Fprintf(&b, " (%d%%, %d obs)", int(math.Round(r.Confidence*100)), r.Observations)
	if n := len(r.Insights); n > 0 && r.Insights[n-1].Recommendation != "" {
		b.WriteString(" Tip: ")
		b.WriteString(oneLine(r.Insights[n-1].Recommendation))
	}
	fmt.Fprintf(&b, " <!-- id:%s -->", r.ID)
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Markdown renders the whole document. It is used for the first write and
// whenever the existing file cannot be patched.
func Markdown(doc Document) string {
	var b strings.Builder
	b.WriteString("# " + DocumentTitle + "\n\n")
	b.WriteString("Coding patterns curated from verified outcomes. Bullet lines are maintained automatically.\n")
	if doc.Fallback != "" {
		b.WriteString("\n> " + oneLine(doc.Fallback) + "\n")
	}
	for _, kind := range Sections {
		b.WriteString("\n## " + kind.Title() + "\n")
		sec := doc.Section(kind)
		if sec == nil || len(sec.Bullets) == 0 {
			continue
		}
		b.WriteString("\n")
		for _, bl := range sec.Bullets {
			b.WriteString(bl.Line + "\n")
		}
	}
	return b.String()
}

// Parse recovers the bullets of a previously written playbook. Bullets
// under headings that are not playbook sections are ignored.
func Parse(text string) Document {
	byKind := make(map[SectionKind]*Section, len(Sections))
	var current *Section
	for _, line := range strings.Split(text, "\n") {
		if isHeading(line) {
			current = nil
			if kind, ok := sectionForHeading(line); ok {
				if byKind[kind] == nil {
					byKind[kind] = &Section{Kind: kind}
				}
				current = byKind[kind]
			}
			continue
		}
		if current == nil {
			continue
		}
		if b, ok := parseBullet(line); ok {
			b.Section = current.Kind
			current.Bullets = append(current.Bullets, b)
		}
	}

	var doc Document
	for _, kind := range Sections {
		if s := byKind[kind]; s != nil {
			doc.Sections = append(doc.Sections, *s)
		} else {
			doc.Sections = append(doc.Sections, Section{Kind: kind})
		}
	}
	return doc
}

func parseBullet(line string) (Bullet, bool) {
	m := bulletRe.FindStringSubmatch(line)
	if m == nil {
		return Bullet{}, false
	}
	b := Bullet{ID: m[1], BulletID: m[1], Line: line}
	if id := idRe.FindStringSubmatch(line); id != nil {
		b.ID = id[1]
	}
	return b, true
}

func isHeading(line string) bool {
	return strings.HasPrefix(line, "#")
}

// sectionForHeading matches "## STRATEGIES AND HARD RULES" and decorated
// variants such as "### 🎯 Strategies and hard rules".
func sectionForHeading(line string) (SectionKind, bool) {
	if !strings.HasPrefix(line, "## ") && !strings.HasPrefix(line, "### ") {
		return "", false
	}
	title := normalizeTitle(strings.TrimLeft(line, "#"))
	for _, kind := range Sections {
		if title == kind.Title() {
			return kind, true
		}
	}
	return "", false
}

func normalizeTitle(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			return unicode.ToUpper(r)
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Apply patches text with delta: changed bullets are replaced in place (or
// moved when their section changed), removed bullets are deleted, and added
// bullets are appended to the end of their section. Missing sections are
// created. Lines that are not bullets are never touched.
func Apply(text string, delta Delta) string {
	lines := strings.Split(text, "\n")

	for _, b := range delta.Removed {
		if i := findBullet(lines, b.ID); i >= 0 {
			lines = slices.Delete(lines, i, i+1)
		}
	}
	for _, c := range delta.Changed {
		i := findBullet(lines, c.Old.ID)
		switch {
		case i >= 0 && !c.Moved():
			lines[i] = c.New.Line
		case i >= 0:
			lines = slices.Delete(lines, i, i+1)
			lines = insertIntoSection(lines, c.New.Section, c.New.Line)
		default:
			lines = insertIntoSection(lines, c.New.Section, c.New.Line)
		}
	}
	for _, b := range delta.Added {
		if i := findBullet(lines, b.ID); i >= 0 {
			lines[i] = b.Line
			continue
		}
		lines = insertIntoSection(lines, b.Section, b.Line)
	}
	return strings.Join(lines, "\n")
}

func findBullet(lines []string, id string) int {
	for i, line := range lines {
		if b, ok := parseBullet(line); ok && b.ID == id {
			return i
		}
	}
	return -1
}

func insertIntoSection(lines []string, kind SectionKind, line string) []string {
	h := -1
	for i, l := range lines {
		if k, ok := sectionForHeading(l); ok && k == kind {
			h = i
			break
		}
	}
	if h < 0 {
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
		return append(lines, "", "## "+kind.Title(), "", line, "")
	}

	end := len(lines)
	for i := h + 1; i < len(lines); i++ {
		if isHeading(lines[i]) {
			end = i
			break
		}
	}
	pos := end
	for pos > h+1 && strings.TrimSpace(lines[pos-1]) == "" {
		pos--
	}

	ins := []string{line}
	if pos == h+1 {
		ins = []string{"", line}
	}
	if pos == end && end < len(lines) {
		ins = append(ins, "")
	}
	return slices.Insert(lines, pos, ins...)
}
