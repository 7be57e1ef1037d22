// Package playbook renders the pattern library as a markdown knowledge
// document and keeps that document current with small, localized edits.
//
// A Document groups bullets into three sections: proven strategies, emerging
// patterns, and patterns to avoid. Diff compares two documents by record ID,
// and Apply patches an existing markdown file with the resulting Delta so
// that untouched lines (including hand edits outside bullets) survive.
package playbook

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// SectionKind identifies a playbook section.
type SectionKind string

const (
	SectionHigh   SectionKind = "high"
	SectionMedium SectionKind = "medium"
	SectionAvoid  SectionKind = "avoid"
)

// Sections lists the section kinds in document order.
var Sections = []SectionKind{SectionHigh, SectionMedium, SectionAvoid}

// Title is the markdown heading text of the section.
func (k SectionKind) Title() string {
	switch k {
	case SectionHigh:
		return "STRATEGIES AND HARD RULES"
	case SectionMedium:
		return "EMERGING PATTERNS"
	case SectionAvoid:
		return "PATTERNS TO AVOID"
	}
	return strings.ToUpper(string(k))
}

// Bullet is one rendered record.
type Bullet struct {
	// ID is the record ID and the identity used by Diff.
	ID       string      `json:"id"`
	BulletID string      `json:"bullet_id,omitempty"`
	Section  SectionKind `json:"section"`
	// Line is the full markdown line.
	Line string `json:"line"`
}

// Section is an ordered list of bullets.
type Section struct {
	Kind    SectionKind `json:"kind"`
	Bullets []Bullet    `json:"bullets"`
}

// Document is a rendered playbook.
type Document struct {
	Sections []Section `json:"sections"`
	// Skipped lists records that failed validation and were left out.
	Skipped []string `json:"skipped,omitempty"`
	// Fallback is set on the minimal document produced when rendering fails.
	Fallback string `json:"fallback,omitempty"`
}

// Section returns the section of the given kind, or nil.
func (d Document) Section(kind SectionKind) *Section {
	for i := range d.Sections {
		if d.Sections[i].Kind == kind {
			return &d.Sections[i]
		}
	}
	return nil
}

// Bullets returns every bullet keyed by record ID.
func (d Document) Bullets() map[string]Bullet {
	out := make(map[string]Bullet)
	for _, s := range d.Sections {
		for _, b := range s.Bullets {
			out[b.ID] = b
		}
	}
	return out
}

// Len returns the total number of bullets.
func (d Document) Len() int {
	n := 0
	for _, s := range d.Sections {
		n += len(s.Bullets)
	}
	return n
}

// Render groups records into sections.
//
// Beneficial records at or above the high-confidence threshold are
// strategies; every other beneficial record is an emerging pattern. All
// harmful records go to the avoid section. Each section is ordered by
// confidence, then observations, both descending, with ID as the final
// tie-break. Records failing validation are skipped and listed in Skipped.
func Render(records []*pattern.Record, th pattern.Thresholds) (Document, error) {
	if err := th.Validate(); err != nil {
		return Document{}, fmt.Errorf("rendering playbook: %w", err)
	}

	buckets := make(map[SectionKind][]*pattern.Record, len(Sections))
	var skipped []string
	for _, r := range records {
		if r == nil {
			continue
		}
		if err := r.Validate(); err != nil {
			skipped = append(skipped, r.ID)
			continue
		}
		kind := SectionMedium
		switch {
		case r.Kind == pattern.KindHarmful:
			kind = SectionAvoid
		case th.Tier(r.Confidence) == pattern.TierHigh:
			kind = SectionHigh
		}
		buckets[kind] = append(buckets[kind], r)
	}

	doc := Document{Skipped: skipped}
	for _, kind := range Sections {
		rs := buckets[kind]
		slices.SortStableFunc(rs, compareRecords)
		sec := Section{Kind: kind, Bullets: make([]Bullet, 0, len(rs))}
		for _, r := range rs {
			sec.Bullets = append(sec.Bullets, Bullet{
				ID:       r.ID,
				BulletID: r.BulletID,
				Section:  kind,
				Line:     FormatBullet(r),
			})
		}
		doc.Sections = append(doc.Sections, sec)
	}
	return doc, nil
}

// Fallback returns the minimal document used when rendering fails.
func Fallback(err error) Document {
	doc := Document{Fallback: "Playbook could not be rendered"}
	if err != nil {
		doc.Fallback += ": " + err.Error()
	}
	for _, kind := range Sections {
		doc.Sections = append(doc.Sections, Section{Kind: kind})
	}
	return doc
}

func compareRecords(a, b *pattern.Record) int {
	switch {
	case a.Confidence > b.Confidence:
		return -1
	case a.Confidence < b.Confidence:
		return 1
	case a.Observations != b.Observations:
		return b.Observations - a.Observations
	default:
		return strings.Compare(a.ID, b.ID)
	}
}

// Change is a bullet whose content or section differs between documents.
type Change struct {
	Old Bullet `json:"old"`
	New Bullet `json:"new"`
}

// Moved reports whether the bullet changed section.
func (c Change) Moved() bool {
	return c.Old.Section != c.New.Section
}

// Delta is the difference between two documents, keyed by record ID.
// Every list is sorted by ID.
type Delta struct {
	Added   []Bullet `json:"added,omitempty"`
	Changed []Change `json:"changed,omitempty"`
	Removed []Bullet `json:"removed,omitempty"`
}

// Empty reports whether the delta has no entries.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

func (d Delta) String() string {
	return fmt.Sprintf("+%d ~%d -%d", len(d.Added), len(d.Changed), len(d.Removed))
}

// Diff computes the delta from prev to next. A bullet that only moved
// position inside its section is not a change.
func Diff(prev, next Document) Delta {
	old, cur := prev.Bullets(), next.Bullets()
	var d Delta

	for id, nb := range cur {
		ob, ok := old[id]
		switch {
		case !ok:
			d.Added = append(d.Added, nb)
		case ob.Line != nb.Line || ob.Section != nb.Section:
			d.Changed = append(d.Changed, Change{Old: ob, New: nb})
		}
	}
	for id, ob := range old {
		if _, ok := cur[id]; !ok {
			d.Removed = append(d.Removed, ob)
		}
	}

	byID := func(a, b Bullet) int { return strings.Compare(a.ID, b.ID) }
	slices.SortFunc(d.Added, byID)
	slices.SortFunc(d.Removed, byID)
	slices.SortFunc(d.Changed, func(a, b Change) int { return strings.Compare(a.New.ID, b.New.ID) })
	return d
}
