package playbook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ce-dot-net/ace/internal/pattern"
)

func TestMarkdownParseRoundTrip(t *testing.T) {
	doc, err := Render([]*pattern.Record{
		rec("a", "py-00001", pattern.KindBeneficial, 10, 9),
		rec("b", "py-00002", pattern.KindBeneficial, 10, 5),
		rec("c", "py-00003", pattern.KindHarmful, 4, 1),
	}, pattern.DefaultThresholds())
	require.NoError(t, err)

	text := Markdown(doc)
	assert.True(t, strings.HasPrefix(text, "# ACE Playbook\n"))
	assert.Contains(t, text, "## STRATEGIES AND HARD RULES")
	assert.Contains(t, text, "## PATTERNS TO AVOID")

	parsed := Parse(text)
	assert.True(t, Diff(parsed, doc).Empty())
	assert.Equal(t, "py-00003", parsed.Section(SectionAvoid).Bullets[0].BulletID)
}

func TestParse_DecoratedHeadingsAndForeignContent(t *testing.T) {
	text := `# Project notes

Some hand-written intro.

## 🎯 Strategies and Hard Rules

- [py-00001] helpful=5 harmful=1 :: **Use TypedDict**
- not a bullet we own

## Team conventions

- [xx-00001] helpful=1 harmful=0 :: **Ignored, not a playbook section**

### ⚠️ PATTERNS TO AVOID
- [py-00002] helpful=0 harmful=3 :: **Bare except** <!-- id:py-bad-001 -->
`
	doc := Parse(text)
	high := doc.Section(SectionHigh)
	require.Len(t, high.Bullets, 1)
	assert.Equal(t, "py-00001", high.Bullets[0].ID)

	avoid := doc.Section(SectionAvoid)
	require.Len(t, avoid.Bullets, 1)
	assert.Equal(t, "py-bad-001", avoid.Bullets[0].ID)
	assert.Equal(t, "py-00002", avoid.Bullets[0].BulletID)

	assert.Equal(t, 2, doc.Len())
}

func TestApply_SurgicalEdits(t *testing.T) {
	th := pattern.DefaultThresholds()
	a := rec("a", "py-00001", pattern.KindBeneficial, 10, 9)
	b := rec("b", "py-00002", pattern.KindBeneficial, 10, 5)
	c := rec("c", "py-00003", pattern.KindHarmful, 4, 1)
	prev, err := Render([]*pattern.Record{a, b, c}, th)
	require.NoError(t, err)

	// A hand edit outside any bullet must survive.
	text := strings.Replace(Markdown(prev), "## EMERGING PATTERNS\n",
		"## EMERGING PATTERNS\n\nReviewed weekly by the platform team.\n", 1)

	b2 := b.Clone()
	b2.Successes, b2.Failures = 8, 2
	b2.Recompute() // promoted to high
	d := rec("d", "py-00004", pattern.KindBeneficial, 2, 1)
	next, err := Render([]*pattern.Record{a, b2, d}, th)
	require.NoError(t, err)

	delta := Diff(Parse(text), next)
	patched := Apply(text, delta)

	assert.Contains(t, patched, "Reviewed weekly by the platform team.")
	assert.True(t, Diff(Parse(patched), next).Empty(), "patched file matches the rendered document")
	assert.NotContains(t, patched, "<!-- id:c -->")

	// Untouched bullet line is byte-identical.
	assert.Contains(t, patched, FormatBullet(a))
}

func TestApply_CreatesMissingSections(t *testing.T) {
	text := "# Project notes\n\nNothing here yet.\n"
	r := rec("h", "py-00009", pattern.KindHarmful, 1, 0)
	next, err := Render([]*pattern.Record{r}, pattern.DefaultThresholds())
	require.NoError(t, err)

	patched := Apply(text, Diff(Parse(text), next))
	assert.True(t, strings.HasPrefix(patched, "# Project notes\n\nNothing here yet.\n"))
	assert.Contains(t, patched, "## PATTERNS TO AVOID\n\n"+FormatBullet(r))
	assert.True(t, Diff(Parse(patched), next).Empty())
}

func TestApply_AddsToEmptySectionWithSpacing(t *testing.T) {
	empty, err := Render(nil, pattern.DefaultThresholds())
	require.NoError(t, err)
	text := Markdown(empty)

	r := rec("m", "py-00001", pattern.KindBeneficial, 2, 1)
	next, err := Render([]*pattern.Record{r}, pattern.DefaultThresholds())
	require.NoError(t, err)

	patched := Apply(text, Diff(empty, next))
	assert.Contains(t, patched, "## EMERGING PATTERNS\n\n"+FormatBullet(r)+"\n\n## PATTERNS TO AVOID")
}
