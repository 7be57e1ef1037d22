package curator

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ce-dot-net/ace/internal/pattern"
)

func TestDeduplicate_TransitiveClusters(t *testing.T) {
	// A~B and B~C but A and C are not similar: single link still joins all three.
	scorer := tableScorer{
		{"A", "B"}: 0.86,
		{"B", "C"}: 0.86,
		{"A", "C"}: 0.40,
	}
	m := NewMetrics(nil)
	c := newCurator(t, scorer, WithMetrics(m))

	a := record("A", "a", "", pattern.KindBeneficial, 2, 2)
	b := record("B", "b", "", pattern.KindBeneficial, 3, 1)
	cc := record("C", "c", "", pattern.KindBeneficial, 5, 4)
	d := record("D", "d", "", pattern.KindBeneficial, 1, 1)

	res, err := c.Deduplicate(context.Background(), []*pattern.Record{a, b, cc, d})
	require.NoError(t, err)

	require.Len(t, res.Records, 2)
	assert.Equal(t, "A", res.Records[0].ID)
	assert.Equal(t, "D", res.Records[1].ID)
	assert.Equal(t, []string{"B", "C"}, res.Merged["A"])
	assert.Equal(t, 2, res.Absorbed())

	merged := res.Records[0]
	assert.Equal(t, 10, merged.Observations)
	assert.Equal(t, 7, merged.Successes)
	assert.InDelta(t, 0.7, merged.Confidence, 1e-9)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Merged))

	// Inputs are untouched.
	assert.Equal(t, 2, a.Observations)
}

func TestDeduplicate_RepresentativeIsFirstEncountered(t *testing.T) {
	// Only the later pair is similar, yet the cluster root is the earliest member.
	scorer := tableScorer{{"late", "early"}: 0.9}
	c := newCurator(t, scorer)

	early := record("early", "e", "", pattern.KindBeneficial, 1, 1)
	mid := record("mid", "m", "", pattern.KindBeneficial, 1, 1)
	late := record("late", "l", "", pattern.KindBeneficial, 1, 0)

	res, err := c.Deduplicate(context.Background(), []*pattern.Record{early, mid, late})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "early", res.Records[0].ID)
	assert.Equal(t, "mid", res.Records[1].ID)
	assert.Equal(t, []string{"late"}, res.Merged["early"])
}

func TestDeduplicate_RespectsScope(t *testing.T) {
	scorer := tableScorer{{"g", "h"}: 1.0}
	c := newCurator(t, scorer)

	g := record("g", "same", "", pattern.KindBeneficial, 1, 1)
	h := record("h", "same", "", pattern.KindHarmful, 1, 1)

	res, err := c.Deduplicate(context.Background(), []*pattern.Record{g, h})
	require.NoError(t, err)
	assert.Len(t, res.Records, 2)
	assert.Empty(t, res.Merged)
}

func TestDeduplicate_NearDuplicatesLexical(t *testing.T) {
	c := newCurator(t, nil)
	now := time.Now()
	a := record("p1", "Use TypedDict for configs", typedDictDesc, pattern.KindBeneficial, 4, 3)
	a.LastSeen = now.Add(-time.Hour)
	b := record("p2", "Use TypedDict for configuration", typedDictDesc, pattern.KindBeneficial, 1, 1)
	b.LastSeen = now

	res, err := c.Deduplicate(context.Background(), []*pattern.Record{a, b})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "p1", res.Records[0].ID)
	assert.Equal(t, 5, res.Records[0].Observations)
	assert.Equal(t, now, res.Records[0].LastSeen)
}

func TestDeduplicate_Empty(t *testing.T) {
	c := newCurator(t, nil)
	res, err := c.Deduplicate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Records)
}

func TestDeduplicate_SkipsNilEntries(t *testing.T) {
	c := newCurator(t, tableScorer{{"A", "B"}: 0.9})
	a := record("A", "a", "", pattern.KindBeneficial, 2, 2)
	b := record("B", "b", "", pattern.KindBeneficial, 1, 1)

	res, err := c.Deduplicate(context.Background(), []*pattern.Record{nil, a, nil, b})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "A", res.Records[0].ID)
	assert.Equal(t, []string{"B"}, res.Merged["A"])
}

func TestPrune(t *testing.T) {
	m := NewMetrics(nil)
	c := newCurator(t, nil, WithMetrics(m))

	library := []*pattern.Record{
		record("bad", "b", "", pattern.KindBeneficial, 12, 2),
		record("young", "y", "", pattern.KindBeneficial, 9, 0),
		record("fine", "f", "", pattern.KindBeneficial, 20, 6),
		record("good", "g", "", pattern.KindHarmful, 30, 25),
	}
	res := c.Prune(library)

	require.Len(t, res.Pruned, 1)
	assert.Equal(t, "bad", res.Pruned[0].ID)
	assert.Equal(t, []string{"young", "fine", "good"}, ids(res.Kept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Pruned))
}

func TestPrune_UsesCountersNotStaleConfidence(t *testing.T) {
	c := newCurator(t, nil)
	stale := record("s", "s", "", pattern.KindBeneficial, 12, 2)
	stale.Confidence = 0.9

	res := c.Prune([]*pattern.Record{stale})
	assert.Len(t, res.Pruned, 1)
}

func TestPrune_NeverRemovesUndersampled(t *testing.T) {
	c := newCurator(t, nil)
	var library []*pattern.Record
	for obs := 0; obs < pattern.DefaultMinSample; obs++ {
		library = append(library, record("r", "n", "", pattern.KindBeneficial, obs, 0))
	}
	res := c.Prune(library)
	assert.Empty(t, res.Pruned)
	assert.Len(t, res.Kept, len(library))
}

func TestSummarize(t *testing.T) {
	library := []*pattern.Record{
		record("a", "a", "", pattern.KindBeneficial, 10, 9),
		record("b", "b", "", pattern.KindBeneficial, 10, 5),
		record("c", "c", "", pattern.KindHarmful, 12, 1),
		record("d", "d", "", pattern.KindBeneficial, 20, 18),
	}
	s := Summarize(library, pattern.DefaultThresholds(), 2)

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 3, s.ByKind[pattern.KindBeneficial])
	assert.Equal(t, 2, s.ByTier[pattern.TierHigh])
	assert.Equal(t, 1, s.ByTier[pattern.TierMedium])
	assert.Equal(t, 1, s.ByTier[pattern.TierLow])
	assert.Equal(t, 52, s.Observations)
	assert.Equal(t, 1, s.Prunable)
	require.Len(t, s.Top, 2)
	// Equal confidence (0.9): more observations first.
	assert.Equal(t, "d", s.Top[0].ID)
	assert.Equal(t, "a", s.Top[1].ID)
}

func ids(records []*pattern.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
