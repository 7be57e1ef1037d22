package curator

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ce-dot-net/ace/internal/pattern"
	"github.com/ce-dot-net/ace/internal/similarity"
)

const typedDictDesc = "Define configuration with TypedDict for type safety and IDE support"

// tableScorer returns fixed scores per unordered ID pair, 0 otherwise.
type tableScorer map[[2]string]float64

func (t tableScorer) Score(_ context.Context, a, b *pattern.Record) (float64, error) {
	if a.ID == b.ID {
		return 1, nil
	}
	if s, ok := t[[2]string{a.ID, b.ID}]; ok {
		return s, nil
	}
	return t[[2]string{b.ID, a.ID}], nil
}

func record(id, name, desc string, kind pattern.Kind, obs, succ int) *pattern.Record {
	r := &pattern.Record{
		ID:           id,
		Name:         name,
		Description:  desc,
		Domain:       "python-typing",
		Kind:         kind,
		Observations: obs,
		Successes:    succ,
		Failures:     obs - succ,
	}
	r.Recompute()
	return r
}

func newCurator(t *testing.T, scorer similarity.Scorer, opts ...Option) *Curator {
	t.Helper()
	c, err := New(scorer, pattern.DefaultThresholds(), opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadThresholds(t *testing.T) {
	th := pattern.DefaultThresholds()
	th.Prune = 0.9
	_, err := New(nil, th)
	assert.ErrorIs(t, err, pattern.ErrInvalidThresholds)
}

func TestDecide_NearDuplicateMerges(t *testing.T) {
	c := newCurator(t, similarity.Lexical{})
	existing := record("p1", "Use TypedDict for configs", typedDictDesc, pattern.KindBeneficial, 4, 3)
	candidate := record("p2", "Use TypedDict for configuration", typedDictDesc, pattern.KindBeneficial, 1, 1)

	d, err := c.Decide(context.Background(), candidate, []*pattern.Record{existing})
	require.NoError(t, err)
	assert.Equal(t, ActionMerge, d.Action)
	assert.Equal(t, "p1", d.TargetID)
	assert.InDelta(t, 0.911, d.Similarity, 0.001)
}

func TestDecide_DistinctPatternCreates(t *testing.T) {
	c := newCurator(t, similarity.Lexical{})
	existing := record("p1", "Use TypedDict for configs", typedDictDesc, pattern.KindBeneficial, 4, 3)
	candidate := record("p2", "Use asyncio.gather for parallel requests",
		"Run independent awaitables concurrently with asyncio.gather", pattern.KindBeneficial, 1, 1)

	d, err := c.Decide(context.Background(), candidate, []*pattern.Record{existing})
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
	assert.Empty(t, d.TargetID)
	assert.Less(t, d.Similarity, 0.3)
}

func TestDecide_SampledUnreliableCandidatePrunes(t *testing.T) {
	c := newCurator(t, similarity.Lexical{})
	candidate := record("p9", "Catch broad exceptions", "except Exception everywhere", pattern.KindBeneficial, 12, 2)

	d, err := c.Decide(context.Background(), candidate, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionPrune, d.Action)
	assert.InDelta(t, 0.167, d.Confidence, 0.001)
}

func TestDecide_UndersampledNeverPrunes(t *testing.T) {
	c := newCurator(t, similarity.Lexical{})
	candidate := record("p9", "Catch broad exceptions", "", pattern.KindBeneficial, 9, 0)

	d, err := c.Decide(context.Background(), candidate, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
}

func TestDecide_MergeBeatsPrune(t *testing.T) {
	c := newCurator(t, similarity.Lexical{})
	existing := record("p1", "Use TypedDict for configs", typedDictDesc, pattern.KindBeneficial, 4, 3)
	candidate := record("p2", "Use TypedDict for configs", typedDictDesc, pattern.KindBeneficial, 12, 1)

	d, err := c.Decide(context.Background(), candidate, []*pattern.Record{existing})
	require.NoError(t, err)
	assert.Equal(t, ActionMerge, d.Action)
}

func TestDecide_KindIsolation(t *testing.T) {
	c := newCurator(t, similarity.Lexical{})
	good := record("p1", "Bare except clause", "Catching all exceptions", pattern.KindBeneficial, 3, 3)
	bad := record("p2", "Bare except clause", "Catching all exceptions", pattern.KindHarmful, 1, 1)

	d, err := c.Decide(context.Background(), bad, []*pattern.Record{good})
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
	assert.Zero(t, d.Similarity)
}

func TestDecide_DomainIsolation(t *testing.T) {
	c := newCurator(t, similarity.Lexical{})
	a := record("p1", "Same name", "same", pattern.KindBeneficial, 1, 1)
	b := record("p2", "Same name", "same", pattern.KindBeneficial, 1, 1)
	b.Domain = "async"

	d, err := c.Decide(context.Background(), b, []*pattern.Record{a})
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
}

func TestDecide_SkipsOwnID(t *testing.T) {
	c := newCurator(t, similarity.Lexical{})
	r := record("p1", "Use TypedDict for configs", typedDictDesc, pattern.KindBeneficial, 1, 1)

	d, err := c.Decide(context.Background(), r, []*pattern.Record{r.Clone()})
	require.NoError(t, err)
	assert.Equal(t, ActionCreate, d.Action)
}

func TestDecide_TieGoesToFirstEncountered(t *testing.T) {
	scorer := tableScorer{
		{"cand", "a"}: 0.9,
		{"cand", "b"}: 0.9,
	}
	c := newCurator(t, scorer)
	cand := record("cand", "n", "", pattern.KindBeneficial, 1, 1)
	a := record("a", "n", "", pattern.KindBeneficial, 1, 1)
	b := record("b", "n", "", pattern.KindBeneficial, 1, 1)

	d, err := c.Decide(context.Background(), cand, []*pattern.Record{b, a})
	require.NoError(t, err)
	assert.Equal(t, "b", d.TargetID)

	d, err = c.Decide(context.Background(), cand, []*pattern.Record{a, b})
	require.NoError(t, err)
	assert.Equal(t, "a", d.TargetID)
}

func TestDecide_Deterministic(t *testing.T) {
	c := newCurator(t, similarity.Lexical{})
	library := []*pattern.Record{
		record("p1", "Use TypedDict for configs", typedDictDesc, pattern.KindBeneficial, 4, 3),
		record("p2", "Use TypedDict for settings", typedDictDesc, pattern.KindBeneficial, 2, 1),
		record("p3", "Prefer Protocol over ABC", "Structural typing", pattern.KindBeneficial, 5, 5),
	}
	cand := record("new", "Use TypedDict for configuration", typedDictDesc, pattern.KindBeneficial, 1, 1)

	first, err := c.Decide(context.Background(), cand, library)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := c.Decide(context.Background(), cand, library)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDecide_AnomalousCountersWarn(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := newCurator(t, similarity.Lexical{}, WithLogger(zap.New(core)))
	cand := &pattern.Record{ID: "x", Name: "n", Domain: "d", Kind: pattern.KindBeneficial, Observations: 2, Successes: 5}

	d, err := c.Decide(context.Background(), cand, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, 1, logs.FilterMessageSnippet("more successes than observations").Len())
}

func TestDecide_Errors(t *testing.T) {
	c := newCurator(t, similarity.Lexical{})
	_, err := c.Decide(context.Background(), nil, nil)
	assert.ErrorIs(t, err, pattern.ErrInvalidRecord)

	_, err = c.Decide(context.Background(), &pattern.Record{ID: "x", Kind: "odd"}, nil)
	assert.ErrorIs(t, err, pattern.ErrInvalidKind)
}

func TestDecide_CountsDecisions(t *testing.T) {
	m := NewMetrics(nil)
	c := newCurator(t, similarity.Lexical{}, WithMetrics(m))
	cand := record("p", "n", "", pattern.KindBeneficial, 1, 1)

	_, err := c.Decide(context.Background(), cand, nil)
	require.NoError(t, err)
	_, err = c.Decide(context.Background(), cand, nil)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Decisions.WithLabelValues("create")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Decisions.WithLabelValues("merge")))
}
