package similarity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ce-dot-net/ace/internal/pattern"
)

func rec(id, name, desc, domain string, kind pattern.Kind) *pattern.Record {
	return &pattern.Record{ID: id, Name: name, Description: desc, Domain: domain, Kind: kind}
}

func TestDice(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "night", "night", 1},
		{"case insensitive", "Night", "NIGHT", 1},
		{"both empty", "", "", 1},
		{"one empty", "abc", "", 0},
		{"single rune differs", "a", "b", 0},
		{"classic example", "night", "nacht", 0.25},
		{"repeated bigrams counted as multiset", "aaaa", "aa", 0.5},
		{"disjoint", "abcd", "wxyz", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Dice(tt.a, tt.b), 1e-9)
		})
	}
}

func TestDice_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"Use TypedDict for configs", "Use TypedDict for configuration"},
		{"asyncio.gather", "gather with asyncio"},
		{"x", "xy"},
	}
	for _, p := range pairs {
		assert.InDelta(t, Dice(p[0], p[1]), Dice(p[1], p[0]), 1e-12)
	}
}

func TestLexicalScore_NearDuplicateMerges(t *testing.T) {
	desc := "Define configuration with TypedDict for type safety and IDE support"
	a := rec("a", "Use TypedDict for configs", desc, "python-typing", pattern.KindBeneficial)
	b := rec("b", "Use TypedDict for configuration", desc, "python-typing", pattern.KindBeneficial)

	assert.InDelta(t, 0.852, Dice(a.Name, b.Name), 0.001)
	score := LexicalScore(a, b)
	assert.InDelta(t, 0.911, score, 0.001)
	assert.GreaterOrEqual(t, score, pattern.DefaultSimilarityThreshold)
}

func TestLexicalScore_DistinctPatternsStaySeparate(t *testing.T) {
	a := rec("a", "Use TypedDict for configs",
		"Define configuration with TypedDict for type safety and IDE support",
		"python-typing", pattern.KindBeneficial)
	b := rec("b", "Use asyncio.gather for parallel requests",
		"Run independent awaitables concurrently with asyncio.gather",
		"python-typing", pattern.KindBeneficial)

	assert.Less(t, LexicalScore(a, b), 0.3)
}

func TestLexical_Reflexive(t *testing.T) {
	a := rec("a", "Prefer context managers", "Use with-blocks for files", "io", pattern.KindBeneficial)
	s, err := Lexical{}.Score(context.Background(), a, a)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s)
}

func TestScoped_CrossScopeIsZero(t *testing.T) {
	good := rec("a", "Bare except", "Catching everything", "errors", pattern.KindBeneficial)
	bad := rec("b", "Bare except", "Catching everything", "errors", pattern.KindHarmful)
	other := rec("c", "Bare except", "Catching everything", "logging", pattern.KindBeneficial)

	s := Scoped(Lexical{})
	score, err := s.Score(context.Background(), good, bad)
	require.NoError(t, err)
	assert.Zero(t, score)

	score, err = s.Score(context.Background(), good, other)
	require.NoError(t, err)
	assert.Zero(t, score)

	score, err = s.Score(context.Background(), good, good.Clone())
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	// Wrapping twice is a no-op.
	assert.Equal(t, s, Scoped(s))
}

func TestNew(t *testing.T) {
	s, err := New(DefaultConfig(), nil, nil)
	require.NoError(t, err)
	assert.IsType(t, Lexical{}, s)

	cfg := DefaultConfig()
	cfg.Mode = ModeSemantic
	s, err = New(cfg, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, Lexical{}, s, "semantic without embedder degrades to lexical")

	s, err = New(cfg, &fakeEmbedder{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Semantic{}, s)

	cfg.Mode = ModeBlend
	s, err = New(cfg, &fakeEmbedder{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Blend{}, s)

	cfg.Mode = "fuzzy"
	_, err = New(cfg, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidMode)

	cfg = DefaultConfig()
	cfg.BlendWeight = 2
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidMode)
}
