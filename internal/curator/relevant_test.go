package curator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ce-dot-net/ace/internal/pattern"
)

func lang(r *pattern.Record, language, domain string) *pattern.Record {
	r.Language = language
	r.Domain = domain
	return r
}

func TestRelevant(t *testing.T) {
	library := []*pattern.Record{
		lang(record("mid", "m", "", pattern.KindBeneficial, 10, 6), "python", "python-typing"),
		lang(record("top", "t", "", pattern.KindBeneficial, 10, 9), "python", "python-typing"),
		lang(record("weak", "w", "", pattern.KindBeneficial, 10, 2), "python", "python-typing"),
		lang(record("bad", "b", "", pattern.KindHarmful, 10, 9), "python", "python-typing"),
		lang(record("js", "j", "", pattern.KindBeneficial, 10, 10), "javascript", "js-async"),
		lang(record("async", "a", "", pattern.KindBeneficial, 10, 7), "python", "python-async"),
		nil,
	}

	t.Run("language and confidence", func(t *testing.T) {
		got := Relevant(library, RelevantQuery{Language: "python", MinConfidence: 0.5})
		assert.Equal(t, []string{"top", "async", "mid"}, ids(got))
	})
	t.Run("domains", func(t *testing.T) {
		got := Relevant(library, RelevantQuery{Language: "python", Domains: []string{"async"}})
		assert.Equal(t, []string{"async"}, ids(got))
	})
	t.Run("harmful and limit", func(t *testing.T) {
		got := Relevant(library, RelevantQuery{Language: "python", IncludeHarmful: true, Limit: 2})
		assert.Equal(t, []string{"top", "bad"}, ids(got), "ties keep library order")
	})
	t.Run("no language", func(t *testing.T) {
		assert.Empty(t, Relevant(library, RelevantQuery{}))
	})
}

func TestRelevance(t *testing.T) {
	r := record("p", "n", "", pattern.KindBeneficial, 10, 6)
	r.Failures, r.Neutrals = 2, 2
	// 0.7*0.6 + 0.3*(6/8)
	assert.InDelta(t, 0.645, Relevance(r), 1e-9)
	assert.Zero(t, Relevance(record("z", "n", "", pattern.KindBeneficial, 0, 0)))
}

func TestDomainHints(t *testing.T) {
	assert.Equal(t, []string{"testing", "async"}, DomainHints("tests/test_async_client.py"))
	assert.Equal(t, []string{"api", "error-handling"}, DomainHints("src/api/errors.ts"))
	assert.Empty(t, DomainHints("src/main.py"))
}
