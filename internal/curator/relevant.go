package curator

import (
	"cmp"
	"slices"
	"strings"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// RelevantQuery narrows a library down to what matters for one file.
type RelevantQuery struct {
	// Language is required; records in other languages never match.
	Language string
	// Domains, when set, keeps only records whose domain contains one of
	// them.
	Domains       []string
	MinConfidence float64
	// IncludeHarmful also returns anti-patterns.
	IncludeHarmful bool
	// Limit caps the result; zero means no cap.
	Limit int
}

// Relevance ranks a record for retrieval: 0.7 of its confidence plus 0.3 of
// the helpful share of its decided (non-neutral) verdicts.
func Relevance(r *pattern.Record) float64 {
	score := pattern.Confidence(r.Observations, r.Successes) * 0.7
	if decided := r.Successes + r.Failures; decided > 0 {
		score += float64(r.Successes) / float64(decided) * 0.3
	}
	return score
}

// Relevant returns the records matching q, most relevant first. Ties keep
// library order.
func Relevant(library []*pattern.Record, q RelevantQuery) []*pattern.Record {
	if q.Language == "" {
		return nil
	}
	var out []*pattern.Record
	for _, r := range library {
		switch {
		case r == nil,
			!strings.EqualFold(r.Language, q.Language),
			r.Confidence < q.MinConfidence,
			r.Kind == pattern.KindHarmful && !q.IncludeHarmful,
			!matchesDomain(r.Domain, q.Domains):
			continue
		}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b *pattern.Record) int {
		return cmp.Compare(Relevance(b), Relevance(a))
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matchesDomain(domain string, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	domain = strings.ToLower(domain)
	for _, w := range wanted {
		if w != "" && strings.Contains(domain, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

var domainHints = []struct {
	words  []string
	domain string
}{
	{[]string{"test"}, "testing"},
	{[]string{"async", "promise"}, "async"},
	{[]string{"api", "endpoint"}, "api"},
	{[]string{"error", "exception"}, "error-handling"},
	{[]string{"type", "interface"}, "typing"},
}

// DomainHints guesses task domains from words in a file path.
func DomainHints(path string) []string {
	lower := strings.ToLower(path)
	var out []string
	for _, h := range domainHints {
		if slices.ContainsFunc(h.words, func(w string) bool { return strings.Contains(lower, w) }) {
			out = append(out, h.domain)
		}
	}
	return out
}
