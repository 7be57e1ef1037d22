package similarity

import (
	"context"
	"strings"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// Weights of the name and description signals in the lexical score.
const (
	NameWeight        = 0.6
	DescriptionWeight = 0.4
)

// Lexical scores records with the Sørensen–Dice coefficient over character
// bigrams. It is deterministic, needs no external service, and never fails.
type Lexical struct{}

// Score implements Scorer.
func (Lexical) Score(_ context.Context, a, b *pattern.Record) (float64, error) {
	return LexicalScore(a, b), nil
}

// LexicalScore is 0.6*dice(name) + 0.4*dice(description).
func LexicalScore(a, b *pattern.Record) float64 {
	return NameWeight*Dice(a.Name, b.Name) + DescriptionWeight*Dice(a.Description, b.Description)
}

// Dice returns the Sørensen–Dice coefficient of the character-bigram
// multisets of two strings, compared case-insensitively. Identical strings
// score 1, including two empty strings. A differing string too short to
// have a bigram scores 0.
func Dice(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}

	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}

	counts := make(map[string]int, len(ba))
	for _, g := range ba {
		counts[g]++
	}
	shared := 0
	for _, g := range bb {
		if counts[g] > 0 {
			counts[g]--
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ba)+len(bb))
}

func bigrams(s string) []string {
	r := []rune(s)
	if len(r) < 2 {
		return nil
	}
	out := make([]string, 0, len(r)-1)
	for i := 0; i < len(r)-1; i++ {
		out = append(out, string(r[i:i+2]))
	}
	return out
}
