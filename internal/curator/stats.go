package curator

import (
	"slices"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// Stats summarizes a pattern library.
type Stats struct {
	Total             int                  `json:"total"`
	ByKind            map[pattern.Kind]int `json:"by_kind"`
	ByTier            map[pattern.Tier]int `json:"by_tier"`
	ByDomain          map[string]int       `json:"by_domain"`
	Observations      int                  `json:"observations"`
	AverageConfidence float64              `json:"average_confidence"`
	// Prunable counts records the next prune pass would remove.
	Prunable int               `json:"prunable"`
	Top      []*pattern.Record `json:"top"`
}

// Summarize computes library statistics. Top holds up to topN records by
// confidence, then observations.
func Summarize(library []*pattern.Record, th pattern.Thresholds, topN int) Stats {
	s := Stats{
		ByKind:   make(map[pattern.Kind]int),
		ByTier:   make(map[pattern.Tier]int),
		ByDomain: make(map[string]int),
	}
	var confSum float64
	for _, r := range library {
		s.Total++
		s.ByKind[r.Kind]++
		s.ByTier[th.Tier(r.Confidence)]++
		s.ByDomain[r.Domain]++
		s.Observations += r.Observations
		confSum += r.Confidence
		if th.Prunable(r) {
			s.Prunable++
		}
	}
	if s.Total > 0 {
		s.AverageConfidence = confSum / float64(s.Total)
	}

	ranked := slices.Clone(library)
	slices.SortStableFunc(ranked, func(a, b *pattern.Record) int {
		switch {
		case a.Confidence != b.Confidence:
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		default:
			return b.Observations - a.Observations
		}
	})
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}
	s.Top = ranked
	return s
}
