package curator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// DedupResult is the output of Deduplicate.
type DedupResult struct {
	// Records are the surviving records in the order their representative
	// was first encountered.
	Records []*pattern.Record
	// Merged maps each representative ID to the IDs folded into it.
	Merged map[string][]string
}

// Absorbed returns how many records were folded into others.
func (r DedupResult) Absorbed() int {
	n := 0
	for _, ids := range r.Merged {
		n += len(ids)
	}
	return n
}

// Deduplicate collapses similar records within each scope.
//
// Clustering is single-link and transitive: if A~B and B~C then A, B and C
// form one cluster even when A and C are not similar. Each cluster is
// folded, in encounter order, into its first-encountered member.
func (c *Curator) Deduplicate(ctx context.Context, library []*pattern.Record) (DedupResult, error) {
	res := DedupResult{Merged: make(map[string][]string)}
	if len(library) == 0 {
		return res, nil
	}

	uf := newUnionFind(len(library))
	for _, idx := range groupByScope(library) {
		c.warm(ctx, pick(library, idx))
		for i := 0; i < len(idx); i++ {
			for j := i + 1; j < len(idx); j++ {
				a, b := library[idx[i]], library[idx[j]]
				score, err := c.scorer.Score(ctx, a, b)
				if err != nil {
					return DedupResult{}, fmt.Errorf("scoring %s against %s: %w", a.ID, b.ID, err)
				}
				if score >= c.thresholds.Similarity {
					uf.union(idx[i], idx[j])
				}
			}
		}
	}

	members := make(map[int][]int)
	for i := range library {
		root := uf.find(i)
		members[root] = append(members[root], i)
	}

	for i, r := range library {
		if r == nil || uf.find(i) != i {
			continue
		}
		group := members[i]
		if len(group) == 1 {
			res.Records = append(res.Records, r.Clone())
			continue
		}
		merged := r.Clone()
		absorbed := make([]string, 0, len(group)-1)
		for _, j := range group[1:] {
			merged = pattern.Merge(merged, library[j])
			absorbed = append(absorbed, library[j].ID)
		}
		res.Records = append(res.Records, merged)
		res.Merged[r.ID] = absorbed

		c.logger.Info("merged similar patterns",
			zap.String("pattern_id", r.ID),
			zap.String("scope", r.Scope().String()),
			zap.Strings("absorbed", absorbed),
			zap.Int("observations", merged.Observations),
			zap.Float64("confidence", merged.Confidence))
	}

	c.metrics.Merged.Add(float64(res.Absorbed()))
	return res, nil
}

// groupByScope returns library indices per scope, each in encounter order.
// Nil entries belong to no scope.
func groupByScope(library []*pattern.Record) [][]int {
	var order []pattern.Scope
	groups := make(map[pattern.Scope][]int)
	for i, r := range library {
		if r == nil {
			continue
		}
		s := r.Scope()
		if _, ok := groups[s]; !ok {
			order = append(order, s)
		}
		groups[s] = append(groups[s], i)
	}
	out := make([][]int, 0, len(order))
	for _, s := range order {
		out = append(out, groups[s])
	}
	return out
}

func pick(library []*pattern.Record, idx []int) []*pattern.Record {
	out := make([]*pattern.Record, len(idx))
	for i, j := range idx {
		out[i] = library[j]
	}
	return out
}

// unionFind keeps the smallest index as the root of every set, so a
// cluster's root is always its first-encountered member.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	switch {
	case ra == rb:
	case ra < rb:
		u.parent[rb] = ra
	default:
		u.parent[ra] = rb
	}
}
