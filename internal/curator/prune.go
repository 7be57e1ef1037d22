package curator

import (
	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// PruneResult is the output of Prune.
type PruneResult struct {
	Kept   []*pattern.Record
	Pruned []*pattern.Record
}

// Prune drops every record that has at least MinSample observations and a
// confidence below the prune threshold. Everything else is kept, in order.
func (c *Curator) Prune(library []*pattern.Record) PruneResult {
	var res PruneResult
	for _, r := range library {
		if r == nil {
			continue
		}
		// Stored confidence may be stale; judge on the counters.
		current := r.Clone()
		current.Confidence = c.confidence(r)
		if c.thresholds.Prunable(current) {
			res.Pruned = append(res.Pruned, r)
			c.logger.Info("pruned low-confidence pattern",
				zap.String("pattern_id", r.ID),
				zap.String("name", r.Name),
				zap.Int("observations", r.Observations),
				zap.Float64("confidence", current.Confidence))
			continue
		}
		res.Kept = append(res.Kept, r)
	}
	c.metrics.Pruned.Add(float64(len(res.Pruned)))
	return res
}
