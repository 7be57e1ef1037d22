// Package curator decides what happens to each observed pattern: merge it
// into an existing record, create it, or prune it. It also runs the batch
// deduplication and pruning passes over a whole library.
package curator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/pattern"
	"github.com/ce-dot-net/ace/internal/similarity"
)

// Action is the outcome of Decide.
type Action string

const (
	ActionMerge  Action = "merge"
	ActionCreate Action = "create"
	ActionPrune  Action = "prune"
)

// Decision describes what to do with a candidate record.
type Decision struct {
	Action Action `json:"action"`
	// TargetID is the record to merge into. Empty unless Action is merge.
	TargetID string `json:"target_id,omitempty"`
	// Similarity is the best similarity found in the candidate's scope.
	Similarity float64 `json:"similarity"`
	// Confidence is the candidate's own confidence.
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Option configures a Curator.
type Option func(*Curator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Curator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(c *Curator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Curator applies the merge/create/prune policy.
type Curator struct {
	scorer     similarity.Scorer
	thresholds pattern.Thresholds
	logger     *zap.Logger
	metrics    *Metrics
	locks      *ScopeLocks
}

// New creates a curator. scorer is wrapped so cross-scope pairs score 0.
func New(scorer similarity.Scorer, thresholds pattern.Thresholds, opts ...Option) (*Curator, error) {
	if scorer == nil {
		scorer = similarity.Lexical{}
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	c := &Curator{
		scorer:     similarity.Scoped(scorer),
		thresholds: thresholds,
		logger:     zap.NewNop(),
		locks:      NewScopeLocks(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c, nil
}

// Thresholds returns the curator's thresholds.
func (c *Curator) Thresholds() pattern.Thresholds {
	return c.thresholds
}

// Decide chooses merge, prune or create for candidate against library.
//
// Only records in the candidate's scope are considered, and a record with
// the candidate's own ID is skipped. The highest-scoring record at or above
// the similarity threshold becomes the merge target; on a tie the record
// encountered first wins. Merging takes precedence over pruning.
func (c *Curator) Decide(ctx context.Context, candidate *pattern.Record, library []*pattern.Record) (Decision, error) {
	if candidate == nil {
		return Decision{}, pattern.ErrInvalidRecord
	}
	if !candidate.Kind.Valid() {
		return Decision{}, fmt.Errorf("deciding on %s: %w", candidate.ID, pattern.ErrInvalidKind)
	}

	scoped := make([]*pattern.Record, 0, len(library))
	for _, r := range library {
		if r == nil || r.ID == candidate.ID || !pattern.SameScope(candidate, r) {
			continue
		}
		scoped = append(scoped, r)
	}
	c.warm(ctx, append([]*pattern.Record{candidate}, scoped...))

	var (
		best      *pattern.Record
		bestScore float64
	)
	for _, r := range scoped {
		score, err := c.scorer.Score(ctx, candidate, r)
		if err != nil {
			return Decision{}, fmt.Errorf("scoring %s against %s: %w", candidate.ID, r.ID, err)
		}
		if best == nil || score > bestScore {
			best, bestScore = r, score
		}
	}

	conf := c.confidence(candidate)
	d := Decision{Similarity: bestScore, Confidence: conf}

	switch {
	case best != nil && bestScore >= c.thresholds.Similarity:
		d.Action = ActionMerge
		d.TargetID = best.ID
		d.Reasoning = fmt.Sprintf("%.0f%% similar to %q", bestScore*100, best.Name)
	case candidate.Observations >= c.thresholds.MinSample && conf < c.thresholds.Prune:
		d.Action = ActionPrune
		d.Reasoning = fmt.Sprintf("confidence %.0f%% below %.0f%% after %d observations",
			conf*100, c.thresholds.Prune*100, candidate.Observations)
	default:
		d.Action = ActionCreate
		d.Reasoning = "no similar pattern in scope"
		if best != nil {
			d.Reasoning = fmt.Sprintf("closest pattern only %.0f%% similar", bestScore*100)
		}
	}

	c.metrics.Decisions.WithLabelValues(string(d.Action)).Inc()
	c.logger.Debug("curation decision",
		zap.String("pattern_id", candidate.ID),
		zap.String("scope", candidate.Scope().String()),
		zap.String("action", string(d.Action)),
		zap.String("target_id", d.TargetID),
		zap.Float64("similarity", d.Similarity),
		zap.Float64("confidence", d.Confidence))
	return d, nil
}

// confidence computes a record's confidence from its counters, warning on
// counters that cannot be right.
func (c *Curator) confidence(r *pattern.Record) float64 {
	if pattern.ConfidenceAnomaly(r.Observations, r.Successes) {
		c.logger.Warn("pattern has more successes than observations, clamping confidence",
			zap.String("pattern_id", r.ID),
			zap.Int("observations", r.Observations),
			zap.Int("successes", r.Successes))
	}
	return pattern.Confidence(r.Observations, r.Successes)
}

// warm gives warmable scorers a chance to batch their work. Failures are
// already handled per pair by the scorer's fallback.
func (c *Curator) warm(ctx context.Context, records []*pattern.Record) {
	w, ok := c.scorer.(similarity.Warmer)
	if !ok || len(records) < 2 {
		return
	}
	if err := w.Warm(ctx, records); err != nil {
		c.logger.Debug("similarity warm-up failed", zap.Error(err))
	}
}
