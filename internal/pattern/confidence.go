package pattern

import (
	"errors"
	"fmt"
)

// Default curation thresholds.
const (
	// DefaultSimilarityThreshold is the minimum similarity for two records
	// to be treated as the same pattern.
	DefaultSimilarityThreshold = 0.85

	// DefaultHighConfidence is the lower bound of the high tier.
	DefaultHighConfidence = 0.70

	// DefaultPruneThreshold is the confidence below which a sufficiently
	// observed record is discarded.
	DefaultPruneThreshold = 0.30

	// DefaultMinSample is the number of observations a record needs before
	// it can be pruned.
	DefaultMinSample = 10
)

// ErrInvalidThresholds is returned by Thresholds.Validate.
var ErrInvalidThresholds = errors.New("invalid curation thresholds")

// Confidence is the plain success ratio clamped to [0, 1].
//
// A record with no observations has confidence 0, so unobserved patterns
// rank below every observed one.
func Confidence(observations, successes int) float64 {
	if observations <= 0 || successes <= 0 {
		return 0
	}
	if successes >= observations {
		return 1
	}
	return float64(successes) / float64(observations)
}

// ConfidenceAnomaly reports counters that can only come from corrupt input:
// more successes than observations.
func ConfidenceAnomaly(observations, successes int) bool {
	return successes > observations
}

// Tier is a confidence band used for rendering and pruning.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Thresholds holds the tunable curation cut-offs.
type Thresholds struct {
	Similarity float64 `json:"similarity" koanf:"similarity_threshold"`
	High       float64 `json:"high" koanf:"high_confidence"`
	Prune      float64 `json:"prune" koanf:"prune_threshold"`
	MinSample  int     `json:"min_sample" koanf:"min_sample"`
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Similarity: DefaultSimilarityThreshold,
		High:       DefaultHighConfidence,
		Prune:      DefaultPruneThreshold,
		MinSample:  DefaultMinSample,
	}
}

// Validate checks that every threshold is in range.
func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{
		"similarity": t.Similarity,
		"high":       t.High,
		"prune":      t.Prune,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s threshold %.2f outside [0,1]", ErrInvalidThresholds, name, v)
		}
	}
	if t.Prune > t.High {
		return fmt.Errorf("%w: prune threshold %.2f above high confidence %.2f", ErrInvalidThresholds, t.Prune, t.High)
	}
	if t.MinSample < 0 {
		return fmt.Errorf("%w: min sample %d is negative", ErrInvalidThresholds, t.MinSample)
	}
	return nil
}

// Tier classifies a confidence value.
func (t Thresholds) Tier(confidence float64) Tier {
	switch {
	case confidence >= t.High:
		return TierHigh
	case confidence >= t.Prune:
		return TierMedium
	default:
		return TierLow
	}
}

// Prunable reports whether r has been observed enough to judge and has
// proven unreliable. Records under MinSample observations are never prunable.
func (t Thresholds) Prunable(r *Record) bool {
	return r.Observations >= t.MinSample && r.Confidence < t.Prune
}
