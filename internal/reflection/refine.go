package reflection

import (
	"context"

	"go.uber.org/zap"
)

const (
	DefaultMaxRounds      = 5
	DefaultMinImprovement = 0.05

	confidenceWeight  = 0.7
	specificityWeight = 0.3
	minInsightBase    = 100
)

// RefiningOracle runs Oracle once and then re-asks it with its own
// verdicts, up to MaxRounds passes in total. Refinement stops as soon as a
// round improves on the previous one by less than MinImprovement; that
// round's verdicts are discarded.
type RefiningOracle struct {
	Oracle         Oracle
	MaxRounds      int
	MinImprovement float64
	Logger         *zap.Logger
}

// NewRefiningOracle uses the default round limit and threshold.
func NewRefiningOracle(o Oracle, logger *zap.Logger) *RefiningOracle {
	return &RefiningOracle{Oracle: o, MaxRounds: DefaultMaxRounds, MinImprovement: DefaultMinImprovement, Logger: logger}
}

func (r *RefiningOracle) Reflect(ctx context.Context, req Request) ([]Verdict, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	current, err := r.Oracle.Reflect(ctx, req)
	if err != nil {
		return nil, err
	}

	for round := 1; round < r.MaxRounds; round++ {
		if len(current) == 0 {
			break
		}
		next := req
		next.Previous = current
		next.Round = round

		refined, err := r.Oracle.Reflect(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("refinement round failed, keeping previous verdicts", zap.Int("round", round), zap.Error(err))
			break
		}

		gain := Improvement(current, refined)
		if gain < r.MinImprovement {
			logger.Debug("refinement converged", zap.Int("round", round), zap.Float64("improvement", gain))
			break
		}
		logger.Debug("refinement improved verdicts", zap.Int("round", round), zap.Float64("improvement", gain))
		current = refined
	}
	return current, nil
}

// Improvement scores how much next improves on prev. Verdicts are paired
// by pattern ID. The score weighs the mean confidence gain at 0.7 and the
// mean relative growth of insight text at 0.3, and is never negative.
func Improvement(prev, next []Verdict) float64 {
	if len(prev) == 0 || len(next) == 0 {
		return 0
	}
	before := ByPattern(prev)

	var confSum, specSum float64
	var paired int
	for _, v := range next {
		old, ok := before[v.PatternID]
		if !ok {
			continue
		}
		paired++
		confSum += v.Confidence - old.Confidence
		oldLen, newLen := len(old.Insight), len(v.Insight)
		if newLen > oldLen {
			specSum += float64(newLen-oldLen) / float64(max(oldLen, minInsightBase))
		}
	}

	avgConf := confSum / float64(max(paired, 1))
	avgSpec := specSum / float64(len(next))
	return max(0, avgConf*confidenceWeight+avgSpec*specificityWeight)
}
