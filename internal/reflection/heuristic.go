package reflection

import (
	"context"
	"fmt"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// HeuristicOracle judges every rule from the test status alone.
//
//	passed  -> success, confidence 0.7
//	failed  -> failure, confidence 0.5
//	other   -> neutral, confidence 0.5
type HeuristicOracle struct{}

func (HeuristicOracle) Reflect(ctx context.Context, req Request) ([]Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcome, confidence := pattern.OutcomeNeutral, 0.5
	switch req.Evidence.TestStatus {
	case TestsPassed:
		outcome, confidence = pattern.OutcomeSuccess, 0.7
	case TestsFailed:
		outcome = pattern.OutcomeFailure
	}

	status := req.Evidence.TestStatus
	if status == "" {
		status = TestsNone
	}

	out := make([]Verdict, 0, len(req.Rules))
	for _, r := range req.Rules {
		out = append(out, Verdict{
			PatternID:        r.ID,
			AppliedCorrectly: true,
			ContributedTo:    outcome,
			Confidence:       confidence,
			Insight:          fmt.Sprintf("Pattern '%s' detected. Tests %s. (heuristic fallback)", r.Name, status),
			Recommendation:   r.Description,
		})
	}
	return out, nil
}
