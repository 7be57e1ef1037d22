package reflection

import (
	"context"
	"errors"
	"math"

	"github.com/ce-dot-net/ace/internal/detect"
	"github.com/ce-dot-net/ace/internal/pattern"
)

var (
	// ErrNoRules is returned when a request carries nothing to judge.
	ErrNoRules = errors.New("no detected rules to reflect on")

	// ErrMalformedResponse is returned when oracle output cannot be decoded.
	ErrMalformedResponse = errors.New("malformed oracle response")
)

// Verdict is an oracle's judgement of one detected pattern.
type Verdict struct {
	PatternID        string          `json:"pattern_id"`
	AppliedCorrectly bool            `json:"applied_correctly"`
	ContributedTo    pattern.Outcome `json:"contributed_to"`
	Confidence       float64         `json:"confidence"`
	Insight          string          `json:"insight"`
	Recommendation   string          `json:"recommendation"`
}

// Request is everything an oracle may look at.
type Request struct {
	Code     string
	FilePath string
	Rules    []*detect.Rule
	Evidence Evidence

	// Previous holds the verdicts of the last round during refinement.
	Previous []Verdict
	// Round is 0 for the first pass and counts up during refinement.
	Round int
}

// Oracle produces verdicts for the rules in a request. It may return fewer
// verdicts than rules; unjudged rules are skipped by the caller.
type Oracle interface {
	Reflect(ctx context.Context, req Request) ([]Verdict, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, req Request) ([]Verdict, error)

func (f OracleFunc) Reflect(ctx context.Context, req Request) ([]Verdict, error) {
	return f(ctx, req)
}

// ByPattern indexes verdicts by pattern ID. When an oracle reports the same
// pattern twice the first verdict wins.
func ByPattern(verdicts []Verdict) map[string]Verdict {
	out := make(map[string]Verdict, len(verdicts))
	for _, v := range verdicts {
		if _, ok := out[v.PatternID]; !ok {
			out[v.PatternID] = v
		}
	}
	return out
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
