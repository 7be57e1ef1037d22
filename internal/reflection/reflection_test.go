package reflection

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ce-dot-net/ace/internal/config"
	"github.com/ce-dot-net/ace/internal/detect"
	"github.com/ce-dot-net/ace/internal/pattern"
	"github.com/ce-dot-net/ace/internal/secrets"
)

func testRules(t *testing.T, ids ...string) []*detect.Rule {
	t.Helper()
	cat := detect.Builtin()
	out := make([]*detect.Rule, 0, len(ids))
	for _, id := range ids {
		r, ok := cat.Rule(id)
		require.True(t, ok, id)
		out = append(out, r)
	}
	return out
}

func TestHeuristicOracle(t *testing.T) {
	rules := testRules(t, "py-001", "py-003")

	tests := []struct {
		status  TestStatus
		outcome pattern.Outcome
		conf    float64
	}{
		{TestsPassed, pattern.OutcomeSuccess, 0.7},
		{TestsFailed, pattern.OutcomeFailure, 0.5},
		{TestsTimeout, pattern.OutcomeNeutral, 0.5},
		{TestsNone, pattern.OutcomeNeutral, 0.5},
		{"", pattern.OutcomeNeutral, 0.5},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			got, err := HeuristicOracle{}.Reflect(context.Background(), Request{Rules: rules, Evidence: Evidence{TestStatus: tt.status}})
			require.NoError(t, err)
			require.Len(t, got, 2)
			for i, v := range got {
				assert.Equal(t, rules[i].ID, v.PatternID)
				assert.Equal(t, tt.outcome, v.ContributedTo)
				assert.InDelta(t, tt.conf, v.Confidence, 1e-9)
				assert.Contains(t, v.Insight, "(heuristic fallback)")
				assert.Equal(t, rules[i].Description, v.Recommendation)
				assert.True(t, v.AppliedCorrectly)
			}
		})
	}
}

func TestParseVerdicts(t *testing.T) {
	req := Request{Rules: testRules(t, "py-001", "py-003")}

	t.Run("fenced object", func(t *testing.T) {
		text := "Here you go:\n```json\n" + `{"patterns_analyzed": [
			{"pattern_id": "py-001", "applied_correctly": true, "contributed_to": "success", "confidence": 1.7, "insight": " typed config ", "recommendation": ""},
			{"pattern_id": "py-003", "applied_correctly": false, "contributed_to": "FAILED", "confidence": -2, "insight": "swallowed error"},
			{"pattern_id": "zz-999", "contributed_to": "success"}
		]}` + "\n```\nThanks."
		got, err := ParseVerdicts(text, req)
		require.NoError(t, err)
		require.Len(t, got, 2)

		assert.Equal(t, pattern.OutcomeSuccess, got[0].ContributedTo)
		assert.Equal(t, 1.0, got[0].Confidence)
		assert.Equal(t, "typed config", got[0].Insight)
		assert.Equal(t, req.Rules[0].Description, got[0].Recommendation)

		assert.Equal(t, pattern.OutcomeFailure, got[1].ContributedTo)
		assert.Equal(t, 0.0, got[1].Confidence)
		assert.False(t, got[1].AppliedCorrectly)
	})

	t.Run("bare array with defaults", func(t *testing.T) {
		got, err := ParseVerdicts(`[{"pattern_id": "py-001", "contributed_to": "meh"}]`, req)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, pattern.OutcomeNeutral, got[0].ContributedTo)
		assert.Equal(t, 0.5, got[0].Confidence)
		assert.True(t, got[0].AppliedCorrectly)
	})

	t.Run("no json", func(t *testing.T) {
		_, err := ParseVerdicts("I cannot help with that.", req)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("broken json", func(t *testing.T) {
		_, err := ParseVerdicts(`{"patterns_analyzed": [}`, req)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

type scriptedClient struct {
	replies []string
	err     error
	prompts []string
}

func (c *scriptedClient) Complete(_ context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return "", c.err
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return reply, nil
}

func TestLLMOracle(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"patterns_analyzed":[{"pattern_id":"py-001","contributed_to":"success","confidence":0.9,"insight":"ok"}]}`}}
	o := NewLLMOracle(client, nil)

	req := Request{
		Code:     "class AppConfig(TypedDict): ...",
		FilePath: "app.py",
		Rules:    testRules(t, "py-001"),
		Evidence: Evidence{TestStatus: TestsFailed, ErrorLogs: "AssertionError"},
	}
	got, err := o.Reflect(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.9, got[0].Confidence)

	prompt := client.prompts[0]
	assert.Contains(t, prompt, "File: app.py")
	assert.Contains(t, prompt, `"id": "py-001"`)
	assert.Contains(t, prompt, "Test status: failed")
	assert.Contains(t, prompt, "AssertionError")
	assert.NotContains(t, prompt, "REFINEMENT ROUND")

	_, err = o.Reflect(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoRules)
}

func TestLLMOracle_RedactsBeforeSending(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"patterns_analyzed":[]}`}}
	scrubber, err := secrets.New(config.SecretsConfig{Enabled: true})
	require.NoError(t, err)
	o := NewLLMOracle(client, nil)
	o.Redactor = scrubber

	key := "sk-ant-api03-" + strings.Repeat("x", 40)
	req := Request{
		Code:     "ANTHROPIC_KEY = \"" + key + "\"\n",
		FilePath: "settings.py",
		Rules:    testRules(t, "py-001"),
		Evidence: Evidence{TestStatus: TestsFailed, ErrorLogs: "auth failed for " + key},
	}
	_, err = o.Reflect(context.Background(), req)
	require.NoError(t, err)

	prompt := client.prompts[0]
	assert.NotContains(t, prompt, key)
	assert.Contains(t, prompt, "ANTHROPIC_KEY = \"[REDACTED]\"")
	assert.Contains(t, prompt, "auth failed for [REDACTED]")
	assert.Contains(t, req.Code, key, "caller's request is untouched")
}

func TestBuildPrompt_Refinement(t *testing.T) {
	prompt := BuildPrompt(Request{
		Rules:    testRules(t, "py-003"),
		Round:    2,
		Previous: []Verdict{{PatternID: "py-003", ContributedTo: pattern.OutcomeFailure, Confidence: 0.5, Insight: "too broad"}},
	})
	assert.Contains(t, prompt, "REFINEMENT ROUND 2")
	assert.Contains(t, prompt, "- py-003 (failure, 0.50): too broad")
	assert.Contains(t, prompt, "Test status: none")
}

func TestFallbackOracle(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	failing := OracleFunc(func(context.Context, Request) ([]Verdict, error) {
		return nil, errors.New("model unavailable")
	})
	var seen error
	f := NewFallbackOracle(failing, zap.New(core))
	f.OnFallback = func(err error) { seen = err }

	got, err := f.Reflect(context.Background(), Request{Rules: testRules(t, "py-001"), Evidence: Evidence{TestStatus: TestsPassed}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pattern.OutcomeSuccess, got[0].ContributedTo)
	assert.Contains(t, got[0].Insight, "(heuristic fallback)")
	assert.EqualError(t, seen, "model unavailable")
	assert.Equal(t, 1, logs.FilterMessage("oracle failed, using fallback").Len())
}

func TestFallbackOracle_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failing := OracleFunc(func(ctx context.Context, _ Request) ([]Verdict, error) {
		return nil, ctx.Err()
	})
	_, err := NewFallbackOracle(failing, nil).Reflect(ctx, Request{Rules: testRules(t, "py-001")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImprovement(t *testing.T) {
	prev := []Verdict{{PatternID: "a", Confidence: 0.5, Insight: "short"}}

	assert.Zero(t, Improvement(nil, prev))
	assert.Zero(t, Improvement(prev, prev))

	// Confidence +0.2 and insight grows by 50 chars over a base of 100.
	next := []Verdict{{PatternID: "a", Confidence: 0.7, Insight: "short" + string(make([]byte, 50))}}
	assert.InDelta(t, 0.2*0.7+0.5*0.3, Improvement(prev, next), 1e-9)

	// Regressions clamp to zero.
	worse := []Verdict{{PatternID: "a", Confidence: 0.1, Insight: "s"}}
	assert.Zero(t, Improvement(prev, worse))
}

func TestRefiningOracle(t *testing.T) {
	rules := testRules(t, "py-001")
	var rounds []int
	// Confidence climbs 0.5, 0.7, 0.72: the third pass improves by only
	// 0.014 and is discarded.
	confs := []float64{0.5, 0.7, 0.72, 0.99}
	o := OracleFunc(func(_ context.Context, req Request) ([]Verdict, error) {
		rounds = append(rounds, req.Round)
		if req.Round > 0 {
			require.Len(t, req.Previous, 1)
		}
		return []Verdict{{PatternID: "py-001", Confidence: confs[req.Round], Insight: "same"}}, nil
	})

	got, err := NewRefiningOracle(o, nil).Reflect(context.Background(), Request{Rules: rules})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, rounds)
	require.Len(t, got, 1)
	assert.Equal(t, 0.7, got[0].Confidence)
}

func TestRefiningOracle_StopsAtMaxRounds(t *testing.T) {
	calls := 0
	o := OracleFunc(func(_ context.Context, req Request) ([]Verdict, error) {
		calls++
		return []Verdict{{PatternID: "x", Confidence: 0.1 * float64(req.Round+1)}}, nil
	})
	r := &RefiningOracle{Oracle: o, MaxRounds: 3, MinImprovement: 0.05}
	got, err := r.Reflect(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.InDelta(t, 0.3, got[0].Confidence, 1e-9)
}

func TestRefiningOracle_FailedRoundKeepsPrevious(t *testing.T) {
	o := OracleFunc(func(_ context.Context, req Request) ([]Verdict, error) {
		if req.Round > 0 {
			return nil, errors.New("boom")
		}
		return []Verdict{{PatternID: "x", Confidence: 0.4}}, nil
	})
	got, err := NewRefiningOracle(o, nil).Reflect(context.Background(), Request{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.4, got[0].Confidence)
}

func TestCandidate(t *testing.T) {
	rule := testRules(t, "py-003")[0]
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	r := Candidate(rule, Verdict{
		PatternID:      "py-003",
		ContributedTo:  pattern.OutcomeFailure,
		Confidence:     0.6,
		Insight:        "hid a KeyError",
		Recommendation: "catch specific exceptions",
	}, now)

	require.NoError(t, r.Validate())
	assert.Equal(t, "py-003", r.ID)
	assert.Equal(t, pattern.KindHarmful, r.Kind)
	assert.Equal(t, "python-error-handling", r.Domain)
	assert.Equal(t, 1, r.Observations)
	assert.Equal(t, 1, r.Failures)
	assert.Zero(t, r.Confidence)
	assert.Equal(t, now.UTC(), r.LastSeen)
	assert.Equal(t, now.UTC(), r.CreatedAt)
	require.Len(t, r.Insights, 1)
	assert.Equal(t, "catch specific exceptions", r.Insights[0].Recommendation)
}
