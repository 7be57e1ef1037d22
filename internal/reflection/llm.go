package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/pattern"
)

const maxPromptCode = 12000

// Redactor removes secrets from text before it is sent to a model.
type Redactor interface {
	Redact(string) string
}

// LLMOracle asks a language model for verdicts in JSON.
type LLMOracle struct {
	client LLMClient
	logger *zap.Logger

	// Redactor, when set, is applied to the code and test logs.
	Redactor Redactor
}

// NewLLMOracle wraps client. A nil logger is replaced with a no-op.
func NewLLMOracle(client LLMClient, logger *zap.Logger) *LLMOracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMOracle{client: client, logger: logger}
}

func (o *LLMOracle) Reflect(ctx context.Context, req Request) ([]Verdict, error) {
	if len(req.Rules) == 0 {
		return nil, ErrNoRules
	}
	if o.Redactor != nil {
		req.Code = o.Redactor.Redact(req.Code)
		req.Evidence.ErrorLogs = o.Redactor.Redact(req.Evidence.ErrorLogs)
		req.Evidence.Output = o.Redactor.Redact(req.Evidence.Output)
	}
	text, err := o.client.Complete(ctx, BuildPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("completing reflection prompt: %w", err)
	}
	verdicts, err := ParseVerdicts(text, req)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("llm reflection complete",
		zap.String("file", req.FilePath),
		zap.Int("round", req.Round),
		zap.Int("rules", len(req.Rules)),
		zap.Int("verdicts", len(verdicts)))
	return verdicts, nil
}

type promptPattern struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
}

// BuildPrompt renders the reflection prompt for req.
func BuildPrompt(req Request) string {
	patterns := make([]promptPattern, 0, len(req.Rules))
	for _, r := range req.Rules {
		patterns = append(patterns, promptPattern{ID: r.ID, Name: r.Name, Description: r.Description, Kind: string(r.Kind)})
	}
	patternsJSON, _ := json.MarshalIndent(patterns, "", "  ")

	code := req.Code
	if len(code) > maxPromptCode {
		code = code[:maxPromptCode] + "\n... (truncated)"
	}

	var b strings.Builder
	b.WriteString("You review code edits and judge whether known coding patterns helped or hurt.\n\n")
	fmt.Fprintf(&b, "File: %s\n\n", req.FilePath)
	fmt.Fprintf(&b, "Detected patterns:\n%s\n\n", patternsJSON)

	status := req.Evidence.TestStatus
	if status == "" {
		status = TestsNone
	}
	fmt.Fprintf(&b, "Test status: %s\n", status)
	if req.Evidence.ErrorLogs != "" {
		fmt.Fprintf(&b, "Error logs:\n%s\n", req.Evidence.ErrorLogs)
	}
	fmt.Fprintf(&b, "\nCode:\n```\n%s\n```\n\n", code)

	if len(req.Previous) > 0 {
		fmt.Fprintf(&b, "REFINEMENT ROUND %d: review your previous analysis and improve it.\n\nPrevious insights:\n", req.Round)
		for _, v := range req.Previous {
			fmt.Fprintf(&b, "- %s (%s, %.2f): %s\n", v.PatternID, v.ContributedTo, v.Confidence, v.Insight)
		}
		b.WriteString("\nAdd specific evidence from the code, make recommendations actionable, " +
			"note edge cases you missed, and raise confidence only where the code justifies it.\n\n")
	}

	b.WriteString(`Respond with JSON only, in this shape:
{"patterns_analyzed": [{"pattern_id": "...", "applied_correctly": true, "contributed_to": "success|failure|neutral", "confidence": 0.0, "insight": "...", "recommendation": "..."}]}
Only include patterns from the list above.`)
	return b.String()
}

type rawVerdict struct {
	PatternID        string   `json:"pattern_id"`
	AppliedCorrectly *bool    `json:"applied_correctly"`
	ContributedTo    string   `json:"contributed_to"`
	Confidence       *float64 `json:"confidence"`
	Insight          string   `json:"insight"`
	Recommendation   string   `json:"recommendation"`
}

// ParseVerdicts decodes model output. Code fences and surrounding prose are
// tolerated, as is a bare array instead of the patterns_analyzed object.
// Verdicts for patterns that are not in req are dropped; confidences are
// clamped to [0, 1].
func ParseVerdicts(text string, req Request) ([]Verdict, error) {
	body := extractJSON(text)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON found", ErrMalformedResponse)
	}

	var raws []rawVerdict
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &raws); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	} else {
		var env struct {
			PatternsAnalyzed []rawVerdict `json:"patterns_analyzed"`
		}
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		raws = env.PatternsAnalyzed
	}

	known := make(map[string]string, len(req.Rules))
	for _, r := range req.Rules {
		known[r.ID] = r.Description
	}

	out := make([]Verdict, 0, len(raws))
	for _, raw := range raws {
		desc, ok := known[raw.PatternID]
		if !ok {
			continue
		}
		v := Verdict{
			PatternID:        raw.PatternID,
			AppliedCorrectly: true,
			ContributedTo:    pattern.ParseOutcome(raw.ContributedTo),
			Confidence:       0.5,
			Insight:          strings.TrimSpace(raw.Insight),
			Recommendation:   strings.TrimSpace(raw.Recommendation),
		}
		if raw.AppliedCorrectly != nil {
			v.AppliedCorrectly = *raw.AppliedCorrectly
		}
		if raw.Confidence != nil {
			v.Confidence = clampConfidence(*raw.Confidence)
		}
		if v.Recommendation == "" {
			v.Recommendation = desc
		}
		out = append(out, v)
	}
	return out, nil
}

// extractJSON returns the outermost JSON object or array in text.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		text = strings.TrimSpace(rest)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end < start {
		return ""
	}
	return text[start : end+1]
}
