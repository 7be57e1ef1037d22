package reflection

import (
	"time"

	"github.com/ce-dot-net/ace/internal/detect"
	"github.com/ce-dot-net/ace/internal/pattern"
)

// Candidate builds the one-observation record that a verdict contributes
// for rule. The record carries the rule's ID, so repeated detections of
// the same rule fold into one stored record.
func Candidate(rule *detect.Rule, v Verdict, now time.Time) *pattern.Record {
	now = now.UTC()
	r := rule.Record()
	r.CreatedAt = now
	r.Observe(v.ContributedTo, now)
	if v.Insight != "" || v.Recommendation != "" {
		r.AddInsight(pattern.Insight{
			Timestamp:        now,
			Text:             v.Insight,
			Recommendation:   v.Recommendation,
			Confidence:       v.Confidence,
			AppliedCorrectly: v.AppliedCorrectly,
		})
	}
	return r
}
