package pattern

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counters(obs, succ, fail int) *Record {
	r := &Record{
		ID:           fmt.Sprintf("r-%d-%d-%d", obs, succ, fail),
		Name:         "name",
		Domain:       "d",
		Kind:         KindBeneficial,
		Observations: obs,
		Successes:    succ,
		Failures:     fail,
		Neutrals:     obs - succ - fail,
	}
	r.Recompute()
	return r
}

func TestMerge_SumsCountersAndKeepsTargetIdentity(t *testing.T) {
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)

	target := counters(6, 4, 1)
	target.ID = "target"
	target.BulletID = "py-00001"
	target.Name = "Use TypedDict for configs"
	target.LastSeen = early
	target.CreatedAt = early

	source := counters(4, 3, 1)
	source.ID = "source"
	source.Name = "Use TypedDict for configuration"
	source.LastSeen = late

	merged := Merge(target, source)

	assert.Equal(t, "target", merged.ID)
	assert.Equal(t, "py-00001", merged.BulletID)
	assert.Equal(t, "Use TypedDict for configs", merged.Name)
	assert.Equal(t, 10, merged.Observations)
	assert.Equal(t, 7, merged.Successes)
	assert.Equal(t, 2, merged.Failures)
	assert.Equal(t, 1, merged.Neutrals)
	assert.InDelta(t, 0.7, merged.Confidence, 1e-9)
	assert.Equal(t, late, merged.LastSeen)
	assert.Equal(t, early, merged.CreatedAt)
	require.NoError(t, merged.Validate())

	// Inputs untouched.
	assert.Equal(t, 6, target.Observations)
	assert.Equal(t, 4, source.Observations)
}

func TestMerge_InsightsKeepMostRecent(t *testing.T) {
	target := counters(1, 1, 0)
	source := counters(1, 0, 1)
	for i := 0; i < 7; i++ {
		target.Insights = append(target.Insights, Insight{Text: fmt.Sprintf("t%d", i)})
		source.Insights = append(source.Insights, Insight{Text: fmt.Sprintf("s%d", i)})
	}

	merged := Merge(target, source)
	require.Len(t, merged.Insights, MaxInsights)
	// 14 combined, the oldest 4 target insights fall off.
	assert.Equal(t, "t4", merged.Insights[0].Text)
	assert.Equal(t, "s6", merged.Insights[MaxInsights-1].Text)
	assert.Len(t, target.Insights, 7)
}

func TestMerge_NilSource(t *testing.T) {
	target := counters(3, 2, 1)
	merged := Merge(target, nil)
	assert.Equal(t, target, merged)
	assert.NotSame(t, target, merged)
}

func TestMerge_CountersAssociative(t *testing.T) {
	a, b, c := counters(3, 2, 1), counters(5, 1, 2), counters(8, 8, 0)

	left := Merge(Merge(a, b), c)
	right := Merge(a, Merge(b, c))

	assert.Equal(t, left.Observations, right.Observations)
	assert.Equal(t, left.Successes, right.Successes)
	assert.Equal(t, left.Failures, right.Failures)
	assert.Equal(t, left.Neutrals, right.Neutrals)
	assert.InDelta(t, left.Confidence, right.Confidence, 1e-12)
}

func TestMergeAll(t *testing.T) {
	merged := MergeAll(counters(2, 1, 1), counters(2, 2, 0), counters(6, 0, 6))
	assert.Equal(t, 10, merged.Observations)
	assert.Equal(t, 3, merged.Successes)
	assert.InDelta(t, 0.3, merged.Confidence, 1e-9)
}
