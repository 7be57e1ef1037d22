package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidence(t *testing.T) {
	tests := []struct {
		name         string
		observations int
		successes    int
		want         float64
	}{
		{"no observations", 0, 0, 0},
		{"no observations with stray successes", 0, 3, 0},
		{"all successes", 4, 4, 1},
		{"all failures", 12, 0, 0},
		{"ratio", 10, 7, 0.7},
		{"more successes than observations clamps", 5, 8, 1},
		{"negative successes", 5, -2, 0},
		{"negative observations", -1, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.observations, tt.successes)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestConfidenceAnomaly(t *testing.T) {
	assert.True(t, ConfidenceAnomaly(5, 8))
	assert.False(t, ConfidenceAnomaly(5, 5))
	assert.False(t, ConfidenceAnomaly(0, 0))
}

func TestThresholds_Defaults(t *testing.T) {
	th := DefaultThresholds()
	require.NoError(t, th.Validate())
	assert.Equal(t, 0.85, th.Similarity)
	assert.Equal(t, 0.70, th.High)
	assert.Equal(t, 0.30, th.Prune)
	assert.Equal(t, 10, th.MinSample)
}

func TestThresholds_Validate(t *testing.T) {
	th := DefaultThresholds()
	th.Similarity = 1.2
	assert.ErrorIs(t, th.Validate(), ErrInvalidThresholds)

	th = DefaultThresholds()
	th.Prune = 0.8
	assert.ErrorIs(t, th.Validate(), ErrInvalidThresholds)

	th = DefaultThresholds()
	th.MinSample = -1
	assert.ErrorIs(t, th.Validate(), ErrInvalidThresholds)
}

func TestThresholds_Tier(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, TierHigh, th.Tier(0.70))
	assert.Equal(t, TierHigh, th.Tier(1))
	assert.Equal(t, TierMedium, th.Tier(0.69))
	assert.Equal(t, TierMedium, th.Tier(0.30))
	assert.Equal(t, TierLow, th.Tier(0.29))
	assert.Equal(t, TierLow, th.Tier(0))
}

func TestThresholds_Prunable(t *testing.T) {
	th := DefaultThresholds()

	// Scenario: 12 observations, 2 successes -> 0.167, prunable.
	r := &Record{Observations: 12, Successes: 2, Failures: 10}
	r.Recompute()
	assert.InDelta(t, 0.167, r.Confidence, 0.001)
	assert.True(t, th.Prunable(r))

	// Below min sample: never prunable regardless of confidence.
	r = &Record{Observations: 9, Failures: 9}
	r.Recompute()
	assert.False(t, th.Prunable(r))

	// Sampled enough but reliable.
	r = &Record{Observations: 10, Successes: 3, Failures: 7}
	r.Recompute()
	assert.False(t, th.Prunable(r))
}
