package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func results(flags []bool, scores []float64) map[string]ModelResult {
	names := []string{"prompt-guard", "pii-detect", "hate-detect", "content-class"}
	out := make(map[string]ModelResult, len(flags))
	for i := range flags {
		out[names[i]] = ModelResult{Flagged: flags[i], Score: scores[i]}
	}
	return out
}

func TestAggregate(t *testing.T) {
	t.Run("empty results are false for every strategy", func(t *testing.T) {
		empty := map[string]ModelResult{}

		for _, strategy := range []Strategy{AnyFlag, AllFlag, Majority, Threshold} {
			assert.False(t, Aggregate(empty, strategy), strategy.String())
		}
	})

	t.Run("truth table for one flag of three", func(t *testing.T) {
		// Flags [T,F,F], scores [0.9, 0.1, 0.2].
		rs := results([]bool{true, false, false}, []float64{0.9, 0.1, 0.2})

		assert.True(t, Aggregate(rs, AnyFlag))
		assert.False(t, Aggregate(rs, AllFlag))
		assert.False(t, Aggregate(rs, Majority))
		assert.False(t, Aggregate(rs, Threshold))
	})

	t.Run("any flag", func(t *testing.T) {
		assert.False(t, Aggregate(results([]bool{false, false}, []float64{0, 0}), AnyFlag))
		assert.True(t, Aggregate(results([]bool{false, true}, []float64{0, 1}), AnyFlag))
	})

	t.Run("all flag", func(t *testing.T) {
		assert.True(t, Aggregate(results([]bool{true, true}, []float64{1, 1}), AllFlag))
		assert.False(t, Aggregate(results([]bool{true, false}, []float64{1, 0}), AllFlag))
	})

	t.Run("majority is strict", func(t *testing.T) {
		// Two of four is a tie, not a majority.
		assert.False(t, Aggregate(results([]bool{true, true, false, false}, []float64{1, 1, 0, 0}), Majority))
		assert.True(t, Aggregate(results([]bool{true, true, true, false}, []float64{1, 1, 1, 0}), Majority))
		assert.True(t, Aggregate(results([]bool{true, true}, []float64{1, 1}), Majority))
	})

	t.Run("threshold uses mean score", func(t *testing.T) {
		assert.True(t, Aggregate(results([]bool{false, false}, []float64{0.9, 0.3}), Threshold))
		assert.False(t, Aggregate(results([]bool{false, false}, []float64{0.5, 0.5}), Threshold))
		assert.False(t, Aggregate(results([]bool{true, true}, []float64{0.2, 0.3}), Threshold))
	})
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]Strategy{
		"any_flag":  AnyFlag,
		"all_flag":  AllFlag,
		"majority":  Majority,
		"threshold": Threshold,
	} {
		got, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseStrategy("weighted")
	assert.Error(t, err)
}
