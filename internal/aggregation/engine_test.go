package aggregation

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GNS-Science/toshi-hazard-post/internal/hazard"
)

func newTestEngine(t *testing.T, rule QuantileRule) *Engine {
	t.Helper()
	e, err := NewEngine(rule, zerolog.Nop())
	require.NoError(t, err)
	return e
}

var testLevels = []float64{0.1, 0.2, 0.5}

func constantRow(v float64) []float64 {
	row := make([]float64, len(testLevels))
	for i := range row {
		row[i] = v
	}
	return row
}

func TestAggregate_IdenticalCurvesAreANoOp(t *testing.T) {
	e := newTestEngine(t, QuantileNearest)
	matrix := [][]float64{constantRow(0.05), constantRow(0.05), constantRow(0.05), constantRow(0.05)}
	weights := []float64{0.25, 0.25, 0.25, 0.25}

	out, err := e.Aggregate(testLevels, matrix, weights, []Statistic{StatMean, "0.5"})
	require.NoError(t, err)

	for _, v := range out[StatMean].Values {
		assert.InDelta(t, 0.05, v, 1e-15)
	}
	for _, v := range out["0.5"].Values {
		assert.InDelta(t, 0.05, v, 1e-12)
	}
}

func TestAggregate_EqualWeightsReduceToArithmeticMean(t *testing.T) {
	e := newTestEngine(t, QuantileNearest)
	matrix := [][]float64{
		{0.1, 0.02, 0.001},
		{0.3, 0.06, 0.003},
	}
	weights := []float64{0.5, 0.5}

	out, err := e.Aggregate(testLevels, matrix, weights, []Statistic{StatMean})
	require.NoError(t, err)

	for j := range testLevels {
		want := (matrix[0][j] + matrix[1][j]) / 2
		assert.InDelta(t, want, out[StatMean].Values[j], 1e-15)
	}
}

func TestAggregate_FourBranchWeightedMean(t *testing.T) {
	// 2 SRM branches (0.6/0.4) x 2 GMCM branches (0.7/0.3) with constant
	// curves 0.1, 0.2, 0.3, 0.4 yields a weighted mean of 0.21.
	e := newTestEngine(t, QuantileNearest)
	matrix := [][]float64{constantRow(0.1), constantRow(0.2), constantRow(0.3), constantRow(0.4)}
	weights := []float64{0.6 * 0.7, 0.6 * 0.3, 0.4 * 0.7, 0.4 * 0.3}

	out, err := e.Aggregate(testLevels, matrix, weights, []Statistic{StatMean})
	require.NoError(t, err)

	for _, v := range out[StatMean].Values {
		assert.InDelta(t, 0.21, v, 1e-12)
	}
}

func TestAggregate_MedianTieRuleSelectsLowerValue(t *testing.T) {
	// Two equally weighted branches: the accumulate-and-select rule reaches
	// the 0.5 fraction at the first sorted value, so the median is the
	// lower of the two.
	e := newTestEngine(t, QuantileNearest)
	matrix := [][]float64{constantRow(0.3), constantRow(0.1)}
	weights := []float64{0.5, 0.5}

	out, err := e.Aggregate(testLevels, matrix, weights, []Statistic{"0.5"})
	require.NoError(t, err)

	for _, v := range out["0.5"].Values {
		assert.InDelta(t, 0.1, v, 1e-12)
	}
}

func TestAggregate_QuantilesFollowCumulativeWeight(t *testing.T) {
	e := newTestEngine(t, QuantileNearest)
	matrix := [][]float64{constantRow(0.1), constantRow(0.2), constantRow(0.3), constantRow(0.4)}
	weights := []float64{0.42, 0.18, 0.28, 0.12}

	out, err := e.Aggregate(testLevels, matrix, weights, []Statistic{"0.1", "0.5", "0.9"})
	require.NoError(t, err)

	// Cumulative weights in sorted value order: 0.42, 0.60, 0.88, 1.00.
	assert.InDelta(t, 0.1, out["0.1"].Values[0], 1e-12)
	assert.InDelta(t, 0.2, out["0.5"].Values[0], 1e-12)
	assert.InDelta(t, 0.4, out["0.9"].Values[0], 1e-12)
}

func TestAggregate_LinearRuleInterpolates(t *testing.T) {
	e := newTestEngine(t, QuantileLinear)
	matrix := [][]float64{constantRow(0.1), constantRow(0.3)}
	weights := []float64{0.5, 0.5}

	out, err := e.Aggregate(testLevels, matrix, weights, []Statistic{"0.5"})
	require.NoError(t, err)

	for _, v := range out["0.5"].Values {
		assert.GreaterOrEqual(t, v, 0.1)
		assert.LessOrEqual(t, v, 0.3)
	}
}

func TestAggregate_StdAndCov(t *testing.T) {
	e := newTestEngine(t, QuantileNearest)
	matrix := [][]float64{constantRow(0.1), constantRow(0.3)}
	weights := []float64{0.5, 0.5}

	out, err := e.Aggregate(testLevels, matrix, weights, []Statistic{StatStd, StatCov})
	require.NoError(t, err)

	// Dispersion is computed in rate space, reported through the same
	// rate-to-probability conversion as the other aggregate curves.
	r1 := -math.Log1p(-0.1)
	r2 := -math.Log1p(-0.3)
	meanRate := (r1 + r2) / 2
	stdRate := (r2 - r1) / 2

	for j := range testLevels {
		assert.InDelta(t, -math.Expm1(-stdRate), out[StatStd].Values[j], 1e-12)
		assert.InDelta(t, -math.Expm1(-stdRate/meanRate), out[StatCov].Values[j], 1e-12)
	}
}

func TestAggregate_SingleBranchPassesThrough(t *testing.T) {
	e := newTestEngine(t, QuantileNearest)
	row := []float64{0.9, 0.1, 0.001}

	out, err := e.Aggregate(testLevels, [][]float64{row}, []float64{1.0}, []Statistic{StatMean, "0.5", StatStd})
	require.NoError(t, err)

	assert.Equal(t, row, out[StatMean].Values)
	assert.Equal(t, row, out["0.5"].Values)
	assert.Equal(t, []float64{0, 0, 0}, out[StatStd].Values)
}

func TestAggregate_Validation(t *testing.T) {
	e := newTestEngine(t, QuantileNearest)

	t.Run("weights must sum to one", func(t *testing.T) {
		_, err := e.Aggregate(testLevels, [][]float64{constantRow(0.1), constantRow(0.2)}, []float64{0.5, 0.4}, []Statistic{StatMean})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sum to")
	})

	t.Run("row and weight counts must match", func(t *testing.T) {
		_, err := e.Aggregate(testLevels, [][]float64{constantRow(0.1)}, []float64{0.5, 0.5}, []Statistic{StatMean})
		assert.Error(t, err)
	})

	t.Run("ragged matrix rejected", func(t *testing.T) {
		_, err := e.Aggregate(testLevels, [][]float64{constantRow(0.1), {0.1}}, []float64{0.5, 0.5}, []Statistic{StatMean})
		assert.Error(t, err)
	})

	t.Run("empty matrix rejected", func(t *testing.T) {
		_, err := e.Aggregate(testLevels, nil, nil, []Statistic{StatMean})
		assert.Error(t, err)
	})

	t.Run("corrupt probability surfaces as domain error", func(t *testing.T) {
		_, err := e.Aggregate(testLevels, [][]float64{constantRow(0.1), constantRow(1.5)}, []float64{0.5, 0.5}, []Statistic{StatMean})
		var domainErr *hazard.DomainError
		require.ErrorAs(t, err, &domainErr)
	})

	t.Run("corrupt probability caught for single branch too", func(t *testing.T) {
		_, err := e.Aggregate(testLevels, [][]float64{constantRow(-0.1)}, []float64{1.0}, []Statistic{StatMean})
		var domainErr *hazard.DomainError
		require.ErrorAs(t, err, &domainErr)
	})
}

func TestNewEngine_RejectsUnknownRule(t *testing.T) {
	_, err := NewEngine("nearest-ish", zerolog.Nop())
	assert.Error(t, err)
}
