package hazard

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbToRate_RoundTrip(t *testing.T) {
	// Round trip must hold across the full span of annual probabilities a
	// national model produces, from near-certain to one-in-a-hundred-million.
	probs := []float64{1e-8, 1e-6, 1e-4, 0.01, 0.1, 0.5, 0.9, 0.999}

	for _, p := range probs {
		rate, err := ProbToRate(p)
		require.NoError(t, err)
		assert.InDelta(t, p, RateToProb(rate), 1e-12, "round trip for p=%v", p)
	}
}

func TestProbToRate_Bounds(t *testing.T) {
	t.Run("zero maps to zero rate", func(t *testing.T) {
		rate, err := ProbToRate(0)
		require.NoError(t, err)
		assert.Equal(t, 0.0, rate)
		assert.Equal(t, 0.0, RateToProb(rate))
	})

	t.Run("one clamps to a finite rate", func(t *testing.T) {
		rate, err := ProbToRate(1)
		require.NoError(t, err)
		assert.False(t, math.IsInf(rate, 1))
		assert.False(t, math.IsNaN(rate))
		assert.InDelta(t, 1.0, RateToProb(rate), 1e-9)
	})

	t.Run("out of domain values are rejected", func(t *testing.T) {
		for _, p := range []float64{-0.1, 1.1, math.NaN()} {
			_, err := ProbToRate(p)
			var domainErr *DomainError
			require.ErrorAs(t, err, &domainErr, "p=%v", p)
		}
	})
}

func TestProbsToRates_ReportsLevelIndex(t *testing.T) {
	_, err := ProbsToRates([]float64{0.1, 0.2, 1.5})

	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 1.5, domainErr.Value)
	assert.Contains(t, err.Error(), "level index 2")
}

func TestRateToProb_SmallRates(t *testing.T) {
	// Small rates must not cancel to zero.
	p := RateToProb(1e-9)
	assert.Greater(t, p, 0.0)
	assert.InDelta(t, 1e-9, p, 1e-15)
}

func TestNewCurve(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		c, err := NewCurve([]float64{0.01, 0.1, 1.0}, []float64{0.9, 0.5, 0.01})
		require.NoError(t, err)
		assert.Len(t, c.Levels, 3)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := NewCurve([]float64{0.01, 0.1}, []float64{0.9})
		assert.Error(t, err)
	})

	t.Run("levels must increase", func(t *testing.T) {
		_, err := NewCurve([]float64{0.1, 0.1}, []float64{0.9, 0.5})
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewCurve(nil, nil)
		assert.Error(t, err)
	})
}

func TestCurve_SameLevels(t *testing.T) {
	a := Curve{Levels: []float64{0.1, 0.2}, Values: []float64{0.5, 0.4}}
	b := Curve{Levels: []float64{0.1, 0.2}, Values: []float64{0.1, 0.05}}
	c := Curve{Levels: []float64{0.1, 0.3}, Values: []float64{0.5, 0.4}}

	assert.True(t, a.SameLevels(b))
	assert.False(t, a.SameLevels(c))
	assert.False(t, a.SameLevels(Curve{}))
}

func TestDomainErrorIsError(t *testing.T) {
	err := error(&DomainError{Value: 2})
	var domainErr *DomainError
	assert.True(t, errors.As(err, &domainErr))
	assert.Contains(t, err.Error(), "outside [0, 1]")
}
