package aggregation

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/GNS-Science/toshi-hazard-post/internal/hazard"
)

// weightSumTolerance is the tolerance on the weight vector sum.
const weightSumTolerance = 1e-6

// QuantileRule names the weighted-quantile selection rule. Prior releases of
// the system changed this behaviour implicitly, so it is an explicit,
// documented configuration value rather than a default buried in the engine.
type QuantileRule string

const (
	// QuantileNearest selects the first sorted value whose cumulative
	// weight reaches the target fraction (weighted nearest-rank). Ties in
	// value keep branch enumeration order via a stable sort, so results
	// are reproducible when probabilities are exactly equal.
	QuantileNearest QuantileRule = "nearest"
	// QuantileLinear interpolates linearly between the two bracketing
	// weighted ranks.
	QuantileLinear QuantileRule = "linear"
)

// ParseQuantileRule validates a quantile rule name.
func ParseQuantileRule(raw string) (QuantileRule, error) {
	switch QuantileRule(raw) {
	case QuantileNearest, QuantileLinear:
		return QuantileRule(raw), nil
	}
	return "", fmt.Errorf("unknown quantile rule %q (want %q or %q)", raw, QuantileNearest, QuantileLinear)
}

// Engine computes weighted aggregate statistics over a realization matrix.
// An Engine is immutable after construction and safe for concurrent use by
// multiple workers.
type Engine struct {
	rule QuantileRule
	log  zerolog.Logger
}

// NewEngine creates an aggregation engine with the given quantile rule.
func NewEngine(rule QuantileRule, log zerolog.Logger) (*Engine, error) {
	if _, err := ParseQuantileRule(string(rule)); err != nil {
		return nil, err
	}
	return &Engine{rule: rule, log: log}, nil
}

// Rule returns the configured quantile rule.
func (e *Engine) Rule() QuantileRule { return e.rule }

// Aggregate reduces a realization matrix (rows = branches in enumeration
// order, columns = intensity levels, values = annual probability of
// exceedance) and its aligned weight vector to one curve per requested
// statistic.
//
// The mean is a probability-weighted arithmetic mean computed directly in
// probability space; expectation is linear, so no domain conversion is
// needed or wanted there. Quantiles, std and cov are computed in rate space
// (rate = -ln(1-p)) because branch values span many orders of magnitude and
// summation in probability space loses precision in the curve tail. The
// matrix is converted to rates exactly once up front and aggregate rates are
// converted back once at the end.
//
// Intensity levels are aggregated independently; a single-branch matrix is
// returned unchanged.
func (e *Engine) Aggregate(levels []float64, matrix [][]float64, weights []float64, stats []Statistic) (map[Statistic]hazard.Curve, error) {
	if len(stats) == 0 {
		return nil, fmt.Errorf("no statistics requested")
	}
	if len(matrix) == 0 {
		return nil, fmt.Errorf("empty realization matrix")
	}
	if len(matrix) != len(weights) {
		return nil, fmt.Errorf("realization matrix has %d rows but weight vector has %d entries", len(matrix), len(weights))
	}
	nlevels := len(levels)
	for i, row := range matrix {
		if len(row) != nlevels {
			return nil, fmt.Errorf("realization row %d has %d levels, expected %d", i, len(row), nlevels)
		}
	}

	wsum := 0.0
	for _, w := range weights {
		wsum += w
	}
	if math.Abs(wsum-1.0) > weightSumTolerance {
		return nil, fmt.Errorf("branch weights sum to %v, expected 1.0", wsum)
	}

	// A single branch is its own aggregate for every statistic except the
	// dispersion measures, which are identically zero.
	if len(matrix) == 1 {
		return e.singleBranch(levels, matrix[0], stats)
	}

	// One probability-to-rate conversion for the whole matrix. Repeating
	// the conversion per statistic or per pairwise operation multiplies
	// both cost and round-trip error.
	rates := make([][]float64, len(matrix))
	for i, row := range matrix {
		r, err := hazard.ProbsToRates(row)
		if err != nil {
			return nil, fmt.Errorf("branch row %d: %w", i, err)
		}
		rates[i] = r
	}

	out := make(map[Statistic]hazard.Curve, len(stats))
	for _, s := range stats {
		out[s] = hazard.Curve{Levels: levels, Values: make([]float64, nlevels)}
	}

	probCol := make([]float64, len(matrix))
	rateCol := make([]float64, len(matrix))
	for j := 0; j < nlevels; j++ {
		for i := range matrix {
			probCol[i] = matrix[i][j]
			rateCol[i] = rates[i][j]
		}

		var sorted *weightedColumn
		var meanRate, stdRate float64
		var momentsDone bool

		for _, s := range stats {
			switch s {
			case StatMean:
				out[s].Values[j] = stat.Mean(probCol, weights)
			case StatStd, StatCov:
				if !momentsDone {
					meanRate, stdRate = weightedMeanStd(rateCol, weights)
					momentsDone = true
				}
				v := stdRate
				if s == StatCov {
					if meanRate == 0 {
						v = 0
					} else {
						v = stdRate / meanRate
					}
				}
				out[s].Values[j] = hazard.RateToProb(v)
			default:
				frac, _ := s.Quantile()
				if sorted == nil {
					sorted = sortWeighted(rateCol, weights)
				}
				out[s].Values[j] = hazard.RateToProb(e.quantile(frac, sorted))
			}
		}
	}

	return out, nil
}

func (e *Engine) singleBranch(levels []float64, row []float64, stats []Statistic) (map[Statistic]hazard.Curve, error) {
	// Still run the values through the domain check so corrupt input is
	// caught regardless of ensemble size.
	if _, err := hazard.ProbsToRates(row); err != nil {
		return nil, err
	}
	out := make(map[Statistic]hazard.Curve, len(stats))
	for _, s := range stats {
		values := make([]float64, len(row))
		if s != StatStd && s != StatCov {
			copy(values, row)
		}
		out[s] = hazard.Curve{Levels: levels, Values: values}
	}
	return out, nil
}

// weightedColumn is one intensity level's branch values, stable-sorted by
// value with their weights carried along.
type weightedColumn struct {
	values  []float64
	weights []float64
}

// sortWeighted stable-sorts a column by value. The stable sort preserves
// branch enumeration order between equal values, which fixes the quantile
// tie rule.
func sortWeighted(values, weights []float64) *weightedColumn {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return values[idx[a]] < values[idx[b]]
	})
	col := &weightedColumn{
		values:  make([]float64, len(values)),
		weights: make([]float64, len(weights)),
	}
	for i, k := range idx {
		col.values[i] = values[k]
		col.weights[i] = weights[k]
	}
	return col
}

func (e *Engine) quantile(frac float64, col *weightedColumn) float64 {
	kind := stat.Empirical
	if e.rule == QuantileLinear {
		kind = stat.LinInterp
	}
	return stat.Quantile(frac, kind, col.values, col.weights)
}

// weightedMeanStd returns the weighted mean and the population-weighted
// standard deviation. gonum's stat.StdDev applies a sample correction of
// sum(w)-1 in the denominator, which is meaningless for branch weights that
// are normalized to sum to 1, so the second moment is accumulated directly.
func weightedMeanStd(values, weights []float64) (mean, std float64) {
	mean = stat.Mean(values, weights)
	var wsum, m2 float64
	for i, v := range values {
		d := v - mean
		m2 += weights[i] * d * d
		wsum += weights[i]
	}
	return mean, math.Sqrt(m2 / wsum)
}
