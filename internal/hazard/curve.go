// Package hazard defines the hazard curve domain type and the
// probability/rate conversions used by the aggregation engine.
package hazard

import "fmt"

// Curve is a hazard curve: annual probability of exceedance sampled at a
// fixed set of intensity measure levels. Levels and Values are always the
// same length and Levels is strictly increasing.
type Curve struct {
	Levels []float64 `msgpack:"levels"`
	Values []float64 `msgpack:"values"`
}

// NewCurve builds a curve after checking that levels and values align.
func NewCurve(levels, values []float64) (Curve, error) {
	if len(levels) == 0 {
		return Curve{}, fmt.Errorf("hazard curve has no levels")
	}
	if len(levels) != len(values) {
		return Curve{}, fmt.Errorf("hazard curve has %d levels but %d values", len(levels), len(values))
	}
	for i := 1; i < len(levels); i++ {
		if levels[i] <= levels[i-1] {
			return Curve{}, fmt.Errorf("hazard curve levels not strictly increasing at index %d", i)
		}
	}
	return Curve{Levels: levels, Values: values}, nil
}

// SameLevels reports whether two curves share an identical intensity level
// axis. All realizations for one IMT must share the axis; a mismatch is a
// fatal data error, not something to interpolate over.
func (c Curve) SameLevels(other Curve) bool {
	if len(c.Levels) != len(other.Levels) {
		return false
	}
	for i, l := range c.Levels {
		if other.Levels[i] != l {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the curve.
func (c Curve) Clone() Curve {
	out := Curve{
		Levels: make([]float64, len(c.Levels)),
		Values: make([]float64, len(c.Values)),
	}
	copy(out.Levels, c.Levels)
	copy(out.Values, c.Values)
	return out
}
