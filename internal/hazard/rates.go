package hazard

import (
	"fmt"
	"math"
)

// InvTime is the investigation time in years assumed by the Poisson
// probability/rate conversion. Hazard curves in the realization store are
// annual probabilities of exceedance.
const InvTime = 1.0

// maxProb is the largest probability accepted before the rate conversion
// saturates. A probability of exactly 1 has an infinite Poisson rate, so the
// conversion clamps to this value to keep every rate finite.
const maxProb = 1 - 1e-15

// DomainError reports a probability outside [0,1] encountered during rate
// conversion. It indicates corrupted upstream data and is fatal for the task
// that hit it.
type DomainError struct {
	Value float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("probability %v outside [0, 1]", e.Value)
}

// ProbToRate converts an annual probability of exceedance to the equivalent
// Poisson rate, r = -ln(1-p)/invTime. p=0 maps to rate 0 and p=1 clamps to a
// large finite rate rather than +Inf.
func ProbToRate(p float64) (float64, error) {
	if p < 0 || p > 1 || math.IsNaN(p) {
		return 0, &DomainError{Value: p}
	}
	if p > maxProb {
		p = maxProb
	}
	// math.Log1p(-p) is accurate for the small probabilities that dominate
	// hazard curve tails.
	return -math.Log1p(-p) / InvTime, nil
}

// RateToProb converts a Poisson rate back to an annual probability of
// exceedance, p = 1 - exp(-r*invTime).
func RateToProb(r float64) float64 {
	// math.Expm1 keeps precision for small rates, where 1-exp(-r) would
	// cancel to zero.
	return -math.Expm1(-r * InvTime)
}

// ProbsToRates converts a slice of probabilities in place-order, returning a
// new slice. The conversion is applied exactly once per aggregation task;
// callers must not round-trip values through this repeatedly.
func ProbsToRates(probs []float64) ([]float64, error) {
	rates := make([]float64, len(probs))
	for i, p := range probs {
		r, err := ProbToRate(p)
		if err != nil {
			return nil, fmt.Errorf("level index %d: %w", i, err)
		}
		rates[i] = r
	}
	return rates, nil
}

// RatesToProbs converts a slice of rates back to probabilities.
func RatesToProbs(rates []float64) []float64 {
	probs := make([]float64, len(rates))
	for i, r := range rates {
		probs[i] = RateToProb(r)
	}
	return probs
}
