// Package aggregation implements the weighted aggregation engine that
// reduces a realization matrix and its branch weight vector to aggregate
// hazard curves.
package aggregation

import (
	"fmt"
	"strconv"
)

// Statistic names one aggregate curve to compute: "mean", "std", "cov", or
// a quantile fraction rendered as a decimal string ("0.1", "0.5", "0.9").
type Statistic string

const (
	// StatMean is the weighted arithmetic mean curve.
	StatMean Statistic = "mean"
	// StatStd is the weighted standard deviation curve.
	StatStd Statistic = "std"
	// StatCov is the coefficient of variation curve (std / mean).
	StatCov Statistic = "cov"
)

// Quantile returns the quantile fraction when the statistic is a quantile.
func (s Statistic) Quantile() (float64, bool) {
	switch s {
	case StatMean, StatStd, StatCov:
		return 0, false
	}
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseStatistic validates a single statistic name.
func ParseStatistic(raw string) (Statistic, error) {
	switch Statistic(raw) {
	case StatMean, StatStd, StatCov:
		return Statistic(raw), nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "", fmt.Errorf("unknown aggregate statistic %q", raw)
	}
	if f <= 0 || f >= 1 {
		return "", fmt.Errorf("quantile fraction %q outside (0, 1)", raw)
	}
	return Statistic(raw), nil
}

// ParseStatistics validates a list of statistic names, rejecting duplicates.
func ParseStatistics(raw []string) ([]Statistic, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no aggregate statistics configured")
	}
	stats := make([]Statistic, 0, len(raw))
	seen := make(map[Statistic]bool, len(raw))
	for _, r := range raw {
		s, err := ParseStatistic(r)
		if err != nil {
			return nil, err
		}
		if seen[s] {
			return nil, fmt.Errorf("duplicate aggregate statistic %q", r)
		}
		seen[s] = true
		stats = append(stats, s)
	}
	return stats, nil
}
