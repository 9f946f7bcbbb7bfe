package logictree

import (
	"fmt"
	"math"
	"strings"
)

// Enumerate expands the logic tree into the full ordered list of composite
// branches. Order is deterministic: branch sets are visited in file order
// (SRM tier first), and the last set varies fastest, like an odometer. The
// realization matrix is later paired with the returned weights by position,
// so this order is load-bearing.
//
// The sum of composite weights is verified against the validation tolerance;
// a violation indicates a branch set mis-specification or an enumeration
// defect and fails the whole run.
func (lt *LogicTree) Enumerate() ([]Branch, error) {
	if err := lt.Validate(); err != nil {
		return nil, err
	}

	sets := make([]BranchSet, 0, len(lt.SRM)+len(lt.GMCM))
	sets = append(sets, lt.SRM...)
	sets = append(sets, lt.GMCM...)

	// Resolve nested groups once per set.
	leaves := make([][]Branch, len(sets))
	total := 1
	for i, bs := range sets {
		fl, err := flattenBranchSet(bs)
		if err != nil {
			return nil, err
		}
		leaves[i] = fl
		total *= len(fl)
	}

	branches := make([]Branch, 0, total)
	indices := make([]int, len(sets))
	parts := make([]string, len(sets))
	for {
		weight := 1.0
		for i, idx := range indices {
			leaf := leaves[i][idx]
			weight *= leaf.Weight
			parts[i] = sets[i].ID + ":" + leaf.ID
		}
		branches = append(branches, Branch{
			ID:     strings.Join(parts, "|"),
			Weight: weight,
		})

		// Advance the odometer, last set fastest.
		i := len(indices) - 1
		for ; i >= 0; i-- {
			indices[i]++
			if indices[i] < len(leaves[i]) {
				break
			}
			indices[i] = 0
		}
		if i < 0 {
			break
		}
	}

	sum := 0.0
	for _, b := range branches {
		sum += b.Weight
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return nil, &Error{Reason: fmt.Sprintf("enumerated composite weights sum to %v, expected 1.0", sum)}
	}

	return branches, nil
}

// Weights returns the composite weight vector aligned with the given
// enumeration.
func Weights(branches []Branch) []float64 {
	w := make([]float64, len(branches))
	for i, b := range branches {
		w[i] = b.Weight
	}
	return w
}

// BranchIDs returns the ordered branch identifiers of the enumeration.
func BranchIDs(branches []Branch) []string {
	ids := make([]string, len(branches))
	for i, b := range branches {
		ids[i] = b.ID
	}
	return ids
}
