package logictree

import (
	"fmt"
	"math"
)

// Validate checks every branch set in both tiers. It enforces the contracts
// that historically went wrong in weight composition: no empty branch sets,
// per-set effective weights summing to 1, per-group relative weights summing
// to 1, and no duplicate branch identifiers within a set.
func (lt *LogicTree) Validate() error {
	if len(lt.SRM) == 0 {
		return &Error{Reason: "no SRM branch sets defined"}
	}
	if len(lt.GMCM) == 0 {
		return &Error{Reason: "no GMCM branch sets defined"}
	}
	for _, bs := range lt.SRM {
		if err := validateBranchSet(bs); err != nil {
			return err
		}
	}
	for _, bs := range lt.GMCM {
		if err := validateBranchSet(bs); err != nil {
			return err
		}
	}
	return nil
}

func validateBranchSet(bs BranchSet) error {
	if len(bs.Branches) == 0 {
		return &Error{BranchSet: bs.ID, Reason: "branch set is empty"}
	}

	leaves, err := flattenBranchSet(bs)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(leaves))
	sum := 0.0
	for _, leaf := range leaves {
		if leaf.Weight < 0 {
			return &Error{BranchSet: bs.ID, Reason: fmt.Sprintf("branch %q has negative weight %v", leaf.ID, leaf.Weight)}
		}
		if seen[leaf.ID] {
			return &Error{BranchSet: bs.ID, Reason: fmt.Sprintf("duplicate branch id %q", leaf.ID)}
		}
		seen[leaf.ID] = true
		sum += leaf.Weight
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return &Error{BranchSet: bs.ID, Reason: fmt.Sprintf("branch weights sum to %v, expected 1.0", sum)}
	}
	return nil
}

// flattenBranchSet resolves nested groups into effective leaf branches.
// A group member's effective weight is the group weight times the member's
// relative weight; member ids are qualified with the group id so a group
// member can never be mistaken for (or shadow) a sibling leaf.
func flattenBranchSet(bs BranchSet) ([]Branch, error) {
	leaves := make([]Branch, 0, len(bs.Branches))
	for _, def := range bs.Branches {
		if def.ID == "" {
			return nil, &Error{BranchSet: bs.ID, Reason: "branch with empty id"}
		}
		if !def.IsGroup() {
			leaves = append(leaves, Branch{ID: def.ID, Weight: def.Weight})
			continue
		}

		memberSum := 0.0
		memberSeen := make(map[string]bool, len(def.Members))
		for _, m := range def.Members {
			if m.IsGroup() {
				return nil, &Error{BranchSet: bs.ID, Reason: fmt.Sprintf("group %q nests another group; only two levels are supported", def.ID)}
			}
			if m.ID == "" {
				return nil, &Error{BranchSet: bs.ID, Reason: fmt.Sprintf("group %q has a member with empty id", def.ID)}
			}
			if memberSeen[m.ID] {
				return nil, &Error{BranchSet: bs.ID, Reason: fmt.Sprintf("group %q has duplicate member id %q", def.ID, m.ID)}
			}
			memberSeen[m.ID] = true
			memberSum += m.Weight
			leaves = append(leaves, Branch{
				ID:     def.ID + "/" + m.ID,
				Weight: def.Weight * m.Weight,
			})
		}
		if math.Abs(memberSum-1.0) > WeightTolerance {
			return nil, &Error{BranchSet: bs.ID, Reason: fmt.Sprintf("group %q member weights sum to %v, expected 1.0", def.ID, memberSum)}
		}
	}
	return leaves, nil
}
