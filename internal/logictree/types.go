// Package logictree models the combined SRM + GMCM hazard logic tree and
// enumerates its weighted branch combinations.
//
// The tree has two tiers: seismicity rate model (SRM) branch sets and ground
// motion characterization model (GMCM) branch sets. A full realization of
// the model picks one branch from every branch set in both tiers; its
// composite weight is the product of the picked base weights. Weights within
// a branch set always sum to 1, so composite weights over the full
// enumeration sum to 1 as well.
package logictree

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WeightTolerance is the tolerance applied to per-branch-set weight sums
// during validation.
const WeightTolerance = 1e-6

// BranchDef is one entry in a branch set. A plain entry is a leaf branch
// with a base weight. An entry with Members is a nested group: the group
// carries the outer weight and each member a relative weight within the
// group, so a member's effective weight is group weight times member weight.
type BranchDef struct {
	ID      string      `yaml:"id"`
	Weight  float64     `yaml:"weight"`
	Members []BranchDef `yaml:"members,omitempty"`
}

// IsGroup reports whether the entry is a nested group.
func (b BranchDef) IsGroup() bool { return len(b.Members) > 0 }

// BranchSet is a named set of alternative branches whose weights sum to 1.
type BranchSet struct {
	ID       string      `yaml:"id"`
	Branches []BranchDef `yaml:"branches"`
}

// LogicTree is the two-tier logic tree definition as loaded from the model
// library. Branch set and branch order is the file order and is significant:
// enumeration is deterministic with respect to it.
type LogicTree struct {
	SRM  []BranchSet `yaml:"srm"`
	GMCM []BranchSet `yaml:"gmcm"`
}

// Branch is one enumerated combination across every branch set of both
// tiers. ID is the "|"-joined list of "set:branch" elements, so branch
// identifier reuse across sets or tiers can never alias.
type Branch struct {
	ID     string
	Weight float64
}

// Error reports an invalid logic tree definition or an enumeration
// inconsistency. It is fatal and aborts a run before any aggregation work is
// dispatched.
type Error struct {
	BranchSet string
	Reason    string
}

func (e *Error) Error() string {
	if e.BranchSet == "" {
		return fmt.Sprintf("logic tree: %s", e.Reason)
	}
	return fmt.Sprintf("logic tree: branch set %q: %s", e.BranchSet, e.Reason)
}

// Load reads and validates a logic tree definition from a YAML file.
func Load(path string) (*LogicTree, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logic tree file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML logic tree definition.
func Parse(raw []byte) (*LogicTree, error) {
	var lt LogicTree
	if err := yaml.Unmarshal(raw, &lt); err != nil {
		return nil, fmt.Errorf("failed to parse logic tree definition: %w", err)
	}
	if err := lt.Validate(); err != nil {
		return nil, err
	}
	return &lt, nil
}
