package branch

import (
	"fmt"
	"strings"

	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

type rule struct {
	reduction    *cfg.IDSet
	substitution *cfg.IDSet
}

// ReductionRules maps sets of joined branch IDs to the smaller sets that
// replace them. Rules are applied in the order they were first added.
type ReductionRules struct {
	rules []*rule
}

// NewReductionRules returns an empty rule table.
func NewReductionRules() *ReductionRules {
	return &ReductionRules{}
}

// Len returns the number of rules.
func (r *ReductionRules) Len() int { return len(r.rules) }

// Get returns the substitution recorded for reduction.
func (r *ReductionRules) Get(reduction *cfg.IDSet) (*cfg.IDSet, bool) {
	if i := r.find(reduction); i >= 0 {
		return r.rules[i].substitution.Clone(), true
	}
	return nil, false
}

func (r *ReductionRules) find(reduction *cfg.IDSet) int {
	for i, x := range r.rules {
		if x.reduction.Equal(reduction) {
			return i
		}
	}
	return -1
}

// Put records that reduction is replaced by substitution. Existing rules
// whose substitution contains reduction are rewritten to use substitution
// instead, rules that would reintroduce their own reduction lose it, and
// rules left empty are dropped. The remaining substitutions are then
// reduced by the table.
func (r *ReductionRules) Put(reduction, substitution *cfg.IDSet) {
	kept := r.rules[:0]
	for _, x := range r.rules {
		rs := x.substitution
		if rs.ContainsAll(reduction) {
			rs.RemoveAll(reduction)
			rs.AddAll(substitution)
		}
		if rs.ContainsAll(x.reduction) {
			rs.RemoveAll(x.reduction)
		}
		if !rs.Empty() {
			kept = append(kept, x)
		}
	}
	for i := len(kept); i < len(r.rules); i++ {
		r.rules[i] = nil
	}
	r.rules = kept

	for _, x := range r.rules {
		r.Reduce(x.substitution)
	}

	reduction, substitution = reduction.Clone(), substitution.Clone()
	if i := r.find(reduction); i >= 0 {
		r.rules[i].substitution = substitution
		return
	}
	r.rules = append(r.rules, &rule{reduction: reduction, substitution: substitution})
}

// Reduce rewrites s in place until no rule applies and returns it. A rule
// applies when s contains its whole reduction set. Rules that rewrite each
// other in a cycle stop the reduction at the first repeated state.
func (r *ReductionRules) Reduce(s *cfg.IDSet) *cfg.IDSet {
	seen := map[string]bool{s.Key(): true}
	for changed := true; changed; {
		changed = false
		for _, x := range r.rules {
			if x.reduction.Empty() || !s.ContainsAll(x.reduction) {
				continue
			}
			s.RemoveAll(x.reduction)
			s.AddAll(x.substitution)
			key := s.Key()
			if !seen[key] {
				seen[key] = true
				changed = true
			}
		}
	}
	return s
}

func (r *ReductionRules) String() string {
	parts := make([]string, len(r.rules))
	for i, x := range r.rules {
		parts[i] = fmt.Sprintf("%s=%s", x.reduction, x.substitution)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MinimalEdgeSet is a set of branch IDs kept reduced by a rule table: every
// insertion applies the rules, so the set never holds a complete reduction
// set.
type MinimalEdgeSet struct {
	ids   *cfg.IDSet
	rules *ReductionRules
}

// NewMinimalEdgeSet returns an empty set reduced by rules.
func NewMinimalEdgeSet(rules *ReductionRules) *MinimalEdgeSet {
	return &MinimalEdgeSet{ids: cfg.NewIDSet(), rules: rules}
}

// Add inserts id and reduces the set.
func (m *MinimalEdgeSet) Add(id cfg.BranchID) {
	m.ids.Add(id)
	m.rules.Reduce(m.ids)
}

// AddAll inserts the IDs of s one at a time.
func (m *MinimalEdgeSet) AddAll(s *cfg.IDSet) {
	for _, id := range s.Slice() {
		m.Add(id)
	}
}

// Remove deletes id and reports whether it was present.
func (m *MinimalEdgeSet) Remove(id cfg.BranchID) bool {
	return m.ids.Remove(id)
}

// Contains reports whether the set holds id.
func (m *MinimalEdgeSet) Contains(id cfg.BranchID) bool {
	return m.ids.Contains(id)
}

// Len returns the number of IDs.
func (m *MinimalEdgeSet) Len() int { return m.ids.Len() }

// OnlyID returns the single ID of a set that holds exactly one.
func (m *MinimalEdgeSet) OnlyID() (int, error) {
	if m.ids.Len() != 1 {
		return 0, fmt.Errorf("set holds %d branch IDs, want exactly one", m.ids.Len())
	}
	id, _ := m.ids.First()
	return id.ID, nil
}

// Set returns a copy of the IDs.
func (m *MinimalEdgeSet) Set() *cfg.IDSet {
	return m.ids.Clone()
}

func (m *MinimalEdgeSet) String() string {
	return m.ids.String()
}
